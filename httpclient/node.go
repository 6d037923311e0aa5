package httpclient

import (
	"context"
	"errors"
	"fmt"
)

// Node REST API paths.
const (
	NodeHealthPath = "/node/health"
	NodeInfoPath   = "/node/info"
	ChainInfoPath  = "/chain/info"
)

var ErrNodeUnhealthy = errors.New("node unhealthy")

// NodeHealth is the answer of the node health endpoint.
type NodeHealth struct {
	Status struct {
		APINode string `json:"apiNode"`
		DB      string `json:"db"`
	} `json:"status"`
}

// Healthy reports whether the API node is up.
func (h NodeHealth) Healthy() bool {
	return h.Status.APINode == "up"
}

// Describe returns short description of unhealthy node.
func (h NodeHealth) Describe() string {
	api, db := h.Status.APINode, h.Status.DB
	if api == "" {
		api = "down"
	}
	if db == "" {
		db = "unknown"
	}
	return fmt.Sprintf("Node unhealthy: apiNode=%s, dbNode=%s", api, db)
}

// NodeInfo is the answer of the node info endpoint.
type NodeInfo struct {
	Version                   int64  `json:"version"`
	PublicKey                 string `json:"publicKey"`
	NodePublicKey             string `json:"nodePublicKey"`
	NetworkGenerationHashSeed string `json:"networkGenerationHashSeed"`
	Roles                     int    `json:"roles"`
	Port                      int    `json:"port"`
	NetworkIdentifier         int    `json:"networkIdentifier"`
	Host                      string `json:"host"`
	FriendlyName              string `json:"friendlyName"`
}

// ChainInfo is the answer of the chain info endpoint.
type ChainInfo struct {
	Height               string `json:"height"`
	ScoreHigh            string `json:"scoreHigh"`
	ScoreLow             string `json:"scoreLow"`
	LatestFinalizedBlock struct {
		FinalizationEpoch int64  `json:"finalizationEpoch"`
		FinalizationPoint int64  `json:"finalizationPoint"`
		Height            string `json:"height"`
		Hash              string `json:"hash"`
	} `json:"latestFinalizedBlock"`
}

// NodeHealth reads node health.
func (c *Client) NodeHealth(ctx context.Context) (NodeHealth, error) {
	var h NodeHealth
	err := c.Get(ctx, NodeHealthPath, &h)
	return h, err
}

// NodeInfo reads node info.
func (c *Client) NodeInfo(ctx context.Context) (NodeInfo, error) {
	var i NodeInfo
	err := c.Get(ctx, NodeInfoPath, &i)
	return i, err
}

// ChainInfo reads chain info.
func (c *Client) ChainInfo(ctx context.Context) (ChainInfo, error) {
	var i ChainInfo
	err := c.Get(ctx, ChainInfoPath, &i)
	return i, err
}

// TestConnection checks node health and returns node info of a healthy node.
func (c *Client) TestConnection(ctx context.Context) (NodeInfo, error) {
	h, err := c.NodeHealth(ctx)
	if err != nil {
		return NodeInfo{}, err
	}
	if !h.Healthy() {
		return NodeInfo{}, errors.Join(ErrNodeUnhealthy, errors.New(h.Describe()))
	}
	return c.NodeInfo(ctx)
}
