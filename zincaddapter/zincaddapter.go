package zincaddapter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bartossh/Courier/httpclient"
)

const (
	healthz              = "/healthz"
	createDocumentWithID = "/api/%s/_doc"
)

const timeout = time.Second * 5

var (
	ErrZincServerNotResponding = errors.New("zinc server not responding on given address")
	ErrZincServerWriteFailed   = errors.New("zinc server write failed")
	ErrEmptyAddress            = errors.New("zinc server address is empty")
)

// Config contains configuration for logger back-end.
type Config struct {
	Address string `yaml:"address"` // logger back-end server address
	Index   string `yaml:"index"`   // unique index per service to easy search for logs by the service
	Token   string `yaml:"token"`   // authorization header value
}

type message struct {
	AdditionalProp1 struct {
		Message string `json:"message"`
	} `json:"additionalProp1"`
}

// ZincClient provides a client that sends logs to the zincsearch backend.
// ZincClient implements io.Writer.
type ZincClient struct {
	index  string
	client *httpclient.Client
}

// New creates a new ZincClient verifying the server is healthy.
func New(cfg Config, opts ...httpclient.Option) (*ZincClient, error) {
	if cfg.Address == "" {
		return nil, ErrEmptyAddress
	}
	hcfg := httpclient.DefaultConfig(cfg.Address)
	hcfg.Timeouts.Read = timeout
	hcfg.Timeouts.Operation = timeout
	hcfg.Retry.MaxRetries = 0
	if cfg.Token != "" {
		opts = append(opts, httpclient.WithHeader("Authorization", cfg.Token))
	}
	// logs of the http client itself are not shipped to avoid write loops
	c := httpclient.New(hcfg, nil, opts...)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := c.Get(ctx, healthz, nil); err != nil {
		return nil, errors.Join(ErrZincServerNotResponding, err)
	}
	return &ZincClient{index: cfg.Index, client: c}, nil
}

// Write satisfies io.Writer abstraction.
func (z *ZincClient) Write(p []byte) (n int, err error) {
	var msg message
	msg.AdditionalProp1.Message = string(p)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := z.client.Post(ctx, fmt.Sprintf(createDocumentWithID, z.index), msg, nil); err != nil {
		return 0, errors.Join(ErrZincServerWriteFailed, err)
	}
	return len(p), nil
}
