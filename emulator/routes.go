package emulator

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/bartossh/Courier/address"
	"github.com/bartossh/Courier/transaction"
	"github.com/bartossh/Courier/wallet"
)

const (
	NodeHealthURL           = "/node/health"
	NodeInfoURL             = "/node/info"
	ChainInfoURL            = "/chain/info"
	TransactionsURL         = "/transactions"
	PartialTransactionsURL  = "/transactions/partial"
	CosignatureURL          = "/transactions/cosignature"
	TransactionStatusURL    = "/transactionStatus"
	TransactionStatusOneURL = "/transactionStatus/:hash"
	MultisigURL             = "/accounts/:address/multisig"
	MetadataURL             = "/metadata"
	WsURL                   = "/ws"
)

const (
	groupUnconfirmed = "unconfirmed"
	groupPartial     = "partial"
	groupConfirmed   = "confirmed"
	groupFailed      = "failed"

	lockHashOffset = transaction.HeaderSize + 16 + 8
)

// Announced describes a transaction received by the emulator.
type Announced struct {
	Hash      string
	Type      transaction.Type
	Payload   []byte
	Group     string
	Cosigners int
}

// MultisigAccount is the multisig state of an account, addresses are in base32 form.
type MultisigAccount struct {
	MinApproval          int      `json:"minApproval"`
	MinRemoval           int      `json:"minRemoval"`
	CosignatoryAddresses []string `json:"cosignatoryAddresses"`
	MultisigAddresses    []string `json:"multisigAddresses"`
}

// MetadataEntry is a metadata entry served by the metadata endpoint.
type MetadataEntry struct {
	CompositeHash     string `json:"compositeHash"`
	SourceAddress     string `json:"sourceAddress"`
	TargetAddress     string `json:"targetAddress"`
	ScopedMetadataKey string `json:"scopedMetadataKey"`
	TargetID          string `json:"targetId"`
	MetadataType      int    `json:"metadataType"`
	ValueSize         int    `json:"valueSize"`
	Value             string `json:"value"`
}

type record struct {
	payload   []byte
	header    transaction.Header
	signer    string
	group     string
	code      string
	polls     int
	height    uint64
	cosigners map[string]struct{}
	lockHash  string // hash locked by a hash lock transaction
}

type message struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

type announceRequest struct {
	Payload string `json:"payload"`
}

type statusRequest struct {
	Hashes []string `json:"hashes"`
}

type status struct {
	Hash     string `json:"hash"`
	Group    string `json:"group"`
	Code     string `json:"code"`
	Deadline string `json:"deadline"`
	Height   string `json:"height,omitempty"`
}

func (n *Node) routes() *fiber.App {
	router := newRouter()
	router.Get(NodeHealthURL, n.health)
	router.Get(NodeInfoURL, n.nodeInfo)
	router.Get(ChainInfoURL, n.chainInfo)
	router.Put(TransactionsURL, n.announce)
	router.Put(PartialTransactionsURL, n.announcePartial)
	router.Get(PartialTransactionsURL, n.partials)
	router.Put(CosignatureURL, n.cosignature)
	router.Post(TransactionStatusURL, n.statuses)
	router.Get(TransactionStatusOneURL, n.status)
	router.Get(MultisigURL, n.multisig)
	router.Get(MetadataURL, n.metadataEntries)
	router.Use(WsURL, func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	router.Get(WsURL, websocket.New(n.serveWs))
	return router
}

func (n *Node) health(c *fiber.Ctx) error {
	n.mux.Lock()
	api := n.cfg.APINode
	n.mux.Unlock()
	code := fiber.StatusOK
	if api != "up" {
		code = fiber.StatusServiceUnavailable
	}
	return c.Status(code).JSON(fiber.Map{"status": fiber.Map{"apiNode": api, "db": "up"}})
}

func (n *Node) nodeInfo(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"version":                   16777728,
		"publicKey":                 strings.Repeat("0", 64),
		"nodePublicKey":             strings.Repeat("0", 64),
		"networkGenerationHashSeed": hex.EncodeToString(n.network.GenerationHashSeed[:]),
		"roles":                     2,
		"port":                      7900,
		"networkIdentifier":         int(n.network.Identifier),
		"host":                      "localhost",
		"friendlyName":              Header,
	})
}

func (n *Node) chainInfo(c *fiber.Ctx) error {
	n.mux.Lock()
	h := n.height
	n.mux.Unlock()
	height := strconv.FormatUint(h, 10)
	return c.JSON(fiber.Map{
		"height":    height,
		"scoreHigh": "0",
		"scoreLow":  "1",
		"latestFinalizedBlock": fiber.Map{
			"finalizationEpoch": 1,
			"finalizationPoint": 1,
			"height":            height,
			"hash":              strings.Repeat("0", 64),
		},
	})
}

func reject(c *fiber.Ctx, code int, reason string) error {
	return c.Status(code).JSON(message{Code: "InvalidArgument", Message: reason})
}

// decodeAnnounce verifies the announced payload and returns its record with the computed hash.
func (n *Node) decodeAnnounce(c *fiber.Ctx) (*record, string, error) {
	var req announceRequest
	if err := c.BodyParser(&req); err != nil {
		return nil, "", reject(c, fiber.StatusBadRequest, "payload is not valid JSON")
	}
	payload, err := hex.DecodeString(req.Payload)
	if err != nil {
		return nil, "", reject(c, fiber.StatusBadRequest, "payload is not in hex format")
	}
	if err := wallet.NewVerifier().VerifyPayload(n.network, payload); err != nil {
		return nil, "", reject(c, fiber.StatusBadRequest, fmt.Sprintf("payload rejected: %s", err))
	}
	hdr, err := transaction.ParseHeader(payload)
	if err != nil {
		return nil, "", reject(c, fiber.StatusBadRequest, err.Error())
	}
	h, err := transaction.HashFromPayload(n.network, payload)
	if err != nil {
		return nil, "", reject(c, fiber.StatusBadRequest, err.Error())
	}
	r := &record{
		payload:   payload,
		header:    hdr,
		signer:    n.network.Address(hdr.Signer).String(),
		cosigners: make(map[string]struct{}),
	}
	if hdr.Type == transaction.TypeHashLock && len(payload) >= lockHashOffset+32 {
		r.lockHash = strings.ToUpper(hex.EncodeToString(payload[lockHashOffset : lockHashOffset+32]))
	}
	return r, h.String(), nil
}

func (n *Node) announce(c *fiber.Ctx) error {
	r, hash, err := n.decodeAnnounce(c)
	if r == nil {
		return err
	}
	if r.header.Type == transaction.TypeAggregateBonded {
		return reject(c, fiber.StatusBadRequest, "aggregate bonded transactions are announced as partial")
	}
	n.mux.Lock()
	if msg := n.cfg.RejectMessage; msg != "" {
		n.mux.Unlock()
		return reject(c, fiber.StatusBadRequest, msg)
	}
	r.group = groupUnconfirmed
	n.store(hash, r)
	n.mux.Unlock()

	n.hub.publish(channelUnconfirmedAdded, r.signer, event{Meta: eventMeta{Hash: hash}, Transaction: eventTransaction(r)})
	return c.Status(fiber.StatusAccepted).JSON(message{Message: "packet 9 was pushed to the network via " + TransactionsURL})
}

func (n *Node) announcePartial(c *fiber.Ctx) error {
	r, hash, err := n.decodeAnnounce(c)
	if r == nil {
		return err
	}
	if r.header.Type != transaction.TypeAggregateBonded {
		return reject(c, fiber.StatusBadRequest, "only aggregate bonded transactions are announced as partial")
	}
	n.mux.Lock()
	if !n.hasConfirmedLock(hash) {
		n.mux.Unlock()
		return reject(c, fiber.StatusBadRequest, "Failure_LockHash_Unknown_Hash")
	}
	r.group = groupPartial
	n.store(hash, r)
	n.mux.Unlock()

	n.hub.publish(channelPartialAdded, r.signer, event{Meta: eventMeta{Hash: hash}, Transaction: eventTransaction(r)})
	return c.Status(fiber.StatusAccepted).JSON(message{Message: "packet 256 was pushed to the network via " + PartialTransactionsURL})
}

// hasConfirmedLock reports whether a confirmed hash lock protects the hash. Call with n.mux held.
func (n *Node) hasConfirmedLock(hash string) bool {
	for _, r := range n.txs {
		if r.lockHash == hash && r.group == groupConfirmed {
			return true
		}
	}
	return false
}

func (n *Node) store(hash string, r *record) {
	if _, ok := n.txs[hash]; !ok {
		n.order = append(n.order, hash)
	}
	n.txs[hash] = r
}

func (n *Node) cosignature(c *fiber.Ctx) error {
	var cos transaction.DetachedCosignature
	if err := c.BodyParser(&cos); err != nil {
		return reject(c, fiber.StatusBadRequest, "cosignature is not valid JSON")
	}
	if err := wallet.NewVerifier().VerifyCosignature(cos); err != nil {
		return reject(c, fiber.StatusBadRequest, fmt.Sprintf("cosignature rejected: %s", err))
	}
	parent := strings.ToUpper(cos.ParentHash)

	n.mux.Lock()
	r, ok := n.txs[parent]
	if !ok || r.group != groupPartial {
		n.mux.Unlock()
		return reject(c, fiber.StatusNotFound, fmt.Sprintf("no partial transaction with hash %s", parent))
	}
	r.cosigners[strings.ToUpper(cos.SignerPublicKey)] = struct{}{}
	if len(r.cosigners) >= n.cfg.CosignaturesToConfirm {
		r.group = groupUnconfirmed
	}
	signer := r.signer
	n.mux.Unlock()

	n.hub.publish(channelCosignature, signer, cos)
	return c.Status(fiber.StatusAccepted).JSON(message{Message: "packet 257 was pushed to the network via " + CosignatureURL})
}

// advance moves the transaction through its lifecycle on every status query, n.mux must be held.
func (n *Node) advance(hash string, r *record) (status, bool) {
	if r.group == groupUnconfirmed {
		r.polls++
		if r.polls >= n.cfg.ConfirmAfterPolls {
			if n.cfg.FailureCode != "" && r.header.Type != transaction.TypeHashLock {
				r.group, r.code = groupFailed, n.cfg.FailureCode
			} else {
				n.height++
				r.group, r.code, r.height = groupConfirmed, "Success", n.height
			}
			return n.statusOf(hash, r), true
		}
	}
	return n.statusOf(hash, r), false
}

func (n *Node) statusOf(hash string, r *record) status {
	code := r.code
	if code == "" {
		code = "Success"
	}
	s := status{Hash: hash, Group: r.group, Code: code, Deadline: strconv.FormatUint(uint64(r.header.Deadline), 10)}
	if r.height > 0 {
		s.Height = strconv.FormatUint(r.height, 10)
	}
	return s
}

func (n *Node) finalEvent(s status, r *record) {
	if s.Group == groupConfirmed {
		n.hub.publish(channelConfirmedAdded, r.signer, event{Meta: eventMeta{Hash: s.Hash, Height: s.Height}, Transaction: eventTransaction(r)})
		return
	}
	n.hub.publish(channelStatus, r.signer, s)
}

func (n *Node) statuses(c *fiber.Ctx) error {
	var req statusRequest
	if err := c.BodyParser(&req); err != nil {
		return reject(c, fiber.StatusBadRequest, "request is not valid JSON")
	}
	out := make([]status, 0, len(req.Hashes))
	type final struct {
		s status
		r *record
	}
	var finals []final
	n.mux.Lock()
	for _, h := range req.Hashes {
		h = strings.ToUpper(h)
		r, ok := n.txs[h]
		if !ok {
			continue
		}
		s, changed := n.advance(h, r)
		if changed {
			finals = append(finals, final{s, r})
		}
		out = append(out, s)
	}
	n.mux.Unlock()

	for _, f := range finals {
		n.finalEvent(f.s, f.r)
	}
	return c.JSON(out)
}

func (n *Node) status(c *fiber.Ctx) error {
	h := strings.ToUpper(c.Params("hash"))
	n.mux.Lock()
	r, ok := n.txs[h]
	if !ok {
		n.mux.Unlock()
		return c.Status(fiber.StatusNotFound).JSON(message{Code: "ResourceNotFound", Message: "no resource exists with id '" + h + "'"})
	}
	s, changed := n.advance(h, r)
	n.mux.Unlock()
	if changed {
		n.finalEvent(s, r)
	}
	return c.JSON(s)
}

func (n *Node) multisig(c *fiber.Ctx) error {
	addr := strings.ToUpper(c.Params("address"))
	n.mux.Lock()
	acc, ok := n.accounts[addr]
	n.mux.Unlock()
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(message{Code: "ResourceNotFound", Message: "no resource exists with id '" + addr + "'"})
	}
	a, err := address.Decode(addr)
	if err != nil {
		return reject(c, fiber.StatusBadRequest, err.Error())
	}
	return c.JSON(fiber.Map{"multisig": fiber.Map{
		"version":              1,
		"accountAddress":       a.Hex(),
		"minApproval":          acc.MinApproval,
		"minRemoval":           acc.MinRemoval,
		"cosignatoryAddresses": hexAddresses(acc.CosignatoryAddresses),
		"multisigAddresses":    hexAddresses(acc.MultisigAddresses),
	}})
}

func hexAddresses(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if a, err := address.Decode(s); err == nil {
			out = append(out, a.Hex())
		}
	}
	return out
}

type partialCosignature struct {
	SignerPublicKey string `json:"signerPublicKey"`
}

func (n *Node) partials(c *fiber.Ctx) error {
	addr := strings.ToUpper(c.Query("address"))
	n.mux.Lock()
	defer n.mux.Unlock()
	data := make([]fiber.Map, 0)
	for _, h := range n.order {
		r := n.txs[h]
		if r.group != groupPartial {
			continue
		}
		if addr != "" && addr != r.signer && !n.cosignerOf(addr, r.signer) {
			continue
		}
		cos := make([]partialCosignature, 0, len(r.cosigners))
		for k := range r.cosigners {
			cos = append(cos, partialCosignature{SignerPublicKey: k})
		}
		tx := eventTransaction(r)
		data = append(data, fiber.Map{
			"meta": fiber.Map{"hash": h, "merkleComponentHash": h},
			"transaction": fiber.Map{
				"signerPublicKey": tx.SignerPublicKey,
				"type":            tx.Type,
				"network":         tx.Network,
				"maxFee":          tx.MaxFee,
				"deadline":        tx.Deadline,
				"cosignatures":    cos,
			},
		})
	}
	return c.JSON(fiber.Map{"data": data})
}

// cosignerOf reports whether the address cosigns for the multisig address, n.mux must be held.
func (n *Node) cosignerOf(addr, multisig string) bool {
	acc, ok := n.accounts[multisig]
	if !ok {
		return false
	}
	for _, a := range acc.CosignatoryAddresses {
		if strings.EqualFold(a, addr) {
			return true
		}
	}
	return false
}

func (n *Node) metadataEntries(c *fiber.Ctx) error {
	source := strings.ToUpper(c.Query("sourceAddress"))
	target := strings.ToUpper(c.Query("targetAddress"))
	targetID := strings.ToUpper(c.Query("targetId"))
	key := strings.ToUpper(c.Query("scopedMetadataKey"))
	typ := c.Query("metadataType")

	n.mux.Lock()
	defer n.mux.Unlock()
	data := make([]fiber.Map, 0)
	for _, e := range n.metadata {
		switch {
		case source != "" && !strings.EqualFold(e.SourceAddress, source):
		case target != "" && !strings.EqualFold(e.TargetAddress, target):
		case targetID != "" && !strings.EqualFold(e.TargetID, targetID):
		case key != "" && !strings.EqualFold(e.ScopedMetadataKey, key):
		case typ != "" && typ != strconv.Itoa(e.MetadataType):
		default:
			data = append(data, fiber.Map{"id": e.CompositeHash, "metadataEntry": e})
		}
	}
	return c.JSON(fiber.Map{"data": data, "pagination": fiber.Map{"pageNumber": 1, "pageSize": 10}})
}
