package txmanager

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/bartossh/Courier/address"
	"github.com/bartossh/Courier/normalizer"
	"github.com/bartossh/Courier/transaction"
)

const MetadataPath = "/metadata"

var ErrNamespaceDepth = errors.New("namespace can have at most three levels")

func randomNonce() (uint32, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

// LinkHarvesting links the remote account public key for delegated harvesting.
func (m *Manager) LinkHarvesting(ctx context.Context, remotePublicKey string) (AnnounceResult, error) {
	key, err := transaction.ParsePublicKey(remotePublicKey)
	if err != nil {
		return AnnounceResult{}, &normalizer.ValidationError{Field: "remote_public_key", Reason: err.Error()}
	}
	return m.announceBody(ctx, transaction.AccountKeyLink{LinkedPublicKey: key, Action: transaction.Link})
}

// UnlinkHarvesting removes the link of the remote account key.
// An empty linkedPublicKey unlinks the signer own public key.
func (m *Manager) UnlinkHarvesting(ctx context.Context, linkedPublicKey string) (AnnounceResult, error) {
	var key transaction.PublicKey
	var err error
	if strings.TrimSpace(linkedPublicKey) == "" {
		key, err = m.signerKey()
	} else {
		key, err = transaction.ParsePublicKey(linkedPublicKey)
	}
	if err != nil {
		return AnnounceResult{}, err
	}
	return m.announceBody(ctx, transaction.AccountKeyLink{LinkedPublicKey: key, Action: transaction.Unlink})
}

func (m *Manager) announceBody(ctx context.Context, body transaction.Body) (AnnounceResult, error) {
	tx, err := m.NewTransaction(body, 0)
	if err != nil {
		return AnnounceResult{}, err
	}
	return m.SignAndAnnounce(ctx, tx)
}

func (m *Manager) announceAggregate(ctx context.Context, bodies ...transaction.Body) (AnnounceResult, error) {
	tx, err := m.NewAggregate(bodies...)
	if err != nil {
		return AnnounceResult{}, err
	}
	return m.SignAndAnnounce(ctx, tx)
}

// MosaicRequest describes a new mosaic.
type MosaicRequest struct {
	Supply        uint64 `json:"supply"`
	Divisibility  uint8  `json:"divisibility"`
	Duration      uint64 `json:"duration"` // blocks, zero means eternal
	Transferable  bool   `json:"transferable"`
	SupplyMutable bool   `json:"supply_mutable"`
	Restrictable  bool   `json:"restrictable"`
	Revokable     bool   `json:"revokable"`
}

// Flags returns the mosaic definition flags.
func (r MosaicRequest) Flags() transaction.MosaicFlags {
	var f transaction.MosaicFlags
	if r.SupplyMutable {
		f |= transaction.MosaicSupplyMutable
	}
	if r.Transferable {
		f |= transaction.MosaicTransferable
	}
	if r.Restrictable {
		f |= transaction.MosaicRestrictable
	}
	if r.Revokable {
		f |= transaction.MosaicRevokable
	}
	return f
}

// MosaicResult is the announce result with the id of the created mosaic.
type MosaicResult struct {
	AnnounceResult
	MosaicID string `json:"mosaic_id"`
}

// CreateMosaic defines a mosaic and mints its initial supply in one aggregate transaction.
func (m *Manager) CreateMosaic(ctx context.Context, req MosaicRequest) (MosaicResult, error) {
	if req.Supply == 0 {
		return MosaicResult{}, &normalizer.ValidationError{Field: "supply", Reason: "supply must be positive"}
	}
	if req.Divisibility > 6 {
		return MosaicResult{}, &normalizer.ValidationError{Field: "divisibility", Reason: "divisibility must be between 0 and 6"}
	}
	if m.signer == nil {
		return MosaicResult{}, ErrSignerUnavailable
	}
	owner, err := m.signer.Address()
	if err != nil {
		return MosaicResult{}, err
	}
	nonce, err := m.nonce()
	if err != nil {
		return MosaicResult{}, err
	}
	id := transaction.MosaicID(owner, nonce)
	res, err := m.announceAggregate(ctx,
		transaction.MosaicDefinition{ID: id, Duration: req.Duration, Nonce: nonce, Flags: req.Flags(), Divisibility: req.Divisibility},
		transaction.MosaicSupplyChange{MosaicID: id, Delta: req.Supply, Action: transaction.SupplyIncrease},
	)
	if err != nil {
		return MosaicResult{}, err
	}
	m.logInfo(fmt.Sprintf("mosaic %016X creation sent, supply %d", id, req.Supply))
	return MosaicResult{AnnounceResult: res, MosaicID: fmt.Sprintf("%016X", id)}, nil
}

// RegisterRootNamespace registers root namespace for the number of days.
func (m *Manager) RegisterRootNamespace(ctx context.Context, name string, days int) (AnnounceResult, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if err := normalizer.ValidateNamespaceName(name); err != nil {
		return AnnounceResult{}, err
	}
	blocks, err := normalizer.ValidateDuration(days)
	if err != nil {
		return AnnounceResult{}, err
	}
	return m.announceBody(ctx, transaction.NamespaceRegistration{
		ID:       transaction.NamespaceID(name, 0),
		Duration: blocks,
		Name:     name,
	})
}

// RegisterChildNamespace registers the name under the dotted parent namespace.
func (m *Manager) RegisterChildNamespace(ctx context.Context, parent, name string) (AnnounceResult, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if err := normalizer.ValidateNamespaceName(name); err != nil {
		return AnnounceResult{}, err
	}
	levels, err := normalizer.ValidateFullNamespaceName(parent)
	if err != nil {
		return AnnounceResult{}, err
	}
	if len(levels) >= normalizer.NamespaceMaxDepth {
		return AnnounceResult{}, ErrNamespaceDepth
	}
	parentID, err := namespaceID(strings.Join(levels, "."))
	if err != nil {
		return AnnounceResult{}, err
	}
	return m.announceBody(ctx, transaction.NamespaceRegistration{
		ID:       transaction.NamespaceID(name, parentID),
		ParentID: parentID,
		Name:     name,
	})
}

func namespaceID(full string) (uint64, error) {
	path, err := transaction.NamespacePath(full)
	if err != nil {
		return 0, err
	}
	return path[len(path)-1], nil
}

// LinkAddressAlias links or unlinks the namespace and the address.
func (m *Manager) LinkAddressAlias(ctx context.Context, namespace, addr string, link bool) (AnnounceResult, error) {
	levels, err := normalizer.ValidateFullNamespaceName(namespace)
	if err != nil {
		return AnnounceResult{}, err
	}
	id, err := namespaceID(strings.Join(levels, "."))
	if err != nil {
		return AnnounceResult{}, err
	}
	normalized, err := normalizer.RequireNetworkPrefix(addr, m.network.Identifier.Prefix())
	if err != nil {
		return AnnounceResult{}, err
	}
	a, err := address.Decode(normalized)
	if err != nil {
		return AnnounceResult{}, &normalizer.ValidationError{Field: "address", Reason: err.Error()}
	}
	return m.announceBody(ctx, transaction.AddressAlias{NamespaceID: id, Address: a, Action: linkAction(link)})
}

// LinkMosaicAlias links or unlinks the namespace and the mosaic.
func (m *Manager) LinkMosaicAlias(ctx context.Context, namespace string, mosaicID any, link bool) (AnnounceResult, error) {
	levels, err := normalizer.ValidateFullNamespaceName(namespace)
	if err != nil {
		return AnnounceResult{}, err
	}
	id, err := namespaceID(strings.Join(levels, "."))
	if err != nil {
		return AnnounceResult{}, err
	}
	mid, err := normalizer.NormalizeMosaicID(mosaicID)
	if err != nil {
		return AnnounceResult{}, err
	}
	return m.announceBody(ctx, transaction.MosaicAlias{NamespaceID: id, MosaicID: mid, Action: linkAction(link)})
}

func linkAction(link bool) transaction.LinkAction {
	if link {
		return transaction.Link
	}
	return transaction.Unlink
}

// MetadataRequest assigns the value under the key to the signer account, or to the signer
// owned mosaic or namespace.
type MetadataRequest struct {
	Target   transaction.MetadataTarget `json:"target"`
	TargetID uint64                     `json:"target_id"` // mosaic or namespace id
	Key      string                     `json:"key"`
	Value    string                     `json:"value"`
}

// MetadataEntry is the metadata entry stored on chain.
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

type metadataPage struct {
	Data []struct {
		MetadataEntry MetadataEntry `json:"metadataEntry"`
	} `json:"data"`
}

// FetchMetadata returns the metadata entry the signer assigned under the key, nil when there is none.
func (m *Manager) FetchMetadata(ctx context.Context, target transaction.MetadataTarget, targetID uint64, key uint64) (*MetadataEntry, error) {
	source, err := m.signerAddress()
	if err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("sourceAddress", source.String())
	q.Set("scopedMetadataKey", fmt.Sprintf("%016X", key))
	q.Set("metadataType", fmt.Sprint(uint8(target)))
	if target == transaction.MetadataAccount {
		q.Set("targetAddress", source.String())
	} else {
		q.Set("targetId", fmt.Sprintf("%016X", targetID))
	}
	var page metadataPage
	found, err := m.client.GetOptional(ctx, MetadataPath+"?"+q.Encode(), &page)
	if err != nil || !found || len(page.Data) == 0 {
		return nil, err
	}
	e := page.Data[0].MetadataEntry
	return &e, nil
}

// MetadataDelta returns xor of previous and new value and the change of value size.
func MetadataDelta(previous, value []byte) ([]byte, int16) {
	n := len(previous)
	if len(value) > n {
		n = len(value)
	}
	out := make([]byte, n)
	for i := range out {
		var a, b byte
		if i < len(previous) {
			a = previous[i]
		}
		if i < len(value) {
			b = value[i]
		}
		out[i] = a ^ b
	}
	return out, int16(len(value) - len(previous))
}

// AssignMetadata sets the metadata value replacing the current one.
func (m *Manager) AssignMetadata(ctx context.Context, req MetadataRequest) (AnnounceResult, error) {
	if err := normalizer.ValidateMetadataKey(req.Key); err != nil {
		return AnnounceResult{}, err
	}
	if err := normalizer.ValidateMetadataValue(req.Value); err != nil {
		return AnnounceResult{}, err
	}
	if req.Target != transaction.MetadataAccount && req.TargetID == 0 {
		return AnnounceResult{}, &normalizer.ValidationError{Field: "target_id", Reason: "mosaic or namespace id is required"}
	}
	owner, err := m.signerAddress()
	if err != nil {
		return AnnounceResult{}, err
	}
	key := transaction.MetadataKey(req.Key)
	current, err := m.FetchMetadata(ctx, req.Target, req.TargetID, key)
	if err != nil {
		return AnnounceResult{}, err
	}
	var previous []byte
	if current != nil {
		previous, err = hex.DecodeString(current.Value)
		if err != nil {
			return AnnounceResult{}, fmt.Errorf("metadata value from the node is not hex: %w", err)
		}
	}
	value, sizeDelta := MetadataDelta(previous, []byte(req.Value))
	res, err := m.announceAggregate(ctx, transaction.Metadata{
		Target:         req.Target,
		TargetAddress:  owner,
		TargetID:       req.TargetID,
		Key:            key,
		ValueSizeDelta: sizeDelta,
		Value:          value,
	})
	if err != nil {
		return AnnounceResult{}, err
	}
	m.logInfo(fmt.Sprintf("%s metadata %q assignment sent", req.Target, req.Key))
	return res, nil
}

func (m *Manager) signerAddress() (address.Address, error) {
	if m.signer == nil {
		return address.Address{}, ErrSignerUnavailable
	}
	return m.signer.Address()
}
