package transaction

import (
	"encoding/binary"

	"github.com/bartossh/Courier/address"
)

// Type is the chain transaction type code.
type Type uint16

const (
	TypeTransfer                    Type = 0x4154
	TypeAccountKeyLink              Type = 0x414C
	TypeMosaicDefinition            Type = 0x414D
	TypeMosaicSupplyChange          Type = 0x424D
	TypeNamespaceRegistration       Type = 0x414E
	TypeAddressAlias                Type = 0x424E
	TypeMosaicAlias                 Type = 0x434E
	TypeAccountMetadata             Type = 0x4144
	TypeMosaicMetadata              Type = 0x4244
	TypeNamespaceMetadata           Type = 0x4344
	TypeMultisigAccountModification Type = 0x4155
	TypeAggregateComplete           Type = 0x4141
	TypeAggregateBonded             Type = 0x4241
	TypeHashLock                    Type = 0x4148
)

var typeNames = map[Type]string{
	TypeTransfer:                    "transfer",
	TypeAccountKeyLink:              "account_key_link",
	TypeMosaicDefinition:            "mosaic_definition",
	TypeMosaicSupplyChange:          "mosaic_supply_change",
	TypeNamespaceRegistration:       "namespace_registration",
	TypeAddressAlias:                "address_alias",
	TypeMosaicAlias:                 "mosaic_alias",
	TypeAccountMetadata:             "account_metadata",
	TypeMosaicMetadata:              "mosaic_metadata",
	TypeNamespaceMetadata:           "namespace_metadata",
	TypeMultisigAccountModification: "multisig_account_modification",
	TypeAggregateComplete:           "aggregate_complete",
	TypeAggregateBonded:             "aggregate_bonded",
	TypeHashLock:                    "hash_lock",
}

func (t Type) String() string {
	if n, ok := typeNames[t]; ok {
		return n
	}
	return "unknown"
}

// IsAggregate reports whether type is one of the aggregate types.
func (t Type) IsAggregate() bool {
	return t == TypeAggregateComplete || t == TypeAggregateBonded
}

// Body is the type specific part of a transaction.
type Body interface {
	Type() Type
	Version() uint8
	Size() int
	appendTo(b []byte) []byte
}

// Mosaic is a mosaic id with the amount in atomic units.
type Mosaic struct {
	ID     uint64
	Amount uint64
}

const mosaicSize = 16

func appendMosaic(b []byte, m Mosaic) []byte {
	b = binary.LittleEndian.AppendUint64(b, m.ID)
	return binary.LittleEndian.AppendUint64(b, m.Amount)
}

// Transfer moves mosaics to the recipient with an optional plain message.
type Transfer struct {
	Recipient address.Address
	Mosaics   []Mosaic // expected sorted by id
	Message   string
}

func (Transfer) Type() Type     { return TypeTransfer }
func (Transfer) Version() uint8 { return 1 }

func (t Transfer) messageSize() int {
	if t.Message == "" {
		return 0
	}
	return 1 + len(t.Message) // plain message marker
}

func (t Transfer) Size() int {
	return address.Size + 2 + 1 + 1 + 4 + mosaicSize*len(t.Mosaics) + t.messageSize()
}

func (t Transfer) appendTo(b []byte) []byte {
	b = append(b, t.Recipient[:]...)
	b = binary.LittleEndian.AppendUint16(b, uint16(t.messageSize()))
	b = append(b, byte(len(t.Mosaics)), 0)
	b = binary.LittleEndian.AppendUint32(b, 0)
	for _, m := range t.Mosaics {
		b = appendMosaic(b, m)
	}
	if t.Message != "" {
		b = append(b, 0x00)
		b = append(b, t.Message...)
	}
	return b
}

// LinkAction tells whether the link is created or removed.
type LinkAction uint8

const (
	Unlink LinkAction = 0
	Link   LinkAction = 1
)

// AccountKeyLink links a remote account key used for delegated harvesting.
type AccountKeyLink struct {
	LinkedPublicKey PublicKey
	Action          LinkAction
}

func (AccountKeyLink) Type() Type     { return TypeAccountKeyLink }
func (AccountKeyLink) Version() uint8 { return 1 }
func (AccountKeyLink) Size() int      { return 32 + 1 }

func (l AccountKeyLink) appendTo(b []byte) []byte {
	b = append(b, l.LinkedPublicKey[:]...)
	return append(b, byte(l.Action))
}

// MosaicFlags are the mosaic definition properties.
type MosaicFlags uint8

const (
	MosaicSupplyMutable MosaicFlags = 1 << iota
	MosaicTransferable
	MosaicRestrictable
	MosaicRevokable
)

// MosaicDefinition creates a mosaic with given properties.
type MosaicDefinition struct {
	ID           uint64
	Duration     uint64 // blocks, zero means eternal
	Nonce        uint32
	Flags        MosaicFlags
	Divisibility uint8
}

func (MosaicDefinition) Type() Type     { return TypeMosaicDefinition }
func (MosaicDefinition) Version() uint8 { return 1 }
func (MosaicDefinition) Size() int      { return 8 + 8 + 4 + 1 + 1 }

func (d MosaicDefinition) appendTo(b []byte) []byte {
	b = binary.LittleEndian.AppendUint64(b, d.ID)
	b = binary.LittleEndian.AppendUint64(b, d.Duration)
	b = binary.LittleEndian.AppendUint32(b, d.Nonce)
	return append(b, byte(d.Flags), d.Divisibility)
}

// SupplyAction tells whether supply is increased or decreased.
type SupplyAction uint8

const (
	SupplyDecrease SupplyAction = 0
	SupplyIncrease SupplyAction = 1
)

// MosaicSupplyChange changes the supply of an owned mosaic.
type MosaicSupplyChange struct {
	MosaicID uint64
	Delta    uint64
	Action   SupplyAction
}

func (MosaicSupplyChange) Type() Type     { return TypeMosaicSupplyChange }
func (MosaicSupplyChange) Version() uint8 { return 1 }
func (MosaicSupplyChange) Size() int      { return 8 + 8 + 1 }

func (s MosaicSupplyChange) appendTo(b []byte) []byte {
	b = binary.LittleEndian.AppendUint64(b, s.MosaicID)
	b = binary.LittleEndian.AppendUint64(b, s.Delta)
	return append(b, byte(s.Action))
}

// NamespaceRegistration registers a root namespace when ParentID is zero
// or a child namespace of ParentID otherwise.
type NamespaceRegistration struct {
	ID       uint64
	ParentID uint64
	Duration uint64 // blocks, root namespaces only
	Name     string
}

func (NamespaceRegistration) Type() Type     { return TypeNamespaceRegistration }
func (NamespaceRegistration) Version() uint8 { return 1 }

// IsRoot reports whether registration is for the root namespace.
func (n NamespaceRegistration) IsRoot() bool { return n.ParentID == 0 }

func (n NamespaceRegistration) Size() int { return 8 + 8 + 1 + 1 + len(n.Name) }

func (n NamespaceRegistration) appendTo(b []byte) []byte {
	if n.IsRoot() {
		b = binary.LittleEndian.AppendUint64(b, n.Duration)
	} else {
		b = binary.LittleEndian.AppendUint64(b, n.ParentID)
	}
	b = binary.LittleEndian.AppendUint64(b, n.ID)
	registration := byte(0)
	if !n.IsRoot() {
		registration = 1
	}
	b = append(b, registration, byte(len(n.Name)))
	return append(b, n.Name...)
}

// AddressAlias links namespace to an address.
type AddressAlias struct {
	NamespaceID uint64
	Address     address.Address
	Action      LinkAction
}

func (AddressAlias) Type() Type     { return TypeAddressAlias }
func (AddressAlias) Version() uint8 { return 1 }
func (AddressAlias) Size() int      { return 8 + address.Size + 1 }

func (a AddressAlias) appendTo(b []byte) []byte {
	b = binary.LittleEndian.AppendUint64(b, a.NamespaceID)
	b = append(b, a.Address[:]...)
	return append(b, byte(a.Action))
}

// MosaicAlias links namespace to a mosaic.
type MosaicAlias struct {
	NamespaceID uint64
	MosaicID    uint64
	Action      LinkAction
}

func (MosaicAlias) Type() Type     { return TypeMosaicAlias }
func (MosaicAlias) Version() uint8 { return 1 }
func (MosaicAlias) Size() int      { return 8 + 8 + 1 }

func (a MosaicAlias) appendTo(b []byte) []byte {
	b = binary.LittleEndian.AppendUint64(b, a.NamespaceID)
	b = binary.LittleEndian.AppendUint64(b, a.MosaicID)
	return append(b, byte(a.Action))
}

// MetadataTarget selects what the metadata entry is attached to.
type MetadataTarget uint8

const (
	MetadataAccount MetadataTarget = iota
	MetadataMosaic
	MetadataNamespace
)

func (m MetadataTarget) String() string {
	switch m {
	case MetadataMosaic:
		return "mosaic"
	case MetadataNamespace:
		return "namespace"
	default:
		return "account"
	}
}

// Metadata sets a metadata entry. Value holds the xor delta between the
// previous and the new value, ValueSizeDelta the change of the value length.
type Metadata struct {
	Target         MetadataTarget
	TargetAddress  address.Address
	TargetID       uint64 // mosaic or namespace id, ignored for account metadata
	Key            uint64
	ValueSizeDelta int16
	Value          []byte
}

func (m Metadata) Type() Type {
	switch m.Target {
	case MetadataMosaic:
		return TypeMosaicMetadata
	case MetadataNamespace:
		return TypeNamespaceMetadata
	default:
		return TypeAccountMetadata
	}
}

func (Metadata) Version() uint8 { return 1 }

func (m Metadata) Size() int {
	s := address.Size + 8 + 2 + 2 + len(m.Value)
	if m.Target != MetadataAccount {
		s += 8
	}
	return s
}

func (m Metadata) appendTo(b []byte) []byte {
	b = append(b, m.TargetAddress[:]...)
	b = binary.LittleEndian.AppendUint64(b, m.Key)
	if m.Target != MetadataAccount {
		b = binary.LittleEndian.AppendUint64(b, m.TargetID)
	}
	b = binary.LittleEndian.AppendUint16(b, uint16(m.ValueSizeDelta))
	b = binary.LittleEndian.AppendUint16(b, uint16(len(m.Value)))
	return append(b, m.Value...)
}

// MultisigModification changes multisig thresholds by deltas and the set of cosignatories.
type MultisigModification struct {
	MinRemovalDelta  int8
	MinApprovalDelta int8
	Additions        []address.Address
	Deletions        []address.Address
}

func (MultisigModification) Type() Type     { return TypeMultisigAccountModification }
func (MultisigModification) Version() uint8 { return 1 }

func (m MultisigModification) Size() int {
	return 1 + 1 + 1 + 1 + 4 + address.Size*(len(m.Additions)+len(m.Deletions))
}

func (m MultisigModification) appendTo(b []byte) []byte {
	b = append(b, byte(m.MinRemovalDelta), byte(m.MinApprovalDelta), byte(len(m.Additions)), byte(len(m.Deletions)))
	b = binary.LittleEndian.AppendUint32(b, 0)
	for _, a := range m.Additions {
		b = append(b, a[:]...)
	}
	for _, a := range m.Deletions {
		b = append(b, a[:]...)
	}
	return b
}

// HashLock locks funds for the aggregate bonded transaction with given hash.
type HashLock struct {
	Mosaic   Mosaic
	Duration uint64
	Hash     Hash
}

func (HashLock) Type() Type     { return TypeHashLock }
func (HashLock) Version() uint8 { return 1 }
func (HashLock) Size() int      { return mosaicSize + 8 + 32 }

func (h HashLock) appendTo(b []byte) []byte {
	b = appendMosaic(b, h.Mosaic)
	b = binary.LittleEndian.AppendUint64(b, h.Duration)
	return append(b, h.Hash[:]...)
}
