package transaction

import (
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/crypto/sha3"
)

const (
	HeaderSize         = 128 // size, reserved, signature, signer, reserved, version, network, type, fee, deadline
	EmbeddedHeaderSize = 48  // size, reserved, signer, reserved, version, network, type

	signatureOffset = 8
	signerOffset    = 72
	verifiedOffset  = 108
	typeOffset      = 110
	feeOffset       = 112
	deadlineOffset  = 120

	aggregateVerifiedSize = 52 // version, network, type, fee, deadline, transactions hash
)

var (
	ErrMissingBody       = errors.New("transaction has no body")
	ErrPayloadTooShort   = errors.New("payload is shorter than transaction header")
	ErrPayloadSize       = errors.New("payload size does not match its header")
	ErrNetworkMismatch   = errors.New("payload network does not match the network")
	ErrUnsignedPayload   = errors.New("transaction is not signed")
	ErrCosignatureSigner = errors.New("cosignature signer is already present")
)

// Transaction is a top level transaction ready to be signed and announced.
type Transaction struct {
	Network   Network
	Signer    PublicKey
	Fee       uint64
	Deadline  Deadline
	Signature Signature
	Body      Body
}

// Signed is a signed transaction payload together with its hash.
type Signed struct {
	Hash    Hash
	Payload []byte
	Type    Type
}

// PayloadHex returns upper case hex encoded payload as the node expects it.
func (s Signed) PayloadHex() string {
	return upperHex(s.Payload)
}

// Size returns the serialized size of the transaction in bytes.
func (t *Transaction) Size() int {
	if t.Body == nil {
		return HeaderSize
	}
	return HeaderSize + t.Body.Size()
}

// Serialize encodes transaction in to the chain binary layout.
func (t *Transaction) Serialize() ([]byte, error) {
	if t.Body == nil {
		return nil, ErrMissingBody
	}
	size := t.Size()
	b := make([]byte, 0, size)
	b = binary.LittleEndian.AppendUint32(b, uint32(size))
	b = binary.LittleEndian.AppendUint32(b, 0)
	b = append(b, t.Signature[:]...)
	b = append(b, t.Signer[:]...)
	b = binary.LittleEndian.AppendUint32(b, 0)
	b = append(b, t.Body.Version(), byte(t.Network.Identifier))
	b = binary.LittleEndian.AppendUint16(b, uint16(t.Body.Type()))
	b = binary.LittleEndian.AppendUint64(b, t.Fee)
	b = binary.LittleEndian.AppendUint64(b, uint64(t.Deadline))
	b = t.Body.appendTo(b)
	if len(b) != size {
		return nil, fmt.Errorf("serialized %d bytes, expected %d", len(b), size)
	}
	return b, nil
}

// SigningPayload returns data the transaction signer signs: the network
// generation hash seed followed by the verifiable part of the transaction.
func (t *Transaction) SigningPayload() ([]byte, error) {
	raw, err := t.Serialize()
	if err != nil {
		return nil, err
	}
	data := verifiableData(raw)
	out := make([]byte, 0, 32+len(data))
	out = append(out, t.Network.GenerationHashSeed[:]...)
	return append(out, data...), nil
}

// AttachSignature sets the signature and returns the signed payload with its hash.
func (t *Transaction) AttachSignature(sig Signature) (Signed, error) {
	t.Signature = sig
	return t.Signed()
}

// Signed returns the current payload and the hash derived from it.
// For aggregates the payload carries the cosignatures added so far.
func (t *Transaction) Signed() (Signed, error) {
	if t.Signature == (Signature{}) {
		return Signed{}, ErrUnsignedPayload
	}
	raw, err := t.Serialize()
	if err != nil {
		return Signed{}, err
	}
	h, err := HashFromPayload(t.Network, raw)
	if err != nil {
		return Signed{}, err
	}
	return Signed{Hash: h, Payload: raw, Type: t.Body.Type()}, nil
}

// Hash computes the hash of the signed transaction.
func (t *Transaction) Hash() (Hash, error) {
	s, err := t.Signed()
	if err != nil {
		return Hash{}, err
	}
	return s.Hash, nil
}

// Header is the decoded fixed part of a serialized transaction.
type Header struct {
	Size      uint32
	Signature Signature
	Signer    PublicKey
	Version   uint8
	Network   byte
	Type      Type
	Fee       uint64
	Deadline  Deadline
}

// ParseHeader decodes the header of a serialized transaction.
func ParseHeader(payload []byte) (Header, error) {
	if len(payload) < HeaderSize {
		return Header{}, ErrPayloadTooShort
	}
	var h Header
	h.Size = binary.LittleEndian.Uint32(payload[0:4])
	if int(h.Size) != len(payload) {
		return Header{}, errors.Join(ErrPayloadSize, fmt.Errorf("header says %d, payload has %d bytes", h.Size, len(payload)))
	}
	copy(h.Signature[:], payload[signatureOffset:signerOffset])
	copy(h.Signer[:], payload[signerOffset:signerOffset+32])
	h.Version = payload[verifiedOffset]
	h.Network = payload[verifiedOffset+1]
	h.Type = Type(binary.LittleEndian.Uint16(payload[typeOffset:feeOffset]))
	h.Fee = binary.LittleEndian.Uint64(payload[feeOffset:deadlineOffset])
	h.Deadline = Deadline(binary.LittleEndian.Uint64(payload[deadlineOffset:HeaderSize]))
	return h, nil
}

// HashFromPayload derives the transaction hash from the signed payload bytes:
// sha3-256 of signature, signer, generation hash seed and the verifiable data.
func HashFromPayload(n Network, payload []byte) (Hash, error) {
	h, err := ParseHeader(payload)
	if err != nil {
		return Hash{}, err
	}
	if h.Network != byte(n.Identifier) {
		return Hash{}, ErrNetworkMismatch
	}
	if h.Type.IsAggregate() && len(payload) < verifiedOffset+aggregateVerifiedSize {
		return Hash{}, ErrPayloadTooShort
	}
	hasher := sha3.New256()
	hasher.Write(h.Signature[:])
	hasher.Write(h.Signer[:])
	hasher.Write(n.GenerationHashSeed[:])
	hasher.Write(verifiableData(payload))
	var out Hash
	copy(out[:], hasher.Sum(nil))
	return out, nil
}

func verifiableData(raw []byte) []byte {
	t := Type(binary.LittleEndian.Uint16(raw[typeOffset:feeOffset]))
	if t.IsAggregate() {
		return raw[verifiedOffset : verifiedOffset+aggregateVerifiedSize]
	}
	return raw[verifiedOffset:]
}

// Embedded is a transaction placed inside an aggregate.
type Embedded struct {
	Network Network
	Signer  PublicKey
	Body    Body
}

// Size returns serialized size without the aggregate padding.
func (e Embedded) Size() int {
	return EmbeddedHeaderSize + e.Body.Size()
}

func (e Embedded) serialize() []byte {
	size := e.Size()
	b := make([]byte, 0, size)
	b = binary.LittleEndian.AppendUint32(b, uint32(size))
	b = binary.LittleEndian.AppendUint32(b, 0)
	b = append(b, e.Signer[:]...)
	b = binary.LittleEndian.AppendUint32(b, 0)
	b = append(b, e.Body.Version(), byte(e.Network.Identifier))
	b = binary.LittleEndian.AppendUint16(b, uint16(e.Body.Type()))
	return e.Body.appendTo(b)
}

// SigningData rebuilds the data signed by the transaction signer from the signed payload.
func SigningData(n Network, payload []byte) ([]byte, error) {
	h, err := ParseHeader(payload)
	if err != nil {
		return nil, err
	}
	if h.Type.IsAggregate() && len(payload) < verifiedOffset+aggregateVerifiedSize {
		return nil, ErrPayloadTooShort
	}
	data := verifiableData(payload)
	out := make([]byte, 0, 32+len(data))
	out = append(out, n.GenerationHashSeed[:]...)
	return append(out, data...), nil
}
