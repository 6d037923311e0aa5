package transaction

import (
	"encoding/binary"
	"strconv"

	"golang.org/x/crypto/sha3"
)

const (
	CosignatureSize = 104 // version, signer public key, signature
	aggregateAlign  = 8
)

// Cosignature is a signature of an aggregate hash by one of the cosignatories.
type Cosignature struct {
	Version   uint64
	Signer    PublicKey
	Signature Signature
}

// DetachedCosignature is a cosignature announced separately from its aggregate.
type DetachedCosignature struct {
	Version         string `json:"version"`
	SignerPublicKey string `json:"signerPublicKey"`
	Signature       string `json:"signature"`
	ParentHash      string `json:"parentHash"`
}

// Detached returns the REST representation of the cosignature for the aggregate with the parent hash.
func (c Cosignature) Detached(parent Hash) DetachedCosignature {
	return DetachedCosignature{
		Version:         strconv.FormatUint(c.Version, 10),
		SignerPublicKey: c.Signer.String(),
		Signature:       c.Signature.String(),
		ParentHash:      parent.String(),
	}
}

// Aggregate wraps embedded transactions in to a single atomic transaction.
// Bonded aggregates collect the missing cosignatures on the node and require a hash lock.
type Aggregate struct {
	Bonded       bool
	Transactions []Embedded
	Cosignatures []Cosignature
}

func (a *Aggregate) Type() Type {
	if a.Bonded {
		return TypeAggregateBonded
	}
	return TypeAggregateComplete
}

func (a *Aggregate) Version() uint8 { return 2 }

func (a *Aggregate) payloadSize() int {
	var s int
	for _, e := range a.Transactions {
		s += padded(e.Size())
	}
	return s
}

func (a *Aggregate) Size() int {
	return 32 + 4 + 4 + a.payloadSize() + CosignatureSize*len(a.Cosignatures)
}

func (a *Aggregate) appendTo(b []byte) []byte {
	h := a.TransactionsHash()
	b = append(b, h[:]...)
	b = binary.LittleEndian.AppendUint32(b, uint32(a.payloadSize()))
	b = binary.LittleEndian.AppendUint32(b, 0)
	for _, e := range a.Transactions {
		raw := e.serialize()
		b = append(b, raw...)
		for i := len(raw); i < padded(len(raw)); i++ {
			b = append(b, 0)
		}
	}
	for _, c := range a.Cosignatures {
		b = binary.LittleEndian.AppendUint64(b, c.Version)
		b = append(b, c.Signer[:]...)
		b = append(b, c.Signature[:]...)
	}
	return b
}

// TransactionsHash is the merkle root of the embedded transactions hashes.
func (a *Aggregate) TransactionsHash() Hash {
	hashes := make([]Hash, 0, len(a.Transactions))
	for _, e := range a.Transactions {
		hashes = append(hashes, sha3.Sum256(e.serialize()))
	}
	return merkleRoot(hashes)
}

// HasCosigner reports whether the signer already cosigned the aggregate.
func (a *Aggregate) HasCosigner(signer PublicKey) bool {
	for _, c := range a.Cosignatures {
		if c.Signer == signer {
			return true
		}
	}
	return false
}

// AddCosignature appends the cosignature if its signer has not cosigned yet.
func (a *Aggregate) AddCosignature(c Cosignature) error {
	if a.HasCosigner(c.Signer) {
		return ErrCosignatureSigner
	}
	a.Cosignatures = append(a.Cosignatures, c)
	return nil
}

func merkleRoot(hashes []Hash) Hash {
	if len(hashes) == 0 {
		return Hash{}
	}
	level := hashes
	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([]Hash, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			h := sha3.New256()
			h.Write(level[i][:])
			h.Write(level[i+1][:])
			var out Hash
			copy(out[:], h.Sum(nil))
			next = append(next, out)
		}
		level = next
	}
	return level[0]
}

func padded(size int) int {
	return (size + aggregateAlign - 1) / aggregateAlign * aggregateAlign
}

// CalculateFee returns the fee for a transaction of given size that will carry
// the number of cosignatures, in atomic units of the currency mosaic.
func CalculateFee(size, cosignatures int, multiplier uint64) uint64 {
	return uint64(size+cosignatures*CosignatureSize) * multiplier
}
