package transaction

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidHex = errors.New("invalid hex value")

// PublicKey is an ed25519 public key.
type PublicKey [32]byte

// Signature is an ed25519 signature.
type Signature [64]byte

// Hash is the sha3-256 transaction hash.
type Hash [32]byte

// String returns upper case hex encoded key.
func (k PublicKey) String() string { return upperHex(k[:]) }

// String returns upper case hex encoded signature.
func (s Signature) String() string { return upperHex(s[:]) }

// String returns upper case hex encoded hash.
func (h Hash) String() string { return upperHex(h[:]) }

// IsZero reports whether hash holds no value.
func (h Hash) IsZero() bool { return h == Hash{} }

// ParsePublicKey decodes hex encoded public key.
func ParsePublicKey(s string) (PublicKey, error) {
	var k PublicKey
	err := decodeFixed(s, k[:])
	return k, err
}

// ParseSignature decodes hex encoded signature.
func ParseSignature(s string) (Signature, error) {
	var sig Signature
	err := decodeFixed(s, sig[:])
	return sig, err
}

// ParseHash decodes hex encoded hash.
func ParseHash(s string) (Hash, error) {
	var h Hash
	err := decodeFixed(s, h[:])
	return h, err
}

func decodeFixed(s string, dst []byte) error {
	raw, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return errors.Join(ErrInvalidHex, err)
	}
	if len(raw) != len(dst) {
		return errors.Join(ErrInvalidHex, fmt.Errorf("expected %d bytes, got %d", len(dst), len(raw)))
	}
	copy(dst, raw)
	return nil
}

func upperHex(b []byte) string {
	return strings.ToUpper(hex.EncodeToString(b))
}
