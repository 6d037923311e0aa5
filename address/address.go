package address

import (
	"bytes"
	"encoding/base32"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/ripemd160"
	"golang.org/x/crypto/sha3"
)

const (
	Size        = 24 // raw address size: network byte, ripemd160 digest and checksum
	EncodedSize = 39 // base32 encoded address size without padding
	PubKeySize  = 32

	checksumSize = 3
)

var (
	ErrInvalidPublicKey = errors.New("public key must be 32 bytes long")
	ErrInvalidLength    = errors.New("address has invalid length")
	ErrInvalidEncoding  = errors.New("address is not valid base32")
	ErrInvalidChecksum  = errors.New("address checksum mismatch")
	ErrUnknownNetwork   = errors.New("address network is unknown")
)

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Network is the identifier byte leading every address.
type Network byte

const (
	Mainnet Network = 0x68 // encodes to addresses starting with 'N'
	Testnet Network = 0x98 // encodes to addresses starting with 'T'
)

// Prefix returns the first character of addresses in the network.
func (n Network) Prefix() byte {
	switch n {
	case Mainnet:
		return 'N'
	case Testnet:
		return 'T'
	default:
		return '?'
	}
}

// Valid reports whether network is one of the known networks.
func (n Network) Valid() bool {
	return n == Mainnet || n == Testnet
}

// Address is the raw 24 byte form of an account address.
type Address [Size]byte

// FromPublicKey derives the address of the account owning the public key in the given network.
func FromPublicKey(n Network, pub []byte) (Address, error) {
	if len(pub) != PubKeySize {
		return Address{}, ErrInvalidPublicKey
	}
	digest := sha3.Sum256(pub)
	rh := ripemd160.New()
	rh.Write(digest[:])

	var a Address
	a[0] = byte(n)
	copy(a[1:], rh.Sum(nil))
	cs := checksum(a[:Size-checksumSize])
	copy(a[Size-checksumSize:], cs)
	return a, nil
}

// Decode decodes the 39 characters encoded address verifying network and checksum.
// Hyphens and surrounding white spaces are ignored, letters are case insensitive.
func Decode(s string) (Address, error) {
	s = strings.ToUpper(strings.TrimSpace(strings.ReplaceAll(s, "-", "")))
	if len(s) != EncodedSize {
		return Address{}, errors.Join(ErrInvalidLength, fmt.Errorf("expected %d characters, got %d", EncodedSize, len(s)))
	}
	raw, err := encoding.DecodeString(s)
	if err != nil {
		return Address{}, errors.Join(ErrInvalidEncoding, err)
	}
	if len(raw) != Size {
		return Address{}, ErrInvalidLength
	}
	var a Address
	copy(a[:], raw)
	if !a.Network().Valid() {
		return Address{}, ErrUnknownNetwork
	}
	if !bytes.Equal(checksum(a[:Size-checksumSize]), a[Size-checksumSize:]) {
		return Address{}, ErrInvalidChecksum
	}
	return a, nil
}

// FromHex decodes address from the hex representation used by the node REST API.
func FromHex(h string) (Address, error) {
	raw, err := hex.DecodeString(h)
	if err != nil {
		return Address{}, errors.Join(ErrInvalidEncoding, err)
	}
	if len(raw) != Size {
		return Address{}, ErrInvalidLength
	}
	var a Address
	copy(a[:], raw)
	return a, nil
}

// Network returns network of the address.
func (a Address) Network() Network {
	return Network(a[0])
}

// String returns the 39 characters base32 encoded address.
func (a Address) String() string {
	return encoding.EncodeToString(a[:])
}

// Hex returns the upper case hex encoded raw address.
func (a Address) Hex() string {
	return strings.ToUpper(hex.EncodeToString(a[:]))
}

// Pretty returns address split in to groups of six characters with hyphens.
func (a Address) Pretty() string {
	s := a.String()
	var b strings.Builder
	for i := 0; i < len(s); i += 6 {
		if i > 0 {
			b.WriteByte('-')
		}
		end := i + 6
		if end > len(s) {
			end = len(s)
		}
		b.WriteString(s[i:end])
	}
	return b.String()
}

// IsZero reports whether address holds no value.
func (a Address) IsZero() bool {
	return a == Address{}
}

func checksum(b []byte) []byte {
	h := sha3.Sum256(b)
	return h[:checksumSize]
}
