package transaction

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/bartossh/Courier/address"
)

// DefaultDeadline is the time to live given to every transaction at build time.
const DefaultDeadline = 2 * time.Hour

// Network describes the chain the transactions are created for.
type Network struct {
	Name               string
	Identifier         address.Network
	GenerationHashSeed [32]byte
	EpochAdjustment    int64 // seconds since unix epoch of the network nemesis block
	CurrencyMosaicID   uint64
}

var (
	Testnet = Network{
		Name:               "testnet",
		Identifier:         address.Testnet,
		GenerationHashSeed: mustSeed("49D6E1CE276A85B70EAFE52349AACCA389302E7A9754BCF1221E79494FC665A4"),
		EpochAdjustment:    1667250467,
		CurrencyMosaicID:   0x72C0212E67A08BCE,
	}
	Mainnet = Network{
		Name:               "mainnet",
		Identifier:         address.Mainnet,
		GenerationHashSeed: mustSeed("57F7DA205008026C776CB6AED843393F04CD458E0AA2D9F1D5F31A402072B2D6"),
		EpochAdjustment:    1615853185,
		CurrencyMosaicID:   0x6BED913FA20223F8,
	}
)

// NetworkByName returns the known network with given name.
func NetworkByName(name string) (Network, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case Testnet.Name:
		return Testnet, nil
	case Mainnet.Name:
		return Mainnet, nil
	default:
		return Network{}, fmt.Errorf("unknown network %q", name)
	}
}

// NetworkByIdentifier returns the known network with given identifier byte.
func NetworkByIdentifier(id address.Network) (Network, error) {
	switch id {
	case address.Testnet:
		return Testnet, nil
	case address.Mainnet:
		return Mainnet, nil
	default:
		return Network{}, fmt.Errorf("unknown network identifier 0x%02X", byte(id))
	}
}

// Deadline is the number of milliseconds since the network epoch after which
// the transaction is no longer accepted by the node.
type Deadline uint64

// Deadline returns the deadline placed ttl after now.
func (n Network) Deadline(now time.Time, ttl time.Duration) Deadline {
	return Deadline(now.Add(ttl).UnixMilli() - n.EpochAdjustment*1000)
}

// Time converts network deadline to the wall clock time.
func (n Network) Time(d Deadline) time.Time {
	return time.UnixMilli(int64(d) + n.EpochAdjustment*1000)
}

// Address derives the address of the public key in the network.
func (n Network) Address(pub PublicKey) address.Address {
	a, _ := address.FromPublicKey(n.Identifier, pub[:])
	return a
}

func mustSeed(s string) [32]byte {
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != 32 {
		panic(fmt.Sprintf("invalid generation hash seed %q", s))
	}
	var seed [32]byte
	copy(seed[:], raw)
	return seed
}
