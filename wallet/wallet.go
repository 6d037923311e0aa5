package wallet

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/gob"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"os"
	"strings"
	"sync"

	"github.com/bartossh/Courier/address"
	"github.com/bartossh/Courier/transaction"
)

var (
	ErrSignerUnavailable = errors.New("signer unavailable, no private key loaded")
	ErrInvalidPrivateKey = errors.New("private key must be 32 bytes seed in hex format")
)

// Wallet holds the ed25519 key pair of the account owner and the network it operates on.
// Wallet implements transaction.Signer.
type Wallet struct {
	mux     sync.RWMutex
	Private ed25519.PrivateKey
	Public  ed25519.PublicKey
	Network string
}

// New tries to create a new Wallet for the network or returns error otherwise.
func New(network transaction.Network) (*Wallet, error) {
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &Wallet{Private: private, Public: public, Network: network.Name}, nil
}

// FromPrivateKeyHex creates Wallet from the 32 bytes private key seed encoded in hex.
func FromPrivateKeyHex(network transaction.Network, key string) (*Wallet, error) {
	seed, err := hex.DecodeString(strings.TrimSpace(key))
	if err != nil || len(seed) != ed25519.SeedSize {
		return nil, ErrInvalidPrivateKey
	}
	private := ed25519.NewKeyFromSeed(seed)
	return &Wallet{Private: private, Public: private.Public().(ed25519.PublicKey), Network: network.Name}, nil
}

// PrivateKeyHex returns the private key seed in upper case hex format.
func (w *Wallet) PrivateKeyHex() (string, error) {
	w.mux.RLock()
	defer w.mux.RUnlock()
	if len(w.Private) != ed25519.PrivateKeySize {
		return "", ErrSignerUnavailable
	}
	return strings.ToUpper(hex.EncodeToString(w.Private.Seed())), nil
}

// SaveToPem saves wallet private and public key to the PEM format file.
// Saved files are like in the example:
// - PRIVATE: "your/path/name"
// - PUBLIC: "your/path/name.pub"
func (w *Wallet) SaveToPem(filepath string) error {
	w.mux.RLock()
	defer w.mux.RUnlock()
	prv, err := x509.MarshalPKCS8PrivateKey(w.Private)
	if err != nil {
		return err
	}
	pub, err := x509.MarshalPKIXPublicKey(w.Public)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: prv}), 0600); err != nil {
		return err
	}
	return os.WriteFile(filepath+".pub", pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pub}), 0644)
}

// ReadFromPem creates Wallet from PEM format file for the network.
// Provide the path to a file without specifying the extension : <your/path/name".
func ReadFromPem(network transaction.Network, filepath string) (*Wallet, error) {
	rawPrv, err := os.ReadFile(filepath)
	if err != nil {
		return nil, err
	}
	blockPrv, _ := pem.Decode(rawPrv)
	if blockPrv == nil || blockPrv.Type != "PRIVATE KEY" {
		return nil, errors.New("cannot decode private key from PEM format")
	}
	prv, err := x509.ParsePKCS8PrivateKey(blockPrv.Bytes)
	if err != nil {
		return nil, err
	}
	private, ok := prv.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("cannot cast x509 decoded parsed key to ed25519 private key")
	}
	return &Wallet{Private: private, Public: private.Public().(ed25519.PublicKey), Network: network.Name}, nil
}

type gobWallet struct {
	Private ed25519.PrivateKey
	Public  ed25519.PublicKey
	Network string
}

// DecodeGOBWallet tries to decode Wallet from gob representation or returns error otherwise.
func DecodeGOBWallet(data []byte) (*Wallet, error) {
	var g gobWallet
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&g); err != nil {
		return nil, err
	}
	return &Wallet{Private: g.Private, Public: g.Public, Network: g.Network}, nil
}

// EncodeGOB tries to encodes Wallet in to the gob representation or returns error otherwise.
func (w *Wallet) EncodeGOB() ([]byte, error) {
	w.mux.RLock()
	defer w.mux.RUnlock()
	var content bytes.Buffer
	if err := gob.NewEncoder(&content).Encode(gobWallet{Private: w.Private, Public: w.Public, Network: w.Network}); err != nil {
		return nil, err
	}
	return content.Bytes(), nil
}

// Flush zeroes the private key and removes it from the Wallet.
// Every signing operation fails with ErrSignerUnavailable afterwards.
func (w *Wallet) Flush() {
	w.mux.Lock()
	defer w.mux.Unlock()
	for i := range w.Private {
		w.Private[i] = 0
	}
	w.Private = nil
}

// Ready reports whether the private key is loaded.
func (w *Wallet) Ready() bool {
	w.mux.RLock()
	defer w.mux.RUnlock()
	return len(w.Private) == ed25519.PrivateKeySize
}

// NetworkDescriptor returns the network the wallet belongs to.
func (w *Wallet) NetworkDescriptor() (transaction.Network, error) {
	return transaction.NetworkByName(w.Network)
}

// PublicKey returns public key of the wallet.
func (w *Wallet) PublicKey() (transaction.PublicKey, error) {
	w.mux.RLock()
	defer w.mux.RUnlock()
	var k transaction.PublicKey
	if len(w.Public) != ed25519.PublicKeySize {
		return k, ErrSignerUnavailable
	}
	copy(k[:], w.Public)
	return k, nil
}

// Address returns the account address of the wallet in its network.
func (w *Wallet) Address() (address.Address, error) {
	n, err := w.NetworkDescriptor()
	if err != nil {
		return address.Address{}, err
	}
	k, err := w.PublicKey()
	if err != nil {
		return address.Address{}, err
	}
	return n.Address(k), nil
}

// Sign signs data with ed25519.
func (w *Wallet) Sign(data []byte) (transaction.Signature, error) {
	w.mux.RLock()
	defer w.mux.RUnlock()
	var s transaction.Signature
	if len(w.Private) != ed25519.PrivateKeySize {
		return s, ErrSignerUnavailable
	}
	copy(s[:], ed25519.Sign(w.Private, data))
	return s, nil
}

// SignTransaction signs the transaction signing payload.
func (w *Wallet) SignTransaction(tx *transaction.Transaction) (transaction.Signature, error) {
	data, err := tx.SigningPayload()
	if err != nil {
		return transaction.Signature{}, err
	}
	return w.Sign(data)
}
