package transaction

import "github.com/bartossh/Courier/address"

// Signer owns the key pair used to sign transactions and cosign aggregates.
type Signer interface {
	PublicKey() (PublicKey, error)
	Address() (address.Address, error)
	Sign(data []byte) (Signature, error)
	SignTransaction(tx *Transaction) (Signature, error)
}

// Cosign creates cosignature of the aggregate with given hash.
func Cosign(s Signer, h Hash) (Cosignature, error) {
	pub, err := s.PublicKey()
	if err != nil {
		return Cosignature{}, err
	}
	sig, err := s.Sign(h[:])
	if err != nil {
		return Cosignature{}, err
	}
	return Cosignature{Signer: pub, Signature: sig}, nil
}
