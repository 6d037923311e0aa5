package wallet

import (
	"crypto/ed25519"
	"errors"

	"github.com/bartossh/Courier/transaction"
)

var (
	ErrSignatureInvalid = errors.New("signature isn't valid")
)

// Helper provides signature verification without knowing about wallet private keys.
type Helper struct{}

// NewVerifier creates new wallet Helper verifier.
func NewVerifier() Helper {
	return Helper{}
}

// VerifyPayload verifies the signature of the signed transaction payload in the network.
func (h Helper) VerifyPayload(n transaction.Network, payload []byte) error {
	hdr, err := transaction.ParseHeader(payload)
	if err != nil {
		return err
	}
	data, err := transaction.SigningData(n, payload)
	if err != nil {
		return err
	}
	if !ed25519.Verify(hdr.Signer[:], data, hdr.Signature[:]) {
		return ErrSignatureInvalid
	}
	return nil
}

// VerifyCosignature verifies the detached cosignature over the parent hash.
func (h Helper) VerifyCosignature(c transaction.DetachedCosignature) error {
	signer, err := transaction.ParsePublicKey(c.SignerPublicKey)
	if err != nil {
		return err
	}
	sig, err := transaction.ParseSignature(c.Signature)
	if err != nil {
		return err
	}
	parent, err := transaction.ParseHash(c.ParentHash)
	if err != nil {
		return err
	}
	if !ed25519.Verify(signer[:], parent[:], sig[:]) {
		return ErrSignatureInvalid
	}
	return nil
}
