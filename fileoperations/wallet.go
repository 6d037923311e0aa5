package fileoperations

import (
	"encoding/hex"
	"errors"
	"os"

	"github.com/bartossh/Courier/wallet"
)

var ErrWalletPasswdInvalid = errors.New("wallet password must be a 16 or 32 bytes key in hex format")

// Sealer offers behaviour to seal the bytes returning the signature on the data.
type Sealer interface {
	Encrypt(key, data []byte) ([]byte, error)
	Decrypt(key, data []byte) ([]byte, error)
}

// ReadWallet reads and opens the sealed wallet from the file.
func (h Helper) ReadWallet() (*wallet.Wallet, error) {
	raw, err := os.ReadFile(h.cfg.WalletPath)
	if err != nil {
		return nil, err
	}
	passwd, err := h.passwd()
	if err != nil {
		return nil, err
	}
	opened, err := h.s.Decrypt(passwd, raw)
	if err != nil {
		return nil, err
	}
	return wallet.DecodeGOBWallet(opened)
}

// SaveWallet seals and saves wallet to the file.
func (h Helper) SaveWallet(w *wallet.Wallet) error {
	raw, err := w.EncodeGOB()
	if err != nil {
		return err
	}
	passwd, err := h.passwd()
	if err != nil {
		return err
	}
	closed, err := h.s.Encrypt(passwd, raw)
	if err != nil {
		return err
	}
	return WriteAtomic(h.cfg.WalletPath, closed, 0600)
}

// WalletExists reports whether the wallet file is present.
func (h Helper) WalletExists() bool {
	_, err := os.Stat(h.cfg.WalletPath)
	return err == nil
}

func (h Helper) passwd() ([]byte, error) {
	passwd, err := hex.DecodeString(h.cfg.WalletPasswd)
	if err != nil {
		return nil, errors.Join(ErrWalletPasswdInvalid, err)
	}
	return passwd, nil
}
