package aeswrapper

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"io"
)

var (
	ErrInvalidKeyLength   = errors.New("invalid key length, must be 16 or 32 bytes")
	ErrCipherFailure      = errors.New("cipher creation failure")
	ErrGCMFailure         = errors.New("gcm creation failure")
	ErrRandomNonceFailure = errors.New("random nonce creation failure")
	ErrOpenDataFailure    = errors.New("open data failure, cannot decrypt data")
	ErrDataTooShort       = errors.New("sealed data is shorter than nonce")
)

const nonceSize = 12

// Helper seals and opens data with AES in Galois Counter Mode.
// The random nonce is prepended to the sealed data.
type Helper struct{}

// New creates a new Helper.
func New() Helper {
	return Helper{}
}

// Encrypt encrypts data with key of 16 or 32 bytes.
func (h Helper) Encrypt(key, data []byte) ([]byte, error) {
	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, errors.Join(ErrRandomNonceFailure, err)
	}
	return aesgcm.Seal(nonce, nonce, data, nil), nil
}

// Decrypt decrypts data sealed by Encrypt with the same key.
func (h Helper) Decrypt(key, data []byte) ([]byte, error) {
	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(data) < nonceSize {
		return nil, ErrDataTooShort
	}
	plaintext, err := aesgcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return nil, errors.Join(ErrOpenDataFailure, err)
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != 32 && len(key) != 16 {
		return nil, ErrInvalidKeyLength
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Join(ErrCipherFailure, err)
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Join(ErrGCMFailure, err)
	}
	return aesgcm, nil
}
