package wallet

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bartossh/Courier/address"
	"github.com/bartossh/Courier/transaction"
)

func TestCreateWallet(t *testing.T) {
	w, err := New(transaction.Testnet)
	assert.Nil(t, err)
	assert.NotNil(t, w.Private)
	assert.NotNil(t, w.Public)
	assert.True(t, w.Ready())

	a, err := w.Address()
	assert.Nil(t, err)
	assert.Equal(t, address.Testnet, a.Network())
}

func TestGobEncodingDecoding(t *testing.T) {
	w, err := New(transaction.Mainnet)
	require.NoError(t, err)

	b, err := w.EncodeGOB()
	assert.Nil(t, err)
	assert.NotNil(t, b)

	nw, err := DecodeGOBWallet(b)
	assert.Nil(t, err)
	assert.Equal(t, nw.Private, w.Private)
	assert.Equal(t, nw.Public, w.Public)
	assert.Equal(t, "mainnet", nw.Network)
}

func TestPrivateKeyHexRoundTrip(t *testing.T) {
	w, err := New(transaction.Testnet)
	require.NoError(t, err)
	k, err := w.PrivateKeyHex()
	require.NoError(t, err)

	nw, err := FromPrivateKeyHex(transaction.Testnet, k)
	assert.Nil(t, err)
	assert.Equal(t, w.Public, nw.Public)

	_, err = FromPrivateKeyHex(transaction.Testnet, "abcd")
	assert.ErrorIs(t, err, ErrInvalidPrivateKey)
}

func TestPemRoundTrip(t *testing.T) {
	w, err := New(transaction.Testnet)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "id_ed25519")
	require.NoError(t, w.SaveToPem(path))

	nw, err := ReadFromPem(transaction.Testnet, path)
	assert.Nil(t, err)
	assert.Equal(t, w.Private, nw.Private)
}

func TestSignTransactionVerifyPayload(t *testing.T) {
	w, err := New(transaction.Testnet)
	require.NoError(t, err)
	pub, err := w.PublicKey()
	require.NoError(t, err)
	a, err := w.Address()
	require.NoError(t, err)

	tx := &transaction.Transaction{
		Network:  transaction.Testnet,
		Signer:   pub,
		Fee:      100,
		Deadline: transaction.Testnet.Deadline(time.Now(), transaction.DefaultDeadline),
		Body:     transaction.Transfer{Recipient: a, Mosaics: []transaction.Mosaic{{ID: 1, Amount: 10}}},
	}
	sig, err := w.SignTransaction(tx)
	require.NoError(t, err)
	signed, err := tx.AttachSignature(sig)
	require.NoError(t, err)

	v := NewVerifier()
	assert.Nil(t, v.VerifyPayload(transaction.Testnet, signed.Payload))

	signed.Payload[len(signed.Payload)-1] ^= 0xFF
	assert.ErrorIs(t, v.VerifyPayload(transaction.Testnet, signed.Payload), ErrSignatureInvalid)
}

func TestCosignatureVerify(t *testing.T) {
	w, err := New(transaction.Testnet)
	require.NoError(t, err)
	var h transaction.Hash
	h[3] = 9

	c, err := transaction.Cosign(w, h)
	require.NoError(t, err)

	v := NewVerifier()
	assert.Nil(t, v.VerifyCosignature(c.Detached(h)))

	h[3] = 10
	assert.ErrorIs(t, v.VerifyCosignature(c.Detached(h)), ErrSignatureInvalid)
}

func TestFlushMakesSignerUnavailable(t *testing.T) {
	w, err := New(transaction.Testnet)
	require.NoError(t, err)
	w.Flush()

	assert.False(t, w.Ready())
	_, err = w.Sign([]byte("data"))
	assert.ErrorIs(t, err, ErrSignerUnavailable)
	_, err = w.PrivateKeyHex()
	assert.ErrorIs(t, err, ErrSignerUnavailable)
}
