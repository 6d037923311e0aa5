package fileoperations

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bartossh/Courier/aeswrapper"
	"github.com/bartossh/Courier/transaction"
	"github.com/bartossh/Courier/wallet"
)

const passwd = "dc6b5b1635453e0eb57344ffb6cb293e8300fc4001fad3518e721d548459c09d"

func TestSaveReadWallet(t *testing.T) {
	dir := t.TempDir()
	h := New(Config{WalletPath: filepath.Join(dir, "wallet"), WalletPasswd: passwd}, aeswrapper.New())
	assert.False(t, h.WalletExists())

	w, err := wallet.New(transaction.Testnet)
	require.NoError(t, err)
	require.NoError(t, h.SaveWallet(w))
	assert.True(t, h.WalletExists())

	read, err := h.ReadWallet()
	assert.Nil(t, err)
	assert.Equal(t, w.Private, read.Private)
	assert.Equal(t, w.Network, read.Network)
}

func TestReadWalletWrongPassword(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wallet")
	w, err := wallet.New(transaction.Testnet)
	require.NoError(t, err)
	require.NoError(t, New(Config{WalletPath: path, WalletPasswd: passwd}, aeswrapper.New()).SaveWallet(w))

	_, err = New(Config{WalletPath: path, WalletPasswd: "00" + passwd[2:]}, aeswrapper.New()).ReadWallet()
	assert.ErrorIs(t, err, aeswrapper.ErrOpenDataFailure)

	_, err = New(Config{WalletPath: path, WalletPasswd: "not hex"}, aeswrapper.New()).ReadWallet()
	assert.ErrorIs(t, err, ErrWalletPasswdInvalid)
}

func TestWriteAtomicReplacesContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "queue.json")
	require.NoError(t, WriteAtomic(path, []byte("first"), 0600))
	require.NoError(t, WriteAtomic(path, []byte("second"), 0600))

	raw, err := os.ReadFile(path)
	assert.Nil(t, err)
	assert.Equal(t, "second", string(raw))

	entries, err := os.ReadDir(filepath.Dir(path))
	assert.Nil(t, err)
	assert.Len(t, entries, 1)
}
