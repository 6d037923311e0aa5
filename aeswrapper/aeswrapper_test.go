package aeswrapper

import (
	"encoding/hex"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var walletBlob = []byte("gob encoded wallet with the ed25519 private key seed and the network name")

func TestSealOpenRoundTrip(t *testing.T) {
	keys := []string{
		"f5f9fb83df631c6746dcc7fe7b21de1e2e33b2584428b37b911cf818a7cd9d84",
		"a531345e49fc6047f780174cbe8958397a70ed9ac5f2cafa9ab6598732cc70db",
		"1d457fe37e4d95c7afaa266952541d52",
	}
	for i, k := range keys {
		key, err := hex.DecodeString(k)
		require.NoError(t, err)
		t.Run(fmt.Sprintf("key-%d-len-%d", i, len(key)), func(t *testing.T) {
			h := New()
			sealed, err := h.Encrypt(key, walletBlob)
			assert.Nil(t, err)
			assert.NotEqual(t, walletBlob, sealed[nonceSize:])
			opened, err := h.Decrypt(key, sealed)
			assert.Nil(t, err)
			assert.Equal(t, walletBlob, opened)
		})
	}
}

func TestInvalidKeyLength(t *testing.T) {
	for _, k := range []string{"f5f9fb83df631c67", "a531345e49fc6047f780174cbe8958397a70ed9ac5f2cafa9ab6598732cc70dbaa"} {
		key, err := hex.DecodeString(k)
		require.NoError(t, err)
		_, err = New().Encrypt(key, walletBlob)
		assert.ErrorIs(t, err, ErrInvalidKeyLength)
		_, err = New().Decrypt(key, walletBlob)
		assert.ErrorIs(t, err, ErrInvalidKeyLength)
	}
}

func TestOpenWithWrongKey(t *testing.T) {
	good, _ := hex.DecodeString("f5f9fb83df631c6746dcc7fe7b21de1e2e33b2584428b37b911cf818a7cd9d84")
	bad, _ := hex.DecodeString("a531345e49fc6047f780174cbe8958397a70ed9ac5f2cafa9ab6598732cc70db")

	sealed, err := New().Encrypt(good, walletBlob)
	require.NoError(t, err)
	_, err = New().Decrypt(bad, sealed)
	assert.ErrorIs(t, err, ErrOpenDataFailure)

	_, err = New().Decrypt(good, []byte{1, 2})
	assert.ErrorIs(t, err, ErrDataTooShort)
}
