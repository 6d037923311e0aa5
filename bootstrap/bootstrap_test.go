package bootstrap

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bartossh/Courier/configuration"
	"github.com/bartossh/Courier/logging"
	"github.com/bartossh/Courier/transaction"
	"github.com/bartossh/Courier/wallet"
)

func testConfig(t *testing.T) configuration.Configuration {
	cfg := configuration.Default()
	dir := t.TempDir()
	cfg.FileOperator.DataDir = dir
	cfg.FileOperator.WalletPath = filepath.Join(dir, "wallet")
	cfg.FileOperator.WalletPasswd = strings.Repeat("ab", 32)
	return cfg
}

func TestLoadWallet(t *testing.T) {
	cfg := testConfig(t)
	_, err := LoadWallet(cfg)
	assert.ErrorIs(t, err, ErrNoWallet)

	w, err := wallet.New(transaction.Testnet)
	require.NoError(t, err)
	require.NoError(t, WalletFiles(cfg).SaveWallet(w))

	loaded, err := LoadWallet(cfg)
	require.NoError(t, err)
	want, _ := w.Address()
	got, err := loaded.Address()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestBuild(t *testing.T) {
	cfg := testConfig(t)
	w, err := wallet.New(transaction.Testnet)
	require.NoError(t, err)

	s, err := Build(cfg, w, logging.New(nil, nil))
	require.NoError(t, err)
	assert.Equal(t, transaction.Testnet.Name, s.Network.Name)
	assert.NotNil(t, s.Manager.Signer())
	assert.Equal(t, cfg.Node.NodeURL, s.Monitor.NodeURL())
	assert.True(t, s.Queue.IsEmpty())

	svc := s.Services()
	assert.Same(t, s.Manager, svc.Manager)
	assert.Same(t, s.Measurements, svc.Measurements)

	s.Close()
	assert.False(t, w.Ready())
}

func TestBuildReadOnly(t *testing.T) {
	s, err := Build(testConfig(t), nil, nil)
	require.NoError(t, err)
	assert.Nil(t, s.Manager.Signer())
	s.Close()
}

func TestBuildRejectsUnknownNetwork(t *testing.T) {
	cfg := testConfig(t)
	cfg.Network = "devnet"
	_, err := Build(cfg, nil, nil)
	assert.Error(t, err)
}
