package configuration

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
network: mainnet
node:
  node_url: http://node.example.io:3000
  timeouts:
    connect: 2s
  retry:
    max_retries: 5
transactions:
  fee_multiplier: 150
monitor:
  check_interval: 10s
batch:
  requeue_on_failure: false
nats:
  server_address: nats://localhost:4222
client:
  port: 8080
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0600))
	return p
}

func TestRead(t *testing.T) {
	cfg, err := Read(writeFile(t, "setup.yaml", testConfig))
	require.NoError(t, err)

	assert.Equal(t, "mainnet", cfg.Network)
	assert.Equal(t, "http://node.example.io:3000", cfg.Node.NodeURL)
	assert.Equal(t, cfg.Node.NodeURL, cfg.Listener.URL)
	assert.Equal(t, 2*time.Second, cfg.Node.Timeouts.Connect)
	assert.Equal(t, 15*time.Second, cfg.Node.Timeouts.Read)
	assert.Equal(t, 5, cfg.Node.Retry.MaxRetries)
	assert.Equal(t, uint64(150), cfg.Transactions.FeeMultiplier)
	assert.Equal(t, 10*time.Second, cfg.Monitor.CheckInterval)
	assert.Equal(t, 3, cfg.Monitor.FailureThreshold)
	assert.False(t, cfg.Batch.RequeueOnFailure)
	assert.Equal(t, "nats://localhost:4222", cfg.Nats.Address)
	assert.Equal(t, 8080, cfg.Client.Port)

	n, err := cfg.NetworkDescriptor()
	require.NoError(t, err)
	assert.Equal(t, "mainnet", n.Name)
}

func TestReadFailures(t *testing.T) {
	_, err := Read(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Read(writeFile(t, "broken.yaml", "node: [unterminated"))
	assert.Error(t, err)

	_, err = Read(writeFile(t, "network.yaml", "network: devnet"))
	assert.ErrorIs(t, err, ErrInvalidValue)
}

func TestOverride(t *testing.T) {
	env := map[string]string{
		EnvNodeURL:              "https://other:3001",
		EnvCheckIntervalSeconds: "15",
		EnvNodeCheckTimeout:     "2.5",
		EnvConnectTimeout:       "1500ms",
		EnvMaxRetries:           "0",
		EnvFeeMultiplier:        "200",
		EnvDataDir:              "/var/lib/courier",
		EnvMetricsPort:          "2112",
		EnvReadTimeout:          "  ",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg, err := Override(Default(), lookup)
	require.NoError(t, err)
	assert.Equal(t, "https://other:3001", cfg.Node.NodeURL)
	assert.Equal(t, "https://other:3001", cfg.Listener.URL)
	assert.Equal(t, 15*time.Second, cfg.Monitor.CheckInterval)
	assert.Equal(t, 2500*time.Millisecond, cfg.Monitor.NodeCheckTimeout)
	assert.Equal(t, 1500*time.Millisecond, cfg.Node.Timeouts.Connect)
	assert.Equal(t, Default().Node.Timeouts.Read, cfg.Node.Timeouts.Read)
	assert.Equal(t, 0, cfg.Node.Retry.MaxRetries)
	assert.Equal(t, uint64(200), cfg.Transactions.FeeMultiplier)
	assert.Equal(t, "/var/lib/courier", cfg.FileOperator.DataDir)
	assert.Equal(t, 2112, cfg.MetricsPort)
}

func TestOverrideReportsEveryInvalidValue(t *testing.T) {
	env := map[string]string{
		EnvMaxRetries:        "many",
		EnvBaseDelay:         "-1",
		EnvFeeMultiplier:     "-5",
		EnvRecoveryThreshold: "1",
	}
	cfg, err := Override(Default(), func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	require.ErrorIs(t, err, ErrInvalidValue)
	assert.Contains(t, err.Error(), EnvMaxRetries)
	assert.Contains(t, err.Error(), EnvBaseDelay)
	assert.Contains(t, err.Error(), EnvFeeMultiplier)
	assert.Equal(t, 1, cfg.Monitor.RecoveryThreshold)
	assert.Equal(t, Default().Transactions.FeeMultiplier, cfg.Transactions.FeeMultiplier)
}

func TestFromEnvLoadsDotenvFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, godotenv.Write(map[string]string{
		EnvNetwork:     "mainnet",
		EnvWalletPath:  "/keys/wallet.pem",
		EnvNatsAddress: "nats://file:4222",
	}, p))
	t.Setenv(EnvNatsAddress, "nats://process:4222")
	t.Cleanup(func() {
		os.Unsetenv(EnvNetwork)
		os.Unsetenv(EnvWalletPath)
	})

	cfg, err := FromEnv(Default(), p, filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, "mainnet", cfg.Network)
	assert.Equal(t, "/keys/wallet.pem", cfg.FileOperator.WalletPath)
	assert.Equal(t, "nats://process:4222", cfg.Nats.Address)
}
