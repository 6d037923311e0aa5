package configuration

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"

	"github.com/bartossh/Courier/batch"
	"github.com/bartossh/Courier/connmonitor"
	"github.com/bartossh/Courier/emulator"
	"github.com/bartossh/Courier/fileoperations"
	"github.com/bartossh/Courier/httpclient"
	"github.com/bartossh/Courier/listener"
	"github.com/bartossh/Courier/natsclient"
	"github.com/bartossh/Courier/transaction"
	"github.com/bartossh/Courier/txmanager"
	"github.com/bartossh/Courier/walletapi"
	"github.com/bartossh/Courier/zincaddapter"
)

const defaultNodeURL = "http://localhost:3000"

// Environment keys overriding the configuration file.
const (
	EnvNodeURL              = "COURIER_NODE_URL"
	EnvNetwork              = "COURIER_NETWORK"
	EnvCheckIntervalSeconds = "COURIER_CHECK_INTERVAL_SECONDS"
	EnvInternetCheckTimeout = "COURIER_INTERNET_CHECK_TIMEOUT"
	EnvNodeCheckTimeout     = "COURIER_NODE_CHECK_TIMEOUT"
	EnvFailureThreshold     = "COURIER_FAILURE_THRESHOLD"
	EnvRecoveryThreshold    = "COURIER_RECOVERY_THRESHOLD"
	EnvConnectTimeout       = "COURIER_CONNECT_TIMEOUT"
	EnvReadTimeout          = "COURIER_READ_TIMEOUT"
	EnvMaxRetries           = "COURIER_MAX_RETRIES"
	EnvBaseDelay            = "COURIER_BASE_DELAY"
	EnvMaxDelay             = "COURIER_MAX_DELAY"
	EnvFeeMultiplier        = "COURIER_FEE_MULTIPLIER"
	EnvDataDir              = "COURIER_DATA_DIR"
	EnvWalletPath           = "COURIER_WALLET_PATH"
	EnvWalletPasswd         = "COURIER_WALLET_PASSWD"
	EnvNatsAddress          = "COURIER_NATS_ADDRESS"
	EnvClientPort           = "COURIER_CLIENT_PORT"
	EnvMetricsPort          = "COURIER_METRICS_PORT"
)

var ErrInvalidValue = errors.New("invalid configuration value")

// Configuration is the main configuration of the application that corresponds to the *.yaml file
// that holds the configuration.
type Configuration struct {
	Network      string                `yaml:"network"` // testnet or mainnet
	Node         httpclient.Config     `yaml:"node"`
	Transactions txmanager.Config      `yaml:"transactions"`
	Monitor      connmonitor.Config    `yaml:"monitor"`
	Batch        batch.Config          `yaml:"batch"`
	Listener     listener.Config       `yaml:"listener"`
	Nats         natsclient.Config     `yaml:"nats"`
	FileOperator fileoperations.Config `yaml:"file_operator"`
	ZincLogger   zincaddapter.Config   `yaml:"zinc_logger"`
	Client       walletapi.Config      `yaml:"client"`
	Emulator     emulator.Config       `yaml:"emulator"`
	MetricsPort  int                   `yaml:"metrics_port"` // zero disables the metrics server
}

// Default returns configuration holding default values of every component.
func Default() Configuration {
	return Configuration{
		Network:      transaction.Testnet.Name,
		Node:         httpclient.DefaultConfig(defaultNodeURL),
		Transactions: txmanager.DefaultConfig(),
		Monitor:      connmonitor.DefaultConfig(),
		Batch:        batch.DefaultConfig(),
		Listener:     listener.DefaultConfig(defaultNodeURL),
		FileOperator: fileoperations.Config{WalletPath: "wallet.pem", DataDir: "."},
		Client:       walletapi.Config{Port: 8000},
		Emulator:     emulator.DefaultConfig(),
	}
}

// Read reads the configuration from the file and returns the Configuration with set fields according to the yaml setup.
// Fields missing in the file keep the default values.
func Read(path string) (Configuration, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return Configuration{}, err
	}

	main := Default()
	err = yaml.Unmarshal(buf, &main)
	if err != nil {
		return Configuration{}, fmt.Errorf("in file %q: %w", path, err)
	}
	if main.Listener.URL == defaultNodeURL {
		main.Listener.URL = main.Node.NodeURL
	}

	return main, main.Validate()
}

// FromEnv loads the dotenv files, .env when none is given, and overrides cfg with the environment.
// Missing dotenv files are skipped, variables already set in the process environment win.
func FromEnv(cfg Configuration, files ...string) (Configuration, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return cfg, fmt.Errorf("in file %q: %w", f, err)
		}
	}
	cfg, err := Override(cfg, os.LookupEnv)
	if err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Override sets every configuration value whose key is found by lookup.
// Durations are seconds, fractions allowed, or Go durations such as 1500ms.
func Override(cfg Configuration, lookup func(string) (string, bool)) (Configuration, error) {
	o := overrider{lookup: lookup}

	o.str(EnvNodeURL, &cfg.Node.NodeURL)
	if v, ok := lookup(EnvNodeURL); ok && v != "" {
		cfg.Listener.URL = cfg.Node.NodeURL
	}
	o.str(EnvNetwork, &cfg.Network)

	o.duration(EnvCheckIntervalSeconds, &cfg.Monitor.CheckInterval)
	o.duration(EnvInternetCheckTimeout, &cfg.Monitor.InternetCheckTimeout)
	o.duration(EnvNodeCheckTimeout, &cfg.Monitor.NodeCheckTimeout)
	o.integer(EnvFailureThreshold, &cfg.Monitor.FailureThreshold)
	o.integer(EnvRecoveryThreshold, &cfg.Monitor.RecoveryThreshold)

	o.duration(EnvConnectTimeout, &cfg.Node.Timeouts.Connect)
	o.duration(EnvReadTimeout, &cfg.Node.Timeouts.Read)
	o.integer(EnvMaxRetries, &cfg.Node.Retry.MaxRetries)
	o.duration(EnvBaseDelay, &cfg.Node.Retry.BaseDelay)
	o.duration(EnvMaxDelay, &cfg.Node.Retry.MaxDelay)

	var multiplier int
	if o.integer(EnvFeeMultiplier, &multiplier) {
		if multiplier < 0 {
			o.fail(EnvFeeMultiplier, strconv.Itoa(multiplier))
		} else {
			cfg.Transactions.FeeMultiplier = uint64(multiplier)
		}
	}

	o.str(EnvDataDir, &cfg.FileOperator.DataDir)
	o.str(EnvWalletPath, &cfg.FileOperator.WalletPath)
	o.str(EnvWalletPasswd, &cfg.FileOperator.WalletPasswd)
	o.str(EnvNatsAddress, &cfg.Nats.Address)
	o.integer(EnvClientPort, &cfg.Client.Port)
	o.integer(EnvMetricsPort, &cfg.MetricsPort)

	return cfg, errors.Join(o.errs...)
}

// Validate checks values that have no usable default.
func (c Configuration) Validate() error {
	var errs []error
	if _, err := transaction.NetworkByName(c.Network); err != nil {
		errs = append(errs, errors.Join(ErrInvalidValue, err))
	}
	if strings.TrimSpace(c.Node.NodeURL) == "" {
		errs = append(errs, errors.Join(ErrInvalidValue, errors.New("node url is empty")))
	}
	if c.Node.Retry.MaxRetries < 0 {
		errs = append(errs, errors.Join(ErrInvalidValue, fmt.Errorf("max retries %d is negative", c.Node.Retry.MaxRetries)))
	}
	if c.MetricsPort < 0 || c.MetricsPort > 65535 {
		errs = append(errs, errors.Join(ErrInvalidValue, fmt.Errorf("metrics port %d out of range", c.MetricsPort)))
	}
	return errors.Join(errs...)
}

// NetworkDescriptor returns the configured network.
func (c Configuration) NetworkDescriptor() (transaction.Network, error) {
	return transaction.NetworkByName(c.Network)
}

type overrider struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (o *overrider) value(key string) (string, bool) {
	v, ok := o.lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (o *overrider) fail(key, v string) {
	o.errs = append(o.errs, errors.Join(ErrInvalidValue, fmt.Errorf("%s=%q", key, v)))
}

func (o *overrider) str(key string, dst *string) {
	if v, ok := o.value(key); ok {
		*dst = v
	}
}

func (o *overrider) integer(key string, dst *int) bool {
	v, ok := o.value(key)
	if !ok {
		return false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		o.fail(key, v)
		return false
	}
	*dst = n
	return true
}

func (o *overrider) duration(key string, dst *time.Duration) {
	v, ok := o.value(key)
	if !ok {
		return
	}
	if d, err := time.ParseDuration(v); err == nil && d >= 0 {
		*dst = d
		return
	}
	s, err := strconv.ParseFloat(v, 64)
	if err != nil || s < 0 {
		o.fail(key, v)
		return
	}
	*dst = time.Duration(s * float64(time.Second))
}
