package bootstrap

import (
	"errors"
	"fmt"
	"io"

	"github.com/bartossh/Courier/aeswrapper"
	"github.com/bartossh/Courier/batch"
	"github.com/bartossh/Courier/configuration"
	"github.com/bartossh/Courier/connmonitor"
	"github.com/bartossh/Courier/fileoperations"
	"github.com/bartossh/Courier/httpclient"
	"github.com/bartossh/Courier/logger"
	"github.com/bartossh/Courier/logging"
	"github.com/bartossh/Courier/multisig"
	"github.com/bartossh/Courier/stdoutwriter"
	"github.com/bartossh/Courier/telemetry"
	"github.com/bartossh/Courier/transaction"
	"github.com/bartossh/Courier/txmanager"
	"github.com/bartossh/Courier/txqueue"
	"github.com/bartossh/Courier/wallet"
	"github.com/bartossh/Courier/walletapi"
	"github.com/bartossh/Courier/zincaddapter"
)

var ErrNoWallet = errors.New("wallet file not found, create one with the wallet keys new command")

// Stack holds the wired wallet components.
type Stack struct {
	Config       configuration.Configuration
	Network      transaction.Network
	Wallet       *wallet.Wallet
	Client       *httpclient.Client
	Manager      *txmanager.Manager
	Multisig     *multisig.Coordinator
	Queue        *txqueue.Queue
	Submitter    *batch.Submitter
	Monitor      *connmonitor.Monitor
	Measurements *telemetry.Measurements
}

// NewLogger creates a logger writing to the terminal and to ZincSearch when its address is configured.
func NewLogger(cfg configuration.Configuration, onErr, onFatal func(error)) (logging.Helper, error) {
	writers := []io.Writer{stdoutwriter.Logger{}}
	if cfg.ZincLogger.Address != "" {
		zinc, err := zincaddapter.New(cfg.ZincLogger)
		if err != nil {
			return logging.Helper{}, err
		}
		writers = append(writers, zinc)
	}
	return logging.New(onErr, onFatal, writers...), nil
}

// WalletFiles returns the helper reading and writing the AES sealed wallet.
func WalletFiles(cfg configuration.Configuration) fileoperations.Helper {
	return fileoperations.New(cfg.FileOperator, aeswrapper.New())
}

// LoadWallet opens the sealed wallet configured in the file operator section.
func LoadWallet(cfg configuration.Configuration) (*wallet.Wallet, error) {
	fo := WalletFiles(cfg)
	if !fo.WalletExists() {
		return nil, ErrNoWallet
	}
	return fo.ReadWallet()
}

// Build wires every component around the signer. A nil wallet leaves the stack read only,
// operations that sign fail with txmanager.ErrSignerUnavailable.
func Build(cfg configuration.Configuration, w *wallet.Wallet, log logger.Logger, opts ...httpclient.Option) (*Stack, error) {
	n, err := cfg.NetworkDescriptor()
	if err != nil {
		return nil, err
	}
	ms := telemetry.New()
	opts = append(opts, httpclient.WithMeasurements(ms))
	client := httpclient.New(cfg.Node, log, opts...)

	var signer transaction.Signer
	if w != nil {
		signer = w
	}
	tm := txmanager.New(client, signer, n, cfg.Transactions, log)

	q, err := txqueue.New(cfg.FileOperator.DataDir, log)
	if err != nil {
		return nil, fmt.Errorf("transaction queue: %w", err)
	}

	return &Stack{
		Config:       cfg,
		Network:      n,
		Wallet:       w,
		Client:       client,
		Manager:      tm,
		Multisig:     multisig.New(tm, log),
		Queue:        q,
		Submitter:    batch.New(tm, cfg.Batch, log, batch.WithMeasurements(ms)),
		Monitor:      connmonitor.New(cfg.Node.NodeURL, cfg.Monitor, log, connmonitor.WithMeasurements(ms)),
		Measurements: ms,
	}, nil
}

// Services returns the components exposed by the wallet API.
func (s *Stack) Services() walletapi.Services {
	return walletapi.Services{
		Manager:      s.Manager,
		Multisig:     s.Multisig,
		Queue:        s.Queue,
		Submitter:    s.Submitter,
		Monitor:      s.Monitor,
		Measurements: s.Measurements,
	}
}

// Close flushes the private key from memory.
func (s *Stack) Close() {
	if s.Wallet != nil {
		s.Wallet.Flush()
	}
}
