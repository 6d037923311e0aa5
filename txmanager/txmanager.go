package txmanager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bartossh/Courier/address"
	"github.com/bartossh/Courier/httpclient"
	"github.com/bartossh/Courier/logger"
	"github.com/bartossh/Courier/normalizer"
	"github.com/bartossh/Courier/transaction"
	"github.com/bartossh/Courier/wallet"
)

// Node REST API paths used to announce transactions.
const (
	AnnouncePath         = "/transactions"
	AnnouncePartialPath  = "/transactions/partial"
	TransactionStatusURL = "/transactionStatus"
)

const DefaultFeeMultiplier = 100

var (
	ErrSignerUnavailable        = wallet.ErrSignerUnavailable
	ErrTransactionStatusTimeout = errors.New("transaction status did not reach a final group before the timeout")
	ErrTimeoutRequired          = errors.New("poll timeout must be greater than zero")
	ErrRecipientNetwork         = errors.New("recipient address belongs to another network")
	ErrNotAggregate             = errors.New("partial announce requires an aggregate bonded transaction")
)

// HTTPClient is the node REST client the manager talks through.
type HTTPClient interface {
	Get(ctx context.Context, path string, out any) error
	GetOptional(ctx context.Context, path string, out any) (bool, error)
	Post(ctx context.Context, path string, body, out any) error
	Put(ctx context.Context, path string, body any) (httpclient.Message, error)
}

// Config configures the Manager.
type Config struct {
	FeeMultiplier uint64        `yaml:"fee_multiplier"`
	Deadline      time.Duration `yaml:"deadline"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	PollTimeout   time.Duration `yaml:"poll_timeout"`
}

// DefaultConfig returns fee multiplier 100, two hours deadline and 5s poll interval with 180s timeout.
func DefaultConfig() Config {
	return Config{
		FeeMultiplier: DefaultFeeMultiplier,
		Deadline:      transaction.DefaultDeadline,
		PollInterval:  5 * time.Second,
		PollTimeout:   180 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.FeeMultiplier == 0 {
		c.FeeMultiplier = d.FeeMultiplier
	}
	if c.Deadline <= 0 {
		c.Deadline = d.Deadline
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = d.PollTimeout
	}
	return c
}

// AnnounceResult is the hash of the announced transaction and the node answer.
type AnnounceResult struct {
	Hash       string `json:"hash"`
	APIMessage string `json:"api_message"`
}

// Option configures the Manager.
type Option func(*Manager)

// WithClock replaces the wall clock used for deadlines and poll timeouts.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithSleep replaces the sleep between status polls, it must return ctx error when ctx is done.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(m *Manager) { m.sleep = sleep }
}

// WithNonce replaces the mosaic nonce source.
func WithNonce(nonce func() (uint32, error)) Option {
	return func(m *Manager) { m.nonce = nonce }
}

// Manager builds, signs and announces transactions and follows their status.
type Manager struct {
	client  HTTPClient
	signer  transaction.Signer
	network transaction.Network
	cfg     Config
	log     logger.Logger
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
	nonce   func() (uint32, error)
}

// New creates a new Manager.
func New(client HTTPClient, signer transaction.Signer, network transaction.Network, cfg Config, log logger.Logger, opts ...Option) *Manager {
	m := &Manager{
		client:  client,
		signer:  signer,
		network: network,
		cfg:     cfg.withDefaults(),
		log:     log,
		now:     time.Now,
		sleep:   sleepCtx,
		nonce:   randomNonce,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Network returns the network transactions are built for.
func (m *Manager) Network() transaction.Network {
	return m.network
}

// Config returns the manager configuration.
func (m *Manager) Config() Config {
	return m.cfg
}

// Client returns the node client.
func (m *Manager) Client() HTTPClient {
	return m.client
}

// Signer returns the transaction signer.
func (m *Manager) Signer() transaction.Signer {
	return m.signer
}

// NewTransaction wraps body in to a transaction signed by the signer with the default deadline and a fee
// covering the cosignatures count.
func (m *Manager) NewTransaction(body transaction.Body, cosignatures int) (*transaction.Transaction, error) {
	pub, err := m.signerKey()
	if err != nil {
		return nil, err
	}
	tx := &transaction.Transaction{
		Network:  m.network,
		Signer:   pub,
		Deadline: m.network.Deadline(m.now(), m.cfg.Deadline),
		Body:     body,
	}
	tx.Fee = transaction.CalculateFee(tx.Size(), cosignatures, m.cfg.FeeMultiplier)
	return tx, nil
}

// NewAggregate wraps bodies signed by the signer in to an aggregate complete transaction.
func (m *Manager) NewAggregate(bodies ...transaction.Body) (*transaction.Transaction, error) {
	pub, err := m.signerKey()
	if err != nil {
		return nil, err
	}
	agg := &transaction.Aggregate{}
	for _, b := range bodies {
		agg.Transactions = append(agg.Transactions, transaction.Embedded{Network: m.network, Signer: pub, Body: b})
	}
	return m.NewTransaction(agg, 0)
}

func (m *Manager) signerKey() (transaction.PublicKey, error) {
	if m.signer == nil {
		return transaction.PublicKey{}, ErrSignerUnavailable
	}
	return m.signer.PublicKey()
}

// BuildTransfer builds unsigned transfer transaction from validated request.
func (m *Manager) BuildTransfer(req normalizer.TransferRequest) (*transaction.Transaction, error) {
	body, err := m.transferBody(req)
	if err != nil {
		return nil, err
	}
	return m.NewTransaction(body, 0)
}

func (m *Manager) transferBody(req normalizer.TransferRequest) (transaction.Transfer, error) {
	recipient, err := address.Decode(req.Recipient)
	if err != nil {
		return transaction.Transfer{}, &normalizer.ValidationError{Field: "recipient", Reason: err.Error()}
	}
	if recipient.Network() != m.network.Identifier {
		return transaction.Transfer{}, errors.Join(ErrRecipientNetwork,
			&normalizer.ValidationError{Field: "recipient", Reason: fmt.Sprintf("address is not a %s address", m.network.Name)})
	}
	mosaics := make([]transaction.Mosaic, 0, len(req.Mosaics))
	for _, mo := range req.Mosaics {
		mosaics = append(mosaics, transaction.Mosaic{ID: mo.MosaicID, Amount: uint64(mo.Amount)})
	}
	return transaction.Transfer{Recipient: recipient, Mosaics: mosaics, Message: req.Message}, nil
}

// EstimateFee builds the transfer without signing it and returns its fee: size times fee multiplier.
// It makes no network calls and works without a loaded key.
func (m *Manager) EstimateFee(in normalizer.TransferInput) (uint64, error) {
	req, err := normalizer.NormalizeTransfer(in)
	if err != nil {
		return 0, err
	}
	body, err := m.transferBody(req)
	if err != nil {
		return 0, err
	}
	tx := transaction.Transaction{Network: m.network, Body: body}
	return transaction.CalculateFee(tx.Size(), 0, m.cfg.FeeMultiplier), nil
}

// CreateSignAndAnnounce normalizes the input, builds transfer transaction, signs and announces it.
func (m *Manager) CreateSignAndAnnounce(ctx context.Context, in normalizer.TransferInput) (AnnounceResult, error) {
	req, err := normalizer.NormalizeTransfer(in)
	if err != nil {
		return AnnounceResult{}, err
	}
	tx, err := m.BuildTransfer(req)
	if err != nil {
		return AnnounceResult{}, err
	}
	res, err := m.SignAndAnnounce(ctx, tx)
	if err != nil {
		return AnnounceResult{}, err
	}
	m.logInfo(fmt.Sprintf("transfer transaction %s sent to %s", res.Hash, req.Recipient))
	return res, nil
}

// Sign signs the transaction and returns the payload with its hash.
func (m *Manager) Sign(tx *transaction.Transaction) (transaction.Signed, error) {
	if m.signer == nil {
		return transaction.Signed{}, ErrSignerUnavailable
	}
	sig, err := m.signer.SignTransaction(tx)
	if err != nil {
		return transaction.Signed{}, err
	}
	return tx.AttachSignature(sig)
}

// SignAndAnnounce signs the transaction, computes hash from the signed payload and announces it.
func (m *Manager) SignAndAnnounce(ctx context.Context, tx *transaction.Transaction) (AnnounceResult, error) {
	signed, err := m.Sign(tx)
	if err != nil {
		return AnnounceResult{}, err
	}
	return m.Announce(ctx, AnnouncePath, signed)
}

// AnnouncePartial signs aggregate bonded transaction and announces it for collecting cosignatures.
func (m *Manager) AnnouncePartial(ctx context.Context, tx *transaction.Transaction) (AnnounceResult, error) {
	if tx.Body == nil || tx.Body.Type() != transaction.TypeAggregateBonded {
		return AnnounceResult{}, ErrNotAggregate
	}
	signed, err := m.Sign(tx)
	if err != nil {
		return AnnounceResult{}, err
	}
	return m.Announce(ctx, AnnouncePartialPath, signed)
}

type payloadBody struct {
	Payload string `json:"payload"`
}

// Announce puts already signed payload to the node path.
func (m *Manager) Announce(ctx context.Context, path string, signed transaction.Signed) (AnnounceResult, error) {
	msg, err := m.client.Put(ctx, path, payloadBody{Payload: signed.PayloadHex()})
	if err != nil {
		m.logErr(fmt.Sprintf("announcing %s transaction %s failed: %s", signed.Type, signed.Hash, err))
		return AnnounceResult{}, err
	}
	m.logInfo(fmt.Sprintf("%s transaction %s announced: %s", signed.Type, signed.Hash, msg.Message))
	return AnnounceResult{Hash: signed.Hash.String(), APIMessage: msg.Message}, nil
}

func (m *Manager) logInfo(msg string) {
	if m.log != nil {
		m.log.Info(msg)
	}
}

func (m *Manager) logErr(msg string) {
	if m.log != nil {
		m.log.Error(msg)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
