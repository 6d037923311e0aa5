package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bartossh/Courier/logger"
	"github.com/bartossh/Courier/normalizer"
	"github.com/bartossh/Courier/telemetry"
	"github.com/bartossh/Courier/txmanager"
	"github.com/bartossh/Courier/txqueue"
)

const (
	metricSubmitted = "courier_batch_submitted_total"
	metricConfirmed = "courier_batch_confirmed_total"
	metricFailed    = "courier_batch_failed_total"
	metricDuration  = "courier_batch_transaction_seconds"
)

var ErrEmptyQueue = errors.New("transaction queue is empty")

// Announcer announces transfers and follows their status.
type Announcer interface {
	CreateSignAndAnnounce(ctx context.Context, in normalizer.TransferInput) (txmanager.AnnounceResult, error)
	PollForTransactionStatus(
		ctx context.Context, hash string, timeout, interval time.Duration, onUpdate txmanager.StatusUpdateFunc,
	) (txmanager.TransactionStatus, error)
}

// Queue is the source of transactions to submit.
type Queue interface {
	PopAll() ([]txqueue.QueuedTransaction, error)
	Add(tx txqueue.QueuedTransaction) (string, error)
}

// Config configures the Submitter.
type Config struct {
	PollTimeout      time.Duration `yaml:"poll_timeout"`
	PollInterval     time.Duration `yaml:"poll_interval"`
	RequeueOnFailure bool          `yaml:"requeue_on_failure"` // puts back transactions that failed to announce
}

// DefaultConfig returns the default batch configuration.
func DefaultConfig() Config {
	return Config{PollTimeout: 180 * time.Second, PollInterval: 5 * time.Second, RequeueOnFailure: true}
}

// Result is the outcome of one queued transaction.
// Hash is empty when the transaction was not announced.
type Result struct {
	QueuedID string                      `json:"queued_id"`
	Hash     string                      `json:"hash,omitempty"`
	Status   txmanager.TransactionStatus `json:"status"`
	Err      error                       `json:"-"`
	Requeued bool                        `json:"requeued,omitempty"`
}

// Announced reports whether the transaction reached the node.
func (r Result) Announced() bool {
	return r.Hash != ""
}

// UpdateFunc receives status updates of the queued transaction with the id.
type UpdateFunc func(queuedID string, st txmanager.TransactionStatus)

// Submitter submits queued transactions concurrently.
type Submitter struct {
	a        Announcer
	cfg      Config
	onUpdate UpdateFunc
	ms       *telemetry.Measurements
	log      logger.Logger
}

// Option configures the Submitter.
type Option func(*Submitter)

// WithUpdates sets the callback receiving every distinct status of every transaction.
// The callback is called from many goroutines.
func WithUpdates(f UpdateFunc) Option {
	return func(s *Submitter) { s.onUpdate = f }
}

// WithMeasurements counts submitted, confirmed and failed transactions.
func WithMeasurements(ms *telemetry.Measurements) Option {
	return func(s *Submitter) {
		ms.CreateCounter(metricSubmitted, "Transactions announced from the queue.")
		ms.CreateCounter(metricConfirmed, "Queued transactions confirmed.")
		ms.CreateCounter(metricFailed, "Queued transactions failed or not confirmed in time.")
		ms.CreateObservableHistogram(metricDuration, "Seconds from announce to the final status.")
		s.ms = ms
	}
}

// New creates a new Submitter.
func New(a Announcer, cfg Config, log logger.Logger, opts ...Option) *Submitter {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultConfig().PollTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	s := &Submitter{a: a, cfg: cfg, log: log}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SubmitAll empties the queue and submits every transaction in its own goroutine.
// Announce precedes polling within a transaction, there is no ordering across transactions,
// so results should be matched by hash or queued id rather than position.
func (s *Submitter) SubmitAll(ctx context.Context, q Queue) ([]Result, error) {
	txs, err := q.PopAll()
	if err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		return nil, ErrEmptyQueue
	}

	results := make([]Result, len(txs))
	var wg sync.WaitGroup
	wg.Add(len(txs))
	for i, tx := range txs {
		go func(i int, tx txqueue.QueuedTransaction) {
			defer wg.Done()
			results[i] = s.submit(ctx, tx)
		}(i, tx)
	}
	wg.Wait()

	var requeueErr error
	if s.cfg.RequeueOnFailure {
		for i, r := range results {
			if r.Announced() {
				continue
			}
			if _, err := q.Add(txs[i]); err != nil {
				requeueErr = errors.Join(requeueErr, err)
				continue
			}
			results[i].Requeued = true
		}
	}
	s.logInfo(fmt.Sprintf("batch of %d transactions finished, %d confirmed", len(txs), Confirmed(results)))
	return results, requeueErr
}

func (s *Submitter) submit(ctx context.Context, tx txqueue.QueuedTransaction) Result {
	res := Result{QueuedID: tx.ID}
	ann, err := s.a.CreateSignAndAnnounce(ctx, tx.TransferInput())
	if err != nil {
		res.Err = err
		s.ms.IncrementCounter(metricFailed)
		s.logErr(fmt.Sprintf("queued transaction %s not announced: %s", tx.ID, err))
		return res
	}
	res.Hash = ann.Hash
	s.ms.IncrementCounter(metricSubmitted)

	start := time.Now()
	st, err := s.a.PollForTransactionStatus(ctx, ann.Hash, s.cfg.PollTimeout, s.cfg.PollInterval, func(st txmanager.TransactionStatus) {
		if s.onUpdate != nil {
			s.onUpdate(tx.ID, st)
		}
	})
	s.ms.RecordHistogramTime(metricDuration, time.Since(start))
	res.Status = st
	res.Err = err
	switch {
	case err == nil && st.Group == txmanager.GroupConfirmed:
		s.ms.IncrementCounter(metricConfirmed)
	default:
		s.ms.IncrementCounter(metricFailed)
	}
	return res
}

// ByHash indexes announced results by transaction hash.
func ByHash(results []Result) map[string]Result {
	out := make(map[string]Result, len(results))
	for _, r := range results {
		if r.Announced() {
			out[r.Hash] = r
		}
	}
	return out
}

// Confirmed counts confirmed results.
func Confirmed(results []Result) int {
	var n int
	for _, r := range results {
		if r.Err == nil && r.Status.Group == txmanager.GroupConfirmed {
			n++
		}
	}
	return n
}

func (s *Submitter) logInfo(msg string) {
	if s.log != nil {
		s.log.Info(msg)
	}
}

func (s *Submitter) logErr(msg string) {
	if s.log != nil {
		s.log.Error(msg)
	}
}
