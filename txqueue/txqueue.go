package txqueue

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bartossh/Courier/fileoperations"
	"github.com/bartossh/Courier/logger"
	"github.com/bartossh/Courier/normalizer"
)

const (
	// Version is the schema version of the persisted queue document.
	Version  = 1
	FileName = "transaction_queue.json"
	idPrefix = "tx-"
)

var (
	ErrEmptyDir     = errors.New("queue storage directory is not set")
	ErrDuplicatedID = errors.New("transaction id is already queued")
)

// QueuedTransaction is a transfer waiting in the queue for batch submission.
type QueuedTransaction struct {
	ID           string                    `json:"id"`
	Recipient    string                    `json:"recipient"`
	Mosaics      []normalizer.MosaicAmount `json:"mosaics"`
	Message      string                    `json:"message"`
	EstimatedFee uint64                    `json:"estimated_fee"`
	CreatedAt    time.Time                 `json:"created_at"`
}

// clone copies the transaction so the mosaics are not shared with the caller.
func (q QueuedTransaction) clone() QueuedTransaction {
	q.Mosaics = append([]normalizer.MosaicAmount(nil), q.Mosaics...)
	return q
}

// TransferInput returns queued transaction as the input of the transaction manager.
func (q QueuedTransaction) TransferInput() normalizer.TransferInput {
	return normalizer.TransferInput{
		Recipient: q.Recipient,
		Mosaics:   normalizer.MosaicInputs(q.Mosaics),
		Message:   q.Message,
	}
}

type document struct {
	Version      int                 `json:"version"`
	Transactions []QueuedTransaction `json:"transactions"`
	UpdatedAt    time.Time           `json:"updatedAt"`
}

// Option configures the Queue.
type Option func(*Queue)

// WithClock sets the time source used for ids and timestamps.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		q.now = now
	}
}

// Queue is a durable FIFO of transactions persisted as a single JSON document.
// Every mutation rewrites the whole file, the in memory state changes only when the write succeeds.
// Queue instances pointing at the same file are not coordinated.
type Queue struct {
	mux    sync.Mutex
	path   string
	txs    []QueuedTransaction
	lastID int64
	now    func() time.Time
	log    logger.Logger
}

// New creates the queue stored in dir and loads its persisted content.
// Unreadable, malformed or differently versioned files result in an empty queue.
func New(dir string, log logger.Logger, opts ...Option) (*Queue, error) {
	if dir == "" {
		return nil, ErrEmptyDir
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}
	q := &Queue{
		path: filepath.Join(dir, FileName),
		now:  time.Now,
		log:  log,
	}
	for _, o := range opts {
		o(q)
	}
	q.load()
	return q, nil
}

// Path returns the path of the queue file.
func (q *Queue) Path() string {
	return q.path
}

func (q *Queue) load() {
	raw, err := os.ReadFile(q.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			q.warn(fmt.Sprintf("failed to read transaction queue %s, starting empty: %s", q.path, err))
		}
		return
	}
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		q.warn(fmt.Sprintf("failed to load transaction queue %s, starting empty: %s", q.path, err))
		return
	}
	if doc.Version != Version {
		q.warn(fmt.Sprintf("transaction queue version mismatch, got %d expected %d, starting empty", doc.Version, Version))
		return
	}
	q.txs = doc.Transactions
	for _, tx := range q.txs {
		var ms int64
		if _, err := fmt.Sscanf(tx.ID, idPrefix+"%d", &ms); err == nil && ms > q.lastID {
			q.lastID = ms
		}
	}
}

func (q *Queue) persist(txs []QueuedTransaction) error {
	if txs == nil {
		txs = []QueuedTransaction{}
	}
	raw, err := json.MarshalIndent(document{Version: Version, Transactions: txs, UpdatedAt: q.now().UTC()}, "", "  ")
	if err != nil {
		return err
	}
	if err := fileoperations.WriteAtomic(q.path, raw, 0600); err != nil {
		q.logErr(fmt.Sprintf("failed to save transaction queue: %s", err))
		return err
	}
	return nil
}

// Add appends the transaction and returns its id.
// An id is assigned when missing, ids derive from the millisecond timestamp and are bumped to stay unique.
func (q *Queue) Add(tx QueuedTransaction) (string, error) {
	q.mux.Lock()
	defer q.mux.Unlock()

	now := q.now()
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = now.UTC()
	}
	if tx.ID == "" {
		ms := now.UnixMilli()
		if ms <= q.lastID {
			ms = q.lastID + 1
		}
		q.lastID = ms
		tx.ID = fmt.Sprintf("%s%d", idPrefix, ms)
	} else if q.index(tx.ID) >= 0 {
		return "", errors.Join(ErrDuplicatedID, fmt.Errorf("id %s", tx.ID))
	}
	tx = tx.clone()

	next := append(q.copyAll(), tx)
	if err := q.persist(next); err != nil {
		return "", err
	}
	q.txs = next
	q.info(fmt.Sprintf("added transaction %s to queue", tx.ID))
	return tx.ID, nil
}

// Remove removes transaction with given id, it reports false when there is no such transaction.
func (q *Queue) Remove(id string) (bool, error) {
	q.mux.Lock()
	defer q.mux.Unlock()

	i := q.index(id)
	if i < 0 {
		return false, nil
	}
	next := make([]QueuedTransaction, 0, len(q.txs)-1)
	next = append(next, q.txs[:i]...)
	next = append(next, q.txs[i+1:]...)
	if err := q.persist(next); err != nil {
		return false, err
	}
	q.txs = next
	q.info(fmt.Sprintf("removed transaction %s from queue", id))
	return true, nil
}

// Get returns the transaction with given id.
func (q *Queue) Get(id string) (QueuedTransaction, bool) {
	q.mux.Lock()
	defer q.mux.Unlock()
	i := q.index(id)
	if i < 0 {
		return QueuedTransaction{}, false
	}
	return q.txs[i].clone(), true
}

// GetAll returns a copy of all queued transactions in order.
func (q *Queue) GetAll() []QueuedTransaction {
	q.mux.Lock()
	defer q.mux.Unlock()
	return q.copyAll()
}

// Count returns the number of queued transactions.
func (q *Queue) Count() int {
	q.mux.Lock()
	defer q.mux.Unlock()
	return len(q.txs)
}

// IsEmpty reports whether the queue has no transactions.
func (q *Queue) IsEmpty() bool {
	return q.Count() == 0
}

// TotalEstimatedFee sums estimated fees of all queued transactions.
func (q *Queue) TotalEstimatedFee() uint64 {
	q.mux.Lock()
	defer q.mux.Unlock()
	var total uint64
	for _, tx := range q.txs {
		total += tx.EstimatedFee
	}
	return total
}

// Clear removes all transactions and returns how many were removed.
func (q *Queue) Clear() (int, error) {
	q.mux.Lock()
	defer q.mux.Unlock()
	n := len(q.txs)
	if err := q.persist(nil); err != nil {
		return 0, err
	}
	q.txs = nil
	q.info(fmt.Sprintf("cleared transaction queue, %d items", n))
	return n, nil
}

// PopAll empties the queue and returns its previous content in insertion order.
func (q *Queue) PopAll() ([]QueuedTransaction, error) {
	q.mux.Lock()
	defer q.mux.Unlock()
	if err := q.persist(nil); err != nil {
		return nil, err
	}
	out := q.txs
	q.txs = nil
	return out, nil
}

// Reorder sets the order of transactions, ids must be a permutation of all queued ids.
// It reports false and leaves the queue untouched otherwise.
func (q *Queue) Reorder(ids []string) (bool, error) {
	q.mux.Lock()
	defer q.mux.Unlock()
	if len(ids) != len(q.txs) {
		return false, nil
	}
	seen := make(map[string]struct{}, len(ids))
	next := make([]QueuedTransaction, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			return false, nil
		}
		i := q.index(id)
		if i < 0 {
			return false, nil
		}
		seen[id] = struct{}{}
		next = append(next, q.txs[i])
	}
	if err := q.persist(next); err != nil {
		return false, err
	}
	q.txs = next
	return true, nil
}

func (q *Queue) index(id string) int {
	for i, tx := range q.txs {
		if tx.ID == id {
			return i
		}
	}
	return -1
}

func (q *Queue) copyAll() []QueuedTransaction {
	out := make([]QueuedTransaction, len(q.txs))
	for i, tx := range q.txs {
		out[i] = tx.clone()
	}
	return out
}

func (q *Queue) info(msg string) {
	if q.log != nil {
		q.log.Info(msg)
	}
}

func (q *Queue) warn(msg string) {
	if q.log != nil {
		q.log.Warn(msg)
	}
}

func (q *Queue) logErr(msg string) {
	if q.log != nil {
		q.log.Error(msg)
	}
}
