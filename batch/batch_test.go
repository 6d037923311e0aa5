package batch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bartossh/Courier/normalizer"
	"github.com/bartossh/Courier/telemetry"
	"github.com/bartossh/Courier/txmanager"
	"github.com/bartossh/Courier/txqueue"
)

var errRejected = errors.New("insufficient balance")

// fakeAnnouncer holds every poll until all transactions of the batch were announced.
type fakeAnnouncer struct {
	mux       sync.Mutex
	announced map[string]string
	expected  int
	all       chan struct{}
}

func newFakeAnnouncer(expected int) *fakeAnnouncer {
	return &fakeAnnouncer{announced: make(map[string]string), expected: expected, all: make(chan struct{})}
}

func (f *fakeAnnouncer) CreateSignAndAnnounce(_ context.Context, in normalizer.TransferInput) (txmanager.AnnounceResult, error) {
	f.mux.Lock()
	defer f.mux.Unlock()
	defer func() {
		if len(f.announced) == f.expected {
			close(f.all)
			f.expected = -1
		}
	}()
	if strings.HasPrefix(in.Message, "reject") {
		f.expected--
		return txmanager.AnnounceResult{}, errRejected
	}
	hash := strings.Repeat(string(in.Message[len(in.Message)-1]), 64)
	f.announced[hash] = in.Message
	return txmanager.AnnounceResult{Hash: hash}, nil
}

func (f *fakeAnnouncer) PollForTransactionStatus(
	ctx context.Context, hash string, _, _ time.Duration, onUpdate txmanager.StatusUpdateFunc,
) (txmanager.TransactionStatus, error) {
	select {
	case <-f.all:
	case <-time.After(time.Second):
		return txmanager.TransactionStatus{}, errors.New("announce of the batch was serialized behind polling")
	}
	onUpdate(txmanager.TransactionStatus{Hash: hash, Group: txmanager.GroupUnconfirmed})
	group := txmanager.GroupConfirmed
	f.mux.Lock()
	if strings.HasPrefix(f.announced[hash], "fail") {
		group = txmanager.GroupFailed
	}
	f.mux.Unlock()
	st := txmanager.TransactionStatus{Hash: hash, Group: group, Code: "Success"}
	onUpdate(st)
	return st, nil
}

func queued(t *testing.T, q *txqueue.Queue, messages ...string) []string {
	t.Helper()
	var ids []string
	for _, m := range messages {
		id, err := q.Add(txqueue.QueuedTransaction{
			Recipient: "TBPXHWRJ5ATGFKNZYUZ6CYUJ2Y5HVCSNKHTEQXI",
			Mosaics:   []normalizer.MosaicAmount{{MosaicID: 1, Amount: 1}},
			Message:   m,
		})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return ids
}

func TestSubmitAllAnnouncesConcurrently(t *testing.T) {
	q, err := txqueue.New(t.TempDir(), nil)
	require.NoError(t, err)
	ids := queued(t, q, "ok-A", "ok-B", "fail-C")

	var mux sync.Mutex
	updates := make(map[string]int)
	a := newFakeAnnouncer(3)
	s := New(a, DefaultConfig(), nil, WithMeasurements(telemetry.New()), WithUpdates(func(id string, _ txmanager.TransactionStatus) {
		mux.Lock()
		defer mux.Unlock()
		updates[id]++
	}))

	results, err := s.SubmitAll(context.Background(), q)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.True(t, q.IsEmpty())
	assert.Equal(t, 2, Confirmed(results))

	byHash := ByHash(results)
	require.Len(t, byHash, 3)
	assert.Equal(t, txmanager.GroupFailed, byHash[strings.Repeat("C", 64)].Status.Group)
	assert.Equal(t, ids[0], byHash[strings.Repeat("A", 64)].QueuedID)
	for _, id := range ids {
		assert.Equal(t, 2, updates[id])
	}
}

func TestSubmitAllRequeuesFailedAnnouncements(t *testing.T) {
	q, err := txqueue.New(t.TempDir(), nil)
	require.NoError(t, err)
	ids := queued(t, q, "ok-A", "reject-B")

	s := New(newFakeAnnouncer(2), DefaultConfig(), nil)
	results, err := s.SubmitAll(context.Background(), q)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.ErrorIs(t, results[1].Err, errRejected)
	assert.False(t, results[1].Announced())
	assert.True(t, results[1].Requeued)
	assert.Equal(t, 1, q.Count())
	_, ok := q.Get(ids[1])
	assert.True(t, ok)
}

func TestSubmitAllWithoutRequeue(t *testing.T) {
	q, err := txqueue.New(t.TempDir(), nil)
	require.NoError(t, err)
	queued(t, q, "reject-A")

	cfg := DefaultConfig()
	cfg.RequeueOnFailure = false
	results, err := New(newFakeAnnouncer(1), cfg, nil).SubmitAll(context.Background(), q)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].Requeued)
	assert.True(t, q.IsEmpty())
}

func TestSubmitAllEmptyQueue(t *testing.T) {
	q, err := txqueue.New(t.TempDir(), nil)
	require.NoError(t, err)
	_, err = New(newFakeAnnouncer(0), DefaultConfig(), nil).SubmitAll(context.Background(), q)
	assert.ErrorIs(t, err, ErrEmptyQueue)
}
