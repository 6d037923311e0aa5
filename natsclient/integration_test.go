//go:build integrations

package natsclient

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bartossh/Courier/logging"
	"github.com/bartossh/Courier/stdoutwriter"
	"github.com/bartossh/Courier/txmanager"
)

func natsPubSubTestHelper(tb testing.TB) (*Publisher, *Subscriber) {
	cfg := Config{
		Address: "nats://127.0.0.1:4222",
		Name:    "integration-test-1",
		Token:   "D9pHfuiEQPXtqPqPdyxozi8kU2FlHqC0FlSRIzpwDI0=",
	}
	p, err := PublisherConnect(cfg)
	require.NoError(tb, err)
	s, err := SubscriberConnect(cfg)
	require.NoError(tb, err)
	return p, s
}

func TestPubSubTransactionStatus(t *testing.T) {
	p, s := natsPubSubTestHelper(t)
	log := logging.New(nil, nil, stdoutwriter.Logger{})

	received := make(chan TransactionMessage, 1)
	require.NoError(t, s.SubscribeTransactionStatus(func(m TransactionMessage) { received <- m }, log))

	st := txmanager.TransactionStatus{Hash: "AB", Group: txmanager.GroupUnconfirmed}
	require.NoError(t, p.PublishTransactionStatus("tx-1", st))

	select {
	case m := <-received:
		assert.Equal(t, st, m.Status)
	case <-time.After(5 * time.Second):
		t.Fatal("message not received")
	}

	assert.Nil(t, p.Disconnect())
	assert.Nil(t, s.Disconnect())
}
