package listener

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"

	"github.com/bartossh/Courier/emulator"
	"github.com/bartossh/Courier/httpclient"
	"github.com/bartossh/Courier/logging"
	"github.com/bartossh/Courier/normalizer"
	"github.com/bartossh/Courier/transaction"
	"github.com/bartossh/Courier/txmanager"
	"github.com/bartossh/Courier/wallet"
)

const testNode = "http://emulated-node:3000"

func TestWebsocketURL(t *testing.T) {
	cases := map[string]string{
		"http://node:3000":      "ws://node:3000/ws",
		"https://node:3001/":    "wss://node:3001/ws",
		" ws://node:3000/ws ":   "ws://node:3000/ws",
		"wss://node.example.io": "wss://node.example.io/ws",
	}
	for in, want := range cases {
		got, err := WebsocketURL(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := WebsocketURL("ftp://node")
	assert.Error(t, err)
}

func TestDecode(t *testing.T) {
	ev, ok := decode([]byte(`{"topic":"confirmedAdded/TABC","data":{"meta":{"hash":"AA"}}}`))
	require.True(t, ok)
	assert.Equal(t, ChannelConfirmedAdded, ev.Channel)
	assert.Equal(t, "TABC", ev.Address)
	assert.Equal(t, "AA", ev.Hash)

	ev, ok = decode([]byte(`{"topic":"cosignature/TABC","data":{"parentHash":"BB","signerPublicKey":"CC"}}`))
	require.True(t, ok)
	assert.Equal(t, "BB", ev.Hash)

	ev, ok = decode([]byte(`{"topic":"status/TABC","data":{"hash":"DD","code":"Failure_Core_Past_Deadline"}}`))
	require.True(t, ok)
	assert.Equal(t, ChannelStatus, ev.Channel)
	assert.Equal(t, "DD", ev.Hash)
	assert.Equal(t, "Failure_Core_Past_Deadline", ev.Code)

	ev, ok = decode([]byte(`{"topic":"block","data":{"block":{"height":"10"}}}`))
	require.True(t, ok)
	assert.Equal(t, ChannelBlock, ev.Channel)
	assert.Empty(t, ev.Address)

	_, ok = decode([]byte(`{"uid":"only"}`))
	assert.False(t, ok)
	_, ok = decode([]byte(`not json`))
	assert.False(t, ok)
}

func TestNotConnected(t *testing.T) {
	l := New(DefaultConfig(testNode), nil)
	assert.ErrorIs(t, l.Subscribe(ChannelBlock, ""), ErrNotConnected)
	l.Stop()
}

func TestListenerFollowsConfirmation(t *testing.T) {
	n, err := emulator.New(emulator.DefaultConfig(), logging.New(nil, nil))
	require.NoError(t, err)
	ln := fasthttputil.NewInmemoryListener()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	go n.Serve(ctx, ln)
	defer n.Shutdown()

	dialer := &websocket.Dialer{
		NetDialContext:   func(context.Context, string, string) (net.Conn, error) { return ln.Dial() },
		HandshakeTimeout: time.Second,
	}
	l := New(DefaultConfig(testNode), logging.New(nil, nil), WithDialer(dialer))
	require.NoError(t, l.Connect(ctx))
	defer l.Stop()
	assert.NotEmpty(t, l.UID())
	assert.ErrorIs(t, l.Connect(ctx), ErrAlreadyConnected)

	w, err := wallet.New(transaction.Testnet)
	require.NoError(t, err)
	a, err := w.Address()
	require.NoError(t, err)
	require.NoError(t, l.Subscribe(ChannelUnconfirmedAdded, a.Pretty()))
	require.NoError(t, l.Subscribe(ChannelConfirmedAdded, a.String()))
	// subscriptions are applied by the node asynchronously
	time.Sleep(100 * time.Millisecond)

	events := l.Events()
	defer events.Cancel()

	cfg := httpclient.DefaultConfig(testNode)
	cfg.Retry.MaxRetries = 0
	client := httpclient.New(cfg, nil, httpclient.WithDial(func(string) (net.Conn, error) { return ln.Dial() }))
	tm := txmanager.New(client, w, transaction.Testnet, txmanager.DefaultConfig(), nil)

	res, err := tm.CreateSignAndAnnounce(ctx, normalizer.TransferInput{
		Recipient: a.String(),
		Mosaics:   []normalizer.MosaicInput{{MosaicID: transaction.Testnet.CurrencyMosaicID, Amount: 10}},
		Message:   "ws",
	})
	require.NoError(t, err)

	select {
	case ev := <-events.Channel():
		assert.Equal(t, ChannelUnconfirmedAdded, ev.Channel)
		assert.Equal(t, res.Hash, ev.Hash)
		assert.Equal(t, a.String(), ev.Address)
	case <-ctx.Done():
		t.Fatal("unconfirmed event not received")
	}

	waited := make(chan Event, 1)
	go func() {
		ev, err := l.WaitFor(ctx, ChannelConfirmedAdded, res.Hash)
		if err == nil {
			waited <- ev
		}
		close(waited)
	}()
	require.Eventually(t, func() bool { return l.obs.Count() == 2 }, time.Second, 5*time.Millisecond)

	st, err := tm.PollForTransactionStatus(ctx, res.Hash, 5*time.Second, 10*time.Millisecond, nil)
	require.NoError(t, err)
	assert.Equal(t, txmanager.GroupConfirmed, st.Group)

	ev, ok := <-waited
	require.True(t, ok)
	assert.Equal(t, res.Hash, ev.Hash)
	assert.NotEmpty(t, ev.Data)

	require.NoError(t, l.Unsubscribe(ChannelConfirmedAdded, a.String()))
}

// closingNode greets every websocket client with an uid and closes the socket once drop is closed.
func closingNode(t *testing.T, drop <-chan struct{}) *fasthttputil.InmemoryListener {
	upgrader := websocket.FastHTTPUpgrader{}
	ln := fasthttputil.NewInmemoryListener()
	srv := &fasthttp.Server{Handler: func(ctx *fasthttp.RequestCtx) {
		err := upgrader.Upgrade(ctx, func(conn *websocket.Conn) {
			defer conn.Close()
			if err := conn.WriteJSON(map[string]string{"uid": "closing-node"}); err != nil {
				return
			}
			<-drop
		})
		if err != nil {
			t.Log(err)
		}
	}}
	go srv.Serve(ln)
	t.Cleanup(func() { ln.Close() })
	return ln
}

func TestRemoteCloseResetsConnection(t *testing.T) {
	drop := make(chan struct{})
	ln := closingNode(t, drop)
	dialer := &websocket.Dialer{
		NetDialContext:   func(context.Context, string, string) (net.Conn, error) { return ln.Dial() },
		HandshakeTimeout: time.Second,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	l := New(DefaultConfig(testNode), logging.New(nil, nil), WithDialer(dialer))
	defer l.Stop()
	require.NoError(t, l.Connect(ctx))
	assert.Equal(t, "closing-node", l.UID())

	waited := make(chan error, 1)
	go func() {
		_, err := l.WaitFor(ctx, ChannelConfirmedAdded, "AB")
		waited <- err
	}()
	require.Eventually(t, func() bool { return l.obs.Count() == 1 }, time.Second, 5*time.Millisecond)

	close(drop)

	select {
	case err := <-waited:
		assert.ErrorIs(t, err, ErrDisconnected)
	case <-ctx.Done():
		t.Fatal("wait did not return after the node closed the socket")
	}
	require.Eventually(t, func() bool { return l.UID() == "" }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, l.Subscribe(ChannelBlock, ""), ErrNotConnected)
	assert.NoError(t, l.Connect(ctx))
}

func TestWaitForNotConnected(t *testing.T) {
	l := New(DefaultConfig(testNode), nil)
	_, err := l.WaitFor(context.Background(), ChannelConfirmedAdded, "AB")
	assert.ErrorIs(t, err, ErrNotConnected)
}
