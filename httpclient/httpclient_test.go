package httpclient

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"

	"github.com/bartossh/Courier/logging"
	"github.com/bartossh/Courier/telemetry"
)

const testNode = "http://node.test:3000"

type fakeSleep struct {
	mux    sync.Mutex
	delays []time.Duration
}

func (f *fakeSleep) sleep(ctx context.Context, d time.Duration) error {
	f.mux.Lock()
	defer f.mux.Unlock()
	f.delays = append(f.delays, d)
	return ctx.Err()
}

func serve(t *testing.T, h fasthttp.RequestHandler) *fasthttputil.InmemoryListener {
	ln := fasthttputil.NewInmemoryListener()
	srv := &fasthttp.Server{Handler: h}
	go srv.Serve(ln)
	t.Cleanup(func() { ln.Close() })
	return ln
}

func newTestClient(ln *fasthttputil.InmemoryListener, retries int, opts ...Option) *Client {
	cfg := DefaultConfig(testNode)
	cfg.Retry.MaxRetries = retries
	opts = append([]Option{WithDial(func(string) (net.Conn, error) { return ln.Dial() })}, opts...)
	return New(cfg, logging.New(nil, nil), opts...)
}

func TestRetryDelayMonotonicAndCapped(t *testing.T) {
	r := DefaultRetryConfig()
	expected := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 30 * time.Second, 30 * time.Second}
	for i, e := range expected {
		assert.Equal(t, e, r.Delay(i))
	}
	prev := time.Duration(0)
	for i := 0; i < 200; i++ {
		d := r.Delay(i)
		assert.GreaterOrEqual(t, d, prev)
		assert.LessOrEqual(t, d, r.MaxDelay)
		prev = d
	}
}

func TestRetryableStatusMakesMaxRetriesPlusOneAttempts(t *testing.T) {
	for _, retries := range []int{0, 1, 3, 5} {
		var hits atomic.Int32
		ln := serve(t, func(ctx *fasthttp.RequestCtx) {
			hits.Add(1)
			ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
			ctx.SetBodyString("busy")
		})
		var sleeper fakeSleep
		var observed []int
		c := newTestClient(ln, retries, WithSleep(sleeper.sleep), WithRetryObserver(func(attempt int, err error, delay time.Duration) {
			observed = append(observed, attempt)
			assert.Equal(t, DefaultRetryConfig().Delay(attempt-1), delay)
		}))

		err := c.Get(context.Background(), "/chain/info", nil)

		var ne *NetworkError
		require.ErrorAs(t, err, &ne)
		assert.Equal(t, HTTPError, ne.Kind)
		assert.Equal(t, 503, ne.StatusCode)
		assert.Equal(t, "busy", ne.ResponseText)
		assert.Equal(t, int32(retries+1), hits.Load())
		assert.Len(t, sleeper.delays, retries)
		assert.Len(t, observed, retries)
		for i, a := range observed {
			assert.Equal(t, i+1, a)
		}
	}
}

func TestNonRetryableStatusIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	ln := serve(t, func(ctx *fasthttp.RequestCtx) {
		hits.Add(1)
		ctx.SetStatusCode(fasthttp.StatusBadRequest)
		ctx.SetBodyString(`{"code":"InvalidContent","message":"bad payload"}`)
	})
	var sleeper fakeSleep
	c := newTestClient(ln, 3, WithSleep(sleeper.sleep))

	_, err := c.Put(context.Background(), "/transactions", map[string]string{"payload": "00"})
	assert.Error(t, err)
	assert.Equal(t, int32(1), hits.Load())
	assert.Empty(t, sleeper.delays)
	assert.Equal(t, 400, StatusCode(err))
}

func TestSucceedsAfterTransientFailures(t *testing.T) {
	var hits atomic.Int32
	ln := serve(t, func(ctx *fasthttp.RequestCtx) {
		if hits.Add(1) < 3 {
			ctx.SetStatusCode(fasthttp.StatusBadGateway)
			return
		}
		ctx.SetContentType("application/json")
		ctx.SetBodyString(`{"status":{"apiNode":"up","db":"up"}}`)
	})
	var sleeper fakeSleep
	m := telemetry.New()
	c := newTestClient(ln, 3, WithSleep(sleeper.sleep), WithMeasurements(m))

	h, err := c.NodeHealth(context.Background())
	assert.Nil(t, err)
	assert.True(t, h.Healthy())
	assert.Equal(t, int32(3), hits.Load())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeper.delays)
}

func TestGetOptionalNotFound(t *testing.T) {
	ln := serve(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusNotFound)
		ctx.SetBodyString(`{"code":"ResourceNotFound"}`)
	})
	c := newTestClient(ln, 3)

	var out map[string]any
	found, err := c.GetOptional(context.Background(), "/accounts/TX/multisig", &out)
	assert.Nil(t, err)
	assert.False(t, found)

	err = c.Get(context.Background(), "/accounts/TX/multisig", &out)
	assert.True(t, IsNotFound(err))
}

func TestGetOptionalFound(t *testing.T) {
	ln := serve(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetContentType("application/json")
		ctx.SetBodyString(`{"height":"42"}`)
	})
	c := newTestClient(ln, 0)

	var out ChainInfo
	found, err := c.GetOptional(context.Background(), ChainInfoPath, &out)
	assert.Nil(t, err)
	assert.True(t, found)
	assert.Equal(t, "42", out.Height)
}

func TestPutMessageVariants(t *testing.T) {
	cases := []struct {
		body     string
		expected string
	}{
		{`{"message":"packet 9 was pushed to the network via /transactions"}`, "packet 9 was pushed to the network via /transactions"},
		{"accepted", "accepted"},
		{"", ""},
	}
	for _, tc := range cases {
		t.Run(tc.expected, func(t *testing.T) {
			ln := serve(t, func(ctx *fasthttp.RequestCtx) {
				assert.Equal(t, "PUT", string(ctx.Method()))
				assert.Equal(t, "application/json", string(ctx.Request.Header.ContentType()))
				ctx.SetStatusCode(fasthttp.StatusAccepted)
				ctx.SetBodyString(tc.body)
			})
			c := newTestClient(ln, 0)
			msg, err := c.Put(context.Background(), "/transactions", map[string]string{"payload": "AA"})
			assert.Nil(t, err)
			assert.Equal(t, tc.expected, msg.Message)
		})
	}
}

func TestConnectionErrorIsRetried(t *testing.T) {
	var dials atomic.Int32
	var sleeper fakeSleep
	cfg := DefaultConfig(testNode)
	cfg.Retry.MaxRetries = 2
	c := New(cfg, logging.New(nil, nil), WithSleep(sleeper.sleep), WithDial(func(addr string) (net.Conn, error) {
		dials.Add(1)
		return nil, &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}
	}))

	err := c.Get(context.Background(), NodeInfoPath, nil)
	var ne *NetworkError
	require.ErrorAs(t, err, &ne)
	assert.Equal(t, ConnectionError, ne.Kind)
	assert.Equal(t, int32(3), dials.Load())
	assert.Contains(t, err.Error(), "Cannot connect to node: "+testNode)
}

func TestConnectTimeoutIsClassifiedAsTimeout(t *testing.T) {
	cfg := DefaultConfig(testNode)
	cfg.Retry.MaxRetries = 0
	cfg.Timeouts.Connect = 20 * time.Millisecond
	release := make(chan struct{})
	defer close(release)
	c := New(cfg, logging.New(nil, nil), WithDial(func(addr string) (net.Conn, error) {
		<-release
		return nil, errors.New("released")
	}))

	err := c.Get(context.Background(), NodeInfoPath, nil)
	var ne *NetworkError
	require.ErrorAs(t, err, &ne)
	assert.Equal(t, Timeout, ne.Kind)
	assert.Contains(t, err.Error(), "Connection timeout. Node may be unavailable")
}

// hanging serves a node that never answers until the test ends.
func hanging(t *testing.T, hits *atomic.Int32) *fasthttputil.InmemoryListener {
	release := make(chan struct{})
	ln := serve(t, func(ctx *fasthttp.RequestCtx) {
		hits.Add(1)
		<-release
	})
	t.Cleanup(func() { close(release) })
	return ln
}

func TestPersistentTimeoutMakesMaxRetriesPlusOneAttempts(t *testing.T) {
	for _, retries := range []int{0, 1, 3} {
		var hits atomic.Int32
		ln := hanging(t, &hits)
		var sleeper fakeSleep
		var observed []int
		cfg := DefaultConfig(testNode)
		cfg.Retry.MaxRetries = retries
		cfg.Timeouts.Read = 30 * time.Millisecond
		c := New(cfg, logging.New(nil, nil),
			WithDial(func(string) (net.Conn, error) { return ln.Dial() }),
			WithSleep(sleeper.sleep),
			WithRetryObserver(func(attempt int, err error, delay time.Duration) {
				observed = append(observed, attempt)
				assert.Equal(t, DefaultRetryConfig().Delay(attempt-1), delay)
			}))

		err := c.Get(context.Background(), NodeInfoPath, nil)

		var ne *NetworkError
		require.ErrorAs(t, err, &ne)
		assert.Equal(t, Timeout, ne.Kind)
		assert.Eventually(t, func() bool { return hits.Load() == int32(retries+1) }, time.Second, 5*time.Millisecond)
		assert.Len(t, sleeper.delays, retries)
		assert.Len(t, observed, retries)
	}
}

func TestOperationDeadlineSkipsRetriesThatCannotFit(t *testing.T) {
	var hits atomic.Int32
	ln := hanging(t, &hits)
	var sleeper fakeSleep
	var observed int
	cfg := DefaultConfig(testNode)
	cfg.Retry.MaxRetries = 3
	cfg.Timeouts.Read = 50 * time.Millisecond
	cfg.Timeouts.Operation = 100 * time.Millisecond
	c := New(cfg, logging.New(nil, nil),
		WithDial(func(string) (net.Conn, error) { return ln.Dial() }),
		WithSleep(sleeper.sleep),
		WithRetryObserver(func(int, error, time.Duration) { observed++ }))

	err := c.Get(context.Background(), NodeInfoPath, nil)

	var ne *NetworkError
	require.ErrorAs(t, err, &ne)
	assert.Equal(t, Timeout, ne.Kind)
	assert.Equal(t, int32(1), hits.Load())
	assert.Empty(t, sleeper.delays)
	assert.Zero(t, observed)
}

func TestDefaultTimeoutsDoNotBoundTheOperation(t *testing.T) {
	assert.Zero(t, DefaultTimeoutConfig().Operation)
}

func TestCancelAbortsBackoff(t *testing.T) {
	ln := serve(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
	})
	ctx, cancel := context.WithCancel(context.Background())
	cfg := DefaultConfig(testNode)
	cfg.Retry.BaseDelay = time.Hour
	cfg.Retry.MaxDelay = time.Hour
	c := New(cfg, logging.New(nil, nil),
		WithDial(func(string) (net.Conn, error) { return ln.Dial() }),
		WithRetryObserver(func(int, error, time.Duration) { cancel() }),
	)

	start := time.Now()
	err := c.Get(ctx, "/chain/info", nil)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, 503, StatusCode(err))
}

func TestDecodeFailure(t *testing.T) {
	ln := serve(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetBodyString("not json")
	})
	c := newTestClient(ln, 0)
	var out ChainInfo
	err := c.Get(context.Background(), ChainInfoPath, &out)
	assert.ErrorIs(t, err, ErrDecodeResponse)
}

func TestTestConnectionUnhealthy(t *testing.T) {
	ln := serve(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetBodyString(`{"status":{"apiNode":"down","db":"up"}}`)
	})
	c := newTestClient(ln, 0)
	_, err := c.TestConnection(context.Background())
	assert.ErrorIs(t, err, ErrNodeUnhealthy)
	assert.Contains(t, err.Error(), "Node unhealthy: apiNode=down, dbNode=up")
}

func TestShouldRetry(t *testing.T) {
	r := DefaultRetryConfig()
	assert.True(t, r.ShouldRetry(&NetworkError{Kind: Timeout}))
	assert.True(t, r.ShouldRetry(&NetworkError{Kind: ConnectionError}))
	assert.True(t, r.ShouldRetry(&NetworkError{Kind: HTTPError, StatusCode: 429}))
	assert.False(t, r.ShouldRetry(&NetworkError{Kind: HTTPError, StatusCode: 409}))
	assert.False(t, r.ShouldRetry(&NetworkError{Kind: Unknown}))
	assert.False(t, r.ShouldRetry(errors.New("plain")))
}

func TestClassify(t *testing.T) {
	assert.Equal(t, Timeout, classify(fasthttp.ErrTimeout))
	assert.Equal(t, Timeout, classify(context.DeadlineExceeded))
	assert.Equal(t, ConnectionError, classify(fasthttp.ErrConnectionClosed))
	assert.Equal(t, ConnectionError, classify(&net.DNSError{Err: "no such host", Name: "node.test"}))
	assert.Equal(t, Unknown, classify(context.Canceled))
	assert.Equal(t, Unknown, classify(errors.New("boom")))
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, "HTTP error 500: Unknown error", (&NetworkError{Kind: HTTPError, StatusCode: 500}).Error())
	assert.Equal(t, "PUT /transactions: HTTP error 409: conflict", (&NetworkError{Kind: HTTPError, Op: "PUT /transactions", StatusCode: 409, ResponseText: "conflict"}).Error())
	assert.Equal(t, "Network error: boom", (&NetworkError{Err: errors.New("boom")}).Error())
}

func TestUserMessage(t *testing.T) {
	assert.Contains(t, UserMessage(&NetworkError{Kind: Timeout}), "did not respond in time")
	assert.Contains(t, UserMessage(&NetworkError{Kind: ConnectionError}), "Check your internet connection")
	assert.Contains(t, UserMessage(&NetworkError{Kind: HTTPError, StatusCode: 502}), "server error (HTTP 502)")
	assert.Contains(t, UserMessage(&NetworkError{Kind: HTTPError, StatusCode: 429}), "rate limiting")
	assert.Equal(t, "The node rejected the request (HTTP 400): bad", UserMessage(&NetworkError{Kind: HTTPError, StatusCode: 400, ResponseText: "bad"}))
	assert.Equal(t, "plain", UserMessage(errors.New("plain")))
	assert.Equal(t, "", UserMessage(nil))
}
