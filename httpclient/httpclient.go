package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/bartossh/Courier/logger"
	"github.com/bartossh/Courier/telemetry"
)

const (
	metricRequestDuration = "courier_http_request_duration_seconds"
	metricRetries         = "courier_http_retries_total"
	metricFailures        = "courier_http_failures_total"
)

// RetryObserver is notified before the client sleeps ahead of the next attempt.
// attempt is the number of the attempt that failed, counted from one.
type RetryObserver func(attempt int, err error, delay time.Duration)

// Option configures the Client.
type Option func(*Client)

// WithRetryObserver sets the observer notified about every retry.
func WithRetryObserver(o RetryObserver) Option {
	return func(c *Client) { c.onRetry = o }
}

// WithMeasurements records request durations, retries and failures.
func WithMeasurements(m *telemetry.Measurements) Option {
	return func(c *Client) { c.m = m }
}

// WithDial replaces the TCP dialer, the dialer is still bounded by the connect timeout.
func WithDial(dial fasthttp.DialFunc) Option {
	return func(c *Client) { c.dial = dial }
}

// WithSleep replaces the backoff sleep, it must return ctx error when ctx is done.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) { c.sleep = sleep }
}

// WithHeader adds a header to every request.
func WithHeader(key, value string) Option {
	return func(c *Client) { c.headers = append(c.headers, [2]string{key, value}) }
}

// Message is the body the node answers announce requests with.
type Message struct {
	Message string `json:"message"`
}

// Client calls the node REST API with timeouts, error classification and retries of transient failures.
// Client is safe for concurrent use.
type Client struct {
	baseURL  string
	timeouts TimeoutConfig
	retry    RetryConfig
	http     *fasthttp.Client
	dial     fasthttp.DialFunc
	headers  [][2]string
	log      logger.Logger
	m        *telemetry.Measurements
	onRetry  RetryObserver
	sleep    func(ctx context.Context, d time.Duration) error
}

// New creates a new Client for the node in cfg.
func New(cfg Config, log logger.Logger, opts ...Option) *Client {
	cfg = cfg.withDefaults()
	c := &Client{
		baseURL:  strings.TrimRight(cfg.NodeURL, "/"),
		timeouts: cfg.Timeouts,
		retry:    cfg.Retry,
		log:      log,
		sleep:    sleepCtx,
	}
	for _, o := range opts {
		o(c)
	}

	connect := c.timeouts.Connect
	dial := c.dial
	c.http = &fasthttp.Client{
		Name:                "courier",
		ReadTimeout:         c.timeouts.Read,
		WriteTimeout:        c.timeouts.Read,
		MaxIdleConnDuration: 30 * time.Second,
		// retries are driven by RetryConfig only
		MaxIdemponentCallAttempts: 1,
		Dial: func(addr string) (net.Conn, error) {
			if dial != nil {
				return dialWithTimeout(dial, addr, connect)
			}
			return fasthttp.DialTimeout(addr, connect)
		},
	}

	c.m.CreateObservableHistogram(metricRequestDuration, "Duration of a single node request attempt.")
	c.m.CreateCounter(metricRetries, "Number of retried node requests.")
	c.m.CreateCounter(metricFailures, "Number of node requests failed after all attempts.")
	return c
}

// BaseURL returns the node URL the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// RetryConfig returns the retry policy of the client.
func (c *Client) RetryConfig() RetryConfig {
	return c.retry
}

// Get gets JSON document from the path decoding it in to out.
// A 404 response is an HTTPError.
func (c *Client) Get(ctx context.Context, path string, out any) error {
	_, err := c.request(ctx, fasthttp.MethodGet, path, nil, out, false)
	return err
}

// GetOptional gets JSON document from the path decoding it in to out.
// Returns false without error when the node answers 404.
func (c *Client) GetOptional(ctx context.Context, path string, out any) (bool, error) {
	return c.request(ctx, fasthttp.MethodGet, path, nil, out, true)
}

// Post posts JSON body to the path decoding the answer in to out, out may be nil.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	_, err := c.request(ctx, fasthttp.MethodPost, path, body, out, false)
	return err
}

// Put puts JSON body to the path. A non JSON answer is returned as the Message text.
func (c *Client) Put(ctx context.Context, path string, body any) (Message, error) {
	var raw json.RawMessage
	if _, err := c.request(ctx, fasthttp.MethodPut, path, body, &raw, false); err != nil {
		return Message{}, err
	}
	return messageFrom(raw), nil
}

func messageFrom(raw []byte) Message {
	var msg Message
	if len(bytes.TrimSpace(raw)) == 0 {
		return msg
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Message{Message: string(raw)}
	}
	return msg
}

func (c *Client) request(ctx context.Context, method, path string, body, out any, allowNotFound bool) (bool, error) {
	if c.timeouts.Operation > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeouts.Operation)
		defer cancel()
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return false, errors.Join(ErrEncodeRequest, err)
		}
	}

	op := method + " " + path
	var last error
	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		raw, err := c.once(ctx, method, path, payload)
		if err == nil {
			if err := decode(raw, out); err != nil {
				return false, &NetworkError{Kind: Unknown, Op: op, URL: c.baseURL, Err: err}
			}
			return true, nil
		}
		if allowNotFound && IsNotFound(err) {
			return false, nil
		}
		last = err
		if attempt == c.retry.MaxRetries || !c.retry.ShouldRetry(err) {
			break
		}
		delay := c.retry.Delay(attempt)
		if dl, ok := ctx.Deadline(); ok && time.Until(dl) <= delay {
			break
		}
		c.m.IncrementCounter(metricRetries)
		if c.log != nil {
			c.log.Warn(fmt.Sprintf("network operation failed (attempt %d/%d), retrying in %s: %s",
				attempt+1, c.retry.MaxRetries+1, delay, err))
		}
		if c.onRetry != nil {
			c.onRetry(attempt+1, err, delay)
		}
		if err := c.sleep(ctx, delay); err != nil {
			break
		}
	}
	c.m.IncrementCounter(metricFailures)
	return false, last
}

func (c *Client) once(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	op := method + " " + path
	fail := func(err error) error {
		return &NetworkError{Kind: classify(err), Op: op, URL: c.baseURL, Err: err}
	}

	timeout := c.timeouts.Read
	if dl, ok := ctx.Deadline(); ok {
		remaining := time.Until(dl)
		if remaining <= 0 {
			return nil, fail(context.DeadlineExceeded)
		}
		if remaining < timeout {
			timeout = remaining
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, fail(err)
	}

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.url(path))
	req.Header.SetMethod(method)
	req.Header.Set(fasthttp.HeaderAccept, "application/json")
	for _, h := range c.headers {
		req.Header.Set(h[0], h[1])
	}
	if payload != nil {
		req.Header.SetContentType("application/json")
		req.SetBody(payload)
	}

	start := time.Now()
	err := c.http.DoTimeout(req, resp, timeout)
	c.m.RecordHistogramTime(metricRequestDuration, time.Since(start))
	if err != nil {
		return nil, fail(err)
	}

	raw := append([]byte(nil), resp.Body()...)
	status := resp.StatusCode()
	if status < 200 || status > 299 {
		return nil, &NetworkError{
			Kind:         HTTPError,
			Op:           op,
			URL:          c.baseURL,
			StatusCode:   status,
			ResponseText: string(raw),
			Err:          fmt.Errorf("unexpected status code %d", status),
		}
	}
	return raw, nil
}

func (c *Client) url(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseURL + path
}

func decode(raw []byte, out any) error {
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if rm, ok := out.(*json.RawMessage); ok {
		*rm = append((*rm)[:0], raw...)
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.Join(ErrDecodeResponse, err)
	}
	return nil
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
