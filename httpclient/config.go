package httpclient

import (
	"errors"
	"math"
	"time"
)

// TimeoutConfig bounds a single request and optionally the whole operation including retries.
// Operation zero disables the overall bound so every retry of the policy is attempted.
// With Operation set, retries stop early once the backoff no longer fits before the deadline,
// and such retries are neither logged nor reported to the retry observer.
type TimeoutConfig struct {
	Connect   time.Duration `yaml:"connect"`
	Read      time.Duration `yaml:"read"`
	Operation time.Duration `yaml:"operation"`
}

// DefaultTimeoutConfig returns connect 5s and read 15s timeouts with no operation bound.
func DefaultTimeoutConfig() TimeoutConfig {
	return TimeoutConfig{
		Connect: 5 * time.Second,
		Read:    15 * time.Second,
	}
}

// RetryConfig describes the exponential backoff retry policy.
type RetryConfig struct {
	MaxRetries           int           `yaml:"max_retries"`
	BaseDelay            time.Duration `yaml:"base_delay"`
	MaxDelay             time.Duration `yaml:"max_delay"`
	ExponentialBase      float64       `yaml:"exponential_base"`
	RetryableStatusCodes []int         `yaml:"retryable_status_codes"`
}

// DefaultRetryConfig returns 3 retries starting from 1s delay doubled up to 30s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:           3,
		BaseDelay:            time.Second,
		MaxDelay:             30 * time.Second,
		ExponentialBase:      2,
		RetryableStatusCodes: []int{408, 429, 500, 502, 503, 504},
	}
}

// Delay returns the backoff before the retry following the failed attempt, counted from zero.
// Delay is min(MaxDelay, BaseDelay * ExponentialBase^attempt).
func (r RetryConfig) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := float64(r.BaseDelay) * math.Pow(r.ExponentialBase, float64(attempt))
	if math.IsInf(d, 0) || math.IsNaN(d) || d > float64(r.MaxDelay) {
		return r.MaxDelay
	}
	return time.Duration(d)
}

// ShouldRetry reports whether the failure is transient: timeouts, connection
// errors and HTTP errors with one of the retryable status codes.
func (r RetryConfig) ShouldRetry(err error) bool {
	var ne *NetworkError
	if !errors.As(err, &ne) {
		return false
	}
	switch ne.Kind {
	case Timeout, ConnectionError:
		return true
	case HTTPError:
		for _, c := range r.RetryableStatusCodes {
			if c == ne.StatusCode {
				return true
			}
		}
	}
	return false
}

// Config is the configuration of the node Client.
type Config struct {
	NodeURL  string        `yaml:"node_url"`
	Timeouts TimeoutConfig `yaml:"timeouts"`
	Retry    RetryConfig   `yaml:"retry"`
}

// DefaultConfig returns configuration with default timeouts and retries for the node URL.
func DefaultConfig(nodeURL string) Config {
	return Config{NodeURL: nodeURL, Timeouts: DefaultTimeoutConfig(), Retry: DefaultRetryConfig()}
}

// withDefaults fills invalid values with defaults. Zero retries is a valid setting.
func (c Config) withDefaults() Config {
	td, rd := DefaultTimeoutConfig(), DefaultRetryConfig()
	if c.Timeouts.Connect <= 0 {
		c.Timeouts.Connect = td.Connect
	}
	if c.Timeouts.Read <= 0 {
		c.Timeouts.Read = td.Read
	}
	if c.Timeouts.Operation < 0 {
		c.Timeouts.Operation = 0
	}
	if c.Retry.MaxRetries < 0 {
		c.Retry.MaxRetries = 0
	}
	if c.Retry.BaseDelay <= 0 {
		c.Retry.BaseDelay = rd.BaseDelay
	}
	if c.Retry.MaxDelay <= 0 {
		c.Retry.MaxDelay = rd.MaxDelay
	}
	if c.Retry.ExponentialBase < 1 {
		c.Retry.ExponentialBase = rd.ExponentialBase
	}
	if c.Retry.RetryableStatusCodes == nil {
		c.Retry.RetryableStatusCodes = rd.RetryableStatusCodes
	}
	return c
}
