package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"

	"github.com/valyala/fasthttp"
)

var (
	ErrDecodeResponse = errors.New("cannot decode node response")
	ErrEncodeRequest  = errors.New("cannot encode request body")
)

// ErrorKind classifies transport failures.
type ErrorKind int

const (
	Unknown ErrorKind = iota
	Timeout
	ConnectionError
	HTTPError
)

func (k ErrorKind) String() string {
	switch k {
	case Timeout:
		return "timeout"
	case ConnectionError:
		return "connection_error"
	case HTTPError:
		return "http_error"
	default:
		return "unknown"
	}
}

// NetworkError is returned by every Client request that did not succeed.
type NetworkError struct {
	Kind         ErrorKind
	Op           string // method and path of the failed request
	URL          string // node base URL
	StatusCode   int    // set for HTTPError
	ResponseText string // set for HTTPError
	Err          error
}

func (e *NetworkError) Error() string {
	prefix := ""
	if e.Op != "" {
		prefix = e.Op + ": "
	}
	switch e.Kind {
	case Timeout:
		return fmt.Sprintf("%sConnection timeout. Node may be unavailable: %s", prefix, e.URL)
	case ConnectionError:
		return fmt.Sprintf("%sCannot connect to node: %s. Check your network connection.", prefix, e.URL)
	case HTTPError:
		text := e.ResponseText
		if text == "" {
			text = "Unknown error"
		}
		return fmt.Sprintf("%sHTTP error %d: %s", prefix, e.StatusCode, text)
	default:
		return fmt.Sprintf("%sNetwork error: %v", prefix, e.Err)
	}
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err is an HTTP 404 returned by the node.
func IsNotFound(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne) && ne.Kind == HTTPError && ne.StatusCode == fasthttp.StatusNotFound
}

// StatusCode returns HTTP status code carried by err or zero.
func StatusCode(err error) int {
	var ne *NetworkError
	if errors.As(err, &ne) {
		return ne.StatusCode
	}
	return 0
}

func classify(err error) ErrorKind {
	if err == nil {
		return Unknown
	}
	if errors.Is(err, context.Canceled) {
		return Unknown
	}
	if errors.Is(err, fasthttp.ErrTimeout) ||
		errors.Is(err, fasthttp.ErrDialTimeout) ||
		errors.Is(err, fasthttp.ErrTLSHandshakeTimeout) ||
		errors.Is(err, context.DeadlineExceeded) {
		return Timeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Timeout
	}
	if errors.Is(err, fasthttp.ErrConnectionClosed) ||
		errors.Is(err, fasthttp.ErrNoFreeConns) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return ConnectionError
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ConnectionError
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ConnectionError
	}
	return Unknown
}

// UserMessage turns err in to an actionable sentence for the wallet user.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var ne *NetworkError
	if !errors.As(err, &ne) {
		return err.Error()
	}
	switch ne.Kind {
	case Timeout:
		return "The node did not respond in time. It may be overloaded or unavailable, please try again later."
	case ConnectionError:
		return "Cannot connect to the node. Check your internet connection or switch to another node."
	case HTTPError:
		switch {
		case ne.StatusCode == fasthttp.StatusTooManyRequests:
			return "The node is rate limiting requests. Please wait a moment and try again."
		case ne.StatusCode >= 500:
			return fmt.Sprintf("The node reported a server error (HTTP %d). Please try again later.", ne.StatusCode)
		case ne.ResponseText != "":
			return fmt.Sprintf("The node rejected the request (HTTP %d): %s", ne.StatusCode, ne.ResponseText)
		default:
			return fmt.Sprintf("The node rejected the request (HTTP %d).", ne.StatusCode)
		}
	default:
		return ne.Error()
	}
}
