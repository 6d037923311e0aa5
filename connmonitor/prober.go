package connmonitor

import (
	"context"
	"net"
	"strconv"
	"sync"

	"github.com/valyala/fasthttp"

	"github.com/bartossh/Courier/httpclient"
	"github.com/bartossh/Courier/logger"
)

// NetProber probes internet with a TCP dial to well known hosts and the node with its health endpoint.
type NetProber struct {
	cfg  Config
	log  logger.Logger
	dial func(addr string) (net.Conn, error)

	mux     sync.Mutex
	nodeURL string
	client  *httpclient.Client
	opts    []httpclient.Option
}

// NewNetProber creates the default prober. Options are passed to the node health client.
func NewNetProber(cfg Config, log logger.Logger, opts ...httpclient.Option) *NetProber {
	cfg = cfg.withDefaults()
	timeout := cfg.InternetCheckTimeout
	return &NetProber{
		cfg:  cfg,
		log:  log,
		dial: func(addr string) (net.Conn, error) { return fasthttp.DialTimeout(addr, timeout) },
		opts: opts,
	}
}

// InternetAvailable returns true on the first host accepting a TCP connection.
func (p *NetProber) InternetAvailable(ctx context.Context) bool {
	port := strconv.Itoa(p.cfg.InternetCheckPort)
	for _, host := range p.cfg.InternetCheckHosts {
		if ctx.Err() != nil {
			return false
		}
		conn, err := p.dial(net.JoinHostPort(host, port))
		if err != nil {
			continue
		}
		conn.Close()
		return true
	}
	return false
}

// NodeReachable checks the node health with a single attempt bounded by NodeCheckTimeout.
func (p *NetProber) NodeReachable(ctx context.Context, nodeURL string) (bool, string) {
	h, err := p.clientFor(nodeURL).NodeHealth(ctx)
	if err != nil {
		return false, err.Error()
	}
	if !h.Healthy() {
		return false, h.Describe()
	}
	return true, ""
}

func (p *NetProber) clientFor(nodeURL string) *httpclient.Client {
	p.mux.Lock()
	defer p.mux.Unlock()
	if p.client != nil && p.nodeURL == nodeURL {
		return p.client
	}
	cfg := httpclient.DefaultConfig(nodeURL)
	cfg.Timeouts = httpclient.TimeoutConfig{
		Connect:   p.cfg.NodeCheckTimeout,
		Read:      p.cfg.NodeCheckTimeout,
		Operation: p.cfg.NodeCheckTimeout,
	}
	cfg.Retry.MaxRetries = 0
	p.client = httpclient.New(cfg, nil, p.opts...)
	p.nodeURL = nodeURL
	return p.client
}
