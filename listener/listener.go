package listener

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/fasthttp/websocket"

	"github.com/bartossh/Courier/logger"
	"github.com/bartossh/Courier/reactive"
)

const (
	WebsocketPath = "/ws"

	eventsBufferSize = 64
	socketWriteWait  = 10 * time.Second
	socketReadLimit  = 1 << 20
)

// Channels of the node websocket.
const (
	ChannelBlock              = "block"
	ChannelConfirmedAdded     = "confirmedAdded"
	ChannelUnconfirmedAdded   = "unconfirmedAdded"
	ChannelUnconfirmedRemoved = "unconfirmedRemoved"
	ChannelPartialAdded       = "partialAdded"
	ChannelPartialRemoved     = "partialRemoved"
	ChannelCosignature        = "cosignature"
	ChannelStatus             = "status"
)

var (
	ErrNotConnected     = errors.New("listener is not connected")
	ErrAlreadyConnected = errors.New("listener is already connected")
	ErrMissingUID       = errors.New("node did not send the websocket uid")
	ErrDisconnected     = errors.New("node closed the websocket connection")
)

// Config configures the Listener.
type Config struct {
	URL              string        `yaml:"url"` // node REST url or websocket url
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	PingInterval     time.Duration `yaml:"ping_interval"`
}

// DefaultConfig returns the default listener configuration for the node url.
func DefaultConfig(nodeURL string) Config {
	return Config{URL: nodeURL, HandshakeTimeout: 5 * time.Second, PingInterval: 20 * time.Second}
}

// WebsocketURL turns node REST url in to its websocket endpoint url.
func WebsocketURL(nodeURL string) (string, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(nodeURL), "/"))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	if !strings.HasSuffix(u.Path, WebsocketPath) {
		u.Path += WebsocketPath
	}
	return u.String(), nil
}

// Event is a message pushed by the node on a subscribed channel.
type Event struct {
	Topic   string          `json:"topic"`
	Channel string          `json:"channel"`
	Address string          `json:"address,omitempty"`
	Hash    string          `json:"hash,omitempty"`
	Code    string          `json:"code,omitempty"`
	Data    json.RawMessage `json:"data"`
}

type envelope struct {
	UID   string          `json:"uid"`
	Topic string          `json:"topic"`
	Data  json.RawMessage `json:"data"`
}

type subscription struct {
	UID         string `json:"uid"`
	Subscribe   string `json:"subscribe,omitempty"`
	Unsubscribe string `json:"unsubscribe,omitempty"`
}

// eventData holds the fields of channel payloads used to correlate events with transactions.
type eventData struct {
	Hash string `json:"hash"`
	Code string `json:"code"`
	Meta struct {
		Hash string `json:"hash"`
	} `json:"meta"`
	ParentHash string `json:"parentHash"`
}

// Option configures the Listener.
type Option func(*Listener)

// WithDialer replaces the default websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(l *Listener) { l.dialer = d }
}

// Listener subscribes to the node websocket channels and publishes received events.
type Listener struct {
	cfg    Config
	dialer *websocket.Dialer
	obs    *reactive.Observable[Event]
	log    logger.Logger

	mux    sync.Mutex
	conn   *websocket.Conn
	uid    string
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a new Listener.
func New(cfg Config, log logger.Logger, opts ...Option) *Listener {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultConfig("").HandshakeTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultConfig("").PingInterval
	}
	l := &Listener{
		cfg:    cfg,
		dialer: websocket.DefaultDialer,
		obs:    reactive.New[Event](eventsBufferSize),
		log:    log,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Events subscribes to received events. Cancel the subscriber when done.
func (l *Listener) Events() *reactive.Subscriber[Event] {
	return l.obs.Subscribe()
}

// UID returns the uid assigned by the node to the connection.
func (l *Listener) UID() string {
	l.mux.Lock()
	defer l.mux.Unlock()
	return l.uid
}

// Connect dials the node websocket, reads the connection uid and starts the read loop.
func (l *Listener) Connect(ctx context.Context) error {
	l.mux.Lock()
	defer l.mux.Unlock()
	if l.conn != nil {
		return ErrAlreadyConnected
	}
	wsURL, err := WebsocketURL(l.cfg.URL)
	if err != nil {
		return err
	}
	dialCtx, cancel := context.WithTimeout(ctx, l.cfg.HandshakeTimeout)
	conn, _, err := l.dialer.DialContext(dialCtx, wsURL, nil)
	cancel()
	if err != nil {
		return err
	}
	conn.SetReadLimit(socketReadLimit)
	conn.SetReadDeadline(time.Now().Add(l.cfg.HandshakeTimeout))
	var hello envelope
	if err := conn.ReadJSON(&hello); err != nil || hello.UID == "" {
		conn.Close()
		return errors.Join(ErrMissingUID, err)
	}
	conn.SetReadDeadline(time.Time{})

	runCtx, stop := context.WithCancel(ctx)
	l.conn = conn
	l.uid = hello.UID
	l.cancel = stop
	l.done = make(chan struct{})
	go l.readPump(runCtx, conn, l.done)
	go l.pingPump(runCtx, conn)
	l.logInfo(fmt.Sprintf("listener connected to %s with uid %s", wsURL, hello.UID))
	return nil
}

// Subscribe subscribes to the channel, address narrows the channel when not empty.
func (l *Listener) Subscribe(channel, address string) error {
	return l.send(subscription{Subscribe: topic(channel, address)})
}

// Unsubscribe removes subscription of the channel for the address.
func (l *Listener) Unsubscribe(channel, address string) error {
	return l.send(subscription{Unsubscribe: topic(channel, address)})
}

func topic(channel, address string) string {
	if address == "" {
		return channel
	}
	return channel + "/" + strings.ToUpper(strings.ReplaceAll(address, "-", ""))
}

func (l *Listener) send(s subscription) error {
	l.mux.Lock()
	defer l.mux.Unlock()
	if l.conn == nil {
		return ErrNotConnected
	}
	s.UID = l.uid
	l.conn.SetWriteDeadline(time.Now().Add(socketWriteWait))
	return l.conn.WriteJSON(s)
}

// WaitFor waits for the first event on the channel carrying the transaction hash.
// Subscribe to the channel first.
// WaitFor returns ErrDisconnected when the connection drops while waiting.
func (l *Listener) WaitFor(ctx context.Context, channel, hash string) (Event, error) {
	l.mux.Lock()
	done := l.done
	l.mux.Unlock()
	if done == nil {
		return Event{}, ErrNotConnected
	}
	sub := l.Events()
	defer sub.Cancel()
	for {
		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case <-done:
			return Event{}, ErrDisconnected
		case ev, ok := <-sub.Channel():
			if !ok {
				return Event{}, ErrNotConnected
			}
			if ev.Channel == channel && strings.EqualFold(ev.Hash, hash) {
				return ev, nil
			}
		}
	}
}

// Stop closes the connection and waits for the read loop to return.
func (l *Listener) Stop() {
	l.mux.Lock()
	conn, cancel, done := l.conn, l.cancel, l.done
	l.conn, l.cancel, l.done = nil, nil, nil
	if conn != nil {
		conn.SetWriteDeadline(time.Now().Add(socketWriteWait))
		if err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")); err != nil {
			l.logErr(fmt.Sprintf("listener write closing msg error, %s", err))
		}
	}
	l.mux.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	conn.Close()
	<-done
}

func (l *Listener) readPump(ctx context.Context, conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		msgType, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				l.logErr(fmt.Sprintf("listener read error, %s", err))
				l.drop(conn)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		ev, ok := decode(raw)
		if !ok {
			l.logErr(fmt.Sprintf("listener cannot decode message %.64s", raw))
			continue
		}
		l.obs.Publish(ev)
	}
}

// drop forgets the connection closed by the node so Connect can dial again.
func (l *Listener) drop(conn *websocket.Conn) {
	l.mux.Lock()
	defer l.mux.Unlock()
	if l.conn != conn {
		return
	}
	l.cancel()
	conn.Close()
	l.conn, l.cancel, l.done, l.uid = nil, nil, nil, ""
}

func (l *Listener) pingPump(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(l.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.mux.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(socketWriteWait))
			l.mux.Unlock()
			if err != nil {
				l.logErr(fmt.Sprintf("listener ping error, %s", err))
				return
			}
		}
	}
}

func decode(raw []byte) (Event, bool) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Topic == "" {
		return Event{}, false
	}
	ev := Event{Topic: env.Topic, Channel: env.Topic, Data: env.Data}
	if i := strings.IndexByte(env.Topic, '/'); i >= 0 {
		ev.Channel, ev.Address = env.Topic[:i], env.Topic[i+1:]
	}
	var d eventData
	if len(env.Data) > 0 && json.Unmarshal(env.Data, &d) == nil {
		switch {
		case d.Meta.Hash != "":
			ev.Hash = d.Meta.Hash
		case d.ParentHash != "":
			ev.Hash = d.ParentHash
		default:
			ev.Hash = d.Hash
		}
		ev.Code = d.Code
	}
	return ev, true
}

func (l *Listener) logInfo(msg string) {
	if l.log != nil {
		l.log.Info(msg)
	}
}

func (l *Listener) logErr(msg string) {
	if l.log != nil {
		l.log.Error(msg)
	}
}
