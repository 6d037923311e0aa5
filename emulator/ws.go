package emulator

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"

	"github.com/bartossh/Courier/logger"
)

const (
	hubInnerChannelsBufferSize      = 100
	clientMessageChannelsBufferSize = 64
	socketWriteWait                 = 10 * time.Second
	socketMaxMessageSize            = 1 << 16
)

const (
	channelConfirmedAdded   = "confirmedAdded"
	channelUnconfirmedAdded = "unconfirmedAdded"
	channelPartialAdded     = "partialAdded"
	channelCosignature      = "cosignature"
	channelStatus           = "status"
)

type eventMeta struct {
	Hash   string `json:"hash"`
	Height string `json:"height,omitempty"`
}

type eventTx struct {
	SignerPublicKey string `json:"signerPublicKey"`
	Type            int    `json:"type"`
	Network         int    `json:"network"`
	MaxFee          string `json:"maxFee"`
	Deadline        string `json:"deadline"`
}

type event struct {
	Transaction eventTx   `json:"transaction"`
	Meta        eventMeta `json:"meta"`
}

func eventTransaction(r *record) eventTx {
	return eventTx{
		SignerPublicKey: r.header.Signer.String(),
		Type:            int(r.header.Type),
		Network:         int(r.header.Network),
		MaxFee:          strconv.FormatUint(r.header.Fee, 10),
		Deadline:        strconv.FormatUint(uint64(r.header.Deadline), 10),
	}
}

type envelope struct {
	Topic string `json:"topic"`
	Data  any    `json:"data"`
}

type outgoing struct {
	channel string
	topic   string
	raw     []byte
}

type subscription struct {
	UID         string `json:"uid"`
	Subscribe   string `json:"subscribe"`
	Unsubscribe string `json:"unsubscribe"`
}

type socket struct {
	uid    string
	mux    sync.Mutex
	topics map[string]struct{}
	send   chan []byte
}

func (s *socket) subscribed(o outgoing) bool {
	s.mux.Lock()
	defer s.mux.Unlock()
	_, byTopic := s.topics[o.topic]
	_, byChannel := s.topics[o.channel]
	return byTopic || byChannel
}

type hub struct {
	clients    map[string]*socket
	broadcast  chan outgoing
	register   chan *socket
	unregister chan *socket
	log        logger.Logger
}

func newHub(log logger.Logger) *hub {
	return &hub{
		broadcast:  make(chan outgoing, hubInnerChannelsBufferSize),
		register:   make(chan *socket, hubInnerChannelsBufferSize),
		unregister: make(chan *socket, hubInnerChannelsBufferSize),
		clients:    make(map[string]*socket, hubInnerChannelsBufferSize),
		log:        log,
	}
}

func (h *hub) run(ctx context.Context) {
	for {
		select {
		case client := <-h.register:
			h.clients[client.uid] = client
		case client := <-h.unregister:
			if _, ok := h.clients[client.uid]; ok {
				delete(h.clients, client.uid)
				close(client.send)
			}
		case msg := <-h.broadcast:
			for _, client := range h.clients {
				if !client.subscribed(msg) {
					continue
				}
				select {
				case client.send <- msg.raw:
				default:
					h.logErr(fmt.Sprintf("hub dropped %s message for slow client %s", msg.topic, client.uid))
				}
			}
		case <-ctx.Done():
			for uid, client := range h.clients {
				delete(h.clients, uid)
				close(client.send)
			}
			return
		}
	}
}

// publish sends data on the channel topic of the address, it never blocks the caller.
func (h *hub) publish(channel, address string, data any) {
	topic := channel + "/" + address
	raw, err := json.Marshal(envelope{Topic: topic, Data: data})
	if err != nil {
		h.logErr(fmt.Sprintf("hub failed to marshal message: %s", err))
		return
	}
	select {
	case h.broadcast <- outgoing{channel: channel, topic: topic, raw: raw}:
	default:
		h.logErr(fmt.Sprintf("hub broadcast buffer full, dropped %s message", topic))
	}
}

func (h *hub) logErr(msg string) {
	if h.log != nil {
		h.log.Error(msg)
	}
}

func (n *Node) serveWs(conn *websocket.Conn) {
	client := &socket{
		uid:    uuid.NewString(),
		topics: make(map[string]struct{}),
		send:   make(chan []byte, clientMessageChannelsBufferSize),
	}
	conn.SetReadLimit(socketMaxMessageSize)
	conn.SetWriteDeadline(time.Now().Add(socketWriteWait))
	if err := conn.WriteJSON(hello{UID: client.uid}); err != nil {
		return
	}
	n.hub.register <- client

	// the connection is released when this handler returns, the write pump must be gone by then
	quit := make(chan struct{})
	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		writePump(conn, client.send, quit)
	}()
	defer func() {
		close(quit)
		<-pumpDone
		n.hub.unregister <- client
	}()

	for {
		var sub subscription
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		if sub.UID != client.uid {
			continue
		}
		client.mux.Lock()
		if t := normalizeTopic(sub.Subscribe); t != "" {
			client.topics[t] = struct{}{}
		}
		if t := normalizeTopic(sub.Unsubscribe); t != "" {
			delete(client.topics, t)
		}
		client.mux.Unlock()
	}
}

type hello struct {
	UID string `json:"uid"`
}

func normalizeTopic(t string) string {
	channel, addr, ok := strings.Cut(strings.TrimSpace(t), "/")
	if !ok {
		return channel
	}
	return channel + "/" + strings.ToUpper(addr)
}

func writePump(conn *websocket.Conn, send <-chan []byte, quit <-chan struct{}) {
	for {
		select {
		case <-quit:
			return
		case raw, ok := <-send:
			conn.SetWriteDeadline(time.Now().Add(socketWriteWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		}
	}
}
