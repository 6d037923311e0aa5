package natsclient

import (
	"encoding/json"
	"time"

	"github.com/bartossh/Courier/connmonitor"
	"github.com/bartossh/Courier/txmanager"
)

// ConnectionMessage is published on every connection state transition.
type ConnectionMessage struct {
	NodeURL string             `json:"node_url"`
	Old     connmonitor.State  `json:"old"`
	New     connmonitor.State  `json:"new"`
	Title   string             `json:"title"`
	Body    string             `json:"body"`
	Status  connmonitor.Status `json:"status"`
}

// NewConnectionMessage creates message describing the transition.
func NewConnectionMessage(nodeURL string, t connmonitor.Transition) ConnectionMessage {
	title, body := connmonitor.StateMessage(t.New)
	return ConnectionMessage{NodeURL: nodeURL, Old: t.Old, New: t.New, Title: title, Body: body, Status: t.Status}
}

// TransactionMessage is published on every distinct transaction status.
type TransactionMessage struct {
	QueuedID    string                      `json:"queued_id,omitempty"`
	Status      txmanager.TransactionStatus `json:"status"`
	PublishedAt time.Time                   `json:"published_at"`
}

// Publisher provides functionality to push messages to the pub/sub queue.
type Publisher struct {
	socket
}

// PublisherConnect connects publisher to the pub/sub queue using provided config.
func PublisherConnect(cfg Config) (*Publisher, error) {
	s, err := connect(cfg)
	if err != nil {
		return nil, err
	}
	return &Publisher{socket: s}, nil
}

// PublishConnectionState publishes the connection state transition of the node.
func (p *Publisher) PublishConnectionState(nodeURL string, t connmonitor.Transition) error {
	return p.publish(SubjectConnection, NewConnectionMessage(nodeURL, t))
}

// PublishTransactionStatus publishes the transaction status, queuedID is empty for transactions not sent from the queue.
func (p *Publisher) PublishTransactionStatus(queuedID string, st txmanager.TransactionStatus) error {
	return p.publish(SubjectTransactionStatus, TransactionMessage{QueuedID: queuedID, Status: st, PublishedAt: time.Now().UTC()})
}

func (p *Publisher) publish(subject string, v any) error {
	msg, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return p.conn.Publish(subject, msg)
}
