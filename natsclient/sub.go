package natsclient

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/bartossh/Courier/logger"
)

// Subscriber provides functionality to pull messages from the pub/sub queue.
type Subscriber struct {
	socket
}

// SubscriberConnect connects subscriber to the pub/sub queue using provided config.
func SubscriberConnect(cfg Config) (*Subscriber, error) {
	s, err := connect(cfg)
	if err != nil {
		return nil, err
	}
	return &Subscriber{socket: s}, nil
}

// SubscribeConnectionState calls the callback with every published connection transition.
func (s *Subscriber) SubscribeConnectionState(call func(ConnectionMessage), log logger.Logger) error {
	return subscribe(s.conn, SubjectConnection, call, log)
}

// SubscribeTransactionStatus calls the callback with every published transaction status.
func (s *Subscriber) SubscribeTransactionStatus(call func(TransactionMessage), log logger.Logger) error {
	return subscribe(s.conn, SubjectTransactionStatus, call, log)
}

func subscribe[T any](conn *nats.Conn, subject string, call func(T), log logger.Logger) error {
	_, err := conn.Subscribe(subject, func(m *nats.Msg) {
		var v T
		if err := json.Unmarshal(m.Data, &v); err != nil {
			log.Error(fmt.Sprintf("nats subscriber cannot unmarshal %s message, %s", subject, err))
			return
		}
		call(v)
	})
	return err
}
