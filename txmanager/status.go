package txmanager

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bartossh/Courier/httpclient"
	"github.com/bartossh/Courier/transaction"
)

// Status groups reported by the node.
const (
	GroupUnconfirmed = "unconfirmed"
	GroupPartial     = "partial"
	GroupConfirmed   = "confirmed"
	GroupFailed      = "failed"
	GroupNotFound    = "not_found"
)

// TransactionStatus is the status of a transaction reported by the node.
type TransactionStatus struct {
	Hash     string `json:"hash"`
	Group    string `json:"group"`
	Code     string `json:"code,omitempty"`
	Height   string `json:"height,omitempty"`
	Deadline string `json:"deadline,omitempty"`
}

// IsFinal reports whether the status will not change any more.
func (s TransactionStatus) IsFinal() bool {
	return s.Group == GroupConfirmed || s.Group == GroupFailed
}

// StatusUpdateFunc receives every distinct status observed while polling.
type StatusUpdateFunc func(TransactionStatus)

type statusQuery struct {
	Hashes []string `json:"hashes"`
}

// NormalizeHash trims and upper cases hash and checks it is a 32 bytes hex value.
func NormalizeHash(hash string) (string, error) {
	h, err := transaction.ParseHash(hash)
	if err != nil {
		return "", err
	}
	return h.String(), nil
}

// TransactionStatus queries the node for the transaction status.
// A transaction unknown to the node is reported with the not_found group.
func (m *Manager) TransactionStatus(ctx context.Context, hash string) (TransactionStatus, error) {
	h, err := NormalizeHash(hash)
	if err != nil {
		return TransactionStatus{}, err
	}
	var statuses []TransactionStatus
	if err := m.client.Post(ctx, TransactionStatusURL, statusQuery{Hashes: []string{h}}, &statuses); err != nil {
		if httpclient.IsNotFound(err) {
			return TransactionStatus{Hash: h, Group: GroupNotFound}, nil
		}
		return TransactionStatus{}, err
	}
	for _, s := range statuses {
		if strings.EqualFold(s.Hash, h) || s.Hash == "" {
			s.Hash = h
			return s, nil
		}
	}
	return TransactionStatus{Hash: h, Group: GroupNotFound}, nil
}

// PollForTransactionStatus polls the transaction status every interval until it reaches confirmed or failed group.
// onUpdate, if not nil, is called once for every distinct group and code pair.
// The timeout is mandatory, ErrTransactionStatusTimeout is returned with the last seen status when it elapses.
func (m *Manager) PollForTransactionStatus(
	ctx context.Context, hash string, timeout, interval time.Duration, onUpdate StatusUpdateFunc,
) (TransactionStatus, error) {
	if timeout <= 0 {
		return TransactionStatus{}, ErrTimeoutRequired
	}
	if interval <= 0 {
		interval = m.cfg.PollInterval
	}

	deadline := m.now().Add(timeout)
	seen := make(map[string]struct{})
	var last TransactionStatus
	for {
		st, err := m.TransactionStatus(ctx, hash)
		if err != nil {
			return last, err
		}
		last = st
		key := st.Group + "/" + st.Code
		if _, ok := seen[key]; !ok {
			seen[key] = struct{}{}
			if onUpdate != nil {
				onUpdate(st)
			}
		}
		if st.IsFinal() {
			return st, nil
		}

		remaining := deadline.Sub(m.now())
		if remaining <= 0 {
			return last, errors.Join(ErrTransactionStatusTimeout,
				fmt.Errorf("transaction %s is %s after %s", st.Hash, st.Group, timeout))
		}
		if remaining < interval {
			interval = remaining
		}
		if err := m.sleep(ctx, interval); err != nil {
			return last, err
		}
	}
}

// WaitForConfirmation polls with the configured interval and timeout.
func (m *Manager) WaitForConfirmation(ctx context.Context, hash string, onUpdate StatusUpdateFunc) (TransactionStatus, error) {
	return m.PollForTransactionStatus(ctx, hash, m.cfg.PollTimeout, m.cfg.PollInterval, onUpdate)
}
