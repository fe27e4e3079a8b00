package flow

import (
	"context"
	"encoding/json"
)

// StatusCode mirrors the transaction status reported by an access node.
type StatusCode int

const (
	StatusUnknown StatusCode = iota
	StatusPending
	StatusFinalized
	StatusExecuted
	StatusSealed
	StatusExpired
)

// String returns the canonical lowercase name of the status code.
func (s StatusCode) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusFinalized:
		return "finalized"
	case StatusExecuted:
		return "executed"
	case StatusSealed:
		return "sealed"
	case StatusExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// AccountKey describes one authorization key registered on an account.
type AccountKey struct {
	Index   int
	Weight  int
	Revoked bool
}

// Account is the on-chain view of a ledger account.
type Account struct {
	Address string
	Balance uint64
	Keys    []AccountKey
}

// Event is a single event emitted during transaction execution. Payload
// fields are flattened to strings so callers do not depend on the JSON-CDC
// encoding.
type Event struct {
	Type   string
	Values map[string]string
}

// TxStatus is one status update pushed by the status subscription.
type TxStatus struct {
	Code         StatusCode
	Events       []Event
	ErrorMessage string
}

// EventValue looks up a payload field across all events of the given type.
func (s TxStatus) EventValue(eventType, field string) (string, bool) {
	for _, ev := range s.Events {
		if ev.Type != eventType {
			continue
		}
		if v, ok := ev.Values[field]; ok {
			return v, true
		}
	}
	return "", false
}

// TxSubscription delivers ordered status updates for a single transaction.
// The channel is closed after a terminal status (sealed, expired or an
// execution error) has been delivered, or when the subscription is closed.
type TxSubscription struct {
	statuses <-chan TxStatus
	cancel   context.CancelFunc
}

// NewTxSubscription wraps a status channel with its cancel function so
// callers can manage the subscription lifecycle uniformly.
func NewTxSubscription(statuses <-chan TxStatus, cancel context.CancelFunc) *TxSubscription {
	return &TxSubscription{statuses: statuses, cancel: cancel}
}

// Statuses returns the channel carrying status updates.
func (s *TxSubscription) Statuses() <-chan TxStatus {
	return s.statuses
}

// Close terminates the subscription. Safe to call more than once.
func (s *TxSubscription) Close() {
	if s == nil || s.cancel == nil {
		return
	}
	s.cancel()
}

// Authorization selects the account key used to sign an envelope.
type Authorization struct {
	Address  string
	KeyIndex int
}

// Client is the boundary to the external ledger. Envelope serialization,
// signing and broadcast live behind this interface; the coordinator only
// deals in scripts, arguments and status streams.
type Client interface {
	// GetAccount fetches the account and its registered keys.
	GetAccount(ctx context.Context, address string) (*Account, error)
	// ExecuteScript runs a read-only script and returns the raw JSON-CDC result.
	ExecuteScript(ctx context.Context, script string, args []Value) (json.RawMessage, error)
	// SendTransaction submits a signed envelope and returns the network
	// assigned transaction identifier.
	SendTransaction(ctx context.Context, script string, args []Value, authz Authorization) (string, error)
	// SubscribeTxStatus opens a status stream for a submitted transaction.
	SubscribeTxStatus(ctx context.Context, txID string) (*TxSubscription, error)
	Close()
}
