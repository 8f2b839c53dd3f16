// Package store implements the shared, replicated state tree that clients
// coordinate through: read-once, subtree subscriptions, atomic multi-path
// merges, single-path transactions, ordered pushes and remove-on-disconnect
// hooks. Values are JSON trees (map[string]any, []any, float64, string,
// bool); snapshot values handed out by a Store are shared and must be
// treated as read-only.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrAbort is returned by a TxFunc to abandon the transaction without writing
	ErrAbort = errors.New("store: transaction aborted")
	// ErrTooManyRetries means a transaction lost the compare-and-set race too often
	ErrTooManyRetries = errors.New("store: transaction retries exhausted")
	// ErrClosed is returned by every operation after Close
	ErrClosed = errors.New("store: connection closed")
	// ErrInvalidPath rejects empty segments and reserved characters
	ErrInvalidPath = errors.New("store: invalid path")
)

// maxTxAttempts bounds the optimistic retry loop of Transact
const maxTxAttempts = 25

// TxFunc computes the new value at a path from its current value. It may be
// called several times and must not call back into the store.
type TxFunc func(current any) (any, error)

// TxResult reports whether a transaction committed and the value left at the path
type TxResult struct {
	Committed bool
	Value     any
}

// Snapshot is the full value at a subscribed path
type Snapshot struct {
	Path  string
	Value any
}

// Exists reports whether anything is stored at the path
func (s Snapshot) Exists() bool {
	return s.Value != nil
}

// Decode converts the snapshot value into out
func (s Snapshot) Decode(out any) error {
	return Decode(s.Value, out)
}

// Unsubscribe stops a subscription; it is safe to call more than once
type Unsubscribe func()

// Store is one client's connection to the shared state tree
type Store interface {
	Get(ctx context.Context, path string) (any, error)
	Set(ctx context.Context, path string, value any) error
	Update(ctx context.Context, path string, values map[string]any) error
	Transact(ctx context.Context, path string, fn TxFunc) (TxResult, error)
	Push(ctx context.Context, path string, value any) (string, error)
	Subscribe(ctx context.Context, path string, fn func(Snapshot)) (Unsubscribe, error)
	OnDisconnectRemove(ctx context.Context, path string) error
	CancelOnDisconnect(ctx context.Context, path string) error
	ServerTime(ctx context.Context) (int64, error)
	Close() error
}

type serverValue string

// MarshalJSON encodes the placeholder the store replaces at write time
func (v serverValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{serverValueKey: string(v)})
}

const serverValueKey = ".sv"

// ServerTimestamp is replaced with the store's clock (Unix ms) when written
const ServerTimestamp serverValue = "timestamp"

// Decode converts a JSON tree (or any JSON-marshalable value) into out
func Decode(value any, out any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("store: encode value: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("store: decode value: %w", err)
	}
	return nil
}

// Join builds a store path from segments
func Join(segments ...string) string {
	out := ""
	for _, s := range segments {
		if s == "" {
			continue
		}
		if out != "" {
			out += "/"
		}
		out += s
	}
	return out
}
