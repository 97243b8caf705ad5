package host

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

type txKey struct{}

func withTx(ctx context.Context, tx *Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

func txFrom(ctx context.Context) *Tx {
	tx, _ := ctx.Value(txKey{}).(*Tx)
	return tx
}

// InTx reports whether ctx carries an active invocation.
func InTx(ctx context.Context) bool {
	return txFrom(ctx) != nil
}

// Tx is the write overlay of one invocation. It is not safe for concurrent
// use; an invocation runs on a single goroutine.
type Tx struct {
	host   *Host
	op     string
	id     string
	now    time.Time
	// writes maps staged keys to values; a nil value marks a deletion.
	writes map[string][]byte
	order  []string
	events []Event
}

func newTx(h *Host, op, id string, now time.Time) *Tx {
	return &Tx{
		host:   h,
		op:     op,
		id:     id,
		now:    now,
		writes: make(map[string][]byte),
	}
}

// ID is the invocation identifier shared by all events of this invocation.
func (tx *Tx) ID() string { return tx.id }

// Now is the host clock reading taken when the invocation started. It is
// stable for the whole invocation.
func (tx *Tx) Now() time.Time { return tx.now }

// Get decodes the value stored under key into dst. It reports false when the
// key has never been written.
func (tx *Tx) Get(ctx context.Context, key string, dst any) (bool, error) {
	raw, ok := tx.writes[key]
	if ok && raw == nil {
		return false, nil
	}
	if !ok {
		var err error
		raw, ok, err = tx.host.backend.Load(ctx, key)
		if err != nil {
			return false, fmt.Errorf("host: load %s: %w", key, err)
		}
		if !ok {
			return false, nil
		}
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("host: decode %s: %w", key, err)
	}
	return true, nil
}

// Has reports whether key holds a value.
func (tx *Tx) Has(ctx context.Context, key string) (bool, error) {
	if raw, ok := tx.writes[key]; ok {
		return raw != nil, nil
	}
	_, ok, err := tx.host.backend.Load(ctx, key)
	if err != nil {
		return false, fmt.Errorf("host: load %s: %w", key, err)
	}
	return ok, nil
}

// Set stages v under key. Nothing reaches the backend until commit.
func (tx *Tx) Set(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("host: encode %s: %w", key, err)
	}
	tx.stage(key, raw)
	return nil
}

// Delete stages the removal of key.
func (tx *Tx) Delete(key string) {
	tx.stage(key, nil)
}

func (tx *Tx) stage(key string, raw []byte) {
	if _, seen := tx.writes[key]; !seen {
		tx.order = append(tx.order, key)
	}
	tx.writes[key] = raw
}

// Keys lists the keys under prefix as this invocation sees them: committed
// keys plus staged writes, minus staged deletions. The result is sorted.
func (tx *Tx) Keys(ctx context.Context, prefix string) ([]string, error) {
	committed, err := tx.host.backend.Keys(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("host: keys %s: %w", prefix, err)
	}
	seen := make(map[string]bool, len(committed))
	var out []string
	for _, k := range committed {
		if raw, staged := tx.writes[k]; staged && raw == nil {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	for _, k := range tx.order {
		if !strings.HasPrefix(k, prefix) || seen[k] || tx.writes[k] == nil {
			continue
		}
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

// Emit records an event published only if the invocation commits.
func (tx *Tx) Emit(contract, topic string, data any) {
	tx.events = append(tx.events, tx.event(contract, topic, data, false))
}

// EmitAudit records an event published whether or not the invocation commits.
func (tx *Tx) EmitAudit(contract, topic string, data any) {
	tx.events = append(tx.events, tx.event(contract, topic, data, true))
}

func (tx *Tx) event(contract, topic string, data any, audit bool) Event {
	return Event{
		Invocation: tx.id,
		Op:         tx.op,
		Contract:   contract,
		Topic:      topic,
		Data:       data,
		Audit:      audit,
		Timestamp:  tx.now,
	}
}

func (tx *Tx) pendingWrites() []Write {
	out := make([]Write, 0, len(tx.order))
	for _, k := range tx.order {
		v := tx.writes[k]
		out = append(out, Write{Key: k, Value: v, Delete: v == nil})
	}
	return out
}

func (tx *Tx) auditEvents() []Event {
	var out []Event
	for _, e := range tx.events {
		if e.Audit {
			out = append(out, e)
		}
	}
	return out
}

// Key joins key segments with "/".
func Key(parts ...string) string {
	return strings.Join(parts, "/")
}
