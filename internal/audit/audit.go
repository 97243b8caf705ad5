// Package audit keeps a queryable trail of every event the host publishes,
// including the audit events of invocations that rolled back.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/zapspay/settlement/internal/host"
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// Record is one persisted event.
type Record struct {
	Seq        int64           `json:"seq"`
	Invocation string          `json:"invocation"`
	Op         string          `json:"op"`
	Topic      string          `json:"topic"`
	Audit      bool            `json:"audit"`
	Addresses  []string        `json:"addresses,omitempty"`
	Payload    json.RawMessage `json:"payload"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// Filter narrows a Query. Zero fields match everything.
type Filter struct {
	Topic      string // prefix of "contract/topic"
	Invocation string
	Address    string // any party mentioned in the payload
	AuditOnly  bool
	Before     int64 // Seq cursor, exclusive
	Limit      int
}

func (f Filter) limit() int {
	switch {
	case f.Limit <= 0:
		return DefaultLimit
	case f.Limit > MaxLimit:
		return MaxLimit
	default:
		return f.Limit
	}
}

// Store persists records. Query returns newest first.
type Store interface {
	Append(ctx context.Context, records []Record) error
	Query(ctx context.Context, f Filter) ([]Record, error)
}

var appendFailures = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "zaps",
	Subsystem: "audit",
	Name:      "append_failures_total",
	Help:      "Batches of events the audit store failed to persist.",
})

func init() {
	prometheus.MustRegister(appendFailures)
}

// Sink adapts a Store to host.EventSink.
type Sink struct {
	store  Store
	logger *slog.Logger
}

// NewSink creates a sink writing to store.
func NewSink(store Store, logger *slog.Logger) *Sink {
	return &Sink{store: store, logger: logger}
}

// Publish converts and appends events. Failures are logged, never returned:
// the invocation has already been decided.
func (s *Sink) Publish(ctx context.Context, events []host.Event) {
	records := make([]Record, 0, len(events))
	for _, e := range events {
		r, err := FromEvent(e)
		if err != nil {
			s.logger.Warn("audit: unencodable event", "event", e.Name(), "error", err)
			continue
		}
		records = append(records, r)
	}
	if len(records) == 0 {
		return
	}
	if err := s.store.Append(context.WithoutCancel(ctx), records); err != nil {
		appendFailures.Inc()
		s.logger.Error("audit: append failed", "count", len(records), "error", err)
	}
}

// FromEvent builds a Record (without Seq) from a host event.
func FromEvent(e host.Event) (Record, error) {
	payload, err := json.Marshal(e.Data)
	if err != nil {
		return Record{}, err
	}
	return Record{
		Invocation: e.Invocation,
		Op:         e.Op,
		Topic:      e.Name(),
		Audit:      e.Audit,
		Addresses:  addressesIn(payload),
		Payload:    payload,
		CreatedAt:  e.Timestamp,
	}, nil
}

// addressesIn collects the distinct top-level 0x-prefixed string values of a
// JSON object, lowercased.
func addressesIn(payload []byte) []string {
	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	for _, v := range fields {
		s, ok := v.(string)
		if !ok || !strings.HasPrefix(strings.ToLower(s), "0x") {
			continue
		}
		s = strings.ToLower(s)
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

// MemoryStore is an in-memory Store for tests and demo mode.
type MemoryStore struct {
	mu      sync.RWMutex
	records []Record
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Append(_ context.Context, records []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		r.Seq = int64(len(m.records) + 1)
		m.records = append(m.records, r)
	}
	return nil
}

func (m *MemoryStore) Query(_ context.Context, f Filter) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	addr := strings.ToLower(f.Address)
	limit := f.limit()
	var out []Record
	for i := len(m.records) - 1; i >= 0 && len(out) < limit; i-- {
		r := m.records[i]
		if f.Before > 0 && r.Seq >= f.Before {
			continue
		}
		if f.Topic != "" && !strings.HasPrefix(r.Topic, f.Topic) {
			continue
		}
		if f.Invocation != "" && r.Invocation != f.Invocation {
			continue
		}
		if f.AuditOnly && !r.Audit {
			continue
		}
		if addr != "" && !contains(r.Addresses, addr) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

var (
	_ Store          = (*MemoryStore)(nil)
	_ host.EventSink = (*Sink)(nil)
)
