// Package webhooks delivers settlement events to external services.
//
// Owners register URLs with topic filters ("escrow/released", "router/*",
// "*"). Every committed host event and every audit event is matched against
// active subscriptions and POSTed as JSON, signed with HMAC-SHA256 of the
// body under the subscription secret (X-Zaps-Signature).
package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/zapspay/settlement/internal/circuitbreaker"
	"github.com/zapspay/settlement/internal/metrics"
	"github.com/zapspay/settlement/internal/retry"
	"github.com/zapspay/settlement/internal/security"
)

// Delivery headers.
const (
	HeaderEvent     = "X-Zaps-Event"
	HeaderDelivery  = "X-Zaps-Delivery"
	HeaderTimestamp = "X-Zaps-Timestamp"
	HeaderSignature = "X-Zaps-Signature"
)

// MaxConsecutiveFailures deactivates a subscription.
const MaxConsecutiveFailures = 10

var (
	ErrNotFound   = errors.New("webhook subscription not found")
	ErrInvalidURL = errors.New("webhook url must be an absolute http(s) url to a public host")
)

// Event is the delivered payload.
type Event struct {
	ID         string    `json:"id"`
	Topic      string    `json:"topic"`
	Invocation string    `json:"invocation"`
	Audit      bool      `json:"audit,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	Data       any       `json:"data"`
}

// Subscription represents a webhook subscription
type Subscription struct {
	ID                  string     `json:"id"`
	Owner               string     `json:"owner"`
	URL                 string     `json:"url"`
	Secret              string     `json:"-"` // Used for HMAC signing
	Topics              []string   `json:"topics"`
	Active              bool       `json:"active"`
	CreatedAt           time.Time  `json:"createdAt"`
	LastSuccess         *time.Time `json:"lastSuccess,omitempty"`
	LastError           string     `json:"lastError,omitempty"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
}

// Matches reports whether topic is covered by one of the subscription's
// filters. "contract/*" matches every topic of a contract; "*" matches all.
func (s *Subscription) Matches(topic string) bool {
	for _, f := range s.Topics {
		switch {
		case f == "*", f == topic:
			return true
		case strings.HasSuffix(f, "/*") && strings.HasPrefix(topic, strings.TrimSuffix(f, "*")):
			return true
		}
	}
	return false
}

// Store persists webhook subscriptions
type Store interface {
	Create(ctx context.Context, sub *Subscription) error
	Get(ctx context.Context, id string) (*Subscription, error)
	ListByOwner(ctx context.Context, owner string) ([]*Subscription, error)
	ListActive(ctx context.Context) ([]*Subscription, error)
	Update(ctx context.Context, sub *Subscription) error
	Delete(ctx context.Context, id string) error
}

// Dispatcher sends webhook events
type Dispatcher struct {
	store        Store
	client       *http.Client
	breaker      *circuitbreaker.Breaker
	logger       *slog.Logger
	attempts     int
	baseDelay    time.Duration
	urlValidator func(string) error
	wg           sync.WaitGroup
}

// NewDispatcher creates a new webhook dispatcher
func NewDispatcher(store Store, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		store: store,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		breaker:      circuitbreaker.New(5, time.Minute),
		logger:       logger,
		attempts:     3,
		baseDelay:    500 * time.Millisecond,
		urlValidator: ValidateURL,
	}
}

// Wait blocks until every in-flight delivery finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Dispatch sends an event to every active matching subscription and returns
// how many accepted it.
func (d *Dispatcher) Dispatch(ctx context.Context, event *Event) (int, error) {
	subs, err := d.store.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get subscribers: %w", err)
	}

	delivered := 0
	for _, sub := range subs {
		if !sub.Active || !sub.Matches(event.Topic) {
			continue
		}
		if d.send(ctx, sub, event) {
			delivered++
		}
	}
	return delivered, nil
}

// dispatchAsync runs Dispatch on its own goroutine, tracked by Wait.
func (d *Dispatcher) dispatchAsync(event *Event) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if _, err := d.Dispatch(ctx, event); err != nil {
			d.logger.Warn("webhook dispatch failed", "topic", event.Topic, "error", err)
		}
	}()
}

func (d *Dispatcher) send(ctx context.Context, sub *Subscription, event *Event) bool {
	if !d.breaker.Allow(sub.URL) {
		metrics.WebhookDeliveriesTotal.WithLabelValues("circuit_open").Inc()
		return false
	}

	payload, err := json.Marshal(event)
	if err != nil {
		d.updateError(ctx, sub, "failed to marshal event")
		return false
	}

	err = retry.Do(ctx, d.attempts, d.baseDelay, func() error {
		return d.post(ctx, sub, event, payload)
	})
	if err != nil {
		d.breaker.RecordFailure(sub.URL)
		metrics.WebhookDeliveriesTotal.WithLabelValues("failed").Inc()
		d.updateError(ctx, sub, err.Error())
		return false
	}

	d.breaker.RecordSuccess(sub.URL)
	metrics.WebhookDeliveriesTotal.WithLabelValues("success").Inc()
	d.updateSuccess(ctx, sub)
	return true
}

func (d *Dispatcher) post(ctx context.Context, sub *Subscription, event *Event, payload []byte) error {
	if err := d.urlValidator(sub.URL); err != nil {
		return retry.Permanent(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(payload))
	if err != nil {
		return retry.Permanent(fmt.Errorf("failed to create request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, event.Topic)
	req.Header.Set(HeaderDelivery, event.ID)
	req.Header.Set(HeaderTimestamp, fmt.Sprintf("%d", event.Timestamp.Unix()))
	if sub.Secret != "" {
		req.Header.Set(HeaderSignature, Sign(payload, sub.Secret))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		return retry.Permanent(fmt.Errorf("status %d", resp.StatusCode))
	default:
		return fmt.Errorf("status %d", resp.StatusCode)
	}
}

// Sign returns the hex HMAC-SHA256 of payload under secret.
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// Verify checks a delivery signature in constant time.
func Verify(payload []byte, secret, signature string) bool {
	return hmac.Equal([]byte(Sign(payload, secret)), []byte(signature))
}

// ValidateURL rejects non-http(s) urls and hosts that resolve to loopback,
// private or link-local addresses.
func ValidateURL(raw string) error {
	if err := security.ValidateEndpointURL(raw); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	return nil
}

func (d *Dispatcher) updateSuccess(ctx context.Context, sub *Subscription) {
	now := time.Now()
	sub.LastSuccess = &now
	sub.LastError = ""
	sub.ConsecutiveFailures = 0
	if err := d.store.Update(ctx, sub); err != nil {
		d.logger.Warn("webhook status update failed", "webhook", sub.ID, "error", err)
	}
}

func (d *Dispatcher) updateError(ctx context.Context, sub *Subscription, errMsg string) {
	sub.LastError = errMsg
	sub.ConsecutiveFailures++
	if sub.ConsecutiveFailures >= MaxConsecutiveFailures {
		sub.Active = false
		d.breaker.Forget(sub.URL)
		d.logger.Warn("webhook deactivated after repeated failures", "webhook", sub.ID, "url", sub.URL)
	}
	if err := d.store.Update(ctx, sub); err != nil {
		d.logger.Warn("webhook status update failed", "webhook", sub.ID, "error", err)
	}
}

// MemoryStore is an in-memory implementation for testing
type MemoryStore struct {
	subs  map[string]*Subscription
	order []string
	mu    sync.RWMutex
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		subs: make(map[string]*Subscription),
	}
}

func (m *MemoryStore) Create(ctx context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *sub
	m.subs[sub.ID] = &cp
	m.order = append(m.order, sub.ID)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if sub, ok := m.subs[id]; ok {
		cp := *sub
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) list(keep func(*Subscription) bool) []*Subscription {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*Subscription
	for _, id := range m.order {
		sub, ok := m.subs[id]
		if ok && keep(sub) {
			cp := *sub
			result = append(result, &cp)
		}
	}
	return result
}

func (m *MemoryStore) ListByOwner(ctx context.Context, owner string) ([]*Subscription, error) {
	return m.list(func(s *Subscription) bool { return s.Owner == owner }), nil
}

func (m *MemoryStore) ListActive(ctx context.Context) ([]*Subscription, error) {
	return m.list(func(s *Subscription) bool { return s.Active }), nil
}

func (m *MemoryStore) Update(ctx context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[sub.ID]; !ok {
		return ErrNotFound
	}
	cp := *sub
	m.subs[sub.ID] = &cp
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[id]; !ok {
		return ErrNotFound
	}
	delete(m.subs, id)
	return nil
}
