// Package host provides the serialized, atomic execution context the
// settlement components run in.
//
// Every public entry point of a component runs inside Host.Invoke. An
// invocation sees a private write overlay (Tx) on top of the committed state:
//
//   - fn returns nil: all writes are committed to the Backend at once and the
//     collected events are published to every registered EventSink
//   - fn returns an error: all writes are discarded, only audit events are
//     published
//   - fn panics (see Fatal): same as an error, and Invoke returns an
//     *AbortError with Fatal set
//
// Invocations are totally ordered by a single host lock. A component calling
// another component passes its context along; the nested Invoke joins the
// caller's Tx instead of opening a new one, so the outermost invocation
// decides the outcome for the whole call tree.
package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/zapspay/settlement/internal/idgen"
	"github.com/zapspay/settlement/internal/syncutil"
	"github.com/zapspay/settlement/internal/traces"
)

// ErrFatal is matched by every fatal AbortError.
var ErrFatal = errors.New("host: fatal abort")

// AbortError is returned by Invoke when the invocation panicked. It is never a
// business outcome: it signals a violated invariant (e.g. balance overflow).
type AbortError struct {
	Op     string
	Reason string
	Fatal  bool
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("host: %s aborted: %s", e.Op, e.Reason)
}

// Is makes errors.Is(err, ErrFatal) work for fatal aborts.
func (e *AbortError) Is(target error) bool {
	return target == ErrFatal && e.Fatal
}

// Fatal aborts the current invocation. The host recovers the panic, discards
// every write and returns an *AbortError to the outermost caller.
func Fatal(format string, args ...any) {
	panic(&AbortError{Reason: fmt.Sprintf(format, args...), Fatal: true})
}

// IsFatal reports whether err is (or wraps) a fatal abort.
func IsFatal(err error) bool {
	return errors.Is(err, ErrFatal)
}

// Host owns the committed state and serializes invocations.
type Host struct {
	backend Backend
	clock   Clock
	logger  *slog.Logger
	sinks   []EventSink
	lock    *syncutil.ContextMutex
}

// Option configures a Host.
type Option func(*Host)

// WithClock replaces the system clock (tests use ManualClock).
func WithClock(c Clock) Option {
	return func(h *Host) { h.clock = c }
}

// WithLogger sets the host logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Host) { h.logger = l }
}

// WithSink registers an event sink at construction time.
func WithSink(s EventSink) Option {
	return func(h *Host) { h.sinks = append(h.sinks, s) }
}

// New creates a host over the given backend.
func New(backend Backend, opts ...Option) *Host {
	h := &Host{
		backend: backend,
		clock:   SystemClock{},
		logger:  slog.Default(),
		lock:    syncutil.NewContextMutex(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscribe adds an event sink. Not safe to call concurrently with Invoke.
func (h *Host) Subscribe(s EventSink) {
	h.sinks = append(h.sinks, s)
}

// Now returns the host clock reading.
func (h *Host) Now() time.Time {
	return h.clock.Now()
}

// Backend exposes the committed-state backend (health checks, shutdown).
func (h *Host) Backend() Backend {
	return h.backend
}

// Invoke runs fn as one atomic unit of work. See the package documentation
// for commit, abort and nesting rules.
func (h *Host) Invoke(ctx context.Context, op string, fn func(ctx context.Context, tx *Tx) error) (err error) {
	if tx := txFrom(ctx); tx != nil && tx.host == h {
		return fn(ctx, tx)
	}

	unlock, err := h.lock.LockContext(ctx)
	if err != nil {
		return fmt.Errorf("host: acquire %s: %w", op, err)
	}
	defer unlock()

	ctx, span := traces.StartSpan(ctx, "host."+op)
	defer func() { traces.Finish(span, err) }()
	observe := observeInvocation(op)
	done := func(outcome string) {
		span.SetAttributes(traces.Outcome(outcome))
		observe(outcome)
	}

	tx := newTx(h, op, idgen.Invocation(), h.clock.Now())
	span.SetAttributes(traces.Invocation(tx.id))
	ctx = withTx(ctx, tx)

	defer func() {
		if r := recover(); r != nil {
			abort, ok := r.(*AbortError)
			if !ok {
				abort = &AbortError{Reason: fmt.Sprint(r), Fatal: true}
			}
			abort.Op = op
			h.logger.Error("invocation aborted", "op", op, "invocation", tx.id, "reason", abort.Reason)
			h.publish(ctx, tx.auditEvents())
			done(outcomeFatal)
			err = abort
		}
	}()

	if err := fn(ctx, tx); err != nil {
		h.logger.Debug("invocation rolled back", "op", op, "invocation", tx.id, "error", err)
		h.publish(ctx, tx.auditEvents())
		done(outcomeAborted)
		return err
	}

	if err := h.backend.Commit(ctx, tx.pendingWrites()); err != nil {
		h.logger.Error("commit failed", "op", op, "invocation", tx.id, "error", err)
		h.publish(ctx, tx.auditEvents())
		done(outcomeAborted)
		return fmt.Errorf("host: commit %s: %w", op, err)
	}

	h.publish(ctx, tx.events)
	done(outcomeCommitted)
	return nil
}

// View runs a read-only function against committed state. Writes made inside
// fn are discarded and events are never published.
func (h *Host) View(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) error {
	if tx := txFrom(ctx); tx != nil && tx.host == h {
		return fn(ctx, tx)
	}
	unlock, err := h.lock.LockContext(ctx)
	if err != nil {
		return fmt.Errorf("host: acquire view: %w", err)
	}
	defer unlock()

	tx := newTx(h, "view", "", h.clock.Now())
	return fn(withTx(ctx, tx), tx)
}

func (h *Host) publish(ctx context.Context, events []Event) {
	if len(events) == 0 {
		return
	}
	for _, s := range h.sinks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					h.logger.Error("event sink panicked", "panic", fmt.Sprint(r))
				}
			}()
			s.Publish(ctx, events)
		}()
	}
}
