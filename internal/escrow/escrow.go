// Package escrow holds funds for a single buyer/seller pair until they are
// released to the seller or refunded to the buyer.
//
// Flow:
//  1. Buyer locks funds → buyer custody moves into the escrow principal
//  2. Seller (or arbitrator) releases → escrow custody moves to the seller
//  3. Buyer (or arbitrator) refunds → escrow custody moves back to the buyer
//  4. After RefundTimeout anyone may trigger the refund to the buyer
//
// Locked is the only non-terminal state. Disputed is defined for a dispute
// resolution path that no operation reaches yet.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/zapspay/settlement/internal/amount"
	"github.com/zapspay/settlement/internal/auth"
	"github.com/zapspay/settlement/internal/host"
	"github.com/zapspay/settlement/internal/metrics"
)

const contract = "escrow"

var (
	ErrNotAuthorized     = auth.ErrNotAuthorized
	ErrAlreadyLocked     = errors.New("escrow: id already used")
	ErrNotLocked         = errors.New("escrow: not found")
	ErrInvalidState      = errors.New("escrow: invalid state for this operation")
	ErrInvalidAmount     = errors.New("escrow: amount must be positive")
	ErrInvalidArbitrator = errors.New("escrow: arbitrator must differ from buyer and seller")
	// ErrTimeoutNotReached is reserved; refunds before the timeout by a
	// third party fail with ErrNotAuthorized.
	ErrTimeoutNotReached = errors.New("escrow: refund timeout not reached")
)

// State represents the state of an escrow.
type State string

const (
	StateLocked   State = "locked"
	StateReleased State = "released"
	StateRefunded State = "refunded"
	StateDisputed State = "disputed"
)

// RefundTimeout is how long after locking any caller may trigger a refund.
const RefundTimeout = 7 * 24 * time.Hour

// Escrow is a stored escrow record. Amount never changes after Lock.
type Escrow struct {
	ID         Tag        `json:"id"`
	Buyer      string     `json:"buyer"`
	Seller     string     `json:"seller"`
	Arbitrator string     `json:"arbitrator,omitempty"`
	Asset      string     `json:"asset"`
	Amount     *big.Int   `json:"amount"`
	State      State      `json:"state"`
	Memo       Tag        `json:"memo"`
	CreatedAt  time.Time  `json:"createdAt"`
	ResolvedAt *time.Time `json:"resolvedAt,omitempty"`
}

// IsTerminal returns true if the escrow is in a final state.
func (e *Escrow) IsTerminal() bool {
	return e.State != StateLocked
}

// LockRequest contains the parameters for locking funds.
type LockRequest struct {
	ID         Tag
	Buyer      string
	Seller     string
	Arbitrator string
	Asset      string
	Amount     *big.Int
	Memo       Tag
}

// LockedEvent is emitted when funds are locked.
type LockedEvent struct {
	ID     Tag      `json:"id"`
	Buyer  string   `json:"buyer"`
	Seller string   `json:"seller"`
	Amount *big.Int `json:"amount"`
}

// ResolvedEvent is emitted on release and refund.
type ResolvedEvent struct {
	ID        Tag      `json:"id"`
	Caller    string   `json:"caller"`
	Recipient string   `json:"recipient"`
	Amount    *big.Int `json:"amount"`
	Timeout   bool     `json:"timeout,omitempty"`
}

// Transferer moves asset custody between principals.
type Transferer interface {
	Transfer(ctx context.Context, asset, from, to string, amt *big.Int) error
}

// Service implements escrow business logic.
type Service struct {
	host    *host.Host
	authz   auth.Authorizer
	token   Transferer
	address string
	timeout time.Duration
	logger  *slog.Logger
}

// NewService creates an escrow service holding funds under address.
func NewService(h *host.Host, authz auth.Authorizer, token Transferer, address string) *Service {
	return &Service{
		host:    h,
		authz:   authz,
		token:   token,
		address: address,
		timeout: RefundTimeout,
		logger:  slog.Default(),
	}
}

// WithRefundTimeout overrides RefundTimeout.
func (s *Service) WithRefundTimeout(d time.Duration) *Service {
	if d > 0 {
		s.timeout = d
	}
	return s
}

// WithLogger sets a structured logger.
func (s *Service) WithLogger(l *slog.Logger) *Service {
	s.logger = l
	return s
}

// Address is the escrow custody principal.
func (s *Service) Address() string {
	return s.address
}

// RefundTimeout returns the configured timeout.
func (s *Service) RefundTimeout() time.Duration {
	return s.timeout
}

func (s *Service) escrowKey(id Tag) string {
	return host.Key(contract, s.address, id.String())
}

// openPrefix holds one marker per locked escrow, keyed by creation time so
// that a prefix scan lists them oldest first.
func (s *Service) openPrefix() string {
	return host.Key(contract, s.address, "open") + "/"
}

func (s *Service) openKey(e *Escrow) string {
	return s.openPrefix() + fmt.Sprintf("%020d/%s", e.CreatedAt.UnixNano(), e.ID)
}

// Lock moves funds from the buyer into escrow custody and stores the record.
func (s *Service) Lock(ctx context.Context, id Tag, buyer, seller, asset string, amt *big.Int, memo Tag) (*Escrow, error) {
	return s.lock(ctx, LockRequest{ID: id, Buyer: buyer, Seller: seller, Asset: asset, Amount: amt, Memo: memo})
}

// LockWithArbitrator is Lock with a third party allowed to release or refund.
func (s *Service) LockWithArbitrator(ctx context.Context, req LockRequest) (*Escrow, error) {
	if sameAddr(req.Arbitrator, req.Buyer) || sameAddr(req.Arbitrator, req.Seller) {
		return nil, ErrInvalidArbitrator
	}
	return s.lock(ctx, req)
}

func (s *Service) lock(ctx context.Context, req LockRequest) (*Escrow, error) {
	var e *Escrow
	err := s.host.Invoke(ctx, "escrow.lock", func(ctx context.Context, tx *host.Tx) error {
		if err := s.authz.RequireAuth(ctx, req.Buyer); err != nil {
			return err
		}
		if !amount.IsPositive(req.Amount) {
			return ErrInvalidAmount
		}
		exists, err := tx.Has(ctx, s.escrowKey(req.ID))
		if err != nil {
			return err
		}
		if exists {
			return ErrAlreadyLocked
		}

		if err := s.token.Transfer(ctx, req.Asset, req.Buyer, s.address, req.Amount); err != nil {
			return err
		}

		e = &Escrow{
			ID:         req.ID,
			Buyer:      req.Buyer,
			Seller:     req.Seller,
			Arbitrator: req.Arbitrator,
			Asset:      req.Asset,
			Amount:     amount.Copy(req.Amount),
			State:      StateLocked,
			Memo:       req.Memo,
			CreatedAt:  tx.Now(),
		}
		if err := tx.Set(s.escrowKey(e.ID), e); err != nil {
			return err
		}
		if err := tx.Set(s.openKey(e), e.ID); err != nil {
			return err
		}
		tx.Emit(contract, "locked", LockedEvent{ID: e.ID, Buyer: e.Buyer, Seller: e.Seller, Amount: amount.Copy(e.Amount)})
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.EscrowsTotal.WithLabelValues(string(StateLocked)).Inc()
	s.logger.Info("escrow locked", "escrowId", e.ID.String(), "buyer", e.Buyer, "seller", e.Seller, "amount", e.Amount.String())
	return e, nil
}

// Release pays the held amount to the seller. Caller must be the seller or
// the arbitrator.
func (s *Service) Release(ctx context.Context, id Tag, caller string) (*Escrow, error) {
	var e *Escrow
	err := s.host.Invoke(ctx, "escrow.release", func(ctx context.Context, tx *host.Tx) error {
		if err := s.authz.RequireAuth(ctx, caller); err != nil {
			return err
		}
		var err error
		if e, err = s.loadLocked(ctx, tx, id); err != nil {
			return err
		}
		if !sameAddr(caller, e.Seller) && !sameAddr(caller, e.Arbitrator) {
			return ErrNotAuthorized
		}

		if err := s.payout(ctx, e, e.Seller); err != nil {
			return err
		}
		if err := s.resolve(tx, e, StateReleased); err != nil {
			return err
		}
		tx.Emit(contract, "released", ResolvedEvent{ID: id, Caller: caller, Recipient: e.Seller, Amount: amount.Copy(e.Amount)})
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.observeResolved(e, false)
	return e, nil
}

// Refund returns the held amount to the buyer. The buyer or arbitrator may
// refund at any time; once RefundTimeout has elapsed any authenticated
// caller may.
func (s *Service) Refund(ctx context.Context, id Tag, caller string) (*Escrow, error) {
	var e *Escrow
	var byTimeout bool
	err := s.host.Invoke(ctx, "escrow.refund", func(ctx context.Context, tx *host.Tx) error {
		if err := s.authz.RequireAuth(ctx, caller); err != nil {
			return err
		}
		var err error
		if e, err = s.loadLocked(ctx, tx, id); err != nil {
			return err
		}

		party := sameAddr(caller, e.Buyer) || sameAddr(caller, e.Arbitrator)
		timedOut := !tx.Now().Before(e.CreatedAt.Add(s.timeout))
		if !party && !timedOut {
			return ErrNotAuthorized
		}
		byTimeout = !party

		if err := s.payout(ctx, e, e.Buyer); err != nil {
			return err
		}
		if err := s.resolve(tx, e, StateRefunded); err != nil {
			return err
		}
		tx.Emit(contract, "refunded", ResolvedEvent{ID: id, Caller: caller, Recipient: e.Buyer, Amount: amount.Copy(e.Amount), Timeout: byTimeout})
		return nil
	})
	if err != nil {
		return nil, err
	}
	if byTimeout {
		s.logger.Warn("escrow refunded by third party after timeout", "escrowId", id.String(), "caller", caller)
	}
	s.observeResolved(e, byTimeout)
	return e, nil
}

// Get returns an escrow record. A missing id fails with ErrNotLocked.
func (s *Service) Get(ctx context.Context, id Tag) (*Escrow, error) {
	var e *Escrow
	err := s.host.View(ctx, func(ctx context.Context, tx *host.Tx) error {
		var err error
		e, err = s.load(ctx, tx, id)
		return err
	})
	return e, err
}

// IsLocked reports whether the escrow exists and is still locked.
func (s *Service) IsLocked(ctx context.Context, id Tag) (bool, error) {
	e, err := s.Get(ctx, id)
	if errors.Is(err, ErrNotLocked) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return e.State == StateLocked, nil
}

// ListOpen returns every locked escrow, oldest first.
func (s *Service) ListOpen(ctx context.Context) ([]*Escrow, error) {
	return s.listOpen(ctx, func(time.Time) bool { return true })
}

// ListTimedOut returns locked escrows whose refund timeout has elapsed at now.
// Only those records are loaded.
func (s *Service) ListTimedOut(ctx context.Context, now time.Time) ([]*Escrow, error) {
	return s.listOpen(ctx, func(created time.Time) bool {
		return !now.Before(created.Add(s.timeout))
	})
}

// listOpen walks the open markers oldest first and loads records while
// accept holds for their creation time.
func (s *Service) listOpen(ctx context.Context, accept func(created time.Time) bool) ([]*Escrow, error) {
	var out []*Escrow
	err := s.host.View(ctx, func(ctx context.Context, tx *host.Tx) error {
		keys, err := tx.Keys(ctx, s.openPrefix())
		if err != nil {
			return err
		}
		for _, key := range keys {
			created, id, err := parseOpenKey(strings.TrimPrefix(key, s.openPrefix()))
			if err != nil {
				return fmt.Errorf("escrow: open marker %s: %w", key, err)
			}
			if !accept(created) {
				break
			}
			e, err := s.load(ctx, tx, id)
			if err != nil {
				return err
			}
			out = append(out, e)
		}
		return nil
	})
	return out, err
}

func parseOpenKey(rest string) (time.Time, Tag, error) {
	nanos, rawID, ok := strings.Cut(rest, "/")
	if !ok {
		return time.Time{}, Tag{}, errors.New("malformed key")
	}
	n, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return time.Time{}, Tag{}, err
	}
	id, err := ParseTag(rawID)
	if err != nil {
		return time.Time{}, Tag{}, err
	}
	return time.Unix(0, n).UTC(), id, nil
}

func (s *Service) load(ctx context.Context, tx *host.Tx, id Tag) (*Escrow, error) {
	var e Escrow
	found, err := tx.Get(ctx, s.escrowKey(id), &e)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotLocked
	}
	return &e, nil
}

func (s *Service) loadLocked(ctx context.Context, tx *host.Tx, id Tag) (*Escrow, error) {
	e, err := s.load(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if e.State != StateLocked {
		return nil, ErrInvalidState
	}
	return e, nil
}

// payout moves the held amount out of escrow custody.
func (s *Service) payout(ctx context.Context, e *Escrow, to string) error {
	return s.token.Transfer(auth.AsInvoker(ctx, s.address), e.Asset, s.address, to, e.Amount)
}

func (s *Service) resolve(tx *host.Tx, e *Escrow, state State) error {
	now := tx.Now()
	e.State = state
	e.ResolvedAt = &now
	if err := tx.Set(s.escrowKey(e.ID), e); err != nil {
		return err
	}
	tx.Delete(s.openKey(e))
	return nil
}

// sameAddr compares principals case-insensitively. An empty principal never
// matches, so an unset arbitrator grants nothing.
func sameAddr(a, b string) bool {
	return a != "" && strings.EqualFold(a, b)
}

func (s *Service) observeResolved(e *Escrow, byTimeout bool) {
	metrics.EscrowsTotal.WithLabelValues(string(e.State)).Inc()
	if byTimeout {
		metrics.EscrowTimeoutRefundsTotal.Inc()
	}
	if e.ResolvedAt != nil {
		metrics.EscrowDuration.Observe(e.ResolvedAt.Sub(e.CreatedAt).Seconds())
	}
}
