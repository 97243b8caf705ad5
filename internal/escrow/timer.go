package escrow

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/zapspay/settlement/internal/auth"
)

// Sweeper periodically refunds escrows whose refund timeout has elapsed.
// It acts as the keeper principal, which is a third party to every escrow,
// so it can only succeed after the timeout.
type Sweeper struct {
	service  *Service
	keeper   string
	interval time.Duration
	batch    int
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewSweeper creates a timeout sweeper refunding under the keeper principal.
func NewSweeper(service *Service, keeper string, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		service:  service,
		keeper:   keeper,
		interval: time.Minute,
		batch:    100,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// WithInterval overrides the sweep interval.
func (s *Sweeper) WithInterval(d time.Duration) *Sweeper {
	if d > 0 {
		s.interval = d
	}
	return s
}

// Running reports whether the sweep loop is actively running.
func (s *Sweeper) Running() bool {
	return s.running.Load()
}

// Start begins the sweep loop. Call in a goroutine.
func (s *Sweeper) Start(ctx context.Context) {
	s.running.Store(true)
	defer s.running.Store(false)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.safeSweep(ctx)
		}
	}
}

// Stop signals the sweeper to stop.
func (s *Sweeper) Stop() {
	select {
	case s.stop <- struct{}{}:
	default:
	}
}

func (s *Sweeper) safeSweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in escrow sweeper", "panic", fmt.Sprint(r))
		}
	}()
	s.Sweep(ctx)
}

// Sweep refunds every timed-out escrow once and returns how many succeeded.
func (s *Sweeper) Sweep(ctx context.Context) int {
	expired, err := s.service.ListTimedOut(ctx, s.service.host.Now())
	if err != nil {
		s.logger.Warn("failed to list timed-out escrows", "error", err)
		return 0
	}
	if len(expired) > s.batch {
		expired = expired[:s.batch]
	}

	refunded := 0
	kctx := auth.AsInvoker(ctx, s.keeper)
	for _, e := range expired {
		if _, err := s.service.Refund(kctx, e.ID, s.keeper); err != nil {
			s.logger.Warn("failed to refund timed-out escrow",
				"escrowId", e.ID.String(),
				"error", err,
			)
			continue
		}
		refunded++
		s.logger.Info("refunded timed-out escrow",
			"escrowId", e.ID.String(),
			"buyer", e.Buyer,
			"amount", e.Amount.String(),
		)
	}
	return refunded
}
