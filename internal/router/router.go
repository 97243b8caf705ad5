// Package router accepts payments in any asset and settles them into the
// payee merchant's vault in the merchant's settlement asset.
//
// Collaborators (registry, vaults, FX routers, the asset ledger) are not
// trusted: every settled amount is measured as a custody balance delta, never
// taken from a collaborator's return value.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync/atomic"

	"github.com/zapspay/settlement/internal/amount"
	"github.com/zapspay/settlement/internal/auth"
	"github.com/zapspay/settlement/internal/host"
	"github.com/zapspay/settlement/internal/metrics"
	"github.com/zapspay/settlement/internal/registry"
	"github.com/zapspay/settlement/internal/traces"
)

const contract = "router"

var (
	ErrInvalidSendAmount  = errors.New("router: send amount must be positive")
	ErrInvalidMinReceive  = errors.New("router: minimum receive must be positive")
	ErrReentrancy         = errors.New("router: reentrant call")
	ErrRegistryNotSet     = errors.New("router: registry not set")
	ErrAlreadyInitialized = errors.New("router: already initialized")
	ErrMerchantInactive   = errors.New("router: merchant inactive")
	ErrFxRouterMissing    = errors.New("router: merchant has no fx router")
	ErrSettlementBelowMin = errors.New("router: settlement below minimum")
	ErrFxSwapFailed       = errors.New("router: fx swap failed")
)

// Settlement paths.
const (
	PathDirect = "direct"
	PathFX     = "fx"
)

// Config is the router's init-once configuration.
type Config struct {
	Admin    string `json:"admin"`
	Registry string `json:"registry"`
}

// PayRequest describes one payment.
type PayRequest struct {
	From       string
	MerchantID string
	SendAsset  string
	SendAmount *big.Int
	MinReceive *big.Int
}

// PaymentInitiatedEvent is emitted once the merchant accepted the payment.
type PaymentInitiatedEvent struct {
	From            string   `json:"from"`
	MerchantID      string   `json:"merchantId"`
	SendAsset       string   `json:"sendAsset"`
	SendAmount      *big.Int `json:"sendAmount"`
	SettlementAsset string   `json:"settlementAsset"`
	MinReceive      *big.Int `json:"minReceive"`
}

// PaymentSettledEvent is emitted when the vault was credited.
type PaymentSettledEvent struct {
	From            string   `json:"from"`
	MerchantID      string   `json:"merchantId"`
	SendAsset       string   `json:"sendAsset"`
	SendAmount      *big.Int `json:"sendAmount"`
	SettlementAsset string   `json:"settlementAsset"`
	Settled         *big.Int `json:"settled"`
	Path            string   `json:"path"`
}

// PaymentFailedEvent is an audit event: it is published even though the
// payment aborts. Settled is the quoted or measured amount that made the
// payment fail, nil when the failure came before any settlement.
type PaymentFailedEvent struct {
	From            string   `json:"from"`
	MerchantID      string   `json:"merchantId"`
	SendAsset       string   `json:"sendAsset"`
	SendAmount      *big.Int `json:"sendAmount"`
	SettlementAsset string   `json:"settlementAsset"`
	Settled         *big.Int `json:"settled,omitempty"`
	Path            string   `json:"path,omitempty"`
	Reason          string   `json:"reason"`
}

// Router is one payment router instance.
type Router struct {
	host    *host.Host
	authz   auth.Authorizer
	token   Token
	dir     Directory
	address string
	logger  *slog.Logger

	// inFlight guards against nested Pay calls on this instance.
	inFlight atomic.Bool
}

// New creates a router whose custody principal is address.
func New(h *host.Host, authz auth.Authorizer, token Token, dir Directory, address string) *Router {
	return &Router{
		host:    h,
		authz:   authz,
		token:   token,
		dir:     dir,
		address: address,
		logger:  slog.Default(),
	}
}

// WithLogger sets a structured logger.
func (r *Router) WithLogger(l *slog.Logger) *Router {
	r.logger = l
	return r
}

// Address is the router's custody principal.
func (r *Router) Address() string {
	return r.address
}

func (r *Router) configKey() string {
	return host.Key(contract, r.address, "config")
}

// Init stores the admin and registry reference. It succeeds once.
func (r *Router) Init(ctx context.Context, admin, registryRef string) error {
	return r.host.Invoke(ctx, "router.init", func(ctx context.Context, tx *host.Tx) error {
		exists, err := tx.Has(ctx, r.configKey())
		if err != nil {
			return err
		}
		if exists {
			return ErrAlreadyInitialized
		}
		if err := r.authz.RequireAuth(ctx, admin); err != nil {
			return err
		}
		cfg := Config{Admin: admin, Registry: registryRef}
		if err := tx.Set(r.configKey(), cfg); err != nil {
			return err
		}
		tx.Emit(contract, "initialized", cfg)
		return nil
	})
}

// UpdateRegistry replaces the registry reference. Admin only.
func (r *Router) UpdateRegistry(ctx context.Context, registryRef string) error {
	return r.host.Invoke(ctx, "router.update_registry", func(ctx context.Context, tx *host.Tx) error {
		cfg, err := r.loadConfig(ctx, tx)
		if err != nil {
			return err
		}
		if err := r.authz.RequireAuth(ctx, cfg.Admin); err != nil {
			return err
		}
		cfg.Registry = registryRef
		if err := tx.Set(r.configKey(), cfg); err != nil {
			return err
		}
		tx.Emit(contract, "registry_updated", cfg)
		return nil
	})
}

// Registry returns the configured registry reference.
func (r *Router) Registry(ctx context.Context) (string, error) {
	cfg, err := r.Config(ctx)
	if err != nil {
		return "", err
	}
	return cfg.Registry, nil
}

// Config returns the router configuration.
func (r *Router) Config(ctx context.Context) (*Config, error) {
	var cfg *Config
	err := r.host.View(ctx, func(ctx context.Context, tx *host.Tx) error {
		var err error
		cfg, err = r.loadConfig(ctx, tx)
		return err
	})
	return cfg, err
}

func (r *Router) loadConfig(ctx context.Context, tx *host.Tx) (*Config, error) {
	var cfg Config
	found, err := tx.Get(ctx, r.configKey(), &cfg)
	if err != nil {
		return nil, err
	}
	if !found || cfg.Registry == "" {
		return nil, ErrRegistryNotSet
	}
	return &cfg, nil
}

// Pay settles req and returns the amount credited to the merchant vault.
func (r *Router) Pay(ctx context.Context, req PayRequest) (*big.Int, error) {
	if !amount.IsPositive(req.SendAmount) {
		return nil, ErrInvalidSendAmount
	}
	if !amount.IsPositive(req.MinReceive) {
		return nil, ErrInvalidMinReceive
	}

	ctx, span := traces.StartSpan(ctx, "router.pay",
		traces.Merchant(req.MerchantID),
		traces.Asset(req.SendAsset),
		traces.Amount(req.SendAmount.String()),
	)
	defer span.End()

	var settled *big.Int
	path := ""
	err := r.host.Invoke(ctx, "router.pay", func(ctx context.Context, tx *host.Tx) error {
		if err := r.authz.RequireAuth(ctx, req.From); err != nil {
			return err
		}
		if !r.inFlight.CompareAndSwap(false, true) {
			return ErrReentrancy
		}
		defer r.inFlight.Store(false)

		p := &payment{router: r, tx: tx, req: req}
		var err error
		settled, err = p.run(ctx)
		path = p.path
		return err
	})

	outcome := "settled"
	span.SetAttributes(traces.PaymentPath(path))
	if err != nil {
		traces.RecordError(span, err)
		outcome = failureReason(err)
		span.SetAttributes(traces.Outcome(outcome))
		r.logger.Warn("payment failed", "from", req.From, "merchant", req.MerchantID, "reason", outcome, "error", err)
		metrics.PaymentsTotal.WithLabelValues(outcome, path).Inc()
		return nil, err
	}
	metrics.PaymentsTotal.WithLabelValues(outcome, path).Inc()
	span.SetAttributes(traces.Outcome(outcome))
	r.logger.Info("payment settled", "from", req.From, "merchant", req.MerchantID, "path", path, "settled", settled.String())
	return settled, nil
}

// payment carries the state of one Pay invocation.
type payment struct {
	router   *Router
	tx       *host.Tx
	req      PayRequest
	merchant *registry.Merchant
	path     string
}

func (p *payment) run(ctx context.Context) (*big.Int, error) {
	r := p.router
	cfg, err := r.loadConfig(ctx, p.tx)
	if err != nil {
		return nil, err
	}
	reg, err := r.dir.Registry(cfg.Registry)
	if err != nil {
		return nil, err
	}
	p.merchant, err = reg.GetMerchant(auth.Detach(ctx), p.req.MerchantID)
	if err != nil {
		return nil, err
	}
	if !p.merchant.Active {
		return nil, p.fail(ErrMerchantInactive, nil)
	}

	p.tx.Emit(contract, "payment_initiated", PaymentInitiatedEvent{
		From:       p.req.From,
		MerchantID: p.req.MerchantID,
		SendAsset:  p.req.SendAsset,
		SendAmount:      amount.Copy(p.req.SendAmount),
		SettlementAsset: p.merchant.SettlementAsset,
		MinReceive:      amount.Copy(p.req.MinReceive),
	})

	vault, err := r.dir.Vault(p.merchant.Vault)
	if err != nil {
		return nil, err
	}

	var settled *big.Int
	if p.req.SendAsset == p.merchant.SettlementAsset {
		p.path = PathDirect
		settled, err = p.settleDirect(ctx, vault)
	} else {
		p.path = PathFX
		settled, err = p.settleFX(ctx, vault)
	}
	if err != nil {
		return nil, err
	}

	if settled.Cmp(p.req.MinReceive) < 0 {
		return nil, p.fail(ErrSettlementBelowMin, settled)
	}

	if _, err := vault.Credit(auth.AsInvoker(ctx, r.address), p.req.MerchantID, settled); err != nil {
		return nil, err
	}

	p.tx.Emit(contract, "payment_settled", PaymentSettledEvent{
		From:            p.req.From,
		MerchantID:      p.req.MerchantID,
		SendAsset:       p.req.SendAsset,
		SendAmount:      amount.Copy(p.req.SendAmount),
		SettlementAsset: p.merchant.SettlementAsset,
		Settled:         amount.Copy(settled),
		Path:            p.path,
	})
	return settled, nil
}

// settleDirect moves the payment straight into vault custody.
func (p *payment) settleDirect(ctx context.Context, vault Vault) (*big.Int, error) {
	r := p.router
	delta, err := p.measure(ctx, p.req.SendAsset, vault.Address(), func() error {
		return r.token.Transfer(ctx, p.req.SendAsset, p.req.From, vault.Address(), p.req.SendAmount)
	})
	if err != nil {
		return nil, err
	}
	if delta.Sign() <= 0 {
		return nil, p.fail(ErrFxSwapFailed, delta)
	}
	return delta, nil
}

// settleFX hands the payment to the merchant's FX router, receives the
// settlement asset into router custody and forwards it to the vault.
// Funds already sent to the FX router are not returned when a later step
// fails; the whole invocation aborts instead.
func (p *payment) settleFX(ctx context.Context, vault Vault) (*big.Int, error) {
	r := p.router
	if !p.merchant.HasFXRouter() {
		return nil, p.fail(ErrFxRouterMissing, nil)
	}
	fx, err := r.dir.FX(p.merchant.FXRouter)
	if err != nil {
		return nil, err
	}
	asset := p.merchant.SettlementAsset

	if err := r.token.Transfer(ctx, p.req.SendAsset, p.req.From, fx.Address(), p.req.SendAmount); err != nil {
		return nil, err
	}

	var quoted *big.Int
	received, err := p.measure(ctx, asset, r.address, func() error {
		var err error
		quoted, err = fx.Swap(auth.Detach(ctx), r.address, p.req.SendAsset, p.req.SendAmount, asset, p.req.MinReceive)
		return err
	})
	if err != nil {
		if host.IsFatal(err) {
			return nil, err
		}
		return nil, p.fail(fmt.Errorf("%w: %w", ErrFxSwapFailed, err), nil)
	}
	if quoted == nil || quoted.Cmp(p.req.MinReceive) < 0 {
		return nil, p.fail(ErrSettlementBelowMin, quoted)
	}
	if received.Sign() <= 0 {
		return nil, p.fail(ErrFxSwapFailed, received)
	}
	if received.Cmp(p.req.MinReceive) < 0 {
		return nil, p.fail(ErrSettlementBelowMin, received)
	}

	forwarded, err := p.measure(ctx, asset, vault.Address(), func() error {
		return r.token.Transfer(auth.AsInvoker(ctx, r.address), asset, r.address, vault.Address(), received)
	})
	if err != nil {
		return nil, err
	}
	if forwarded.Sign() <= 0 {
		return nil, p.fail(ErrFxSwapFailed, forwarded)
	}
	return forwarded, nil
}

// measure returns how much holder's balance of asset grew while fn ran.
func (p *payment) measure(ctx context.Context, asset, holder string, fn func() error) (*big.Int, error) {
	before, err := p.router.token.BalanceOf(ctx, asset, holder)
	if err != nil {
		return nil, err
	}
	if err := fn(); err != nil {
		return nil, err
	}
	after, err := p.router.token.BalanceOf(ctx, asset, holder)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Sub(after, before), nil
}

// fail records a PaymentFailed audit event carrying the amount that made
// the payment fail, and returns err.
func (p *payment) fail(err error, settled *big.Int) error {
	p.tx.EmitAudit(contract, "payment_failed", PaymentFailedEvent{
		From:            p.req.From,
		MerchantID:      p.req.MerchantID,
		SendAsset:       p.req.SendAsset,
		SendAmount:      amount.Copy(p.req.SendAmount),
		SettlementAsset: p.merchant.SettlementAsset,
		Settled:         amount.Copy(settled),
		Path:            p.path,
		Reason:          failureReason(err),
	})
	return err
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrMerchantInactive):
		return "merchant_inactive"
	case errors.Is(err, ErrFxRouterMissing):
		return "fx_router_missing"
	case errors.Is(err, ErrSettlementBelowMin):
		return "settlement_below_min"
	case errors.Is(err, ErrFxSwapFailed):
		return "fx_swap_failed"
	case errors.Is(err, ErrReentrancy):
		return "reentrancy"
	case errors.Is(err, ErrRegistryNotSet):
		return "registry_not_set"
	case errors.Is(err, auth.ErrNotAuthorized):
		return "not_authorized"
	case errors.Is(err, registry.ErrMerchantNotFound):
		return "merchant_not_found"
	case host.IsFatal(err):
		return "fatal"
	default:
		return "error"
	}
}
