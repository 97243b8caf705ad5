// Package fx is a rate-table swap venue. It quotes a fixed rational rate per
// asset pair and pays the destination asset out of its own custody.
//
// Input is taken the way constant-product pools take it: the caller first
// transfers the source asset to the venue's address, then calls Swap. The
// venue only honours input it can see as excess over its recorded reserve,
// so a Swap without a preceding transfer fails.
package fx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/zapspay/settlement/internal/amount"
	"github.com/zapspay/settlement/internal/auth"
	"github.com/zapspay/settlement/internal/host"
)

const contract = "fx"

var (
	ErrNoRate                = errors.New("fx: no rate for pair")
	ErrInvalidRate           = errors.New("fx: rate numerator and denominator must be positive")
	ErrInvalidAmount         = errors.New("fx: amount must be positive")
	ErrBelowMinimum          = errors.New("fx: output below minimum")
	ErrInsufficientLiquidity = errors.New("fx: insufficient liquidity")
	ErrInsufficientInput     = errors.New("fx: source amount not received")
)

// Rate converts src units to dst units as amount*Num/Den, rounded down.
type Rate struct {
	Src string   `json:"src"`
	Dst string   `json:"dst"`
	Num *big.Int `json:"num"`
	Den *big.Int `json:"den"`
}

// Apply converts amt at this rate.
func (r *Rate) Apply(amt *big.Int) *big.Int {
	out := new(big.Int).Mul(amt, r.Num)
	return out.Quo(out, r.Den)
}

// SwapEvent is emitted for every executed swap.
type SwapEvent struct {
	Recipient string   `json:"recipient"`
	Src       string   `json:"src"`
	SrcAmount *big.Int `json:"srcAmount"`
	Dst       string   `json:"dst"`
	DstAmount *big.Int `json:"dstAmount"`
}

// Ledger is the asset custody the venue trades through.
type Ledger interface {
	Transfer(ctx context.Context, asset, from, to string, amt *big.Int) error
	BalanceOf(ctx context.Context, asset, holder string) (*big.Int, error)
}

// Router is one swap venue living at address.
type Router struct {
	host    *host.Host
	authz   auth.Authorizer
	ledger  Ledger
	address string
	admin   string
	logger  *slog.Logger
}

// NewRouter creates a venue whose rates are managed by admin.
func NewRouter(h *host.Host, authz auth.Authorizer, ledger Ledger, address, admin string) *Router {
	return &Router{
		host:    h,
		authz:   authz,
		ledger:  ledger,
		address: address,
		admin:   admin,
		logger:  slog.Default(),
	}
}

// WithLogger sets a structured logger.
func (r *Router) WithLogger(l *slog.Logger) *Router {
	r.logger = l
	return r
}

// Address is the venue's custody principal.
func (r *Router) Address() string {
	return r.address
}

func (r *Router) rateKey(src, dst string) string {
	return host.Key(contract, r.address, "rate", src, dst)
}

func (r *Router) reserveKey(asset string) string {
	return host.Key(contract, r.address, "reserve", asset)
}

// SetRate sets the conversion rate for src→dst. Admin only.
func (r *Router) SetRate(ctx context.Context, src, dst string, num, den *big.Int) error {
	if !amount.IsPositive(num) || !amount.IsPositive(den) {
		return ErrInvalidRate
	}
	return r.host.Invoke(ctx, "fx.set_rate", func(ctx context.Context, tx *host.Tx) error {
		if err := r.authz.RequireAuth(ctx, r.admin); err != nil {
			return err
		}
		rate := &Rate{Src: src, Dst: dst, Num: amount.Copy(num), Den: amount.Copy(den)}
		if err := tx.Set(r.rateKey(src, dst), rate); err != nil {
			return err
		}
		tx.Emit(contract, "rate_set", rate)
		return nil
	})
}

// Rate returns the configured rate for src→dst.
func (r *Router) Rate(ctx context.Context, src, dst string) (*Rate, error) {
	var rate *Rate
	err := r.host.View(ctx, func(ctx context.Context, tx *host.Tx) error {
		var err error
		rate, err = r.loadRate(ctx, tx, src, dst)
		return err
	})
	return rate, err
}

// Quote returns what Swap would pay for srcAmount, ignoring liquidity.
func (r *Router) Quote(ctx context.Context, src string, srcAmount *big.Int, dst string) (*big.Int, error) {
	if !amount.IsPositive(srcAmount) {
		return nil, ErrInvalidAmount
	}
	rate, err := r.Rate(ctx, src, dst)
	if err != nil {
		return nil, err
	}
	return rate.Apply(srcAmount), nil
}

// AddLiquidity moves amt of asset from provider into venue custody.
func (r *Router) AddLiquidity(ctx context.Context, provider, asset string, amt *big.Int) error {
	return r.host.Invoke(ctx, "fx.add_liquidity", func(ctx context.Context, tx *host.Tx) error {
		if err := r.ledger.Transfer(ctx, asset, provider, r.address, amt); err != nil {
			return err
		}
		if err := r.sync(ctx, tx, asset); err != nil {
			return err
		}
		tx.Emit(contract, "liquidity_added", map[string]any{
			"provider": provider,
			"asset":    asset,
			"amount":   amount.Copy(amt),
		})
		return nil
	})
}

// Swap converts srcAmount of src, previously transferred to the venue, into
// dst paid to recipient. It fails when the output is below minReceive or the
// venue holds too little dst.
func (r *Router) Swap(ctx context.Context, recipient, src string, srcAmount *big.Int, dst string, minReceive *big.Int) (*big.Int, error) {
	if !amount.IsPositive(srcAmount) {
		return nil, ErrInvalidAmount
	}
	var out *big.Int
	err := r.host.Invoke(ctx, "fx.swap", func(ctx context.Context, tx *host.Tx) error {
		rate, err := r.loadRate(ctx, tx, src, dst)
		if err != nil {
			return err
		}

		excess, err := r.excess(ctx, tx, src)
		if err != nil {
			return err
		}
		if excess.Cmp(srcAmount) < 0 {
			return fmt.Errorf("%w: have %s, need %s", ErrInsufficientInput, excess, srcAmount)
		}

		out = rate.Apply(srcAmount)
		if minReceive != nil && out.Cmp(minReceive) < 0 {
			return fmt.Errorf("%w: %s < %s", ErrBelowMinimum, out, minReceive)
		}
		if out.Sign() <= 0 {
			return ErrBelowMinimum
		}
		held, err := r.ledger.BalanceOf(ctx, dst, r.address)
		if err != nil {
			return err
		}
		if held.Cmp(out) < 0 {
			return ErrInsufficientLiquidity
		}

		if err := r.ledger.Transfer(auth.AsInvoker(ctx, r.address), dst, r.address, recipient, out); err != nil {
			return err
		}
		if err := r.sync(ctx, tx, src); err != nil {
			return err
		}
		if err := r.sync(ctx, tx, dst); err != nil {
			return err
		}
		tx.Emit(contract, "swap", SwapEvent{
			Recipient: recipient,
			Src:       src,
			SrcAmount: amount.Copy(srcAmount),
			Dst:       dst,
			DstAmount: amount.Copy(out),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.logger.Info("fx swap", "src", src, "dst", dst, "in", srcAmount.String(), "out", out.String())
	return out, nil
}

// Reserve returns the recorded reserve of asset.
func (r *Router) Reserve(ctx context.Context, asset string) (*big.Int, error) {
	res := amount.Zero()
	err := r.host.View(ctx, func(ctx context.Context, tx *host.Tx) error {
		_, err := tx.Get(ctx, r.reserveKey(asset), &res)
		return err
	})
	return res, err
}

func (r *Router) loadRate(ctx context.Context, tx *host.Tx, src, dst string) (*Rate, error) {
	var rate Rate
	found, err := tx.Get(ctx, r.rateKey(src, dst), &rate)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s/%s", ErrNoRate, src, dst)
	}
	return &rate, nil
}

// excess is custody not yet accounted for in the reserve: unswapped input.
func (r *Router) excess(ctx context.Context, tx *host.Tx, asset string) (*big.Int, error) {
	held, err := r.ledger.BalanceOf(ctx, asset, r.address)
	if err != nil {
		return nil, err
	}
	reserve := amount.Zero()
	if _, err := tx.Get(ctx, r.reserveKey(asset), &reserve); err != nil {
		return nil, err
	}
	return new(big.Int).Sub(held, reserve), nil
}

func (r *Router) sync(ctx context.Context, tx *host.Tx, asset string) error {
	held, err := r.ledger.BalanceOf(ctx, asset, r.address)
	if err != nil {
		return err
	}
	return tx.Set(r.reserveKey(asset), held)
}
