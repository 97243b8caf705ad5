// Package token is the multi-asset custody ledger the settlement components
// move value through. Every holder (payers, merchants' vaults, the escrow and
// FX principals) is an address; balances live in host state.
package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/zapspay/settlement/internal/amount"
	"github.com/zapspay/settlement/internal/auth"
	"github.com/zapspay/settlement/internal/host"
)

const contract = "token"

// MaxFeeBps is 100%.
const MaxFeeBps = 10_000

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrUnknownAsset      = errors.New("unknown asset")
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrAssetExists       = errors.New("asset already registered")
	ErrInvalidFee        = errors.New("fee must be between 0 and 10000 basis points")
	ErrInvalidAsset      = errors.New("asset code is required")
)

// Asset describes a registered asset.
type Asset struct {
	Code   string   `json:"code"`
	FeeBps int64    `json:"feeBps"`
	Supply *big.Int `json:"supply"`
}

// TransferEvent is emitted on every transfer and mint.
type TransferEvent struct {
	Asset  string   `json:"asset"`
	From   string   `json:"from,omitempty"`
	To     string   `json:"to"`
	Amount *big.Int `json:"amount"`
	Fee    *big.Int `json:"fee"`
}

// Ledger implements asset custody on the host.
type Ledger struct {
	host   *host.Host
	authz  auth.Authorizer
	admin  string
	logger *slog.Logger
}

// NewLedger creates a ledger whose issuance is controlled by admin.
func NewLedger(h *host.Host, authz auth.Authorizer, admin string) *Ledger {
	return &Ledger{
		host:   h,
		authz:  authz,
		admin:  admin,
		logger: slog.Default(),
	}
}

// WithLogger sets a structured logger.
func (l *Ledger) WithLogger(logger *slog.Logger) *Ledger {
	l.logger = logger
	return l
}

func assetKey(code string) string {
	return host.Key(contract, code, "meta")
}

func balanceKey(code, holder string) string {
	return host.Key(contract, code, "balance", holder)
}

// Register adds a new asset. feeBps is burned on every transfer.
func (l *Ledger) Register(ctx context.Context, code string, feeBps int64) (*Asset, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, ErrInvalidAsset
	}
	if feeBps < 0 || feeBps > MaxFeeBps {
		return nil, ErrInvalidFee
	}

	a := &Asset{Code: code, FeeBps: feeBps, Supply: amount.Zero()}
	err := l.host.Invoke(ctx, "token.register", func(ctx context.Context, tx *host.Tx) error {
		if err := l.authz.RequireAuth(ctx, l.admin); err != nil {
			return err
		}
		exists, err := tx.Has(ctx, assetKey(code))
		if err != nil {
			return err
		}
		if exists {
			return ErrAssetExists
		}
		tx.Emit(contract, "registered", a)
		return tx.Set(assetKey(code), a)
	})
	if err != nil {
		return nil, err
	}
	l.logger.Info("asset registered", "asset", code, "feeBps", feeBps)
	return a, nil
}

// Asset returns the asset definition.
func (l *Ledger) Asset(ctx context.Context, code string) (*Asset, error) {
	var a Asset
	err := l.host.View(ctx, func(ctx context.Context, tx *host.Tx) error {
		found, err := tx.Get(ctx, assetKey(code), &a)
		if err != nil {
			return err
		}
		if !found {
			return ErrUnknownAsset
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// Mint issues new units of an asset to a holder. Admin only.
func (l *Ledger) Mint(ctx context.Context, code, to string, amt *big.Int) error {
	if !amount.IsPositive(amt) {
		return ErrInvalidAmount
	}
	return l.host.Invoke(ctx, "token.mint", func(ctx context.Context, tx *host.Tx) error {
		if err := l.authz.RequireAuth(ctx, l.admin); err != nil {
			return err
		}
		a, err := loadAsset(ctx, tx, code)
		if err != nil {
			return err
		}
		supply, ok := amount.CheckedAdd(a.Supply, amt)
		if !ok {
			host.Fatal("token %s: supply overflow", code)
		}
		a.Supply = supply
		if err := tx.Set(assetKey(code), a); err != nil {
			return err
		}
		if err := credit(ctx, tx, code, to, amt); err != nil {
			return err
		}
		tx.Emit(contract, "mint", TransferEvent{Asset: code, To: to, Amount: amount.Copy(amt), Fee: amount.Zero()})
		return nil
	})
}

// Transfer moves amt of an asset from one holder to another. The sender must
// authorize. When the asset carries a fee, the recipient receives less than
// amt and the difference is burned.
func (l *Ledger) Transfer(ctx context.Context, code, from, to string, amt *big.Int) error {
	if !amount.IsPositive(amt) {
		return ErrInvalidAmount
	}
	return l.host.Invoke(ctx, "token.transfer", func(ctx context.Context, tx *host.Tx) error {
		if err := l.authz.RequireAuth(ctx, from); err != nil {
			return err
		}
		a, err := loadAsset(ctx, tx, code)
		if err != nil {
			return err
		}

		bal, err := balance(ctx, tx, code, from)
		if err != nil {
			return err
		}
		if bal.Cmp(amt) < 0 {
			return ErrInsufficientFunds
		}
		remaining, _ := amount.CheckedSub(bal, amt)
		if err := tx.Set(balanceKey(code, from), remaining); err != nil {
			return err
		}

		fee := new(big.Int).Mul(amt, big.NewInt(a.FeeBps))
		fee.Quo(fee, big.NewInt(MaxFeeBps))
		received := new(big.Int).Sub(amt, fee)
		if fee.Sign() > 0 {
			a.Supply = new(big.Int).Sub(a.Supply, fee)
			if err := tx.Set(assetKey(code), a); err != nil {
				return err
			}
		}
		if received.Sign() > 0 {
			if err := credit(ctx, tx, code, to, received); err != nil {
				return err
			}
		}

		tx.Emit(contract, "transfer", TransferEvent{
			Asset:  code,
			From:   from,
			To:     to,
			Amount: amount.Copy(amt),
			Fee:    fee,
		})
		return nil
	})
}

// BalanceOf returns the custody amount of holder. Unknown holders hold zero.
func (l *Ledger) BalanceOf(ctx context.Context, code, holder string) (*big.Int, error) {
	var out *big.Int
	err := l.host.View(ctx, func(ctx context.Context, tx *host.Tx) error {
		if _, err := loadAsset(ctx, tx, code); err != nil {
			return err
		}
		var err error
		out, err = balance(ctx, tx, code, holder)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func loadAsset(ctx context.Context, tx *host.Tx, code string) (*Asset, error) {
	var a Asset
	found, err := tx.Get(ctx, assetKey(code), &a)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, code)
	}
	return &a, nil
}

func balance(ctx context.Context, tx *host.Tx, code, holder string) (*big.Int, error) {
	bal := new(big.Int)
	found, err := tx.Get(ctx, balanceKey(code, holder), bal)
	if err != nil {
		return nil, err
	}
	if !found {
		return amount.Zero(), nil
	}
	return bal, nil
}

func credit(ctx context.Context, tx *host.Tx, code, holder string, amt *big.Int) error {
	bal, err := balance(ctx, tx, code, holder)
	if err != nil {
		return err
	}
	next, ok := amount.CheckedAdd(bal, amt)
	if !ok {
		host.Fatal("token %s: balance overflow for %s", code, holder)
	}
	return tx.Set(balanceKey(code, holder), next)
}
