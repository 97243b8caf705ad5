// Package vault keeps per-merchant balances. Crediting and debiting are
// separate capabilities held by different principals: only the payment
// router may credit, only the payout principal may debit.
package vault

import (
	"context"
	"errors"
	"log/slog"
	"math/big"

	"github.com/zapspay/settlement/internal/amount"
	"github.com/zapspay/settlement/internal/auth"
	"github.com/zapspay/settlement/internal/host"
	"github.com/zapspay/settlement/internal/metrics"
)

const contract = "vault"

var (
	ErrNegativeAmount         = errors.New("vault: negative amount")
	ErrInsufficientBalance    = errors.New("vault: insufficient balance")
	ErrMerchantNotInitialized = errors.New("vault: merchant not initialized")
	ErrAlreadyInitialized     = errors.New("vault: already initialized")
	ErrNotInitialized         = errors.New("vault: not initialized")
)

// Config holds the principals allowed to administer, credit and debit.
type Config struct {
	Admin         string `json:"admin"`
	PaymentRouter string `json:"paymentRouter"`
	Payout        string `json:"payout"`
}

// BalanceEvent is emitted for every credit and debit.
type BalanceEvent struct {
	MerchantID string   `json:"merchantId"`
	Amount     *big.Int `json:"amount"`
	Balance    *big.Int `json:"balance"`
}

// Vault is one merchant vault instance, addressed by its custody address.
type Vault struct {
	host    *host.Host
	authz   auth.Authorizer
	address string
	logger  *slog.Logger
}

// New creates a vault whose state and token custody live under address.
func New(h *host.Host, authz auth.Authorizer, address string) *Vault {
	return &Vault{host: h, authz: authz, address: address, logger: slog.Default()}
}

// WithLogger sets a structured logger.
func (v *Vault) WithLogger(l *slog.Logger) *Vault {
	v.logger = l
	return v
}

// Address is the vault reference merchants are registered with.
func (v *Vault) Address() string {
	return v.address
}

func (v *Vault) configKey() string {
	return host.Key(contract, v.address, "config")
}

func (v *Vault) merchantKey(id string) string {
	return host.Key(contract, v.address, "merchant", id)
}

// Initialize stores the vault configuration once. The admin must authorize.
func (v *Vault) Initialize(ctx context.Context, admin, paymentRouter, payout string) error {
	return v.host.Invoke(ctx, "vault.initialize", func(ctx context.Context, tx *host.Tx) error {
		exists, err := tx.Has(ctx, v.configKey())
		if err != nil {
			return err
		}
		if exists {
			return ErrAlreadyInitialized
		}
		if err := v.authz.RequireAuth(ctx, admin); err != nil {
			return err
		}
		return tx.Set(v.configKey(), Config{Admin: admin, PaymentRouter: paymentRouter, Payout: payout})
	})
}

// Config returns the current configuration.
func (v *Vault) Config(ctx context.Context) (*Config, error) {
	var cfg *Config
	err := v.host.View(ctx, func(ctx context.Context, tx *host.Tx) error {
		var err error
		cfg, err = v.loadConfig(ctx, tx)
		return err
	})
	return cfg, err
}

func (v *Vault) loadConfig(ctx context.Context, tx *host.Tx) (*Config, error) {
	var cfg Config
	found, err := tx.Get(ctx, v.configKey(), &cfg)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotInitialized
	}
	return &cfg, nil
}

// InitMerchant opens a zero balance for merchantID. Admin only.
func (v *Vault) InitMerchant(ctx context.Context, merchantID string) error {
	return v.host.Invoke(ctx, "vault.init_merchant", func(ctx context.Context, tx *host.Tx) error {
		cfg, err := v.loadConfig(ctx, tx)
		if err != nil {
			return err
		}
		if err := v.authz.RequireAuth(ctx, cfg.Admin); err != nil {
			return err
		}
		exists, err := tx.Has(ctx, v.merchantKey(merchantID))
		if err != nil {
			return err
		}
		if exists {
			return ErrAlreadyInitialized
		}
		tx.Emit(contract, "merchant_initialized", BalanceEvent{MerchantID: merchantID, Amount: amount.Zero(), Balance: amount.Zero()})
		return tx.Set(v.merchantKey(merchantID), amount.Zero())
	})
}

// Credit adds amt to a merchant balance and returns the new balance. Only the
// payment router may credit. Overflow aborts the invocation.
func (v *Vault) Credit(ctx context.Context, merchantID string, amt *big.Int) (*big.Int, error) {
	var balance *big.Int
	err := v.host.Invoke(ctx, "vault.credit", func(ctx context.Context, tx *host.Tx) error {
		cfg, err := v.loadConfig(ctx, tx)
		if err != nil {
			return err
		}
		if err := v.authz.RequireAuth(ctx, cfg.PaymentRouter); err != nil {
			return err
		}
		if amt == nil || amt.Sign() < 0 {
			return ErrNegativeAmount
		}
		current, err := v.loadBalance(ctx, tx, merchantID)
		if err != nil {
			return err
		}

		next, ok := amount.CheckedAdd(current, amt)
		if !ok {
			host.Fatal("vault %s: balance overflow for merchant %s", v.address, merchantID)
		}
		if err := tx.Set(v.merchantKey(merchantID), next); err != nil {
			return err
		}
		tx.Emit(contract, "balance_credited", BalanceEvent{MerchantID: merchantID, Amount: amount.Copy(amt), Balance: next})
		balance = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.VaultOperationsTotal.WithLabelValues("credit").Inc()
	return balance, nil
}

// Debit removes amt from a merchant balance and returns the new balance. Only
// the payout principal may debit.
func (v *Vault) Debit(ctx context.Context, merchantID string, amt *big.Int) (*big.Int, error) {
	var balance *big.Int
	err := v.host.Invoke(ctx, "vault.debit", func(ctx context.Context, tx *host.Tx) error {
		cfg, err := v.loadConfig(ctx, tx)
		if err != nil {
			return err
		}
		if err := v.authz.RequireAuth(ctx, cfg.Payout); err != nil {
			return err
		}
		if amt == nil || amt.Sign() < 0 {
			return ErrNegativeAmount
		}
		current, err := v.loadBalance(ctx, tx, merchantID)
		if err != nil {
			return err
		}
		if amt.Cmp(current) > 0 {
			return ErrInsufficientBalance
		}

		next, _ := amount.CheckedSub(current, amt)
		if err := tx.Set(v.merchantKey(merchantID), next); err != nil {
			return err
		}
		tx.Emit(contract, "balance_debited", BalanceEvent{MerchantID: merchantID, Amount: amount.Copy(amt), Balance: next})
		balance = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.VaultOperationsTotal.WithLabelValues("debit").Inc()
	return balance, nil
}

// BalanceOf returns a merchant balance.
func (v *Vault) BalanceOf(ctx context.Context, merchantID string) (*big.Int, error) {
	var balance *big.Int
	err := v.host.View(ctx, func(ctx context.Context, tx *host.Tx) error {
		var err error
		balance, err = v.loadBalance(ctx, tx, merchantID)
		return err
	})
	return balance, err
}

func (v *Vault) loadBalance(ctx context.Context, tx *host.Tx, merchantID string) (*big.Int, error) {
	bal := new(big.Int)
	found, err := tx.Get(ctx, v.merchantKey(merchantID), bal)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrMerchantNotInitialized
	}
	return bal, nil
}

// UpdatePaymentRouter replaces the principal allowed to credit. Admin only.
func (v *Vault) UpdatePaymentRouter(ctx context.Context, router string) error {
	return v.updateConfig(ctx, "vault.update_payment_router", func(cfg *Config) { cfg.PaymentRouter = router })
}

// UpdatePayoutContract replaces the principal allowed to debit. Admin only.
func (v *Vault) UpdatePayoutContract(ctx context.Context, payout string) error {
	return v.updateConfig(ctx, "vault.update_payout", func(cfg *Config) { cfg.Payout = payout })
}

func (v *Vault) updateConfig(ctx context.Context, op string, apply func(*Config)) error {
	return v.host.Invoke(ctx, op, func(ctx context.Context, tx *host.Tx) error {
		cfg, err := v.loadConfig(ctx, tx)
		if err != nil {
			return err
		}
		if err := v.authz.RequireAuth(ctx, cfg.Admin); err != nil {
			return err
		}
		apply(cfg)
		tx.Emit(contract, "config_updated", *cfg)
		return tx.Set(v.configKey(), cfg)
	})
}
