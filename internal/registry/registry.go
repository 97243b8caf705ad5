package registry

import (
	"context"
	"log/slog"
	"strings"

	"github.com/zapspay/settlement/internal/auth"
	"github.com/zapspay/settlement/internal/host"
)

const contract = "registry"

// IdentityChecker reports whether a principal has an identity record.
type IdentityChecker interface {
	IsRegistered(ctx context.Context, address string) (bool, error)
}

// Service manages merchant metadata on the host.
type Service struct {
	host     *host.Host
	authz    auth.Authorizer
	identity IdentityChecker
	logger   *slog.Logger
}

// NewService creates a registry service.
func NewService(h *host.Host, authz auth.Authorizer) *Service {
	return &Service{host: h, authz: authz, logger: slog.Default()}
}

// WithIdentity requires merchants to hold an identity record before they can
// be registered.
func (s *Service) WithIdentity(ids IdentityChecker) *Service {
	s.identity = ids
	return s
}

// WithLogger sets a structured logger.
func (s *Service) WithLogger(l *slog.Logger) *Service {
	s.logger = l
	return s
}

var (
	configKey = host.Key(contract, "config")
	indexKey  = host.Key(contract, "index")
)

func merchantKey(id string) string {
	return host.Key(contract, "merchant", id)
}

// Init sets the admin principal. It can run once.
func (s *Service) Init(ctx context.Context, admin string) error {
	return s.host.Invoke(ctx, "registry.init", func(ctx context.Context, tx *host.Tx) error {
		exists, err := tx.Has(ctx, configKey)
		if err != nil {
			return err
		}
		if exists {
			return ErrAlreadyInitialized
		}
		if err := s.authz.RequireAuth(ctx, admin); err != nil {
			return err
		}
		return tx.Set(configKey, Config{Admin: admin})
	})
}

// Initialized reports whether Init has run.
func (s *Service) Initialized(ctx context.Context) (bool, error) {
	var ok bool
	err := s.host.View(ctx, func(ctx context.Context, tx *host.Tx) error {
		var err error
		ok, err = tx.Has(ctx, configKey)
		return err
	})
	return ok, err
}

func (s *Service) requireAdmin(ctx context.Context, tx *host.Tx) error {
	var cfg Config
	found, err := tx.Get(ctx, configKey, &cfg)
	if err != nil {
		return err
	}
	if !found {
		return ErrNotInitialized
	}
	return s.authz.RequireAuth(ctx, cfg.Admin)
}

// RegisterMerchant stores metadata for a new, active merchant. Admin only.
func (s *Service) RegisterMerchant(ctx context.Context, req RegisterRequest) (*Merchant, error) {
	req.MerchantID = strings.TrimSpace(req.MerchantID)
	req.SettlementAsset = strings.TrimSpace(req.SettlementAsset)
	req.Vault = strings.TrimSpace(req.Vault)
	if req.MerchantID == "" || req.SettlementAsset == "" || req.Vault == "" {
		return nil, ErrInvalidMerchant
	}

	var m *Merchant
	err := s.host.Invoke(ctx, "registry.register_merchant", func(ctx context.Context, tx *host.Tx) error {
		if err := s.requireAdmin(ctx, tx); err != nil {
			return err
		}
		exists, err := tx.Has(ctx, merchantKey(req.MerchantID))
		if err != nil {
			return err
		}
		if exists {
			return ErrMerchantExists
		}
		if s.identity != nil {
			ok, err := s.identity.IsRegistered(ctx, req.MerchantID)
			if err != nil {
				return err
			}
			if !ok {
				return ErrNoIdentity
			}
		}

		m = &Merchant{
			MerchantID:      req.MerchantID,
			Name:            req.Name,
			SettlementAsset: req.SettlementAsset,
			Vault:           req.Vault,
			FXRouter:        strings.TrimSpace(req.FXRouter),
			Active:          true,
			CreatedAt:       tx.Now(),
			UpdatedAt:       tx.Now(),
		}
		if err := tx.Set(merchantKey(m.MerchantID), m); err != nil {
			return err
		}

		var index []string
		if _, err := tx.Get(ctx, indexKey, &index); err != nil {
			return err
		}
		if err := tx.Set(indexKey, append(index, m.MerchantID)); err != nil {
			return err
		}

		tx.Emit(contract, "merchant_registered", MerchantEvent{MerchantID: m.MerchantID})
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("merchant registered", "merchant", m.MerchantID, "asset", m.SettlementAsset, "vault", m.Vault)
	return m, nil
}

// GetMerchant returns the metadata of a merchant.
func (s *Service) GetMerchant(ctx context.Context, merchantID string) (*Merchant, error) {
	var m *Merchant
	err := s.host.View(ctx, func(ctx context.Context, tx *host.Tx) error {
		var err error
		m, err = loadMerchant(ctx, tx, merchantID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// ListMerchants returns every merchant in registration order.
func (s *Service) ListMerchants(ctx context.Context) ([]*Merchant, error) {
	var out []*Merchant
	err := s.host.View(ctx, func(ctx context.Context, tx *host.Tx) error {
		var index []string
		if _, err := tx.Get(ctx, indexKey, &index); err != nil {
			return err
		}
		out = make([]*Merchant, 0, len(index))
		for _, id := range index {
			m, err := loadMerchant(ctx, tx, id)
			if err != nil {
				return err
			}
			out = append(out, m)
		}
		return nil
	})
	return out, err
}

// SetActive enables or disables payments to a merchant. Admin only.
func (s *Service) SetActive(ctx context.Context, merchantID string, active bool) (*Merchant, error) {
	return s.update(ctx, "registry.set_active", merchantID, "active", active, func(m *Merchant) {
		m.Active = active
	})
}

// SetFXRouter sets (or clears, with "") the merchant's FX router. Admin only.
func (s *Service) SetFXRouter(ctx context.Context, merchantID, fxRouter string) (*Merchant, error) {
	fxRouter = strings.TrimSpace(fxRouter)
	return s.update(ctx, "registry.set_fx_router", merchantID, "fxRouter", fxRouter, func(m *Merchant) {
		m.FXRouter = fxRouter
	})
}

// SetSettlementAsset changes the asset a merchant settles in. Admin only.
func (s *Service) SetSettlementAsset(ctx context.Context, merchantID, asset string) (*Merchant, error) {
	asset = strings.TrimSpace(asset)
	if asset == "" {
		return nil, ErrInvalidMerchant
	}
	return s.update(ctx, "registry.set_settlement_asset", merchantID, "settlementAsset", asset, func(m *Merchant) {
		m.SettlementAsset = asset
	})
}

func (s *Service) update(ctx context.Context, op, merchantID, field string, value any, apply func(*Merchant)) (*Merchant, error) {
	var m *Merchant
	err := s.host.Invoke(ctx, op, func(ctx context.Context, tx *host.Tx) error {
		if err := s.requireAdmin(ctx, tx); err != nil {
			return err
		}
		var err error
		m, err = loadMerchant(ctx, tx, merchantID)
		if err != nil {
			return err
		}
		apply(m)
		m.UpdatedAt = tx.Now()
		if err := tx.Set(merchantKey(merchantID), m); err != nil {
			return err
		}
		tx.Emit(contract, "merchant_updated", MerchantEvent{MerchantID: merchantID, Field: field, Value: value})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func loadMerchant(ctx context.Context, tx *host.Tx, id string) (*Merchant, error) {
	var m Merchant
	found, err := tx.Get(ctx, merchantKey(id), &m)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrMerchantNotFound
	}
	return &m, nil
}
