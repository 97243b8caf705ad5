package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/zapspay/settlement/internal/auth"
	"github.com/zapspay/settlement/internal/registry"
	"github.com/zapspay/settlement/internal/router"
	"github.com/zapspay/settlement/internal/token"
	"github.com/zapspay/settlement/internal/vault"
)

// bootstrap performs the one-time admin setup: asset registration and
// component initialization. It is idempotent across restarts on persistent
// storage.
func (s *Server) bootstrap(ctx context.Context) error {
	admin := auth.AsInvoker(ctx, s.cfg.AdminAddress)

	specs, err := s.cfg.AssetSpecs()
	if err != nil {
		return err
	}
	for _, spec := range specs {
		_, err := s.ledger.Register(admin, spec.Code, spec.FeeBps)
		switch {
		case err == nil:
			s.logger.Info("registered asset", "code", spec.Code, "feeBps", spec.FeeBps)
		case errors.Is(err, token.ErrAssetExists):
		default:
			return fmt.Errorf("register asset %s: %w", spec.Code, err)
		}
	}

	if err := s.merchants.Init(admin, s.cfg.AdminAddress); ignoreInitialized(err, registry.ErrAlreadyInitialized) != nil {
		return fmt.Errorf("init registry: %w", err)
	}
	if err := s.vault.Initialize(admin, s.cfg.AdminAddress, s.cfg.RouterAddress, s.cfg.PayoutAddress); ignoreInitialized(err, vault.ErrAlreadyInitialized) != nil {
		return fmt.Errorf("init vault: %w", err)
	}
	if err := s.payments.Init(admin, s.cfg.AdminAddress, registryRef); ignoreInitialized(err, router.ErrAlreadyInitialized) != nil {
		return fmt.Errorf("init router: %w", err)
	}
	return nil
}

func ignoreInitialized(err, already error) error {
	if errors.Is(err, already) {
		return nil
	}
	return err
}
