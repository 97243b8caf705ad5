package router

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/zapspay/settlement/internal/registry"
)

// ErrUnknownReference is returned when a reference resolves to nothing.
var ErrUnknownReference = errors.New("router: unknown reference")

// Token is the asset custody the router moves value through.
type Token interface {
	Transfer(ctx context.Context, asset, from, to string, amt *big.Int) error
	BalanceOf(ctx context.Context, asset, holder string) (*big.Int, error)
}

// Registry answers merchant metadata lookups.
type Registry interface {
	GetMerchant(ctx context.Context, merchantID string) (*registry.Merchant, error)
}

// Vault is a merchant vault the router credits.
type Vault interface {
	Address() string
	Credit(ctx context.Context, merchantID string, amt *big.Int) (*big.Int, error)
}

// FXRouter converts a source asset already in its custody into a destination
// asset paid to recipient. Implementations are not trusted.
type FXRouter interface {
	Address() string
	Swap(ctx context.Context, recipient, src string, srcAmount *big.Int, dst string, minReceive *big.Int) (*big.Int, error)
}

// Directory resolves the references stored in router configuration and
// merchant metadata into callable components.
type Directory interface {
	Registry(ref string) (Registry, error)
	Vault(ref string) (Vault, error)
	FX(ref string) (FXRouter, error)
}

// StaticDirectory is a Directory filled at wiring time.
type StaticDirectory struct {
	mu         sync.RWMutex
	registries map[string]Registry
	vaults     map[string]Vault
	fx         map[string]FXRouter
}

// NewStaticDirectory creates an empty directory.
func NewStaticDirectory() *StaticDirectory {
	return &StaticDirectory{
		registries: make(map[string]Registry),
		vaults:     make(map[string]Vault),
		fx:         make(map[string]FXRouter),
	}
}

// AddRegistry binds ref to a registry.
func (d *StaticDirectory) AddRegistry(ref string, r Registry) *StaticDirectory {
	d.mu.Lock()
	d.registries[ref] = r
	d.mu.Unlock()
	return d
}

// AddVault binds a vault under its own address.
func (d *StaticDirectory) AddVault(v Vault) *StaticDirectory {
	d.mu.Lock()
	d.vaults[v.Address()] = v
	d.mu.Unlock()
	return d
}

// AddFX binds an FX router under its own address.
func (d *StaticDirectory) AddFX(fx FXRouter) *StaticDirectory {
	d.mu.Lock()
	d.fx[fx.Address()] = fx
	d.mu.Unlock()
	return d
}

func (d *StaticDirectory) Registry(ref string) (Registry, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if r, ok := d.registries[ref]; ok {
		return r, nil
	}
	return nil, fmt.Errorf("%w: registry %q", ErrUnknownReference, ref)
}

func (d *StaticDirectory) Vault(ref string) (Vault, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if v, ok := d.vaults[ref]; ok {
		return v, nil
	}
	return nil, fmt.Errorf("%w: vault %q", ErrUnknownReference, ref)
}

func (d *StaticDirectory) FX(ref string) (FXRouter, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if fx, ok := d.fx[ref]; ok {
		return fx, nil
	}
	return nil, fmt.Errorf("%w: fx router %q", ErrUnknownReference, ref)
}

var _ Directory = (*StaticDirectory)(nil)
