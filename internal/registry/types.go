// Package registry owns merchant routing metadata: which asset a merchant
// settles in, which vault holds its balance, whether it accepts payments and
// which FX router converts foreign assets for it.
package registry

import (
	"errors"
	"time"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	ErrMerchantNotFound   = errors.New("registry: merchant not found")
	ErrMerchantExists     = errors.New("registry: merchant already registered")
	ErrAlreadyInitialized = errors.New("registry: already initialized")
	ErrNotInitialized     = errors.New("registry: not initialized")
	ErrInvalidMerchant    = errors.New("registry: merchant id, settlement asset and vault are required")
	ErrNoIdentity         = errors.New("registry: merchant has no identity record")
)

// -----------------------------------------------------------------------------
// Core Types
// -----------------------------------------------------------------------------

// Merchant is the metadata the payment router reads.
type Merchant struct {
	MerchantID      string    `json:"merchantId"`
	Name            string    `json:"name,omitempty"`
	SettlementAsset string    `json:"settlementAsset"`
	Vault           string    `json:"vault"`              // vault reference (its custody address)
	Active          bool      `json:"active"`             // inactive merchants reject payments
	FXRouter        string    `json:"fxRouter,omitempty"` // empty: no FX path
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// HasFXRouter reports whether a foreign-asset path is configured.
func (m *Merchant) HasFXRouter() bool {
	return m.FXRouter != ""
}

// RegisterRequest describes a new merchant.
type RegisterRequest struct {
	MerchantID      string `json:"merchantId" binding:"required"`
	Name            string `json:"name"`
	SettlementAsset string `json:"settlementAsset" binding:"required"`
	Vault           string `json:"vault" binding:"required"`
	FXRouter        string `json:"fxRouter"`
}

// Config is the registry's init-once configuration.
type Config struct {
	Admin string `json:"admin"`
}

// MerchantEvent is emitted on every metadata change.
type MerchantEvent struct {
	MerchantID string `json:"merchantId"`
	Field      string `json:"field,omitempty"`
	Value      any    `json:"value,omitempty"`
}
