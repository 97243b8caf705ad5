// Package identity maps principals to roles. Records are created once by
// their own principal and changed only through UpdateRole by that principal.
package identity

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/zapspay/settlement/internal/auth"
	"github.com/zapspay/settlement/internal/host"
)

const contract = "identity"

var (
	ErrAlreadyRegistered = errors.New("user already registered")
	ErrUserNotFound      = errors.New("user not found")
	ErrInvalidRole       = errors.New("role is required")
)

// Known roles. Any non-empty role string is accepted.
const (
	RoleUser     = "user"
	RoleMerchant = "merchant"
	RoleAdmin    = "admin"
)

// User is an identity record.
type User struct {
	Address      string    `json:"address"`
	Role         string    `json:"role"`
	RegisteredAt time.Time `json:"registeredAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// RegisteredEvent is emitted on registration.
type RegisteredEvent struct {
	Address string `json:"address"`
	Role    string `json:"role"`
}

// RoleUpdatedEvent is emitted when a user changes role.
type RoleUpdatedEvent struct {
	Address string `json:"address"`
	OldRole string `json:"oldRole"`
	NewRole string `json:"newRole"`
}

// Service manages identity records on the host.
type Service struct {
	host   *host.Host
	authz  auth.Authorizer
	logger *slog.Logger
}

// NewService creates an identity service.
func NewService(h *host.Host, authz auth.Authorizer) *Service {
	return &Service{host: h, authz: authz, logger: slog.Default()}
}

// WithLogger sets a structured logger.
func (s *Service) WithLogger(l *slog.Logger) *Service {
	s.logger = l
	return s
}

func userKey(addr string) string {
	return host.Key(contract, "user", addr)
}

// Register creates the identity record for address. The address itself must
// authorize.
func (s *Service) Register(ctx context.Context, address, role string) (*User, error) {
	role = strings.TrimSpace(role)
	if role == "" {
		return nil, ErrInvalidRole
	}

	var user *User
	err := s.host.Invoke(ctx, "identity.register", func(ctx context.Context, tx *host.Tx) error {
		if err := s.authz.RequireAuth(ctx, address); err != nil {
			return err
		}
		exists, err := tx.Has(ctx, userKey(address))
		if err != nil {
			return err
		}
		if exists {
			return ErrAlreadyRegistered
		}

		user = &User{Address: address, Role: role, RegisteredAt: tx.Now(), UpdatedAt: tx.Now()}
		if err := tx.Set(userKey(address), user); err != nil {
			return err
		}
		tx.Emit(contract, "registered", RegisteredEvent{Address: address, Role: role})
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("user registered", "address", address, "role", role)
	return user, nil
}

// GetUser returns the record for address.
func (s *Service) GetUser(ctx context.Context, address string) (*User, error) {
	var user User
	err := s.host.View(ctx, func(ctx context.Context, tx *host.Tx) error {
		found, err := tx.Get(ctx, userKey(address), &user)
		if err != nil {
			return err
		}
		if !found {
			return ErrUserNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// IsRegistered reports whether address has a record.
func (s *Service) IsRegistered(ctx context.Context, address string) (bool, error) {
	var ok bool
	err := s.host.View(ctx, func(ctx context.Context, tx *host.Tx) error {
		var err error
		ok, err = tx.Has(ctx, userKey(address))
		return err
	})
	return ok, err
}

// UpdateRole changes the role of an existing user. The address must authorize.
func (s *Service) UpdateRole(ctx context.Context, address, role string) (*User, error) {
	role = strings.TrimSpace(role)
	if role == "" {
		return nil, ErrInvalidRole
	}

	var user User
	err := s.host.Invoke(ctx, "identity.update_role", func(ctx context.Context, tx *host.Tx) error {
		if err := s.authz.RequireAuth(ctx, address); err != nil {
			return err
		}
		found, err := tx.Get(ctx, userKey(address), &user)
		if err != nil {
			return err
		}
		if !found {
			return ErrUserNotFound
		}

		old := user.Role
		user.Role = role
		user.UpdatedAt = tx.Now()
		if err := tx.Set(userKey(address), &user); err != nil {
			return err
		}
		tx.Emit(contract, "role_updated", RoleUpdatedEvent{Address: address, OldRole: old, NewRole: role})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}
