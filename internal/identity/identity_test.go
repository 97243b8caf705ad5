package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/zapspay/settlement/internal/auth"
	"github.com/zapspay/settlement/internal/host"
)

func newTestService() (*Service, *host.Recorder, *host.ManualClock) {
	rec := host.NewRecorder()
	clock := host.NewManualClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	h := host.New(host.NewMemoryBackend(), host.WithSink(rec), host.WithClock(clock))
	return NewService(h, auth.ContextAuthorizer{}), rec, clock
}

func as(p string) context.Context {
	return auth.WithPrincipal(context.Background(), p)
}

func TestRegister(t *testing.T) {
	svc, rec, clock := newTestService()

	user, err := svc.Register(as("0xalice"), "0xalice", RoleMerchant)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if user.Role != RoleMerchant || !user.RegisteredAt.Equal(clock.Now()) {
		t.Errorf("unexpected user %+v", user)
	}

	got, err := svc.GetUser(context.Background(), "0xalice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Address != "0xalice" || got.Role != RoleMerchant {
		t.Errorf("unexpected user %+v", got)
	}

	ok, err := svc.IsRegistered(context.Background(), "0xalice")
	if err != nil || !ok {
		t.Errorf("expected registered, got %v %v", ok, err)
	}
	if len(rec.Named("identity/registered")) != 1 {
		t.Error("expected registered event")
	}
}

func TestRegister_Twice(t *testing.T) {
	svc, _, _ := newTestService()
	_, _ = svc.Register(as("0xalice"), "0xalice", RoleUser)

	_, err := svc.Register(as("0xalice"), "0xalice", RoleAdmin)
	if !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("expected ErrAlreadyRegistered, got %v", err)
	}
	got, _ := svc.GetUser(context.Background(), "0xalice")
	if got.Role != RoleUser {
		t.Errorf("role must be unchanged, got %s", got.Role)
	}
}

func TestRegister_RequiresOwnAuth(t *testing.T) {
	svc, _, _ := newTestService()

	_, err := svc.Register(as("0xmallory"), "0xalice", RoleUser)
	if !errors.Is(err, auth.ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
	if ok, _ := svc.IsRegistered(context.Background(), "0xalice"); ok {
		t.Error("no record should be created")
	}
}

func TestRegister_EmptyRole(t *testing.T) {
	svc, _, _ := newTestService()
	if _, err := svc.Register(as("0xalice"), "0xalice", "  "); !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("expected ErrInvalidRole, got %v", err)
	}
}

func TestGetUser_NotFound(t *testing.T) {
	svc, _, _ := newTestService()
	if _, err := svc.GetUser(context.Background(), "0xnobody"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	if ok, _ := svc.IsRegistered(context.Background(), "0xnobody"); ok {
		t.Error("expected not registered")
	}
}

func TestUpdateRole(t *testing.T) {
	svc, rec, clock := newTestService()
	_, _ = svc.Register(as("0xalice"), "0xalice", RoleUser)
	clock.Advance(time.Hour)

	user, err := svc.UpdateRole(as("0xalice"), "0xalice", RoleMerchant)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if user.Role != RoleMerchant || !user.UpdatedAt.Equal(clock.Now()) {
		t.Errorf("unexpected user %+v", user)
	}
	if user.RegisteredAt.Equal(user.UpdatedAt) {
		t.Error("registration time must not move")
	}
	if len(rec.Named("identity/role_updated")) != 1 {
		t.Error("expected role_updated event")
	}

	if _, err := svc.UpdateRole(as("0xbob"), "0xalice", RoleAdmin); !errors.Is(err, auth.ErrNotAuthorized) {
		t.Errorf("expected ErrNotAuthorized, got %v", err)
	}
	if _, err := svc.UpdateRole(as("0xbob"), "0xbob", RoleAdmin); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("expected ErrUserNotFound, got %v", err)
	}
}
