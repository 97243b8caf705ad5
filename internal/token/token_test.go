package token

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/zapspay/settlement/internal/amount"
	"github.com/zapspay/settlement/internal/auth"
	"github.com/zapspay/settlement/internal/host"
)

const admin = "0xadmin"

func newTestLedger(t *testing.T) (*Ledger, *host.Recorder) {
	t.Helper()
	rec := host.NewRecorder()
	h := host.New(host.NewMemoryBackend(), host.WithSink(rec))
	l := NewLedger(h, auth.ContextAuthorizer{}, admin)
	if _, err := l.Register(asAdmin(), "USDC", 0); err != nil {
		t.Fatalf("register: %v", err)
	}
	return l, rec
}

func asAdmin() context.Context {
	return auth.WithPrincipal(context.Background(), admin)
}

func as(p string) context.Context {
	return auth.WithPrincipal(context.Background(), p)
}

func mustBalance(t *testing.T, l *Ledger, asset, holder string) int64 {
	t.Helper()
	b, err := l.BalanceOf(context.Background(), asset, holder)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return b.Int64()
}

func TestTransfer_MovesCustody(t *testing.T) {
	l, rec := newTestLedger(t)
	if err := l.Mint(asAdmin(), "USDC", "alice", big.NewInt(500)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	if err := l.Transfer(as("alice"), "USDC", "alice", "bob", big.NewInt(200)); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	if got := mustBalance(t, l, "USDC", "alice"); got != 300 {
		t.Errorf("alice: expected 300, got %d", got)
	}
	if got := mustBalance(t, l, "USDC", "bob"); got != 200 {
		t.Errorf("bob: expected 200, got %d", got)
	}
	if n := len(rec.Named("token/transfer")); n != 1 {
		t.Errorf("expected 1 transfer event, got %d", n)
	}
}

func TestTransfer_RequiresSenderAuth(t *testing.T) {
	l, _ := newTestLedger(t)
	_ = l.Mint(asAdmin(), "USDC", "alice", big.NewInt(500))

	err := l.Transfer(as("mallory"), "USDC", "alice", "mallory", big.NewInt(100))
	if !errors.Is(err, auth.ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
	if got := mustBalance(t, l, "USDC", "alice"); got != 500 {
		t.Errorf("alice balance changed: %d", got)
	}
}

func TestTransfer_InsufficientFunds(t *testing.T) {
	l, _ := newTestLedger(t)
	_ = l.Mint(asAdmin(), "USDC", "alice", big.NewInt(50))

	err := l.Transfer(as("alice"), "USDC", "alice", "bob", big.NewInt(51))
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestTransfer_InvalidAmount(t *testing.T) {
	l, _ := newTestLedger(t)
	for _, amt := range []*big.Int{big.NewInt(0), big.NewInt(-1), nil} {
		if err := l.Transfer(as("alice"), "USDC", "alice", "bob", amt); !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("amount %v: expected ErrInvalidAmount, got %v", amt, err)
		}
	}
}

func TestTransfer_FeeIsBurned(t *testing.T) {
	l, _ := newTestLedger(t)
	if _, err := l.Register(asAdmin(), "FEE", 100); err != nil { // 1%
		t.Fatalf("register: %v", err)
	}
	_ = l.Mint(asAdmin(), "FEE", "alice", big.NewInt(1000))

	if err := l.Transfer(as("alice"), "FEE", "alice", "bob", big.NewInt(1000)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if got := mustBalance(t, l, "FEE", "bob"); got != 990 {
		t.Errorf("bob: expected 990, got %d", got)
	}
	a, err := l.Asset(context.Background(), "FEE")
	if err != nil {
		t.Fatalf("asset: %v", err)
	}
	if a.Supply.Int64() != 990 {
		t.Errorf("expected supply 990 after burn, got %s", a.Supply)
	}
}

func TestRegister_Validation(t *testing.T) {
	l, _ := newTestLedger(t)

	if _, err := l.Register(asAdmin(), "USDC", 0); !errors.Is(err, ErrAssetExists) {
		t.Errorf("expected ErrAssetExists, got %v", err)
	}
	if _, err := l.Register(asAdmin(), "X", MaxFeeBps+1); !errors.Is(err, ErrInvalidFee) {
		t.Errorf("expected ErrInvalidFee, got %v", err)
	}
	if _, err := l.Register(asAdmin(), " ", 0); !errors.Is(err, ErrInvalidAsset) {
		t.Errorf("expected ErrInvalidAsset, got %v", err)
	}
	if _, err := l.Register(as("alice"), "EURC", 0); !errors.Is(err, auth.ErrNotAuthorized) {
		t.Errorf("expected ErrNotAuthorized, got %v", err)
	}
}

func TestUnknownAsset(t *testing.T) {
	l, _ := newTestLedger(t)
	if _, err := l.BalanceOf(context.Background(), "NOPE", "alice"); !errors.Is(err, ErrUnknownAsset) {
		t.Errorf("expected ErrUnknownAsset, got %v", err)
	}
	if err := l.Transfer(as("alice"), "NOPE", "alice", "bob", big.NewInt(1)); !errors.Is(err, ErrUnknownAsset) {
		t.Errorf("expected ErrUnknownAsset, got %v", err)
	}
}

func TestMint_SupplyOverflowIsFatal(t *testing.T) {
	l, _ := newTestLedger(t)
	if err := l.Mint(asAdmin(), "USDC", "alice", amount.MaxI128); err != nil {
		t.Fatalf("mint max: %v", err)
	}

	err := l.Mint(asAdmin(), "USDC", "bob", big.NewInt(1))
	if !host.IsFatal(err) {
		t.Fatalf("expected fatal abort, got %v", err)
	}
	if got := mustBalance(t, l, "USDC", "bob"); got != 0 {
		t.Errorf("bob must hold nothing after abort, got %d", got)
	}
}

func TestMint_RequiresAdmin(t *testing.T) {
	l, _ := newTestLedger(t)
	if err := l.Mint(as("alice"), "USDC", "alice", big.NewInt(1)); !errors.Is(err, auth.ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
}
