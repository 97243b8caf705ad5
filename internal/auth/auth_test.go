package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
)

func TestContextAuthorizer(t *testing.T) {
	a := ContextAuthorizer{}
	base := context.Background()

	if err := a.RequireAuth(base, "0xabc"); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized without proof, got %v", err)
	}

	ctx := WithPrincipal(base, "0xABC")
	if err := a.RequireAuth(ctx, "0xabc"); err != nil {
		t.Fatalf("principal should be authorized case-insensitively: %v", err)
	}
	if err := a.RequireAuth(ctx, "0xdef"); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("other principal must not be authorized, got %v", err)
	}

	inv := AsInvoker(ctx, "0xrouter")
	if err := a.RequireAuth(inv, "0xrouter"); err != nil {
		t.Fatalf("invoker should be authorized: %v", err)
	}
	if err := a.RequireAuth(inv, "0xabc"); err != nil {
		t.Fatalf("principal should remain authorized under an invoker: %v", err)
	}
}

func TestDetach_StripsProofs(t *testing.T) {
	ctx := AsInvoker(WithPrincipal(context.Background(), "0xabc"), "0xrouter")
	ctx = Detach(ctx)

	for _, p := range []string{"0xabc", "0xrouter"} {
		if err := (ContextAuthorizer{}).RequireAuth(ctx, p); !errors.Is(err, ErrNotAuthorized) {
			t.Errorf("%s: expected ErrNotAuthorized after Detach, got %v", p, err)
		}
	}
	if PrincipalFrom(ctx) != "" {
		t.Error("expected no principal after Detach")
	}
}

func TestEmptyPrincipalNeverMatches(t *testing.T) {
	if err := (ContextAuthorizer{}).RequireAuth(context.Background(), ""); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
}

func TestSignatureAuthorizer(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	addr := AddressOf(key)
	msg := "POST|/v1/payments|1700000000|abc"
	sig, err := SignMessage(key, msg)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	a := SignatureAuthorizer{}
	ctx := WithSignature(context.Background(), msg, sig)
	if err := a.RequireAuth(ctx, addr); err != nil {
		t.Fatalf("signer should be authorized: %v", err)
	}
	if err := a.RequireAuth(ctx, "0x0000000000000000000000000000000000000001"); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("non-signer must not be authorized, got %v", err)
	}

	// A bare principal claim is not a cryptographic proof.
	if err := a.RequireAuth(WithPrincipal(context.Background(), addr), addr); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized for unsigned principal, got %v", err)
	}

	// Components still act under their own address.
	if err := a.RequireAuth(AsInvoker(context.Background(), "0xvault"), "0xvault"); err != nil {
		t.Fatalf("invoker should be authorized: %v", err)
	}

	bad := WithSignature(context.Background(), msg, "0xdeadbeef")
	if err := a.RequireAuth(bad, addr); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("malformed signature must fail, got %v", err)
	}
}

func TestAllowAll(t *testing.T) {
	if err := (AllowAll{}).RequireAuth(context.Background(), "anyone"); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}
