// Package auth decides whether the current call was authorized by a principal.
//
// A principal is an address. Mutating operations take the claimed principal
// and ask an Authorizer to confirm that the ambient call carries a proof for
// it. Proofs travel on the context:
//
//   - WithPrincipal: the API layer verified the caller out of band
//   - WithSignature: an EIP-191 signature re-verified on every check
//   - AsInvoker: a component calling another component under its own address
//
// How proofs are produced is not this package's concern beyond the signature
// helpers and the HTTP middleware.
package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// ErrNotAuthorized is returned when no proof ties the call to the principal.
var ErrNotAuthorized = errors.New("not authorized")

// Authorizer verifies that the call in ctx was authorized by principal.
type Authorizer interface {
	RequireAuth(ctx context.Context, principal string) error
}

type principalKey struct{}
type invokerKey struct{}
type signatureKey struct{}

type signatureProof struct {
	message   string
	signature string

	once      sync.Once
	recovered string
	err       error
}

func (p *signatureProof) signer() (string, error) {
	p.once.Do(func() {
		p.recovered, p.err = RecoverAddress(p.message, p.signature)
	})
	return p.recovered, p.err
}

// WithPrincipal records an externally verified caller.
func WithPrincipal(ctx context.Context, principal string) context.Context {
	return context.WithValue(ctx, principalKey{}, normalize(principal))
}

// AsInvoker records that the next call is made by a component acting under
// its own address. Derive a fresh context per outgoing call.
func AsInvoker(ctx context.Context, principal string) context.Context {
	return context.WithValue(ctx, invokerKey{}, normalize(principal))
}

// WithSignature attaches a signed message. The signer is recovered lazily.
func WithSignature(ctx context.Context, message, signatureHex string) context.Context {
	return context.WithValue(ctx, signatureKey{}, &signatureProof{message: message, signature: signatureHex})
}

// Detach strips every proof from ctx. Used before handing control to an
// untrusted collaborator so it cannot act under the caller's authority.
func Detach(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, principalKey{}, "")
	ctx = context.WithValue(ctx, invokerKey{}, "")
	return context.WithValue(ctx, signatureKey{}, (*signatureProof)(nil))
}

// PrincipalFrom returns the externally verified caller, if any.
func PrincipalFrom(ctx context.Context) string {
	p, _ := ctx.Value(principalKey{}).(string)
	return p
}

func invokerFrom(ctx context.Context) string {
	p, _ := ctx.Value(invokerKey{}).(string)
	return p
}

func signatureFrom(ctx context.Context) *signatureProof {
	p, _ := ctx.Value(signatureKey{}).(*signatureProof)
	return p
}

func normalize(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

func matches(proven, principal string) bool {
	return proven != "" && proven == normalize(principal)
}

// ContextAuthorizer accepts principals proven with WithPrincipal or AsInvoker.
type ContextAuthorizer struct{}

func (ContextAuthorizer) RequireAuth(ctx context.Context, principal string) error {
	if matches(invokerFrom(ctx), principal) || matches(PrincipalFrom(ctx), principal) {
		return nil
	}
	return ErrNotAuthorized
}

// SignatureAuthorizer accepts a principal only when an attached signature
// recovers to it, or when a component invokes under its own address.
type SignatureAuthorizer struct{}

func (SignatureAuthorizer) RequireAuth(ctx context.Context, principal string) error {
	if matches(invokerFrom(ctx), principal) {
		return nil
	}
	proof := signatureFrom(ctx)
	if proof == nil {
		return ErrNotAuthorized
	}
	signer, err := proof.signer()
	if err != nil || !matches(signer, principal) {
		return ErrNotAuthorized
	}
	return nil
}

// AllowAll authorizes everything. Development mode only.
type AllowAll struct{}

func (AllowAll) RequireAuth(context.Context, string) error { return nil }

var (
	_ Authorizer = ContextAuthorizer{}
	_ Authorizer = SignatureAuthorizer{}
	_ Authorizer = AllowAll{}
)
