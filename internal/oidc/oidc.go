// Package oidc provides the token verifiers the document service accepts
// bearer credentials from: a real OIDC provider in production, and a
// signature-free fallback for local runs.
package oidc

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/scrolluniversity/doc-service/pkg/middleware"
)

// Verifier validates ID tokens against a discovered OIDC provider. It
// satisfies the auth middleware's Verifier interface; the *oidc.IDToken it
// returns already implements middleware.Token via its Claims method.
type Verifier struct {
	provider *oidc.Provider
	verifier *oidc.IDTokenVerifier
}

// NewVerifier discovers the provider at issuer and builds a verifier bound
// to clientID. Discovery hits the issuer's well-known endpoint, so this
// needs the identity provider reachable at startup.
func NewVerifier(ctx context.Context, issuer, clientID string) (*Verifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery for %s: %w", issuer, err)
	}
	return &Verifier{
		provider: provider,
		verifier: provider.Verifier(&oidc.Config{ClientID: clientID}),
	}, nil
}

func (v *Verifier) Verify(ctx context.Context, raw string) (middleware.Token, error) {
	return v.verifier.Verify(ctx, raw)
}
