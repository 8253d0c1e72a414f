package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
)

var ErrInvalidToken = errors.New("invalid id token")

type IdentityClaims struct {
	Subject       string
	Email         string
	EmailVerified bool
	Issuer        string
}

// TokenVerifier turns a bearer ID token into verified identity claims.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, rawIDToken string) (IdentityClaims, error)
}

type OIDCVerifierConfig struct {
	IssuerURL string
	ClientID  string
}

// OIDCVerifier checks ID tokens against the issuer's published keys and the
// configured client id.
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
}

func NewOIDCVerifier(ctx context.Context, cfg OIDCVerifierConfig) (*OIDCVerifier, error) {
	if strings.TrimSpace(cfg.IssuerURL) == "" || strings.TrimSpace(cfg.ClientID) == "" {
		return nil, errors.New("issuer url and client id are required")
	}

	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("discovering oidc provider: %w", err)
	}

	return &OIDCVerifier{
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
	}, nil
}

func (v *OIDCVerifier) VerifyIDToken(ctx context.Context, rawIDToken string) (IdentityClaims, error) {
	if strings.TrimSpace(rawIDToken) == "" {
		return IdentityClaims{}, ErrInvalidToken
	}

	idToken, err := v.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return IdentityClaims{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	var claims struct {
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return IdentityClaims{}, fmt.Errorf("parsing id token claims: %w", err)
	}

	return IdentityClaims{
		Subject:       idToken.Subject,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
		Issuer:        idToken.Issuer,
	}, nil
}
