// Command devidp is a development OpenID Connect issuer. It publishes
// discovery and signing keys and mints ID tokens for any subject on request,
// so the API can be exercised locally without a hosted identity provider.
package main

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/google/uuid"

	"github.com/HammerMeetNail/friendlane/internal/logging"
)

const (
	defaultIssuer   = "http://localhost:5555"
	defaultClientID = "friendlane-dev"
	defaultAddr     = ":5555"
	tokenTTL        = 10 * time.Minute
)

func main() {
	if err := run(); err != nil {
		logging.Error("devidp error", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
}

func run() error {
	logger := logging.New()

	p, err := newIDP(lookup("OIDC_ISSUER_URL", defaultIssuer), lookup("OIDC_CLIENT_ID", defaultClientID))
	if err != nil {
		return err
	}
	p.logger = logger

	addr := lookup("DEVIDP_ADDR", defaultAddr)
	server := &http.Server{
		Addr:              addr,
		Handler:           p.routes(),
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       30 * time.Second,
	}

	logger.Info("Development identity provider listening", map[string]interface{}{
		"addr":      addr,
		"issuer":    p.issuer,
		"client_id": p.clientID,
	})
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving: %w", err)
	}
	return nil
}

type idp struct {
	issuer   string
	clientID string
	key      *rsa.PrivateKey
	keyID    string
	signer   jose.Signer
	now      func() time.Time
	logger   *logging.Logger
}

func newIDP(issuer, clientID string) (*idp, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("generating signing key: %w", err)
	}
	keyID := uuid.NewString()

	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.RS256, Key: jose.JSONWebKey{Key: key, KeyID: keyID}},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating signer: %w", err)
	}

	return &idp{
		issuer:   strings.TrimRight(issuer, "/"),
		clientID: clientID,
		key:      key,
		keyID:    keyID,
		signer:   signer,
		now:      time.Now,
		logger:   logging.Default,
	}, nil
}

func (p *idp) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /.well-known/openid-configuration", p.handleDiscovery)
	mux.HandleFunc("GET /keys", p.handleKeys)
	mux.HandleFunc("POST /token", p.handleToken)
	return mux
}

func (p *idp) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"issuer":                                p.issuer,
		"authorization_endpoint":                p.issuer + "/authorize",
		"token_endpoint":                        p.issuer + "/token",
		"jwks_uri":                              p.issuer + "/keys",
		"response_types_supported":              []string{"id_token"},
		"subject_types_supported":               []string{"public"},
		"id_token_signing_alg_values_supported": []string{string(jose.RS256)},
	})
}

func (p *idp) handleKeys(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
		Key:       &p.key.PublicKey,
		KeyID:     p.keyID,
		Algorithm: string(jose.RS256),
		Use:       "sig",
	}}})
}

type tokenRequest struct {
	Subject string `json:"sub"`
	Email   string `json:"email"`
}

type tokenResponse struct {
	IDToken   string `json:"id_token"`
	TokenType string `json:"token_type"`
	ExpiresIn int    `json:"expires_in"`
}

func (p *idp) handleToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<12)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	req.Subject = strings.TrimSpace(req.Subject)
	if req.Subject == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "sub required"})
		return
	}

	token, err := p.mint(req.Subject, strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		p.logger.Error("Failed to mint id token", map[string]interface{}{"error": err.Error()})
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to issue token"})
		return
	}
	p.logger.Info("Issued id token", map[string]interface{}{"sub": req.Subject})
	writeJSON(w, http.StatusOK, tokenResponse{
		IDToken:   token,
		TokenType: "Bearer",
		ExpiresIn: int(tokenTTL.Seconds()),
	})
}

type idClaims struct {
	jwt.Claims
	Email         string `json:"email,omitempty"`
	EmailVerified bool   `json:"email_verified"`
}

func (p *idp) mint(subject, email string) (string, error) {
	now := p.now()
	claims := idClaims{
		Claims: jwt.Claims{
			Issuer:   p.issuer,
			Subject:  subject,
			Audience: jwt.Audience{p.clientID},
			IssuedAt: jwt.NewNumericDate(now),
			Expiry:   jwt.NewNumericDate(now.Add(tokenTTL)),
		},
		Email:         email,
		EmailVerified: email != "",
	}
	return jwt.Signed(p.signer).Claims(claims).Serialize()
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func lookup(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}
