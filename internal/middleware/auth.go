package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/HammerMeetNail/friendlane/internal/handlers"
	"github.com/HammerMeetNail/friendlane/internal/logging"
	"github.com/HammerMeetNail/friendlane/internal/models"
	"github.com/HammerMeetNail/friendlane/internal/services"
)

// ProfileEnsurer creates the caller's profile row on first sign-in.
type ProfileEnsurer interface {
	EnsureProfile(ctx context.Context, identity models.Identity, provider string) error
}

type AuthMiddleware struct {
	verifier services.TokenVerifier
	profiles ProfileEnsurer
	provider string
}

func NewAuthMiddleware(verifier services.TokenVerifier, profiles ProfileEnsurer, provider string) *AuthMiddleware {
	return &AuthMiddleware{verifier: verifier, profiles: profiles, provider: provider}
}

// Authenticate resolves the bearer ID token into the request identity.
// Requests without a token pass through anonymously; handlers reject them.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearerToken(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		if m.verifier == nil {
			writeError(w, http.StatusUnauthorized, "Authentication is not configured")
			return
		}

		claims, err := m.verifier.VerifyIDToken(r.Context(), raw)
		if err != nil {
			if !errors.Is(err, services.ErrInvalidToken) {
				logging.Warn("ID token verification failed", map[string]interface{}{"error": err.Error()})
			}
			writeError(w, http.StatusUnauthorized, "Invalid or expired token")
			return
		}

		identity := &models.Identity{ID: claims.Subject, Email: claims.Email}
		if m.profiles != nil {
			if err := m.profiles.EnsureProfile(r.Context(), *identity, m.provider); err != nil {
				logging.Error("Error ensuring profile", map[string]interface{}{
					"error":   err.Error(),
					"user_id": identity.ID,
				})
				writeError(w, http.StatusInternalServerError, "Internal server error")
				return
			}
		}

		next.ServeHTTP(w, r.WithContext(handlers.SetUserInContext(r.Context(), identity)))
	})
}

// RequireAuth rejects anonymous requests before they reach next.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handlers.GetUserFromContext(r.Context()) == nil {
			writeError(w, http.StatusUnauthorized, "Authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// UserKey keys rate limits by authenticated caller.
func UserKey(r *http.Request) string {
	if user := handlers.GetUserFromContext(r.Context()); user != nil {
		return "user:" + user.ID
	}
	return ""
}
