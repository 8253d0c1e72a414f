package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/HammerMeetNail/friendlane/internal/logging"
	"github.com/HammerMeetNail/friendlane/internal/models"
	"github.com/HammerMeetNail/friendlane/internal/services"
)

const maxQueryLen = 100

type SearchKeyIssuer interface {
	Key(ctx context.Context, callerID string) (models.SecuredKey, error)
}

type SearchHandler struct {
	search services.DirectorySearchServiceInterface
	keys   SearchKeyIssuer
}

func NewSearchHandler(search services.DirectorySearchServiceInterface, keys SearchKeyIssuer) *SearchHandler {
	return &SearchHandler{search: search, keys: keys}
}

type UserSearchResponse struct {
	Users []PublicProfile `json:"users"`
}

type SearchKeyResponse struct {
	Key        string    `json:"key"`
	ValidUntil time.Time `json:"valid_until"`
}

func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	query := r.URL.Query().Get("q")
	if len(query) > maxQueryLen {
		writeError(w, http.StatusBadRequest, "Query too long")
		return
	}
	if !utf8.ValidString(query) {
		writeError(w, http.StatusBadRequest, "Query must be valid UTF-8")
		return
	}

	profiles, err := h.search.SearchForCaller(r.Context(), user.ID, query)
	if err != nil {
		logging.Error("Error searching users", map[string]interface{}{"error": err.Error()})
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	users := make([]PublicProfile, 0, len(profiles))
	for i := range profiles {
		users = append(users, newPublicProfile(&profiles[i]))
	}
	writeJSON(w, http.StatusOK, UserSearchResponse{Users: users})
}

// SearchKey returns a secured key the client can use to query the hosted
// index directly.
func (h *SearchHandler) SearchKey(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	if h.keys == nil {
		writeError(w, http.StatusServiceUnavailable, "Search is not configured")
		return
	}

	key, err := h.keys.Key(r.Context(), user.ID)
	switch {
	case errors.Is(err, services.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	case errors.Is(err, services.ErrSearchKeyNotConfigured):
		writeError(w, http.StatusServiceUnavailable, "Search is not configured")
		return
	case err != nil:
		logging.Error("Error issuing search key", map[string]interface{}{"error": err.Error()})
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, SearchKeyResponse{Key: key.Key, ValidUntil: key.ValidUntil})
}
