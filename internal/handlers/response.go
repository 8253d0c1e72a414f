package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/HammerMeetNail/friendlane/internal/logging"
)

const (
	maxRequestBody = 1 << 16
	maxUserIDLen   = 128
)

type ErrorResponse struct {
	Error string `json:"error"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logging.Error("Failed to encode response", map[string]interface{}{"error": err.Error()})
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

var errInvalidUserID = errors.New("invalid user id")

// parseUserID reads the {id} path segment. Handlers invoked without the mux
// fall back to the segment following prefix.
func parseUserID(r *http.Request, prefix string) (string, error) {
	id := r.PathValue("id")
	if id == "" {
		rest := strings.TrimPrefix(r.URL.Path, prefix)
		if rest == r.URL.Path {
			return "", errInvalidUserID
		}
		id, _, _ = strings.Cut(strings.TrimPrefix(rest, "/"), "/")
	}
	return validateUserID(id)
}

func validateUserID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" || len(id) > maxUserIDLen || strings.ContainsAny(id, "/ \t\n") {
		return "", errInvalidUserID
	}
	return id, nil
}
