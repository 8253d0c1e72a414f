package handlers

import (
	"errors"
	"net/http"

	"github.com/HammerMeetNail/friendlane/internal/logging"
	"github.com/HammerMeetNail/friendlane/internal/models"
	"github.com/HammerMeetNail/friendlane/internal/services"
)

type ProfileHandler struct {
	profiles services.ProfileServiceInterface
}

func NewProfileHandler(profiles services.ProfileServiceInterface) *ProfileHandler {
	return &ProfileHandler{profiles: profiles}
}

// PublicProfile is a profile as other users see it.
type PublicProfile struct {
	ID          string              `json:"id"`
	DisplayName *models.DisplayName `json:"displayName,omitempty"`
	Username    string              `json:"username,omitempty"`
	PhotoURL    string              `json:"photoURL,omitempty"`
	Bio         string              `json:"bio,omitempty"`
	Location    string              `json:"location,omitempty"`
	Link        string              `json:"link,omitempty"`
	Work        string              `json:"work,omitempty"`
	Education   string              `json:"education,omitempty"`
}

func newPublicProfile(p *models.UserProfile) PublicProfile {
	return PublicProfile{
		ID:          p.ID,
		DisplayName: p.DisplayName,
		Username:    p.Username,
		PhotoURL:    p.PhotoURL,
		Bio:         p.Bio,
		Location:    p.Location,
		Link:        p.Link,
		Work:        p.Work,
		Education:   p.Education,
	}
}

type ProfileResponse struct {
	Profile *models.UserProfile `json:"profile"`
}

type PublicProfileResponse struct {
	Profile PublicProfile `json:"profile"`
}

type UpdateProfileRequest struct {
	DisplayName *models.DisplayNameUpdate `json:"displayName,omitempty"`
	Username    *string                   `json:"username,omitempty"`
	PhotoURL    *string                   `json:"photoURL,omitempty"`
	Bio         *string                   `json:"bio,omitempty"`
	Location    *string                   `json:"location,omitempty"`
	Link        *string                   `json:"link,omitempty"`
	Work        *string                   `json:"work,omitempty"`
	Education   *string                   `json:"education,omitempty"`
}

type UpdateSearchableRequest struct {
	Searchable *bool `json:"searchable"`
}

func (h *ProfileHandler) Me(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	profile, err := h.profiles.GetByID(r.Context(), user.ID)
	if errors.Is(err, services.ErrProfileNotFound) {
		writeError(w, http.StatusNotFound, "Profile not found")
		return
	}
	if err != nil {
		logging.Error("Error loading profile", map[string]interface{}{"error": err.Error()})
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, ProfileResponse{Profile: profile})
}

func (h *ProfileHandler) Update(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req UpdateProfileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	profile, err := h.profiles.Update(r.Context(), user.ID, models.UpdateProfileParams{
		DisplayName: req.DisplayName,
		Username:    req.Username,
		PhotoURL:    req.PhotoURL,
		Bio:         req.Bio,
		Location:    req.Location,
		Link:        req.Link,
		Work:        req.Work,
		Education:   req.Education,
	})
	switch {
	case errors.Is(err, services.ErrEmptyProfileUpdate):
		writeError(w, http.StatusBadRequest, "No fields to update")
		return
	case errors.Is(err, services.ErrInvalidUsername):
		writeError(w, http.StatusBadRequest, services.ErrInvalidUsername.Error())
		return
	case errors.Is(err, services.ErrUsernameAlreadyExists):
		writeError(w, http.StatusConflict, "Username already taken")
		return
	case errors.Is(err, services.ErrProfileNotFound):
		writeError(w, http.StatusNotFound, "Profile not found")
		return
	case err != nil:
		logging.Error("Error updating profile", map[string]interface{}{"error": err.Error()})
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, ProfileResponse{Profile: profile})
}

func (h *ProfileHandler) UpdateSearchable(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req UpdateSearchableRequest
	if err := decodeJSON(w, r, &req); err != nil || req.Searchable == nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	err := h.profiles.UpdateSearchable(r.Context(), user.ID, *req.Searchable)
	if errors.Is(err, services.ErrProfileNotFound) {
		writeError(w, http.StatusNotFound, "Profile not found")
		return
	}
	if err != nil {
		logging.Error("Error updating searchable flag", map[string]interface{}{"error": err.Error()})
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Search visibility updated"})
}

// Get returns another user's public profile.
func (h *ProfileHandler) Get(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	id, err := parseUserID(r, "/api/users")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}

	profile, err := h.profiles.GetByID(r.Context(), id)
	if errors.Is(err, services.ErrProfileNotFound) {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}
	if err != nil {
		logging.Error("Error loading user", map[string]interface{}{"error": err.Error()})
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, PublicProfileResponse{Profile: newPublicProfile(profile)})
}
