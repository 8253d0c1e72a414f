package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/HammerMeetNail/friendlane/internal/logging"
	"github.com/HammerMeetNail/friendlane/internal/models"
	"github.com/HammerMeetNail/friendlane/internal/services"
)

type RelationshipHandler struct {
	relationships services.RelationshipServiceInterface
}

func NewRelationshipHandler(relationships services.RelationshipServiceInterface) *RelationshipHandler {
	return &RelationshipHandler{relationships: relationships}
}

type SendRequestRequest struct {
	FriendID string `json:"friend_id"`
}

type RelationshipActionRequest struct {
	Action string `json:"action"`
}

type BlockRequest struct {
	UserID string `json:"user_id"`
}

type RelationshipView struct {
	FriendID    string                    `json:"friend_id"`
	Status      models.RelationshipStatus `json:"status"`
	InitiatedBy string                    `json:"initiated_by"`
	Incoming    bool                      `json:"incoming"`
	Since       time.Time                 `json:"since"`
}

type RelationshipListResponse struct {
	Relationships []RelationshipView `json:"relationships"`
}

func (h *RelationshipHandler) List(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	edges, err := h.relationships.List(r.Context(), user.ID)
	if err != nil {
		logging.Error("Error listing relationships", map[string]interface{}{"error": err.Error()})
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	views := make([]RelationshipView, 0, len(edges))
	for _, e := range edges {
		views = append(views, RelationshipView{
			FriendID:    e.FriendID,
			Status:      e.Status,
			InitiatedBy: e.InitiatedBy,
			Incoming:    e.IncomingFor(user.ID),
			Since:       e.Since,
		})
	}
	writeJSON(w, http.StatusOK, RelationshipListResponse{Relationships: views})
}

func (h *RelationshipHandler) SendRequest(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req SendRequestRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	friendID, err := validateUserID(req.FriendID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid friend ID")
		return
	}

	err = h.relationships.SendRequest(r.Context(), user.ID, friendID, auditAfterCommit("send_request", user.ID, friendID))
	if err != nil {
		writeRelationshipError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, MessageResponse{Message: "Friend request sent"})
}

func (h *RelationshipHandler) AcceptRequest(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, "/api/friends/requests", "accept_request", h.relationships.AcceptRequest, "Friend request accepted")
}

func (h *RelationshipHandler) CancelRequest(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, "/api/friends/requests", "cancel_request", h.relationships.CancelRequest, "Friend request cancelled")
}

func (h *RelationshipHandler) Unfriend(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, "/api/friends", "unfriend", h.relationships.Unfriend, "Friend removed")
}

// ApplyAction dispatches a tagged action such as {"action":"accept"}.
func (h *RelationshipHandler) ApplyAction(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	themID, err := parseUserID(r, "/api/friends")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid friend ID")
		return
	}

	var req RelationshipActionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	action, err := services.ParseRelationshipAction(req.Action)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Unknown action")
		return
	}

	if err := h.relationships.Apply(r.Context(), user.ID, themID, action, auditAfterCommit(action.Tag(), user.ID, themID)); err != nil {
		writeRelationshipError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "OK"})
}

func (h *RelationshipHandler) Block(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req BlockRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	userID, err := validateUserID(req.UserID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}

	writeRelationshipError(w, h.relationships.Block(r.Context(), user.ID, userID))
}

type relationshipMutation func(ctx context.Context, meID, themID string, opts ...services.MutationOption) error

func (h *RelationshipHandler) mutate(w http.ResponseWriter, r *http.Request, prefix, op string, fn relationshipMutation, message string) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	themID, err := parseUserID(r, prefix)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid friend ID")
		return
	}

	if err := fn(r.Context(), user.ID, themID, auditAfterCommit(op, user.ID, themID)); err != nil {
		writeRelationshipError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: message})
}

func auditAfterCommit(op, meID, themID string) services.MutationOption {
	return services.WithAfterCommit(func(ctx context.Context) error {
		logging.Info("Relationship changed", map[string]interface{}{
			"op":        op,
			"user_id":   meID,
			"friend_id": themID,
		})
		return nil
	})
}

func writeRelationshipError(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, MessageResponse{Message: "OK"})
	case errors.Is(err, services.ErrStaleRelationship):
		writeError(w, http.StatusConflict, "Request no longer exists")
	case errors.Is(err, services.ErrRelationshipExists):
		writeError(w, http.StatusConflict, "Relationship already exists")
	case errors.Is(err, services.ErrCannotBefriendSelf):
		writeError(w, http.StatusBadRequest, "Cannot send friend request to yourself")
	case errors.Is(err, services.ErrInvalidUserID):
		writeError(w, http.StatusBadRequest, "Invalid friend ID")
	case errors.Is(err, services.ErrProfileNotFound), errors.Is(err, services.ErrRelationshipNotFound):
		writeError(w, http.StatusNotFound, "User not found")
	case errors.Is(err, services.ErrBlockUnsupported):
		writeError(w, http.StatusNotImplemented, "Blocking is not supported yet")
	default:
		logging.Error("Relationship operation failed", map[string]interface{}{"error": err.Error()})
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}
