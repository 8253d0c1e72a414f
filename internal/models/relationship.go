package models

import "time"

type RelationshipStatus string

const (
	RelationshipStatusPending  RelationshipStatus = "pending"
	RelationshipStatusAccepted RelationshipStatus = "accepted"
	// RelationshipStatusBlocked is reserved. No code path writes it yet.
	RelationshipStatusBlocked RelationshipStatus = "blocked"
)

func (s RelationshipStatus) Valid() bool {
	switch s {
	case RelationshipStatusPending, RelationshipStatusAccepted, RelationshipStatusBlocked:
		return true
	}
	return false
}

// RelationshipEdge is one participant's half of a friend relationship,
// keyed by (owner, FriendID). Its mirror lives under FriendID.
type RelationshipEdge struct {
	FriendID    string             `json:"friendId"`
	Status      RelationshipStatus `json:"status"`
	InitiatedBy string             `json:"initiatedBy"`
	Since       time.Time          `json:"since"`
}

// IncomingFor reports whether the edge is a pending request the owner can accept.
func (e RelationshipEdge) IncomingFor(ownerID string) bool {
	return e.Status == RelationshipStatusPending && e.InitiatedBy != ownerID
}
