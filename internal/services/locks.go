package services

import (
	"context"
	"fmt"

	"github.com/HammerMeetNail/friendlane/internal/models"
)

// edgePair holds both halves of a relationship as seen inside a transaction.
// Either side is nil when its row does not exist.
type edgePair struct {
	mine   *models.RelationshipEdge
	theirs *models.RelationshipEdge
}

func (p edgePair) empty() bool {
	return p.mine == nil && p.theirs == nil
}

// consistent reports whether both edges exist and agree on status and initiator.
func (p edgePair) consistent() bool {
	if p.mine == nil || p.theirs == nil {
		return false
	}
	return p.mine.Status == p.theirs.Status && p.mine.InitiatedBy == p.theirs.InitiatedBy
}

// lockEdgePairForUpdate row-locks meID->themID and themID->meID. Locks are taken
// in a stable owner order so concurrent transactions on the same pair cannot deadlock.
func lockEdgePairForUpdate(ctx context.Context, q DBConn, meID, themID string) (edgePair, error) {
	firstOwner, firstFriend := meID, themID
	if themID < meID {
		firstOwner, firstFriend = themID, meID
	}

	first, err := lockEdgeForUpdate(ctx, q, firstOwner, firstFriend)
	if err != nil {
		return edgePair{}, err
	}
	second, err := lockEdgeForUpdate(ctx, q, firstFriend, firstOwner)
	if err != nil {
		return edgePair{}, err
	}

	if firstOwner == meID {
		return edgePair{mine: first, theirs: second}, nil
	}
	return edgePair{mine: second, theirs: first}, nil
}

func lockEdgeForUpdate(ctx context.Context, q DBConn, ownerID, friendID string) (*models.RelationshipEdge, error) {
	edge := &models.RelationshipEdge{}
	err := q.QueryRow(ctx,
		`SELECT friend_id, status, initiated_by, since
		 FROM user_friends WHERE user_id = $1 AND friend_id = $2
		 FOR UPDATE`,
		ownerID, friendID,
	).Scan(&edge.FriendID, &edge.Status, &edge.InitiatedBy, &edge.Since)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lock edge: %w: %w", ErrStoreWrite, err)
	}
	return edge, nil
}
