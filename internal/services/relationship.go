package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/HammerMeetNail/friendlane/internal/logging"
	"github.com/HammerMeetNail/friendlane/internal/metrics"
	"github.com/HammerMeetNail/friendlane/internal/models"
)

var (
	ErrInvalidUserID        = errors.New("invalid user id")
	ErrCannotBefriendSelf   = errors.New("cannot send friend request to yourself")
	ErrRelationshipExists   = errors.New("relationship already exists")
	ErrRelationshipNotFound = errors.New("relationship not found")
	// ErrStaleRelationship means the edge pair no longer satisfies the
	// operation's precondition. Callers should re-read state, not retry blindly.
	ErrStaleRelationship = errors.New("relationship request no longer exists")
	ErrBlockUnsupported  = errors.New("blocking users is not supported")
	// ErrStoreWrite wraps failures of the underlying store. Retrying may help.
	ErrStoreWrite = errors.New("relationship store unavailable")
)

const (
	opSendRequest   = "send_request"
	opAcceptRequest = "accept_request"
	opCancelRequest = "cancel_request"
	opUnfriend      = "unfriend"
	opBlock         = "block"
)

type RelationshipServiceInterface interface {
	SendRequest(ctx context.Context, meID, themID string, opts ...MutationOption) error
	AcceptRequest(ctx context.Context, meID, themID string, opts ...MutationOption) error
	CancelRequest(ctx context.Context, meID, themID string, opts ...MutationOption) error
	Unfriend(ctx context.Context, meID, themID string, opts ...MutationOption) error
	Block(ctx context.Context, meID, themID string, opts ...MutationOption) error
	Apply(ctx context.Context, meID, themID string, action RelationshipAction, opts ...MutationOption) error
	List(ctx context.Context, meID string) ([]models.RelationshipEdge, error)
	Get(ctx context.Context, meID, themID string) (*models.RelationshipEdge, error)
	ExclusionSet(ctx context.Context, meID string) (ExclusionSet, error)
}

// RelationshipNotifier receives post-commit relationship events. Implementations
// must not block; delivery failures never affect the relationship write.
type RelationshipNotifier interface {
	RelationshipRequested(ctx context.Context, fromID, toID string)
	RelationshipAccepted(ctx context.Context, accepterID, initiatorID string)
}

type MutationOption func(*mutationOptions)

type mutationOptions struct {
	afterCommit []func(ctx context.Context) error
}

// WithAfterCommit registers fn to run once the mutation has committed. Its
// error is logged and does not change the operation's result.
func WithAfterCommit(fn func(ctx context.Context) error) MutationOption {
	return func(o *mutationOptions) {
		if fn != nil {
			o.afterCommit = append(o.afterCommit, fn)
		}
	}
}

// RelationshipService keeps the two edges of every friend relationship in
// lockstep. Every pair write goes through writePairedEdges, updatePairedEdges
// or deletePairedEdges, each a single statement.
type RelationshipService struct {
	db       DB
	notifier RelationshipNotifier
	metrics  metrics.Recorder
	logger   *logging.Logger
}

func NewRelationshipService(db DB) *RelationshipService {
	return &RelationshipService{
		db:      db,
		metrics: metrics.Nop{},
		logger:  logging.Default,
	}
}

func (s *RelationshipService) SetNotificationService(notifier RelationshipNotifier) {
	s.notifier = notifier
}

func (s *RelationshipService) SetMetrics(m metrics.Recorder) {
	if m != nil {
		s.metrics = m
	}
}

func (s *RelationshipService) SetLogger(logger *logging.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SendRequest writes a pending edge pair initiated by meID. An existing pair in
// any state is rejected with ErrRelationshipExists and left untouched.
func (s *RelationshipService) SendRequest(ctx context.Context, meID, themID string, opts ...MutationOption) error {
	if err := validatePair(meID, themID); err != nil {
		return s.record(opSendRequest, err)
	}

	if err := writePairedEdges(ctx, s.db, meID, themID, models.RelationshipStatusPending, meID); err != nil {
		return s.record(opSendRequest, err)
	}

	s.runAfterCommit(ctx, opSendRequest, opts)
	if s.notifier != nil {
		s.notifier.RelationshipRequested(ctx, meID, themID)
	}
	return s.record(opSendRequest, nil)
}

// AcceptRequest moves a pending pair to accepted. Only the recipient may
// accept; anything else is reported as ErrStaleRelationship.
func (s *RelationshipService) AcceptRequest(ctx context.Context, meID, themID string, opts ...MutationOption) error {
	if err := validatePair(meID, themID); err != nil {
		return s.record(opAcceptRequest, err)
	}

	var initiator string
	err := RunInTx(ctx, s.db, func(tx Tx) error {
		pair, err := lockEdgePairForUpdate(ctx, tx, meID, themID)
		if err != nil {
			return err
		}
		if !pair.consistent() || pair.mine.Status != models.RelationshipStatusPending || pair.mine.InitiatedBy == meID {
			return ErrStaleRelationship
		}
		initiator = pair.mine.InitiatedBy
		return updatePairedEdges(ctx, tx, meID, themID, models.RelationshipStatusAccepted)
	})
	if err != nil {
		return s.record(opAcceptRequest, err)
	}

	s.runAfterCommit(ctx, opAcceptRequest, opts)
	if s.notifier != nil {
		s.notifier.RelationshipAccepted(ctx, meID, initiator)
	}
	return s.record(opAcceptRequest, nil)
}

// CancelRequest withdraws (sender) or declines (recipient) a pending request.
// A pair that is already gone is treated as cancelled.
func (s *RelationshipService) CancelRequest(ctx context.Context, meID, themID string, opts ...MutationOption) error {
	if err := validatePair(meID, themID); err != nil {
		return s.record(opCancelRequest, err)
	}

	err := RunInTx(ctx, s.db, func(tx Tx) error {
		pair, err := lockEdgePairForUpdate(ctx, tx, meID, themID)
		if err != nil {
			return err
		}
		if pair.empty() {
			return nil
		}
		for _, edge := range []*models.RelationshipEdge{pair.mine, pair.theirs} {
			if edge != nil && edge.Status != models.RelationshipStatusPending {
				return ErrStaleRelationship
			}
		}
		return deletePairedEdges(ctx, tx, meID, themID)
	})
	if err != nil {
		return s.record(opCancelRequest, err)
	}

	s.runAfterCommit(ctx, opCancelRequest, opts)
	return s.record(opCancelRequest, nil)
}

// Unfriend removes the pair whatever its state. Removing a missing pair is not an error.
func (s *RelationshipService) Unfriend(ctx context.Context, meID, themID string, opts ...MutationOption) error {
	if err := validatePair(meID, themID); err != nil {
		return s.record(opUnfriend, err)
	}

	if err := deletePairedEdges(ctx, s.db, meID, themID); err != nil {
		return s.record(opUnfriend, err)
	}

	s.runAfterCommit(ctx, opUnfriend, opts)
	return s.record(opUnfriend, nil)
}

// Block is part of the ledger surface but has no defined effect on an
// existing pair yet, so it never touches the store.
func (s *RelationshipService) Block(ctx context.Context, meID, themID string, opts ...MutationOption) error {
	if err := validatePair(meID, themID); err != nil {
		return s.record(opBlock, err)
	}
	return s.record(opBlock, ErrBlockUnsupported)
}

func (s *RelationshipService) List(ctx context.Context, meID string) ([]models.RelationshipEdge, error) {
	if meID == "" {
		return nil, ErrInvalidUserID
	}

	rows, err := s.db.Query(ctx,
		`SELECT friend_id, status, initiated_by, since
		 FROM user_friends
		 WHERE user_id = $1 AND status IN ('pending', 'accepted')
		 ORDER BY since DESC, friend_id`,
		meID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing relationships: %w", err)
	}
	defer rows.Close()

	edges := []models.RelationshipEdge{}
	for rows.Next() {
		var e models.RelationshipEdge
		if err := rows.Scan(&e.FriendID, &e.Status, &e.InitiatedBy, &e.Since); err != nil {
			return nil, fmt.Errorf("scanning relationship: %w", err)
		}
		edges = append(edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating relationships: %w", err)
	}
	return edges, nil
}

func (s *RelationshipService) Get(ctx context.Context, meID, themID string) (*models.RelationshipEdge, error) {
	if err := validatePair(meID, themID); err != nil {
		return nil, err
	}

	e := &models.RelationshipEdge{}
	err := s.db.QueryRow(ctx,
		`SELECT friend_id, status, initiated_by, since
		 FROM user_friends WHERE user_id = $1 AND friend_id = $2`,
		meID, themID,
	).Scan(&e.FriendID, &e.Status, &e.InitiatedBy, &e.Since)
	if isNoRows(err) {
		return nil, ErrRelationshipNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting relationship: %w", err)
	}
	return e, nil
}

// ExclusionSet returns meID plus every counterpart meID has an edge with.
func (s *RelationshipService) ExclusionSet(ctx context.Context, meID string) (ExclusionSet, error) {
	edges, err := s.List(ctx, meID)
	if err != nil {
		return nil, err
	}
	set := NewExclusionSet(meID)
	for _, e := range edges {
		set.Add(e.FriendID)
	}
	return set, nil
}

func (s *RelationshipService) runAfterCommit(ctx context.Context, op string, opts []MutationOption) {
	var o mutationOptions
	for _, opt := range opts {
		opt(&o)
	}
	for _, fn := range o.afterCommit {
		if err := fn(ctx); err != nil {
			s.logger.Warn("After-commit callback failed", map[string]interface{}{
				"op":    op,
				"error": err.Error(),
			})
		}
	}
}

func (s *RelationshipService) record(op string, err error) error {
	s.metrics.RecordRelationshipOp(op, relationshipOutcome(err))
	return err
}

func relationshipOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrStaleRelationship):
		return "stale"
	case errors.Is(err, ErrRelationshipExists):
		return "exists"
	case errors.Is(err, ErrStoreWrite):
		return "store_error"
	default:
		return "rejected"
	}
}

func validatePair(meID, themID string) error {
	if meID == "" || themID == "" {
		return ErrInvalidUserID
	}
	if meID == themID {
		return ErrCannotBefriendSelf
	}
	return nil
}

// writePairedEdges inserts both edges in one statement, so either both rows
// become visible or neither does.
func writePairedEdges(ctx context.Context, q DBConn, meID, themID string, status models.RelationshipStatus, initiatedBy string) error {
	_, err := q.Exec(ctx,
		`INSERT INTO user_friends (user_id, friend_id, status, initiated_by)
		 VALUES ($1, $2, $3, $4), ($2, $1, $3, $4)`,
		meID, themID, string(status), initiatedBy,
	)
	if err == nil {
		return nil
	}
	switch pgErrorCode(err) {
	case pgUniqueViolation:
		return ErrRelationshipExists
	case pgForeignKeyViolation:
		return ErrProfileNotFound
	}
	return fmt.Errorf("writing paired edges: %w: %w", ErrStoreWrite, err)
}

func updatePairedEdges(ctx context.Context, q DBConn, meID, themID string, status models.RelationshipStatus) error {
	result, err := q.Exec(ctx,
		`UPDATE user_friends SET status = $3
		 WHERE (user_id = $1 AND friend_id = $2) OR (user_id = $2 AND friend_id = $1)`,
		meID, themID, string(status),
	)
	if err != nil {
		return fmt.Errorf("updating paired edges: %w: %w", ErrStoreWrite, err)
	}
	if result.RowsAffected() != 2 {
		return ErrStaleRelationship
	}
	return nil
}

func deletePairedEdges(ctx context.Context, q DBConn, meID, themID string) error {
	_, err := q.Exec(ctx,
		`DELETE FROM user_friends
		 WHERE (user_id = $1 AND friend_id = $2) OR (user_id = $2 AND friend_id = $1)`,
		meID, themID,
	)
	if err != nil {
		return fmt.Errorf("deleting paired edges: %w: %w", ErrStoreWrite, err)
	}
	return nil
}
