package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownAction = errors.New("unknown relationship action")

// RelationshipAction is a closed set of ledger operations a client can request
// by tag. Only types in this file implement it.
type RelationshipAction interface {
	Tag() string
	relationshipAction()
}

type (
	SendRequestAction   struct{}
	AcceptRequestAction struct{}
	CancelRequestAction struct{}
	UnfriendAction      struct{}
	BlockAction         struct{}
)

func (SendRequestAction) Tag() string   { return "send" }
func (AcceptRequestAction) Tag() string { return "accept" }
func (CancelRequestAction) Tag() string { return "cancel" }
func (UnfriendAction) Tag() string      { return "unfriend" }
func (BlockAction) Tag() string         { return "block" }

func (SendRequestAction) relationshipAction()   {}
func (AcceptRequestAction) relationshipAction() {}
func (CancelRequestAction) relationshipAction() {}
func (UnfriendAction) relationshipAction()      {}
func (BlockAction) relationshipAction()         {}

func ParseRelationshipAction(tag string) (RelationshipAction, error) {
	switch strings.ToLower(strings.TrimSpace(tag)) {
	case "send":
		return SendRequestAction{}, nil
	case "accept":
		return AcceptRequestAction{}, nil
	case "cancel":
		return CancelRequestAction{}, nil
	case "unfriend":
		return UnfriendAction{}, nil
	case "block":
		return BlockAction{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownAction, tag)
}

func (s *RelationshipService) Apply(ctx context.Context, meID, themID string, action RelationshipAction, opts ...MutationOption) error {
	switch action.(type) {
	case SendRequestAction:
		return s.SendRequest(ctx, meID, themID, opts...)
	case AcceptRequestAction:
		return s.AcceptRequest(ctx, meID, themID, opts...)
	case CancelRequestAction:
		return s.CancelRequest(ctx, meID, themID, opts...)
	case UnfriendAction:
		return s.Unfriend(ctx, meID, themID, opts...)
	case BlockAction:
		return s.Block(ctx, meID, themID, opts...)
	default:
		return fmt.Errorf("%w: %T", ErrUnknownAction, action)
	}
}
