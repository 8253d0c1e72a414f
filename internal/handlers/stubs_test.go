package handlers

import (
	"context"

	"github.com/HammerMeetNail/friendlane/internal/models"
	"github.com/HammerMeetNail/friendlane/internal/services"
)

type relationshipCall struct {
	op, me, them string
	opts         int
}

type stubRelationshipService struct {
	calls []relationshipCall
	err   error
	edges []models.RelationshipEdge
}

func (s *stubRelationshipService) record(op, me, them string, opts []services.MutationOption) error {
	s.calls = append(s.calls, relationshipCall{op: op, me: me, them: them, opts: len(opts)})
	return s.err
}

func (s *stubRelationshipService) SendRequest(ctx context.Context, meID, themID string, opts ...services.MutationOption) error {
	return s.record("send", meID, themID, opts)
}

func (s *stubRelationshipService) AcceptRequest(ctx context.Context, meID, themID string, opts ...services.MutationOption) error {
	return s.record("accept", meID, themID, opts)
}

func (s *stubRelationshipService) CancelRequest(ctx context.Context, meID, themID string, opts ...services.MutationOption) error {
	return s.record("cancel", meID, themID, opts)
}

func (s *stubRelationshipService) Unfriend(ctx context.Context, meID, themID string, opts ...services.MutationOption) error {
	return s.record("unfriend", meID, themID, opts)
}

func (s *stubRelationshipService) Block(ctx context.Context, meID, themID string, opts ...services.MutationOption) error {
	s.calls = append(s.calls, relationshipCall{op: "block", me: meID, them: themID})
	return services.ErrBlockUnsupported
}

func (s *stubRelationshipService) Apply(ctx context.Context, meID, themID string, action services.RelationshipAction, opts ...services.MutationOption) error {
	return s.record("apply:"+action.Tag(), meID, themID, opts)
}

func (s *stubRelationshipService) List(ctx context.Context, meID string) ([]models.RelationshipEdge, error) {
	return s.edges, s.err
}

func (s *stubRelationshipService) Get(ctx context.Context, meID, themID string) (*models.RelationshipEdge, error) {
	return nil, services.ErrRelationshipNotFound
}

func (s *stubRelationshipService) ExclusionSet(ctx context.Context, meID string) (services.ExclusionSet, error) {
	return services.NewExclusionSet(meID), nil
}

type stubSearchService struct {
	profiles  []models.UserProfile
	err       error
	lastQuery string
	lastUser  string
}

func (s *stubSearchService) Search(ctx context.Context, callerID, query string, exclude services.ExclusionSet) ([]models.UserProfile, error) {
	return s.SearchForCaller(ctx, callerID, query)
}

func (s *stubSearchService) SearchForCaller(ctx context.Context, callerID, query string) ([]models.UserProfile, error) {
	s.lastUser, s.lastQuery = callerID, query
	return s.profiles, s.err
}

type stubKeyIssuer struct {
	key models.SecuredKey
	err error
}

func (s stubKeyIssuer) Key(ctx context.Context, callerID string) (models.SecuredKey, error) {
	return s.key, s.err
}

type stubProfileService struct {
	profile       *models.UserProfile
	err           error
	updateParams  models.UpdateProfileParams
	searchableArg *bool
}

func (s *stubProfileService) GetByID(ctx context.Context, id string) (*models.UserProfile, error) {
	return s.profile, s.err
}

func (s *stubProfileService) EnsureProfile(ctx context.Context, identity models.Identity, provider string) error {
	return s.err
}

func (s *stubProfileService) PrefixMatchIDs(ctx context.Context, field services.PrefixField, prefix string, limit int) ([]string, error) {
	return nil, s.err
}

func (s *stubProfileService) Update(ctx context.Context, id string, params models.UpdateProfileParams) (*models.UserProfile, error) {
	s.updateParams = params
	return s.profile, s.err
}

func (s *stubProfileService) UpdateSearchable(ctx context.Context, id string, searchable bool) error {
	s.searchableArg = &searchable
	return s.err
}
