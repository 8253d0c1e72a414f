package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/HammerMeetNail/friendlane/internal/logging"
	"github.com/HammerMeetNail/friendlane/internal/metrics"
	"github.com/HammerMeetNail/friendlane/internal/models"
)

// ErrSearchUnavailable marks a failed hosted-index request. Search never
// returns it; it triggers the fallback path.
var ErrSearchUnavailable = errors.New("search provider unavailable")

const (
	defaultHitsPerPage   = 20
	defaultFallbackLimit = 10
)

type ProfileReader interface {
	GetByID(ctx context.Context, id string) (*models.UserProfile, error)
	PrefixMatchIDs(ctx context.Context, field PrefixField, prefix string, limit int) ([]string, error)
}

// SearchProvider queries the hosted full-text index with a caller's secured key.
type SearchProvider interface {
	Search(ctx context.Context, key models.SecuredKey, query string, limit int) ([]models.SearchHit, error)
}

type SearchKeySource interface {
	Key(ctx context.Context, callerID string) (models.SecuredKey, error)
}

type ExclusionSource interface {
	ExclusionSet(ctx context.Context, meID string) (ExclusionSet, error)
}

type DirectorySearchServiceInterface interface {
	Search(ctx context.Context, callerID, query string, exclude ExclusionSet) ([]models.UserProfile, error)
	SearchForCaller(ctx context.Context, callerID, query string) ([]models.UserProfile, error)
}

// DirectorySearchService answers people searches from the hosted index when it
// is configured and reachable, and from prefix queries on the profile store
// otherwise. Both paths return full profiles read through the same GetByID.
type DirectorySearchService struct {
	profiles      ProfileReader
	exclusions    ExclusionSource
	keys          SearchKeySource
	provider      SearchProvider
	hitsPerPage   int
	fallbackLimit int
	metrics       metrics.Recorder
	logger        *logging.Logger
}

func NewDirectorySearchService(profiles ProfileReader, exclusions ExclusionSource) *DirectorySearchService {
	return &DirectorySearchService{
		profiles:      profiles,
		exclusions:    exclusions,
		hitsPerPage:   defaultHitsPerPage,
		fallbackLimit: defaultFallbackLimit,
		metrics:       metrics.Nop{},
		logger:        logging.Default,
	}
}

// SetProvider enables the hosted-index path. Without it every search uses the
// fallback.
func (s *DirectorySearchService) SetProvider(keys SearchKeySource, provider SearchProvider) {
	s.keys = keys
	s.provider = provider
}

func (s *DirectorySearchService) SetLimits(hitsPerPage, fallbackLimit int) {
	if hitsPerPage > 0 {
		s.hitsPerPage = hitsPerPage
	}
	if fallbackLimit > 0 {
		s.fallbackLimit = fallbackLimit
	}
}

func (s *DirectorySearchService) SetMetrics(m metrics.Recorder) {
	if m != nil {
		s.metrics = m
	}
}

func (s *DirectorySearchService) SetLogger(logger *logging.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SearchForCaller excludes the caller and everyone they have an edge with.
func (s *DirectorySearchService) SearchForCaller(ctx context.Context, callerID, query string) ([]models.UserProfile, error) {
	if callerID == "" {
		return nil, ErrUnauthenticated
	}
	exclude, err := s.exclusions.ExclusionSet(ctx, callerID)
	if err != nil {
		return nil, fmt.Errorf("computing exclusion set: %w", err)
	}
	return s.Search(ctx, callerID, query, exclude)
}

func (s *DirectorySearchService) Search(ctx context.Context, callerID, query string, exclude ExclusionSet) ([]models.UserProfile, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		s.metrics.RecordSearch(metrics.SearchPathEmpty, 0)
		return []models.UserProfile{}, nil
	}

	start := time.Now()
	ids, err := s.providerIDs(ctx, callerID, q, exclude)
	path := metrics.SearchPathProvider
	if err != nil {
		s.logger.Warn("Directory search degraded to fallback", map[string]interface{}{
			"error": err.Error(),
		})
		path = metrics.SearchPathFallback
		ids, err = s.fallbackIDs(ctx, callerID, q, exclude)
		if err != nil {
			return nil, err
		}
	}

	profiles, err := s.rehydrate(ctx, ids)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordSearch(path, time.Since(start))
	return profiles, nil
}

func (s *DirectorySearchService) providerIDs(ctx context.Context, callerID, q string, exclude ExclusionSet) ([]string, error) {
	if s.provider == nil || s.keys == nil {
		s.metrics.RecordSearchDegraded("not_configured")
		return nil, fmt.Errorf("%w: not configured", ErrSearchUnavailable)
	}

	key, err := s.keys.Key(ctx, callerID)
	if err != nil {
		s.metrics.RecordSearchDegraded("key")
		return nil, fmt.Errorf("%w: %w", ErrSearchUnavailable, err)
	}

	hits, err := s.provider.Search(ctx, key, q, s.hitsPerPage)
	if err != nil {
		s.metrics.RecordSearchDegraded("provider")
		return nil, fmt.Errorf("%w: %w", ErrSearchUnavailable, err)
	}

	ids := make([]string, 0, len(hits))
	seen := make(map[string]struct{}, len(hits))
	for _, hit := range hits {
		if hit.ObjectID == "" || hit.ObjectID == callerID || exclude.Contains(hit.ObjectID) {
			continue
		}
		if _, dup := seen[hit.ObjectID]; dup {
			continue
		}
		seen[hit.ObjectID] = struct{}{}
		ids = append(ids, hit.ObjectID)
	}
	return ids, nil
}

// fallbackIDs unions username matches, in username order, with display-name
// matches not already present, in display-name order.
func (s *DirectorySearchService) fallbackIDs(ctx context.Context, callerID, q string, exclude ExclusionSet) ([]string, error) {
	prefix := strings.ToLower(q)

	var byUsername, byDisplayName []string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ids, err := s.profiles.PrefixMatchIDs(gctx, PrefixFieldUsername, prefix, s.fallbackLimit)
		byUsername = ids
		return err
	})
	g.Go(func() error {
		ids, err := s.profiles.PrefixMatchIDs(gctx, PrefixFieldDisplayName, prefix, s.fallbackLimit)
		byDisplayName = ids
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("fallback search: %w", err)
	}

	ids := make([]string, 0, len(byUsername)+len(byDisplayName))
	seen := make(map[string]struct{}, cap(ids))
	for _, list := range [][]string{byUsername, byDisplayName} {
		for _, id := range list {
			if id == callerID || exclude.Contains(id) {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// rehydrate preserves the order of ids. Profiles deleted or hidden since they
// were matched are skipped.
func (s *DirectorySearchService) rehydrate(ctx context.Context, ids []string) ([]models.UserProfile, error) {
	profiles := make([]models.UserProfile, 0, len(ids))
	for _, id := range ids {
		profile, err := s.profiles.GetByID(ctx, id)
		if errors.Is(err, ErrProfileNotFound) {
			s.metrics.RecordRehydrationMiss()
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("rehydrating profile %s: %w", id, err)
		}
		if !profile.Searchable {
			s.metrics.RecordRehydrationMiss()
			continue
		}
		profiles = append(profiles, *profile)
	}
	return profiles, nil
}
