package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/HammerMeetNail/friendlane/internal/logging"
	"github.com/HammerMeetNail/friendlane/internal/metrics"
	"github.com/HammerMeetNail/friendlane/internal/models"
)

type IndexWriter interface {
	SaveObject(ctx context.Context, record models.IndexRecord) error
	DeleteObject(ctx context.Context, objectID string) error
}

type ProfileGetter interface {
	GetByID(ctx context.Context, id string) (*models.UserProfile, error)
}

// ProfileIndexer mirrors profile changes into the hosted index. Each sync
// reads the current profile, so replayed or reordered change ids converge.
type ProfileIndexer struct {
	profiles ProfileGetter
	index    IndexWriter
	metrics  metrics.Recorder
	logger   *logging.Logger
}

func NewProfileIndexer(profiles ProfileGetter, index IndexWriter) *ProfileIndexer {
	return &ProfileIndexer{
		profiles: profiles,
		index:    index,
		metrics:  metrics.Nop{},
		logger:   logging.Default,
	}
}

func (i *ProfileIndexer) SetMetrics(m metrics.Recorder) {
	if m != nil {
		i.metrics = m
	}
}

func (i *ProfileIndexer) SetLogger(logger *logging.Logger) {
	if logger != nil {
		i.logger = logger
	}
}

func (i *ProfileIndexer) Sync(ctx context.Context, profileID string) error {
	if profileID == "" {
		return ErrInvalidUserID
	}

	profile, err := i.profiles.GetByID(ctx, profileID)
	if err != nil && !errors.Is(err, ErrProfileNotFound) {
		i.metrics.RecordIndexSync("error")
		return fmt.Errorf("loading profile for index: %w", err)
	}

	record, ok := ProjectIndexRecord(profile)
	if !ok {
		if err := i.index.DeleteObject(ctx, profileID); err != nil {
			i.metrics.RecordIndexSync("error")
			return fmt.Errorf("removing profile from index: %w", err)
		}
		i.metrics.RecordIndexSync("deleted")
		return nil
	}

	if err := i.index.SaveObject(ctx, record); err != nil {
		i.metrics.RecordIndexSync("error")
		return fmt.Errorf("saving profile to index: %w", err)
	}
	i.metrics.RecordIndexSync("saved")
	return nil
}

// Run syncs every id received on changes until the channel closes or ctx is
// done. A failed sync is logged and the loop moves on.
func (i *ProfileIndexer) Run(ctx context.Context, changes <-chan string) {
	for {
		select {
		case <-ctx.Done():
			return
		case id, ok := <-changes:
			if !ok {
				return
			}
			if err := i.Sync(ctx, id); err != nil {
				i.logger.Error("Profile index sync failed", map[string]interface{}{
					"profile_id": id,
					"error":      err.Error(),
				})
			}
		}
	}
}
