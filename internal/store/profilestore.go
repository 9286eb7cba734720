package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/upnorthmedia/content-pipeline/internal/domain/content"
)

// ErrProfileNotFound is returned by ProfileStore.Get for an unknown id.
var ErrProfileNotFound = errors.New("store: profile not found")

// ProfileStore backs Profile reads/writes for the Crawl Worker and
// Scheduler (§4.I, §4.J).
type ProfileStore interface {
	Get(ctx context.Context, id uuid.UUID) (*content.Profile, error)
	Save(ctx context.Context, profile *content.Profile) error
	// ListRecrawlCandidates returns every profile with a non-disabled
	// recrawl_interval and crawl_status != crawling (§4.J).
	ListRecrawlCandidates(ctx context.Context) ([]content.Profile, error)
}

type gormProfileStore struct {
	db *gorm.DB
}

func NewProfileStore(db *gorm.DB) ProfileStore {
	return &gormProfileStore{db: db}
}

func (s *gormProfileStore) Get(ctx context.Context, id uuid.UUID) (*content.Profile, error) {
	var profile content.Profile
	err := s.db.WithContext(ctx).First(&profile, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

func (s *gormProfileStore) Save(ctx context.Context, profile *content.Profile) error {
	return s.db.WithContext(ctx).Save(profile).Error
}

func (s *gormProfileStore) ListRecrawlCandidates(ctx context.Context) ([]content.Profile, error) {
	var profiles []content.Profile
	err := s.db.WithContext(ctx).
		Where("recrawl_interval IS NOT NULL AND crawl_status != ?", string(content.CrawlCrawling)).
		Find(&profiles).Error
	if err != nil {
		return nil, err
	}
	return profiles, nil
}
