package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/upnorthmedia/content-pipeline/internal/domain/content"
)

// LinkStore is the Link Catalog (§4.D): a per-profile set of Link rows,
// queried by profile id, optionally filtered by source. Written by the
// Crawl Worker (sitemap upserts) and the Pipeline Runner's completion hook
// (generated links) — the edit stage only ever reads it.
type LinkStore interface {
	ListByProfile(ctx context.Context, profileID uuid.UUID, source string) ([]content.Link, error)
	ExistsByURL(ctx context.Context, profileID uuid.UUID, url string) (bool, error)
	Create(ctx context.Context, link *content.Link) error
	// UpsertSitemapLinks inserts or updates rows sourced from a sitemap
	// crawl, keyed on (profile_id, url) (§4.I), without touching any
	// existing `source = generated` row for the same URL.
	UpsertSitemapLinks(ctx context.Context, links []content.Link) error
}

type gormLinkStore struct {
	db *gorm.DB
}

func NewLinkStore(db *gorm.DB) LinkStore {
	return &gormLinkStore{db: db}
}

func (s *gormLinkStore) ListByProfile(ctx context.Context, profileID uuid.UUID, source string) ([]content.Link, error) {
	q := s.db.WithContext(ctx).Where("profile_id = ?", profileID)
	if source != "" {
		q = q.Where("source = ?", source)
	}
	var links []content.Link
	if err := q.Order("created_at ASC").Find(&links).Error; err != nil {
		return nil, err
	}
	return links, nil
}

func (s *gormLinkStore) ExistsByURL(ctx context.Context, profileID uuid.UUID, url string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&content.Link{}).
		Where("profile_id = ? AND url = ?", profileID, url).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *gormLinkStore) Create(ctx context.Context, link *content.Link) error {
	return s.db.WithContext(ctx).Create(link).Error
}

// UpsertSitemapLinks preserves any existing `source = generated` row
// untouched (§4.I): the conflict clause only updates title/slug, never
// source, so a sitemap crawl can never downgrade a generated link.
func (s *gormLinkStore) UpsertSitemapLinks(ctx context.Context, links []content.Link) error {
	if len(links) == 0 {
		return nil
	}
	for i := range links {
		if links[i].Source == "" {
			links[i].Source = string(content.LinkSourceSitemap)
		}
	}
	existing := map[string]string{}
	for _, l := range links {
		var current content.Link
		err := s.db.WithContext(ctx).
			Where("profile_id = ? AND url = ?", l.ProfileID, l.URL).
			First(&current).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err == nil {
			existing[l.URL] = current.Source
		}
	}

	toUpsert := make([]content.Link, 0, len(links))
	for _, l := range links {
		if src, ok := existing[l.URL]; ok && src == string(content.LinkSourceGenerated) {
			continue
		}
		toUpsert = append(toUpsert, l)
	}
	if len(toUpsert) == 0 {
		return nil
	}

	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "profile_id"}, {Name: "url"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "slug"}),
	}).Create(&toUpsert).Error
}
