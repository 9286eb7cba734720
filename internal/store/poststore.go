package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/upnorthmedia/content-pipeline/internal/domain/content"
)

// ErrPostNotFound is returned by PostStore.Get for an unknown id.
var ErrPostNotFound = errors.New("store: post not found")

// PostStore is the Post Store (§4.C): random-access key-value by id, with
// atomic per-stage field commits. The runner reads a fresh Post at the
// start of every stage iteration — it never carries one across stage
// boundaries.
type PostStore interface {
	Get(ctx context.Context, id uuid.UUID) (*content.Post, error)
	Create(ctx context.Context, post *content.Post) error
	// Save persists every mutable field on post in a single transaction
	// (§4.C "content + status + current_stage must commit together").
	Save(ctx context.Context, post *content.Post) error
	// CountByCurrentStage groups posts by current_stage, for the queue
	// status endpoint (§4.K).
	CountByCurrentStage(ctx context.Context) (map[string]int, error)
	// CountInReview counts posts with at least one stage awaiting review.
	CountInReview(ctx context.Context) (int, error)
}

type gormPostStore struct {
	db *gorm.DB
}

func NewPostStore(db *gorm.DB) PostStore {
	return &gormPostStore{db: db}
}

func (s *gormPostStore) Get(ctx context.Context, id uuid.UUID) (*content.Post, error) {
	var post content.Post
	err := s.db.WithContext(ctx).First(&post, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPostNotFound
	}
	if err != nil {
		return nil, err
	}
	return &post, nil
}

func (s *gormPostStore) Create(ctx context.Context, post *content.Post) error {
	return s.db.WithContext(ctx).Create(post).Error
}

func (s *gormPostStore) Save(ctx context.Context, post *content.Post) error {
	return s.db.WithContext(ctx).Save(post).Error
}

// CountByCurrentStage and CountInReview decode stage_status in Go rather
// than with a dialect-specific JSON operator, so the same query runs
// unmodified against both the sqlite test backend and Postgres.
func (s *gormPostStore) CountByCurrentStage(ctx context.Context) (map[string]int, error) {
	type row struct {
		CurrentStage string
		Count        int64
	}
	var rows []row
	err := s.db.WithContext(ctx).Model(&content.Post{}).
		Select("current_stage, count(*) as count").
		Group("current_stage").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(rows))
	for _, r := range rows {
		out[r.CurrentStage] = int(r.Count)
	}
	return out, nil
}

func (s *gormPostStore) CountInReview(ctx context.Context) (int, error) {
	var posts []content.Post
	if err := s.db.WithContext(ctx).Find(&posts).Error; err != nil {
		return 0, err
	}
	count := 0
	for _, p := range posts {
		for _, status := range p.StageStatusMap() {
			if status == string(content.StatusReview) {
				count++
				break
			}
		}
	}
	return count, nil
}
