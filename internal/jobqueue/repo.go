package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/upnorthmedia/content-pipeline/internal/pkg/logger"
)

// Client is the Job Queue Client (§4.B): a Postgres-backed at-least-once
// queue. Claiming uses `SELECT ... FOR UPDATE SKIP LOCKED` so concurrent
// workers never double-claim a row, adapted directly from the teacher's
// JobRunRepo.ClaimNextRunnable (internal/data/repos/jobs/job_run.go).
type Client interface {
	Enqueue(ctx context.Context, jobType string, payload any) (*Record, error)
	EnqueueAfter(ctx context.Context, jobType string, payload any, runAfter time.Time) (*Record, error)
	ClaimNextRunnable(ctx context.Context, maxAttempts int, retryDelay, staleRunning time.Duration) (*Record, error)
	MarkSucceeded(ctx context.Context, id uuid.UUID, result any) error
	MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error
	Heartbeat(ctx context.Context, id uuid.UUID) error
}

type client struct {
	db  *gorm.DB
	log *logger.Logger
}

func New(db *gorm.DB, log *logger.Logger) Client {
	return &client{db: db, log: log.With("component", "JobQueueClient")}
}

func (c *client) Enqueue(ctx context.Context, jobType string, payload any) (*Record, error) {
	return c.EnqueueAfter(ctx, jobType, payload, time.Now())
}

func (c *client) EnqueueAfter(ctx context.Context, jobType string, payload any, runAfter time.Time) (*Record, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	rec := &Record{
		JobType:     jobType,
		Status:      StatusQueued,
		MaxAttempts: 3,
		Payload:     raw,
		RunAfter:    runAfter,
	}
	if err := c.db.WithContext(ctx).Create(rec).Error; err != nil {
		return nil, err
	}
	return rec, nil
}

func (c *client) ClaimNextRunnable(ctx context.Context, maxAttempts int, retryDelay, staleRunning time.Duration) (*Record, error) {
	now := time.Now()
	retryCutoff := now.Add(-retryDelay)
	staleCutoff := now.Add(-staleRunning)

	var claimed *Record
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec Record
		q := tx.Session(&gorm.Session{})
		if tx.Dialector.Name() == "postgres" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}
		q = q.Where(`
				run_after <= ?
				AND (
					status = ?
					OR (
						status = ?
						AND attempts < ?
						AND (last_error_at IS NULL OR last_error_at < ?)
					)
					OR (
						status = ?
						AND heartbeat_at IS NOT NULL
						AND heartbeat_at < ?
					)
				)
			`, now, StatusQueued, StatusFailed, maxAttempts, retryCutoff, StatusRunning, staleCutoff).
			Order("created_at ASC")
		qErr := q.First(&rec).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return nil
		}
		if qErr != nil {
			return qErr
		}
		uErr := tx.Model(&Record{}).
			Where("id = ?", rec.ID).
			Updates(map[string]interface{}{
				"status":       StatusRunning,
				"attempts":     gorm.Expr("attempts + 1"),
				"locked_at":    now,
				"heartbeat_at": now,
				"updated_at":   now,
			}).Error
		if uErr != nil {
			return uErr
		}
		rec.Attempts++
		claimed = &rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (c *client) MarkSucceeded(ctx context.Context, id uuid.UUID, result any) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return c.db.WithContext(ctx).Model(&Record{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":     StatusSucceeded,
		"result":     raw,
		"updated_at": time.Now(),
	}).Error
}

func (c *client) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error {
	now := time.Now()
	return c.db.WithContext(ctx).Model(&Record{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":        StatusFailed,
		"last_error":    errMsg,
		"last_error_at": now,
		"updated_at":    now,
	}).Error
}

func (c *client) Heartbeat(ctx context.Context, id uuid.UUID) error {
	now := time.Now()
	return c.db.WithContext(ctx).Model(&Record{}).
		Where("id = ? AND status = ?", id, StatusRunning).
		Updates(map[string]interface{}{
			"heartbeat_at": now,
			"updated_at":   now,
		}).Error
}
