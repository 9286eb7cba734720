package jobqueue

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Job type names (§6 "Two registered functions").
const (
	JobRunPipelineStage   = "run_pipeline_stage"
	JobCrawlProfileSitemap = "crawl_profile_sitemap"
)

// Record statuses.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Record is the Job Queue Client's own durable row (§3 "JobRecord") —
// distinct from the Post a run_pipeline_stage job may operate on.
// Adapted from the teacher's internal/domain/jobs.JobRun, trimmed to the
// fields this queue actually needs (no owner/entity columns — every job
// here names its target post/profile inside Payload).
type Record struct {
	ID          uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	JobType     string         `gorm:"column:job_type;not null;index" json:"job_type"`
	Status      string         `gorm:"column:status;not null;index" json:"status"`
	Attempts    int            `gorm:"column:attempts;not null;default:0" json:"attempts"`
	MaxAttempts int            `gorm:"column:max_attempts;not null;default:3" json:"max_attempts"`
	Payload     datatypes.JSON `gorm:"column:payload;type:jsonb" json:"payload"`
	Result      datatypes.JSON `gorm:"column:result;type:jsonb" json:"result,omitempty"`
	LastError   string         `gorm:"column:last_error" json:"last_error,omitempty"`
	RunAfter    time.Time      `gorm:"column:run_after;not null;default:now();index" json:"run_after"`
	LockedAt    *time.Time     `gorm:"column:locked_at" json:"locked_at,omitempty"`
	HeartbeatAt *time.Time     `gorm:"column:heartbeat_at" json:"heartbeat_at,omitempty"`
	LastErrorAt *time.Time     `gorm:"column:last_error_at" json:"last_error_at,omitempty"`
	CreatedAt   time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}

func (Record) TableName() string { return "job_queue" }

// StagePayload is the payload shape for a run_pipeline_stage job.
type StagePayload struct {
	PostID string  `json:"post_id"`
	Stage  *string `json:"stage,omitempty"`
}

// CrawlPayload is the payload shape for a crawl_profile_sitemap job.
type CrawlPayload struct {
	ProfileID string `json:"profile_id"`
}
