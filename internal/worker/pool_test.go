package worker

import (
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/upnorthmedia/content-pipeline/internal/crawl"
	"github.com/upnorthmedia/content-pipeline/internal/domain/content"
	"github.com/upnorthmedia/content-pipeline/internal/eventbus"
	"github.com/upnorthmedia/content-pipeline/internal/jobqueue"
	"github.com/upnorthmedia/content-pipeline/internal/pipeline"
	"github.com/upnorthmedia/content-pipeline/internal/pkg/logger"
	"github.com/upnorthmedia/content-pipeline/internal/store"
)

func mustPoolDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("gorm.Open: %v", err)
	}
	if err := db.AutoMigrate(&content.Post{}, &content.Profile{}, &content.Link{}, &jobqueue.Record{}); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	return db
}

func mustPoolLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	t.Cleanup(log.Sync)
	return log
}

func TestRunJobDispatchesPipelineStageJobAndMarksSucceeded(t *testing.T) {
	db := mustPoolDB(t)
	queue := jobqueue.New(db, mustPoolLogger(t))
	posts := store.NewPostStore(db)
	links := store.NewLinkStore(db)
	profiles := store.NewProfileStore(db)
	bus := eventbus.NewMemoryBus()
	runner := pipeline.NewRunner(posts, links, profiles, bus, nil, pipeline.DefaultStageFuncs(), pipeline.NewRulesLoader(t.TempDir()), mustPoolLogger(t))
	crawler := crawl.NewWorker(profiles, links, mustPoolLogger(t))
	pool := NewPool(queue, runner, crawler, mustPoolLogger(t))

	post := &content.Post{Slug: "pool-post", Topic: "t", CurrentStage: content.StatePending}
	post.SetStageSettingsMap(map[string]string{
		string(content.StageResearch): string(content.ModeAuto),
		string(content.StageOutline):  string(content.ModeAuto),
		string(content.StageWrite):    string(content.ModeAuto),
		string(content.StageEdit):     string(content.ModeAuto),
		string(content.StageImages):   string(content.ModeAuto),
		string(content.StageReady):    string(content.ModeAuto),
	})
	if err := posts.Create(t.Context(), post); err != nil {
		t.Fatalf("Create post: %v", err)
	}

	if _, err := queue.Enqueue(t.Context(), jobqueue.JobRunPipelineStage, jobqueue.StagePayload{PostID: post.ID.String()}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	job, err := queue.ClaimNextRunnable(t.Context(), 3, time.Minute, time.Minute)
	if err != nil {
		t.Fatalf("ClaimNextRunnable: %v", err)
	}
	if job == nil {
		t.Fatal("expected a claimable job")
	}

	pool.runJob(t.Context(), 1, job)

	var rec jobqueue.Record
	if err := db.First(&rec, "id = ?", job.ID).Error; err != nil {
		t.Fatalf("reload record: %v", err)
	}
	if rec.Status != jobqueue.StatusSucceeded {
		t.Fatalf("expected succeeded, got %q (last_error=%q)", rec.Status, rec.LastError)
	}

	got, err := posts.Get(t.Context(), post.ID)
	if err != nil {
		t.Fatalf("Get post: %v", err)
	}
	if got.CurrentStage != content.StateComplete {
		t.Fatalf("expected post to complete, got %q", got.CurrentStage)
	}
}

func TestRunJobMarksFailedOnMalformedPayload(t *testing.T) {
	db := mustPoolDB(t)
	queue := jobqueue.New(db, mustPoolLogger(t))
	posts := store.NewPostStore(db)
	links := store.NewLinkStore(db)
	profiles := store.NewProfileStore(db)
	bus := eventbus.NewMemoryBus()
	runner := pipeline.NewRunner(posts, links, profiles, bus, nil, pipeline.DefaultStageFuncs(), pipeline.NewRulesLoader(t.TempDir()), mustPoolLogger(t))
	crawler := crawl.NewWorker(profiles, links, mustPoolLogger(t))
	pool := NewPool(queue, runner, crawler, mustPoolLogger(t))

	if _, err := queue.Enqueue(t.Context(), jobqueue.JobRunPipelineStage, jobqueue.StagePayload{PostID: "not-a-uuid"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	job, err := queue.ClaimNextRunnable(t.Context(), 3, time.Minute, time.Minute)
	if err != nil {
		t.Fatalf("ClaimNextRunnable: %v", err)
	}

	pool.runJob(t.Context(), 1, job)

	var rec jobqueue.Record
	if err := db.First(&rec, "id = ?", job.ID).Error; err != nil {
		t.Fatalf("reload record: %v", err)
	}
	if rec.Status != jobqueue.StatusFailed {
		t.Fatalf("expected failed, got %q", rec.Status)
	}
	if rec.LastError == "" {
		t.Fatal("expected last_error to be recorded")
	}
}

func TestRunJobDispatchesUnknownJobTypeAsFailed(t *testing.T) {
	db := mustPoolDB(t)
	queue := jobqueue.New(db, mustPoolLogger(t))
	posts := store.NewPostStore(db)
	links := store.NewLinkStore(db)
	profiles := store.NewProfileStore(db)
	bus := eventbus.NewMemoryBus()
	runner := pipeline.NewRunner(posts, links, profiles, bus, nil, pipeline.DefaultStageFuncs(), pipeline.NewRulesLoader(t.TempDir()), mustPoolLogger(t))
	crawler := crawl.NewWorker(profiles, links, mustPoolLogger(t))
	pool := NewPool(queue, runner, crawler, mustPoolLogger(t))

	if _, err := queue.Enqueue(t.Context(), "unregistered_job_type", map[string]any{}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	job, err := queue.ClaimNextRunnable(t.Context(), 3, time.Minute, time.Minute)
	if err != nil {
		t.Fatalf("ClaimNextRunnable: %v", err)
	}

	pool.runJob(t.Context(), 1, job)

	var rec jobqueue.Record
	if err := db.First(&rec, "id = ?", job.ID).Error; err != nil {
		t.Fatalf("reload record: %v", err)
	}
	if rec.Status != jobqueue.StatusFailed {
		t.Fatalf("expected failed, got %q", rec.Status)
	}
}
