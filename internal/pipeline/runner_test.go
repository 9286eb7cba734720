package pipeline

import (
	"context"
	"errors"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/upnorthmedia/content-pipeline/internal/domain/content"
	"github.com/upnorthmedia/content-pipeline/internal/eventbus"
	"github.com/upnorthmedia/content-pipeline/internal/pkg/logger"
	"github.com/upnorthmedia/content-pipeline/internal/store"
)

func mustRunnerDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("gorm.Open: %v", err)
	}
	if err := db.AutoMigrate(&content.Post{}, &content.Profile{}, &content.Link{}); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	return db
}

func mustRunnerLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	t.Cleanup(log.Sync)
	return log
}

func newTestRunner(t *testing.T, db *gorm.DB) (*Runner, store.PostStore, store.ProfileStore) {
	t.Helper()
	posts := store.NewPostStore(db)
	links := store.NewLinkStore(db)
	profiles := store.NewProfileStore(db)
	bus := eventbus.NewMemoryBus()
	r := NewRunner(posts, links, profiles, bus, nil, DefaultStageFuncs(), NewRulesLoader(t.TempDir()), mustRunnerLogger(t))
	return r, posts, profiles
}

func allAutoSettings() map[string]string {
	return map[string]string{
		string(content.StageResearch): string(content.ModeAuto),
		string(content.StageOutline):  string(content.ModeAuto),
		string(content.StageWrite):    string(content.ModeAuto),
		string(content.StageEdit):     string(content.ModeAuto),
		string(content.StageImages):   string(content.ModeAuto),
		string(content.StageReady):    string(content.ModeAuto),
	}
}

// S1: all-auto post runs straight through to completion.
func TestRunFullAllAutoCompletesAllStages(t *testing.T) {
	db := mustRunnerDB(t)
	r, posts, profiles := newTestRunner(t, db)

	profile := &content.Profile{Name: "acme", WebsiteURL: "https://acme.example"}
	if err := profiles.Save(t.Context(), profile); err != nil {
		t.Fatalf("Save profile: %v", err)
	}

	post := &content.Post{ProfileID: &profile.ID, Slug: "best-widgets", Topic: "widgets", CurrentStage: content.StatePending}
	post.SetStageSettingsMap(allAutoSettings())
	if err := posts.Create(t.Context(), post); err != nil {
		t.Fatalf("Create post: %v", err)
	}

	if err := r.RunFull(t.Context(), post.ID, 1, 3); err != nil {
		t.Fatalf("RunFull: %v", err)
	}

	got, err := posts.Get(t.Context(), post.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.CurrentStage != content.StateComplete {
		t.Fatalf("expected current_stage complete, got %q", got.CurrentStage)
	}
	if got.CompletedAt == nil {
		t.Fatal("expected completed_at to be set")
	}
	statuses := got.StageStatusMap()
	for _, def := range Registry {
		if statuses[string(def.Stage)] != string(content.StatusComplete) {
			t.Fatalf("expected stage %s complete, got %q", def.Stage, statuses[string(def.Stage)])
		}
	}
	if got.ResearchContent == "" || got.DraftContent == "" || got.ReadyContent == "" {
		t.Fatal("expected stage outputs to be persisted")
	}

	links, err := store.NewLinkStore(db).ListByProfile(t.Context(), profile.ID, string(content.LinkSourceGenerated))
	if err != nil {
		t.Fatalf("ListByProfile: %v", err)
	}
	if len(links) != 1 {
		t.Fatalf("expected 1 generated link, got %d", len(links))
	}
	if links[0].URL != "https://acme.example/best-widgets/" {
		t.Fatalf("unexpected canonical url: %q", links[0].URL)
	}
}

// S2: a review-gated stage pauses the run without raising an error.
func TestRunFullPausesForReview(t *testing.T) {
	db := mustRunnerDB(t)
	r, posts, _ := newTestRunner(t, db)

	post := &content.Post{Slug: "p", Topic: "t", CurrentStage: content.StatePending}
	settings := allAutoSettings()
	settings[string(content.StageOutline)] = string(content.ModeReview)
	post.SetStageSettingsMap(settings)
	if err := posts.Create(t.Context(), post); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := r.RunFull(t.Context(), post.ID, 1, 3); err != nil {
		t.Fatalf("RunFull: %v", err)
	}

	got, err := posts.Get(t.Context(), post.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.CurrentStage != string(content.StageOutline) {
		t.Fatalf("expected current_stage outline, got %q", got.CurrentStage)
	}
	statuses := got.StageStatusMap()
	if statuses[string(content.StageResearch)] != string(content.StatusComplete) {
		t.Fatalf("expected research complete before the pause, got %q", statuses[string(content.StageResearch)])
	}
	if statuses[string(content.StageOutline)] != string(content.StatusReview) {
		t.Fatalf("expected outline awaiting review, got %q", statuses[string(content.StageOutline)])
	}
	if got.OutlineContent != "" {
		t.Fatal("expected outline content to remain unset while awaiting review")
	}
}

// S3: approving a reviewed stage resumes from the next incomplete stage.
func TestApproveResumesFromNextIncompleteStage(t *testing.T) {
	db := mustRunnerDB(t)
	r, posts, _ := newTestRunner(t, db)

	post := &content.Post{Slug: "p2", Topic: "t2", CurrentStage: content.StatePending}
	settings := allAutoSettings()
	settings[string(content.StageOutline)] = string(content.ModeReview)
	post.SetStageSettingsMap(settings)
	if err := posts.Create(t.Context(), post); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := r.RunFull(t.Context(), post.ID, 1, 3); err != nil {
		t.Fatalf("RunFull: %v", err)
	}

	post, err := posts.Get(t.Context(), post.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	next, err := Approve(post, ApprovalInput{Stage: content.StageOutline}, mustRunnerLogger(t))
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if next != content.StageWrite {
		t.Fatalf("expected next incomplete stage write, got %q", next)
	}
	if err := posts.Save(t.Context(), post); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if err := r.RunFull(t.Context(), post.ID, 1, 3); err != nil {
		t.Fatalf("resumed RunFull: %v", err)
	}
	got, err := posts.Get(t.Context(), post.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.CurrentStage != content.StateComplete {
		t.Fatalf("expected current_stage complete after resume, got %q", got.CurrentStage)
	}
}

// S4: a stage function that always errors retries while attempts remain,
// re-raising the error for the caller (the job queue) to reschedule. On
// the final attempt it dead-letters and leaves the post failed.
func TestRunFullRetriesThenFails(t *testing.T) {
	db := mustRunnerDB(t)
	posts := store.NewPostStore(db)
	links := store.NewLinkStore(db)
	profiles := store.NewProfileStore(db)
	bus := eventbus.NewMemoryBus()

	boom := errors.New("boom")
	failing := DefaultStageFuncs()
	failing[content.StageResearch] = func(ctx context.Context, _ Snapshot) (StageResult, error) {
		return StageResult{}, boom
	}
	r := NewRunner(posts, links, profiles, bus, nil, failing, NewRulesLoader(t.TempDir()), mustRunnerLogger(t))

	post := &content.Post{Slug: "fails", Topic: "t", CurrentStage: content.StatePending}
	post.SetStageSettingsMap(allAutoSettings())
	if err := posts.Create(t.Context(), post); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := r.RunFull(t.Context(), post.ID, 1, 3); !errors.Is(err, boom) {
		t.Fatalf("expected attempt 1/3 to re-raise the stage error, got %v", err)
	}
	got, err := posts.Get(t.Context(), post.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.CurrentStage == content.StateFailed {
		t.Fatal("post should not be failed before attempts are exhausted")
	}

	if err := r.RunFull(t.Context(), post.ID, 3, 3); err != nil {
		t.Fatalf("final attempt should not re-raise once dead-lettered: %v", err)
	}
	got, err = posts.Get(t.Context(), post.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.CurrentStage != content.StateFailed {
		t.Fatalf("expected current_stage failed, got %q", got.CurrentStage)
	}
	if rec := got.Error(); rec == nil || rec.Stage != string(content.StageResearch) {
		t.Fatalf("expected an _error record for the research stage, got %+v", rec)
	}
}

// RunStage bypasses the gate entirely, even for a stage configured review.
func TestRunStageBypassesGate(t *testing.T) {
	db := mustRunnerDB(t)
	r, posts, _ := newTestRunner(t, db)

	post := &content.Post{Slug: "p3", Topic: "t3", CurrentStage: content.StatePending}
	settings := allAutoSettings()
	settings[string(content.StageOutline)] = string(content.ModeReview)
	post.SetStageSettingsMap(settings)
	if err := posts.Create(t.Context(), post); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := r.RunStage(t.Context(), post.ID, string(content.StageOutline), 1, 3); err != nil {
		t.Fatalf("RunStage: %v", err)
	}

	got, err := posts.Get(t.Context(), post.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.OutlineContent == "" {
		t.Fatal("expected RunStage to execute outline directly, ignoring its review mode")
	}
	if got.StatusFor(content.StageOutline) != content.StatusComplete {
		t.Fatalf("expected outline complete, got %q", got.StatusFor(content.StageOutline))
	}
}

// A paused post refuses new runs without erroring (Open Question #1).
func TestRunFullRefusesOnPausedPost(t *testing.T) {
	db := mustRunnerDB(t)
	r, posts, _ := newTestRunner(t, db)

	post := &content.Post{Slug: "paused", Topic: "t", CurrentStage: content.StatePaused}
	post.SetStageSettingsMap(allAutoSettings())
	if err := posts.Create(t.Context(), post); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := r.RunFull(t.Context(), post.ID, 1, 3); err != nil {
		t.Fatalf("expected no error for a paused post, got %v", err)
	}
	got, err := posts.Get(t.Context(), post.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.CurrentStage != content.StatePaused {
		t.Fatalf("expected current_stage to remain paused, got %q", got.CurrentStage)
	}
}

// Execution logs are append-only across the whole run.
func TestRunFullExecutionLogsAreAppendOnly(t *testing.T) {
	db := mustRunnerDB(t)
	r, posts, _ := newTestRunner(t, db)

	post := &content.Post{Slug: "logs", Topic: "t", CurrentStage: content.StatePending}
	post.SetStageSettingsMap(allAutoSettings())
	if err := posts.Create(t.Context(), post); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := r.RunFull(t.Context(), post.ID, 1, 3); err != nil {
		t.Fatalf("RunFull: %v", err)
	}
	got, err := posts.Get(t.Context(), post.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	logs := got.ExecutionLogsSlice()
	if len(logs) != len(Registry) {
		t.Fatalf("expected one execution log entry per stage, got %d", len(logs))
	}
}
