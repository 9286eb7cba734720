package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"strings"

	"github.com/upnorthmedia/content-pipeline/internal/deadletter"
	"github.com/upnorthmedia/content-pipeline/internal/domain/content"
	"github.com/upnorthmedia/content-pipeline/internal/eventbus"
	"github.com/upnorthmedia/content-pipeline/internal/pkg/logger"
	"github.com/upnorthmedia/content-pipeline/internal/store"
)

// DefaultMaxAttempts and DefaultRetryDelay are the runner's fallback
// retry policy (§4.H "1..MAX_ATTEMPTS, default 3" / "fixed delay (default
// 10 s)"); the worker pool may override MaxAttempts per job via the job
// queue's own max_attempts column.
const (
	DefaultMaxAttempts = 3
	DefaultRetryDelay  = 10 * time.Second
)

// Runner is the Pipeline Runner (§4.H), the heart of the engine: it loops
// over the Stage Registry, consults the Gate Controller, calls the Stage
// Executor, persists output, emits events, and handles retries and
// dead-lettering.
type Runner struct {
	posts    store.PostStore
	links    store.LinkStore
	profiles store.ProfileStore
	bus      eventbus.Bus
	dlq      *deadletter.Queue
	stages   StageFuncs
	rules    RulesLoader
	log      *logger.Logger
}

func NewRunner(posts store.PostStore, links store.LinkStore, profiles store.ProfileStore, bus eventbus.Bus, dlq *deadletter.Queue, stages StageFuncs, rules RulesLoader, log *logger.Logger) *Runner {
	if stages == nil {
		stages = DefaultStageFuncs()
	}
	return &Runner{posts: posts, links: links, profiles: profiles, bus: bus, dlq: dlq, stages: stages, rules: rules, log: log.With("component", "PipelineRunner")}
}

func (r *Runner) emit(ctx context.Context, postID, event string, data map[string]any) {
	if err := r.bus.Publish(ctx, postID, event, data); err != nil {
		r.log.Warn("event publish failed", "post_id", postID, "event", event, "error", err)
	}
}

// RunFull executes the full-pipeline entry mode (§4.H mode 1): iterate the
// registry, skip completed stages, consult the Gate Controller at each
// stage, execute otherwise. attempt is the 1-indexed attempt number the
// job queue supplies.
func (r *Runner) RunFull(ctx context.Context, postID uuid.UUID, attempt, maxAttempts int) error {
	post, err := r.posts.Get(ctx, postID)
	if err != nil {
		return Permanent(err)
	}
	if post.CurrentStage == content.StatePaused {
		// Open Question #1: a paused post refuses new runs outright;
		// pausing is not a failure, so this is not an error.
		return nil
	}

	for _, def := range Registry {
		post, err = r.posts.Get(ctx, postID)
		if err != nil {
			return Permanent(err)
		}
		if post.StatusFor(def.Stage) == content.StatusComplete {
			continue
		}

		decision, gerr := CheckGate(post, def.Stage, r.log)
		if gerr != nil {
			return Permanent(gerr)
		}
		if decision != Proceed {
			if err := r.pauseForGate(ctx, post, def.Stage, decision); err != nil {
				return Permanent(err)
			}
			return nil
		}

		if err := r.runStage(ctx, post, def, attempt, maxAttempts); err != nil {
			return err
		}
	}

	return r.runCompletionHook(ctx, postID)
}

// RunStage executes the single-stage entry mode (§4.H mode 2): skip gate
// checks entirely, execute exactly the named stage.
func (r *Runner) RunStage(ctx context.Context, postID uuid.UUID, stage string, attempt, maxAttempts int) error {
	def, err := LookupStage(stage)
	if err != nil {
		return Permanent(err)
	}
	post, err := r.posts.Get(ctx, postID)
	if err != nil {
		return Permanent(err)
	}
	return r.runStage(ctx, post, def, attempt, maxAttempts)
}

func (r *Runner) pauseForGate(ctx context.Context, post *content.Post, stage content.Stage, decision GateDecision) error {
	statuses := post.StageStatusMap()
	statuses[string(stage)] = string(content.StatusReview)
	post.SetStageStatusMap(statuses)
	post.CurrentStage = string(stage)
	post.AppendExecutionLog(content.ExecutionLogEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Stage:     string(stage),
		Level:     "info",
		Event:     eventbus.EventStageReview,
		Message:   fmt.Sprintf("stage %s awaiting %s", stage, gateLabel(decision)),
	})
	if err := r.posts.Save(ctx, post); err != nil {
		return err
	}
	r.emit(ctx, post.ID.String(), eventbus.EventStageReview, map[string]any{"stage": string(stage)})
	return nil
}

func gateLabel(decision GateDecision) string {
	if decision == PauseForApproval {
		return "approval"
	}
	return "review"
}

// runStage executes one stage iteration of the §4.H per-iteration
// protocol, including the retry/dead-letter policy.
func (r *Runner) runStage(ctx context.Context, post *content.Post, def StageDef, attempt, maxAttempts int) error {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	postID := post.ID.String()

	post.CurrentStage = string(def.Stage)
	statuses := post.StageStatusMap()
	statuses[string(def.Stage)] = string(content.StatusRunning)
	post.SetStageStatusMap(statuses)
	if err := r.posts.Save(ctx, post); err != nil {
		return Permanent(err)
	}
	r.emit(ctx, postID, eventbus.EventStageStart, map[string]any{"stage": string(def.Stage)})

	links, err := r.linkRefs(ctx, post)
	if err != nil {
		r.log.Warn("link catalog read failed, proceeding without internal links", "post_id", postID, "error", err)
	}
	rulesMeta, rules := r.rules.Load(def)
	snap := Build(post, def.Stage, links, rulesMeta, rules)

	fn, ok := r.stages[def.Stage]
	if !ok {
		return Permanent(fmt.Errorf("pipeline: no stage function registered for %s", def.Stage))
	}

	stageCtx := withEventSink(ctx, r.bus, postID, string(def.Stage))
	result, stageErr := Execute(stageCtx, postID, def, snap, fn)
	if stageErr != nil {
		return r.handleStageError(ctx, post, def, stageErr, attempt, maxAttempts)
	}

	setStageContent(post, def.Stage, result.Output)
	statuses = post.StageStatusMap()
	statuses[string(def.Stage)] = string(content.StatusComplete)
	post.SetStageStatusMap(statuses)

	logs := post.StageLogsMap()
	logs[string(def.Stage)] = result.Meta.toLogEntry(time.Now())
	post.SetStageLogsMap(logs, post.Error())

	post.AppendExecutionLog(content.ExecutionLogEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Stage:     string(def.Stage),
		Level:     "info",
		Event:     eventbus.EventStageComplete,
		Message:   fmt.Sprintf("stage %s complete", def.Stage),
	})

	if err := r.posts.Save(ctx, post); err != nil {
		return Permanent(err)
	}
	r.emit(ctx, postID, eventbus.EventStageComplete, map[string]any{"stage": string(def.Stage), "cost_usd": result.Meta.CostUSD})
	return nil
}

// handleStageError implements §4.H "Retry & dead-letter".
func (r *Runner) handleStageError(ctx context.Context, post *content.Post, def StageDef, stageErr error, attempt, maxAttempts int) error {
	postID := post.ID.String()
	r.emit(ctx, postID, eventbus.EventStageError, map[string]any{"stage": string(def.Stage), "error": stageErr.Error()})

	// An explicit permanent StageError is dead-lettered at once; any other
	// error is retried while attempts remain.
	var se *StageError
	permanent := errors.As(stageErr, &se) && !se.Transient
	if attempt < maxAttempts && !permanent {
		post.AppendExecutionLog(content.ExecutionLogEntry{
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Stage:     string(def.Stage),
			Level:     "warning",
			Event:     "retry",
			Message:   fmt.Sprintf("attempt %d failed: %s", attempt, stageErr.Error()),
			Data:      map[string]any{"attempt": attempt},
		})
		if err := r.posts.Save(ctx, post); err != nil {
			r.log.Error("failed to persist retry log", "post_id", postID, "error", err)
		}
		return stageErr
	}

	now := time.Now()
	post.AppendExecutionLog(content.ExecutionLogEntry{
		Timestamp: now.UTC().Format(time.RFC3339),
		Stage:     string(def.Stage),
		Level:     "error",
		Event:     eventbus.EventStageError,
		Message:   fmt.Sprintf("stage %s exhausted %d attempts, moved to dead-letter queue", def.Stage, attempt),
		Data:      map[string]any{"attempt": attempt},
	})
	post.CurrentStage = content.StateFailed
	logs := post.StageLogsMap()
	post.SetStageLogsMap(logs, &content.ErrorRecord{
		Stage:    string(def.Stage),
		Message:  stageErr.Error(),
		Attempts: attempt,
		FailedAt: now.UTC().Format(time.RFC3339),
	})
	if err := r.posts.Save(ctx, post); err != nil {
		r.log.Error("failed to persist failed post", "post_id", postID, "error", err)
	}

	if r.dlq != nil {
		entry := deadletter.NewEntry(postID, string(def.Stage), stageErr.Error(), attempt, now)
		if err := r.dlq.Push(ctx, entry); err != nil {
			r.log.Error("dead-letter push failed", "post_id", postID, "error", err)
		}
	}
	return nil
}

// runCompletionHook implements §4.H's post-loop completion hook: derive
// the post's canonical URL and, unless it already exists in the Link
// Catalog, add a generated Link.
func (r *Runner) runCompletionHook(ctx context.Context, postID uuid.UUID) error {
	post, err := r.posts.Get(ctx, postID)
	if err != nil {
		return Permanent(err)
	}
	if post.CurrentStage == content.StateComplete {
		return nil
	}

	if post.ProfileID != nil && post.Slug != "" {
		if err := r.addGeneratedLink(ctx, post); err != nil {
			// Link generation is best-effort: a catalog write failure
			// must not block the post from completing.
			r.log.Warn("generated link write failed", "post_id", postID.String(), "error", err)
		}
	}

	post.CurrentStage = content.StateComplete
	now := time.Now()
	post.CompletedAt = &now
	if err := r.posts.Save(ctx, post); err != nil {
		return Permanent(err)
	}
	r.emit(ctx, postID.String(), eventbus.EventPipelineComplete, nil)
	return nil
}

func (r *Runner) addGeneratedLink(ctx context.Context, post *content.Post) error {
	profile, err := r.profiles.Get(ctx, *post.ProfileID)
	if err != nil {
		return err
	}
	url := CanonicalURL(profile.WebsiteURL, post.Slug)

	exists, err := r.links.ExistsByURL(ctx, *post.ProfileID, url)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return r.links.Create(ctx, &content.Link{
		ProfileID: *post.ProfileID,
		URL:       url,
		Slug:      post.Slug,
		Source:    string(content.LinkSourceGenerated),
		PostID:    &post.ID,
	})
}

func (r *Runner) linkRefs(ctx context.Context, post *content.Post) ([]LinkRef, error) {
	if post.ProfileID == nil {
		return nil, nil
	}
	links, err := r.links.ListByProfile(ctx, *post.ProfileID, "")
	if err != nil {
		return nil, err
	}
	refs := make([]LinkRef, 0, len(links))
	for _, l := range links {
		refs = append(refs, LinkRef{URL: l.URL, Title: l.Title, Slug: l.Slug, Source: l.Source, Keywords: decodeStringSlice(l.Keywords)})
	}
	return refs, nil
}

// CanonicalURL derives a post's canonical URL (§4.H completion hook).
func CanonicalURL(websiteURL, slug string) string {
	return strings.TrimRight(websiteURL, "/") + "/" + slug + "/"
}
