package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/upnorthmedia/content-pipeline/internal/deadletter"
	"github.com/upnorthmedia/content-pipeline/internal/domain/content"
	"github.com/upnorthmedia/content-pipeline/internal/http/response"
	"github.com/upnorthmedia/content-pipeline/internal/jobqueue"
	"github.com/upnorthmedia/content-pipeline/internal/pipeline"
	"github.com/upnorthmedia/content-pipeline/internal/pkg/logger"
	"github.com/upnorthmedia/content-pipeline/internal/store"
)

// Handler implements the Approval API surface (§4.K): the five pipeline
// control operations (start-pipeline, run-all, rerun-stage, approve,
// pause) plus the queue-status and dead-letter-queue supplementary
// operations, grounded on the original implementation's
// src/api/posts.py and src/api/queue.py. General CRUD over
// Posts/Profiles/Links is explicitly out of scope.
type Handler struct {
	posts store.PostStore
	queue jobqueue.Client
	dlq   *deadletter.Queue
	log   *logger.Logger
}

func NewHandler(posts store.PostStore, queue jobqueue.Client, dlq *deadletter.Queue, log *logger.Logger) *Handler {
	return &Handler{posts: posts, queue: queue, dlq: dlq, log: log.With("component", "ApprovalAPI")}
}

func (h *Handler) postFromParam(c *gin.Context) (*content.Post, bool) {
	postID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_post_id", err)
		return nil, false
	}
	post, err := h.posts.Get(c.Request.Context(), postID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, store.ErrPostNotFound) {
			status = http.StatusNotFound
		}
		response.RespondError(c, status, "post_not_found", err)
		return nil, false
	}
	return post, true
}

// POST /api/posts/:id/start — start-pipeline(post_id): reset current_stage
// to the first stage, mark it running, enqueue a full run (§4.K).
func (h *Handler) StartPipeline(c *gin.Context) {
	post, ok := h.postFromParam(c)
	if !ok {
		return
	}
	first := pipeline.Registry[0].Stage
	statuses := post.StageStatusMap()
	statuses[string(first)] = string(content.StatusRunning)
	post.SetStageStatusMap(statuses)
	post.CurrentStage = string(first)
	if err := h.posts.Save(c.Request.Context(), post); err != nil {
		response.RespondError(c, http.StatusInternalServerError, "save_failed", err)
		return
	}
	if err := h.enqueueFullRun(c, post.ID); err != nil {
		return
	}
	response.RespondOK(c, gin.H{"status": "queued", "stage": string(first), "post_id": post.ID.String()})
}

// POST /api/posts/:id/run-all — run-all(post_id): set every non-complete
// stage's mode to auto, enqueue a full run (§4.K).
func (h *Handler) RunAll(c *gin.Context) {
	post, ok := h.postFromParam(c)
	if !ok {
		return
	}
	settings := post.StageSettingsMap()
	statuses := post.StageStatusMap()
	for _, def := range pipeline.Registry {
		if statuses[string(def.Stage)] != string(content.StatusComplete) {
			settings[string(def.Stage)] = string(content.ModeAuto)
		}
	}
	post.SetStageSettingsMap(settings)
	if err := h.posts.Save(c.Request.Context(), post); err != nil {
		response.RespondError(c, http.StatusInternalServerError, "save_failed", err)
		return
	}
	if err := h.enqueueFullRun(c, post.ID); err != nil {
		return
	}
	response.RespondOK(c, gin.H{"status": "queued", "mode": "run-all", "post_id": post.ID.String()})
}

// POST /api/posts/:id/rerun/:stage — rerun-stage(post_id, stage): mark the
// stage running and enqueue a single-stage run (§4.K).
func (h *Handler) RerunStage(c *gin.Context) {
	post, ok := h.postFromParam(c)
	if !ok {
		return
	}
	stage := c.Param("stage")
	if _, err := pipeline.LookupStage(stage); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_stage", err)
		return
	}
	statuses := post.StageStatusMap()
	statuses[stage] = string(content.StatusRunning)
	post.SetStageStatusMap(statuses)
	post.CurrentStage = stage
	if err := h.posts.Save(c.Request.Context(), post); err != nil {
		response.RespondError(c, http.StatusInternalServerError, "save_failed", err)
		return
	}
	if _, err := h.queue.Enqueue(c.Request.Context(), jobqueue.JobRunPipelineStage, jobqueue.StagePayload{PostID: post.ID.String(), Stage: &stage}); err != nil {
		response.RespondError(c, http.StatusInternalServerError, "enqueue_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"status": "queued", "stage": stage, "post_id": post.ID.String()})
}

type approveRequest struct {
	Content *string `json:"content"`
}

// POST /api/posts/:id/approve — approve(post_id, optional content): apply
// the external approval to the post's current (in-review) stage, per
// §4.G. A new pipeline job is enqueued only if a next stage remains.
func (h *Handler) Approve(c *gin.Context) {
	post, ok := h.postFromParam(c)
	if !ok {
		return
	}
	var req approveRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
			return
		}
	}

	if !content.IsRegistered(post.CurrentStage) {
		response.RespondError(c, http.StatusBadRequest, "no_stage_awaiting_review", errors.New("no stage awaiting review"))
		return
	}

	next, err := pipeline.Approve(post, pipeline.ApprovalInput{Stage: content.Stage(post.CurrentStage), Content: req.Content}, h.log)
	if err != nil {
		status := http.StatusBadRequest
		response.RespondError(c, status, "approve_failed", err)
		return
	}
	if err := h.posts.Save(c.Request.Context(), post); err != nil {
		response.RespondError(c, http.StatusInternalServerError, "save_failed", err)
		return
	}

	if next != "" {
		if err := h.enqueueFullRun(c, post.ID); err != nil {
			return
		}
	}
	response.RespondOK(c, gin.H{"post": post})
}

// POST /api/posts/:id/pause — pause(post_id): set current_stage = paused.
// Takes effect at the next job boundary; an in-flight stage is not
// pre-empted (§4.K "Cancellation").
func (h *Handler) Pause(c *gin.Context) {
	post, ok := h.postFromParam(c)
	if !ok {
		return
	}
	post.CurrentStage = content.StatePaused
	if err := h.posts.Save(c.Request.Context(), post); err != nil {
		response.RespondError(c, http.StatusInternalServerError, "save_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"status": "paused", "post_id": post.ID.String()})
}

func (h *Handler) enqueueFullRun(c *gin.Context, postID uuid.UUID) error {
	if _, err := h.queue.Enqueue(c.Request.Context(), jobqueue.JobRunPipelineStage, jobqueue.StagePayload{PostID: postID.String()}); err != nil {
		response.RespondError(c, http.StatusInternalServerError, "enqueue_failed", err)
		return err
	}
	return nil
}

// GET /api/queue — queue-status: counts of posts by lifecycle bucket
// (running/pending/review/complete/failed/paused), grounded on
// src/api/queue.py's queue_status.
func (h *Handler) QueueStatus(c *gin.Context) {
	counts, err := h.posts.CountByCurrentStage(c.Request.Context())
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "queue_status_failed", err)
		return
	}
	running := 0
	total := 0
	for stage, n := range counts {
		total += n
		if content.IsRegistered(stage) {
			running += n
		}
	}
	review, err := h.posts.CountInReview(c.Request.Context())
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "queue_status_failed", err)
		return
	}
	response.RespondOK(c, gin.H{
		"running":  running,
		"pending":  counts[content.StatePending],
		"review":   review,
		"complete": counts[content.StateComplete],
		"failed":   counts[content.StateFailed],
		"paused":   counts[content.StatePaused],
		"total":    total,
	})
}

// GET /api/queue/dead-letter — list dead-lettered stage failures, newest
// first, at most 100 (the dead-letter queue's default List limit).
func (h *Handler) ListDeadLetter(c *gin.Context) {
	entries, err := h.dlq.List(c.Request.Context(), 0)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "dlq_list_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"entries": entries, "count": len(entries)})
}

// POST /api/queue/dead-letter/:post_id/retry — reset the named post to
// pending, clear its `_error` record, remove it from the dead-letter
// list, and re-enqueue a full run.
func (h *Handler) RetryDeadLetter(c *gin.Context) {
	postID, err := uuid.Parse(c.Param("post_id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_post_id", err)
		return
	}
	post, err := h.posts.Get(c.Request.Context(), postID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, store.ErrPostNotFound) {
			status = http.StatusNotFound
		}
		response.RespondError(c, status, "post_not_found", err)
		return
	}

	entries, err := h.dlq.List(c.Request.Context(), 0)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "dlq_list_failed", err)
		return
	}
	removed := false
	for _, e := range entries {
		if e.PostID == postID.String() {
			if err := h.dlq.Retry(c.Request.Context(), e); err != nil {
				response.RespondError(c, http.StatusInternalServerError, "dlq_retry_failed", err)
				return
			}
			removed = true
		}
	}
	if !removed {
		response.RespondError(c, http.StatusNotFound, "not_in_dead_letter", errors.New("post not found in dead letter queue"))
		return
	}

	post.CurrentStage = content.StatePending
	logs := post.StageLogsMap()
	post.SetStageLogsMap(logs, nil)
	if err := h.posts.Save(c.Request.Context(), post); err != nil {
		response.RespondError(c, http.StatusInternalServerError, "save_failed", err)
		return
	}
	if err := h.enqueueFullRun(c, post.ID); err != nil {
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "retrying", "post_id": postID.String()})
}

// DELETE /api/queue/dead-letter — clear the entire dead-letter queue.
func (h *Handler) ClearDeadLetter(c *gin.Context) {
	count, err := h.dlq.Count(c.Request.Context())
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "dlq_count_failed", err)
		return
	}
	if err := h.dlq.Clear(c.Request.Context()); err != nil {
		response.RespondError(c, http.StatusInternalServerError, "dlq_clear_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"status": "cleared", "count": count})
}
