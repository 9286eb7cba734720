package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/upnorthmedia/content-pipeline/internal/crawl"
	"github.com/upnorthmedia/content-pipeline/internal/jobqueue"
	"github.com/upnorthmedia/content-pipeline/internal/pipeline"
	"github.com/upnorthmedia/content-pipeline/internal/pkg/logger"
)

// Pool is the worker pool (§5 "Scheduling model"): a fixed number of
// goroutines polling the Job Queue Client and dispatching each claimed
// record to the Pipeline Runner or the Crawl Worker depending on its
// job_type. Adapted from the teacher's internal/jobs/worker.Worker — same
// poll/claim/heartbeat/panic-recovery shape, generalized from the
// teacher's runtime.Registry handler dispatch to a two-case switch on
// jobqueue.Record.JobType, since this engine only ever registers two job
// types (run_pipeline_stage, crawl_profile_sitemap).
type Pool struct {
	queue   jobqueue.Client
	runner  *pipeline.Runner
	crawler *crawl.Worker
	log     *logger.Logger
}

func NewPool(queue jobqueue.Client, runner *pipeline.Runner, crawler *crawl.Worker, log *logger.Logger) *Pool {
	return &Pool{queue: queue, runner: runner, crawler: crawler, log: log.With("component", "WorkerPool")}
}

// Start launches concurrency polling goroutines (§5 "max_jobs, default
// 3" — the caller passes config.Config.MaxJobs).
func (p *Pool) Start(ctx context.Context, concurrency int) {
	if concurrency < 1 {
		concurrency = 1
	}
	p.log.Info("starting worker pool", "concurrency", concurrency)
	for i := 0; i < concurrency; i++ {
		go p.runLoop(ctx, i+1)
	}
}

const (
	claimMaxAttempts  = 3
	claimRetryDelay   = 10 * time.Second
	claimStaleRunning = 30 * time.Minute
	pollInterval      = 1 * time.Second
	heartbeatInterval = 15 * time.Second
	defaultJobTimeout = 3600 * time.Second
)

func (p *Pool) runLoop(ctx context.Context, workerID int) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.log.Info("worker loop stopped", "worker_id", workerID)
			return
		case <-ticker.C:
			job, err := p.queue.ClaimNextRunnable(ctx, claimMaxAttempts, claimRetryDelay, claimStaleRunning)
			if err != nil {
				p.log.Warn("claim failed", "worker_id", workerID, "error", err)
				continue
			}
			if job == nil {
				continue
			}
			p.runJob(ctx, workerID, job)
		}
	}
}

func (p *Pool) runJob(ctx context.Context, workerID int, job *jobqueue.Record) {
	ctx, cancel := context.WithTimeout(ctx, getEnvDuration("JOB_TIMEOUT", defaultJobTimeout))
	defer cancel()

	stopHB := p.startHeartbeat(ctx, job.ID)
	defer stopHB()

	defer func() {
		if r := recover(); r != nil {
			p.log.Error("job handler panic", "worker_id", workerID, "job_id", job.ID, "job_type", job.JobType, "panic", r)
			_ = p.queue.MarkFailed(ctx, job.ID, fmt.Sprintf("panic: %v", r))
		}
	}()

	var runErr error
	switch job.JobType {
	case jobqueue.JobRunPipelineStage:
		runErr = p.runPipelineJob(ctx, job)
	case jobqueue.JobCrawlProfileSitemap:
		runErr = p.runCrawlJob(ctx, job)
	default:
		runErr = fmt.Errorf("worker: no handler registered for job_type %q", job.JobType)
	}

	if runErr != nil {
		p.log.Warn("job failed", "worker_id", workerID, "job_id", job.ID, "job_type", job.JobType, "error", runErr)
		if err := p.queue.MarkFailed(ctx, job.ID, runErr.Error()); err != nil {
			p.log.Error("MarkFailed failed", "job_id", job.ID, "error", err)
		}
		return
	}
	if err := p.queue.MarkSucceeded(ctx, job.ID, map[string]any{}); err != nil {
		p.log.Error("MarkSucceeded failed", "job_id", job.ID, "error", err)
	}
}

func (p *Pool) runPipelineJob(ctx context.Context, job *jobqueue.Record) error {
	var payload jobqueue.StagePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("worker: malformed run_pipeline_stage payload: %w", err)
	}
	postID, err := uuid.Parse(payload.PostID)
	if err != nil {
		return fmt.Errorf("worker: malformed post_id %q: %w", payload.PostID, err)
	}
	if payload.Stage != nil {
		return p.runner.RunStage(ctx, postID, *payload.Stage, job.Attempts, job.MaxAttempts)
	}
	return p.runner.RunFull(ctx, postID, job.Attempts, job.MaxAttempts)
}

func (p *Pool) runCrawlJob(ctx context.Context, job *jobqueue.Record) error {
	var payload jobqueue.CrawlPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("worker: malformed crawl_profile_sitemap payload: %w", err)
	}
	profileID, err := uuid.Parse(payload.ProfileID)
	if err != nil {
		return fmt.Errorf("worker: malformed profile_id %q: %w", payload.ProfileID, err)
	}
	// crawl.Worker.Run never re-raises a crawl failure (§7); any error here
	// is a genuine infrastructure fault (profile lookup, DB write).
	return p.crawler.Run(ctx, profileID)
}

func (p *Pool) startHeartbeat(ctx context.Context, jobID uuid.UUID) func() {
	done := make(chan struct{})
	go func() {
		t := time.NewTicker(heartbeatInterval)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-t.C:
				if err := p.queue.Heartbeat(ctx, jobID); err != nil {
					p.log.Warn("heartbeat failed", "job_id", jobID, "error", err)
				}
			}
		}
	}()
	return func() { close(done) }
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
