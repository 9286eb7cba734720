package crawl

import (
	"context"
	"time"

	"github.com/upnorthmedia/content-pipeline/internal/jobqueue"
	"github.com/upnorthmedia/content-pipeline/internal/pkg/logger"
	"github.com/upnorthmedia/content-pipeline/internal/store"
)

// Scheduler runs the daily recrawl tick (§4.J): select profiles whose
// recrawl cadence has elapsed and enqueue a crawl job for each.
type Scheduler struct {
	profiles store.ProfileStore
	queue    jobqueue.Client
	log      *logger.Logger
}

func NewScheduler(profiles store.ProfileStore, queue jobqueue.Client, log *logger.Logger) *Scheduler {
	return &Scheduler{profiles: profiles, queue: queue, log: log.With("component", "CrawlScheduler")}
}

// Tick enqueues a crawl for every profile whose RecrawlDue(now) is true.
// There is no backpressure — the job queue handles concurrency (§4.J).
func (s *Scheduler) Tick(ctx context.Context, now time.Time) (enqueued int, err error) {
	candidates, err := s.profiles.ListRecrawlCandidates(ctx)
	if err != nil {
		return 0, err
	}
	for _, profile := range candidates {
		if !profile.RecrawlDue(now) {
			continue
		}
		_, err := s.queue.Enqueue(ctx, jobqueue.JobCrawlProfileSitemap, jobqueue.CrawlPayload{ProfileID: profile.ID.String()})
		if err != nil {
			s.log.Error("failed to enqueue recrawl", "profile_id", profile.ID.String(), "error", err)
			continue
		}
		enqueued++
	}
	return enqueued, nil
}
