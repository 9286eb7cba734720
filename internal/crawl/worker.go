package crawl

import (
	"context"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/upnorthmedia/content-pipeline/internal/domain/content"
	"github.com/upnorthmedia/content-pipeline/internal/pkg/logger"
	"github.com/upnorthmedia/content-pipeline/internal/store"
)

// Worker is the Crawl Worker (§4.I): given a profile id, crawls its
// sitemap tree and upserts discovered URLs into the Link Catalog.
type Worker struct {
	profiles store.ProfileStore
	links    store.LinkStore
	fetcher  *Fetcher
	log      *logger.Logger
}

func NewWorker(profiles store.ProfileStore, links store.LinkStore, log *logger.Logger) *Worker {
	return &Worker{
		profiles: profiles,
		links:    links,
		fetcher:  NewFetcher(),
		log:      log.With("component", "CrawlWorker"),
	}
}

// Run executes one crawl for profileID. Failures are logged and recorded
// on the profile as crawl_status=failed — never re-raised, never affect
// Posts (§4.I, §7 "Crawl failure").
func (w *Worker) Run(ctx context.Context, profileID uuid.UUID) error {
	profile, err := w.profiles.Get(ctx, profileID)
	if err != nil {
		return err
	}

	profile.CrawlStatus = string(content.CrawlCrawling)
	if err := w.profiles.Save(ctx, profile); err != nil {
		return err
	}

	entries, crawlErr := w.fetcher.CrawlSitemap(ctx, profile.WebsiteURL)
	if crawlErr != nil {
		w.log.Error("sitemap crawl failed", "profile_id", profileID.String(), "error", crawlErr)
		profile.CrawlStatus = string(content.CrawlFailed)
		return w.profiles.Save(ctx, profile)
	}

	links := make([]content.Link, 0, len(entries))
	for _, e := range entries {
		links = append(links, content.Link{
			ProfileID: profileID,
			URL:       e.URL,
			Slug:      slugFromPathTail(e.URL),
			Source:    string(content.LinkSourceSitemap),
		})
	}
	if err := w.links.UpsertSitemapLinks(ctx, links); err != nil {
		w.log.Error("link catalog upsert failed", "profile_id", profileID.String(), "error", err)
		profile.CrawlStatus = string(content.CrawlFailed)
		return w.profiles.Save(ctx, profile)
	}

	now := time.Now()
	profile.LastCrawledAt = &now
	profile.CrawlStatus = string(content.CrawlComplete)
	return w.profiles.Save(ctx, profile)
}

// slugFromPathTail derives a slug from the last non-empty path segment of
// a URL, e.g. "https://example.com/blog/best-keyboards/" -> "best-keyboards".
func slugFromPathTail(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	trimmed := strings.Trim(parsed.Path, "/")
	if trimmed == "" {
		return ""
	}
	return path.Base(trimmed)
}
