// Package app wires the whole process together, the same seam the teacher
// keeps in internal/app: a single App aggregates the DB handle, logger,
// repositories, event bus, job queue, pipeline runner, crawl scheduler and
// worker, the Approval API router, and the worker pool. app.New() builds
// it; app.Start launches the background goroutines a given process
// instance runs, and App.Run serves the HTTP API.
package app

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/upnorthmedia/content-pipeline/internal/api"
	"github.com/upnorthmedia/content-pipeline/internal/config"
	"github.com/upnorthmedia/content-pipeline/internal/crawl"
	"github.com/upnorthmedia/content-pipeline/internal/db"
	"github.com/upnorthmedia/content-pipeline/internal/deadletter"
	"github.com/upnorthmedia/content-pipeline/internal/eventbus"
	"github.com/upnorthmedia/content-pipeline/internal/jobqueue"
	"github.com/upnorthmedia/content-pipeline/internal/observability"
	"github.com/upnorthmedia/content-pipeline/internal/pipeline"
	"github.com/upnorthmedia/content-pipeline/internal/pkg/logger"
	"github.com/upnorthmedia/content-pipeline/internal/store"
	"github.com/upnorthmedia/content-pipeline/internal/worker"
)

// recrawlTickInterval is the cron cadence for the recrawl scheduler
// (§6 "one cron: daily at 00:00 UTC").
const recrawlTickInterval = 24 * time.Hour

type App struct {
	Log     *logger.Logger
	DB      *gorm.DB
	Cfg     config.Config
	Handler *api.Handler

	bus       eventbus.Bus
	queue     jobqueue.Client
	dlq       *deadletter.Queue
	runner    *pipeline.Runner
	pool      *worker.Pool
	scheduler *crawl.Scheduler

	httpEngine httpEngine
	cancel     context.CancelFunc
	otelShut   func(context.Context) error
}

// httpEngine is the subset of *gin.Engine App.Run needs.
type httpEngine interface {
	Run(addr ...string) error
}

func New() (*App, error) {
	log, err := logger.New("development")
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	cfg := config.Load(log)

	gdb, err := db.Open(cfg.PostgresDSN, log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	if err := db.AutoMigrate(gdb); err != nil {
		log.Sync()
		return nil, fmt.Errorf("automigrate: %w", err)
	}

	bus, err := eventbus.NewRedisBus(log, cfg.RedisAddr)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init event bus: %w", err)
	}
	dlq, err := deadletter.New(bus)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init dead letter queue: %w", err)
	}

	posts := store.NewPostStore(gdb)
	links := store.NewLinkStore(gdb)
	profiles := store.NewProfileStore(gdb)
	queue := jobqueue.New(gdb, log)

	stages := pipeline.DefaultStageFuncs()
	rules := pipeline.NewRulesLoader(cfg.RulesDir)
	runner := pipeline.NewRunner(posts, links, profiles, bus, dlq, stages, rules, log)

	crawler := crawl.NewWorker(profiles, links, log)
	scheduler := crawl.NewScheduler(profiles, queue, log)

	pool := worker.NewPool(queue, runner, crawler, log)

	handler := api.NewHandler(posts, queue, dlq, log)
	router := api.NewRouter(handler, log, cfg.JWTSecretKey, cfg.AdminTokenHash)

	shutdown := observability.Init(context.Background(), log, observability.Config{
		ServiceName: "content-pipeline",
		Environment: "development",
		Endpoint:    cfg.OTLPEndpoint,
	})

	return &App{
		Log:        log,
		DB:         gdb,
		Cfg:        cfg,
		Handler:    handler,
		bus:        bus,
		queue:      queue,
		dlq:        dlq,
		runner:     runner,
		pool:       pool,
		scheduler:  scheduler,
		httpEngine: router,
		otelShut:   shutdown,
	}, nil
}

// Start launches the worker pool and the crawl scheduler's recrawl tick
// when runWorker is set (§4.J). runServer is not acted on here: the HTTP
// server is started by Run(addr), so one binary can serve, work, or both.
func (a *App) Start(runServer, runWorker bool) {
	if a == nil || a.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	if runWorker {
		a.pool.Start(ctx, a.Cfg.MaxJobs)
		go a.runRecrawlLoop(ctx)
	}
	_ = runServer // server start itself is driven by Run(addr), not Start
}

// runRecrawlLoop waits for the next UTC midnight, then ticks every 24h
// (§6 "one cron: daily at 00:00 UTC -> check_recrawl_schedules").
func (a *App) runRecrawlLoop(ctx context.Context) {
	now := time.Now().UTC()
	nextMidnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
	timer := time.NewTimer(nextMidnight.Sub(now))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case fired := <-timer.C:
			a.tickRecrawl(ctx, fired)
			timer.Reset(recrawlTickInterval)
		}
	}
}

func (a *App) tickRecrawl(ctx context.Context, now time.Time) {
	enqueued, err := a.scheduler.Tick(ctx, now)
	if err != nil {
		a.Log.Error("recrawl tick failed", "error", err)
		return
	}
	if enqueued > 0 {
		a.Log.Info("recrawl tick enqueued crawls", "count", enqueued)
	}
}

// Run starts the HTTP server; blocks until it exits.
func (a *App) Run(addr string) error {
	if a == nil || a.httpEngine == nil {
		return fmt.Errorf("app not initialized")
	}
	return a.httpEngine.Run(addr)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.otelShut != nil {
		_ = a.otelShut(context.Background())
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
