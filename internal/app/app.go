// Package app wires configuration, storage, queue, stages and the scheduler
// into one runnable unit shared by the serve and worker commands.
package app

import (
	"context"
	"time"

	"reconpipe/api/routes"
	"reconpipe/internal/analysis"
	"reconpipe/internal/chain"
	"reconpipe/internal/config"
	"reconpipe/internal/dao"
	"reconpipe/internal/database"
	"reconpipe/internal/notification"
	"reconpipe/internal/queue"
	"reconpipe/internal/scheduler"
	"reconpipe/internal/spider"
	"reconpipe/internal/stages"
	"reconpipe/pkg/logger"
	"reconpipe/pkg/runner"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type App struct {
	Config      *config.Config
	DB          *gorm.DB
	Queue       queue.Queue
	Coordinator *chain.Coordinator
	Scheduler   *scheduler.Scheduler
	Notifier    *notification.Client
	TechScanner *analysis.TechScanner
	Log         *logger.Logger
}

func New(cfg *config.Config) (*App, error) {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log := logger.NewLogger(level)

	db, err := database.Init(cfg.Database)
	if err != nil {
		return nil, err
	}

	q, err := queue.New(cfg.Queue)
	if err != nil {
		return nil, err
	}

	notifier, err := notification.NewClient(cfg.Notify.DiscordToken, cfg.Notify.DiscordChannel, log)
	if err != nil {
		return nil, err
	}
	if notifier.Enabled() {
		log.Info("Discord notifications enabled")
	} else {
		log.Info("Discord notifications disabled")
	}

	scans := dao.NewScanDAO(db)
	coordinator := chain.NewCoordinator(q, scans, log, cfg.Queue.Workers, cfg.Tools.StageTimeout)
	coordinator.SetNotifier(notifier)

	var fallback *spider.FallbackClient
	if cfg.Fetch.FallbackURL != "" {
		fallback = spider.NewFallbackClient(cfg.Fetch.FallbackURL, cfg.Fetch.FallbackMaxMS, cfg.Fetch.Timeout)
		healthCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := fallback.Healthy(healthCtx); err != nil {
			log.WithError(err).Warn("Fallback fetch proxy unreachable")
		}
		cancel()
	}
	sp := spider.NewSpider(spider.Config{
		Retries:        cfg.Fetch.Retries,
		RetryBackoff:   cfg.Fetch.RetryBackoff,
		Timeout:        cfg.Fetch.Timeout,
		ShellSizeLimit: cfg.Fetch.ShellSizeLimit,
	}, fallback, log)

	tech := analysis.NewTechScanner(cfg.Analysis.SignatureFile, log)

	deps := &stages.Deps{
		Seeds:       dao.NewSeedDAO(db),
		Subdomains:  dao.NewSubdomainDAO(db),
		IPs:         dao.NewIPDAO(db),
		URLs:        dao.NewURLDAO(db),
		Vulns:       dao.NewVulnDAO(db),
		Runner:      runner.NewExecRunner(),
		Coordinator: coordinator,
		Spider:      sp,
		Analyzer:    analysis.NewAnalyzer(tech, log),
		Notifier:    notifier,
		Tools:       cfg.Tools,
		Classify:    cfg.Classify,
		Log:         log,
	}
	stages.Register(coordinator, deps)

	sched := scheduler.NewScheduler(
		deps.Subdomains, deps.IPs, deps.URLs,
		coordinator, log,
		cfg.Scheduler.Interval, cfg.Scheduler.BatchSize,
	)

	return &App{
		Config:      cfg,
		DB:          db,
		Queue:       q,
		Coordinator: coordinator,
		Scheduler:   sched,
		Notifier:    notifier,
		TechScanner: tech,
		Log:         log,
	}, nil
}

// RunWorkers consumes stage tasks until ctx is cancelled. Signature
// hot-reload runs alongside the workers.
func (a *App) RunWorkers(ctx context.Context) error {
	if a.Config.Analysis.SignatureFile != "" {
		go a.TechScanner.Watch(ctx)
	}
	return a.Coordinator.Run(ctx)
}

// RunScheduler sweeps for pipeline gaps until ctx is cancelled.
func (a *App) RunScheduler(ctx context.Context) {
	a.Scheduler.Run(ctx)
}

// Router builds the HTTP trigger surface.
func (a *App) Router() *gin.Engine {
	return routes.InitRouter(a.DB, a.Coordinator)
}

func (a *App) Close() error {
	if err := a.Queue.Close(); err != nil {
		a.Log.WithError(err).Warn("Queue close failed")
	}
	return a.Notifier.Close()
}
