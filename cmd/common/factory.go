// Package common provides shared dependency construction for linkscan
// commands.
package common

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/jonesrussell/linkscan/internal/config"
	"github.com/jonesrussell/linkscan/internal/dispatch"
	"github.com/jonesrussell/linkscan/internal/lock"
	"github.com/jonesrussell/linkscan/internal/logger"
	"github.com/jonesrussell/linkscan/internal/metrics"
	"github.com/jonesrussell/linkscan/internal/notify"
	"github.com/jonesrussell/linkscan/internal/proxy"
	"github.com/jonesrussell/linkscan/internal/queue"
	"github.com/jonesrussell/linkscan/internal/remote"
	"github.com/jonesrussell/linkscan/internal/scan"
	"github.com/jonesrussell/linkscan/internal/storage"
)

// notificationHistoryKey is the persisted history log key.
const notificationHistoryKey = "linkscan:notify:history"

// storePrefix namespaces all option store keys.
const storePrefix = "linkscan"

// Deps bundles the wired components a command needs.
type Deps struct {
	Config *config.Config
	Logger logger.Logger
	Store  storage.OptionStore
	Queue  queue.Driver
	Locks  *lock.Manager
	Runner *scan.Runner

	redisClient *redis.Client
	scheduler   *queue.SchedulerDriver
}

// NewDeps loads configuration and wires the full component graph. The queue
// backend is chosen here, at configuration time.
func NewDeps() (*Deps, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.Logger.Level,
		Development: cfg.Logger.Development,
		OutputPaths: cfg.Logger.OutputPaths,
	})
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	deps := &Deps{Config: cfg, Logger: log}

	var store storage.OptionStore
	var history notify.History

	if cfg.Queue.Driver == config.QueueDriverRedis || cfg.Redis.Address != "" {
		client, redisErr := storage.NewRedisClient(cfg.Redis)
		if redisErr != nil {
			if cfg.Queue.Driver == config.QueueDriverRedis {
				return nil, fmt.Errorf("connect redis: %w", redisErr)
			}
			log.Warn("redis unavailable, using in-memory store", logger.Error(redisErr))
		} else {
			deps.redisClient = client
			store = storage.NewRedisStore(client, storePrefix)
			history = notify.NewRedisHistory(client, notificationHistoryKey, cfg.Notify.HistoryMax)
		}
	}
	if store == nil {
		store = storage.NewMemoryStore()
		history = notify.NewStoreHistory(store, notificationHistoryKey, cfg.Notify.HistoryMax)
	}
	deps.Store = store

	runner := &runnerRef{}

	switch cfg.Queue.Driver {
	case config.QueueDriverRedis:
		deps.Queue = queue.NewRedisDriver(deps.redisClient, queue.RedisDriverConfig{
			ListName: cfg.Queue.ListName,
		}, log)
	default:
		scheduler := queue.NewSchedulerDriver(runner.trigger, log)
		deps.scheduler = scheduler
		deps.Queue = scheduler
	}

	locks := lock.NewManager(cfg.Scan.DatasetType, store, deps.Queue, log)
	deps.Locks = locks

	var pool *proxy.Pool
	if cfg.Proxy.Enabled {
		pool = proxy.NewPool(cfg.ProxyPoolConfig(), store, log)
	}

	recorder := metrics.NewRecorder(prometheus.DefaultRegisterer)
	client := remote.NewClient(cfg.RemoteConfig(), pool, recorder, log)
	dispatcher := dispatch.NewDispatcher(client, log)

	notifier := notify.NewManager(cfg.NotifyManagerConfig(), history, notify.NewLogMailer(log), log)

	provider := scan.NewFileProvider(cfg.Scan.SourcesFile, cfg.Scan.BatchSize)
	dataset := scan.NewJSONLStore(cfg.Scan.ResultsFile, log)

	deps.Runner = scan.NewRunner(scan.Config{
		DatasetType:   cfg.Scan.DatasetType,
		ContentRoot:   cfg.Scan.ContentRoot,
		Settings:      cfg.LockSettings(),
		Mode:          cfg.Scan.Mode,
		RetryStatuses: cfg.Scan.RetryStatuses,
		Recipients:    cfg.Scan.Recipients,
	}, locks, deps.Queue, dispatcher, provider, dataset, store, notifier, log)

	runner.runner = deps.Runner
	runner.hook = cfg.Scan.TriggerHook
	runner.log = log

	return deps, nil
}

// Scheduler returns the scheduler driver when that backend is configured.
func (d *Deps) Scheduler() *queue.SchedulerDriver {
	return d.scheduler
}

// Close releases held connections.
func (d *Deps) Close() {
	if d.scheduler != nil {
		d.scheduler.Stop()
	}
	if d.redisClient != nil {
		d.redisClient.Close()
	}
	_ = d.Logger.Sync()
}

// runnerRef breaks the construction cycle between the scheduler driver and
// the runner it triggers.
type runnerRef struct {
	runner *scan.Runner
	hook   string
	log    logger.Logger
}

func (r *runnerRef) trigger(job queue.Job) {
	if r.runner == nil {
		return
	}
	ctx := context.Background()
	if err := r.runner.Run(ctx, r.hook, job.Batch, job.IsFullScan, job.BypassRestWindow); err != nil {
		r.log.Error("triggered batch failed",
			logger.Int("batch", job.Batch),
			logger.Error(err))
	}
}
