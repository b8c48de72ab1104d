// Package bootstrap wires the warden components together and owns their
// lifecycle: construction order, startup, SIGHUP catalog reload, and
// deterministic teardown.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"warden/api"
	"warden/catalog"
	"warden/config"
	"warden/core"
	"warden/detect"
	"warden/notify"
	"warden/pipeline"
	"warden/prevent"

	"go.uber.org/zap"
)

// App holds all running components.
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	sugar  *zap.SugaredLogger

	loader    *catalog.Loader
	holder    *catalog.Holder
	store     *detect.Store
	combiner  *detect.Combiner
	sink      notify.Sink
	blockSet  *prevent.BlockSet
	throttler *prevent.Throttler
	processor *pipeline.Processor
	pool      *core.WorkerPool
	statusAPI *api.StatusServer

	rootCtx    context.Context
	rootCancel context.CancelFunc
	signals    chan os.Signal
}

// catalogPatterns adapts the holder to the pattern matcher.
type catalogPatterns struct{ holder *catalog.Holder }

func (c catalogPatterns) Patterns() []core.Pattern {
	return c.holder.Current().Patterns
}

// catalogRules adapts the holder to the mitigation engine.
type catalogRules struct{ holder *catalog.Holder }

func (c catalogRules) Rules() []*core.MitigationRule {
	return c.holder.Current().EnabledRules()
}

// NewApp constructs all components in dependency order, leaves first.
func NewApp(ctx context.Context) (*App, error) {
	logger, sugar, err := InitLogger()
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}

	cfg, err := InitConfig(sugar)
	if err != nil {
		return nil, err
	}

	loader := catalog.NewLoader(cfg.Catalog.PatternsFile, cfg.Catalog.RulesFile, cfg.Engine.RegexTimeout, sugar)
	initial, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("loading catalog: %w", err)
	}
	holder := catalog.NewHolder(initial)

	store := detect.NewStore(cfg.Store.Shards, cfg.Store.RetentionTTL, cfg.Store.SweepInterval, sugar)

	sink, err := buildSink(cfg, sugar)
	if err != nil {
		return nil, err
	}

	matcher := detect.NewPatternMatcher(catalogPatterns{holder}, sugar)
	scorers := detect.NewScorerRegistry()
	scorers.Register(core.CategoryWildcard, detect.NewVelocityScorer(store, 5*time.Minute, 10, sugar))
	scorers.Register(core.CategoryLogin, detect.NewOffHoursScorer())

	combiner := detect.NewCombiner(matcher, scorers, store, sink, cfg.Engine.AnalysisTimeout, sugar)

	blockSet := prevent.NewBlockSet()
	throttler := prevent.NewThrottler(cfg.Throttle.MaxEntries, cfg.Throttle.TTL, cfg.Throttle.RatePerSecond, cfg.Throttle.Burst)
	sessions := prevent.NewLoggingSessionManager(sugar)
	engine := prevent.NewEngine(catalogRules{holder}, store, sugar)
	dispatcher := prevent.NewDispatcher(blockSet, throttler, sink, sessions, store, sugar)

	rootCtx, rootCancel := context.WithCancel(ctx)
	pool := core.NewWorkerPool(rootCtx, cfg.Engine.Workers, cfg.Engine.QueueSize, "event-submissions", sugar)

	normalizer := detect.NewNormalizer()
	processor := pipeline.NewProcessor(normalizer, combiner, engine, dispatcher, pool, sugar)

	app := &App{
		cfg:        cfg,
		logger:     logger,
		sugar:      sugar,
		loader:     loader,
		holder:     holder,
		store:      store,
		combiner:   combiner,
		sink:       sink,
		blockSet:   blockSet,
		throttler:  throttler,
		processor:  processor,
		pool:       pool,
		rootCtx:    rootCtx,
		rootCancel: rootCancel,
		signals:    make(chan os.Signal, 1),
	}
	app.statusAPI = api.NewStatusServer(cfg.API.Host, cfg.API.Port, app, sugar)
	return app, nil
}

func buildSink(cfg *config.Config, sugar *zap.SugaredLogger) (notify.Sink, error) {
	if cfg.Sink.Type != "webhook" {
		return notify.NewLogSink(sugar), nil
	}
	return notify.NewWebhookSink(notify.WebhookSinkConfig{
		URL:        cfg.Sink.URL,
		Encoding:   notify.Encoding(cfg.Sink.Encoding),
		BufferSize: cfg.Sink.BufferSize,
		Timeout:    cfg.Sink.Timeout,
		Breaker: core.CircuitBreakerConfig{
			MaxFailures:         uint32(cfg.Sink.CircuitBreaker.MaxFailures),
			Timeout:             cfg.Sink.CircuitBreaker.Timeout,
			MaxHalfOpenRequests: uint32(cfg.Sink.CircuitBreaker.MaxHalfOpenRequests),
		},
	}, sugar)
}

// Processor exposes the submission entry point.
func (a *App) Processor() *pipeline.Processor {
	return a.processor
}

// Snapshot implements api.SnapshotProvider.
func (a *App) Snapshot() api.StatusSnapshot {
	stats := a.processor.Stats()
	cat := a.holder.Current()

	snap := api.StatusSnapshot{
		TotalDetections:  stats.TotalDetections,
		StoredDetections: a.store.Size(),
		ActiveRules:      len(cat.EnabledRules()),
		ActivePatterns:   len(cat.Patterns),
		BlockSetSize:     a.blockSet.Size(),
		ThrottledTargets: a.throttler.Size(),
		AvgDecisionMs:    float64(stats.AvgLatency.Microseconds()) / 1000.0,
		CatalogLoadedAt:  cat.LoadedAt.Format(time.RFC3339),
	}
	if scorer := a.combiner.Stats(); scorer.Calls > 0 {
		snap.ScorerTimeoutPct = 100.0 * float64(scorer.Timeouts) / float64(scorer.Calls)
	}
	return snap
}

// Start launches background components: retention sweep, worker pool, status
// server.
func (a *App) Start(ctx context.Context) error {
	a.store.StartSweep(a.rootCtx)
	a.pool.Start()
	a.statusAPI.Start()
	a.sugar.Info("Warden engine started")
	return nil
}

// WaitForShutdown blocks until SIGINT/SIGTERM, reloading the catalog on SIGHUP.
func (a *App) WaitForShutdown() {
	signal.Notify(a.signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for sig := range a.signals {
		if sig == syscall.SIGHUP {
			a.ReloadCatalog()
			continue
		}
		a.sugar.Infow("Shutdown signal received", "signal", sig)
		return
	}
}

// ReloadCatalog reloads the pattern and rule files and swaps them in
// atomically. On failure the previous catalog stays active.
func (a *App) ReloadCatalog() {
	fresh, err := a.loader.Load()
	if err != nil {
		a.sugar.Errorw("Catalog reload failed, keeping previous catalog", "error", err)
		return
	}
	a.holder.Swap(fresh)
	a.sugar.Infow("Catalog reloaded",
		"patterns", len(fresh.Patterns),
		"rules", len(fresh.Rules))
}

// Shutdown tears the application down in reverse construction order.
func (a *App) Shutdown() {
	a.sugar.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := a.statusAPI.Shutdown(shutdownCtx); err != nil {
		a.sugar.Warnw("Status server shutdown failed", "error", err)
	}

	a.pool.Stop()
	a.rootCancel()
	a.store.Close()
	a.sink.Close()

	a.sugar.Info("Shutdown complete")
	_ = a.logger.Sync()
}
