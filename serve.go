package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/lakegate/lakegate/internal/actions"
	"github.com/lakegate/lakegate/internal/buffer"
	"github.com/lakegate/lakegate/internal/catalog"
	"github.com/lakegate/lakegate/internal/compact"
	"github.com/lakegate/lakegate/internal/config"
	"github.com/lakegate/lakegate/internal/dbadapter"
	"github.com/lakegate/lakegate/internal/flush"
	"github.com/lakegate/lakegate/internal/flushqueue"
	"github.com/lakegate/lakegate/internal/gateway"
	"github.com/lakegate/lakegate/internal/metrics"
	"github.com/lakegate/lakegate/internal/objstore"
	"github.com/lakegate/lakegate/internal/schema"
	"github.com/lakegate/lakegate/internal/server"
	"github.com/lakegate/lakegate/internal/syncrules"
	"github.com/lakegate/lakegate/pkg/hlc"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway: HTTP server, flush loop, and maintenance scheduler",
		Long: `Start a gateway instance. Serves push/pull/stream over HTTP, flushes
the delta buffer to the configured object store, and (when enabled)
runs periodic compaction, checkpointing, and orphan sweeps.`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()
	slog.SetDefault(logger)

	ctx := shutdownContext(cmd.Context(), logger)

	deps, err := buildDeps(ctx, resolvedCfg, logger)
	if err != nil {
		return err
	}
	defer deps.close(logger)

	// One serving gateway per data directory.
	cleanup, err := writePIDFile(pidFilePath(resolvedCfg))
	if err != nil {
		return err
	}
	defer cleanup()

	logger.Info("lakegate starting",
		slog.String("version", version),
		slog.String("gateway_id", deps.gatewayID),
		slog.String("config", resolvedCfgPath),
		slog.String("storage", resolvedCfg.Storage.Driver),
		slog.String("addr", resolvedCfg.Server.Addr))

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return deps.server.Run(ctx) })
	g.Go(func() error { return deps.gateway.Run(ctx) })

	if deps.scheduler != nil {
		if err := deps.scheduler.Start(); err != nil && !errors.Is(err, compact.ErrSchedulerDisabled) {
			return fmt.Errorf("starting scheduler: %w", err)
		}
		g.Go(func() error {
			<-ctx.Done()
			deps.scheduler.Stop()
			return nil
		})
	}

	if deps.rules != nil && resolvedCfg.Gateway.WatchRules {
		g.Go(func() error { return deps.rules.Watch(ctx, resolvedCfg.Gateway.RulesPath) })
	}

	if deps.consumer != nil {
		g.Go(func() error {
			err := deps.consumer.Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	err = g.Wait()
	logger.Info("lakegate stopped")

	return err
}

// serveDeps holds everything runServe wires together, so shutdown can
// close owned resources in one place.
type serveDeps struct {
	gatewayID string
	gateway   *gateway.Gateway
	server    *server.Server
	scheduler *compact.Scheduler
	rules     *syncrules.Store
	consumer  *flushqueue.Consumer

	sources  *dbadapter.Registry
	badgerQ  *flushqueue.Badger
	actCache actions.Cache
}

func (d *serveDeps) close(logger *slog.Logger) {
	if d.badgerQ != nil {
		if err := d.badgerQ.Close(); err != nil {
			logger.Warn("closing flush queue", slog.String("error", err.Error()))
		}
	}
	if d.sources != nil {
		if err := d.sources.CloseAll(); err != nil {
			logger.Warn("closing source adapters", slog.String("error", err.Error()))
		}
	}
	if c, ok := d.actCache.(interface{ Close() error }); ok && c != nil {
		if err := c.Close(); err != nil {
			logger.Warn("closing action cache", slog.String("error", err.Error()))
		}
	}
}

// buildDeps turns the validated config tree into wired components.
// Sizes and durations were proven well formed by config validation,
// so parse failures here are programming errors and still propagate.
func buildDeps(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*serveDeps, error) {
	deps := &serveDeps{gatewayID: gatewayID(cfg)}

	store, err := objstore.New(ctx, objstore.Config{
		Driver:          cfg.Storage.Driver,
		Root:            cfg.Storage.FSRoot,
		Bucket:          cfg.Storage.Bucket,
		CredentialsFile: cfg.Storage.CredentialsFile,
	})
	if err != nil {
		return nil, fmt.Errorf("building object store: %w", err)
	}

	var schemas *schema.Manager
	if cfg.Gateway.TableSchema != nil {
		schemas, err = schema.NewManager(*cfg.Gateway.TableSchema)
		if err != nil {
			return nil, fmt.Errorf("building schema manager: %w", err)
		}
	}

	clock := hlc.NewClock(0)
	buf := buffer.New()
	bundle := metrics.NewBundle()

	deps.sources, err = buildSources(cfg, logger)
	if err != nil {
		return nil, err
	}

	queue, err := buildQueue(cfg, store, deps, logger)
	if err != nil {
		return nil, err
	}

	flusher, err := buildFlusher(cfg, deps.gatewayID, buf, store, schemas, queue, logger)
	if err != nil {
		return nil, err
	}

	gwCfg, err := gatewayConfig(cfg, deps.gatewayID)
	if err != nil {
		return nil, err
	}
	gwCfg.Buffer = buf
	gwCfg.Clock = clock
	gwCfg.Schemas = schemas
	gwCfg.Flusher = flusher
	gwCfg.Sources = deps.sources
	gwCfg.Metrics = bundle.Gateway
	gwCfg.FlushMetrics = bundle.Flush
	gwCfg.Logger = logger

	deps.gateway, err = gateway.New(gwCfg)
	if err != nil {
		return nil, fmt.Errorf("building gateway: %w", err)
	}

	if cfg.Gateway.RulesPath != "" {
		rules, err := syncrules.Load(cfg.Gateway.RulesPath)
		if err != nil {
			return nil, fmt.Errorf("loading sync rules: %w", err)
		}
		deps.rules = syncrules.NewStore(rules, logger)
	}

	var dispatcher *actions.Dispatcher
	if cfg.Actions.Enabled {
		dispatcher, err = buildDispatcher(ctx, cfg, clock, deps, bundle, logger)
		if err != nil {
			return nil, err
		}
	}

	generator, err := buildGenerator(cfg, deps.gatewayID, store, bundle, logger)
	if err != nil {
		return nil, err
	}

	deps.scheduler, err = buildScheduler(cfg, store, schemas, generator, bundle, logger)
	if err != nil {
		return nil, err
	}

	deps.server, err = buildServer(cfg, deps, dispatcher, generator, store, bundle, logger)
	if err != nil {
		return nil, err
	}

	return deps, nil
}

func gatewayID(cfg *config.Config) string {
	if cfg.Gateway.ID != "" {
		return cfg.Gateway.ID
	}

	return "gw-" + uuid.NewString()
}

func gatewayConfig(cfg *config.Config, id string) (*gateway.Config, error) {
	maxBytes, err := config.ParseSize(cfg.Buffer.MaxBytes)
	if err != nil {
		return nil, fmt.Errorf("buffer.max_bytes: %w", err)
	}

	maxAge, err := time.ParseDuration(cfg.Buffer.MaxAge)
	if err != nil {
		return nil, fmt.Errorf("buffer.max_age: %w", err)
	}

	backpressure, err := config.ParseSize(cfg.Buffer.BackpressureBytes)
	if err != nil {
		return nil, fmt.Errorf("buffer.backpressure_bytes: %w", err)
	}

	gwCfg := &gateway.Config{
		GatewayID:            id,
		MaxBufferBytes:       int(maxBytes),
		MaxBufferAge:         maxAge,
		MaxBackpressureBytes: int(backpressure),
	}

	if cfg.Buffer.Adaptive.Enabled {
		wide, err := config.ParseSize(cfg.Buffer.Adaptive.WideColumnThreshold)
		if err != nil {
			return nil, fmt.Errorf("buffer.adaptive.wide_column_threshold: %w", err)
		}
		gwCfg.Adaptive = &gateway.AdaptiveConfig{
			WideColumnThreshold: int(wide),
			ReductionFactor:     cfg.Buffer.Adaptive.ReductionFactor,
		}
	}

	return gwCfg, nil
}

func buildSources(cfg *config.Config, logger *slog.Logger) (*dbadapter.Registry, error) {
	registry := dbadapter.NewRegistry()

	for name, src := range cfg.Sources {
		if src.Driver != "sqlite" {
			return nil, fmt.Errorf("sources.%s: unknown driver %q", name, src.Driver)
		}
		adapter, err := dbadapter.NewSQLite(src.Path, logger)
		if err != nil {
			return nil, fmt.Errorf("sources.%s: %w", name, err)
		}
		registry.Register(name, adapter)
	}

	return registry, nil
}

// buildQueue selects the post-flush materialisation path. Every
// registered SQLite source doubles as a materialiser so flushed
// deltas land in its queryable mirror.
func buildQueue(cfg *config.Config, store objstore.Adapter, deps *serveDeps, logger *slog.Logger) (flush.Queue, error) {
	materialisers := sqliteMaterialisers(deps.sources)

	switch cfg.Flush.Queue {
	case "", "none":
		return nil, nil

	case "memory":
		q := flushqueue.NewMemory(logger)
		for _, m := range materialisers {
			q.Register(m)
		}
		return q, nil

	case "objstore":
		return flushqueue.NewObjectStore(store, logger), nil

	case "badger":
		q, err := flushqueue.OpenBadger(cfg.Flush.BadgerDir, logger)
		if err != nil {
			return nil, fmt.Errorf("opening flush queue: %w", err)
		}
		deps.badgerQ = q

		if len(materialisers) == 0 {
			logger.Warn("badger flush queue has no materialisers; jobs will accumulate")
			return q, nil
		}

		poll, err := time.ParseDuration(cfg.Flush.PollInterval)
		if err != nil {
			return nil, fmt.Errorf("flush.poll_interval: %w", err)
		}
		deps.consumer, err = flushqueue.NewConsumer(&flushqueue.ConsumerConfig{
			Queue:         q,
			Materialisers: materialisers,
			Logger:        logger,
			PollInterval:  poll,
			MaxAttempts:   cfg.Flush.MaxAttempts,
		})
		if err != nil {
			return nil, fmt.Errorf("building queue consumer: %w", err)
		}
		return q, nil

	default:
		return nil, fmt.Errorf("flush.queue: unknown backend %q", cfg.Flush.Queue)
	}
}

func sqliteMaterialisers(registry *dbadapter.Registry) []flushqueue.Materialiser {
	var out []flushqueue.Materialiser
	for _, name := range registry.List() {
		adapter, ok := registry.Get(name)
		if !ok {
			continue
		}
		if m, ok := adapter.(flushqueue.Materialiser); ok {
			out = append(out, m)
		}
	}

	return out
}

func buildFlusher(cfg *config.Config, id string, buf *buffer.Buffer, store objstore.Adapter, schemas *schema.Manager, queue flush.Queue, logger *slog.Logger) (*flush.Coordinator, error) {
	flushCfg := &flush.Config{
		GatewayID: id,
		Format:    cfg.Flush.Format,
		KeyPrefix: cfg.Flush.KeyPrefix,
		Buffer:    buf,
		Store:     store,
		Schemas:   schemas,
		Queue:     queue,
		Logger:    logger,
	}

	if cfg.Catalog.Enabled {
		flushCfg.Catalogue = buildCatalogue(cfg, logger)
		flushCfg.Namespace = cfg.Catalog.Namespace
	}

	coordinator, err := flush.NewCoordinator(flushCfg)
	if err != nil {
		return nil, fmt.Errorf("building flush coordinator: %w", err)
	}

	return coordinator, nil
}

func buildCatalogue(cfg *config.Config, logger *slog.Logger) *catalog.Client {
	oauth := cfg.Catalog.OAuth
	if oauth.TokenURL != "" {
		return catalog.NewClientCredentials(cfg.Catalog.URL, oauth.TokenURL, oauth.ClientID, oauth.ClientSecret, logger)
	}

	return catalog.NewClient(cfg.Catalog.URL, nil, nil, logger)
}

func buildDispatcher(ctx context.Context, cfg *config.Config, clock *hlc.Clock, deps *serveDeps, bundle *metrics.Bundle, logger *slog.Logger) (*actions.Dispatcher, error) {
	ttl, err := time.ParseDuration(cfg.Actions.CacheTTL)
	if err != nil {
		return nil, fmt.Errorf("actions.cache_ttl: %w", err)
	}

	cache, err := actions.NewCache(ctx, cfg.Actions.Cache,
		cfg.Actions.Redis.Addr, cfg.Actions.Redis.Password, cfg.Actions.Redis.DB,
		ttl, cfg.Actions.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("building action cache: %w", err)
	}
	deps.actCache = cache

	dispatcher, err := actions.NewDispatcher(&actions.DispatcherConfig{
		Cache:   cache,
		Clock:   clock,
		Metrics: bundle.Actions,
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("building action dispatcher: %w", err)
	}

	return dispatcher, nil
}

// buildGenerator returns nil when checkpointing is off; a nil
// generator makes the runner skip the checkpoint step.
func buildGenerator(cfg *config.Config, id string, store objstore.Adapter, bundle *metrics.Bundle, logger *slog.Logger) (*compact.Generator, error) {
	if !cfg.Checkpoint.Enabled {
		return nil, nil
	}

	chunkBytes, err := config.ParseSize(cfg.Checkpoint.ChunkSize)
	if err != nil {
		return nil, fmt.Errorf("checkpoint.chunk_size: %w", err)
	}

	generator, err := compact.NewGenerator(&compact.GeneratorConfig{
		GatewayID:  id,
		Store:      store,
		ChunkBytes: int(chunkBytes),
		Metrics:    bundle.Checkpoint,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("building checkpoint generator: %w", err)
	}

	return generator, nil
}

// buildScheduler assembles the maintenance side. Compaction needs the
// table schema for base-file column order, so without one the
// scheduler stays off.
func buildScheduler(cfg *config.Config, store objstore.Adapter, schemas *schema.Manager, generator *compact.Generator, bundle *metrics.Bundle, logger *slog.Logger) (*compact.Scheduler, error) {
	if !cfg.Scheduler.Enabled {
		return nil, nil
	}
	if schemas == nil {
		logger.Warn("maintenance scheduler disabled: no table schema configured")
		return nil, nil
	}

	runner, err := buildRunner(cfg, store, schemas, generator, bundle, logger)
	if err != nil {
		return nil, err
	}

	interval, err := time.ParseDuration(cfg.Scheduler.Interval)
	if err != nil {
		return nil, fmt.Errorf("scheduler.interval: %w", err)
	}

	scheduler, err := compact.NewScheduler(&compact.SchedulerConfig{
		Interval: interval,
		Runner:   runner,
		Provider: maintenanceTaskProvider(cfg, store),
		Metrics:  bundle.Scheduler,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("building scheduler: %w", err)
	}

	return scheduler, nil
}

func buildRunner(cfg *config.Config, store objstore.Adapter, schemas *schema.Manager, generator *compact.Generator, bundle *metrics.Bundle, logger *slog.Logger) (*compact.Runner, error) {
	targetSize, err := config.ParseSize(cfg.Compaction.TargetFileSize)
	if err != nil {
		return nil, fmt.Errorf("compaction.target_file_size: %w", err)
	}

	compactor, err := compact.NewCompactor(&compact.Config{
		Store:   store,
		Schemas: schemas,
		Policy: compact.CompactionConfig{
			MinDeltaFiles:       cfg.Compaction.MinDeltaFiles,
			MaxDeltaFiles:       cfg.Compaction.MaxDeltaFiles,
			TargetFileSizeBytes: int(targetSize),
		},
		Metrics: bundle.Compactor,
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("building compactor: %w", err)
	}

	orphanAge, err := time.ParseDuration(cfg.Maintenance.OrphanAge)
	if err != nil {
		return nil, fmt.Errorf("maintenance.orphan_age: %w", err)
	}

	runner, err := compact.NewRunner(&compact.RunnerConfig{
		Compactor: compactor,
		Generator: generator,
		Store:     store,
		Policy: compact.MaintenanceConfig{
			RetainSnapshots: cfg.Maintenance.RetainSnapshots,
			OrphanAge:       orphanAge,
		},
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("building maintenance runner: %w", err)
	}

	return runner, nil
}

// maintenanceTaskProvider lists the flushed delta files each cycle.
// A nil task (no delta files yet) means the tick has nothing to do.
func maintenanceTaskProvider(cfg *config.Config, store objstore.Adapter) compact.TaskProvider {
	return func(ctx context.Context) (*compact.MaintenanceTask, error) {
		objects, err := store.List(ctx, cfg.Compaction.InputPrefix)
		if err != nil {
			return nil, fmt.Errorf("listing %s: %w", cfg.Compaction.InputPrefix, err)
		}
		if len(objects) == 0 {
			return nil, nil
		}

		keys := make([]string, 0, len(objects))
		for _, o := range objects {
			keys = append(keys, o.Key)
		}

		return &compact.MaintenanceTask{
			DeltaFileKeys: keys,
			OutputPrefix:  cfg.Compaction.OutputPrefix,
			StoragePrefix: cfg.Maintenance.SweepPrefix,
		}, nil
	}
}

func buildServer(cfg *config.Config, deps *serveDeps, dispatcher *actions.Dispatcher, generator *compact.Generator, store objstore.Adapter, bundle *metrics.Bundle, logger *slog.Logger) (*server.Server, error) {
	shutdown, err := time.ParseDuration(cfg.Server.ShutdownTimeout)
	if err != nil {
		return nil, fmt.Errorf("server.shutdown_timeout: %w", err)
	}

	srv, err := server.New(&server.Config{
		Addr:            cfg.Server.Addr,
		Gateway:         deps.gateway,
		Rules:           deps.rules,
		Actions:         dispatcher,
		Scheduler:       deps.scheduler,
		Checkpoints:     generator,
		Store:           store,
		Metrics:         bundle,
		ShutdownTimeout: shutdown,
		Logger:          logger,
	})
	if err != nil {
		return nil, fmt.Errorf("building server: %w", err)
	}

	return srv, nil
}

// pidFilePath puts the pidfile beside the fs object tree when the fs
// driver is active, and in the default data directory otherwise.
func pidFilePath(cfg *config.Config) string {
	if cfg.Storage.Driver == "fs" && cfg.Storage.FSRoot != "" {
		return filepath.Join(cfg.Storage.FSRoot, "lakegate.pid")
	}

	return filepath.Join(config.DefaultDataDir(), "lakegate.pid")
}
