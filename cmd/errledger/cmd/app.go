package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/bargom/errledger/internal/cache"
	"github.com/bargom/errledger/internal/config"
	"github.com/bargom/errledger/internal/database/mongodb"
	"github.com/bargom/errledger/internal/errorstore"
	"github.com/bargom/errledger/internal/errorstore/memstore"
	"github.com/bargom/errledger/internal/errorstore/mongostore"
	"github.com/bargom/errledger/internal/health"
	"github.com/bargom/errledger/internal/health/checks"
	"github.com/bargom/errledger/internal/ingest"
	"github.com/bargom/errledger/internal/reconcile"
	"github.com/bargom/errledger/internal/resume"
	"github.com/bargom/errledger/internal/shutdown"
	"github.com/bargom/errledger/internal/workflow/engine"
	"github.com/bargom/errledger/pkg/integration"
	"github.com/bargom/errledger/pkg/logging"
	"github.com/bargom/errledger/pkg/metrics"
)

// feedFailureThreshold is the number of consecutive feed failures after which
// the change feed check reports degraded.
const feedFailureThreshold = 3

// app holds the collaborators shared by every long-running command.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	metrics  *metrics.Registry
	health   *health.Registry
	shutdown *shutdown.Manager

	kv     cache.Cache
	store  errorstore.Store
	feed   errorstore.ChangeFeed
	mongo  *mongodb.Client
	engine *engine.Engine

	resumer resume.Resumer
}

// newApp loads the configuration and opens the cache, the error store and,
// when enabled, the Temporal engine. Every opened resource is registered with
// the shutdown manager.
func newApp(ctx context.Context, cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Log.Level = "debug"
	}

	logger := logging.New(cfg.Log)
	logger.SetDefault()

	a := &app{
		cfg:    cfg,
		logger: logger.Logger,
		metrics: metrics.NewRegistry(metrics.DefaultConfig().
			WithVersion(Version).
			WithEnvironment(cfg.Metrics.Environment)),
		health:   health.NewRegistry(Version),
		shutdown: shutdown.NewManager(cfg.Shutdown, logger.Logger),
	}

	if err := a.openCache(); err != nil {
		return nil, a.abort(err)
	}
	if err := a.openStore(ctx); err != nil {
		return nil, a.abort(err)
	}
	if cfg.Temporal.Enabled {
		eng, err := engine.NewEngine(cfg.Temporal, a.logger)
		if err != nil {
			return nil, a.abort(err)
		}
		a.engine = eng
		a.shutdown.Register("temporal", shutdown.PriorityFeed, func(context.Context) error {
			if err := eng.Stop(); err != nil && !errors.Is(err, engine.ErrEngineNotStarted) {
				return err
			}
			return nil
		})
	}
	return a, nil
}

// abort releases whatever was opened before err and returns err.
func (a *app) abort(err error) error {
	if serr := a.shutdown.Shutdown(context.Background()); serr != nil {
		a.logger.Error("release resources", "error", serr)
	}
	return err
}

func (a *app) openCache() error {
	kv, err := cache.New(a.cfg.Redis)
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	a.kv = kv
	a.shutdown.Closer("cache", shutdown.PriorityCache, kv.Close)
	if a.cfg.Redis.Type == "redis" {
		a.health.Register(checks.Redis(kv.Health))
	}
	return nil
}

func (a *app) openStore(ctx context.Context) error {
	switch a.cfg.Store.Backend {
	case config.BackendMemory:
		store := memstore.New(a.cfg.Reconcile.MaxBatch)
		a.store = store
		a.feed = store.Feed()
		a.logger.Warn("using in-memory error store; data is lost on exit")
		return nil
	case config.BackendMongo:
		client, err := mongodb.New(ctx, a.cfg.Mongo, a.logger)
		if err != nil {
			return fmt.Errorf("connect mongodb: %w", err)
		}
		a.mongo = client
		a.shutdown.Register("mongodb", shutdown.PriorityStore, client.Close)
		a.health.Register(checks.Mongo(client.Ping))

		coll := client.Collection()
		a.store = mongostore.New(coll,
			mongostore.WithLogger(a.logger),
			mongostore.WithMetrics(a.metrics.DB()))
		a.feed = mongostore.NewFeed(coll, cache.NewCheckpoints(a.kv), mongostore.FeedConfig{
			Name:     a.cfg.Reconcile.Consumer,
			MaxBatch: a.cfg.Reconcile.MaxBatch,
		}, a.logger)
		return nil
	default:
		return fmt.Errorf("unknown store backend %q", a.cfg.Store.Backend)
	}
}

// ingestor builds the event ingestor, claiming event ids in the cache when
// dedup is enabled.
func (a *app) ingestor() *ingest.Ingestor {
	opts := []ingest.Option{
		ingest.WithLogger(a.logger),
		ingest.WithMetrics(a.metrics.Ingest()),
	}
	if a.cfg.Dedup.Enabled {
		opts = append(opts, ingest.WithDeduper(ingest.NewDeduper(a.kv, a.cfg.Dedup.TTL)))
	}
	return ingest.New(a.store, opts...)
}

// resumerFor returns the Temporal resumer when the engine is enabled and a
// log-only resumer otherwise.
func (a *app) resumerFor() (resume.Resumer, error) {
	if a.resumer != nil {
		return a.resumer, nil
	}
	if a.engine == nil {
		a.resumer = resume.NewLogResumer(a.logger)
		return a.resumer, nil
	}
	c, err := a.engine.Dial()
	if err != nil {
		return nil, err
	}
	guard := integration.NewGuard("temporal", a.cfg.Resume.Breaker, a.cfg.Resume.Retry, a.logger)
	a.resumer = resume.NewTemporalResumer(c, a.logger, a.metrics.Integration(), resume.WithGuard(guard))
	return a.resumer, nil
}

// runner builds the change feed runner and registers its health check.
func (a *app) runner() (*reconcile.Runner, error) {
	resumer, err := a.resumerFor()
	if err != nil {
		return nil, err
	}
	eng := reconcile.NewEngine(a.store, resumer, a.cfg.Reconcile.Engine,
		reconcile.WithLogger(a.logger),
		reconcile.WithMetrics(a.metrics.Reconcile()))
	r := reconcile.NewRunner(a.feed, eng, a.cfg.Reconcile.RestartDelay, a.logger)
	a.health.Register(checks.NewFeedChecker(r, feedFailureThreshold))
	return r, nil
}

// close runs the shutdown hooks within the configured timeout.
func (a *app) close() error {
	timeout := a.cfg.Shutdown.Timeout
	if timeout <= 0 {
		timeout = shutdown.DefaultConfig().Timeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return a.shutdown.Shutdown(ctx)
}
