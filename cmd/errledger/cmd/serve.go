package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/bargom/errledger/internal/api"
	"github.com/bargom/errledger/internal/api/handlers"
	"github.com/bargom/errledger/internal/auth"
	"github.com/bargom/errledger/internal/config"
	"github.com/bargom/errledger/internal/health"
	"github.com/bargom/errledger/internal/query"
	"github.com/bargom/errledger/internal/queue"
	"github.com/bargom/errledger/internal/resume"
	"github.com/bargom/errledger/internal/shutdown"
)

// serveReconcile runs the change feed consumer inside the API process.
var serveReconcile bool

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the HTTP API: event intake, ranked queries, operator actions,
health probes and Prometheus metrics.

With --store=memory the change feed lives in this process, so the
reconciliation runner always runs alongside the server.`,
		Args: cobra.NoArgs,
		Example: `  errledger serve
  errledger serve --store memory --addr :9090
  errledger serve --intake queue --redis-url redis://redis:6379/0`,
		RunE: runServe,
	}

	addStoreFlags(cmd)
	cmd.Flags().String("addr", "", "address to listen on (default :8080)")
	cmd.Flags().String("intake", "", "event intake: direct or queue")
	cmd.Flags().BoolVar(&serveReconcile, "reconcile", false, "also run the change feed consumer")

	return cmd
}

// addStoreFlags adds the flags shared by every command that opens the store.
func addStoreFlags(cmd *cobra.Command) {
	cmd.Flags().String("store", "", "error store backend: mongo or memory")
	cmd.Flags().String("mongo-uri", "", "MongoDB connection URI")
	cmd.Flags().String("redis-url", "", "Redis URL for claims and checkpoints")
	cmd.Flags().String("log-level", "", "log level: debug, info, warn, error")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.close(); err != nil {
			a.logger.Error("shutdown", "error", err)
		}
	}()

	ingestor := a.ingestor()
	resumer, err := a.resumerFor()
	if err != nil {
		return err
	}

	submitter, err := a.submitter(ingestor)
	if err != nil {
		return err
	}

	var validator *auth.Validator
	if a.cfg.Auth.Enabled {
		validator, err = auth.NewValidator(a.cfg.Auth, a.logger)
		if err != nil {
			return err
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	if serveReconcile || a.cfg.Store.Backend == config.BackendMemory {
		runner, err := a.runner()
		if err != nil {
			return err
		}
		g.Go(func() error {
			if err := runner.Run(ctx); err != nil && ctx.Err() == nil {
				return fmt.Errorf("reconcile: %w", err)
			}
			return nil
		})
	}

	handler := handlers.NewHandler(
		query.New(a.store, a.logger),
		submitter,
		resume.NewOperator(a.store, resumer, a.logger),
		a.logger,
	)
	routerCfg := api.RouterConfig{
		Handler:        handler,
		Health:         health.NewHandler(a.health),
		Auth:           auth.NewMiddleware(validator),
		Logger:         a.logger,
		RequestTimeout: a.cfg.Server.RequestTimeout,
	}
	if a.cfg.Metrics.Enabled {
		routerCfg.Metrics = a.metrics
	}
	server := api.NewServer(api.NewRouter(routerCfg), a.cfg.Server, a.logger)

	printVerbose(cmd, "listening on %s (store=%s, intake=%s)\n", a.cfg.Server.Addr, a.cfg.Store.Backend, a.cfg.Store.Intake)
	g.Go(func() error {
		return server.Run(ctx)
	})
	return g.Wait()
}

// submitter returns the intake for POST /events.
func (a *app) submitter(applier handlers.Applier) (handlers.Submitter, error) {
	if a.cfg.Store.Intake != config.IntakeQueue {
		return handlers.NewDirectSubmitter(applier), nil
	}
	client, err := queue.NewClient(a.cfg.Queue)
	if err != nil {
		return nil, err
	}
	a.shutdown.Closer("queue-client", shutdown.PriorityIntake, client.Close)
	return handlers.NewQueueSubmitter(queue.NewProducer(client, a.cfg.Queue)), nil
}
