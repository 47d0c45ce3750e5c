package cmd

import (
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bargom/errledger/internal/config"
	"github.com/bargom/errledger/internal/queue"
	"github.com/bargom/errledger/internal/workflow/gate"
)

func newWorkerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Apply queued events and run resolution gates",
		Long: `Consume event tasks from the Asynq queues and apply them to the error
store. When Temporal is enabled the worker also serves the resolution
gate workflow and its activity.`,
		Args: cobra.NoArgs,
		RunE: runWorker,
	}
	addStoreFlags(cmd)
	return cmd
}

func runWorker(cmd *cobra.Command, args []string) error {
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

	if a.cfg.Store.Backend != config.BackendMongo {
		return errors.New("worker needs a shared store; use --store mongo")
	}

	ingestor := a.ingestor()
	w, err := queue.NewWorker(a.cfg.Queue, queue.NewHandler(ingestor, a.logger))
	if err != nil {
		return err
	}

	if a.engine != nil {
		gate.Register(a.engine, gate.NewActivities(ingestor, a.logger))
		if err := a.engine.Start(ctx); err != nil {
			return err
		}
	} else {
		printVerbose(cmd, "temporal disabled; resolution gates are not served\n")
	}

	return w.Run(ctx)
}
