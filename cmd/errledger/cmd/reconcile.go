package cmd

import (
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bargom/errledger/internal/config"
)

func newReconcileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Consume the change feed and reconcile counters",
		Long: `Consume link removals from the MongoDB change stream, decrement the
execution and error code counters they contributed to and resume paused
executions whose open error count reaches zero.

The resume token is checkpointed in Redis after every handled batch, so a
restarted consumer continues where the previous one stopped.`,
		Args: cobra.NoArgs,
		RunE: runReconcile,
	}
	addStoreFlags(cmd)
	return cmd
}

func runReconcile(cmd *cobra.Command, args []string) error {
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
		return errors.New("reconcile needs the mongo change stream; the memory feed runs inside serve")
	}

	runner, err := a.runner()
	if err != nil {
		return err
	}
	if err := runner.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
