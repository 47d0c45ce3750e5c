package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/bargom/errledger/internal/config"
	"github.com/bargom/errledger/internal/ingest"
	"github.com/bargom/errledger/internal/workflow/engine"
	"github.com/bargom/errledger/internal/workflow/gate"
	"github.com/bargom/errledger/pkg/logging"
	"github.com/bargom/errledger/pkg/metrics"
)

// errTemporalDisabled is returned by commands that need the workflow engine.
var errTemporalDisabled = errors.New("temporal is disabled; set temporal.enabled or ERRLEDGER_TEMPORAL_ENABLED=true")

type gateOptions struct {
	codes  []string
	county string
	status string
	phase  string
	step   string
	wait   time.Duration
	await  bool
}

func newGateCmd() *cobra.Command {
	opts := &gateOptions{}
	cmd := &cobra.Command{
		Use:   "gate <execution-id>",
		Short: "Park an execution stage until its errors are resolved",
		Long: `Start a resolution gate for one stage of an execution. The gate reports
the given error codes together with its task token and stays parked until
the execution's open error count drops to zero or an operator fails it.

Without --await the command prints the workflow id and returns at once.`,
		Args: cobra.ExactArgs(1),
		Example: `  errledger gate exec-42 --code 01012 --code 02007 --step validate
  errledger gate exec-42 --code 01012 --await --output json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGate(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringSliceVar(&opts.codes, "code", nil, "error code raised by the stage (repeatable)")
	cmd.Flags().StringVar(&opts.county, "county", "", "county of the execution")
	cmd.Flags().StringVar(&opts.status, "status", "", "workflow status reported with the errors")
	cmd.Flags().StringVar(&opts.phase, "phase", "", "pipeline phase")
	cmd.Flags().StringVar(&opts.step, "step", "", "pipeline step; one gate per step runs at a time")
	cmd.Flags().DurationVar(&opts.wait, "wait", 0, "how long the stage may stay parked (default temporal.gate_timeout)")
	cmd.Flags().BoolVar(&opts.await, "await", false, "block until the gate finishes")

	return cmd
}

// gateInput builds the gate input for executionID.
func gateInput(executionID string, opts *gateOptions) (gate.Input, error) {
	executionID = strings.TrimSpace(executionID)
	if executionID == "" {
		return gate.Input{}, errors.New("execution id must not be empty")
	}
	in := gate.Input{
		ExecutionID: executionID,
		County:      opts.county,
		Status:      opts.status,
		Phase:       opts.phase,
		Step:        opts.step,
		Wait:        opts.wait,
		Errors:      make([]ingest.ErrorEntry, 0, len(opts.codes)),
	}
	for _, code := range opts.codes {
		code = strings.TrimSpace(code)
		if code == "" {
			return gate.Input{}, errors.New("error codes must not be empty")
		}
		in.Errors = append(in.Errors, ingest.ErrorEntry{Code: code})
	}
	if in.Wait < 0 {
		return gate.Input{}, errors.New("--wait must not be negative")
	}
	return in, nil
}

func runGate(cmd *cobra.Command, executionID string, opts *gateOptions) error {
	in, err := gateInput(executionID, opts)
	if err != nil {
		return err
	}
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	if !cfg.Temporal.Enabled {
		return errTemporalDisabled
	}
	if in.Wait == 0 {
		in.Wait = cfg.Temporal.GateTimeout
	}

	logger := logging.New(cfg.Log)
	eng, err := engine.NewEngine(cfg.Temporal, logger.Logger)
	if err != nil {
		return err
	}
	if _, err := eng.Dial(); err != nil {
		return err
	}
	defer func() { _ = eng.Stop() }()

	ctx := cmd.Context()
	if !opts.await {
		run, err := gate.Start(ctx, eng, in)
		if err != nil {
			return err
		}
		if outputFormat == "json" {
			return writeJSON(cmd, map[string]string{"workflowId": run.GetID(), "runId": run.GetRunID()})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "gate started: workflow %s run %s\n", run.GetID(), run.GetRunID())
		return nil
	}

	reg := metrics.NewRegistry(metrics.DefaultConfig().WithVersion(Version).WithEnvironment(cfg.Metrics.Environment))
	res, err := gate.Await(ctx, eng, in, reg.Workflow())
	if err != nil {
		return fmt.Errorf("gate %s: %w", gate.WorkflowID(in), err)
	}
	if outputFormat == "json" {
		return writeJSON(cmd, res)
	}
	switch {
	case !res.Parked:
		fmt.Fprintf(cmd.OutOrStdout(), "execution %s has no open errors; stage continues\n", res.ExecutionID)
	case res.Resolved:
		fmt.Fprintf(cmd.OutOrStdout(), "execution %s resolved at %s\n", res.ExecutionID, res.ResolvedAt.Format(time.RFC3339))
	default:
		fmt.Fprintf(cmd.OutOrStdout(), "execution %s gate finished unresolved\n", res.ExecutionID)
	}
	return nil
}
