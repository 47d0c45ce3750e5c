package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bargom/errledger/internal/config"
	"github.com/bargom/errledger/internal/errorstore/mongostore"
)

func newIndexesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "indexes",
		Short: "Create the error store indexes",
		Long: `Create the ranking and reverse-lookup indexes of the error store
collection and enable change stream pre-images on it. Safe to run
repeatedly.`,
		Args: cobra.NoArgs,
		RunE: runIndexes,
	}
	addStoreFlags(cmd)
	return cmd
}

func runIndexes(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
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
		return errors.New("indexes apply to the mongo store only")
	}
	coll := a.mongo.Collection()
	if err := mongostore.EnsureSchema(ctx, coll); err != nil {
		return err
	}

	names := make([]string, 0, len(mongostore.Indexes()))
	for _, idx := range mongostore.Indexes() {
		if idx.Options != nil && idx.Options.Name != nil {
			names = append(names, *idx.Options.Name)
		}
	}
	if outputFormat == "json" {
		return writeJSON(cmd, map[string]any{
			"database":   coll.Database().Name(),
			"collection": coll.Name(),
			"indexes":    names,
		})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "ensured %d indexes on %s.%s\n", len(names), coll.Database().Name(), coll.Name())
	for _, name := range names {
		printVerbose(cmd, "  %s\n", name)
	}
	return nil
}
