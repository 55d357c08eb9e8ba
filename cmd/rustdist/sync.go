package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/ippclub/rustdist/internal/service"
	"github.com/spf13/cobra"
)

type syncOptions struct {
	*rootOptions
	Number int
	Force  bool
}

func newSyncCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &syncOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one catalog synchronization",
		Long: `Fetch the manifest list, parse every new manifest plus the current
nightly, store them and move the stable/beta/nightly channel flags.

Per-manifest and per-release failures are reported but do not fail the run.

Example:
  rustdist sync --database ./rust_versions.sqlite3 --workers 16
  rustdist sync --number 5 --force-update`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, opts)
		},
	}

	cmd.Flags().IntVar(&opts.Number, "number", 0, "limit the number of new manifests processed (nightly not counted)")
	cmd.Flags().BoolVar(&opts.Force, "force-update", false, "re-parse every tracked manifest and replace stored releases")

	return cmd
}

func runSync(cmd *cobra.Command, opts *syncOptions) error {
	a, err := setup(opts.rootOptions)
	if err != nil {
		return err
	}
	defer a.close()

	limit := a.cfg.Sync.Limit
	if cmd.Flags().Changed("number") {
		limit = opts.Number
	}
	force := a.cfg.Sync.Force || opts.Force

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report, err := a.syncService(limit, force).Run(ctx)
	if err != nil {
		return err
	}
	printReport(cmd, report)
	return nil
}

func printReport(cmd *cobra.Command, r *service.Report) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run %s\n", r.RunID)
	fmt.Fprintf(out, "  planned:  %d\n", r.Planned)
	fmt.Fprintf(out, "  parsed:   %d\n", r.Parsed)
	fmt.Fprintf(out, "  inserted: %d\n", len(r.Inserted))
	fmt.Fprintf(out, "  failed:   %d\n", r.Failed())
	for _, f := range r.ParseFailures {
		fmt.Fprintf(out, "    parse  %s: %v\n", f.Manifest, f)
	}
	for _, f := range r.InsertFailures {
		fmt.Fprintf(out, "    insert %s: %v\n", f.Version, f.Err)
	}
	fmt.Fprintf(out, "  stable:   %s\n", r.Channels.Stable)
	fmt.Fprintf(out, "  beta:     %s\n", r.Channels.Beta)
	fmt.Fprintf(out, "  nightly:  %s\n", r.Channels.Nightly)
}
