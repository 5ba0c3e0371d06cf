package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentstation/fieldsync"
	"github.com/agentstation/fieldsync/internal/cmd/output"
	"github.com/agentstation/fieldsync/pkg/connectors"
	"github.com/agentstation/fieldsync/pkg/engine"
	"github.com/agentstation/fieldsync/pkg/errors"
	"github.com/agentstation/fieldsync/pkg/models"
)

// syncFlags are shared by sync tab and sync source.
type syncFlags struct {
	dryRun      bool
	limit       int
	force       bool
	credential  string
	triggeredBy string
	showChanges bool
	showIssues  bool
}

func (f *syncFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "compute changes without writing them")
	cmd.Flags().IntVar(&f.limit, "limit", 0, "process at most this many data rows (0 means all)")
	cmd.Flags().BoolVar(&f.force, "force", false, "let reference columns overwrite existing values")
	cmd.Flags().StringVar(&f.credential, "credential", "", "connector credential (default from config or FIELDSYNC_CREDENTIAL_<ID>)")
	cmd.Flags().StringVar(&f.triggeredBy, "triggered-by", "", "recorded on the sync run (default sync.triggered_by)")
	cmd.Flags().BoolVar(&f.showChanges, "show-changes", false, "print the computed change list")
	cmd.Flags().BoolVar(&f.showIssues, "show-issues", false, "print row warnings and errors")
}

func (f *syncFlags) options(a *App) []fieldsync.SyncOption {
	who := f.triggeredBy
	if who == "" {
		who = a.config.Sync.TriggeredBy
	}
	return []fieldsync.SyncOption{
		fieldsync.WithDryRun(f.dryRun),
		fieldsync.WithRowLimit(f.limit),
		fieldsync.WithForce(f.force),
		fieldsync.WithTriggeredBy(who),
		fieldsync.WithChanges(f.showChanges),
	}
}

func (a *App) newSyncCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "sync",
		GroupID: "sync",
		Short:   "Synchronize a tab or a whole data source",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(a.newSyncTabCommand(), a.newSyncSourceCommand())
	return cmd
}

func (a *App) newSyncTabCommand() *cobra.Command {
	flags := &syncFlags{}
	cmd := &cobra.Command{
		Use:   "tab <tab-mapping-id>",
		Short: "Synchronize one tab mapping",
		Example: `  fieldsync sync tab 6f1c... --dry-run --show-changes
  fieldsync sync tab 6f1c... --limit 20 --force`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, err := a.Client(ctx)
			if err != nil {
				return err
			}
			tm, err := client.Store().TabMapping(ctx, args[0])
			if err != nil {
				return wrapLookup("tab mapping", args[0], err)
			}
			cred := connectors.Credential(a.config.Credential(tm.DataSourceID, flags.credential))

			result, err := client.SyncTab(ctx, args[0], cred, flags.options(a)...)
			if result != nil {
				if perr := a.printResults(cmd, flags, []*engine.Result{result}); perr != nil {
					return perr
				}
			}
			return err
		},
	}
	flags.register(cmd)
	return cmd
}

func (a *App) newSyncSourceCommand() *cobra.Command {
	flags := &syncFlags{}
	cmd := &cobra.Command{
		Use:   "source <data-source-id>",
		Short: "Synchronize every active tab of a data source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, err := a.Client(ctx)
			if err != nil {
				return err
			}
			cred := connectors.Credential(a.config.Credential(args[0], flags.credential))

			results, err := client.SyncDataSource(ctx, args[0], cred, flags.options(a)...)
			if err != nil {
				return err
			}
			if err := a.printResults(cmd, flags, results); err != nil {
				return err
			}
			var failed []string
			for _, r := range results {
				if !r.Success {
					failed = append(failed, r.TabMappingID)
				}
			}
			if len(failed) > 0 {
				return fmt.Errorf("%d of %d tabs failed: %v", len(failed), len(results), failed)
			}
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func (a *App) printResults(cmd *cobra.Command, flags *syncFlags, results []*engine.Result) error {
	if output.DetectFormat(a.config.Format) != output.FormatTable {
		return a.print(cmd, results)
	}
	if err := a.print(cmd, output.ResultsTable(results)); err != nil {
		return err
	}
	for _, r := range results {
		if (flags.showChanges || r.DryRun) && len(r.Changes) > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "\nChanges for %s:\n", tabLabel(r))
			if err := a.print(cmd, output.ChangesTable(r.Changes)); err != nil {
				return err
			}
		}
		if flags.showIssues && len(r.Stats.Errors) > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "\nIssues for %s:\n", tabLabel(r))
			if err := a.print(cmd, output.IssuesTable(r.Stats.Errors)); err != nil {
				return err
			}
		} else if n := countSeverity(r.Stats.Errors, models.SeverityError); n > 0 {
			a.logger.Warn().Str("tab", tabLabel(r)).Int("errors", n).Msg("Rows had errors, rerun with --show-issues for details")
		}
	}
	return nil
}

func tabLabel(r *engine.Result) string {
	if r.TabName != "" {
		return r.TabName
	}
	return r.TabMappingID
}

func countSeverity(issues []models.RowError, severity models.Severity) int {
	n := 0
	for _, e := range issues {
		if e.Severity == severity {
			n++
		}
	}
	return n
}

// wrapLookup marks a missing id as a usage problem.
func wrapLookup(kind, id string, err error) error {
	if errors.IsNotFound(err) {
		return fmt.Errorf("%s %q does not exist", kind, id)
	}
	return err
}
