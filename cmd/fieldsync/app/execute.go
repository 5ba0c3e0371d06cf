package app

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/agentstation/fieldsync/internal/cmd/output"
)

// Execute runs the CLI with the given arguments.
func (a *App) Execute(ctx context.Context, args []string) error {
	root := a.createRootCommand()
	root.SetArgs(args)
	root.SetOut(a.out)
	return root.ExecuteContext(ctx)
}

func (a *App) createRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:     "fieldsync",
		Short:   "Synchronize spreadsheets, warehouses and SaaS tools into canonical entities",
		Version: a.version,
		Long: `fieldsync reads tabs of external sources through connectors, maps their
columns onto entity fields, and writes the result to a relational store while
recording who owns which field and what changed on each run.`,
		PersistentPreRunE: a.setupCommand,
		SilenceUsage:      true,
		SilenceErrors:     true,
	}

	root.AddGroup(&cobra.Group{ID: "sync", Title: "Sync Commands:"})
	root.AddGroup(&cobra.Group{ID: "inspect", Title: "Inspection Commands:"})
	root.AddGroup(&cobra.Group{ID: "management", Title: "Management Commands:"})

	flags := root.PersistentFlags()
	flags.StringVar(&a.config.ConfigFile, "config", a.config.ConfigFile, "config file (default is ./.fieldsync.yaml or $HOME/.fieldsync.yaml)")
	flags.BoolP("verbose", "v", false, "verbose output (shortcut for --log-level=debug)")
	flags.BoolP("quiet", "q", false, "minimal output (shortcut for --log-level=warn)")
	flags.Bool("no-color", false, "disable colored output")
	flags.StringP("format", "o", "", "output format: table, json, yaml")
	flags.String("log-level", "", "log level: trace, debug, info, warn, error (overrides -v/-q)")

	root.SetVersionTemplate("fieldsync {{.Version}}\n")

	root.AddCommand(
		a.newSyncCommand(),
		a.newSourcesCommand(),
		a.newConnectorsCommand(),
		a.newTabsCommand(),
		a.newPreviewCommand(),
		a.newSearchCommand(),
		a.newFieldsCommand(),
		a.newLineageCommand(),
		a.newMigrateCommand(),
		a.newVersionCommand(),
	)
	return root
}

// setupCommand applies parsed global flags before any command runs.
func (a *App) setupCommand(cmd *cobra.Command, _ []string) error {
	format := mustGetString(cmd, "format")
	if _, err := output.ParseFormat(format); err != nil {
		return err
	}
	a.config.UpdateFromFlags(
		mustGetBool(cmd, "verbose"),
		mustGetBool(cmd, "quiet"),
		mustGetBool(cmd, "no-color"),
		format,
		mustGetString(cmd, "log-level"),
	)

	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.fixedLogger && a.client == nil {
		logger := NewLogger(a.config)
		a.logger = &logger
	}
	return nil
}

// print writes data in the configured output format.
func (a *App) print(cmd *cobra.Command, data any) error {
	format := output.DetectFormat(a.config.Format)
	return output.NewFormatter(format).Format(cmd.OutOrStdout(), data)
}

// ExitOnError prints an error and exits with status 1.
func ExitOnError(err error) {
	if err != nil {
		_, _ = os.Stderr.WriteString("Error: " + err.Error() + "\n")
		os.Exit(1)
	}
}

// mustGetBool retrieves a boolean flag defined in this package.
func mustGetBool(cmd *cobra.Command, name string) bool {
	val, err := cmd.Flags().GetBool(name)
	if err != nil {
		panic("programming error: failed to get flag " + name + ": " + err.Error())
	}
	return val
}

// mustGetString retrieves a string flag defined in this package.
func mustGetString(cmd *cobra.Command, name string) string {
	val, err := cmd.Flags().GetString(name)
	if err != nil {
		panic("programming error: failed to get flag " + name + ": " + err.Error())
	}
	return val
}
