package app

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/agentstation/fieldsync/internal/cmd/output"
	"github.com/agentstation/fieldsync/internal/store/sqlstore"
	"github.com/agentstation/fieldsync/pkg/errors"
	"github.com/agentstation/fieldsync/pkg/fields"
)

func (a *App) newFieldsCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "fields [kind]",
		GroupID: "inspect",
		Short:   "List entity kinds and their fields",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.Client(cmd.Context())
			if err != nil {
				return err
			}
			reg := client.Fields()
			kinds := reg.Kinds()
			if len(args) == 1 {
				kinds = args
			}

			byKind := make(map[string][]fields.Field, len(kinds))
			table := output.Table{Source: byKind}
			for _, kind := range kinds {
				fs, err := reg.Fields(kind)
				if err != nil {
					return err
				}
				t := output.FieldsTable(kind, fs)
				table.Headers = t.Headers
				table.Rows = append(table.Rows, t.Rows...)
				byKind[kind] = fs
			}
			return a.print(cmd, table)
		},
	}
}

func (a *App) newLineageCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "lineage <entity-id>",
		GroupID: "inspect",
		Short:   "Show which source and run last wrote each field of an entity",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, err := a.Client(ctx)
			if err != nil {
				return err
			}
			entries, err := client.Lineage(ctx, args[0])
			if errors.Is(err, errors.ErrNotImplemented) {
				return fmt.Errorf("the store has no lineage table; run `fieldsync migrate` first")
			}
			if err != nil {
				return err
			}
			return a.print(cmd, output.LineageTable(entries))
		},
	}
}

func (a *App) newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "migrate",
		GroupID: "management",
		Short:   "Apply database migrations to the configured store",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg := a.config.Store
			if cfg.Driver == "memory" {
				return fmt.Errorf("the memory store has no schema to migrate")
			}
			st, err := sqlstore.Open(ctx, sqlstore.Config{Driver: cfg.Driver, DSN: cfg.DSN}, sqlstore.WithLogger(a.logger))
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.Migrate(ctx); err != nil {
				return err
			}
			version, dirty, err := st.MigrateVersion(ctx)
			if err != nil {
				return err
			}
			return a.print(cmd, struct {
				Driver  string `json:"driver" yaml:"driver"`
				Version uint   `json:"version" yaml:"version"`
				Dirty   bool   `json:"dirty" yaml:"dirty"`
			}{cfg.Driver, version, dirty})
		},
	}
}

func (a *App) newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "version",
		GroupID: "management",
		Short:   "Show version information",
		Args:    cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "fieldsync version %s\n", a.version)
			fmt.Fprintf(w, "commit: %s\n", a.commit)
			fmt.Fprintf(w, "built: %s\n", a.date)
			fmt.Fprintf(w, "go version: %s\n", runtime.Version())
			fmt.Fprintf(w, "platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}
