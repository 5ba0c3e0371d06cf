package app

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/agentstation/fieldsync/internal/cmd/output"
	"github.com/agentstation/fieldsync/pkg/connectors"
	"github.com/agentstation/fieldsync/pkg/constants"
	"github.com/agentstation/fieldsync/pkg/models"
)

func (a *App) newSourcesCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "sources",
		GroupID: "inspect",
		Short:   "List registered data sources and their active tabs",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			client, err := a.Client(ctx)
			if err != nil {
				return err
			}
			sources, err := client.Store().DataSources(ctx)
			if err != nil {
				return err
			}

			table := output.Table{
				Headers: []string{"ID", "Name", "Kind", "Status", "Active Tabs", "Last Synced"},
				Source:  sources,
			}
			for _, ds := range sources {
				tabs, err := client.Store().TabMappings(ctx, ds.ID, models.TabActive)
				if err != nil {
					return err
				}
				names := make([]string, len(tabs))
				for i, t := range tabs {
					names[i] = t.TabName
				}
				synced := "never"
				if ds.LastSyncedAt != nil {
					synced = ds.LastSyncedAt.UTC().Format("2006-01-02 15:04")
				}
				table.Rows = append(table.Rows, []string{ds.ID, ds.Name, ds.Kind, string(ds.Status), strings.Join(names, ", "), synced})
			}
			return a.print(cmd, table)
		},
	}
}

func (a *App) newConnectorsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "connectors",
		GroupID: "inspect",
		Short:   "List connectors and test data source connections",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List registered connector kinds and their capabilities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := a.Client(cmd.Context())
			if err != nil {
				return err
			}
			var infos []output.ConnectorInfo
			for _, c := range client.Connectors().List() {
				infos = append(infos, output.ConnectorInfo{Kind: c.Kind(), Capabilities: c.Capabilities()})
			}
			return a.print(cmd, output.ConnectorsTable(infos))
		},
	})

	var credential string
	test := &cobra.Command{
		Use:   "test <data-source-id>",
		Short: "Check that a data source is reachable",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, err := a.Client(ctx)
			if err != nil {
				return err
			}
			cred := connectors.Credential(a.config.Credential(args[0], credential))
			res, err := client.TestConnection(ctx, args[0], cred)
			if err != nil {
				return wrapLookup("data source", args[0], err)
			}
			if err := a.print(cmd, res); err != nil {
				return err
			}
			if !res.Success {
				return &connectionError{id: args[0], msg: res.Error}
			}
			return nil
		},
	}
	test.Flags().StringVar(&credential, "credential", "", "connector credential")
	cmd.AddCommand(test)
	return cmd
}

type connectionError struct {
	id, msg string
}

func (e *connectionError) Error() string {
	return "connection test for " + e.id + " failed: " + e.msg
}

func (a *App) newTabsCommand() *cobra.Command {
	var credential string
	cmd := &cobra.Command{
		Use:     "tabs <data-source-id>",
		GroupID: "inspect",
		Short:   "List the tabs of a data source",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, err := a.Client(ctx)
			if err != nil {
				return err
			}
			cred := connectors.Credential(a.config.Credential(args[0], credential))
			tabs, err := client.Tabs(ctx, args[0], cred)
			if err != nil {
				return wrapLookup("data source", args[0], err)
			}
			return a.print(cmd, output.TabsTable(tabs))
		},
	}
	cmd.Flags().StringVar(&credential, "credential", "", "connector credential")
	return cmd
}

func (a *App) newPreviewCommand() *cobra.Command {
	var (
		credential string
		rows       int
	)
	cmd := &cobra.Command{
		Use:     "preview <data-source-id> <tab>",
		GroupID: "inspect",
		Short:   "Show the first raw rows of a tab to pick its header row",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, err := a.Client(ctx)
			if err != nil {
				return err
			}
			cred := connectors.Credential(a.config.Credential(args[0], credential))
			raw, err := client.Preview(ctx, args[0], args[1], rows, cred)
			if err != nil {
				return wrapLookup("data source", args[0], err)
			}
			return a.print(cmd, output.RowsTable(raw))
		},
	}
	cmd.Flags().StringVar(&credential, "credential", "", "connector credential")
	cmd.Flags().IntVar(&rows, "rows", constants.DefaultPreviewRows, "number of rows to show")
	return cmd
}

func (a *App) newSearchCommand() *cobra.Command {
	var credential string
	cmd := &cobra.Command{
		Use:     "search <data-source-id> [query]",
		GroupID: "inspect",
		Short:   "Search a data source that supports discovery",
		Args:    cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, err := a.Client(ctx)
			if err != nil {
				return err
			}
			query := ""
			if len(args) == 2 {
				query = args[1]
			}
			cred := connectors.Credential(a.config.Credential(args[0], credential))
			results, err := client.Search(ctx, args[0], query, cred)
			if err != nil {
				return wrapLookup("data source", args[0], err)
			}
			return a.print(cmd, results)
		},
	}
	cmd.Flags().StringVar(&credential, "credential", "", "connector credential")
	return cmd
}
