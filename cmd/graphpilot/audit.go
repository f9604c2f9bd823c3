package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/canopyhq/graphpilot/internal/audit"
	"github.com/canopyhq/graphpilot/internal/config"
)

func buildAuditCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect and manage the query audit trail",
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to configuration file")

	openStore := func() (*audit.SQLStore, error) {
		cfg, err := config.LoadLenient(configPath)
		if err != nil {
			return nil, err
		}
		if cfg.Audit.Path == "" {
			return nil, fmt.Errorf("audit.path is not configured; the audit trail is in-memory")
		}
		return audit.NewSQLStore(cfg.Audit.Path)
	}

	var credential string
	var limit int
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent query executions for a credential",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.History(cmd.Context(), credential, limit)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no records")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tOK\tDURATION\tQUERY")
			for _, r := range records {
				status := "yes"
				if !r.Success {
					status = "no"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					r.CreatedAt.Format("2006-01-02 15:04:05"),
					status, r.Duration, firstLine(r.Query))
			}
			return w.Flush()
		},
	}
	historyCmd.Flags().StringVar(&credential, "credential", "default", "Credential ID")
	historyCmd.Flags().IntVar(&limit, "limit", 20, "Maximum records to show")

	usageCmd := &cobra.Command{
		Use:   "usage",
		Short: "Show aggregate usage for a credential",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			u, err := store.Usage(cmd.Context(), credential)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "credential: %s\ntotal calls: %d\n", u.CredentialID, u.TotalCalls)
			if !u.LastUsedAt.IsZero() {
				fmt.Fprintf(cmd.OutOrStdout(), "last used: %s\n", u.LastUsedAt.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}
	usageCmd.Flags().StringVar(&credential, "credential", "default", "Credential ID")

	var days int
	purgeCmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete audit records older than the given age",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			purged, err := audit.NewLogger(store, nil).PurgeOlderThan(cmd.Context(), days)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged %d records older than %d days\n", purged, days)
			return nil
		},
	}
	purgeCmd.Flags().IntVar(&days, "days", 90, "Delete records older than this many days")

	cmd.AddCommand(historyCmd, usageCmd, purgeCmd)
	return cmd
}
