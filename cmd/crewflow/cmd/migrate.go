package cmd

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/crewflow/crewflow/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		db, err := openDB() // openDB migrates
		if err != nil {
			return err
		}
		defer db.Close()

		version, err := db.SchemaVersion(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "schema at version %d\n", version)
		return nil
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show applied and pending migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		db, err := store.Open(cfg.Database.Path)
		if err != nil {
			return err
		}
		defer db.Close()

		statuses, err := db.MigrationStatuses(cmd.Context())
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 2, 4, 2, ' ', 0)
		fmt.Fprintln(w, headerStyle.Render("VERSION\tDESCRIPTION\tAPPLIED"))
		for _, st := range statuses {
			applied := mutedStyle.Render("pending")
			if st.Status == "applied" {
				applied = successStyle.Render(st.AppliedAt)
			}
			fmt.Fprintf(w, "%d\t%s\t%s\n", st.Version, st.Description, applied)
		}
		return w.Flush()
	},
}

var migrateRollbackCmd = &cobra.Command{
	Use:   "rollback <target-version>",
	Short: "Roll the schema back to a version",
	Long: `Rollback walks migrations down to the target version, dropping the
tables they created. Rolling back to 0 removes the whole schema. This
destroys data; there is no undo.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target, err := strconv.Atoi(args[0])
		if err != nil || target < 0 {
			return fmt.Errorf("invalid target version %q", args[0])
		}

		db, err := store.Open(cfg.Database.Path)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.Rollback(target); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "schema rolled back to version %d\n", target)
		return nil
	},
}

func init() {
	migrateCmd.AddCommand(migrateStatusCmd)
	migrateCmd.AddCommand(migrateRollbackCmd)
	rootCmd.AddCommand(migrateCmd)
}
