package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/crewflow/crewflow/internal/store"
)

var (
	sprintsStatus string
	sprintsLimit  int
)

var sprintsCmd = &cobra.Command{
	Use:   "sprints",
	Short: "List sprints, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		sprints, err := store.NewSprintStore(db).List(cmd.Context(), sprintsStatus, sprintsLimit)
		if err != nil {
			return err
		}
		if len(sprints) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), mutedStyle.Render("no sprints"))
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 2, 4, 2, ' ', 0)
		fmt.Fprintln(w, headerStyle.Render("ID\tSTATUS\tPROGRESS\tCREATED\tPROMPT"))
		for _, sp := range sprints {
			prompt := sp.Prompt
			if len(prompt) > 48 {
				prompt = prompt[:45] + "..."
			}
			fmt.Fprintf(w, "%s\t%s\t%d/%d\t%s\t%s\n",
				sp.ID,
				statusStyle(string(sp.Status)).Render(string(sp.Status)),
				sp.IssuesDone, sp.IssuesTotal,
				humanDuration(sp.CreatedAt),
				prompt)
		}
		return w.Flush()
	},
}

func init() {
	sprintsCmd.Flags().StringVar(&sprintsStatus, "status", "",
		"filter by status (created, running, paused, completed, failed)")
	sprintsCmd.Flags().IntVar(&sprintsLimit, "limit", 20, "maximum sprints to list")
	rootCmd.AddCommand(sprintsCmd)
}
