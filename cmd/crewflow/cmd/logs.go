package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/crewflow/crewflow/internal/store"
)

var (
	logsAgent string
	logsLimit int
)

var logsCmd = &cobra.Command{
	Use:   "logs [sprint-id]",
	Short: "Show a sprint's merged agent timeline",
	Long: `Logs interleaves a sprint's console messages with the structured
agent events the engine records around every agent call, oldest first.
With --agent it shows only that agent's events.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		ctx := cmd.Context()
		sprint, err := sprintFromArgs(ctx, store.NewSprintStore(db), args)
		if err != nil {
			return err
		}

		logs := store.NewLogStore(db)
		out := cmd.OutOrStdout()

		if logsAgent != "" {
			entries, err := logs.ForAgent(ctx, sprint.ID, logsAgent, logsLimit)
			if err != nil {
				return err
			}
			for _, e := range entries {
				fmt.Fprintf(out, "%s %s %s %s\n",
					mutedStyle.Render(e.Timestamp.Format("15:04:05")),
					agentStyle.Render(fmt.Sprintf("%-12s", e.AgentID)),
					e.Event, mutedStyle.Render(e.Data))
			}
			return nil
		}

		entries, err := logs.Timeline(ctx, sprint.ID, logsLimit)
		if err != nil {
			return err
		}
		for _, e := range entries {
			line := fmt.Sprintf("%s %s %s %s",
				mutedStyle.Render(e.Timestamp.Format("15:04:05")),
				agentStyle.Render(fmt.Sprintf("%-12s", e.AgentID)),
				e.Kind, e.Content)
			if e.Source == "log" {
				line = mutedStyle.Render(line)
			}
			fmt.Fprintln(out, line)
		}
		return nil
	},
}

func init() {
	logsCmd.Flags().StringVar(&logsAgent, "agent", "", "show a single agent's events")
	logsCmd.Flags().IntVar(&logsLimit, "limit", 0, "maximum entries to show")
	rootCmd.AddCommand(logsCmd)
}
