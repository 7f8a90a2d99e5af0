package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/crewflow/crewflow/internal/console"
	"github.com/crewflow/crewflow/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status [sprint-id]",
	Short: "Show a sprint's epic and issue tree",
	Long: `Status shows the full state of one sprint: its epic, every issue
with cycle counters, and the recorded agent handoffs. With no argument it
picks the active sprint.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		ctx := cmd.Context()
		sprints := store.NewSprintStore(db)

		sprint, err := sprintFromArgs(ctx, sprints, args)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s %s\n", headerStyle.Render("sprint"), sprint.ID)
		fmt.Fprintf(out, "  status    %s\n",
			statusStyle(string(sprint.Status)).Render(string(sprint.Status)))
		fmt.Fprintf(out, "  progress  %d/%d issues\n", sprint.IssuesDone, sprint.IssuesTotal)
		fmt.Fprintf(out, "  prompt    %s\n", sprint.Prompt)
		if sprint.Error != "" {
			fmt.Fprintf(out, "  error     %s\n", errorStyle.Render(sprint.Error))
		}
		if sprint.EpicID == "" {
			fmt.Fprintln(out, mutedStyle.Render("  no epic planned yet"))
			return nil
		}

		tree, err := store.NewStateManager(db).EpicTree(ctx, sprint.EpicID)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "\n%s %s (%s)\n", headerStyle.Render("epic"), tree.Epic.ID,
			statusStyle(string(tree.Epic.Status)).Render(string(tree.Epic.Status)))
		for _, node := range tree.Issues {
			issue := node.Issue
			fmt.Fprintf(out, "  #%d %s", issue.Number,
				statusStyle(string(issue.Status)).Render(string(issue.Status)))
			if issue.PRNumber > 0 {
				fmt.Fprintf(out, "  PR #%d", issue.PRNumber)
			}
			fmt.Fprintf(out, "  review %d/%d  qa %d/%d  fixes %d\n",
				issue.ReviewCycles, cfg.Pipeline.MaxReviewCycles,
				issue.QACycles, cfg.Pipeline.MaxQACycles,
				issue.SelfFixAttempts)
			for _, c := range node.Cycles {
				fmt.Fprintf(out, "    %s %s %s -> %s: %s\n",
					mutedStyle.Render(c.Timestamp.Format("15:04:05")),
					mutedStyle.Render(fmt.Sprintf("[%d]", c.Number)),
					c.AgentFrom, c.AgentTo, c.Action)
			}
		}

		avgs, err := store.NewScorecardStore(db).AveragesByAgent(ctx, sprint.EpicID)
		if err != nil {
			return err
		}
		if len(avgs) > 0 {
			fmt.Fprintf(out, "\n%s\n", headerStyle.Render("scorecards"))
			for _, a := range avgs {
				fmt.Fprintf(out, "  %-12s %.1f/10 over %d\n", a.AgentID, a.Average, a.Count)
			}
		}

		checkpoints, err := console.NewReader(db, sprint.ID, "").LatestCheckpoints(ctx)
		if err != nil {
			return err
		}
		if len(checkpoints) > 0 {
			fmt.Fprintf(out, "\n%s\n", headerStyle.Render("checkpoints"))
			for _, cp := range checkpoints {
				fmt.Fprintf(out, "  %s %-12s %s\n",
					mutedStyle.Render(cp.Timestamp.Format("15:04:05")), cp.AgentID, cp.Content)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
