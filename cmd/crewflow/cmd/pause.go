package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/crewflow/crewflow/internal/core"
	"github.com/crewflow/crewflow/internal/store"
)

var pauseCmd = &cobra.Command{
	Use:   "pause [sprint-id]",
	Short: "Pause a running sprint",
	Long: `Pause marks a running sprint as paused. The owning process notices
the status change at its next issue boundary; a sprint whose process has
already died is demoted to paused automatically.`,
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
		if sprint.Terminal() {
			return core.ErrValidation("SPRINT_FINISHED",
				"sprint already "+string(sprint.Status)+": "+sprint.ID)
		}

		if err := sprints.UpdateStatus(ctx, sprint.ID, core.SprintStatusPaused); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), warnStyle.Render("sprint paused: ")+sprint.ID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pauseCmd)
}
