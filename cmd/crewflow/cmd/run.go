package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/crewflow/crewflow/internal/core"
	"github.com/crewflow/crewflow/internal/store"
)

var runCmd = &cobra.Command{
	Use:   "run <prompt>",
	Short: "Start a new sprint from a goal prompt",
	Long: `Run creates a sprint, plans it into an epic with issues, and drives
every issue through implementation, review, QA and merge. Interrupting the
process pauses the sprint; 'crewflow resume' picks it back up.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		prompt := strings.Join(args, " ")

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		sprints := store.NewSprintStore(db)
		sprint, err := sprints.Create(cmd.Context(), "", prompt)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(),
			headerStyle.Render("sprint ")+sprint.ID)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		writer := newConsoleWriter(db)
		defer writer.Stop()

		eng, err := buildEngine(ctx, db, writer)
		if err != nil {
			return err
		}
		if err := eng.RunFullPipeline(ctx, sprint.ID, prompt); err != nil {
			if ctx.Err() != nil {
				// Interrupted: park the sprint instead of failing it.
				if pauseErr := sprints.UpdateStatus(context.Background(), sprint.ID,
					core.SprintStatusPaused); pauseErr != nil {
					log.Error("pausing interrupted sprint", "error", pauseErr)
				}
				fmt.Fprintln(cmd.OutOrStdout(),
					warnStyle.Render("interrupted; sprint paused: ")+sprint.ID)
				return nil
			}
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(),
			successStyle.Render("sprint completed: ")+sprint.ID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
