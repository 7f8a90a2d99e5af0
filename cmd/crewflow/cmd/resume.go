package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/crewflow/crewflow/internal/core"
	"github.com/crewflow/crewflow/internal/store"
)

var resumeCmd = &cobra.Command{
	Use:   "resume [sprint-id]",
	Short: "Resume a paused or failed sprint",
	Long: `Resume reloads a sprint from its persisted epic and issue records
and re-enters the issue loop. Issues already done or escalated stay as they
are; an issue interrupted mid-cycle is replayed with its cycle counters
intact. With no argument it resumes the active sprint.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		ctx := cmd.Context()
		sprints := store.NewSprintStore(db)

		var sprint *core.Sprint
		if len(args) == 1 {
			sprint, err = sprints.Get(ctx, args[0])
			if err != nil {
				return err
			}
		} else {
			// Prefer the most recently paused sprint; a created-but-never-run
			// sprint from Active is the fallback.
			paused, err := sprints.List(ctx, string(core.SprintStatusPaused), 1)
			if err != nil {
				return err
			}
			if len(paused) > 0 {
				sprint = paused[0]
			} else if sprint, err = sprintFromArgs(ctx, sprints, nil); err != nil {
				return err
			}
		}

		runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		writer := newConsoleWriter(db)
		defer writer.Stop()

		fmt.Fprintln(cmd.OutOrStdout(), headerStyle.Render("resuming ")+sprint.ID)
		eng, err := buildEngine(runCtx, db, writer)
		if err != nil {
			return err
		}
		if err := eng.Resume(runCtx, sprint.ID); err != nil {
			if runCtx.Err() != nil {
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
		fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render("sprint completed: ")+sprint.ID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(resumeCmd)
}
