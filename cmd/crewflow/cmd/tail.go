package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/crewflow/crewflow/internal/console"
	"github.com/crewflow/crewflow/internal/store"
)

var (
	tailAgent   string
	tailHistory int
	tailFollow  bool
)

var tailCmd = &cobra.Command{
	Use:   "tail [sprint-id]",
	Short: "Stream a sprint's console",
	Long: `Tail replays the recent console history for a sprint and then
follows new messages live until interrupted. With no argument it follows
the active sprint.`,
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

		history := tailHistory
		if history <= 0 {
			history = cfg.Console.HistoryLimit
		}

		reader := console.NewReader(db, sprint.ID, tailAgent)
		out := cmd.OutOrStdout()

		if !tailFollow {
			msgs, err := reader.History(ctx, console.HistoryQuery{Limit: history})
			if err != nil {
				return err
			}
			for _, msg := range msgs {
				fmt.Fprintln(out, renderMessage(msg))
			}
			return nil
		}

		ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		messages, err := reader.Tail(ctx, history)
		if err != nil {
			return err
		}
		for msg := range messages {
			fmt.Fprintln(out, renderMessage(msg))
		}
		return nil
	},
}

func renderMessage(msg console.Message) string {
	line := fmt.Sprintf("%s %s %s",
		mutedStyle.Render(msg.Timestamp.Format("15:04:05")),
		agentStyle.Render(fmt.Sprintf("%-12s", msg.AgentID)),
		msg.Content)
	switch msg.Type {
	case console.TypeError:
		return errorStyle.Render(line)
	case console.TypeWarning:
		return warnStyle.Render(line)
	case console.TypeCheckpoint:
		return mutedStyle.Render(line)
	default:
		return line
	}
}

func init() {
	tailCmd.Flags().StringVar(&tailAgent, "agent", "", "follow a single agent's stream")
	tailCmd.Flags().IntVar(&tailHistory, "history", 0, "history lines to replay first")
	tailCmd.Flags().BoolVarP(&tailFollow, "follow", "f", true, "keep following new messages")
	rootCmd.AddCommand(tailCmd)
}
