package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/crewflow/crewflow/internal/api"
	"github.com/crewflow/crewflow/internal/config"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the read-only HTTP API",
	Long: `Serve exposes sprint state over HTTP: listings, the epic/issue
tree, and a long-poll event feed. The config file is watched and reloaded
live; the server restarts on address changes only by restarting the
process.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		addr := serveAddr
		if addr == "" {
			addr = cfg.API.Addr
		}

		server := api.NewServer(db, log,
			api.WithAllowedOrigins(cfg.API.AllowedOrigins))

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		var watcher *config.Watcher
		if path := cfgFile; path != "" {
			watcher, err = config.NewWatcher(path, log, func(next *config.Config) {
				cfg = next
				log.Info("configuration reloaded")
			})
			if err != nil {
				log.Warn("config watcher unavailable", "error", err)
			} else {
				defer watcher.Close()
			}
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return server.ListenAndServe(gctx, addr)
		})

		fmt.Fprintln(cmd.OutOrStdout(), headerStyle.Render("serving on ")+addr)
		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides config)")
	rootCmd.AddCommand(serveCmd)
}
