package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fieldops/fieldsync/internal/httpexec"
	"github.com/fieldops/fieldsync/internal/outbox/drain"
	"github.com/fieldops/fieldsync/internal/outbox/reconcile"
	"github.com/fieldops/fieldsync/internal/ui"
)

var drainCmd = &cobra.Command{
	Use:     "drain",
	GroupID: "sync",
	Short:   "Replay pending items against the backend once",
	Long: `Run one drain cycle: replay every pending outbox item against the
backend in queue order.

Items that succeed are marked succeeded, terminal rejections are marked
failed, and the cycle stops at the first retryable failure so replay order
is preserved. Requires api.base_url to be configured.`,
	Run: func(cmd *cobra.Command, args []string) {
		if cfg.API.BaseURL == "" {
			fmt.Fprintf(os.Stderr, "Error: api.base_url is not configured\n")
			os.Exit(1)
		}

		q, db, err := openQueue(nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer db.Close()

		executor := httpexec.New(httpexec.Config{
			BaseURL:   cfg.API.BaseURL,
			AuthToken: cfg.API.AuthToken,
			Logger:    newLogger("[httpexec] "),
		})
		reconciler := reconcile.New(q, reconcile.NewMemoryStore(), newLogger("[reconcile] "))
		drainer := drain.New(q, drain.Config{
			Executor: executor,
			Resolver: reconciler,
			Logger:   newLogger("[drain] "),
		})

		fmt.Printf("%s Draining outbox against %s...\n", ui.RenderAccent("->"), cfg.API.BaseURL)

		stats, err := drainer.DrainOnce(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error during drain: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Drain cycle complete\n", ui.RenderPass("OK"))
		fmt.Printf("   Succeeded: %d\n", stats.Succeeded)
		if stats.Failed > 0 {
			fmt.Printf("   Failed:    %s\n", ui.RenderFail(fmt.Sprint(stats.Failed)))
		}
		if stats.Released > 0 {
			fmt.Printf("   Retrying:  %d (stopped at first retryable failure)\n", stats.Released)
		}
	},
}

func init() {
	rootCmd.AddCommand(drainCmd)
}
