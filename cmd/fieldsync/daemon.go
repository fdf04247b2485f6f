package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fieldops/fieldsync/internal/httpexec"
	"github.com/fieldops/fieldsync/internal/netcheck"
	"github.com/fieldops/fieldsync/internal/outbox/bus"
	"github.com/fieldops/fieldsync/internal/outbox/dashboard"
	"github.com/fieldops/fieldsync/internal/outbox/drain"
	"github.com/fieldops/fieldsync/internal/outbox/reconcile"
	"github.com/fieldops/fieldsync/internal/outbox/spool"
	"github.com/fieldops/fieldsync/internal/outbox/trigger"
	"github.com/fieldops/fieldsync/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Run the sync daemon (foreground)",
	Long: `Run the full sync engine in the foreground:

  1. Probe backend reachability on an interval
  2. Drain pending outbox items whenever the backend is reachable
  3. Watch the capture spool for dropped signature files (if configured)
  4. Surface the pending-sync signal when connectivity returns
  5. Serve the monitoring dashboard (if enabled)

The daemon runs until interrupted. For production use, run it under a
process manager.`,
	Run: func(cmd *cobra.Command, args []string) {
		if cfg.API.BaseURL == "" {
			fmt.Fprintf(os.Stderr, "Error: api.base_url is not configured\n")
			os.Exit(1)
		}

		b := bus.New(newLogger("[bus] "))
		q, db, err := openQueue(b)
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
			Executor:        executor,
			Resolver:        reconciler,
			RetainSucceeded: cfg.Drain.RetainSucceeded,
			Logger:          newLogger("[drain] "),
		})

		triggerLog := newLogger("[trigger] ")
		manager := trigger.New(trigger.Config{
			Debounce:     cfg.Trigger.Debounce,
			Cooldown:     cfg.Trigger.Cooldown,
			HasActiveOps: q.HasActiveOps,
			OnAutoOpen: func() {
				triggerLog.Printf("Pending sync surfaced: backend reachable with queued work")
			},
			Logger: triggerLog,
		})
		defer manager.Stop()

		// New work nudges the trigger evaluation.
		unsubscribe := b.Subscribe(func(bus.Event) { manager.Notify() })
		defer unsubscribe()

		prober := netcheck.New(netcheck.Config{
			URL:      cfg.API.BaseURL + "/health",
			Interval: cfg.API.ProbeInterval,
			OnChange: manager.SetReachable,
			Logger:   newLogger("[netcheck] "),
		})

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		var wg sync.WaitGroup

		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = prober.Run(ctx)
		}()

		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = drainer.Run(ctx, cfg.Drain.Interval)
		}()

		if cfg.Spool.Dir != "" {
			watcher, err := spool.New(cfg.Spool.Dir, q, &spool.Config{
				DebounceInterval: cfg.Spool.Debounce,
				Logger:           newLogger("[spool] "),
			})
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error creating spool watcher: %v\n", err)
				os.Exit(1)
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := watcher.Start(ctx); err != nil {
					fmt.Fprintf(os.Stderr, "Spool watcher stopped: %v\n", err)
				}
			}()
			fmt.Printf("   Spool: %s\n", cfg.Spool.Dir)
		}

		if cfg.Dashboard.Enabled {
			server := dashboard.NewServer(&dashboard.Config{
				Port:   cfg.Dashboard.Port,
				Source: dashboard.QueueSource{Queue: q},
				Logger: newLogger("[dashboard] "),
			})
			if err := server.Start(); err != nil {
				fmt.Fprintf(os.Stderr, "Error starting dashboard: %v\n", err)
				os.Exit(1)
			}
			defer server.Stop()

			handler := dashboard.NewHandler(server, newLogger("[dashboard] "))
			handler.Attach(b)
			defer handler.Detach()

			fmt.Printf("   Dashboard: http://%s (ws://%s/ws)\n", server.Addr(), server.Addr())
		}

		fmt.Printf("%s fieldsync daemon started\n", ui.RenderAccent("->"))
		fmt.Printf("   Backend: %s\n", cfg.API.BaseURL)
		fmt.Printf("   Outbox:  %s\n", cfg.DBPath)
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		<-ctx.Done()

		fmt.Println("\nShutting down...")
		wg.Wait()
		fmt.Println(ui.RenderPass("Daemon stopped"))
	},
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}
