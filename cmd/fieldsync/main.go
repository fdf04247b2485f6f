// Command fieldsync manages the offline outbox for field operations.
//
// The outbox is a durable queue of pending mutations (notes, signatures,
// material usage, reports) recorded while a device is offline and replayed
// against the backend when connectivity returns.
package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/fieldops/fieldsync/internal/config"
	"github.com/fieldops/fieldsync/internal/outbox/bus"
	"github.com/fieldops/fieldsync/internal/outbox/queue"
	"github.com/fieldops/fieldsync/internal/outbox/store"
)

var (
	configPath string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "fieldsync",
	Short: "Offline outbox and sync engine for field operations",
	Long: `fieldsync maintains a durable queue of mutations recorded offline and
replays them against the backend when connectivity returns.

Mutations coalesce as they are enqueued: repeated edits to the same entity
collapse into one item, and deleting an entity that was never synced simply
cancels its pending create. Replay preserves the order mutations were made.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		return nil
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default: ./fieldsync.yaml)")

	rootCmd.AddGroup(
		&cobra.Group{ID: "queue", Title: "Queue Commands:"},
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
	)
}

// newLogger builds a prefixed logger, rotating through the configured log
// file when one is set.
func newLogger(prefix string) *log.Logger {
	var out io.Writer = os.Stderr
	if cfg.Log.File != "" {
		out = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   cfg.Log.File,
			MaxSize:    cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
		})
	}
	return log.New(out, prefix, log.LstdFlags)
}

// openQueue opens the durable store and wraps it in a queue. The caller
// owns closing the returned store.
func openQueue(b *bus.Bus) (*queue.Queue, *store.DB, error) {
	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open outbox store: %w", err)
	}
	if err := db.InitSchema(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	q := queue.New(db, queue.Config{
		Bus:    b,
		Logger: newLogger("[queue] "),
	})
	return q, db, nil
}
