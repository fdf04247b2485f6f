package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/fieldops/fieldsync/internal/outbox"
	"github.com/fieldops/fieldsync/internal/ui"
)

var listCmd = &cobra.Command{
	Use:     "list",
	GroupID: "queue",
	Short:   "List queued outbox items",
	Long: `List the outbox queue in replay order.

Each line shows the item UID, status, operation, entity, job, and when the
mutation was recorded. Use --job to limit to one job and --failed to show
only failed items.`,
	Run: func(cmd *cobra.Command, args []string) {
		jobID, _ := cmd.Flags().GetInt64("job")
		failedOnly, _ := cmd.Flags().GetBool("failed")

		q, db, err := openQueue(nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer db.Close()

		items, err := q.Items()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading queue: %v\n", err)
			os.Exit(1)
		}

		shown := 0
		for _, it := range items {
			if jobID != 0 && it.Payload.JobID != jobID {
				continue
			}
			if failedOnly && it.Status != outbox.StatusFailed {
				continue
			}
			shown++

			recorded := time.UnixMilli(it.CreatedAt).Format("2006-01-02 15:04:05")
			target := describeTarget(it.Payload)
			fmt.Printf("%s  %-12s %-6s %-9s job %-6d %s  %s\n",
				ui.RenderFaint(it.UID[:8]),
				ui.RenderStatus(string(it.Status)),
				it.Payload.Op,
				it.Payload.Entity,
				it.Payload.JobID,
				recorded,
				ui.RenderFaint(target))
		}

		if shown == 0 {
			fmt.Println(ui.RenderFaint("no queued items"))
		}
	},
}

// describeTarget names the entity an item addresses: a server id when
// assigned, otherwise the local clientId.
func describeTarget(p outbox.Payload) string {
	switch {
	case p.ID != 0:
		return fmt.Sprintf("id=%d", p.ID)
	case p.ClientID != "":
		return "clientId=" + p.ClientID
	default:
		return ""
	}
}

func init() {
	listCmd.Flags().Int64("job", 0, "Limit to one job")
	listCmd.Flags().Bool("failed", false, "Show only failed items")
	rootCmd.AddCommand(listCmd)
}
