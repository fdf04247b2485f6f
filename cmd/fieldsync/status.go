package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fieldops/fieldsync/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "queue",
	Short:   "Show outbox queue status",
	Long: `Display per-status counts for the outbox queue.

With --job, counts are broken down per entity kind for that job only.

Example usage:
  fieldsync status             # Whole-queue counts
  fieldsync status --job 42    # Per-entity counts for job 42`,
	Run: func(cmd *cobra.Command, args []string) {
		jobID, _ := cmd.Flags().GetInt64("job")

		q, db, err := openQueue(nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer db.Close()

		if jobID != 0 {
			fmt.Printf("\n%s Job %s\n\n", ui.RenderHeader("Outbox Status"), ui.RenderAccent(fmt.Sprint(jobID)))
			details := q.JobSyncDetails(jobID)
			if len(details) == 0 {
				fmt.Printf("  %s\n\n", ui.RenderFaint("no queued items"))
				return
			}
			for entity, counts := range details {
				fmt.Printf("  %-10s pending %d, in_progress %d, succeeded %d, failed %d\n",
					entity, counts.Pending, counts.InProgress, counts.Succeeded, counts.Failed)
			}
			fmt.Println()
			return
		}

		counts := q.SyncStatus(nil, 0)
		fmt.Printf("\n%s\n\n", ui.RenderHeader("Outbox Status"))
		fmt.Printf("  %-12s %d\n", ui.RenderStatus("pending"), counts.Pending)
		fmt.Printf("  %-12s %d\n", ui.RenderStatus("in_progress"), counts.InProgress)
		fmt.Printf("  %-12s %d\n", ui.RenderStatus("succeeded"), counts.Succeeded)
		fmt.Printf("  %-12s %d\n", ui.RenderStatus("failed"), counts.Failed)
		fmt.Printf("  total        %d\n", counts.Total)

		if jobs := q.JobsWithPendingSync(); len(jobs) > 0 {
			fmt.Printf("\nJobs with pending work:")
			for _, id := range jobs {
				fmt.Printf(" %s", ui.RenderAccent(fmt.Sprint(id)))
			}
			fmt.Println()
		}
		fmt.Println()
	},
}

func init() {
	statusCmd.Flags().Int64("job", 0, "Limit to one job")
	rootCmd.AddCommand(statusCmd)
}
