package queue

import (
	"sort"

	"github.com/fieldops/fieldsync/internal/outbox"
)

// StatusCounts partitions matching queue items by status.
// Pending + InProgress + Succeeded + Failed always equals Total.
type StatusCounts struct {
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Succeeded  int `json:"succeeded"`
	Failed     int `json:"failed"`
	Total      int `json:"total"`
}

func (c *StatusCounts) add(s outbox.Status) {
	switch s {
	case outbox.StatusPending:
		c.Pending++
	case outbox.StatusInProgress:
		c.InProgress++
	case outbox.StatusSucceeded:
		c.Succeeded++
	case outbox.StatusFailed:
		c.Failed++
	}
	c.Total++
}

// The query layer is read-only: each call filters one fresh queue snapshot
// and never mutates. Storage errors degrade to safe defaults (false, empty
// counts) so a UI badge render never turns into a crash; the error is
// logged instead.

// HasPendingSync reports whether any item for one of the entities (and for
// jobID, when non-zero) is pending or in_progress.
func (q *Queue) HasPendingSync(entities []outbox.Entity, jobID int64) bool {
	items, err := q.Items()
	if err != nil {
		q.logger.Printf("HasPendingSync: failed to read queue: %v", err)
		return false
	}
	for _, it := range items {
		if matchesFilter(it, entities, jobID) && it.Status.Active() {
			return true
		}
	}
	return false
}

// HasFailedSync reports whether any matching item is failed.
func (q *Queue) HasFailedSync(entities []outbox.Entity, jobID int64) bool {
	items, err := q.Items()
	if err != nil {
		q.logger.Printf("HasFailedSync: failed to read queue: %v", err)
		return false
	}
	for _, it := range items {
		if matchesFilter(it, entities, jobID) && it.Status == outbox.StatusFailed {
			return true
		}
	}
	return false
}

// SyncStatus returns per-status counts for the entities (and for jobID,
// when non-zero).
func (q *Queue) SyncStatus(entities []outbox.Entity, jobID int64) StatusCounts {
	var counts StatusCounts
	items, err := q.Items()
	if err != nil {
		q.logger.Printf("SyncStatus: failed to read queue: %v", err)
		return counts
	}
	for _, it := range items {
		if matchesFilter(it, entities, jobID) {
			counts.add(it.Status)
		}
	}
	return counts
}

// HasAnyPendingSyncForJob reports whether the job has any active item,
// regardless of entity.
func (q *Queue) HasAnyPendingSyncForJob(jobID int64) bool {
	return q.HasPendingSync(nil, jobID)
}

// JobsWithPendingSync returns the ids of all jobs with at least one active
// item, in ascending order.
func (q *Queue) JobsWithPendingSync() []int64 {
	items, err := q.Items()
	if err != nil {
		q.logger.Printf("JobsWithPendingSync: failed to read queue: %v", err)
		return nil
	}

	seen := make(map[int64]bool)
	for _, it := range items {
		if it.Status.Active() && it.Payload.JobID != 0 {
			seen[it.Payload.JobID] = true
		}
	}

	jobs := make([]int64, 0, len(seen))
	for id := range seen {
		jobs = append(jobs, id)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i] < jobs[j] })
	return jobs
}

// JobSyncDetails returns per-entity status counts for one job.
func (q *Queue) JobSyncDetails(jobID int64) map[outbox.Entity]StatusCounts {
	details := make(map[outbox.Entity]StatusCounts)
	items, err := q.Items()
	if err != nil {
		q.logger.Printf("JobSyncDetails: failed to read queue: %v", err)
		return details
	}
	for _, it := range items {
		if jobID != 0 && it.Payload.JobID != jobID {
			continue
		}
		counts := details[it.Payload.Entity]
		counts.add(it.Status)
		details[it.Payload.Entity] = counts
	}
	return details
}

// HasActiveOps reports whether any item at all is pending or in_progress.
// The sync trigger manager polls this when deciding whether to surface the
// pending-sync affordance.
func (q *Queue) HasActiveOps() bool {
	return q.HasPendingSync(nil, 0)
}

// matchesFilter applies the entity-set (logical OR, empty = all) and job
// (exact, zero = all) filters.
func matchesFilter(it outbox.Item, entities []outbox.Entity, jobID int64) bool {
	if jobID != 0 && it.Payload.JobID != jobID {
		return false
	}
	if len(entities) == 0 {
		return true
	}
	for _, e := range entities {
		if it.Payload.Entity == e {
			return true
		}
	}
	return false
}
