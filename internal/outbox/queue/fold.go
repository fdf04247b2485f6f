package queue

import (
	"github.com/fieldops/fieldsync/internal/outbox"
)

// foldListIntoCreates folds material list entries into outstanding pending
// creates for the same job.
//
// A material row created offline has no server id yet, so a later batch
// list update would submit the same logical row twice: once implicitly when
// the create replays, once as a list entry. Entries whose (material, user)
// composite key matches a pending material create are therefore folded into
// that create — its quantity becomes the entry's — and excluded from the
// remaining list.
//
// The function mutates matched creates in place and returns the indexes it
// touched along with the entries that survived. Matching is first-match in
// queue order; coalescing guarantees at most one pending create per key.
func foldListIntoCreates(items []outbox.Item, jobID int64, entries []outbox.MaterialEntry, now int64) (updated []outbox.Item, foldedInto []int, remaining []outbox.MaterialEntry) {
	for _, entry := range entries {
		idx := findPendingMaterialCreate(items, jobID, entry.Key())
		if idx < 0 {
			remaining = append(remaining, entry)
			continue
		}

		body := items[idx].Payload.Body.(*outbox.MaterialBody)
		body.Quantity = outbox.Float64(entry.Quantity)
		items[idx].UpdatedAt = now
		items[idx].Payload.ClientUpdatedAt = now
		foldedInto = append(foldedInto, idx)
	}

	return items, foldedInto, remaining
}

// findPendingMaterialCreate locates the pending material create for the
// given job whose single-row body carries the composite key.
func findPendingMaterialCreate(items []outbox.Item, jobID int64, key outbox.MaterialKey) int {
	for i := range items {
		it := &items[i]
		if it.Status != outbox.StatusPending || it.Payload.Op != outbox.OpCreate {
			continue
		}
		if it.Payload.Entity != outbox.EntityMaterial || it.Payload.JobID != jobID {
			continue
		}
		body, ok := it.Payload.Body.(*outbox.MaterialBody)
		if !ok {
			continue
		}
		if k, ok := body.Key(); ok && k == key {
			return i
		}
	}
	return -1
}
