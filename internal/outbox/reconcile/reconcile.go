// Package reconcile applies optimistic local-first updates to the UI cache
// alongside enqueuing the matching outbox payload.
//
// Each entity gets an adapter with the same contract: mutate the cached
// list synchronously (prepend for create, patch for update, filter-out for
// delete), tag touched entries pending, then hand the payload to the
// coalescing enqueuer. Create returns the minted clientId so the caller can
// reference the not-yet-synced entity immediately.
//
// All adapters resolve entities through outbox.Ref — server id when
// present, clientId fallback — so the matching rule cannot drift between
// adapters.
package reconcile

import (
	"log"
	"os"

	"github.com/fieldops/fieldsync/internal/outbox"
)

// Enqueuer is the coalescing queue the adapters feed.
type Enqueuer interface {
	Enqueue(p outbox.Payload) (outbox.Item, error)
}

// Reconciler bundles the per-entity adapters over one cache and one queue.
type Reconciler struct {
	Notes      *Notes
	Signatures *Signatures
	Materials  *Materials
	Reports    *Reports
}

// New creates a reconciler. If logger is nil, a default stderr logger is
// used.
func New(queue Enqueuer, store ListStore, logger *log.Logger) *Reconciler {
	if logger == nil {
		logger = log.New(os.Stderr, "[reconcile] ", log.LstdFlags)
	}
	return &Reconciler{
		Notes:      &Notes{queue: queue, store: store, logger: logger},
		Signatures: &Signatures{queue: queue, store: store, logger: logger},
		Materials:  &Materials{queue: queue, store: store, logger: logger},
		Reports:    &Reports{queue: queue, store: store, logger: logger},
	}
}

// Resolve records a server-assigned id for a confirmed create: the cached
// entry matching the clientId starts answering to the server id and is no
// longer pending. The drain worker calls this when a create succeeds.
func (r *Reconciler) Resolve(entity outbox.Entity, jobID int64, clientID string, serverID int64) {
	switch entity {
	case outbox.EntityNote:
		r.Notes.Resolve(jobID, clientID, serverID)
	case outbox.EntitySignature:
		r.Signatures.Resolve(jobID, clientID, serverID)
	case outbox.EntityMaterial:
		r.Materials.Resolve(jobID, clientID, serverID)
	case outbox.EntityReport:
		r.Reports.Resolve(jobID, clientID, serverID)
	}
}

// ClearPending drops the pending tag on the cached entry for ref. The
// drain worker calls this when an update or delete replay succeeds.
func (r *Reconciler) ClearPending(entity outbox.Entity, jobID int64, ref outbox.Ref) {
	switch entity {
	case outbox.EntityNote:
		r.Notes.ClearPending(jobID, ref)
	case outbox.EntitySignature:
		r.Signatures.ClearPending(jobID, ref)
	case outbox.EntityMaterial:
		r.Materials.ClearPending(jobID, ref)
	case outbox.EntityReport:
		r.Reports.ClearPending(jobID, ref)
	}
}
