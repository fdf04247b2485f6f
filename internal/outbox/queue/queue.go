// Package queue implements the coalescing enqueuer and the status/query
// layer over the durable queue store.
//
// Every mutation of the persisted queue is a read-compute-replace cycle.
// The queue serializes those cycles through a single mutex, so concurrent
// enqueue calls and drain-worker transitions are strictly ordered instead
// of racing between read and replace.
//
// Coalescing keeps the queue minimal: an update targeting an entity whose
// create is still pending folds into that create, a delete of a
// never-created entity simply removes its create, and repeated updates for
// the same target collapse into one item with last-write-wins bodies.
package queue

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/fieldops/fieldsync/internal/outbox"
	"github.com/fieldops/fieldsync/internal/outbox/bus"
)

// Store is the durable queue storage the queue operates on.
type Store interface {
	// ReadQueue returns the full queue in insertion order.
	ReadQueue() ([]outbox.Item, error)
	// ReplaceQueue atomically overwrites the full queue.
	ReplaceQueue(items []outbox.Item) error
}

// Config holds queue configuration.
type Config struct {
	// Bus receives change notifications. Optional; nil disables them.
	Bus *bus.Bus

	// Clock stamps items. Defaults to the real clock.
	Clock clockwork.Clock

	// Logger for queue activity. Defaults to a stderr logger.
	Logger *log.Logger
}

// Queue is the single writer for the durable outbox queue.
type Queue struct {
	store  Store
	bus    *bus.Bus
	clock  clockwork.Clock
	logger *log.Logger

	// mu serializes every read-modify-write cycle against the store.
	mu sync.Mutex
}

// New creates a queue over the given store.
func New(store Store, config Config) *Queue {
	if config.Clock == nil {
		config.Clock = clockwork.NewRealClock()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[queue] ", log.LstdFlags)
	}
	return &Queue{
		store:  store,
		bus:    config.Bus,
		clock:  config.Clock,
		logger: config.Logger,
	}
}

// Enqueue coalesces the payload into the queue per its operation kind and
// returns the queue item now carrying the mutation. For a delete that
// cancelled a pending create, the returned item is the zero Item: the queue
// simply forgot the entity.
func (q *Queue) Enqueue(p outbox.Payload) (outbox.Item, error) {
	switch p.Op {
	case outbox.OpCreate:
		return q.enqueueCreate(p)
	case outbox.OpUpdate:
		return q.enqueueUpdate(p)
	case outbox.OpDelete:
		return q.enqueueDelete(p)
	default:
		return outbox.Item{}, fmt.Errorf("unknown op %q", p.Op)
	}
}

// enqueueCreate always appends: each create is a distinct prospective
// entity. A fresh clientId is minted when the caller supplied none.
func (q *Queue) enqueueCreate(p outbox.Payload) (outbox.Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	items, err := q.store.ReadQueue()
	if err != nil {
		return outbox.Item{}, fmt.Errorf("failed to read queue: %w", err)
	}

	item := outbox.NewItem(p, q.clock.Now())
	items = append(items, item)

	if err := q.store.ReplaceQueue(items); err != nil {
		return outbox.Item{}, fmt.Errorf("failed to write queue: %w", err)
	}

	q.logger.Printf("Enqueued %s create %s (job %d)", p.Entity, item.Payload.Ref(), p.JobID)
	if q.bus != nil {
		q.bus.NotifyItemAdded(item)
	}
	return item, nil
}

// enqueueUpdate folds into a matching pending create or update when one
// exists; otherwise it appends a new update item.
//
// Material list updates are special-cased: entries whose (material, user)
// key matches an outstanding pending create are folded into that create and
// excluded from the list that will eventually be sent, so the same logical
// row is never submitted twice.
func (q *Queue) enqueueUpdate(p outbox.Payload) (outbox.Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	items, err := q.store.ReadQueue()
	if err != nil {
		return outbox.Item{}, fmt.Errorf("failed to read queue: %w", err)
	}

	now := q.clock.Now().UnixMilli()

	var folded []outbox.Item
	if body, ok := p.Body.(*outbox.MaterialBody); ok && len(body.Entries) > 0 {
		var foldedInto []int
		items, foldedInto, body.Entries = foldListIntoCreates(items, p.JobID, body.Entries, now)
		for _, idx := range foldedInto {
			folded = append(folded, items[idx])
		}
		if len(body.Entries) == 0 {
			// Everything folded; nothing left to send as a list update.
			if err := q.store.ReplaceQueue(items); err != nil {
				return outbox.Item{}, fmt.Errorf("failed to write queue: %w", err)
			}
			q.notifyFolded(folded)
			return outbox.Item{}, nil
		}
	}

	for i := range items {
		it := &items[i]
		if it.Status != outbox.StatusPending || it.Payload.Op == outbox.OpDelete {
			continue
		}
		if !matchesUpdateTarget(it.Payload, p) {
			continue
		}

		merged, err := outbox.MergeBody(it.Payload.Body, p.Body)
		if err != nil {
			return outbox.Item{}, fmt.Errorf("failed to coalesce update: %w", err)
		}
		it.Payload.Body = merged
		it.UpdatedAt = now
		it.Payload.ClientUpdatedAt = now

		if err := q.store.ReplaceQueue(items); err != nil {
			return outbox.Item{}, fmt.Errorf("failed to write queue: %w", err)
		}

		q.logger.Printf("Coalesced %s update into %s %s", p.Entity, it.Payload.Op, it.UID)
		q.notifyFolded(folded)
		if q.bus != nil {
			q.bus.NotifyItemUpdated(*it)
		}
		return *it, nil
	}

	item := outbox.NewItem(p, q.clock.Now())
	items = append(items, item)

	if err := q.store.ReplaceQueue(items); err != nil {
		return outbox.Item{}, fmt.Errorf("failed to write queue: %w", err)
	}

	q.logger.Printf("Enqueued %s update %s (job %d)", p.Entity, item.Payload.Ref(), p.JobID)
	q.notifyFolded(folded)
	if q.bus != nil {
		q.bus.NotifyItemAdded(item)
	}
	return item, nil
}

// notifyFolded announces creates that absorbed list entries, after the
// rewritten queue is on disk.
func (q *Queue) notifyFolded(folded []outbox.Item) {
	for _, it := range folded {
		q.logger.Printf("Folded material list entry into pending create %s", it.UID)
		if q.bus != nil {
			q.bus.NotifyItemUpdated(it)
		}
	}
}

// enqueueDelete cancels a matching pending create outright — deleting an
// entity the server never saw needs no replay. Pending updates for the
// target are dropped either way; an in-flight or confirmed create means the
// delete itself must be queued.
func (q *Queue) enqueueDelete(p outbox.Payload) (outbox.Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	items, err := q.store.ReadQueue()
	if err != nil {
		return outbox.Item{}, fmt.Errorf("failed to read queue: %w", err)
	}

	kept := items[:0]
	cancelledCreate := false
	for _, it := range items {
		if it.Status == outbox.StatusPending && it.Payload.SameTarget(p) {
			switch it.Payload.Op {
			case outbox.OpCreate:
				cancelledCreate = true
				q.logger.Printf("Cancelled pending %s create %s", it.Payload.Entity, it.Payload.Ref())
				continue
			case outbox.OpUpdate:
				// Moot once the entity is deleted.
				continue
			}
		}
		kept = append(kept, it)
	}
	items = kept

	if cancelledCreate {
		if err := q.store.ReplaceQueue(items); err != nil {
			return outbox.Item{}, fmt.Errorf("failed to write queue: %w", err)
		}
		if q.bus != nil {
			q.bus.NotifyQueueChanged()
		}
		return outbox.Item{}, nil
	}

	item := outbox.NewItem(p, q.clock.Now())
	items = append(items, item)

	if err := q.store.ReplaceQueue(items); err != nil {
		return outbox.Item{}, fmt.Errorf("failed to write queue: %w", err)
	}

	q.logger.Printf("Enqueued %s delete %s (job %d)", p.Entity, item.Payload.Ref(), p.JobID)
	if q.bus != nil {
		q.bus.NotifyItemAdded(item)
	}
	return item, nil
}

// Items returns a snapshot of the full queue in replay order.
func (q *Queue) Items() ([]outbox.Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.store.ReadQueue()
}

// MarkInProgress transitions a pending item to in_progress before the
// drain worker contacts the server.
func (q *Queue) MarkInProgress(uid string) error {
	return q.transition(uid, func(it *outbox.Item) error {
		if it.Status != outbox.StatusPending {
			return fmt.Errorf("item %s is %s, not pending", uid, it.Status)
		}
		it.Status = outbox.StatusInProgress
		return nil
	}, false)
}

// Complete marks an item succeeded. For a confirmed create, serverID is the
// id the server assigned; every later queued item still addressing the
// entity by clientId alone is retargeted to carry the new id, so its replay
// hits the real resource.
func (q *Queue) Complete(uid string, serverID int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	items, err := q.store.ReadQueue()
	if err != nil {
		return fmt.Errorf("failed to read queue: %w", err)
	}

	idx := indexOfUID(items, uid)
	if idx < 0 {
		return fmt.Errorf("item %s not found", uid)
	}

	it := &items[idx]
	it.Status = outbox.StatusSucceeded
	it.UpdatedAt = q.clock.Now().UnixMilli()
	if serverID != 0 && it.Payload.ID == 0 {
		it.Payload.ID = serverID
	}

	var retargeted []outbox.Item
	if it.Payload.Op == outbox.OpCreate && serverID != 0 && it.Payload.ClientID != "" {
		for j := range items {
			if j == idx {
				continue
			}
			other := &items[j]
			if !other.Status.Active() {
				continue
			}
			if other.Payload.Entity != it.Payload.Entity || other.Payload.ID != 0 {
				continue
			}
			if other.Payload.ClientID != it.Payload.ClientID {
				continue
			}
			other.Payload.ID = serverID
			retargeted = append(retargeted, *other)
		}
	}

	if err := q.store.ReplaceQueue(items); err != nil {
		return fmt.Errorf("failed to write queue: %w", err)
	}

	q.logger.Printf("Item %s succeeded (%s %s %s)", uid, it.Payload.Entity, it.Payload.Op, it.Payload.Ref())
	for _, r := range retargeted {
		q.logger.Printf("Retargeted %s to server id %d", r.UID, serverID)
	}
	if q.bus != nil {
		q.bus.NotifyItemProcessed(*it)
		for _, r := range retargeted {
			q.bus.NotifyItemUpdated(r)
		}
	}
	return nil
}

// Fail marks an item failed after a terminal server error.
func (q *Queue) Fail(uid string) error {
	return q.transition(uid, func(it *outbox.Item) error {
		it.Status = outbox.StatusFailed
		return nil
	}, true)
}

// Release returns an in_progress item to pending after a retryable error,
// so the next drain cycle picks it up again.
func (q *Queue) Release(uid string) error {
	return q.transition(uid, func(it *outbox.Item) error {
		if it.Status != outbox.StatusInProgress {
			return fmt.Errorf("item %s is %s, not in_progress", uid, it.Status)
		}
		it.Status = outbox.StatusPending
		return nil
	}, false)
}

// PruneSucceeded removes succeeded items older than maxAge and returns how
// many were dropped. Pending, in_progress, and failed items are never
// pruned: failed items stay visible until the user resolves them.
func (q *Queue) PruneSucceeded(maxAge time.Duration) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	items, err := q.store.ReadQueue()
	if err != nil {
		return 0, fmt.Errorf("failed to read queue: %w", err)
	}

	cutoff := q.clock.Now().Add(-maxAge).UnixMilli()
	kept := items[:0]
	pruned := 0
	for _, it := range items {
		if it.Status == outbox.StatusSucceeded && it.UpdatedAt <= cutoff {
			pruned++
			continue
		}
		kept = append(kept, it)
	}

	if pruned == 0 {
		return 0, nil
	}

	if err := q.store.ReplaceQueue(kept); err != nil {
		return 0, fmt.Errorf("failed to write queue: %w", err)
	}

	if q.bus != nil {
		q.bus.NotifyQueueChanged()
	}
	return pruned, nil
}

// transition applies fn to the item with the given uid and persists the
// result. processed selects the bus notification flavor.
func (q *Queue) transition(uid string, fn func(*outbox.Item) error, processed bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	items, err := q.store.ReadQueue()
	if err != nil {
		return fmt.Errorf("failed to read queue: %w", err)
	}

	idx := indexOfUID(items, uid)
	if idx < 0 {
		return fmt.Errorf("item %s not found", uid)
	}

	if err := fn(&items[idx]); err != nil {
		return err
	}
	items[idx].UpdatedAt = q.clock.Now().UnixMilli()

	if err := q.store.ReplaceQueue(items); err != nil {
		return fmt.Errorf("failed to write queue: %w", err)
	}

	if q.bus != nil {
		if processed {
			q.bus.NotifyItemProcessed(items[idx])
		} else {
			q.bus.NotifyItemUpdated(items[idx])
		}
	}
	return nil
}

// matchesUpdateTarget decides whether an incoming update payload coalesces
// into an existing pending item. Normally this is logical identity; a
// material list update carries no id of its own and instead targets the
// job's material list, so it matches an earlier list update for the same job.
func matchesUpdateTarget(existing, incoming outbox.Payload) bool {
	if existing.SameTarget(incoming) {
		return true
	}
	if !incoming.Ref().IsZero() {
		return false
	}
	return incoming.Entity == outbox.EntityMaterial &&
		existing.Entity == outbox.EntityMaterial &&
		existing.JobID == incoming.JobID &&
		existing.Op == outbox.OpUpdate &&
		existing.Ref().IsZero()
}

func indexOfUID(items []outbox.Item, uid string) int {
	for i := range items {
		if items[i].UID == uid {
			return i
		}
	}
	return -1
}
