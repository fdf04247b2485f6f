// Package drain implements the replay worker that empties the outbox
// against the backend.
//
// A drain cycle walks the queue snapshot in insertion order, marks each
// pending item in_progress, hands it to the Executor, and records the
// outcome: succeeded on confirmation, failed on a terminal error, back to
// pending on a retryable one. A retryable failure ends the cycle —
// connectivity is likely gone, and replaying later items ahead of an
// earlier one for the same entity would reorder mutations.
//
// When a create succeeds the server's assigned id is propagated two ways:
// the queue retargets later items still addressing the entity by clientId,
// and the reconciler stamps the id onto the cached projection.
package drain

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/fieldops/fieldsync/internal/outbox"
)

// Result reports what the server returned for a replayed item.
type Result struct {
	// ServerID is the id assigned by the server for a confirmed create;
	// zero otherwise.
	ServerID int64
}

// Executor performs the actual network call for one outbox item.
//
// Implementations classify failures: return a TerminalError (via Terminal)
// for errors that will not succeed on retry, and a plain error for
// transient ones.
type Executor interface {
	Execute(ctx context.Context, item outbox.Item) (Result, error)
}

// TerminalError marks a replay failure that retrying cannot fix, such as a
// validation rejection.
type TerminalError struct {
	Err error
}

func (e *TerminalError) Error() string {
	return fmt.Sprintf("terminal: %v", e.Err)
}

func (e *TerminalError) Unwrap() error {
	return e.Err
}

// Terminal wraps err as a TerminalError.
func Terminal(err error) error {
	return &TerminalError{Err: err}
}

// IsTerminal reports whether err is (or wraps) a TerminalError.
func IsTerminal(err error) bool {
	var t *TerminalError
	return errors.As(err, &t)
}

// Queue is the subset of the outbox queue the drainer drives.
type Queue interface {
	Items() ([]outbox.Item, error)
	MarkInProgress(uid string) error
	Complete(uid string, serverID int64) error
	Fail(uid string) error
	Release(uid string) error
	PruneSucceeded(maxAge time.Duration) (int, error)
}

// Resolver receives replay outcomes so the UI cache tracks them.
type Resolver interface {
	Resolve(entity outbox.Entity, jobID int64, clientID string, serverID int64)
	ClearPending(entity outbox.Entity, jobID int64, ref outbox.Ref)
}

// Config holds drainer configuration.
type Config struct {
	// Executor performs the per-item network calls. Required.
	Executor Executor

	// Resolver is told about confirmed items. Optional.
	Resolver Resolver

	// RetainSucceeded is how long succeeded items stay in the queue
	// before Run prunes them. Zero disables pruning.
	RetainSucceeded time.Duration

	// Logger for drain activity. Defaults to a stderr logger.
	Logger *log.Logger
}

// Stats summarizes one drain cycle.
type Stats struct {
	Succeeded int
	Failed    int
	Released  int
}

// Drainer replays pending outbox items.
type Drainer struct {
	queue    Queue
	executor Executor
	resolver Resolver
	retain   time.Duration
	logger   *log.Logger
}

// New creates a drainer over the queue.
func New(queue Queue, config Config) *Drainer {
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[drain] ", log.LstdFlags)
	}
	return &Drainer{
		queue:    queue,
		executor: config.Executor,
		resolver: config.Resolver,
		retain:   config.RetainSucceeded,
		logger:   config.Logger,
	}
}

// DrainOnce replays every pending item, in queue order.
//
// Items that were already in_progress (a previous cycle died mid-flight)
// are released back to pending first, then replayed like the rest: replay
// is idempotent on the server side, so re-sending is safe.
//
// The queue is re-read before each replay rather than walked from a single
// snapshot: a confirmed create retargets later queued items to the server's
// id, and the executor must see the retargeted payloads.
func (d *Drainer) DrainOnce(ctx context.Context) (Stats, error) {
	var stats Stats

	if err := d.releaseStale(); err != nil {
		return stats, err
	}

	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		items, err := d.queue.Items()
		if err != nil {
			return stats, fmt.Errorf("failed to read queue: %w", err)
		}

		var next *outbox.Item
		for i := range items {
			if items[i].Status == outbox.StatusPending {
				next = &items[i]
				break
			}
		}
		if next == nil {
			return stats, nil
		}

		done, err := d.replay(ctx, *next, &stats)
		if err != nil {
			return stats, err
		}
		if !done {
			return stats, nil
		}
	}
}

func (d *Drainer) releaseStale() error {
	items, err := d.queue.Items()
	if err != nil {
		return fmt.Errorf("failed to read queue: %w", err)
	}
	for _, it := range items {
		if it.Status != outbox.StatusInProgress {
			continue
		}
		if err := d.queue.Release(it.UID); err != nil {
			d.logger.Printf("Warning: failed to release stale item %s: %v", it.UID, err)
		}
	}
	return nil
}

// replay runs one item through the executor. The bool result is false when
// the cycle should stop (retryable failure).
func (d *Drainer) replay(ctx context.Context, it outbox.Item, stats *Stats) (bool, error) {
	if err := d.queue.MarkInProgress(it.UID); err != nil {
		return false, fmt.Errorf("failed to mark item %s in progress: %w", it.UID, err)
	}

	res, err := d.executor.Execute(ctx, it)
	switch {
	case err == nil:
		if err := d.queue.Complete(it.UID, res.ServerID); err != nil {
			return false, fmt.Errorf("failed to complete item %s: %w", it.UID, err)
		}
		stats.Succeeded++
		d.notifyResolved(it, res)
		return true, nil

	case IsTerminal(err):
		d.logger.Printf("Item %s failed terminally: %v", it.UID, err)
		if err := d.queue.Fail(it.UID); err != nil {
			return false, fmt.Errorf("failed to fail item %s: %w", it.UID, err)
		}
		stats.Failed++
		return true, nil

	default:
		d.logger.Printf("Item %s failed, will retry next cycle: %v", it.UID, err)
		if err := d.queue.Release(it.UID); err != nil {
			return false, fmt.Errorf("failed to release item %s: %w", it.UID, err)
		}
		stats.Released++
		return false, nil
	}
}

func (d *Drainer) notifyResolved(it outbox.Item, res Result) {
	if d.resolver == nil {
		return
	}
	p := it.Payload
	if p.Op == outbox.OpCreate && p.ClientID != "" && res.ServerID != 0 {
		d.resolver.Resolve(p.Entity, p.JobID, p.ClientID, res.ServerID)
		return
	}
	d.resolver.ClearPending(p.Entity, p.JobID, p.Ref())
}

// Run drains on a fixed interval until the context is cancelled, pruning
// old succeeded items between cycles when retention is configured.
func (d *Drainer) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-ticker.C:
			stats, err := d.DrainOnce(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				d.logger.Printf("Drain cycle error: %v", err)
				continue
			}
			if stats.Succeeded+stats.Failed+stats.Released > 0 {
				d.logger.Printf("Drain cycle: %d succeeded, %d failed, %d retrying",
					stats.Succeeded, stats.Failed, stats.Released)
			}

			if d.retain > 0 {
				if pruned, err := d.queue.PruneSucceeded(d.retain); err != nil {
					d.logger.Printf("Warning: prune failed: %v", err)
				} else if pruned > 0 {
					d.logger.Printf("Pruned %d succeeded items", pruned)
				}
			}
		}
	}
}
