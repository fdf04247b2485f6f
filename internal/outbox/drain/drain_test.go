package drain

import (
	"context"
	"errors"
	"io"
	"log"
	"path/filepath"
	"sync"
	"testing"

	"github.com/fieldops/fieldsync/internal/outbox"
	"github.com/fieldops/fieldsync/internal/outbox/queue"
	"github.com/fieldops/fieldsync/internal/outbox/store"
)

// fakeExecutor scripts per-item outcomes keyed by note title.
type fakeExecutor struct {
	mu       sync.Mutex
	nextID   int64
	outcomes map[string]error // title -> error to return
	executed []string
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{nextID: 100, outcomes: map[string]error{}}
}

func (f *fakeExecutor) Execute(_ context.Context, item outbox.Item) (Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	title := ""
	if b, ok := item.Payload.Body.(*outbox.NoteBody); ok && b.Title != nil {
		title = *b.Title
	}
	f.executed = append(f.executed, title)

	if err, ok := f.outcomes[title]; ok {
		return Result{}, err
	}
	if item.Payload.Op == outbox.OpCreate {
		f.nextID++
		return Result{ServerID: f.nextID}, nil
	}
	return Result{}, nil
}

type resolution struct {
	entity   outbox.Entity
	jobID    int64
	clientID string
	serverID int64
}

type fakeResolver struct {
	mu       sync.Mutex
	resolved []resolution
	cleared  []outbox.Ref
}

func (f *fakeResolver) Resolve(entity outbox.Entity, jobID int64, clientID string, serverID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolved = append(f.resolved, resolution{entity, jobID, clientID, serverID})
}

func (f *fakeResolver) ClearPending(_ outbox.Entity, _ int64, ref outbox.Ref) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared = append(f.cleared, ref)
}

func setupQueue(t *testing.T) *queue.Queue {
	t.Helper()

	db, err := store.Open(filepath.Join(t.TempDir(), "outbox.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := db.InitSchema(); err != nil {
		t.Fatalf("failed to init schema: %v", err)
	}

	return queue.New(db, queue.Config{Logger: log.New(io.Discard, "", 0)})
}

func enqueueNote(t *testing.T, q *queue.Queue, title string) outbox.Item {
	t.Helper()
	item, err := q.Enqueue(outbox.Payload{
		Entity: outbox.EntityNote,
		Op:     outbox.OpCreate,
		JobID:  7,
		Body:   &outbox.NoteBody{Title: outbox.String(title)},
	})
	if err != nil {
		t.Fatalf("Enqueue(%q) failed: %v", title, err)
	}
	return item
}

func statusByUID(t *testing.T, q *queue.Queue, uid string) outbox.Status {
	t.Helper()
	items, err := q.Items()
	if err != nil {
		t.Fatalf("Items failed: %v", err)
	}
	for _, it := range items {
		if it.UID == uid {
			return it.Status
		}
	}
	t.Fatalf("item %s not found in queue", uid)
	return ""
}

func TestDrainOnceReplaysInOrder(t *testing.T) {
	q := setupQueue(t)
	exec := newFakeExecutor()
	d := New(q, Config{Executor: exec, Logger: log.New(io.Discard, "", 0)})

	a := enqueueNote(t, q, "a")
	b := enqueueNote(t, q, "b")
	c := enqueueNote(t, q, "c")

	stats, err := d.DrainOnce(context.Background())
	if err != nil {
		t.Fatalf("DrainOnce failed: %v", err)
	}
	if stats.Succeeded != 3 {
		t.Errorf("succeeded = %d, want 3", stats.Succeeded)
	}

	want := []string{"a", "b", "c"}
	if len(exec.executed) != len(want) {
		t.Fatalf("executed %d items, want %d", len(exec.executed), len(want))
	}
	for i, title := range want {
		if exec.executed[i] != title {
			t.Errorf("execution order[%d] = %q, want %q", i, exec.executed[i], title)
		}
	}

	for _, uid := range []string{a.UID, b.UID, c.UID} {
		if got := statusByUID(t, q, uid); got != outbox.StatusSucceeded {
			t.Errorf("item %s status = %q, want succeeded", uid, got)
		}
	}
}

func TestRetryableFailureStopsCycle(t *testing.T) {
	q := setupQueue(t)
	exec := newFakeExecutor()
	exec.outcomes["b"] = errors.New("connection refused")
	d := New(q, Config{Executor: exec, Logger: log.New(io.Discard, "", 0)})

	enqueueNote(t, q, "a")
	b := enqueueNote(t, q, "b")
	c := enqueueNote(t, q, "c")

	stats, err := d.DrainOnce(context.Background())
	if err != nil {
		t.Fatalf("DrainOnce failed: %v", err)
	}
	if stats.Succeeded != 1 || stats.Released != 1 {
		t.Errorf("stats = %+v, want 1 succeeded, 1 released", stats)
	}

	// b went back to pending, c was never attempted.
	if got := statusByUID(t, q, b.UID); got != outbox.StatusPending {
		t.Errorf("failed item status = %q, want pending", got)
	}
	if got := statusByUID(t, q, c.UID); got != outbox.StatusPending {
		t.Errorf("later item status = %q, want pending", got)
	}
	for _, title := range exec.executed {
		if title == "c" {
			t.Error("item after a retryable failure was executed in the same cycle")
		}
	}

	// Next cycle picks b up again.
	delete(exec.outcomes, "b")
	stats, err = d.DrainOnce(context.Background())
	if err != nil {
		t.Fatalf("second DrainOnce failed: %v", err)
	}
	if stats.Succeeded != 2 {
		t.Errorf("second cycle succeeded = %d, want 2", stats.Succeeded)
	}
}

func TestTerminalFailureMarksFailedAndContinues(t *testing.T) {
	q := setupQueue(t)
	exec := newFakeExecutor()
	exec.outcomes["bad"] = Terminal(errors.New("422 validation failed"))
	d := New(q, Config{Executor: exec, Logger: log.New(io.Discard, "", 0)})

	bad := enqueueNote(t, q, "bad")
	good := enqueueNote(t, q, "good")

	stats, err := d.DrainOnce(context.Background())
	if err != nil {
		t.Fatalf("DrainOnce failed: %v", err)
	}
	if stats.Failed != 1 || stats.Succeeded != 1 {
		t.Errorf("stats = %+v, want 1 failed, 1 succeeded", stats)
	}
	if got := statusByUID(t, q, bad.UID); got != outbox.StatusFailed {
		t.Errorf("terminal item status = %q, want failed", got)
	}
	if got := statusByUID(t, q, good.UID); got != outbox.StatusSucceeded {
		t.Errorf("item after terminal failure status = %q, want succeeded", got)
	}
}

func TestSuccessfulCreateResolvesClientID(t *testing.T) {
	q := setupQueue(t)
	exec := newFakeExecutor()
	res := &fakeResolver{}
	d := New(q, Config{Executor: exec, Resolver: res, Logger: log.New(io.Discard, "", 0)})

	created := enqueueNote(t, q, "a")

	if _, err := d.DrainOnce(context.Background()); err != nil {
		t.Fatalf("DrainOnce failed: %v", err)
	}

	if len(res.resolved) != 1 {
		t.Fatalf("resolver saw %d resolutions, want 1", len(res.resolved))
	}
	got := res.resolved[0]
	if got.clientID != created.Payload.ClientID {
		t.Errorf("resolved clientID = %q, want %q", got.clientID, created.Payload.ClientID)
	}
	if got.serverID == 0 {
		t.Error("resolved serverID is zero")
	}
	if got.entity != outbox.EntityNote || got.jobID != 7 {
		t.Errorf("resolved entity/job = %s/%d, want note/7", got.entity, got.jobID)
	}
}

func TestSuccessfulCreateRetargetsLaterUpdate(t *testing.T) {
	q := setupQueue(t)
	exec := newFakeExecutor()
	exec.outcomes["update me"] = errors.New("offline again")
	d := New(q, Config{Executor: exec, Logger: log.New(io.Discard, "", 0)})

	created := enqueueNote(t, q, "create me")

	// Creeps in while the create is mid-flight: mark in_progress so the
	// update cannot coalesce into it, then enqueue the follow-up update
	// addressed only by clientId.
	if err := q.MarkInProgress(created.UID); err != nil {
		t.Fatalf("MarkInProgress failed: %v", err)
	}
	upd, err := q.Enqueue(outbox.Payload{
		Entity:   outbox.EntityNote,
		Op:       outbox.OpUpdate,
		JobID:    7,
		ClientID: created.Payload.ClientID,
		Body:     &outbox.NoteBody{Title: outbox.String("update me")},
	})
	if err != nil {
		t.Fatalf("Enqueue update failed: %v", err)
	}

	if _, err := d.DrainOnce(context.Background()); err != nil {
		t.Fatalf("DrainOnce failed: %v", err)
	}

	// The create confirmed and its server id flowed into the queued update,
	// which itself stayed pending after a retryable failure.
	got := statusByUID(t, q, upd.UID)
	if got != outbox.StatusPending {
		t.Fatalf("update status = %q, want pending", got)
	}
	items, err := q.Items()
	if err != nil {
		t.Fatalf("Items failed: %v", err)
	}
	for _, it := range items {
		if it.UID == upd.UID && it.Payload.ID == 0 {
			t.Error("queued update still addresses the entity only by clientId")
		}
	}
}

func TestStaleInProgressItemsAreReplayed(t *testing.T) {
	q := setupQueue(t)
	exec := newFakeExecutor()
	d := New(q, Config{Executor: exec, Logger: log.New(io.Discard, "", 0)})

	item := enqueueNote(t, q, "orphan")
	if err := q.MarkInProgress(item.UID); err != nil {
		t.Fatalf("MarkInProgress failed: %v", err)
	}

	stats, err := d.DrainOnce(context.Background())
	if err != nil {
		t.Fatalf("DrainOnce failed: %v", err)
	}
	if stats.Succeeded != 1 {
		t.Errorf("succeeded = %d, want 1 (stale in_progress item replayed)", stats.Succeeded)
	}
}

func TestDrainOnceStopsOnCancelledContext(t *testing.T) {
	q := setupQueue(t)
	exec := newFakeExecutor()
	d := New(q, Config{Executor: exec, Logger: log.New(io.Discard, "", 0)})

	enqueueNote(t, q, "a")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := d.DrainOnce(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("DrainOnce with cancelled context returned %v, want context.Canceled", err)
	}
}

func TestIsTerminal(t *testing.T) {
	if IsTerminal(errors.New("plain")) {
		t.Error("plain error classified as terminal")
	}
	wrapped := Terminal(errors.New("bad request"))
	if !IsTerminal(wrapped) {
		t.Error("Terminal error not classified as terminal")
	}
	// Survives further wrapping.
	if !IsTerminal(errors.Join(errors.New("context"), wrapped)) {
		t.Error("wrapped terminal error not detected")
	}
}
