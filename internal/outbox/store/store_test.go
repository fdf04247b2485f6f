package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/fieldops/fieldsync/internal/outbox"
)

// setupTestDB creates a temporary queue database for testing.
func setupTestDB(t *testing.T) (*DB, string) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "outbox.db")

	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := db.InitSchema(); err != nil {
		t.Fatalf("failed to initialize schema: %v", err)
	}

	return db, dbPath
}

func testItem(t *testing.T, entity outbox.Entity, op outbox.Op, jobID int64) outbox.Item {
	t.Helper()
	return outbox.NewItem(outbox.Payload{
		Entity: entity,
		Op:     op,
		JobID:  jobID,
		Body:   &outbox.NoteBody{Title: outbox.String("t")},
	}, time.Now())
}

func TestReadQueueEmpty(t *testing.T) {
	db, _ := setupTestDB(t)

	items, err := db.ReadQueue()
	if err != nil {
		t.Fatalf("ReadQueue failed: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("expected empty queue, got %d items", len(items))
	}
}

func TestReplaceAndReadPreservesOrder(t *testing.T) {
	db, _ := setupTestDB(t)

	want := []outbox.Item{
		testItem(t, outbox.EntityNote, outbox.OpCreate, 1),
		testItem(t, outbox.EntityNote, outbox.OpCreate, 2),
		testItem(t, outbox.EntityNote, outbox.OpCreate, 3),
	}

	if err := db.ReplaceQueue(want); err != nil {
		t.Fatalf("ReplaceQueue failed: %v", err)
	}

	got, err := db.ReadQueue()
	if err != nil {
		t.Fatalf("ReadQueue failed: %v", err)
	}

	if len(got) != len(want) {
		t.Fatalf("got %d items, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].UID != want[i].UID {
			t.Errorf("position %d: uid = %q, want %q", i, got[i].UID, want[i].UID)
		}
		if got[i].Payload.JobID != want[i].Payload.JobID {
			t.Errorf("position %d: idJob = %d, want %d", i, got[i].Payload.JobID, want[i].Payload.JobID)
		}
	}
}

func TestReplaceOverwritesPrevious(t *testing.T) {
	db, _ := setupTestDB(t)

	first := []outbox.Item{
		testItem(t, outbox.EntityNote, outbox.OpCreate, 1),
		testItem(t, outbox.EntityNote, outbox.OpCreate, 2),
	}
	if err := db.ReplaceQueue(first); err != nil {
		t.Fatalf("ReplaceQueue failed: %v", err)
	}

	second := []outbox.Item{first[1]}
	if err := db.ReplaceQueue(second); err != nil {
		t.Fatalf("second ReplaceQueue failed: %v", err)
	}

	got, err := db.ReadQueue()
	if err != nil {
		t.Fatalf("ReadQueue failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d items, want 1", len(got))
	}
	if got[0].UID != first[1].UID {
		t.Errorf("remaining uid = %q, want %q", got[0].UID, first[1].UID)
	}
}

func TestQueueSurvivesReopen(t *testing.T) {
	db, dbPath := setupTestDB(t)

	item := testItem(t, outbox.EntitySignature, outbox.OpCreate, 9)
	if err := db.ReplaceQueue([]outbox.Item{item}); err != nil {
		t.Fatalf("ReplaceQueue failed: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := Open(dbPath)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	if err := reopened.InitSchema(); err != nil {
		t.Fatalf("InitSchema on reopen failed: %v", err)
	}

	got, err := reopened.ReadQueue()
	if err != nil {
		t.Fatalf("ReadQueue after reopen failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d items after reopen, want 1", len(got))
	}
	if got[0].UID != item.UID {
		t.Errorf("uid after reopen = %q, want %q", got[0].UID, item.UID)
	}
	if got[0].Payload.Entity != outbox.EntitySignature {
		t.Errorf("entity after reopen = %q, want signature", got[0].Payload.Entity)
	}
}

func TestReplaceQueueRoundTripsBody(t *testing.T) {
	db, _ := setupTestDB(t)

	item := outbox.NewItem(outbox.Payload{
		Entity: outbox.EntityMaterial,
		Op:     outbox.OpUpdate,
		JobID:  4,
		ID:     11,
		Body: &outbox.MaterialBody{
			Entries: []outbox.MaterialEntry{
				{MaterialID: 2, UserID: 3, Quantity: 1.5},
			},
		},
	}, time.Now())

	if err := db.ReplaceQueue([]outbox.Item{item}); err != nil {
		t.Fatalf("ReplaceQueue failed: %v", err)
	}

	got, err := db.ReadQueue()
	if err != nil {
		t.Fatalf("ReadQueue failed: %v", err)
	}
	body, ok := got[0].Payload.Body.(*outbox.MaterialBody)
	if !ok {
		t.Fatalf("body has type %T, want *MaterialBody", got[0].Payload.Body)
	}
	if len(body.Entries) != 1 || body.Entries[0].Quantity != 1.5 {
		t.Errorf("entries round-trip mismatch: %+v", body.Entries)
	}
}
