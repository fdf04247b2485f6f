package reconcile

import (
	"io"
	"log"
	"path/filepath"
	"testing"

	"github.com/fieldops/fieldsync/internal/outbox"
	"github.com/fieldops/fieldsync/internal/outbox/queue"
	"github.com/fieldops/fieldsync/internal/outbox/store"
)

// fakeEnqueuer records payloads without persisting anything.
type fakeEnqueuer struct {
	payloads []outbox.Payload
	err      error
}

func (f *fakeEnqueuer) Enqueue(p outbox.Payload) (outbox.Item, error) {
	if f.err != nil {
		return outbox.Item{}, f.err
	}
	f.payloads = append(f.payloads, p)
	return outbox.Item{UID: "fake", Payload: p}, nil
}

func setupReconciler(t *testing.T) (*Reconciler, *fakeEnqueuer) {
	t.Helper()
	enq := &fakeEnqueuer{}
	r := New(enq, NewMemoryStore(), log.New(io.Discard, "", 0))
	return r, enq
}

func TestCreatePrependsPendingAndReturnsClientID(t *testing.T) {
	r, enq := setupReconciler(t)

	clientID, err := r.Notes.Create(7, "A", "first note")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if clientID == "" {
		t.Fatal("Create returned empty clientId")
	}

	notes := r.Notes.List(7)
	if len(notes) != 1 {
		t.Fatalf("cache has %d notes, want 1", len(notes))
	}
	if !notes[0].Pending {
		t.Error("cached note not tagged pending")
	}
	if notes[0].ClientID != clientID {
		t.Errorf("cached clientId = %q, want %q", notes[0].ClientID, clientID)
	}

	// Second create prepends.
	if _, err := r.Notes.Create(7, "B", ""); err != nil {
		t.Fatalf("second Create failed: %v", err)
	}
	notes = r.Notes.List(7)
	if len(notes) != 2 || notes[0].Title != "B" {
		t.Errorf("create did not prepend: %+v", notes)
	}

	if len(enq.payloads) != 2 || enq.payloads[0].Op != outbox.OpCreate {
		t.Errorf("enqueued payloads = %+v", enq.payloads)
	}
}

// Dual-key matching: a clientId-only ref must not match an entry that only
// has a server id; a server-id ref matches regardless of client ids
// elsewhere in the list.
func TestUpdateDualKeyMatching(t *testing.T) {
	r, _ := setupReconciler(t)

	r.Notes.save(7, []Note{
		{ID: 5, Title: "server note"},
		{ClientID: "xyz", Title: "local note"},
	})

	// clientId "abc" matches nothing.
	if err := r.Notes.Update(7, outbox.Local("abc"), outbox.NoteBody{Title: outbox.String("X")}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	notes := r.Notes.List(7)
	if notes[0].Title != "server note" || notes[1].Title != "local note" {
		t.Errorf("clientId-only ref matched something it should not: %+v", notes)
	}

	// id 5 matches the first entry only.
	if err := r.Notes.Update(7, outbox.Remote(5), outbox.NoteBody{Title: outbox.String("Y")}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	notes = r.Notes.List(7)
	if notes[0].Title != "Y" {
		t.Errorf("id ref did not match: %+v", notes[0])
	}
	if !notes[0].Pending {
		t.Error("updated note not tagged pending")
	}
	if notes[1].Title != "local note" || notes[1].Pending {
		t.Errorf("unmatched note was touched: %+v", notes[1])
	}
}

func TestUpdatePatchesOnlySetFields(t *testing.T) {
	r, _ := setupReconciler(t)

	r.Notes.save(7, []Note{{ID: 5, Title: "keep", Description: "old"}})

	err := r.Notes.Update(7, outbox.Remote(5), outbox.NoteBody{Description: outbox.String("new")})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	note := r.Notes.List(7)[0]
	if note.Title != "keep" {
		t.Errorf("unset field overwritten: title = %q", note.Title)
	}
	if note.Description != "new" {
		t.Errorf("description = %q, want new", note.Description)
	}
}

func TestDeleteFiltersOut(t *testing.T) {
	r, enq := setupReconciler(t)

	r.Notes.save(7, []Note{
		{ID: 5, Title: "a"},
		{ClientID: "xyz", Title: "b"},
	})

	if err := r.Notes.Delete(7, outbox.Local("xyz")); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	notes := r.Notes.List(7)
	if len(notes) != 1 || notes[0].ID != 5 {
		t.Errorf("delete removed the wrong entry: %+v", notes)
	}

	last := enq.payloads[len(enq.payloads)-1]
	if last.Op != outbox.OpDelete || last.ClientID != "xyz" {
		t.Errorf("delete payload = %+v", last)
	}
}

func TestResolveReconcilesEntry(t *testing.T) {
	r, _ := setupReconciler(t)

	clientID, err := r.Signatures.Create(3, "R. Vega", "foreman", "/spool/sig1.png", 1700000000000)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	r.Resolve(outbox.EntitySignature, 3, clientID, 88)

	sigs := r.Signatures.List(3)
	if sigs[0].ID != 88 {
		t.Errorf("resolved id = %d, want 88", sigs[0].ID)
	}
	if sigs[0].Pending {
		t.Error("resolved entry still pending")
	}
	if sigs[0].ClientID != clientID {
		t.Error("resolve dropped the clientId")
	}

	// Both keys now address the same entry.
	if err := r.Signatures.Update(3, outbox.Remote(88), outbox.SignatureBody{SignerRole: outbox.String("lead")}); err != nil {
		t.Fatalf("Update by id failed: %v", err)
	}
	if got := r.Signatures.List(3)[0].SignerRole; got != "lead" {
		t.Errorf("role = %q, want lead", got)
	}
}

func TestMaterialListUpdateTagsRows(t *testing.T) {
	r, _ := setupReconciler(t)

	r.Materials.save(4, []Material{
		{ID: 1, MaterialID: 2, UserID: 3, Quantity: 1},
		{ID: 2, MaterialID: 9, UserID: 3, Quantity: 4},
	})

	err := r.Materials.UpdateList(4, []outbox.MaterialEntry{{MaterialID: 2, UserID: 3, Quantity: 6}})
	if err != nil {
		t.Fatalf("UpdateList failed: %v", err)
	}

	rows := r.Materials.List(4)
	if rows[0].Quantity != 6 || !rows[0].Pending {
		t.Errorf("matched row not updated: %+v", rows[0])
	}
	if rows[1].Quantity != 4 || rows[1].Pending {
		t.Errorf("unmatched row touched: %+v", rows[1])
	}
}

// Against the real queue: creating then deleting a note offline leaves no
// queue items and no cache entry.
func TestCreateThenDeleteLeavesNothing(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "outbox.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.InitSchema(); err != nil {
		t.Fatalf("failed to init schema: %v", err)
	}

	quiet := log.New(io.Discard, "", 0)
	q := queue.New(db, queue.Config{Logger: quiet})
	r := New(q, NewMemoryStore(), quiet)

	clientID, err := r.Notes.Create(7, "ephemeral", "")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := r.Notes.Delete(7, outbox.Local(clientID)); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	if got := r.Notes.List(7); len(got) != 0 {
		t.Errorf("cache still has %d notes", len(got))
	}
	items, err := q.Items()
	if err != nil {
		t.Fatalf("Items failed: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("queue still has %d items", len(items))
	}
}
