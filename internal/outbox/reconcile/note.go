package reconcile

import (
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/fieldops/fieldsync/internal/outbox"
)

// Note is the UI-facing projection of a job note.
type Note struct {
	ID          int64  `json:"id,omitempty"`
	ClientID    string `json:"clientId,omitempty"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Pending     bool   `json:"pending"`
}

// Ref returns the note's logical identity.
func (n Note) Ref() outbox.Ref {
	return outbox.Ref{ID: n.ID, ClientID: n.ClientID}
}

// Notes is the offline adapter for job notes.
type Notes struct {
	queue  Enqueuer
	store  ListStore
	logger *log.Logger
}

func (a *Notes) list(jobID int64) []Note {
	v, ok := a.store.Get(listKey("notes", jobID))
	if !ok {
		return nil
	}
	notes, ok := v.([]Note)
	if !ok {
		a.logger.Printf("notes cache for job %d held %T, resetting", jobID, v)
		return nil
	}
	return notes
}

func (a *Notes) save(jobID int64, notes []Note) {
	a.store.Set(listKey("notes", jobID), notes)
}

// Create prepends a pending note to the job's cached list and enqueues the
// create. Returns the minted clientId so the UI can address the note before
// the server assigns an id.
func (a *Notes) Create(jobID int64, title, description string) (string, error) {
	clientID := uuid.NewString()

	a.save(jobID, append([]Note{{
		ClientID:    clientID,
		Title:       title,
		Description: description,
		Pending:     true,
	}}, a.list(jobID)...))

	_, err := a.queue.Enqueue(outbox.Payload{
		Entity:   outbox.EntityNote,
		Op:       outbox.OpCreate,
		JobID:    jobID,
		ClientID: clientID,
		Body: &outbox.NoteBody{
			Title:       outbox.String(title),
			Description: outbox.String(description),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to enqueue note create: %w", err)
	}
	return clientID, nil
}

// Update patches the cached note matching ref with the set fields of patch
// and enqueues the update.
func (a *Notes) Update(jobID int64, ref outbox.Ref, patch outbox.NoteBody) error {
	notes := a.list(jobID)
	for i := range notes {
		if !ref.Matches(notes[i].Ref()) {
			continue
		}
		if patch.Title != nil {
			notes[i].Title = *patch.Title
		}
		if patch.Description != nil {
			notes[i].Description = *patch.Description
		}
		notes[i].Pending = true
	}
	a.save(jobID, notes)

	_, err := a.queue.Enqueue(outbox.Payload{
		Entity:   outbox.EntityNote,
		Op:       outbox.OpUpdate,
		JobID:    jobID,
		ID:       ref.ID,
		ClientID: ref.ClientID,
		Body:     &patch,
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue note update: %w", err)
	}
	return nil
}

// Delete removes the cached note matching ref and enqueues the delete.
func (a *Notes) Delete(jobID int64, ref outbox.Ref) error {
	notes := a.list(jobID)
	kept := notes[:0]
	for _, n := range notes {
		if ref.Matches(n.Ref()) {
			continue
		}
		kept = append(kept, n)
	}
	a.save(jobID, kept)

	_, err := a.queue.Enqueue(outbox.Payload{
		Entity:   outbox.EntityNote,
		Op:       outbox.OpDelete,
		JobID:    jobID,
		ID:       ref.ID,
		ClientID: ref.ClientID,
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue note delete: %w", err)
	}
	return nil
}

// List returns the job's cached notes.
func (a *Notes) List(jobID int64) []Note {
	return a.list(jobID)
}

// Resolve stamps the server id on the note created as clientID and clears
// its pending tag.
func (a *Notes) Resolve(jobID int64, clientID string, serverID int64) {
	notes := a.list(jobID)
	for i := range notes {
		if notes[i].ClientID == clientID {
			notes[i].ID = serverID
			notes[i].Pending = false
		}
	}
	a.save(jobID, notes)
}

// ClearPending drops the pending tag on the note matching ref.
func (a *Notes) ClearPending(jobID int64, ref outbox.Ref) {
	notes := a.list(jobID)
	for i := range notes {
		if ref.Matches(notes[i].Ref()) {
			notes[i].Pending = false
		}
	}
	a.save(jobID, notes)
}
