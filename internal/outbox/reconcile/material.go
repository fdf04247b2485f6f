package reconcile

import (
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/fieldops/fieldsync/internal/outbox"
)

// Material is the UI-facing projection of a report material row.
type Material struct {
	ID         int64   `json:"id,omitempty"`
	ClientID   string  `json:"clientId,omitempty"`
	MaterialID int64   `json:"idMaterial"`
	UserID     int64   `json:"idUser"`
	Quantity   float64 `json:"quantity"`
	Pending    bool    `json:"pending"`
}

// Ref returns the row's logical identity.
func (m Material) Ref() outbox.Ref {
	return outbox.Ref{ID: m.ID, ClientID: m.ClientID}
}

// Key returns the composite (material, user) key rows are matched by when
// no server id exists yet.
func (m Material) Key() outbox.MaterialKey {
	return outbox.MaterialKey{MaterialID: m.MaterialID, UserID: m.UserID}
}

// Materials is the offline adapter for report material rows.
type Materials struct {
	queue  Enqueuer
	store  ListStore
	logger *log.Logger
}

func (a *Materials) list(jobID int64) []Material {
	v, ok := a.store.Get(listKey("materials", jobID))
	if !ok {
		return nil
	}
	rows, ok := v.([]Material)
	if !ok {
		a.logger.Printf("materials cache for job %d held %T, resetting", jobID, v)
		return nil
	}
	return rows
}

func (a *Materials) save(jobID int64, rows []Material) {
	a.store.Set(listKey("materials", jobID), rows)
}

// Create prepends a pending material row and enqueues the create.
func (a *Materials) Create(jobID, materialID, userID int64, quantity float64) (string, error) {
	clientID := uuid.NewString()

	a.save(jobID, append([]Material{{
		ClientID:   clientID,
		MaterialID: materialID,
		UserID:     userID,
		Quantity:   quantity,
		Pending:    true,
	}}, a.list(jobID)...))

	_, err := a.queue.Enqueue(outbox.Payload{
		Entity:   outbox.EntityMaterial,
		Op:       outbox.OpCreate,
		JobID:    jobID,
		ClientID: clientID,
		Body: &outbox.MaterialBody{
			MaterialID: outbox.Int64(materialID),
			UserID:     outbox.Int64(userID),
			Quantity:   outbox.Float64(quantity),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to enqueue material create: %w", err)
	}
	return clientID, nil
}

// UpdateList applies a batch of quantity changes to the cached rows and
// enqueues one list update for the job. Entries matching a still-pending
// create are folded into it by the queue rather than sent twice.
func (a *Materials) UpdateList(jobID int64, entries []outbox.MaterialEntry) error {
	rows := a.list(jobID)
	for _, e := range entries {
		for i := range rows {
			if rows[i].Key() == e.Key() {
				rows[i].Quantity = e.Quantity
				rows[i].Pending = true
			}
		}
	}
	a.save(jobID, rows)

	_, err := a.queue.Enqueue(outbox.Payload{
		Entity: outbox.EntityMaterial,
		Op:     outbox.OpUpdate,
		JobID:  jobID,
		Body:   &outbox.MaterialBody{Entries: entries},
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue material list update: %w", err)
	}
	return nil
}

// Delete removes the cached row matching ref and enqueues the delete.
func (a *Materials) Delete(jobID int64, ref outbox.Ref) error {
	rows := a.list(jobID)
	kept := rows[:0]
	for _, m := range rows {
		if ref.Matches(m.Ref()) {
			continue
		}
		kept = append(kept, m)
	}
	a.save(jobID, kept)

	_, err := a.queue.Enqueue(outbox.Payload{
		Entity:   outbox.EntityMaterial,
		Op:       outbox.OpDelete,
		JobID:    jobID,
		ID:       ref.ID,
		ClientID: ref.ClientID,
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue material delete: %w", err)
	}
	return nil
}

// List returns the job's cached material rows.
func (a *Materials) List(jobID int64) []Material {
	return a.list(jobID)
}

// Resolve stamps the server id on the row created as clientID and clears
// its pending tag.
func (a *Materials) Resolve(jobID int64, clientID string, serverID int64) {
	rows := a.list(jobID)
	for i := range rows {
		if rows[i].ClientID == clientID {
			rows[i].ID = serverID
			rows[i].Pending = false
		}
	}
	a.save(jobID, rows)
}

// ClearPending drops the pending tag on rows matching ref. A zero ref
// clears the whole job — a confirmed list update covers every row it sent.
func (a *Materials) ClearPending(jobID int64, ref outbox.Ref) {
	rows := a.list(jobID)
	for i := range rows {
		if ref.IsZero() || ref.Matches(rows[i].Ref()) {
			rows[i].Pending = false
		}
	}
	a.save(jobID, rows)
}
