package reconcile

import (
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/fieldops/fieldsync/internal/outbox"
)

// Signature is the UI-facing projection of a captured signature.
type Signature struct {
	ID         int64  `json:"id,omitempty"`
	ClientID   string `json:"clientId,omitempty"`
	SignerName string `json:"signerName"`
	SignerRole string `json:"signerRole,omitempty"`
	ImagePath  string `json:"imagePath"`
	CapturedAt int64  `json:"capturedAt"`
	Pending    bool   `json:"pending"`
}

// Ref returns the signature's logical identity.
func (s Signature) Ref() outbox.Ref {
	return outbox.Ref{ID: s.ID, ClientID: s.ClientID}
}

// Signatures is the offline adapter for captured signatures.
type Signatures struct {
	queue  Enqueuer
	store  ListStore
	logger *log.Logger
}

func (a *Signatures) list(jobID int64) []Signature {
	v, ok := a.store.Get(listKey("signatures", jobID))
	if !ok {
		return nil
	}
	sigs, ok := v.([]Signature)
	if !ok {
		a.logger.Printf("signatures cache for job %d held %T, resetting", jobID, v)
		return nil
	}
	return sigs
}

func (a *Signatures) save(jobID int64, sigs []Signature) {
	a.store.Set(listKey("signatures", jobID), sigs)
}

// Create prepends a pending signature to the job's cached list and enqueues
// the create. The image stays on device at imagePath until replay uploads it.
func (a *Signatures) Create(jobID int64, signerName, signerRole, imagePath string, capturedAt int64) (string, error) {
	clientID := uuid.NewString()

	a.save(jobID, append([]Signature{{
		ClientID:   clientID,
		SignerName: signerName,
		SignerRole: signerRole,
		ImagePath:  imagePath,
		CapturedAt: capturedAt,
		Pending:    true,
	}}, a.list(jobID)...))

	_, err := a.queue.Enqueue(outbox.Payload{
		Entity:   outbox.EntitySignature,
		Op:       outbox.OpCreate,
		JobID:    jobID,
		ClientID: clientID,
		Body: &outbox.SignatureBody{
			SignerName: outbox.String(signerName),
			SignerRole: outbox.String(signerRole),
			ImagePath:  outbox.String(imagePath),
			CapturedAt: outbox.Int64(capturedAt),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to enqueue signature create: %w", err)
	}
	return clientID, nil
}

// Update patches the cached signature matching ref and enqueues the update.
func (a *Signatures) Update(jobID int64, ref outbox.Ref, patch outbox.SignatureBody) error {
	sigs := a.list(jobID)
	for i := range sigs {
		if !ref.Matches(sigs[i].Ref()) {
			continue
		}
		if patch.SignerName != nil {
			sigs[i].SignerName = *patch.SignerName
		}
		if patch.SignerRole != nil {
			sigs[i].SignerRole = *patch.SignerRole
		}
		if patch.ImagePath != nil {
			sigs[i].ImagePath = *patch.ImagePath
		}
		if patch.CapturedAt != nil {
			sigs[i].CapturedAt = *patch.CapturedAt
		}
		sigs[i].Pending = true
	}
	a.save(jobID, sigs)

	_, err := a.queue.Enqueue(outbox.Payload{
		Entity:   outbox.EntitySignature,
		Op:       outbox.OpUpdate,
		JobID:    jobID,
		ID:       ref.ID,
		ClientID: ref.ClientID,
		Body:     &patch,
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue signature update: %w", err)
	}
	return nil
}

// Delete removes the cached signature matching ref and enqueues the delete.
func (a *Signatures) Delete(jobID int64, ref outbox.Ref) error {
	sigs := a.list(jobID)
	kept := sigs[:0]
	for _, s := range sigs {
		if ref.Matches(s.Ref()) {
			continue
		}
		kept = append(kept, s)
	}
	a.save(jobID, kept)

	_, err := a.queue.Enqueue(outbox.Payload{
		Entity:   outbox.EntitySignature,
		Op:       outbox.OpDelete,
		JobID:    jobID,
		ID:       ref.ID,
		ClientID: ref.ClientID,
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue signature delete: %w", err)
	}
	return nil
}

// List returns the job's cached signatures.
func (a *Signatures) List(jobID int64) []Signature {
	return a.list(jobID)
}

// Resolve stamps the server id on the signature created as clientID and
// clears its pending tag.
func (a *Signatures) Resolve(jobID int64, clientID string, serverID int64) {
	sigs := a.list(jobID)
	for i := range sigs {
		if sigs[i].ClientID == clientID {
			sigs[i].ID = serverID
			sigs[i].Pending = false
		}
	}
	a.save(jobID, sigs)
}

// ClearPending drops the pending tag on the signature matching ref.
func (a *Signatures) ClearPending(jobID int64, ref outbox.Ref) {
	sigs := a.list(jobID)
	for i := range sigs {
		if ref.Matches(sigs[i].Ref()) {
			sigs[i].Pending = false
		}
	}
	a.save(jobID, sigs)
}
