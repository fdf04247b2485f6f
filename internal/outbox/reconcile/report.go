package reconcile

import (
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/fieldops/fieldsync/internal/outbox"
)

// Report is the UI-facing projection of a condition report.
type Report struct {
	ID         int64    `json:"id,omitempty"`
	ClientID   string   `json:"clientId,omitempty"`
	Condition  string   `json:"condition"`
	Severity   int      `json:"severity"`
	Remarks    string   `json:"remarks,omitempty"`
	PhotoPaths []string `json:"photoPaths,omitempty"`
	Pending    bool     `json:"pending"`
}

// Ref returns the report's logical identity.
func (r Report) Ref() outbox.Ref {
	return outbox.Ref{ID: r.ID, ClientID: r.ClientID}
}

// Reports is the offline adapter for condition reports.
type Reports struct {
	queue  Enqueuer
	store  ListStore
	logger *log.Logger
}

func (a *Reports) list(jobID int64) []Report {
	v, ok := a.store.Get(listKey("reports", jobID))
	if !ok {
		return nil
	}
	reports, ok := v.([]Report)
	if !ok {
		a.logger.Printf("reports cache for job %d held %T, resetting", jobID, v)
		return nil
	}
	return reports
}

func (a *Reports) save(jobID int64, reports []Report) {
	a.store.Set(listKey("reports", jobID), reports)
}

// Create prepends a pending condition report and enqueues the create.
func (a *Reports) Create(jobID int64, condition string, severity int, remarks string, photoPaths []string) (string, error) {
	clientID := uuid.NewString()

	a.save(jobID, append([]Report{{
		ClientID:   clientID,
		Condition:  condition,
		Severity:   severity,
		Remarks:    remarks,
		PhotoPaths: photoPaths,
		Pending:    true,
	}}, a.list(jobID)...))

	_, err := a.queue.Enqueue(outbox.Payload{
		Entity:   outbox.EntityReport,
		Op:       outbox.OpCreate,
		JobID:    jobID,
		ClientID: clientID,
		Body: &outbox.ReportBody{
			Condition:  outbox.String(condition),
			Severity:   outbox.Int(severity),
			Remarks:    outbox.String(remarks),
			PhotoPaths: photoPaths,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to enqueue report create: %w", err)
	}
	return clientID, nil
}

// Update patches the cached report matching ref and enqueues the update.
func (a *Reports) Update(jobID int64, ref outbox.Ref, patch outbox.ReportBody) error {
	reports := a.list(jobID)
	for i := range reports {
		if !ref.Matches(reports[i].Ref()) {
			continue
		}
		if patch.Condition != nil {
			reports[i].Condition = *patch.Condition
		}
		if patch.Severity != nil {
			reports[i].Severity = *patch.Severity
		}
		if patch.Remarks != nil {
			reports[i].Remarks = *patch.Remarks
		}
		if patch.PhotoPaths != nil {
			reports[i].PhotoPaths = patch.PhotoPaths
		}
		reports[i].Pending = true
	}
	a.save(jobID, reports)

	_, err := a.queue.Enqueue(outbox.Payload{
		Entity:   outbox.EntityReport,
		Op:       outbox.OpUpdate,
		JobID:    jobID,
		ID:       ref.ID,
		ClientID: ref.ClientID,
		Body:     &patch,
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue report update: %w", err)
	}
	return nil
}

// Delete removes the cached report matching ref and enqueues the delete.
func (a *Reports) Delete(jobID int64, ref outbox.Ref) error {
	reports := a.list(jobID)
	kept := reports[:0]
	for _, r := range reports {
		if ref.Matches(r.Ref()) {
			continue
		}
		kept = append(kept, r)
	}
	a.save(jobID, kept)

	_, err := a.queue.Enqueue(outbox.Payload{
		Entity:   outbox.EntityReport,
		Op:       outbox.OpDelete,
		JobID:    jobID,
		ID:       ref.ID,
		ClientID: ref.ClientID,
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue report delete: %w", err)
	}
	return nil
}

// List returns the job's cached reports.
func (a *Reports) List(jobID int64) []Report {
	return a.list(jobID)
}

// Resolve stamps the server id on the report created as clientID and clears
// its pending tag.
func (a *Reports) Resolve(jobID int64, clientID string, serverID int64) {
	reports := a.list(jobID)
	for i := range reports {
		if reports[i].ClientID == clientID {
			reports[i].ID = serverID
			reports[i].Pending = false
		}
	}
	a.save(jobID, reports)
}

// ClearPending drops the pending tag on the report matching ref.
func (a *Reports) ClearPending(jobID int64, ref outbox.Ref) {
	reports := a.list(jobID)
	for i := range reports {
		if ref.Matches(reports[i].Ref()) {
			reports[i].Pending = false
		}
	}
	a.save(jobID, reports)
}
