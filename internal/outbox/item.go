// Package outbox defines the data model for the offline outbox: durable
// records of pending mutations awaiting replay against the backend.
//
// Each mutation a field crew performs while offline (adding a note,
// capturing a signature, adjusting report materials, filing a condition
// report) becomes an Item. Items are persisted in insertion order, coalesced
// when they target the same logical entity, and drained once connectivity
// returns.
package outbox

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Status is the replay lifecycle state of an outbox item.
type Status string

const (
	// StatusPending means the item is waiting for the next drain cycle.
	StatusPending Status = "pending"

	// StatusInProgress means a drain cycle is currently replaying the item.
	StatusInProgress Status = "in_progress"

	// StatusSucceeded means the server confirmed the mutation.
	StatusSucceeded Status = "succeeded"

	// StatusFailed means the server rejected the mutation with a terminal
	// error. Retryable errors return the item to pending instead.
	StatusFailed Status = "failed"
)

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusSucceeded, StatusFailed:
		return true
	}
	return false
}

// Active reports whether the item still has work outstanding
// (pending or in_progress).
func (s Status) Active() bool {
	return s == StatusPending || s == StatusInProgress
}

// Op is the kind of mutation an item carries.
type Op string

const (
	// OpCreate creates a new entity on the server.
	OpCreate Op = "create"
	// OpUpdate modifies an existing (or still pending-create) entity.
	OpUpdate Op = "update"
	// OpDelete removes an entity from the server.
	OpDelete Op = "delete"
)

// Valid reports whether op is a known operation kind.
func (op Op) Valid() bool {
	return op == OpCreate || op == OpUpdate || op == OpDelete
}

// Payload describes the mutation an outbox item will replay.
//
// ID and ClientID together form the item's logical identity (see Ref):
// ClientID is minted locally at enqueue time and stands in for the server
// id until the create is confirmed; afterwards ID is authoritative.
type Payload struct {
	// Entity names the entity type ("note", "signature", "material", "report").
	Entity Entity `json:"entity"`

	// Op is the mutation kind.
	Op Op `json:"op"`

	// JobID is the owning job, when the entity belongs to one.
	JobID int64 `json:"idJob,omitempty"`

	// ID is the server-assigned id, once known.
	ID int64 `json:"id,omitempty"`

	// ClientID is the locally minted stand-in id for not-yet-created entities.
	ClientID string `json:"clientId,omitempty"`

	// Body carries the entity-specific fields of the mutation.
	Body Body `json:"body,omitempty"`

	// ClientCreatedAt / ClientUpdatedAt are device-local timestamps
	// (milliseconds since epoch) recorded when the user acted.
	ClientCreatedAt int64 `json:"clientCreatedAt,omitempty"`
	ClientUpdatedAt int64 `json:"clientUpdatedAt,omitempty"`
}

// Ref returns the logical identity of the payload's target.
func (p Payload) Ref() Ref {
	return Ref{ID: p.ID, ClientID: p.ClientID}
}

// SameTarget reports whether p and q address the same logical entity:
// same entity type, same owning job, and matching identity.
func (p Payload) SameTarget(q Payload) bool {
	return p.Entity == q.Entity && p.JobID == q.JobID && p.Ref().Matches(q.Ref())
}

// payloadJSON mirrors Payload for (de)serialization. JobID is decoded
// leniently because historical records stored it both as a number and as a
// numeric string.
type payloadJSON struct {
	Entity          Entity          `json:"entity"`
	Op              Op              `json:"op"`
	JobID           json.RawMessage `json:"idJob,omitempty"`
	ID              int64           `json:"id,omitempty"`
	ClientID        string          `json:"clientId,omitempty"`
	Body            json.RawMessage `json:"body,omitempty"`
	ClientCreatedAt int64           `json:"clientCreatedAt,omitempty"`
	ClientUpdatedAt int64           `json:"clientUpdatedAt,omitempty"`
}

// UnmarshalJSON decodes a payload, selecting the concrete Body type from
// the entity name and tolerating string-typed job ids.
func (p *Payload) UnmarshalJSON(data []byte) error {
	var raw payloadJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	jobID, err := lenientInt64(raw.JobID)
	if err != nil {
		return fmt.Errorf("invalid idJob: %w", err)
	}

	body, err := DecodeBody(raw.Entity, raw.Body)
	if err != nil {
		return err
	}

	p.Entity = raw.Entity
	p.Op = raw.Op
	p.JobID = jobID
	p.ID = raw.ID
	p.ClientID = raw.ClientID
	p.Body = body
	p.ClientCreatedAt = raw.ClientCreatedAt
	p.ClientUpdatedAt = raw.ClientUpdatedAt
	return nil
}

// lenientInt64 parses a JSON number or numeric string into an int64.
func lenientInt64(raw json.RawMessage) (int64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, nil
	}
	s := string(raw)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Item is one durable record of a pending mutation.
//
// Items are uniquely identified by UID. Their logical identity for
// coalescing purposes is (entity, job, id-or-clientId); after coalescing at
// most one pending create exists per logical identity.
type Item struct {
	UID       string  `json:"uid"`
	Status    Status  `json:"status"`
	CreatedAt int64   `json:"createdAt"`
	UpdatedAt int64   `json:"updatedAt"`
	Payload   Payload `json:"payload"`
}

// NewItem builds a pending item for the given payload, minting a UID and
// stamping creation time. For creates without a ClientID, a fresh one is
// minted so the entity can be referenced before the server assigns an id.
func NewItem(p Payload, now time.Time) Item {
	if p.Op == OpCreate && p.ClientID == "" {
		p.ClientID = uuid.NewString()
	}
	ms := now.UnixMilli()
	if p.ClientCreatedAt == 0 {
		p.ClientCreatedAt = ms
	}
	return Item{
		UID:       uuid.NewString(),
		Status:    StatusPending,
		CreatedAt: ms,
		UpdatedAt: ms,
		Payload:   p,
	}
}

// Validate checks structural validity of an item.
func (it *Item) Validate() error {
	if it.UID == "" {
		return fmt.Errorf("uid is required")
	}
	if !it.Status.Valid() {
		return fmt.Errorf("invalid status %q", it.Status)
	}
	if !it.Payload.Entity.Valid() {
		return fmt.Errorf("invalid entity %q", it.Payload.Entity)
	}
	if !it.Payload.Op.Valid() {
		return fmt.Errorf("invalid op %q", it.Payload.Op)
	}
	if it.Payload.ID == 0 && it.Payload.ClientID == "" {
		// Material list updates address the job's list as a whole.
		body, ok := it.Payload.Body.(*MaterialBody)
		if !ok || len(body.Entries) == 0 || it.Payload.JobID == 0 {
			return fmt.Errorf("payload needs an id or clientId")
		}
	}
	if it.CreatedAt == 0 {
		return fmt.Errorf("createdAt is required")
	}
	return nil
}
