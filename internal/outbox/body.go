package outbox

import (
	"encoding/json"
	"fmt"
)

// Entity names an entity type handled by the outbox.
type Entity string

const (
	// EntityNote is a job note.
	EntityNote Entity = "note"
	// EntitySignature is a captured signature.
	EntitySignature Entity = "signature"
	// EntityMaterial is a report material line (quantity per material per user).
	EntityMaterial Entity = "material"
	// EntityReport is a condition report.
	EntityReport Entity = "report"
)

// Valid reports whether e is a known entity type.
func (e Entity) Valid() bool {
	switch e {
	case EntityNote, EntitySignature, EntityMaterial, EntityReport:
		return true
	}
	return false
}

// Body is the closed set of entity-specific mutation payloads.
//
// Update bodies use pointer fields so that only the fields the user touched
// are carried; merging is shallow last-write-wins: a set field in the newer
// body overwrites, an unset field keeps the older value.
type Body interface {
	// Entity returns the entity type this body belongs to.
	Entity() Entity

	// mergeInto folds this (newer) body into older, in place.
	mergeInto(older Body) error
}

// NoteBody carries note fields.
type NoteBody struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
}

// Entity implements Body.
func (*NoteBody) Entity() Entity { return EntityNote }

func (b *NoteBody) mergeInto(older Body) error {
	o, ok := older.(*NoteBody)
	if !ok {
		return mergeMismatch(b, older)
	}
	if b.Title != nil {
		o.Title = b.Title
	}
	if b.Description != nil {
		o.Description = b.Description
	}
	return nil
}

// SignatureBody carries captured-signature fields. ImagePath points at the
// capture artifact on device storage; the executor uploads it during replay.
type SignatureBody struct {
	SignerName *string `json:"signerName,omitempty"`
	SignerRole *string `json:"signerRole,omitempty"`
	ImagePath  *string `json:"imagePath,omitempty"`
	CapturedAt *int64  `json:"capturedAt,omitempty"`
}

// Entity implements Body.
func (*SignatureBody) Entity() Entity { return EntitySignature }

func (b *SignatureBody) mergeInto(older Body) error {
	o, ok := older.(*SignatureBody)
	if !ok {
		return mergeMismatch(b, older)
	}
	if b.SignerName != nil {
		o.SignerName = b.SignerName
	}
	if b.SignerRole != nil {
		o.SignerRole = b.SignerRole
	}
	if b.ImagePath != nil {
		o.ImagePath = b.ImagePath
	}
	if b.CapturedAt != nil {
		o.CapturedAt = b.CapturedAt
	}
	return nil
}

// MaterialEntry is one row of a material list update, keyed by
// (material, user) because rows created offline have no server id yet.
type MaterialEntry struct {
	MaterialID int64   `json:"idMaterial"`
	UserID     int64   `json:"idUser"`
	Quantity   float64 `json:"quantity"`
}

// Key returns the composite key identifying the row within its job.
func (e MaterialEntry) Key() MaterialKey {
	return MaterialKey{MaterialID: e.MaterialID, UserID: e.UserID}
}

// MaterialKey is the composite identity of a material row.
type MaterialKey struct {
	MaterialID int64
	UserID     int64
}

// MaterialBody carries report-material fields. A create uses the single
// MaterialID/UserID/Quantity fields; a batch list update uses Entries.
type MaterialBody struct {
	MaterialID *int64          `json:"idMaterial,omitempty"`
	UserID     *int64          `json:"idUser,omitempty"`
	Quantity   *float64        `json:"quantity,omitempty"`
	Entries    []MaterialEntry `json:"entries,omitempty"`
}

// Entity implements Body.
func (*MaterialBody) Entity() Entity { return EntityMaterial }

func (b *MaterialBody) mergeInto(older Body) error {
	o, ok := older.(*MaterialBody)
	if !ok {
		return mergeMismatch(b, older)
	}
	if b.MaterialID != nil {
		o.MaterialID = b.MaterialID
	}
	if b.UserID != nil {
		o.UserID = b.UserID
	}
	if b.Quantity != nil {
		o.Quantity = b.Quantity
	}
	if b.Entries != nil {
		o.Entries = b.Entries
	}
	return nil
}

// Key returns the composite key of a single-row material body, when present.
func (b *MaterialBody) Key() (MaterialKey, bool) {
	if b.MaterialID == nil || b.UserID == nil {
		return MaterialKey{}, false
	}
	return MaterialKey{MaterialID: *b.MaterialID, UserID: *b.UserID}, true
}

// ReportBody carries condition-report fields.
type ReportBody struct {
	Condition  *string  `json:"condition,omitempty"`
	Severity   *int     `json:"severity,omitempty"`
	Remarks    *string  `json:"remarks,omitempty"`
	PhotoPaths []string `json:"photoPaths,omitempty"`
}

// Entity implements Body.
func (*ReportBody) Entity() Entity { return EntityReport }

func (b *ReportBody) mergeInto(older Body) error {
	o, ok := older.(*ReportBody)
	if !ok {
		return mergeMismatch(b, older)
	}
	if b.Condition != nil {
		o.Condition = b.Condition
	}
	if b.Severity != nil {
		o.Severity = b.Severity
	}
	if b.Remarks != nil {
		o.Remarks = b.Remarks
	}
	if b.PhotoPaths != nil {
		o.PhotoPaths = b.PhotoPaths
	}
	return nil
}

func mergeMismatch(newer, older Body) error {
	return fmt.Errorf("cannot merge %T into %T", newer, older)
}

// MergeBody folds newer into older with shallow last-write-wins semantics
// and returns older. Both bodies must belong to the same entity type.
func MergeBody(older, newer Body) (Body, error) {
	if older == nil {
		return newer, nil
	}
	if newer == nil {
		return older, nil
	}
	if err := newer.mergeInto(older); err != nil {
		return nil, err
	}
	return older, nil
}

// DecodeBody parses raw JSON into the concrete body type for the entity.
// A missing body decodes to nil (deletes carry none).
func DecodeBody(entity Entity, raw json.RawMessage) (Body, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var body Body
	switch entity {
	case EntityNote:
		body = &NoteBody{}
	case EntitySignature:
		body = &SignatureBody{}
	case EntityMaterial:
		body = &MaterialBody{}
	case EntityReport:
		body = &ReportBody{}
	default:
		return nil, fmt.Errorf("unknown entity %q", entity)
	}

	if err := json.Unmarshal(raw, body); err != nil {
		return nil, fmt.Errorf("failed to decode %s body: %w", entity, err)
	}
	return body, nil
}
