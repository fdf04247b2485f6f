package outbox

import "fmt"

// Ref is the logical identity of an entity addressed by an outbox payload
// or a cache entry. It is a three-state value:
//
//   - Local: only ClientID is set — the entity exists on this device only.
//   - Remote: only ID is set — the entity came from the server.
//   - Reconciled: both are set — a local create that the server confirmed,
//     keeping the client id so older references still resolve.
//
// Every adapter and the coalescing logic match through Ref.Matches, so the
// id/clientId duality is resolved by exactly one rule everywhere.
type Ref struct {
	ID       int64  `json:"id,omitempty"`
	ClientID string `json:"clientId,omitempty"`
}

// Local returns a Ref for a device-only entity.
func Local(clientID string) Ref {
	return Ref{ClientID: clientID}
}

// Remote returns a Ref for a server-known entity.
func Remote(id int64) Ref {
	return Ref{ID: id}
}

// Reconciled returns a Ref for a confirmed local create.
func Reconciled(id int64, clientID string) Ref {
	return Ref{ID: id, ClientID: clientID}
}

// IsZero reports whether the ref carries no identity at all.
func (r Ref) IsZero() bool {
	return r.ID == 0 && r.ClientID == ""
}

// IsLocal reports whether the entity is known only by its client id.
func (r Ref) IsLocal() bool {
	return r.ID == 0 && r.ClientID != ""
}

// Matches reports whether other resolves to the same entity as r:
// the server id matches when r has one, or the client id matches when
// r has one. A ref with neither set matches nothing.
func (r Ref) Matches(other Ref) bool {
	if r.ID != 0 && other.ID == r.ID {
		return true
	}
	if r.ClientID != "" && other.ClientID == r.ClientID {
		return true
	}
	return false
}

// String renders the ref for logs.
func (r Ref) String() string {
	switch {
	case r.ID != 0 && r.ClientID != "":
		return fmt.Sprintf("id=%d/client=%s", r.ID, r.ClientID)
	case r.ID != 0:
		return fmt.Sprintf("id=%d", r.ID)
	case r.ClientID != "":
		return fmt.Sprintf("client=%s", r.ClientID)
	default:
		return "unidentified"
	}
}
