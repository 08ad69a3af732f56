// Package scope decides the visibility partition of chunks and queries:
// the shared public knowledge base, or a single conversation session.
//
// Every record carries an explicit scope tag. Public visibility is a real
// tag value, never the absence of one, so untagged data can never be
// mistaken for public knowledge.
package scope

import (
	"errors"
	"fmt"
)

// Metadata keys for scope tagging.
const (
	TagKey       = "scope"
	SessionIDKey = "session_id"

	// TagPublic marks shared knowledge-base records.
	TagPublic = "public"

	// TagSession marks records private to one conversation.
	TagSession = "session"
)

var (
	// ErrNoOwner indicates a chunk with neither a batch nor a session link.
	ErrNoOwner = errors.New("chunk must link to a knowledge batch or a session")

	// ErrBothOwners indicates a chunk linked to both a batch and a session.
	ErrBothOwners = errors.New("chunk must not link to both a knowledge batch and a session")
)

// Scope is the visibility partition for a chunk or query.
// The zero value is the public scope.
type Scope struct {
	sessionID string
}

// Public returns the shared knowledge-base scope.
func Public() Scope {
	return Scope{}
}

// Session returns the private scope for one conversation.
func Session(sessionID string) Scope {
	return Scope{sessionID: sessionID}
}

// IsPublic reports whether this is the shared scope.
func (s Scope) IsPublic() bool {
	return s.sessionID == ""
}

// SessionID returns the session id for private scopes, empty for public.
func (s Scope) SessionID() string {
	return s.sessionID
}

// Tag returns the metadata entries stamped onto every vector record at
// ingestion time.
func (s Scope) Tag() map[string]string {
	if s.IsPublic() {
		return map[string]string{TagKey: TagPublic}
	}
	return map[string]string{
		TagKey:       TagSession,
		SessionIDKey: s.sessionID,
	}
}

// Filter returns the metadata filter applied to similarity queries so
// results stay inside this scope.
func (s Scope) Filter() map[string]string {
	return s.Tag()
}

// String implements fmt.Stringer for log output.
func (s Scope) String() string {
	if s.IsPublic() {
		return "public"
	}
	return fmt.Sprintf("session:%s", s.sessionID)
}

// ValidateChunkLink enforces the ownership exclusivity invariant: a chunk
// links to exactly one of a knowledge batch or a conversation session.
func ValidateChunkLink(batchID, sessionID string) error {
	switch {
	case batchID == "" && sessionID == "":
		return ErrNoOwner
	case batchID != "" && sessionID != "":
		return ErrBothOwners
	default:
		return nil
	}
}

// ForChunkLink returns the scope implied by a chunk's owner link.
func ForChunkLink(batchID, sessionID string) (Scope, error) {
	if err := ValidateChunkLink(batchID, sessionID); err != nil {
		return Scope{}, err
	}
	if batchID != "" {
		return Public(), nil
	}
	return Session(sessionID), nil
}
