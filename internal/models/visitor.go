package models

import (
	"fmt"
	"strings"
)

// VisitorKind tags which identity variant a visitor carries.
type VisitorKind string

const (
	// VisitorAuthenticated identifies a logged-in visitor by a stable user ID.
	VisitorAuthenticated VisitorKind = "authenticated"
	// VisitorAnonymous identifies a visitor by the ID of one transport connection.
	// The ID dies with the connection and is never reused.
	VisitorAnonymous VisitorKind = "anonymous"
)

// VisitorIdentity is the customer side of a conversation.
// Exactly one variant is meaningful: Kind says how ID must be read.
type VisitorIdentity struct {
	Kind VisitorKind `json:"kind"`
	ID   string      `json:"id"`
}

// Authenticated builds the identity of a logged-in visitor.
func Authenticated(userID string) VisitorIdentity {
	return VisitorIdentity{Kind: VisitorAuthenticated, ID: userID}
}

// Anonymous builds the identity of a visitor known only by its connection.
func Anonymous(connectionID string) VisitorIdentity {
	return VisitorIdentity{Kind: VisitorAnonymous, ID: connectionID}
}

func (v VisitorIdentity) IsAuthenticated() bool { return v.Kind == VisitorAuthenticated }
func (v VisitorIdentity) IsAnonymous() bool     { return v.Kind == VisitorAnonymous }

// Validate rejects unknown kinds and blank identifiers.
func (v VisitorIdentity) Validate() error {
	if v.Kind != VisitorAuthenticated && v.Kind != VisitorAnonymous {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidVisitorIdentity, v.Kind)
	}
	if strings.TrimSpace(v.ID) == "" {
		return fmt.Errorf("%w: empty %s id", ErrInvalidVisitorIdentity, v.Kind)
	}
	return nil
}

// Key is a map key that cannot collide between the two variants.
func (v VisitorIdentity) Key() string {
	if v.Kind == VisitorAuthenticated {
		return "user:" + v.ID
	}
	return "conn:" + v.ID
}

func (v VisitorIdentity) String() string {
	return v.Key()
}

// Columns splits the identity into the two nullable addressing columns
// used by messages and sessions.
func (v VisitorIdentity) Columns() (userID, connectionID *string) {
	id := v.ID
	if v.IsAuthenticated() {
		return &id, nil
	}
	return nil, &id
}

// VisitorFromColumns is the inverse of Columns.
func VisitorFromColumns(userID, connectionID *string) (VisitorIdentity, error) {
	switch {
	case userID != nil && connectionID != nil:
		return VisitorIdentity{}, fmt.Errorf("%w: both user and connection set", ErrInvalidVisitorIdentity)
	case userID != nil:
		return Authenticated(*userID), nil
	case connectionID != nil:
		return Anonymous(*connectionID), nil
	}
	return VisitorIdentity{}, fmt.Errorf("%w: no address", ErrInvalidVisitorIdentity)
}

// ParseVisitorKey is the inverse of Key.
func ParseVisitorKey(key string) (VisitorIdentity, error) {
	var v VisitorIdentity
	switch {
	case strings.HasPrefix(key, "user:"):
		v = Authenticated(strings.TrimPrefix(key, "user:"))
	case strings.HasPrefix(key, "conn:"):
		v = Anonymous(strings.TrimPrefix(key, "conn:"))
	default:
		return VisitorIdentity{}, fmt.Errorf("%w: bad key %q", ErrInvalidVisitorIdentity, key)
	}
	return v, v.Validate()
}
