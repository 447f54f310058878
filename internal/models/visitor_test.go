package models_test

import (
	"supportchat/backend/internal/models"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVisitorIdentity_Validate(t *testing.T) {
	tests := []struct {
		name    string
		visitor models.VisitorIdentity
		wantErr bool
	}{
		{name: "authenticated", visitor: models.Authenticated("u42")},
		{name: "anonymous", visitor: models.Anonymous("c1")},
		{name: "empty id", visitor: models.Anonymous("  "), wantErr: true},
		{name: "zero value", visitor: models.VisitorIdentity{}, wantErr: true},
		{name: "unknown kind", visitor: models.VisitorIdentity{Kind: "bot", ID: "x"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.visitor.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, models.ErrInvalidVisitorIdentity)
				return
			}
			assert.NoError(t, err)
		})
	}
}

// TestVisitorIdentity_KeyDoesNotCollide makes sure a user ID equal to a connection ID maps to different keys.
func TestVisitorIdentity_KeyDoesNotCollide(t *testing.T) {
	assert.NotEqual(t, models.Authenticated("same").Key(), models.Anonymous("same").Key())
}

func TestVisitorFromColumns_RoundTrip(t *testing.T) {
	for _, v := range []models.VisitorIdentity{models.Authenticated("u1"), models.Anonymous("c1")} {
		userID, connID := v.Columns()
		got, err := models.VisitorFromColumns(userID, connID)
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
}

// TestSessionBeforeCreate_GeneratesUUID verifies that the BeforeCreate hook generates a valid UUID.
func TestSessionBeforeCreate_GeneratesUUID(t *testing.T) {
	s := &models.CommunicationSession{AgentID: "a1"}

	err := s.BeforeCreate(nil)

	assert.NoError(t, err)
	_, parseErr := uuid.Parse(s.SessionID)
	assert.NoError(t, parseErr, "SessionID must be a valid UUID string")
}

func TestNewSession(t *testing.T) {
	now := time.Now()

	s := models.NewSession("a1", models.Anonymous("c1"), now)

	assert.True(t, s.IsActive)
	assert.False(t, s.Closed())
	assert.Equal(t, models.Anonymous("c1"), s.Visitor())
	assert.Nil(t, s.VisitorUserID)
	assert.Equal(t, now, s.LastActivityAt)
}

func TestAgent_SpeaksAndCapacity(t *testing.T) {
	a := &models.Agent{ID: "a1", Languages: pq.StringArray{"en", "UK"}, MaxSessions: 2}

	assert.True(t, a.Speaks("uk"))
	assert.False(t, a.Speaks("de"))
	assert.False(t, a.Speaks(""))
	assert.True(t, a.HasCapacity(1))
	assert.False(t, a.HasCapacity(2))

	unlimited := &models.Agent{ID: "a2"}
	assert.True(t, unlimited.HasCapacity(1000))
}

func TestParseVisitorKey(t *testing.T) {
	for _, v := range []models.VisitorIdentity{models.Authenticated("u1"), models.Anonymous("c:1")} {
		got, err := models.ParseVisitorKey(v.Key())
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}

	_, err := models.ParseVisitorKey("agent:a1")
	assert.ErrorIs(t, err, models.ErrInvalidVisitorIdentity)
	_, err = models.ParseVisitorKey("user:")
	assert.ErrorIs(t, err, models.ErrInvalidVisitorIdentity)
}
