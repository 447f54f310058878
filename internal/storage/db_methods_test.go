package storage_test

import (
	"context"
	"supportchat/backend/internal/models"
	"supportchat/backend/internal/storage"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newDryRunService builds queries with the PostgreSQL dialect without a server
// and returns the SQL of every query it runs.
func newDryRunService(t *testing.T) (*storage.Service, *[]string) {
	t.Helper()
	db, err := gorm.Open(postgres.Open("host=localhost user=support dbname=support sslmode=disable"), &gorm.Config{
		DryRun:               true,
		DisableAutomaticPing: true,
		Logger:               logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	var queries []string
	err = db.Callback().Query().After("gorm:query").Register("test:capture", func(tx *gorm.DB) {
		queries = append(queries, tx.Statement.SQL.String())
	})
	require.NoError(t, err)
	return storage.NewStorageService(db), &queries
}

func TestService_TranscriptOrder(t *testing.T) {
	s, queries := newDryRunService(t)
	ctx := context.Background()

	_, err := s.ListBySession(ctx, "a1", models.Authenticated("u1"))
	require.NoError(t, err)
	_, err = s.ListByVisitor(ctx, models.Anonymous("c1"))
	require.NoError(t, err)

	require.Len(t, *queries, 2)
	bySession, byVisitor := (*queries)[0], (*queries)[1]

	assert.Contains(t, bySession, "agent_id = $1")
	assert.Contains(t, bySession, "user_id = $2")
	assert.NotContains(t, bySession, "connection_id")
	assert.Regexp(t, `ORDER BY sent_at asc,\s*id asc$`, bySession)

	assert.Contains(t, byVisitor, "connection_id = $1")
	assert.NotContains(t, byVisitor, "agent_id")
	assert.Regexp(t, `ORDER BY sent_at asc,\s*id asc$`, byVisitor)
}

func TestService_ListAgentsFilter(t *testing.T) {
	s, queries := newDryRunService(t)
	ctx := context.Background()

	_, err := s.ListAgents(ctx, false)
	require.NoError(t, err)
	_, err = s.ListAgents(ctx, true)
	require.NoError(t, err)

	require.Len(t, *queries, 2)
	assert.NotContains(t, (*queries)[0], "WHERE")
	assert.Contains(t, (*queries)[1], "active = $1")
	for _, q := range *queries {
		assert.Contains(t, q, "ORDER BY id asc")
	}
}
