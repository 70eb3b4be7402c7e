//go:build integration

package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-finsight/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-finsight/pkg/models"
	"github.com/ekaya-inc/ekaya-finsight/pkg/testhelpers"
)

func TestQueryLogRepository_RecordAndHistory(t *testing.T) {
	testDB := testhelpers.GetTestDB(t)
	ctx := context.Background()
	repo := NewQueryLogRepository(testDB.DB.Pool)

	client := "it_" + uuid.NewString()[:8]
	entry := &models.QueryLogEntry{
		ClientID:        client,
		Question:        "gross margin by region",
		SQL:             "SELECT 1",
		ExecutionTimeMs: 42,
		BytesProcessed:  500 * 1024 * 1024,
		RowCount:        3,
	}
	require.NoError(t, repo.Record(ctx, entry))
	assert.NotZero(t, entry.ID)

	history, err := repo.GetQueryHistory(ctx, time.Now().Add(-time.Hour), 100)
	require.NoError(t, err)

	var found *models.QueryLogEntry
	for _, h := range history {
		if h.ID == entry.ID {
			found = h
		}
	}
	require.NotNil(t, found)
	assert.Equal(t, client, found.ClientID)
	assert.Equal(t, int64(500*1024*1024), found.BytesProcessed)
	assert.Empty(t, found.Error)
}

func TestBusinessConfigRepository_RoundTrip(t *testing.T) {
	testDB := testhelpers.GetTestDB(t)
	ctx := context.Background()
	repo := NewBusinessConfigRepository(testDB.DB.Pool)

	client := "it_" + uuid.NewString()[:8]
	_, err := repo.Get(ctx, client, "finance")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	now := time.Now().UTC().Truncate(time.Second)
	cfg := &models.BusinessConfiguration{
		ClientID:  client,
		DatasetID: "finance",
		Version:   1,
		GLAccounts: map[string]*models.GLAccountMapping{
			"40000000": {AccountNumber: "40000000", BucketID: "REV", IsActive: true},
		},
		CreatedAt: now,
		UpdatedAt: now,
		IsActive:  true,
	}
	require.NoError(t, repo.Upsert(ctx, cfg))

	cfg.Version = 2
	require.NoError(t, repo.Upsert(ctx, cfg))

	got, err := repo.Get(ctx, client, "finance")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Version)
	assert.Equal(t, "REV", got.GLAccounts["40000000"].BucketID)
}

func TestResearchAuditRepository_Record(t *testing.T) {
	testDB := testhelpers.GetTestDB(t)
	ctx := context.Background()
	repo := NewResearchAuditRepository(testDB.DB.Pool)

	done := time.Now().UTC()
	rec := &models.ResearchAuditRecord{
		ExecutionID:    uuid.NewString(),
		PlanID:         uuid.NewString(),
		OriginalQuery:  "analyze gross margin trends",
		Status:         models.ExecutionCompleted,
		StepsTotal:     3,
		StepsCompleted: 3,
		StepSQL:        map[string]string{"step1": "SELECT 1"},
		StartedAt:      done.Add(-time.Minute),
		CompletedAt:    &done,
	}
	require.NoError(t, repo.Record(ctx, rec))
	require.NoError(t, repo.Record(ctx, rec), "re-recording the same execution is a no-op")

	var steps int
	require.NoError(t, testDB.DB.QueryRow(ctx,
		`SELECT steps_completed FROM finsight_research_audit WHERE execution_id = $1`, rec.ExecutionID).Scan(&steps))
	assert.Equal(t, 3, steps)
}
