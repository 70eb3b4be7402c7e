package repositories

import (
	"context"
	"fmt"
	"sync"

	"github.com/ekaya-inc/ekaya-finsight/pkg/models"
)

// ResearchAuditRepository stores one summary row per research execution.
type ResearchAuditRepository interface {
	Record(ctx context.Context, rec *models.ResearchAuditRecord) error
}

type researchAuditRepository struct {
	db Querier
}

var _ ResearchAuditRepository = (*researchAuditRepository)(nil)

func NewResearchAuditRepository(db Querier) ResearchAuditRepository {
	return &researchAuditRepository{db: db}
}

func (r *researchAuditRepository) Record(ctx context.Context, rec *models.ResearchAuditRecord) error {
	stepSQL, err := marshalJSONB(rec.StepSQL)
	if err != nil {
		return err
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO finsight_research_audit (
			execution_id, plan_id, original_query, status,
			steps_total, steps_completed, steps_failed, step_sql,
			started_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (execution_id) DO NOTHING`,
		rec.ExecutionID, rec.PlanID, rec.OriginalQuery, string(rec.Status),
		rec.StepsTotal, rec.StepsCompleted, rec.StepsFailed, stepSQL,
		rec.StartedAt, rec.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to record research audit: %w", err)
	}
	return nil
}

// MemoryResearchAudit keeps audit records in memory.
type MemoryResearchAudit struct {
	mu      sync.Mutex
	Records []*models.ResearchAuditRecord
}

var _ ResearchAuditRepository = (*MemoryResearchAudit)(nil)

func (m *MemoryResearchAudit) Record(_ context.Context, rec *models.ResearchAuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Records = append(m.Records, rec)
	return nil
}

// All returns a snapshot of the stored records.
func (m *MemoryResearchAudit) All() []*models.ResearchAuditRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.ResearchAuditRecord(nil), m.Records...)
}
