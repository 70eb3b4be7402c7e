package repositories

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ekaya-inc/ekaya-finsight/pkg/models"
)

// QueryLogRepository records executed queries and serves the history the
// pattern analyzer and cache warmer mine.
type QueryLogRepository interface {
	Record(ctx context.Context, entry *models.QueryLogEntry) error
	// GetQueryHistory returns entries created at or after since, newest first.
	GetQueryHistory(ctx context.Context, since time.Time, limit int) ([]*models.QueryLogEntry, error)
}

type queryLogRepository struct {
	db Querier
}

var _ QueryLogRepository = (*queryLogRepository)(nil)

func NewQueryLogRepository(db Querier) QueryLogRepository {
	return &queryLogRepository{db: db}
}

func (r *queryLogRepository) Record(ctx context.Context, entry *models.QueryLogEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	var errText *string
	if entry.Error != "" {
		errText = &entry.Error
	}

	err := r.db.QueryRow(ctx, `
		INSERT INTO finsight_query_log (
			client_id, question, sql_text, execution_time_ms,
			bytes_processed, row_count, error, from_precalc, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`,
		entry.ClientID,
		entry.Question,
		entry.SQL,
		entry.ExecutionTimeMs,
		entry.BytesProcessed,
		entry.RowCount,
		errText,
		entry.FromPreCalc,
		entry.CreatedAt,
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("failed to record query log entry: %w", err)
	}
	return nil
}

func (r *queryLogRepository) GetQueryHistory(ctx context.Context, since time.Time, limit int) ([]*models.QueryLogEntry, error) {
	if limit <= 0 {
		limit = 10000
	}

	rows, err := r.db.Query(ctx, `
		SELECT id, client_id, question, sql_text, execution_time_ms,
		       bytes_processed, row_count, COALESCE(error, ''), from_precalc, created_at
		FROM finsight_query_log
		WHERE created_at >= $1
		ORDER BY created_at DESC
		LIMIT $2`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query query log: %w", err)
	}
	defer rows.Close()

	var entries []*models.QueryLogEntry
	for rows.Next() {
		e := &models.QueryLogEntry{}
		if err := rows.Scan(&e.ID, &e.ClientID, &e.Question, &e.SQL, &e.ExecutionTimeMs,
			&e.BytesProcessed, &e.RowCount, &e.Error, &e.FromPreCalc, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan query log entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating query log: %w", err)
	}
	return entries, nil
}

// MemoryQueryLog is an in-process QueryLogRepository for runs without Postgres.
type MemoryQueryLog struct {
	mu      sync.RWMutex
	entries []*models.QueryLogEntry
	nextID  int64
}

var _ QueryLogRepository = (*MemoryQueryLog)(nil)

func NewMemoryQueryLog() *MemoryQueryLog {
	return &MemoryQueryLog{}
}

func (m *MemoryQueryLog) Record(_ context.Context, entry *models.QueryLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	entry.ID = m.nextID
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	cp := *entry
	m.entries = append(m.entries, &cp)
	return nil
}

func (m *MemoryQueryLog) GetQueryHistory(_ context.Context, since time.Time, limit int) ([]*models.QueryLogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.QueryLogEntry
	for _, e := range m.entries {
		if !e.CreatedAt.Before(since) {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
