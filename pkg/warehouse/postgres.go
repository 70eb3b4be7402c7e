package warehouse

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-finsight/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-finsight/pkg/config"
	"github.com/ekaya-inc/ekaya-finsight/pkg/logging"
	"github.com/ekaya-inc/ekaya-finsight/pkg/observability"
	"github.com/ekaya-inc/ekaya-finsight/pkg/retry"
)

// PostgresExecutor runs warehouse SQL on a Postgres-compatible engine.
type PostgresExecutor struct {
	pool    *pgxpool.Pool
	cfg     config.WarehouseConfig
	retries *retry.Config
	logger  *zap.Logger
}

var (
	_ Executor     = (*PostgresExecutor)(nil)
	_ SchemaSource = (*PostgresExecutor)(nil)
)

// NewPostgresExecutor creates an executor over an existing pool.
func NewPostgresExecutor(pool *pgxpool.Pool, cfg config.WarehouseConfig, logger *zap.Logger) *PostgresExecutor {
	return &PostgresExecutor{
		pool:    pool,
		cfg:     cfg,
		retries: retry.WarehouseConfig(),
		logger:  logger.Named("warehouse"),
	}
}

func (e *PostgresExecutor) ProjectID() string { return e.cfg.ProjectID }
func (e *PostgresExecutor) DatasetID() string { return e.cfg.DatasetID }
func (e *PostgresExecutor) Dialect() string   { return e.cfg.Dialect }

// ExecuteQuery runs sql under the configured timeout, retrying transient failures.
func (e *PostgresExecutor) ExecuteQuery(ctx context.Context, sql string) (*Result, error) {
	start := time.Now()

	result, err := retry.DoIfRetryableWithResult(ctx, e.retries, func() (*Result, error) {
		return e.query(ctx, sql)
	})
	observability.ObserveWarehouseQuery(start, err)

	if err != nil {
		e.logger.Error("Warehouse query failed",
			zap.String("sql", logging.SanitizeQuery(sql)),
			zap.String("error", logging.SanitizeError(err)))
		return nil, err
	}

	result.Duration = time.Since(start)
	e.logger.Debug("Warehouse query completed",
		zap.String("sql", logging.SanitizeQuery(sql)),
		zap.Int("rows", result.RowCount),
		zap.Duration("elapsed", result.Duration))
	return result, nil
}

func (e *PostgresExecutor) query(ctx context.Context, sql string) (*Result, error) {
	qctx, cancel := context.WithTimeout(ctx, e.cfg.QueryTimeout())
	defer cancel()

	rows, err := e.pool.Query(qctx, sql)
	if err != nil {
		return nil, e.wrap(qctx, "query", sql, err)
	}
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	columns := make([]string, len(fieldDescs))
	for i, fd := range fieldDescs {
		columns[i] = fd.Name
	}

	resultRows := make([]map[string]any, 0)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, e.wrap(qctx, "read row", sql, err)
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = normalizeValue(values[i])
		}
		resultRows = append(resultRows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, e.wrap(qctx, "iterate rows", sql, err)
	}

	return &Result{
		Columns:  columns,
		Rows:     resultRows,
		RowCount: len(resultRows),
	}, nil
}

// Exec runs a statement without collecting rows.
func (e *PostgresExecutor) Exec(ctx context.Context, sql string) error {
	start := time.Now()
	err := retry.DoIfRetryable(ctx, e.retries, func() error {
		qctx, cancel := context.WithTimeout(ctx, e.cfg.QueryTimeout())
		defer cancel()
		if _, err := e.pool.Exec(qctx, sql); err != nil {
			return e.wrap(qctx, "exec", sql, err)
		}
		return nil
	})
	observability.ObserveWarehouseQuery(start, err)
	return err
}

// Tables lists the dataset's tables and columns from information_schema.
func (e *PostgresExecutor) Tables(ctx context.Context) ([]TableSchema, error) {
	rows, err := e.pool.Query(ctx, `
		SELECT table_name, column_name, data_type
		FROM information_schema.columns
		WHERE table_schema = $1
		ORDER BY table_name, ordinal_position`, e.cfg.DatasetID)
	if err != nil {
		return nil, fmt.Errorf("list warehouse columns: %w", err)
	}
	defer rows.Close()

	var tables []TableSchema
	for rows.Next() {
		var table, column, dataType string
		if err := rows.Scan(&table, &column, &dataType); err != nil {
			return nil, fmt.Errorf("scan warehouse column: %w", err)
		}
		if len(tables) == 0 || tables[len(tables)-1].Name != table {
			tables = append(tables, TableSchema{Name: table})
		}
		last := &tables[len(tables)-1]
		last.Columns = append(last.Columns, Column{Name: column, DataType: dataType})
	}
	return tables, rows.Err()
}

func (e *PostgresExecutor) wrap(qctx context.Context, op, sql string, err error) error {
	timeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(qctx.Err(), context.DeadlineExceeded)
	return apperrors.NewWarehouseError(op, sql, timeout, err)
}

// normalizeValue converts pgx driver types that do not marshal cleanly.
func normalizeValue(v any) any {
	switch n := v.(type) {
	case pgtype.Numeric:
		f, err := n.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	case [16]byte:
		return fmt.Sprintf("%x-%x-%x-%x-%x", n[0:4], n[4:6], n[6:8], n[8:10], n[10:16])
	default:
		return v
	}
}
