// Package warehouse executes generated SQL against the analytical warehouse.
package warehouse

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Result is one executed query.
type Result struct {
	Columns        []string         `json:"columns"`
	Rows           []map[string]any `json:"rows"`
	RowCount       int              `json:"row_count"`
	BytesProcessed int64            `json:"bytes_processed"`
	Duration       time.Duration    `json:"duration"`
}

// Executor runs SQL. Implementations wrap driver failures in *apperrors.WarehouseError.
type Executor interface {
	ExecuteQuery(ctx context.Context, sql string) (*Result, error)
	// Exec runs a statement that returns no rows (materialized view DDL).
	Exec(ctx context.Context, sql string) error
	ProjectID() string
	DatasetID() string
	Dialect() string
}

// Column describes one warehouse column.
type Column struct {
	Name     string `json:"name"`
	DataType string `json:"data_type"`
}

// TableSchema describes one warehouse table.
type TableSchema struct {
	Name    string   `json:"name"`
	Columns []Column `json:"columns"`
}

// SchemaSource lists tables for schema-aware planning and prompting.
type SchemaSource interface {
	Tables(ctx context.Context) ([]TableSchema, error)
}

// Qualified renders a fully qualified table reference in the executor's dialect.
func Qualified(e Executor, table string) string {
	if strings.EqualFold(e.Dialect(), "postgresql") {
		if e.DatasetID() == "" {
			return fmt.Sprintf(`"%s"`, table)
		}
		return fmt.Sprintf(`"%s"."%s"`, e.DatasetID(), table)
	}
	return fmt.Sprintf("`%s.%s.%s`", e.ProjectID(), e.DatasetID(), table)
}
