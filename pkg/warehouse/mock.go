package warehouse

import (
	"context"
	"sync"
)

// MockExecutor is a configurable Executor for tests.
type MockExecutor struct {
	ExecuteQueryFunc func(ctx context.Context, sql string) (*Result, error)
	ExecFunc         func(ctx context.Context, sql string) error

	Project    string
	Dataset    string
	SQLDialect string

	mu      sync.Mutex
	Queries []string
}

var _ Executor = (*MockExecutor)(nil)

// NewMockExecutor returns a BigQuery-dialect mock with empty results.
func NewMockExecutor() *MockExecutor {
	return &MockExecutor{Project: "test-project", Dataset: "finance", SQLDialect: "bigquery"}
}

func (m *MockExecutor) ExecuteQuery(ctx context.Context, sql string) (*Result, error) {
	m.mu.Lock()
	m.Queries = append(m.Queries, sql)
	m.mu.Unlock()
	if m.ExecuteQueryFunc != nil {
		return m.ExecuteQueryFunc(ctx, sql)
	}
	return &Result{Rows: []map[string]any{}}, nil
}

func (m *MockExecutor) Exec(ctx context.Context, sql string) error {
	m.mu.Lock()
	m.Queries = append(m.Queries, sql)
	m.mu.Unlock()
	if m.ExecFunc != nil {
		return m.ExecFunc(ctx, sql)
	}
	return nil
}

// Executed returns a copy of every statement seen so far.
func (m *MockExecutor) Executed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.Queries...)
}

func (m *MockExecutor) ProjectID() string { return m.Project }
func (m *MockExecutor) DatasetID() string { return m.Dataset }
func (m *MockExecutor) Dialect() string   { return m.SQLDialect }
