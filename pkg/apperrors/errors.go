package apperrors

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrConfigLoad           = errors.New("business configuration could not be loaded")
	ErrConfigInvalid        = errors.New("business configuration is invalid")
	ErrGLMappingNotFound    = errors.New("GL mapping not found")
	ErrKnowledgeUnavailable = errors.New("knowledge store unavailable")
	ErrPreCalcMiss          = errors.New("no pre-calculated data for query")
	ErrCacheMiss            = errors.New("cache miss")
	ErrParse                = errors.New("could not extract a metric from the question")
	ErrInvalidPlan          = errors.New("research plan is invalid")
	ErrExecutionNotFound    = errors.New("research execution not found")
)

// WarehouseError wraps a warehouse driver failure.
type WarehouseError struct {
	Op      string
	SQL     string
	Timeout bool
	Cause   error
}

func (e *WarehouseError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("warehouse %s timed out: %v", e.Op, e.Cause)
	}
	return fmt.Sprintf("warehouse %s failed: %v", e.Op, e.Cause)
}

func (e *WarehouseError) Unwrap() error {
	return e.Cause
}

// IsRetryable lets retry.DoIfRetryable skip permanent failures such as bad SQL.
func (e *WarehouseError) IsRetryable() bool {
	if e.Timeout {
		return true
	}
	if e.Cause == nil {
		return false
	}
	msg := strings.ToLower(e.Cause.Error())
	for _, p := range []string{"connection refused", "connection reset", "broken pipe", "too many connections", "i/o timeout", "503", "429"} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// NewWarehouseError builds a WarehouseError.
func NewWarehouseError(op, sql string, timeout bool, cause error) *WarehouseError {
	return &WarehouseError{Op: op, SQL: sql, Timeout: timeout, Cause: cause}
}
