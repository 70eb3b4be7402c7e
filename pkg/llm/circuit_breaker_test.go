package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCircuitBreaker_TripsAndRecovers(t *testing.T) {
	now := time.Now()
	cb := NewCircuitBreaker(CircuitBreakerConfig{Threshold: 2, ResetAfter: time.Minute})
	cb.now = func() time.Time { return now }

	require.NoError(t, cb.Allow())
	cb.RecordFailure()
	assert.Equal(t, CircuitClosed, cb.State())
	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())

	err := cb.Allow()
	require.Error(t, err)
	assert.Equal(t, ErrorTypeCircuit, GetType(err))

	now = now.Add(2 * time.Minute)
	require.NoError(t, cb.Allow())
	assert.Equal(t, CircuitHalfOpen, cb.State())
	assert.Error(t, cb.Allow(), "only one probe at a time")

	cb.RecordSuccess()
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Now()
	cb := NewCircuitBreaker(CircuitBreakerConfig{Threshold: 1, ResetAfter: time.Second})
	cb.now = func() time.Time { return now }

	cb.RecordFailure()
	now = now.Add(2 * time.Second)
	require.NoError(t, cb.Allow())
	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())
}

func TestGuardedClient_OnlyRetryableFailuresCount(t *testing.T) {
	mock := NewMockLLMClient()
	mock.GenerateResponseFunc = func(ctx context.Context, prompt, system string, temperature float64) (*GenerateResponseResult, error) {
		return nil, NewError(ErrorTypeAuth, "authentication failed", false, errors.New("401"))
	}
	g := NewGuardedClient(mock, CircuitBreakerConfig{Threshold: 1, ResetAfter: time.Hour}, zap.NewNop())

	_, err := g.GenerateResponse(context.Background(), "p", "s", 0)
	require.Error(t, err)
	assert.Equal(t, CircuitClosed, g.breaker.State())

	mock.GenerateResponseFunc = func(ctx context.Context, prompt, system string, temperature float64) (*GenerateResponseResult, error) {
		return nil, NewError(ErrorTypeEndpoint, "server error", true, errors.New("503"))
	}
	_, err = g.GenerateResponse(context.Background(), "p", "s", 0)
	require.Error(t, err)
	assert.Equal(t, CircuitOpen, g.breaker.State())

	_, err = g.GenerateResponse(context.Background(), "p", "s", 0)
	assert.Equal(t, ErrorTypeCircuit, GetType(err))
	assert.Equal(t, 2, mock.GenerateResponseCalls)
}
