package llm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CircuitState represents the current state of the circuit breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig holds configuration for the circuit breaker.
type CircuitBreakerConfig struct {
	// Threshold is the number of consecutive failures before the circuit trips.
	Threshold int
	// ResetAfter is how long the circuit stays open before a probe is allowed.
	ResetAfter time.Duration
}

// DefaultCircuitBreakerConfig trips after 5 failures and probes again after 30s.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Threshold:  5,
		ResetAfter: 30 * time.Second,
	}
}

// CircuitBreaker trips open after N consecutive failures and lets a single
// probe through once ResetAfter has elapsed.
type CircuitBreaker struct {
	mu               sync.Mutex
	consecutiveFails int
	threshold        int
	resetAfter       time.Duration
	lastFailure      time.Time
	state            CircuitState
	now              func() time.Time
}

// NewCircuitBreaker creates a new circuit breaker with the given configuration.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.Threshold < 1 {
		config.Threshold = 1
	}
	return &CircuitBreaker{
		threshold:  config.Threshold,
		resetAfter: config.ResetAfter,
		state:      CircuitClosed,
		now:        time.Now,
	}
}

// Allow reports whether a request may proceed.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return nil
	case CircuitOpen:
		if cb.now().Sub(cb.lastFailure) > cb.resetAfter {
			cb.state = CircuitHalfOpen
			return nil
		}
		return NewError(ErrorTypeCircuit,
			fmt.Sprintf("LLM provider unavailable after %d consecutive failures", cb.consecutiveFails), false, nil)
	default:
		return NewError(ErrorTypeCircuit, "probing whether LLM provider has recovered", false, nil)
	}
}

// RecordSuccess resets the failure count and closes the circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFails = 0
	cb.state = CircuitClosed
}

// RecordFailure increments the failure count and trips the circuit if threshold is reached.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFails++
	cb.lastFailure = cb.now()

	if cb.state == CircuitHalfOpen || cb.consecutiveFails >= cb.threshold {
		cb.state = CircuitOpen
	}
}

func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// GuardedClient wraps an LLMClient with a circuit breaker on completions.
// Embedding calls pass through untouched; the knowledge layer already
// degrades to keyword lookups when they fail.
type GuardedClient struct {
	inner   LLMClient
	breaker *CircuitBreaker
	logger  *zap.Logger
}

// NewGuardedClient wraps inner with a breaker built from cfg.
func NewGuardedClient(inner LLMClient, cfg CircuitBreakerConfig, logger *zap.Logger) *GuardedClient {
	return &GuardedClient{
		inner:   inner,
		breaker: NewCircuitBreaker(cfg),
		logger:  logger.Named("llm-breaker"),
	}
}

func (g *GuardedClient) GenerateResponse(ctx context.Context, prompt string, systemMessage string, temperature float64) (*GenerateResponseResult, error) {
	if err := g.breaker.Allow(); err != nil {
		return nil, err
	}

	result, err := g.inner.GenerateResponse(ctx, prompt, systemMessage, temperature)
	if err != nil {
		// Auth and model errors are configuration problems, not outages.
		if IsRetryable(err) {
			g.breaker.RecordFailure()
			if g.breaker.State() == CircuitOpen {
				g.logger.Warn("Circuit opened", zap.Error(err))
			}
		}
		return nil, err
	}
	g.breaker.RecordSuccess()
	return result, nil
}

func (g *GuardedClient) CreateEmbedding(ctx context.Context, input string, model string) ([]float32, error) {
	return g.inner.CreateEmbedding(ctx, input, model)
}

func (g *GuardedClient) CreateEmbeddings(ctx context.Context, inputs []string, model string) ([][]float32, error) {
	return g.inner.CreateEmbeddings(ctx, inputs, model)
}

func (g *GuardedClient) GetModel() string {
	return g.inner.GetModel()
}

func (g *GuardedClient) GetEndpoint() string {
	return g.inner.GetEndpoint()
}
