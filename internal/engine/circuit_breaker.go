package engine

import (
	"sync"
	"time"

	"github.com/cgradwohl/backend-services-2-sub001/pkg/schema"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // Normal operation
	CircuitOpen                         // Failing, rejecting calls
	CircuitHalfOpen                     // Testing recovery
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures the circuit breaker behavior.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive unclassified failures
	// before the circuit opens.
	FailureThreshold int
	// Cooldown is how long the circuit stays open before a trial call.
	Cooldown time.Duration
	// HalfOpenMax is the number of trial calls allowed while half-open.
	HalfOpenMax int
}

// DefaultCircuitBreakerConfig returns the configuration used by serve.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		HalfOpenMax:      1,
	}
}

type circuitBreaker struct {
	mu                  sync.Mutex
	state               CircuitState
	consecutiveFailures int
	lastFailureTime     time.Time
	halfOpenAttempts    int
	config              CircuitBreakerConfig
}

// CircuitBreakerRegistry keeps one breaker per collaborator-facing action.
// While a breaker is open, steps of that action fail fast with an
// EXECUTION_ERROR and the transport retries them after backoff instead of
// hammering a collaborator that is down.
type CircuitBreakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*circuitBreaker
	config   CircuitBreakerConfig
	now      func() time.Time
}

// NewCircuitBreakerRegistry creates a new registry with the given config.
func NewCircuitBreakerRegistry(config CircuitBreakerConfig) *CircuitBreakerRegistry {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultCircuitBreakerConfig().FailureThreshold
	}
	if config.HalfOpenMax <= 0 {
		config.HalfOpenMax = 1
	}
	return &CircuitBreakerRegistry{
		breakers: make(map[string]*circuitBreaker),
		config:   config,
		now:      time.Now,
	}
}

// AllowRequest returns nil when a call for action may proceed.
func (r *CircuitBreakerRegistry) AllowRequest(action string) error {
	cb := r.getOrCreate(action)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitOpen:
		if r.now().Sub(cb.lastFailureTime) >= cb.config.Cooldown {
			cb.state = CircuitHalfOpen
			cb.halfOpenAttempts = 1
			return nil
		}
		return schema.NewErrorf(schema.ErrCodeExecution,
			"circuit open for action %q after %d consecutive failures", action, cb.consecutiveFailures).
			WithDetails(map[string]any{
				"action":               action,
				"consecutive_failures": cb.consecutiveFailures,
				"state":                cb.state.String(),
			})
	case CircuitHalfOpen:
		if cb.halfOpenAttempts >= cb.config.HalfOpenMax {
			return schema.NewErrorf(schema.ErrCodeExecution,
				"circuit half-open for action %q: trial call in flight", action)
		}
		cb.halfOpenAttempts++
	}
	return nil
}

// RecordSuccess closes the circuit for action.
func (r *CircuitBreakerRegistry) RecordSuccess(action string) {
	cb := r.getOrCreate(action)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures = 0
	cb.halfOpenAttempts = 0
	cb.state = CircuitClosed
}

// RecordFailure counts a failure for action and returns the new state.
func (r *CircuitBreakerRegistry) RecordFailure(action string) CircuitState {
	cb := r.getOrCreate(action)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures++
	cb.lastFailureTime = r.now()

	if cb.state == CircuitHalfOpen || cb.consecutiveFailures >= cb.config.FailureThreshold {
		cb.state = CircuitOpen
	}
	return cb.state
}

// GetState returns the current state of the circuit for an action.
func (r *CircuitBreakerRegistry) GetState(action string) CircuitState {
	cb := r.getOrCreate(action)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen && r.now().Sub(cb.lastFailureTime) >= cb.config.Cooldown {
		cb.state = CircuitHalfOpen
		cb.halfOpenAttempts = 0
	}
	return cb.state
}

func (r *CircuitBreakerRegistry) getOrCreate(action string) *circuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.breakers[action]
	if !ok {
		cb = &circuitBreaker{state: CircuitClosed, config: r.config}
		r.breakers[action] = cb
	}
	return cb
}
