package engine

import (
	"context"
	"errors"
	"time"

	"github.com/cgradwohl/backend-services-2-sub001/pkg/schema"
)

// IsRetryableError classifies whether a dispatch error should go back to
// the transport for another delivery. Domain errors never do; neither does
// context.Canceled, which means the process is shutting down.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var aErr *schema.AutomationError
	if errors.As(err, &aErr) {
		return !aErr.IsDomain()
	}
	// Unclassified errors are retried; the consumer caps attempts.
	return true
}

// BackoffPolicy configures redelivery delays.
type BackoffPolicy struct {
	// Strategy is constant, linear or exponential (the default).
	Strategy string
	Base     time.Duration
	Max      time.Duration
}

// DefaultBackoffPolicy returns exponential backoff from one second capped
// at five minutes.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{Strategy: "exponential", Base: time.Second, Max: 5 * time.Minute}
}

// ComputeBackoff calculates the delay before redelivery attempt+1, where
// attempt counts from zero.
func ComputeBackoff(policy BackoffPolicy, attempt int) time.Duration {
	if policy.Base <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}

	var delay time.Duration
	switch policy.Strategy {
	case "constant":
		delay = policy.Base
	case "linear":
		delay = policy.Base * time.Duration(attempt+1)
	default:
		delay = policy.Base
		for i := 0; i < attempt; i++ {
			delay *= 2
			if policy.Max > 0 && delay >= policy.Max {
				break
			}
		}
	}

	if policy.Max > 0 && delay > policy.Max {
		delay = policy.Max
	}
	return delay
}
