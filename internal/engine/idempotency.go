package engine

import (
	"context"
	"encoding/json"
	"math"
	"strings"
	"time"

	"github.com/cgradwohl/backend-services-2-sub001/internal/actions"
	"github.com/cgradwohl/backend-services-2-sub001/internal/store"
	"github.com/cgradwohl/backend-services-2-sub001/pkg/schema"
)

// Idempotency params read by the guard.
const (
	IdempotencyKeyParam    = "idempotency_key"
	IdempotencyExpiryParam = "idempotency_expiry"
)

// DefaultIdempotencyTTL applies when a step sets a key but no expiry.
const DefaultIdempotencyTTL = 24 * time.Hour

// IdempotencyGuard dedups the external effect of a step by tenant and
// idempotency key. The sentinel is claimed before the effect runs, so a
// redelivery of a step that already claimed it is skipped.
type IdempotencyGuard struct {
	store store.Store
	now   func() time.Time
}

// NewIdempotencyGuard creates a guard over the sentinel store.
func NewIdempotencyGuard(s store.Store, now func() time.Time) *IdempotencyGuard {
	return &IdempotencyGuard{store: s, now: now}
}

// Wrap returns next guarded by the sentinel check.
func (g *IdempotencyGuard) Wrap(next actions.Action) actions.Action {
	return &guardedAction{Action: next, guard: g}
}

type guardedAction struct {
	actions.Action
	guard *IdempotencyGuard
}

func (a *guardedAction) Execute(ctx context.Context, input actions.ActionInput) (*actions.ActionOutput, error) {
	key, _ := input.Params[IdempotencyKeyParam].(string)
	if key == "" {
		return a.Action.Execute(ctx, input)
	}

	expiresAt, err := ParseIdempotencyExpiry(input.Params[IdempotencyExpiryParam], a.guard.now())
	if err != nil {
		return nil, err
	}
	claimed, err := a.guard.store.ClaimIdempotencyKey(ctx, input.Run.TenantID, key, expiresAt)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "claim idempotency key").WithCause(err)
	}
	if !claimed {
		return &actions.ActionOutput{
			Status:  schema.StepStatusSkipped,
			Context: map[string]any{"idempotent": true, IdempotencyKeyParam: key},
		}, nil
	}
	return a.Action.Execute(ctx, input)
}

// ParseIdempotencyExpiry reads an expiry param: an ISO-8601 instant, a
// "<number> <unit>" duration, or unix seconds (milliseconds above 1e12).
// A nil value means the default TTL. The expiry must lie in the future.
func ParseIdempotencyExpiry(v any, now time.Time) (time.Time, error) {
	var (
		t   time.Time
		err error
	)
	switch val := v.(type) {
	case nil:
		return now.Add(DefaultIdempotencyTTL), nil
	case string:
		s := strings.TrimSpace(val)
		if t, err = actions.ParseUntil(s); err != nil {
			t, err = actions.ParseDuration(s, now)
		}
		if err != nil {
			return time.Time{}, invalidExpiry(v)
		}
	case json.Number:
		f, perr := val.Float64()
		if perr != nil {
			return time.Time{}, invalidExpiry(v)
		}
		t = unixTime(f)
	case float64:
		t = unixTime(val)
	case int:
		t = unixTime(float64(val))
	case int64:
		t = unixTime(float64(val))
	default:
		return time.Time{}, invalidExpiry(v)
	}
	if !t.After(now) {
		return time.Time{}, schema.NewErrorf(schema.ErrCodeValidation,
			"idempotency expiry %s is not in the future", t.UTC().Format(time.RFC3339))
	}
	return t, nil
}

func unixTime(f float64) time.Time {
	if f > 1e12 {
		return time.UnixMilli(int64(f)).UTC()
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}

func invalidExpiry(v any) *schema.AutomationError {
	return schema.NewErrorf(schema.ErrCodeValidation, "invalid idempotency expiry %v", v)
}
