package store

import (
	"context"

	"github.com/cgradwohl/backend-services-2-sub001/pkg/schema"
)

// FallbackStore serves runs and steps written by an older deployment.
// Reads and status updates go to Primary first and fall back to Legacy on
// NOT_FOUND. Every create goes to Primary only.
type FallbackStore struct {
	Store
	Legacy Store
}

// NewFallbackStore wraps primary with a read-through legacy store. A nil
// legacy store returns primary unchanged.
func NewFallbackStore(primary, legacy Store) Store {
	if legacy == nil {
		return primary
	}
	return &FallbackStore{Store: primary, Legacy: legacy}
}

func (f *FallbackStore) GetRun(ctx context.Context, runID string) (*schema.Run, error) {
	run, err := f.Store.GetRun(ctx, runID)
	if IsNotFound(err) {
		return f.Legacy.GetRun(ctx, runID)
	}
	return run, err
}

func (f *FallbackStore) UpdateRun(ctx context.Context, runID string, update RunUpdate) error {
	err := f.Store.UpdateRun(ctx, runID, update)
	if IsNotFound(err) {
		return f.Legacy.UpdateRun(ctx, runID, update)
	}
	return err
}

func (f *FallbackStore) GetRunContext(ctx context.Context, key string) (*schema.RunContext, error) {
	rc, err := f.Store.GetRunContext(ctx, key)
	if IsNotFound(err) {
		return f.Legacy.GetRunContext(ctx, key)
	}
	return rc, err
}

func (f *FallbackStore) GetStep(ctx context.Context, runID, stepID string) (*schema.Step, error) {
	st, err := f.Store.GetStep(ctx, runID, stepID)
	if IsNotFound(err) {
		return f.Legacy.GetStep(ctx, runID, stepID)
	}
	return st, err
}

func (f *FallbackStore) ListSteps(ctx context.Context, runID string) ([]*schema.Step, error) {
	steps, err := f.Store.ListSteps(ctx, runID)
	if err != nil || len(steps) > 0 {
		return steps, err
	}
	return f.Legacy.ListSteps(ctx, runID)
}

func (f *FallbackStore) UpdateStep(ctx context.Context, runID, stepID string, update StepUpdate) error {
	err := f.Store.UpdateStep(ctx, runID, stepID, update)
	if IsNotFound(err) {
		return f.Legacy.UpdateStep(ctx, runID, stepID, update)
	}
	return err
}

func (f *FallbackStore) GetStepRef(ctx context.Context, runID, name string) (string, error) {
	id, err := f.Store.GetStepRef(ctx, runID, name)
	if IsNotFound(err) {
		return f.Legacy.GetStepRef(ctx, runID, name)
	}
	return id, err
}

func (f *FallbackStore) ListCancelationTokenRuns(ctx context.Context, tenantID, token string) ([]string, error) {
	ids, err := f.Store.ListCancelationTokenRuns(ctx, tenantID, token)
	if err != nil {
		return nil, err
	}
	legacy, err := f.Legacy.ListCancelationTokenRuns(ctx, tenantID, token)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		seen[id] = true
	}
	for _, id := range legacy {
		if !seen[id] {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (f *FallbackStore) Close() error {
	err := f.Store.Close()
	if lerr := f.Legacy.Close(); err == nil {
		err = lerr
	}
	return err
}
