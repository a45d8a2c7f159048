package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/cgradwohl/backend-services-2-sub001/pkg/schema"
)

// MemoryStore is a goroutine-safe Store backed by maps. Records are copied
// on the way in and out so callers never share state with the store.
type MemoryStore struct {
	mu          sync.RWMutex
	runs        map[string]*schema.Run
	contexts    map[string]*schema.RunContext
	steps       map[string]map[string]*schema.Step // run_id -> step_id -> step
	refs        map[string]map[string]string       // run_id -> name -> step_id
	tokens      map[string][]string                // tenant/token -> run ids
	idempotency map[string]time.Time               // tenant/key -> expires_at
	delays      map[string]*schema.DelayItem
	templates   map[string]*schema.Template // tenant/id -> template
	jobs        map[string]*schema.ScheduledJob

	now func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:        make(map[string]*schema.Run),
		contexts:    make(map[string]*schema.RunContext),
		steps:       make(map[string]map[string]*schema.Step),
		refs:        make(map[string]map[string]string),
		tokens:      make(map[string][]string),
		idempotency: make(map[string]time.Time),
		delays:      make(map[string]*schema.DelayItem),
		templates:   make(map[string]*schema.Template),
		jobs:        make(map[string]*schema.ScheduledJob),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

var _ Store = (*MemoryStore)(nil)

// SetClock replaces the clock used for timestamps and sentinel expiry.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func tenantKey(tenantID, k string) string { return tenantID + "/" + k }

// --- Runs ---

func (s *MemoryStore) CreateRun(_ context.Context, run *schema.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[run.RunID]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "run %q already exists", run.RunID)
	}
	cp := copyRun(run)
	now := s.now()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = cp.CreatedAt
	s.runs[run.RunID] = cp
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, runID string) (*schema.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[runID]
	if !ok {
		return nil, storeNotFound("run", runID)
	}
	return copyRun(run), nil
}

func (s *MemoryStore) UpdateRun(_ context.Context, runID string, update RunUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return storeNotFound("run", runID)
	}
	if !runStatusAllowed(run.Status, update.ExpectedStatus) {
		return runStatusConflict(runID, run.Status, update.ExpectedStatus)
	}
	if update.Status != nil {
		run.Status = *update.Status
	}
	if update.Error != nil {
		run.Error = *update.Error
	}
	run.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) ListRuns(_ context.Context, filter RunFilter) ([]*schema.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*schema.Run
	for _, run := range s.runs {
		if filter.TenantID != "" && run.TenantID != filter.TenantID {
			continue
		}
		if filter.Status != nil && run.Status != *filter.Status {
			continue
		}
		out = append(out, copyRun(run))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// --- Run context ---

func (s *MemoryStore) PutRunContext(_ context.Context, key string, rc *schema.RunContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contexts[key] = rc.Clone()
	return nil
}

func (s *MemoryStore) GetRunContext(_ context.Context, key string) (*schema.RunContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rc, ok := s.contexts[key]
	if !ok {
		return nil, storeNotFound("run context", key)
	}
	return rc.Clone(), nil
}

// --- Steps ---

func (s *MemoryStore) CreateSteps(_ context.Context, steps []*schema.Step) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Check everything first so the write is all-or-nothing.
	for _, st := range steps {
		if _, exists := s.steps[st.RunID][st.StepID]; exists {
			return schema.NewErrorf(schema.ErrCodeConflict, "step %q already exists", st.StepID)
		}
	}
	for _, st := range steps {
		byRun, ok := s.steps[st.RunID]
		if !ok {
			byRun = make(map[string]*schema.Step)
			s.steps[st.RunID] = byRun
		}
		byRun[st.StepID] = st.Clone()
	}
	return nil
}

func (s *MemoryStore) GetStep(_ context.Context, runID, stepID string) (*schema.Step, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.steps[runID][stepID]
	if !ok {
		return nil, storeNotFound("step", stepID)
	}
	return st.Clone(), nil
}

// ListSteps returns the run's steps in chain order.
func (s *MemoryStore) ListSteps(_ context.Context, runID string) ([]*schema.Step, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byRun := s.steps[runID]
	out := make([]*schema.Step, 0, len(byRun))
	for _, st := range byRun {
		out = append(out, st.Clone())
	}
	return orderChain(out), nil
}

func (s *MemoryStore) UpdateStep(_ context.Context, runID, stepID string, update StepUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.steps[runID][stepID]
	if !ok {
		return storeNotFound("step", stepID)
	}
	if !stepStatusAllowed(st.Status, update.ExpectedStatus) {
		return stepStatusConflict(stepID, st.Status, update.ExpectedStatus)
	}
	if update.Status != nil {
		st.Status = *update.Status
	}
	if update.Context != nil {
		st.Context = schema.CopyMap(update.Context)
	}
	if update.Error != nil {
		st.Error = *update.Error
	}
	if update.Retryable != nil {
		st.Retryable = *update.Retryable
	}
	st.UpdatedAt = s.now()
	return nil
}

// --- Step references ---

func (s *MemoryStore) PutStepRefs(_ context.Context, runID string, refs map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byRun, ok := s.refs[runID]
	if !ok {
		byRun = make(map[string]string, len(refs))
		s.refs[runID] = byRun
	}
	for name, stepID := range refs {
		byRun[name] = stepID
	}
	return nil
}

func (s *MemoryStore) GetStepRef(_ context.Context, runID, name string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stepID, ok := s.refs[runID][name]
	if !ok {
		return "", storeNotFound("step ref", name)
	}
	return stepID, nil
}

// --- Cancellation tokens ---

func (s *MemoryStore) PutCancelationToken(_ context.Context, tenantID, token, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := tenantKey(tenantID, token)
	for _, id := range s.tokens[k] {
		if id == runID {
			return nil
		}
	}
	s.tokens[k] = append(s.tokens[k], runID)
	return nil
}

func (s *MemoryStore) ListCancelationTokenRuns(_ context.Context, tenantID, token string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.tokens[tenantKey(tenantID, token)]
	out := make([]string, len(ids))
	copy(out, ids)
	return out, nil
}

// --- Idempotency ---

func (s *MemoryStore) ClaimIdempotencyKey(_ context.Context, tenantID, key string, expiresAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := tenantKey(tenantID, key)
	if exp, ok := s.idempotency[k]; ok && exp.After(s.now()) {
		return false, nil
	}
	s.idempotency[k] = expiresAt
	return true, nil
}

// --- Delay work items ---

func (s *MemoryStore) PutDelayItem(_ context.Context, item *schema.DelayItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *item
	cp.Message.Source = append([]string(nil), item.Message.Source...)
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = s.now()
	}
	s.delays[item.ID] = &cp
	return nil
}

func (s *MemoryStore) ListDueDelayItems(_ context.Context, now time.Time, limit int) ([]*schema.DelayItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*schema.DelayItem
	for _, item := range s.delays {
		if item.ExpiresAt.After(now) {
			continue
		}
		cp := *item
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) DeleteDelayItem(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.delays, id)
	return nil
}

// --- Templates ---

func (s *MemoryStore) PutTemplate(_ context.Context, tpl *schema.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *tpl
	now := s.now()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	s.templates[tenantKey(tpl.TenantID, tpl.ID)] = &cp
	return nil
}

func (s *MemoryStore) GetTemplate(_ context.Context, tenantID, idOrAlias string) (*schema.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if tpl, ok := s.templates[tenantKey(tenantID, idOrAlias)]; ok {
		cp := *tpl
		return &cp, nil
	}
	for _, tpl := range s.templates {
		if tpl.TenantID == tenantID && tpl.Alias != "" && tpl.Alias == idOrAlias {
			cp := *tpl
			return &cp, nil
		}
	}
	return nil, storeNotFound("template", idOrAlias)
}

// --- Scheduled Jobs ---

func (s *MemoryStore) CreateScheduledJob(_ context.Context, job *schema.ScheduledJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "scheduled job %q already exists", job.ID)
	}
	cp := *job
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = s.now()
	}
	s.jobs[job.ID] = &cp
	return nil
}

func (s *MemoryStore) ListScheduledJobs(_ context.Context, filter ScheduledJobFilter) ([]*schema.ScheduledJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*schema.ScheduledJob
	for _, job := range s.jobs {
		if filter.Enabled != nil && job.Enabled != *filter.Enabled {
			continue
		}
		if filter.TenantID != "" && job.TenantID != filter.TenantID {
			continue
		}
		cp := *job
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryStore) UpdateScheduledJob(_ context.Context, id string, update ScheduledJobUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return storeNotFound("scheduled job", id)
	}
	if update.Enabled != nil {
		job.Enabled = *update.Enabled
	}
	if update.LastRunAt != nil {
		t := *update.LastRunAt
		job.LastRunAt = &t
	}
	if update.NextRunAt != nil {
		t := *update.NextRunAt
		job.NextRunAt = &t
	}
	if update.LastRunStatus != "" {
		job.LastRunStatus = update.LastRunStatus
	}
	return nil
}

// Migrate is a no-op for the in-memory store.
func (s *MemoryStore) Migrate(context.Context) error { return nil }

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }

func copyRun(run *schema.Run) *schema.Run {
	cp := *run
	cp.Source = append([]string(nil), run.Source...)
	if run.Steps != nil {
		cp.Steps = make([]json.RawMessage, len(run.Steps))
		copy(cp.Steps, run.Steps)
	}
	return &cp
}
