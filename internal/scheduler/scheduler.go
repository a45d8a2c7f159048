package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/cgradwohl/backend-services-2-sub001/internal/store"
	"github.com/cgradwohl/backend-services-2-sub001/pkg/schema"
)

const (
	statusSuccess = "success"
	statusError   = "error"
)

// TemplateInvoker starts a run from a stored template. Satisfied by
// engine.Service (avoids import cycle).
type TemplateInvoker interface {
	InvokeTemplate(ctx context.Context, inv schema.TemplateInvocation) (string, error)
}

// Scheduler polls the store for due scheduled jobs and invokes their
// templates. Each fire gets a run id derived from the job and its due
// time, so a fire repeated after a crash collides instead of running twice.
type Scheduler struct {
	store    store.Store
	invoker  TemplateInvoker
	parser   cron.Parser
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger
	cancel   context.CancelFunc
	done     chan struct{}
	mu       sync.Mutex

	inflightMu sync.Mutex
	inflight   map[string]struct{}
}

// NewScheduler creates a Scheduler that ticks every interval (one minute
// when zero).
func NewScheduler(s store.Store, invoker TemplateInvoker, interval time.Duration, now func() time.Time, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Scheduler{
		store:    s,
		invoker:  invoker,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		interval: interval,
		now:      now,
		logger:   logger,
		inflight: make(map[string]struct{}),
	}
}

// Register validates a job's cron expression, stamps its next run and
// persists it.
func (s *Scheduler) Register(ctx context.Context, job *schema.ScheduledJob) error {
	if job.TenantID == "" || job.TemplateID == "" {
		return schema.NewError(schema.ErrCodeValidation, "scheduled job needs a tenant and a template")
	}
	now := s.now()
	next, err := s.CalculateNextRun(job.CronExpression, now)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, err.Error()).WithCause(err)
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Scope == "" {
		job.Scope = "published/production"
	}
	job.NextRunAt = &next
	job.CreatedAt = now
	return s.store.CreateScheduledJob(ctx, job)
}

// Start launches the background scheduling loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("scheduler started", slog.Duration("interval", s.interval))
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs every enabled job that is due and returns how many fired.
func (s *Scheduler) Tick(ctx context.Context) int {
	enabled := true
	jobs, err := s.store.ListScheduledJobs(ctx, store.ScheduledJobFilter{Enabled: &enabled})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to list scheduled jobs", slog.String("error", err.Error()))
		return 0
	}

	now := s.now()
	fired := 0
	for _, job := range jobs {
		if job.NextRunAt != nil && job.NextRunAt.After(now) {
			continue
		}
		if !s.tryAcquire(job.ID) {
			continue
		}
		if err := s.runJob(ctx, job, now); err != nil {
			s.logger.ErrorContext(ctx, "failed to run scheduled job",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()),
			)
		}
		s.releaseJob(job.ID)
		fired++
	}
	return fired
}

// runJob invokes the job's template and advances its schedule.
func (s *Scheduler) runJob(ctx context.Context, job *schema.ScheduledJob, now time.Time) error {
	due := now
	if job.NextRunAt != nil {
		due = *job.NextRunAt
	}
	log := s.logger.With(
		slog.String("job_id", job.ID),
		slog.String("tenant_id", job.TenantID),
		slog.String("template", job.TemplateID),
	)
	log.InfoContext(ctx, "running scheduled job")

	runID, err := s.invoker.InvokeTemplate(ctx, schema.TemplateInvocation{
		TenantID: job.TenantID,
		Template: job.TemplateID,
		RunID:    fmt.Sprintf("schedule-%s-%d", job.ID, due.Unix()),
		Scope:    job.Scope,
		Source:   []string{"schedule/" + job.ID},
		Context:  job.Context,
	})
	status := statusSuccess
	switch {
	case schema.HasCode(err, schema.ErrCodeConflict):
		log.InfoContext(ctx, "scheduled run already exists", slog.String("run_id", runID))
	case err != nil:
		status = statusError
		log.ErrorContext(ctx, "scheduled job execution failed", slog.String("error", err.Error()))
	default:
		log.InfoContext(ctx, "scheduled run started", slog.String("run_id", runID))
	}

	return s.updateJobStatus(ctx, job, now, status)
}

func (s *Scheduler) updateJobStatus(ctx context.Context, job *schema.ScheduledJob, now time.Time, status string) error {
	nextRun, err := s.CalculateNextRun(job.CronExpression, now)
	if err != nil {
		disabled := false
		_ = s.store.UpdateScheduledJob(ctx, job.ID, store.ScheduledJobUpdate{
			Enabled:       &disabled,
			LastRunAt:     &now,
			LastRunStatus: statusError,
		})
		return fmt.Errorf("calculate next run for job %q: %w", job.ID, err)
	}

	return s.store.UpdateScheduledJob(ctx, job.ID, store.ScheduledJobUpdate{
		LastRunAt:     &now,
		NextRunAt:     &nextRun,
		LastRunStatus: status,
	})
}

func (s *Scheduler) tryAcquire(jobID string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[jobID]; ok {
		return false
	}
	s.inflight[jobID] = struct{}{}
	return true
}

func (s *Scheduler) releaseJob(jobID string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, jobID)
}

// CalculateNextRun computes the next run time for a cron expression.
func (s *Scheduler) CalculateNextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("scheduler stopped")
	return nil
}
