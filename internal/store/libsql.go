package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/cgradwohl/backend-services-2-sub001/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ Store = (*LibSQLStore)(nil)

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-20000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// SetClock replaces the clock used for timestamps and sentinel expiry.
func (s *LibSQLStore) SetClock(now func() time.Time) { s.now = now }

// DB returns the underlying *sql.DB, shared with the durable queue.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return applyMigrations(ctx, s.db)
}

// SchemaVersion returns the highest applied migration version.
func (s *LibSQLStore) SchemaVersion(ctx context.Context) (int, error) {
	return schemaVersion(ctx, s.db)
}

// --- Runs ---

const runColumns = `run_id, tenant_id, source, scope, dry_run_key, status, cancelation_token, context_ref, steps, error, created_at, updated_at`

func (s *LibSQLStore) CreateRun(ctx context.Context, run *schema.Run) error {
	source, err := json.Marshal(nonNilStrings(run.Source))
	if err != nil {
		return fmt.Errorf("marshal source: %w", err)
	}
	var steps any
	if run.Steps != nil {
		b, err := json.Marshal(run.Steps)
		if err != nil {
			return fmt.Errorf("marshal steps: %w", err)
		}
		steps = string(b)
	}
	created := s.timeOrNow(run.CreatedAt)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (`+runColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.TenantID, string(source), run.Scope, nullStr(run.DryRunKey),
		string(run.Status), nullStr(run.CancelationToken), run.ContextRef, steps,
		nullStr(run.Error), created, created,
	)
	if isUniqueViolation(err) {
		return schema.NewErrorf(schema.ErrCodeConflict, "run %q already exists", run.RunID).WithCause(err)
	}
	return err
}

func (s *LibSQLStore) GetRun(ctx context.Context, runID string) (*schema.Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("run", runID)
	}
	return run, err
}

func (s *LibSQLStore) UpdateRun(ctx context.Context, runID string, update RunUpdate) error {
	var sets []string
	var args []any

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.Error != nil {
		sets = append(sets, "error = ?")
		args = append(args, nullStr(*update.Error))
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, s.now().UTC(), runID)

	query := fmt.Sprintf("UPDATE runs SET %s WHERE run_id = ?", strings.Join(sets, ", "))
	if len(update.ExpectedStatus) > 0 {
		query += " AND status IN (" + placeholders(len(update.ExpectedStatus)) + ")"
		for _, st := range update.ExpectedStatus {
			args = append(args, string(st))
		}
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	current, err := s.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	return runStatusConflict(runID, current.Status, update.ExpectedStatus)
}

func (s *LibSQLStore) ListRuns(ctx context.Context, filter RunFilter) ([]*schema.Run, error) {
	var where []string
	var args []any

	if filter.TenantID != "" {
		where = append(where, "tenant_id = ?")
		args = append(args, filter.TenantID)
	}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}

	query := "SELECT " + runColumns + " FROM runs"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*schema.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*schema.Run, error) {
	run := &schema.Run{}
	var (
		source, status                     string
		dryRunKey, token, stepsJSON, errMsg sql.NullString
	)
	if err := row.Scan(&run.RunID, &run.TenantID, &source, &run.Scope, &dryRunKey, &status,
		&token, &run.ContextRef, &stepsJSON, &errMsg, &run.CreatedAt, &run.UpdatedAt); err != nil {
		return nil, err
	}
	run.Status = schema.RunStatus(status)
	run.DryRunKey = dryRunKey.String
	run.CancelationToken = token.String
	run.Error = errMsg.String
	if err := json.Unmarshal([]byte(source), &run.Source); err != nil {
		return nil, fmt.Errorf("unmarshal source: %w", err)
	}
	if stepsJSON.Valid && stepsJSON.String != "" {
		if err := json.Unmarshal([]byte(stepsJSON.String), &run.Steps); err != nil {
			return nil, fmt.Errorf("unmarshal steps: %w", err)
		}
	}
	return run, nil
}

// --- Run context ---

func (s *LibSQLStore) PutRunContext(ctx context.Context, key string, rc *schema.RunContext) error {
	body, err := json.Marshal(rc)
	if err != nil {
		return fmt.Errorf("marshal run context: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO run_contexts (context_key, body) VALUES (?, ?)
		 ON CONFLICT(context_key) DO UPDATE SET body=excluded.body`,
		key, string(body),
	)
	return err
}

func (s *LibSQLStore) GetRunContext(ctx context.Context, key string) (*schema.RunContext, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM run_contexts WHERE context_key = ?`, key).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("run context", key)
	}
	if err != nil {
		return nil, err
	}
	rc := &schema.RunContext{}
	if err := json.Unmarshal([]byte(body), rc); err != nil {
		return nil, fmt.Errorf("unmarshal run context: %w", err)
	}
	return rc, nil
}

// --- Steps ---

const stepColumns = `run_id, step_id, tenant_id, action, status, prev_step_id, next_step_id, if_expr, ref, context, params, error, retryable, created_at, updated_at`

// CreateSteps writes all steps in a single transaction.
func (s *LibSQLStore) CreateSteps(ctx context.Context, steps []*schema.Step) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create steps: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.now().UTC()
	for _, st := range steps {
		params, err := marshalMapOrDefault(st.Params)
		if err != nil {
			return fmt.Errorf("marshal params: %w", err)
		}
		stepCtx, err := nullableMap(st.Context)
		if err != nil {
			return fmt.Errorf("marshal context: %w", err)
		}
		created := st.CreatedAt
		if created.IsZero() {
			created = now
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO steps (`+stepColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			st.RunID, st.StepID, st.TenantID, string(st.Action), string(st.Status),
			nullStr(st.PrevStepID), nullStr(st.NextStepID), nullStr(st.If), nullStr(st.Ref),
			stepCtx, string(params), nullStr(st.Error), st.Retryable, created, created,
		)
		if isUniqueViolation(err) {
			return schema.NewErrorf(schema.ErrCodeConflict, "step %q already exists", st.StepID).WithCause(err)
		}
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *LibSQLStore) GetStep(ctx context.Context, runID, stepID string) (*schema.Step, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+stepColumns+` FROM steps WHERE run_id = ? AND step_id = ?`, runID, stepID)
	st, err := scanStep(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("step", stepID)
	}
	return st, err
}

// ListSteps returns the run's steps in chain order.
func (s *LibSQLStore) ListSteps(ctx context.Context, runID string) ([]*schema.Step, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+stepColumns+` FROM steps WHERE run_id = ? ORDER BY created_at`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []*schema.Step
	for rows.Next() {
		st, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		steps = append(steps, st)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return orderChain(steps), nil
}

func (s *LibSQLStore) UpdateStep(ctx context.Context, runID, stepID string, update StepUpdate) error {
	var sets []string
	var args []any

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.Context != nil {
		b, err := json.Marshal(update.Context)
		if err != nil {
			return fmt.Errorf("marshal context: %w", err)
		}
		sets = append(sets, "context = ?")
		args = append(args, string(b))
	}
	if update.Error != nil {
		sets = append(sets, "error = ?")
		args = append(args, nullStr(*update.Error))
	}
	if update.Retryable != nil {
		sets = append(sets, "retryable = ?")
		args = append(args, *update.Retryable)
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, s.now().UTC(), runID, stepID)

	query := fmt.Sprintf("UPDATE steps SET %s WHERE run_id = ? AND step_id = ?", strings.Join(sets, ", "))
	if len(update.ExpectedStatus) > 0 {
		query += " AND status IN (" + placeholders(len(update.ExpectedStatus)) + ")"
		for _, st := range update.ExpectedStatus {
			args = append(args, string(st))
		}
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	current, err := s.GetStep(ctx, runID, stepID)
	if err != nil {
		return err
	}
	return stepStatusConflict(stepID, current.Status, update.ExpectedStatus)
}

func scanStep(row rowScanner) (*schema.Step, error) {
	st := &schema.Step{}
	var (
		action, status, params                   string
		prev, next, ifExpr, ref, stepCtx, errMsg sql.NullString
	)
	if err := row.Scan(&st.RunID, &st.StepID, &st.TenantID, &action, &status, &prev, &next,
		&ifExpr, &ref, &stepCtx, &params, &errMsg, &st.Retryable, &st.CreatedAt, &st.UpdatedAt); err != nil {
		return nil, err
	}
	st.Action = schema.StepAction(action)
	st.Status = schema.StepStatus(status)
	st.PrevStepID = prev.String
	st.NextStepID = next.String
	st.If = ifExpr.String
	st.Ref = ref.String
	st.Error = errMsg.String
	if err := json.Unmarshal([]byte(params), &st.Params); err != nil {
		return nil, fmt.Errorf("unmarshal params: %w", err)
	}
	if stepCtx.Valid && stepCtx.String != "" {
		if err := json.Unmarshal([]byte(stepCtx.String), &st.Context); err != nil {
			return nil, fmt.Errorf("unmarshal context: %w", err)
		}
	}
	return st, nil
}

// --- Step references ---

func (s *LibSQLStore) PutStepRefs(ctx context.Context, runID string, refs map[string]string) error {
	if len(refs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin put step refs: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for name, stepID := range refs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO step_refs (run_id, name, step_id) VALUES (?, ?, ?)
			 ON CONFLICT(run_id, name) DO UPDATE SET step_id=excluded.step_id`,
			runID, name, stepID,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *LibSQLStore) GetStepRef(ctx context.Context, runID, name string) (string, error) {
	var stepID string
	err := s.db.QueryRowContext(ctx,
		`SELECT step_id FROM step_refs WHERE run_id = ? AND name = ?`, runID, name,
	).Scan(&stepID)
	if err == sql.ErrNoRows {
		return "", storeNotFound("step ref", name)
	}
	return stepID, err
}

// --- Cancellation tokens ---

func (s *LibSQLStore) PutCancelationToken(ctx context.Context, tenantID, token, runID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cancelation_tokens (tenant_id, token, run_id) VALUES (?, ?, ?)
		 ON CONFLICT(tenant_id, token, run_id) DO NOTHING`,
		tenantID, token, runID,
	)
	return err
}

func (s *LibSQLStore) ListCancelationTokenRuns(ctx context.Context, tenantID, token string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id FROM cancelation_tokens WHERE tenant_id = ? AND token = ? ORDER BY created_at`,
		tenantID, token,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- Idempotency ---

// ClaimIdempotencyKey inserts the sentinel unless an unexpired one exists.
// Expired sentinels are overwritten.
func (s *LibSQLStore) ClaimIdempotencyKey(ctx context.Context, tenantID, key string, expiresAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO idempotency_keys (tenant_id, idempotency_key, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(tenant_id, idempotency_key) DO UPDATE SET expires_at=excluded.expires_at
		 WHERE idempotency_keys.expires_at <= ?`,
		tenantID, key, expiresAt.UnixMilli(), s.now().UnixMilli(),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// --- Delay work items ---

func (s *LibSQLStore) PutDelayItem(ctx context.Context, item *schema.DelayItem) error {
	msg, err := json.Marshal(item.Message)
	if err != nil {
		return fmt.Errorf("marshal delay message: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO delay_items (id, message, target_time, expires_at, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET message=excluded.message, target_time=excluded.target_time, expires_at=excluded.expires_at`,
		item.ID, string(msg), item.TargetTime.UnixMilli(), item.ExpiresAt.UnixMilli(), s.timeOrNow(item.CreatedAt),
	)
	return err
}

func (s *LibSQLStore) ListDueDelayItems(ctx context.Context, now time.Time, limit int) ([]*schema.DelayItem, error) {
	query := `SELECT id, message, target_time, expires_at, created_at FROM delay_items
		WHERE expires_at <= ? ORDER BY expires_at`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.QueryContext(ctx, query, now.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*schema.DelayItem
	for rows.Next() {
		item := &schema.DelayItem{}
		var (
			msg               string
			target, expiresAt int64
		)
		if err := rows.Scan(&item.ID, &msg, &target, &expiresAt, &item.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(msg), &item.Message); err != nil {
			return nil, fmt.Errorf("unmarshal delay message: %w", err)
		}
		item.TargetTime = time.UnixMilli(target).UTC()
		item.ExpiresAt = time.UnixMilli(expiresAt).UTC()
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *LibSQLStore) DeleteDelayItem(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM delay_items WHERE id = ?`, id)
	return err
}

// --- Templates ---

func (s *LibSQLStore) PutTemplate(ctx context.Context, tpl *schema.Template) error {
	var steps any
	if tpl.Steps != nil {
		b, err := json.Marshal(tpl.Steps)
		if err != nil {
			return fmt.Errorf("marshal template steps: %w", err)
		}
		steps = string(b)
	}
	now := s.now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO templates (tenant_id, id, alias, steps, expression, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(tenant_id, id) DO UPDATE SET alias=excluded.alias, steps=excluded.steps,
		   expression=excluded.expression, updated_at=excluded.updated_at`,
		tpl.TenantID, tpl.ID, nullStr(tpl.Alias), steps, nullStr(tpl.Expression),
		s.timeOrNow(tpl.CreatedAt), now,
	)
	return err
}

func (s *LibSQLStore) GetTemplate(ctx context.Context, tenantID, idOrAlias string) (*schema.Template, error) {
	tpl := &schema.Template{}
	var alias, steps, expression sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT tenant_id, id, alias, steps, expression, created_at, updated_at FROM templates
		 WHERE tenant_id = ? AND (id = ? OR alias = ?)
		 ORDER BY CASE WHEN id = ? THEN 0 ELSE 1 END LIMIT 1`,
		tenantID, idOrAlias, idOrAlias, idOrAlias,
	).Scan(&tpl.TenantID, &tpl.ID, &alias, &steps, &expression, &tpl.CreatedAt, &tpl.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("template", idOrAlias)
	}
	if err != nil {
		return nil, err
	}
	tpl.Alias = alias.String
	tpl.Expression = expression.String
	if steps.Valid && steps.String != "" {
		if err := json.Unmarshal([]byte(steps.String), &tpl.Steps); err != nil {
			return nil, fmt.Errorf("unmarshal template steps: %w", err)
		}
	}
	return tpl, nil
}

// --- Scheduled Jobs ---

func (s *LibSQLStore) CreateScheduledJob(ctx context.Context, job *schema.ScheduledJob) error {
	var jobCtx any
	if job.Context != nil {
		b, err := json.Marshal(job.Context)
		if err != nil {
			return fmt.Errorf("marshal job context: %w", err)
		}
		jobCtx = string(b)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scheduled_jobs (id, tenant_id, template_id, cron_expression, scope, context, enabled, last_run_at, next_run_at, last_run_status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.TenantID, job.TemplateID, job.CronExpression, job.Scope, jobCtx,
		job.Enabled, nullTime(job.LastRunAt), nullTime(job.NextRunAt), nullStr(job.LastRunStatus),
		s.timeOrNow(job.CreatedAt),
	)
	if isUniqueViolation(err) {
		return schema.NewErrorf(schema.ErrCodeConflict, "scheduled job %q already exists", job.ID).WithCause(err)
	}
	return err
}

func (s *LibSQLStore) ListScheduledJobs(ctx context.Context, filter ScheduledJobFilter) ([]*schema.ScheduledJob, error) {
	var where []string
	var args []any

	if filter.Enabled != nil {
		where = append(where, "enabled = ?")
		args = append(args, *filter.Enabled)
	}
	if filter.TenantID != "" {
		where = append(where, "tenant_id = ?")
		args = append(args, filter.TenantID)
	}

	query := "SELECT id, tenant_id, template_id, cron_expression, scope, context, enabled, last_run_at, next_run_at, last_run_status, created_at FROM scheduled_jobs"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*schema.ScheduledJob
	for rows.Next() {
		job := &schema.ScheduledJob{}
		var (
			jobCtx, lastStatus   sql.NullString
			lastRunAt, nextRunAt sql.NullTime
		)
		if err := rows.Scan(&job.ID, &job.TenantID, &job.TemplateID, &job.CronExpression, &job.Scope,
			&jobCtx, &job.Enabled, &lastRunAt, &nextRunAt, &lastStatus, &job.CreatedAt); err != nil {
			return nil, err
		}
		if jobCtx.Valid && jobCtx.String != "" {
			job.Context = &schema.RunContext{}
			if err := json.Unmarshal([]byte(jobCtx.String), job.Context); err != nil {
				return nil, fmt.Errorf("unmarshal job context: %w", err)
			}
		}
		if lastRunAt.Valid {
			job.LastRunAt = &lastRunAt.Time
		}
		if nextRunAt.Valid {
			job.NextRunAt = &nextRunAt.Time
		}
		job.LastRunStatus = lastStatus.String
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (s *LibSQLStore) UpdateScheduledJob(ctx context.Context, id string, update ScheduledJobUpdate) error {
	var sets []string
	var args []any

	if update.Enabled != nil {
		sets = append(sets, "enabled = ?")
		args = append(args, *update.Enabled)
	}
	if update.LastRunAt != nil {
		sets = append(sets, "last_run_at = ?")
		args = append(args, *update.LastRunAt)
	}
	if update.NextRunAt != nil {
		sets = append(sets, "next_run_at = ?")
		args = append(args, *update.NextRunAt)
	}
	if update.LastRunStatus != "" {
		sets = append(sets, "last_run_status = ?")
		args = append(args, update.LastRunStatus)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)

	query := fmt.Sprintf("UPDATE scheduled_jobs SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "scheduled job", id)
}

// --- Helpers ---

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func (s *LibSQLStore) timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return s.now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nullableMap(m map[string]any) (any, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func marshalMapOrDefault(m map[string]any) (json.RawMessage, error) {
	if len(m) == 0 {
		return json.RawMessage("{}"), nil
	}
	return json.Marshal(m)
}
