package repository

import (
	"database/sql"
	"fmt"

	"github.com/modelci/modelci/internal/config"
	"github.com/modelci/modelci/pkg/modelci/core"
	domain "github.com/modelci/modelci/pkg/modelci/domain"
	"github.com/modelci/modelci/pkg/modelci/models"

	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// RunRepository provides persistence for the runs table.
type RunRepository struct {
	db    *sql.DB
	clock core.Clock
}

// RunOverviewRow holds grouped counts by runner_group and flow_type
type RunOverviewRow struct {
	RunnerGroup     string
	FlowType        string
	NewCount        int
	ScheduledCount  int
	ExecutingCount  int
	FinishedCount   int
	InProgressCount int
	CancelledCount  int
}

// DefinitionStateRow holds counts by state for a flow type
type DefinitionStateRow struct {
	State           string
	NewCount        int
	ScheduledCount  int
	ExecutingCount  int
	InProgressCount int
	FinishedCount   int
}

const ALL_COLUMNS = ` id, status, execution_count, retry_count, created, modified,
		       next_activation, started, runner_id, runner_group,
		       flow_type, external_id, concurrency_key, state, state_vars, parent_run_id `

func NewRunRepository(db *sql.DB, clock core.Clock) *RunRepository {
	return &RunRepository{db: db, clock: clock}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(s rowScanner) (domain.Run, error) {
	var run domain.Run
	err := s.Scan(
		&run.ID,
		&run.Status,
		&run.ExecutionCount,
		&run.RetryCount,
		&run.Created,
		&run.Modified,
		&run.NextActivation,
		&run.Started,
		&run.RunnerID,
		&run.RunnerGroup,
		&run.FlowType,
		&run.ExternalID,
		&run.ConcurrencyKey,
		&run.State,
		&run.StateVars,
		&run.ParentRunID,
	)
	return run, err
}

func collectRuns(rows *sql.Rows) (*[]domain.Run, error) {
	var runs []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &runs, nil
}

func (r *RunRepository) FindByID(id int64) (*domain.Run, error) {
	query := `
		SELECT ` + ALL_COLUMNS + `
		FROM runs WHERE id = ` + placeholder(1) + `
	`
	run, err := scanRun(r.db.QueryRow(query, id))
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// FindByExternalId fetches a run by external id. Returns (nil, nil) if not
// found; the scheduler relies on that for its not-fired-yet dedup check.
func (r *RunRepository) FindByExternalId(id string) (*domain.Run, error) {
	query := `
		SELECT ` + ALL_COLUMNS + `
		FROM runs WHERE external_id = ` + placeholder(1) + `
	`
	run, err := scanRun(r.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (r *RunRepository) Save(run *domain.Run) (int64, error) {
	// Build dialect-aware placeholders
	vals := []interface{}{run.Status, run.ExecutionCount, run.RetryCount, formatDateInDatabase(run.Created), formatDateInDatabase(run.Modified),
		formatDateInDatabaseNull(run.NextActivation), formatDateInDatabaseNull(run.Started), run.RunnerID, run.RunnerGroup,
		run.FlowType, run.ExternalID, run.ConcurrencyKey, run.State, run.StateVars, run.ParentRunID}
	pps := make([]string, 0, len(vals))
	for i := range vals {
		pps = append(pps, placeholder(i+1))
	}
	base := `INSERT INTO runs (
		status, execution_count, retry_count, created, modified,
		next_activation, started, runner_id, runner_group,
		flow_type, external_id, concurrency_key, state, state_vars, parent_run_id
	) VALUES (` + strings.Join(pps, ", ") + `)`
	var err error
	if supportsReturning() {
		query := base + " RETURNING id"
		err = r.db.QueryRow(query, vals...).Scan(&run.ID)
	} else {
		res, e := r.db.Exec(base, vals...)
		if e != nil {
			err = e
		} else {
			id, e2 := res.LastInsertId()
			if e2 != nil {
				err = e2
			} else {
				run.ID = id
			}
		}
	}
	return run.ID, err
}

func formatDateInDatabase(created time.Time) string {
	if config.GetSystemSettingString(config.DATABASE_TYPE) == config.DATABASE_TYPE_SQLLITE {
		return created.UTC().Format("2006-01-02 15:04:05.000")
	}
	if config.GetSystemSettingString(config.DATABASE_TYPE) == config.DATABASE_TYPE_MYSQL {
		return created.UTC().Format("2006-01-02 15:04:05.000000")
	}
	// PostgreSQL supports RFC3339
	return created.UTC().Format(time.RFC3339Nano)
}

func formatDateInDatabaseNull(created sql.NullTime) interface{} {
	if !created.Valid {
		return nil
	}

	if config.GetSystemSettingString(config.DATABASE_TYPE) == config.DATABASE_TYPE_SQLLITE {
		// Format as string for SQLite
		return created.Time.UTC().Format("2006-01-02 15:04:05.000")
	}

	// MySQL also needs string format (without T and Z)
	if config.GetSystemSettingString(config.DATABASE_TYPE) == config.DATABASE_TYPE_MYSQL {
		return created.Time.UTC().Format("2006-01-02 15:04:05.000000")
	}

	// Return time.Time directly for PostgreSQL
	return created.Time
}

func (r *RunRepository) FindPendingRuns(size int, runnerGroup string) (*[]domain.Run, error) {
	query := `
		SELECT ` + ALL_COLUMNS + `
		FROM runs
		WHERE  ` + dateBeforeNow("next_activation", r.clock) + `
		  AND status in ('NEW', 'IN_PROGRESS')
		  AND runner_id IS NULL
		  AND runner_group = ` + placeholder(1) + `
		ORDER BY next_activation ASC
		LIMIT ` + placeholder(2) + `
	`

	rows, err := r.db.Query(query, runnerGroup, size)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRuns(rows)
}

// MarkRunAsScheduledForExecution takes the optimistic lock on a pending run.
// Returns false when another runner got there first.
func (r *RunRepository) MarkRunAsScheduledForExecution(id int64, runnerId int64, modified time.Time) bool {
	query := `
		UPDATE runs
		SET status = 'SCHEDULED', modified = ` + nowFunc(r.clock) + `, runner_id = ` + placeholder(1) + `
		WHERE id = ` + placeholder(2) + ` AND modified = ` + placeholder(3) + ` AND status IN ('NEW', 'IN_PROGRESS') AND runner_id IS NULL
	`
	stringdate := formatDateInDatabase(modified)
	result, err := r.db.Exec(query, runnerId, id, stringdate)
	if err != nil {
		slog.Error("Failed to mark run as scheduled", "error", err, "id", id, "runnerId", runnerId, "modified", modified)
		return false
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false
	}
	return rowsAffected == 1
}

func (r *RunRepository) UpdateState(id int64, state string) error {
	query := `
		UPDATE runs
		SET state = ` + placeholder(1) + `, modified = ` + nowFunc(r.clock) + `, retry_count = 0
		WHERE id = ` + placeholder(2) + `
	`
	_, err := r.db.Exec(query, state, id)
	return err
}

func (r *RunRepository) UpdateRunStatus(id int64, status string) error {
	query := `
		UPDATE runs
		SET status = ` + placeholder(1) + `, modified = ` + nowFunc(r.clock) + `
		WHERE id = ` + placeholder(2) + `
	`
	_, err := r.db.Exec(query, status, id)
	return err
}

func (r *RunRepository) UpdateRunStartingTime(id int64) error {
	query := `
		UPDATE runs
		SET  started = ` + nowFunc(r.clock) + `
		WHERE id = ` + placeholder(1) + `
	`
	_, err := r.db.Exec(query, id)
	return err
}

func (r *RunRepository) SaveRunVariables(id int64, vars string) error {
	query := `
		UPDATE runs
		SET state_vars = ` + placeholder(1) + `
		WHERE id = ` + placeholder(2) + `
	`
	_, err := r.db.Exec(query, vars, id)
	return err
}

// SaveRunVariablesAndTouch updates state_vars and touches modified timestamp.
func (r *RunRepository) SaveRunVariablesAndTouch(id int64, vars string) error {
	query := `
		UPDATE runs
		SET state_vars = ` + placeholder(1) + `, modified = ` + nowFunc(r.clock) + `
		WHERE id = ` + placeholder(2) + `
	`
	_, err := r.db.Exec(query, vars, id)
	return err
}

func (r *RunRepository) UpdateNextActivationSpecific(id int64, next time.Time) error {
	query := `
		UPDATE runs
		SET status = 'IN_PROGRESS', next_activation = ` + placeholder(1) + `, modified = ` + nowFunc(r.clock) + `
		WHERE id = ` + placeholder(2) + `
	`
	_, err := r.db.Exec(query, formatDateInDatabase(next), id)
	return err
}

func (r *RunRepository) UpdateNextActivationOffset(id int64, offset string) error {
	// Compute next_activation in Go so the same path works on every dialect
	var dur time.Duration
	var err error
	dur, err = ParseHumanInterval(offset)
	if err != nil {
		// try to parse as integer minutes from string like "5" or "5 minutes"
		mins := 0
		fmt.Sscanf(offset, "%d", &mins)
		dur = time.Duration(mins) * time.Minute
	}
	next := r.clock.Now().UTC().Add(dur)
	query := `
		UPDATE runs
		SET status = 'IN_PROGRESS', next_activation = ` + placeholder(1) + `, modified = ` + nowFunc(r.clock) + `
		WHERE id = ` + placeholder(2) + `
	`
	_, err = r.db.Exec(query, formatDateInDatabase(next), id)
	return err
}

// ParseHumanInterval converts an interval string like "10 minutes" to time.Duration
func ParseHumanInterval(interval string) (time.Duration, error) {
	interval = strings.TrimSpace(interval)
	if interval == "" {
		return 0, nil
	}

	// Regex to capture number + unit (hours, minutes, seconds, milliseconds)
	re := regexp.MustCompile(`(?i)(-?\d+(?:\.\d*)?)\s*(hour|hours|minute|minutes|second|seconds|ms|millisecond|milliseconds)`)
	matches := re.FindAllStringSubmatch(interval, -1)
	if matches == nil {
		return 0, fmt.Errorf("invalid interval format: %s", interval)
	}

	var total time.Duration

	for _, m := range matches {
		valueStr, unit := m[1], strings.ToLower(m[2])
		value, err := strconv.ParseFloat(valueStr, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid number in interval: %s", valueStr)
		}

		switch unit {
		case "hour", "hours":
			total += time.Duration(value * float64(time.Hour))
		case "minute", "minutes":
			total += time.Duration(value * float64(time.Minute))
		case "second", "seconds":
			total += time.Duration(value * float64(time.Second))
		case "ms", "millisecond", "milliseconds":
			total += time.Duration(value * float64(time.Millisecond))
		default:
			return 0, fmt.Errorf("unknown unit in interval: %s", unit)
		}
	}

	return total, nil
}

func (r *RunRepository) ClearRunnerId(id int64) error {
	query := `
		UPDATE runs
		SET runner_id = NULL, modified = ` + nowFunc(r.clock) + `
		WHERE id = ` + placeholder(1) + `
	`
	_, err := r.db.Exec(query, id)
	return err
}

func (r *RunRepository) IncrementRetryCounterAndSetNextActivation(id int64, activation time.Time) error {
	query := `
		UPDATE runs
		SET status = 'IN_PROGRESS', runner_id = NULL, retry_count = retry_count + 1, next_activation = ` + placeholder(1) + `, modified = ` + nowFunc(r.clock) + `
		WHERE id = ` + placeholder(2) + `
	`
	_, err := r.db.Exec(query, formatDateInDatabase(activation), id)
	return err
}

func (r *RunRepository) FindStuckRuns(minutesRepair string, runnerGroup string, limit int) (*[]domain.Run, error) {
	query := `
		SELECT ` + ALL_COLUMNS + `
		FROM runs
		WHERE modified < ` + placeholder(1) + `
		  AND status IN ('SCHEDULED', 'EXECUTING', 'IN_PROGRESS', 'LOCK')
		  AND runner_group = ` + placeholder(2) + `
		  AND runner_id NOT IN (
		      SELECT id
		      FROM runners
		      WHERE last_active > ` + placeholder(3) + `
		  )
		ORDER BY next_activation ASC
		LIMIT ` + placeholder(4) + `
		`
	// minutesRepair is a string like "5" or "5 minutes"; extract leading integer minutes
	mins := 0
	fmt.Sscanf(minutesRepair, "%d", &mins)
	cutoff := r.clock.Now().UTC().Add(-time.Duration(mins) * time.Minute)
	lastActiveCutoff := cutoff
	rows, err := r.db.Query(query, cutoff, runnerGroup, lastActiveCutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRuns(rows)
}

func (r *RunRepository) LockRunByModified(id int64, modified time.Time) bool {
	query := `
		UPDATE runs
		SET status = 'LOCK', runner_id = NULL, retry_count = retry_count + 1, next_activation = ` + placeholder(1) + `, modified = ` + nowFunc(r.clock) + `
		WHERE id = ` + placeholder(2) + ` AND modified = ` + placeholder(3) + `
	`
	result, err := r.db.Exec(query, formatDateInDatabase(modified), id, formatDateInDatabase(modified))
	if err != nil {
		return false
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false
	}
	return rowsAffected == 1
}

// FindActiveByConcurrencyKey returns non-terminal runs holding the given
// concurrency key, excluding excludeID (typically the run doing the asking).
func (r *RunRepository) FindActiveByConcurrencyKey(key string, excludeID int64) (*[]domain.Run, error) {
	query := `
		SELECT ` + ALL_COLUMNS + `
		FROM runs
		WHERE concurrency_key = ` + placeholder(1) + `
		  AND id != ` + placeholder(2) + `
		  AND status NOT IN ('FINISHED', 'FAILED', 'CANCELLED', 'MANUAL')
		ORDER BY id ASC
	`
	rows, err := r.db.Query(query, key, excludeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRuns(rows)
}

// CancelRun marks a non-terminal run as cancelled and releases its runner.
// Returns false when the run had already reached a terminal status.
func (r *RunRepository) CancelRun(id int64) bool {
	query := `
		UPDATE runs
		SET status = 'CANCELLED', runner_id = NULL, next_activation = NULL, modified = ` + nowFunc(r.clock) + `
		WHERE id = ` + placeholder(1) + ` AND status NOT IN ('FINISHED', 'FAILED', 'CANCELLED')
	`
	result, err := r.db.Exec(query, id)
	if err != nil {
		slog.Error("Failed to cancel run", "error", err, "id", id)
		return false
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false
	}
	return rowsAffected >= 1
}

// CreateChildRun inserts a child run of the given parent, activated immediately.
func (r *RunRepository) CreateChildRun(parentID int64, flowType string, initialState string, concurrencyKey string, stateVarsJSON string) (*domain.Run, error) {
	parent, err := r.FindByID(parentID)
	if err != nil {
		return nil, err
	}
	now := r.clock.Now().UTC()
	child := &domain.Run{
		Status:         "NEW",
		Created:        now,
		Modified:       now,
		NextActivation: sql.NullTime{Time: now, Valid: true},
		RunnerGroup:    parent.RunnerGroup,
		FlowType:       flowType,
		ExternalID:     fmt.Sprintf("%s-child-%d-%d", parent.ExternalID, parentID, now.UnixNano()),
		ConcurrencyKey: concurrencyKey,
		State:          initialState,
		StateVars:      sql.NullString{String: stateVarsJSON, Valid: stateVarsJSON != ""},
		ParentRunID:    sql.NullInt64{Int64: parentID, Valid: true},
	}
	if _, err := r.Save(child); err != nil {
		return nil, err
	}
	return child, nil
}

// GetChildrenByParentID returns child runs; onlyActive restricts to non-terminal ones.
func (r *RunRepository) GetChildrenByParentID(parentID int64, onlyActive bool) (*[]domain.Run, error) {
	query := `
		SELECT ` + ALL_COLUMNS + `
		FROM runs
		WHERE parent_run_id = ` + placeholder(1) + `
	`
	if onlyActive {
		query += ` AND status NOT IN ('FINISHED', 'FAILED', 'CANCELLED', 'MANUAL')`
	}
	query += ` ORDER BY id ASC`
	rows, err := r.db.Query(query, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRuns(rows)
}

// WakeParentRun schedules the parent run for immediate activation so it can
// observe a finished child.
func (r *RunRepository) WakeParentRun(parentID int64) error {
	return r.UpdateNextActivationSpecific(parentID, r.clock.Now().UTC())
}

func (r *RunRepository) SearchRuns(req models.SearchRunRequest) (*[]domain.Run, error) {
	whereClause, args := buildWhereClause(req)

	query := `
		SELECT ` + ALL_COLUMNS + `
		FROM runs
		` + whereClause +
		` ORDER BY id DESC
	` + buildLimitsAndOffset(req)

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRuns(rows)
}

// GetRunOverview returns aggregated counts grouped by runner_group and flow_type
func (r *RunRepository) GetRunOverview() ([]RunOverviewRow, error) {
	query := `
SELECT
    runner_group,
    flow_type,
    SUM(CASE WHEN status = 'NEW' THEN 1 ELSE 0 END) AS new_count,
    SUM(CASE WHEN status = 'SCHEDULED'  THEN 1 ELSE 0 END) AS scheduled_count,
    SUM(CASE WHEN status = 'EXECUTING' THEN 1 ELSE 0 END) AS executing_count,
    SUM(CASE WHEN status = 'FINISHED'  THEN 1 ELSE 0 END) AS finished_count,
    SUM(CASE WHEN status = 'IN_PROGRESS'  THEN 1 ELSE 0 END) AS in_progress_count,
    SUM(CASE WHEN status = 'CANCELLED'  THEN 1 ELSE 0 END) AS cancelled_count
FROM runs
GROUP BY runner_group, flow_type;
	`
	rows, err := r.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []RunOverviewRow
	for rows.Next() {
		var row RunOverviewRow
		if err := rows.Scan(&row.RunnerGroup, &row.FlowType, &row.NewCount, &row.ScheduledCount, &row.ExecutingCount, &row.FinishedCount, &row.InProgressCount, &row.CancelledCount); err != nil {
			return nil, err
		}
		res = append(res, row)
	}
	return res, nil
}

// GetDefinitionStateOverview returns counts by state for a given flow type
func (r *RunRepository) GetDefinitionStateOverview(flowType string) ([]DefinitionStateRow, error) {
	query := `
SELECT
    COALESCE(state, '') AS state,
    SUM(CASE WHEN status = 'NEW' THEN 1 ELSE 0 END) AS new_count,
    SUM(CASE WHEN status = 'SCHEDULED'  THEN 1 ELSE 0 END) AS scheduled_count,
    SUM(CASE WHEN status = 'EXECUTING' THEN 1 ELSE 0 END) AS executing_count,
    SUM(CASE WHEN status = 'IN_PROGRESS'  THEN 1 ELSE 0 END) AS in_progress_count,
    SUM(CASE WHEN status = 'FINISHED'  THEN 1 ELSE 0 END) AS finished_count
FROM runs
WHERE flow_type = ` + placeholder(1) + `
GROUP BY COALESCE(state, '')
ORDER BY COALESCE(state, '')
	`
	rows, err := r.db.Query(query, flowType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []DefinitionStateRow
	for rows.Next() {
		var row DefinitionStateRow
		if err := rows.Scan(&row.State, &row.NewCount, &row.ScheduledCount, &row.ExecutingCount, &row.InProgressCount, &row.FinishedCount); err != nil {
			return nil, err
		}
		res = append(res, row)
	}
	return res, nil
}

// GetTopExecuting returns runs currently executing ordered by modified desc
func (r *RunRepository) GetTopExecuting(limit int) (*[]domain.Run, error) {
	query := `
		SELECT ` + ALL_COLUMNS + `
		FROM runs
		WHERE status = 'EXECUTING'
		ORDER BY modified DESC
		LIMIT ` + placeholder(1) + `
	`
	rows, err := r.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRuns(rows)
}

// GetNextToExecute returns upcoming runs with status NEW or IN_PROGRESS ordered by next_activation asc
func (r *RunRepository) GetNextToExecute(limit int) (*[]domain.Run, error) {
	query := `
		SELECT ` + ALL_COLUMNS + `
		FROM runs
		WHERE status IN ('NEW','IN_PROGRESS')
		ORDER BY next_activation ASC
		LIMIT ` + placeholder(1) + `
	`
	rows, err := r.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRuns(rows)
}

func buildLimitsAndOffset(req models.SearchRunRequest) string {
	if req.Limit > 0 {
		return fmt.Sprintf(" LIMIT %d OFFSET %d", req.Limit, req.Offset)
	}
	return ""
}

func buildWhereClause(req models.SearchRunRequest) (string, []interface{}) {
	var andClauses []string
	var args []interface{}

	// First, collect the OR-able identity filters: id OR external_id OR concurrency_key
	var orClauses []string
	if req.ID != 0 {
		args = append(args, req.ID)
		orClauses = append(orClauses, fmt.Sprintf("id = %s", placeholder(len(args))))
	}
	if req.ExternalID != "" {
		args = append(args, req.ExternalID)
		orClauses = append(orClauses, fmt.Sprintf("external_id = %s", placeholder(len(args))))
	}
	if req.ConcurrencyKey != "" {
		args = append(args, req.ConcurrencyKey)
		orClauses = append(orClauses, fmt.Sprintf("concurrency_key = %s", placeholder(len(args))))
	}

	// Now, add the remaining AND filters
	if req.RunnerGroup != "" {
		args = append(args, req.RunnerGroup)
		andClauses = append(andClauses, fmt.Sprintf("runner_group = %s", placeholder(len(args))))
	}
	if req.FlowType != "" {
		args = append(args, req.FlowType)
		andClauses = append(andClauses, fmt.Sprintf("flow_type = %s", placeholder(len(args))))
	}
	if req.State != "" {
		args = append(args, req.State)
		andClauses = append(andClauses, fmt.Sprintf("state = %s", placeholder(len(args))))
	}
	if req.Status != "" {
		args = append(args, req.Status)
		andClauses = append(andClauses, fmt.Sprintf("status = %s", placeholder(len(args))))
	}

	// If there are any OR-able clauses, group them in parentheses and AND with others
	if len(orClauses) > 0 {
		andClauses = append(andClauses, "("+strings.Join(orClauses, " OR ")+")")
	}

	if len(andClauses) == 0 {
		return "", args
	}

	return " WHERE " + strings.Join(andClauses, " AND "), args
}
