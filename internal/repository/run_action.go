package repository

import (
	"database/sql"
	"log/slog"

	"github.com/modelci/modelci/pkg/modelci/core"
	"github.com/modelci/modelci/pkg/modelci/domain"
)

// RunActionRepository provides methods to persist and query run action records.
type RunActionRepository struct {
	db    *sql.DB
	clock core.Clock
}

func NewRunActionRepository(db *sql.DB, clock core.Clock) *RunActionRepository {
	return &RunActionRepository{db: db, clock: clock}
}

// Save inserts a new run action and returns its ID.
// It expects the following table schema (PostgreSQL):
//
//	run_actions(id BIGSERIAL PK, run_id BIGINT, runner_id BIGINT, execution_count INT,
//	            retry_count INT, type TEXT, name TEXT, text TEXT, date_time TIMESTAMP)
func (r *RunActionRepository) Save(a *domain.RunAction) (int64, error) {
	base := `
		INSERT INTO run_actions (
			run_id, runner_id, execution_count, retry_count, type, name, text, date_time
		) VALUES (
			` + placeholder(1) + `, ` + placeholder(2) + `, ` + placeholder(3) + `, ` + placeholder(4) + `, ` + placeholder(5) + `, ` + placeholder(6) + `, ` + placeholder(7) + `, ` + placeholder(8) + `
		)`
	var err error
	if supportsReturning() {
		query := base + " RETURNING id"
		err = r.db.QueryRow(
			query,
			a.RunID,
			a.RunnerID,
			a.ExecutionCount,
			a.RetryCount,
			a.Type,
			a.Name,
			a.Text,
			a.DateTime,
		).Scan(&a.ID)
	} else {
		res, e := r.db.Exec(base,
			a.RunID,
			a.RunnerID,
			a.ExecutionCount,
			a.RetryCount,
			a.Type,
			a.Name,
			a.Text,
			a.DateTime,
		)
		if e != nil {
			err = e
		} else {
			id, e2 := res.LastInsertId()
			if e2 != nil {
				err = e2
			} else {
				a.ID = id
			}
		}
	}

	if err != nil {
		slog.Error("Failed to save run action", "error", err)
	}

	return a.ID, err
}

// FindByID fetches a single run action by its ID.
func (r *RunActionRepository) FindByID(id int64) (*domain.RunAction, error) {
	query := `
		SELECT id, run_id, runner_id, execution_count, retry_count, type, name, text, date_time
		FROM run_actions
		WHERE id = ` + placeholder(1) + `
	`
	var a domain.RunAction
	err := r.db.QueryRow(query, id).Scan(
		&a.ID,
		&a.RunID,
		&a.RunnerID,
		&a.ExecutionCount,
		&a.RetryCount,
		&a.Type,
		&a.Name,
		&a.Text,
		&a.DateTime,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// FindAllByRunID returns all actions for a specific run, newest first.
func (r *RunActionRepository) FindAllByRunID(runID int64) (*[]domain.RunAction, error) {
	query := `
		SELECT id, run_id, runner_id, execution_count, retry_count, type, name, text, date_time
		FROM run_actions
		WHERE run_id = ` + placeholder(1) + `
		ORDER BY  id DESC
	`
	rows, err := r.db.Query(query, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var actions []domain.RunAction
	for rows.Next() {
		var a domain.RunAction
		if err := rows.Scan(
			&a.ID,
			&a.RunID,
			&a.RunnerID,
			&a.ExecutionCount,
			&a.RetryCount,
			&a.Type,
			&a.Name,
			&a.Text,
			&a.DateTime,
		); err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	return &actions, nil
}
