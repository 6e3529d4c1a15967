package repository

import (
	"database/sql"
	"time"

	"github.com/modelci/modelci/pkg/modelci/core"
	domain "github.com/modelci/modelci/pkg/modelci/domain"
)

const USER_COLUMNS = "id, username, password, retry_count, session_id, api_key, session_expiry, created, enabled"

// UserRepository provides persistence methods for the users table.
type UserRepository struct {
	db    *sql.DB
	clock core.Clock
}

func NewUserRepository(db *sql.DB, clock core.Clock) *UserRepository {
	return &UserRepository{db: db, clock: clock}
}

func scanUser(row rowScanner) (*domain.User, error) {
	var u domain.User
	err := row.Scan(
		&u.ID,
		&u.Username,
		&u.Password,
		&u.RetryCount,
		&u.SessionID,
		&u.ApiKey,
		&u.SessionExpiry,
		&u.Created,
		&u.Enabled,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Save inserts a new user and returns its generated id.
// Created is set to now when the caller did not provide it.
func (r *UserRepository) Save(u *domain.User) (int64, error) {
	if !u.Created.Valid {
		u.Created = sql.NullTime{Time: r.clock.Now().UTC(), Valid: true}
	}

	base := `
        INSERT INTO users (username, password, retry_count, session_id, api_key, session_expiry, created, enabled)
        VALUES (` + placeholder(1) + `,` + placeholder(2) + `,` + placeholder(3) + `,` + placeholder(4) + `,` + placeholder(5) + `,` + placeholder(6) + `,` + placeholder(7) + `,` + placeholder(8) + `)
    `

	var id int64
	var err error
	if supportsReturning() {
		err = r.db.QueryRow(
			base+" RETURNING id",
			u.Username,
			u.Password,
			u.RetryCount,
			u.SessionID,
			u.ApiKey,
			u.SessionExpiry,
			u.Created,
			u.Enabled,
		).Scan(&id)
	} else {
		res, e := r.db.Exec(base,
			u.Username,
			u.Password,
			u.RetryCount,
			u.SessionID,
			u.ApiKey,
			u.SessionExpiry,
			u.Created,
			u.Enabled,
		)
		if e != nil {
			err = e
		} else {
			id, err = res.LastInsertId()
		}
	}
	if err != nil {
		return 0, err
	}
	u.ID = id
	return id, nil
}

// FindByUsername fetches a user by exact username. Returns (nil, nil) if not found.
func (r *UserRepository) FindByUsername(username string) (*domain.User, error) {
	query := `
        SELECT ` + USER_COLUMNS + `
        FROM users
        WHERE username = ` + placeholder(1) + `
        LIMIT 1
    `
	u, err := scanUser(r.db.QueryRow(query, username))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return u, err
}

// FindBySessionID fetches a user by session_id and ensures the session has not expired.
func (r *UserRepository) FindBySessionID(sessionID string, now time.Time) (*domain.User, error) {
	query := `
        SELECT ` + USER_COLUMNS + `
        FROM users
        WHERE session_id = ` + placeholder(1) + ` AND session_expiry > ` + placeholder(2) + `
        LIMIT 1
    `
	u, err := scanUser(r.db.QueryRow(query, sessionID, now))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return u, err
}

// UpdateSession sets session_id and session_expiry for a user by id.
func (r *UserRepository) UpdateSession(userID int64, sessionID string, expiry time.Time) error {
	query := `
        UPDATE users
        SET session_id = ` + placeholder(1) + `, session_expiry = ` + placeholder(2) + `
        WHERE id = ` + placeholder(3) + `
    `
	_, err := r.db.Exec(query, sessionID, formatDateInDatabase(expiry), userID)
	return err
}

// ClearSessionBySessionID nulls session_id and session_expiry for the user
// holding the given session, used on logout.
func (r *UserRepository) ClearSessionBySessionID(sessionID string) error {
	query := `
        UPDATE users
        SET session_id = NULL, session_expiry = NULL
        WHERE session_id = ` + placeholder(1) + `
    `
	_, err := r.db.Exec(query, sessionID)
	return err
}

// FindByApiKey fetches a user by api_key. Returns (nil, nil) if not found.
func (r *UserRepository) FindByApiKey(apiKey string) (*domain.User, error) {
	query := `
        SELECT ` + USER_COLUMNS + `
        FROM users
        WHERE api_key = ` + placeholder(1) + `
        LIMIT 1
    `
	u, err := scanUser(r.db.QueryRow(query, apiKey))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return u, err
}

// FindById fetches a user by id. Returns (nil, nil) if not found.
func (r *UserRepository) FindById(id int64) (*domain.User, error) {
	query := `
        SELECT ` + USER_COLUMNS + `
        FROM users
        WHERE id = ` + placeholder(1) + `
        LIMIT 1
    `
	u, err := scanUser(r.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return u, err
}

// DeleteById removes a user by id.
func (r *UserRepository) DeleteById(id int64) error {
	query := `DELETE FROM users WHERE id = ` + placeholder(1)
	_, err := r.db.Exec(query, id)
	return err
}

// UpdateUser updates the editable fields of a user.
func (r *UserRepository) UpdateUser(id int64, username string, apiKey sql.NullString, enabled sql.NullBool) error {
	query := `
        UPDATE users
        SET username = ` + placeholder(1) + `, api_key = ` + placeholder(2) + `, enabled = ` + placeholder(3) + `
        WHERE id = ` + placeholder(4) + `
    `
	_, err := r.db.Exec(query, username, apiKey, enabled, id)
	return err
}

// FindAll returns all users ordered by id ascending.
func (r *UserRepository) FindAll() (*[]domain.User, error) {
	query := `
        SELECT ` + USER_COLUMNS + `
        FROM users
        ORDER BY id ASC
    `
	rows, err := r.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &users, nil
}
