package domain

import "time"

type RunAction struct {
	ID             int64     // BIGSERIAL
	RunID          int64     // BIGSERIAL (foreign key)
	RunnerID       int64     // BIGINT (foreign key to runners.id)
	ExecutionCount int       // INT
	RetryCount     int       // INT
	Type           string    // TEXT
	Name           string    // TEXT
	Text           string    // TEXT
	DateTime       time.Time // TIMESTAMP
}
