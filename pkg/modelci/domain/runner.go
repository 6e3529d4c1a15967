package domain

import "time"

// Runner is a registered engine instance. Each runner heartbeats last_active
// so stuck runs can be repaired when their runner goes away.
type Runner struct {
	ID         int64     // BIGSERIAL
	Name       string    // TEXT
	Started    time.Time // TIMESTAMP
	LastActive time.Time // TIMESTAMP
}
