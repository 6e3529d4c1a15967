package domain

import "time"
import "database/sql"

// Run statuses. NEW and SCHEDULED runs are waiting, EXECUTING runs hold a
// runner, the rest are terminal except MANUAL which waits for an operator.
const (
	StatusNew        = "NEW"
	StatusScheduled  = "SCHEDULED"
	StatusExecuting  = "EXECUTING"
	StatusInProgress = "IN_PROGRESS"
	StatusFinished   = "FINISHED"
	StatusFailed     = "FAILED"
	StatusManual     = "MANUAL"
	StatusCancelled  = "CANCELLED"
)

// Run is one persisted pipeline, job or sweep execution. ConcurrencyKey
// groups runs that contend for the same in-flight slot (pipeline + branch).
type Run struct {
	ID             int64
	Status         string
	ExecutionCount int
	RetryCount     int
	Created        time.Time
	Modified       time.Time
	NextActivation sql.NullTime
	Started        sql.NullTime
	RunnerID       sql.NullString
	RunnerGroup    string
	FlowType       string
	ExternalID     string
	ConcurrencyKey string
	State          string
	StateVars      sql.NullString
	ParentRunID    sql.NullInt64
}
