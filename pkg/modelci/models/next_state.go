package models

import "time"

// ChildFlowRequest represents a request to spawn a child run, for example one
// matrix job under a pipeline run.
type ChildFlowRequest struct {
	FlowType       string            // Type of child flow to spawn
	ConcurrencyKey string            // Concurrency key for the child run
	InitialState   string            // Initial state for the child run
	StateVariables map[string]string // Initial state variables for the child run
}

type NextState struct {
	Name                string             // Name of the state
	ActionLog           string             // Additional information about the state
	NextExecution       time.Time          // specific time set by the code
	NextExecutionOffset string             // a human friendly time string sent to the database ie 10 minutes
	ChildFlows          []ChildFlowRequest // Child runs to spawn
}
