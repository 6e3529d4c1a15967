package models

import (
	"time"
)

// CreateRunRequest is the payload for creating a run directly over the API.
type CreateRunRequest struct {
	ExternalID     string            `json:"externalId"`
	RunnerGroup    string            `json:"runnerGroup"`
	FlowType       string            `json:"flowType"`
	ConcurrencyKey string            `json:"concurrencyKey"`
	StateVars      map[string]string `json:"stateVars"`
	// Optional scheduling inputs
	NextActivation       *time.Time `json:"nextActivation,omitempty"`
	NextActivationOffset string     `json:"nextActivationOffset,omitempty"`
}

// CreateRunResponse is returned on successful creation.
type CreateRunResponse struct {
	ID int64 `json:"id"`
}

// RunApiResponse represents the API view of a run.
type RunApiResponse struct {
	ID             int64             `json:"id"`
	Status         string            `json:"status"`
	ExecutionCount int               `json:"executionCount"`
	RetryCount     int               `json:"retryCount"`
	Created        time.Time         `json:"created"`
	Modified       time.Time         `json:"modified"`
	NextActivation time.Time         `json:"nextActivation,omitempty"`
	Started        time.Time         `json:"started,omitempty"`
	RunnerID       string            `json:"runnerId,omitempty"`
	RunnerGroup    string            `json:"runnerGroup"`
	FlowType       string            `json:"flowType"`
	ExternalID     string            `json:"externalId"`
	ConcurrencyKey string            `json:"concurrencyKey"`
	State          string            `json:"state"`
	StateVars      map[string]string `json:"stateVars,omitempty"`
}
