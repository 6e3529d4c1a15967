package models

// EventRequest is a normalised forge webhook or manual trigger posted to the
// events endpoint.
type EventRequest struct {
	Kind     string            `json:"kind"`   // push, pull_request, label, dispatch
	Branch   string            `json:"branch"` // head branch, empty for label events
	Action   string            `json:"action"` // pull_request action, e.g. opened, labeled
	Label    string            `json:"label"`  // label name for label events
	Pipeline string            `json:"pipeline"`
	Inputs   map[string]string `json:"inputs,omitempty"`
}

// TriggeredRun is one run started for an event.
type TriggeredRun struct {
	Pipeline   string `json:"pipeline"`
	RunID      int64  `json:"runId"`
	ExternalID string `json:"externalId"`
}

// EventResponse lists the runs an event started.
type EventResponse struct {
	Matched []TriggeredRun `json:"matched"`
}

// DispatchRequest manually starts one pipeline.
type DispatchRequest struct {
	Branch string            `json:"branch"`
	Inputs map[string]string `json:"inputs,omitempty"`
}
