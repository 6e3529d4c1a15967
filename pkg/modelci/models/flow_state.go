package models

type FlowState struct {
	Name      string    // Name of the state
	StateType StateType // Type of the state (e.g., Start, Normal, End)
}
