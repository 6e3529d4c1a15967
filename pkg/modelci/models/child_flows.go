package models

import (
	"encoding/json"
)

// CreateChildFlowRequest creates a new child flow request that can be added to
// a NextState's ChildFlows list
func CreateChildFlowRequest(
	flowType string,
	concurrencyKey string,
	initialState string,
	stateVars map[string]string,
) ChildFlowRequest {
	return ChildFlowRequest{
		FlowType:       flowType,
		ConcurrencyKey: concurrencyKey,
		InitialState:   initialState,
		StateVariables: stateVars,
	}
}

// ParseChildFlowResults parses child flow results from a parent flow's state
// variables, for extracting what completed children reported back.
func ParseChildFlowResults(stateVars map[string]string, key string) (map[string]string, error) {
	data, ok := stateVars[key]
	if !ok {
		return nil, nil
	}

	var results map[string]string
	if err := json.Unmarshal([]byte(data), &results); err != nil {
		return nil, err
	}

	return results, nil
}
