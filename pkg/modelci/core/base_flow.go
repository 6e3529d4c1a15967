package core

import (
	"encoding/json"
	"log/slog"

	domain "github.com/modelci/modelci/pkg/modelci/domain"
)

// BaseFlow holds common run state and provides shared setup logic.
type BaseFlow struct {
	StateVariables map[string]string
	RunState       *domain.Run
	ChildRuns      []domain.Run
}

// Setup initializes the base flow with the given run row and parses state
// variables from JSON, if present.
func (b *BaseFlow) Setup(run *domain.Run) {
	b.RunState = run
	if b.StateVariables == nil {
		b.StateVariables = make(map[string]string)
	}
	// if there are state vars then try parse them to have loaded in
	if run.StateVars.Valid && run.StateVars.String != "" && run.StateVars.String != "null" {
		// Reset map before loading to avoid carrying stale values when reusing instance
		b.StateVariables = make(map[string]string)
		if err := json.Unmarshal([]byte(run.StateVars.String), &b.StateVariables); err != nil {
			slog.Error("Error parsing state vars", "error", err)
		}
	}
}

func (b *BaseFlow) SetChildRuns(children []domain.Run) {
	b.ChildRuns = children
}
