package flows

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/modelci/modelci/internal/stale"
	"github.com/modelci/modelci/pkg/modelci/core"
	domain "github.com/modelci/modelci/pkg/modelci/domain"
	"github.com/modelci/modelci/pkg/modelci/models"
)

// State constants for the stale sweep flow
const (
	StateFetchPolicy = "FetchPolicy"
	StateSweepItems  = "SweepItems"
	StateSweepDone   = "SweepDone"
	StateSweepFailed = "SweepFailed"
)

// StaleSweepFlow runs one scheduled stale sweep over the forge repository,
// using the stale policy from the triggering pipeline's definition.
type StaleSweepFlow struct {
	core.BaseFlow
	Clock core.Clock
	Defs  DefinitionSource
	Forge stale.ForgeAPI
}

func (f *StaleSweepFlow) Setup(run *domain.Run) {
	f.BaseFlow.Setup(run)
}

func (f *StaleSweepFlow) GetRunData() *domain.Run {
	return f.RunState
}

func (f *StaleSweepFlow) GetStateVariables() map[string]string {
	return f.StateVariables
}

func (f *StaleSweepFlow) InitialState() string {
	return StateFetchPolicy
}

func (f *StaleSweepFlow) Description() string {
	return "Sweeps stale issues and pull requests per the pipeline's stale policy"
}

func (f *StaleSweepFlow) StateTransitions() map[string][]string {
	return map[string][]string{
		StateFetchPolicy: {StateSweepItems},
		StateSweepItems:  {StateSweepDone},
	}
}

func (f *StaleSweepFlow) GetAllStates() []models.FlowState {
	return []models.FlowState{
		{Name: StateFetchPolicy, StateType: models.StateStart},
		{Name: StateSweepItems, StateType: models.StateNormal},
		{Name: StateSweepDone, StateType: models.StateEnd},
		{Name: StateSweepFailed, StateType: models.StateError},
	}
}

func (f *StaleSweepFlow) GetRetryConfig() models.RetryConfig {
	return models.RetryConfig{
		MaxRetryCount:    3,
		RetryIntervalMin: time.Minute * 1,
		RetryIntervalMax: time.Minute * 15,
	}
}

// FetchPolicy checks the pipeline still carries a stale policy before the
// sweep touches the forge. A pipeline edited to drop its policy fails the
// run rather than sweeping with stale settings.
func (f *StaleSweepFlow) FetchPolicy(ctx context.Context) (*models.NextState, error) {
	def, err := f.Defs.Find(f.StateVariables[VarPipeline])
	if err != nil {
		return nil, err
	}
	if def.Stale == nil {
		return nil, fmt.Errorf("pipeline %s has no stale policy", def.Name)
	}
	if f.Forge == nil {
		return nil, fmt.Errorf("no forge client configured")
	}
	return &models.NextState{
		Name:      StateSweepItems,
		ActionLog: fmt.Sprintf("Sweeping with stale label %q", def.Stale.StaleLabel),
	}, nil
}

// SweepItems lists open items and marks or closes them per the policy.
func (f *StaleSweepFlow) SweepItems(ctx context.Context) (*models.NextState, error) {
	def, err := f.Defs.Find(f.StateVariables[VarPipeline])
	if err != nil {
		return nil, err
	}

	sweeper := stale.NewSweeper(f.Forge, f.Clock, *def.Stale)
	result, err := sweeper.Sweep(ctx)
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "Stale sweep finished",
		"marked", result.Marked,
		"closed", result.Closed,
		"skipped", result.Skipped,
		"operations", result.Operations)
	return &models.NextState{
		Name: StateSweepDone,
		ActionLog: fmt.Sprintf("Marked %d stale, closed %d, skipped %d, %d operations used",
			result.Marked, result.Closed, result.Skipped, result.Operations),
	}, nil
}
