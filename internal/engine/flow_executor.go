package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/modelci/modelci/internal/metrics"
	"github.com/modelci/modelci/pkg/modelci/core"
	"github.com/modelci/modelci/pkg/modelci/domain"
	models "github.com/modelci/modelci/pkg/modelci/models"
)

// ExecuteFlow drives one run through its states until it parks or ends.
func ExecuteFlow(ctx context.Context, f core.Flow, r RunRepo, ra RunActionRepo, runnerID int64, workerID string) {

	slog.InfoContext(ctx, "Executing run", "run_id", f.GetRunData().ID, "worker_id", workerID)
	err := r.UpdateRunStatus(f.GetRunData().ID, domain.StatusExecuting)
	_, _ = ra.Save(&domain.RunAction{RunID: f.GetRunData().ID, RunnerID: runnerID, ExecutionCount: f.GetRunData().ExecutionCount, Type: "EXECUTING", Name: "EXECUTING", Text: "EXECUTING", DateTime: time.Now()})

	if err != nil {
		slog.ErrorContext(ctx, "Error updating run status", "error", err, "worker_id", workerID)
		return
	}

	stateMap := f.StateTransitions()

	// the database determines where we are and start at
	currentState := f.GetRunData().State

	// if we are on the starting state then update the starting time
	if currentState == f.InitialState() {
		err := r.UpdateRunStartingTime(f.GetRunData().ID)
		_, _ = ra.Save(&domain.RunAction{RunID: f.GetRunData().ID, RunnerID: runnerID, ExecutionCount: f.GetRunData().ExecutionCount, Type: "STARTING", Name: "EXECUTING", Text: "Starting Run", DateTime: time.Now()})
		if err != nil {
			slog.ErrorContext(ctx, "Error updating run starting time", "error", err, "worker_id", workerID)
			return
		}
	}

	val := reflect.ValueOf(f)

	for {

		// a cancel written while the previous state ran wins at this boundary
		if current, err := r.FindByID(f.GetRunData().ID); err == nil && current != nil && current.Status == domain.StatusCancelled {
			slog.InfoContext(ctx, "Run cancelled, stopping", "run_id", f.GetRunData().ID, "state", currentState, "worker_id", workerID)
			_, _ = ra.Save(&domain.RunAction{RunID: f.GetRunData().ID, RunnerID: runnerID, ExecutionCount: f.GetRunData().ExecutionCount, Type: "CANCELLED", Name: currentState, Text: "Cancelled before state " + currentState, DateTime: time.Now()})
			metrics.RunsCompleted.WithLabelValues(f.GetRunData().FlowType, domain.StatusCancelled).Inc()
			return
		}

		isEndState := false
		for _, state := range f.GetAllStates() {
			if state.Name == currentState && (state.StateType == models.StateEnd ||
				state.StateType == models.StateManual ||
				state.StateType == models.StateError) {
				isEndState = true
				break
			}
		}
		if isEndState {
			if processFlowCompleted(ctx, f, r, ra, runnerID, workerID, currentState) {
				return
			}
			break
		}

		method := val.MethodByName(currentState)
		if !method.IsValid() {
			panic(fmt.Sprintf("method %s not found", currentState))
		}

		// Call the method and get the next state
		results := method.Call([]reflect.Value{reflect.ValueOf(ctx)})
		if len(results) != 2 || !(results[0].Type().AssignableTo(reflect.TypeOf(models.NextState{})) || results[0].Type().AssignableTo(reflect.TypeOf(&models.NextState{}))) {
			panic(fmt.Sprintf("method %s should return (NextState or *NextState, error)", currentState))
		}

		ns, ok := results[0].Interface().(*models.NextState)
		if !ok {
			panic(fmt.Sprintf("method %s did not return a NextState as first value", currentState))
		}
		var callErr error
		if !results[1].IsNil() {
			callErr = results[1].Interface().(error)
		}
		if callErr != nil {
			processStateExecutionError(ctx, f, r, ra, runnerID, workerID, currentState, callErr)
			return
		}

		nextState := ns.Name
		// Validate if the transition is allowed (one-to-many)
		allowedList, ok := stateMap[currentState]
		if !ok {
			_, _ = ra.Save(&domain.RunAction{RunID: f.GetRunData().ID, RunnerID: runnerID, ExecutionCount: f.GetRunData().RetryCount, Type: "ERROR", Name: "Invalid Transition", Text: "no transitions defined for current state", DateTime: time.Now()})
			panic(fmt.Sprintf("invalid state transition from %s to %s (no transitions)", currentState, nextState))
		}
		valid := false
		for _, t := range allowedList {
			if t == nextState {
				valid = true
				break
			}
		}
		if !valid {
			_, _ = ra.Save(&domain.RunAction{RunID: f.GetRunData().ID, RunnerID: runnerID, ExecutionCount: f.GetRunData().RetryCount, Type: "ERROR", Name: "Invalid Transition", Text: "transition is not allowed", DateTime: time.Now()})
			panic(fmt.Sprintf("invalid state transition from %s to %s", currentState, nextState))
		}

		slog.InfoContext(ctx, "Transitioning state", "from", currentState, "to", nextState, "worker_id", workerID)
		_, _ = ra.Save(&domain.RunAction{RunID: f.GetRunData().ID, RunnerID: runnerID, ExecutionCount: f.GetRunData().RetryCount, Type: "TRANSITION", Name: currentState, Text: "From " + currentState + " to " + nextState, DateTime: time.Now()})
		currentState = nextState

		slog.InfoContext(ctx, "Updating run state", "run_id", f.GetRunData().ID, "state", currentState, "worker_id", workerID)
		// this also resets the retry count
		err := r.UpdateState(f.GetRunData().ID, currentState)
		if err != nil {
			return
		}

		if compareAndSaveRunStateVars(ctx, f, r, workerID) {
			return
		}

		if ns.ActionLog != "" {
			_, _ = ra.Save(&domain.RunAction{RunID: f.GetRunData().ID, RunnerID: runnerID, ExecutionCount: f.GetRunData().RetryCount, Type: "LOG", Name: currentState, Text: ns.ActionLog, DateTime: time.Now()})
		}

		// Spawn any requested child runs before parking, so a parent waiting
		// on children always has them in the database first.
		if len(ns.ChildFlows) > 0 {
			spawnChildRuns(ctx, f, r, ra, runnerID, workerID, currentState, ns.ChildFlows)
		}

		nextExecution := ns.NextExecution
		// if the next execution is a valid date and time then set it and park;
		// a time in the past just runs on the next pick up
		if !nextExecution.IsZero() {
			slog.InfoContext(ctx, "Setting next activation (specific)", "run_id", f.GetRunData().ID, "next_activation", nextExecution, "worker_id", workerID)
			if err := r.UpdateNextActivationSpecific(f.GetRunData().ID, nextExecution); err != nil {
				slog.ErrorContext(ctx, "Error updating next activation", "error", err, "worker_id", workerID)
				return
			}
			_, _ = ra.Save(&domain.RunAction{RunID: f.GetRunData().ID, RunnerID: runnerID, ExecutionCount: f.GetRunData().RetryCount, Type: "SCHEDULE_ACTIVATION", Name: currentState, Text: nextExecution.String(), DateTime: time.Now()})
			break
		}
		if ns.NextExecutionOffset != "" {
			slog.InfoContext(ctx, "Setting next activation (offset)", "run_id", f.GetRunData().ID, "offset", ns.NextExecutionOffset, "worker_id", workerID)
			if err := r.UpdateNextActivationOffset(f.GetRunData().ID, ns.NextExecutionOffset); err != nil {
				slog.ErrorContext(ctx, "Error updating next activation", "error", err, "worker_id", workerID)
				return
			}
			_, _ = ra.Save(&domain.RunAction{RunID: f.GetRunData().ID, RunnerID: runnerID, ExecutionCount: f.GetRunData().RetryCount, Type: "SCHEDULE_ACTIVATION", Name: currentState, Text: ns.NextExecutionOffset, DateTime: time.Now()})
			break
		}

	}

	_, _ = ra.Save(&domain.RunAction{RunID: f.GetRunData().ID, RunnerID: runnerID, ExecutionCount: f.GetRunData().RetryCount, Type: "FINISHED", Name: currentState, Text: "FINISHED", DateTime: time.Now()})
	// clear out the runner id for another to possibly pick up the run
	err = r.ClearRunnerId(f.GetRunData().ID)
	if err != nil {
		slog.ErrorContext(ctx, "Error clearing runner id", "error", err, "worker_id", workerID)
		return
	}
	slog.InfoContext(ctx, "Run finished", "worker_id", workerID)

}

func spawnChildRuns(ctx context.Context, f core.Flow, r RunRepo, ra RunActionRepo, runnerID int64, workerID string, currentState string, children []models.ChildFlowRequest) {
	for _, childReq := range children {
		slog.InfoContext(ctx, "Creating child run",
			"parent_id", f.GetRunData().ID,
			"type", childReq.FlowType,
			"initial_state", childReq.InitialState,
			"worker_id", workerID)

		stateVarsJSON := "{}"
		if len(childReq.StateVariables) > 0 {
			stateVarsBytes, err := json.Marshal(childReq.StateVariables)
			if err != nil {
				slog.ErrorContext(ctx, "Error marshaling child run state variables", "error", err)
			} else {
				stateVarsJSON = string(stateVarsBytes)
			}
		}

		child, err := r.CreateChildRun(
			f.GetRunData().ID,
			childReq.FlowType,
			childReq.InitialState,
			childReq.ConcurrencyKey,
			stateVarsJSON,
		)
		if err != nil {
			slog.ErrorContext(ctx, "Error creating child run", "error", err)
			continue
		}

		metrics.RunsEnqueued.WithLabelValues(childReq.FlowType).Inc()
		_, _ = ra.Save(&domain.RunAction{
			RunID:          f.GetRunData().ID,
			RunnerID:       runnerID,
			ExecutionCount: f.GetRunData().RetryCount,
			Type:           "CHILD_CREATED",
			Name:           currentState,
			Text:           fmt.Sprintf("Created child run ID %d of type %s", child.ID, childReq.FlowType),
			DateTime:       time.Now(),
		})
	}
}

func processFlowCompleted(ctx context.Context, f core.Flow, r RunRepo, ra RunActionRepo, runnerID int64, workerID string, currentState string) bool {
	finalStatus := domain.StatusFinished
	for _, state := range f.GetAllStates() {
		if state.Name == currentState {
			switch state.StateType {
			case models.StateManual:
				finalStatus = domain.StatusManual
			case models.StateError:
				finalStatus = domain.StatusFailed
			}
			break
		}
	}

	slog.InfoContext(ctx, "Run completed", "status", finalStatus, "worker_id", workerID)
	err := r.UpdateRunStatus(f.GetRunData().ID, finalStatus)
	_, _ = ra.Save(&domain.RunAction{RunID: f.GetRunData().ID, RunnerID: runnerID, ExecutionCount: f.GetRunData().ExecutionCount, Type: "END", Name: currentState, Text: "run complete", DateTime: time.Now()})
	if err != nil {
		slog.ErrorContext(ctx, "Error updating run status", "error", err, "worker_id", workerID)
		return true
	}
	metrics.RunsCompleted.WithLabelValues(f.GetRunData().FlowType, finalStatus).Inc()

	// a finished child wakes its parent so WaitForJobs can re-check
	if f.GetRunData().ParentRunID.Valid {
		if err := r.WakeParentRun(f.GetRunData().ParentRunID.Int64); err != nil {
			slog.ErrorContext(ctx, "Error waking parent run", "error", err, "parent_id", f.GetRunData().ParentRunID.Int64)
		}
	}
	return false
}

func processStateExecutionError(ctx context.Context, f core.Flow, r RunRepo, ra RunActionRepo, runnerID int64, workerID string, currentState string, callErr error) {
	slog.ErrorContext(ctx, "Error executing state method", "state", currentState, "error", callErr, "worker_id", workerID)
	_, _ = ra.Save(&domain.RunAction{
		RunID:          f.GetRunData().ID,
		RunnerID:       runnerID,
		ExecutionCount: f.GetRunData().ExecutionCount,
		Type:           "ERROR",
		Name:           currentState,
		Text:           callErr.Error(),
		DateTime:       time.Now(),
	})
	// increment run retry counter
	if f.GetRunData().RetryCount > f.GetRetryConfig().MaxRetryCount {
		slog.ErrorContext(ctx, "Max retry count reached", "worker_id", workerID)
		_ = r.UpdateRunStatus(f.GetRunData().ID, domain.StatusFailed)
		_, _ = ra.Save(&domain.RunAction{RunID: f.GetRunData().ID, RunnerID: runnerID, ExecutionCount: f.GetRunData().ExecutionCount,
			Type: "FAILED", Name: currentState, Text: fmt.Sprintf("Max retry count reached for run id:%d count :%d", f.GetRunData().ID, f.GetRunData().RetryCount), DateTime: time.Now()})
		metrics.RunsCompleted.WithLabelValues(f.GetRunData().FlowType, domain.StatusFailed).Inc()
		if f.GetRunData().ParentRunID.Valid {
			_ = r.WakeParentRun(f.GetRunData().ParentRunID.Int64)
		}
		return
	}

	if compareAndSaveRunStateVars(ctx, f, r, workerID) {
		return
	}

	config := f.GetRetryConfig()
	nextActivation := time.Now().Add(config.SlidingInterval(f.GetRunData().RetryCount))
	err := r.IncrementRetryCounterAndSetNextActivation(f.GetRunData().ID, nextActivation)
	if err != nil {
		slog.ErrorContext(ctx, "Error incrementing retry count", "error", err, "worker_id", workerID)
		return
	}
	_, _ = ra.Save(&domain.RunAction{RunID: f.GetRunData().ID, RunnerID: runnerID, ExecutionCount: f.GetRunData().ExecutionCount,
		Type: "RETRY", Name: currentState, Text: fmt.Sprintf("Retry at  :%s", nextActivation), DateTime: time.Now()})
}

func compareAndSaveRunStateVars(ctx context.Context, f core.Flow, r RunRepo, workerID string) bool {
	jsonString, _ := json.Marshal(f.GetStateVariables())

	if string(jsonString) != f.GetRunData().StateVars.String {
		slog.InfoContext(ctx, "Updating run variables", "run_id", f.GetRunData().ID, "state_vars", string(jsonString), "worker_id", workerID)
		err2 := r.SaveRunVariables(f.GetRunData().ID, string(jsonString))
		if err2 != nil {
			slog.ErrorContext(ctx, "Error saving run variables", "error", err2, "worker_id", workerID)
			return true
		}
	} else {
		slog.DebugContext(ctx, "Run variables unchanged", "worker_id", workerID)
	}
	return false
}
