package flows

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/modelci/modelci/internal/metrics"
	"github.com/modelci/modelci/internal/pipeline"
	"github.com/modelci/modelci/pkg/modelci/core"
	domain "github.com/modelci/modelci/pkg/modelci/domain"
	"github.com/modelci/modelci/pkg/modelci/models"
)

// State constants for the pipeline flow
const (
	StateResolveConcurrency = "ResolveConcurrency"
	StateExpandJobs         = "ExpandJobs"
	StateWaitForJobs        = "WaitForJobs"
	StatePipelineFinished   = "Finished"
	StatePipelineFailed     = "Failed"
	StatePipelineCancelled  = "Cancelled"
)

const waitForJobsPollOffset = "15 seconds"
const waitForGroupOffset = "30 seconds"

// PipelineFlow is the top level run for one triggering event. It settles its
// concurrency group, expands the matching pipeline's jobs and matrix cells
// into child JobFlow runs, and waits for them to finish.
type PipelineFlow struct {
	core.BaseFlow
	Defs      DefinitionSource
	Runs      RunLookup
	Canceller Canceller
}

func (f *PipelineFlow) Setup(run *domain.Run) {
	f.BaseFlow.Setup(run)
}

func (f *PipelineFlow) GetRunData() *domain.Run {
	return f.RunState
}

func (f *PipelineFlow) GetStateVariables() map[string]string {
	return f.StateVariables
}

func (f *PipelineFlow) InitialState() string {
	return StateResolveConcurrency
}

func (f *PipelineFlow) Description() string {
	return "Runs one pipeline for a triggering event, fanning jobs out as child runs"
}

func (f *PipelineFlow) StateTransitions() map[string][]string {
	return map[string][]string{
		StateResolveConcurrency: {StateResolveConcurrency, StateExpandJobs, StatePipelineCancelled},
		StateExpandJobs:         {StateWaitForJobs, StatePipelineFinished},
		StateWaitForJobs:        {StateWaitForJobs, StatePipelineFinished, StatePipelineFailed},
	}
}

func (f *PipelineFlow) GetAllStates() []models.FlowState {
	return []models.FlowState{
		{Name: StateResolveConcurrency, StateType: models.StateStart},
		{Name: StateExpandJobs, StateType: models.StateNormal},
		{Name: StateWaitForJobs, StateType: models.StateNormal},
		{Name: StatePipelineFinished, StateType: models.StateEnd},
		{Name: StatePipelineFailed, StateType: models.StateError},
		{Name: StatePipelineCancelled, StateType: models.StateEnd},
	}
}

func (f *PipelineFlow) GetRetryConfig() models.RetryConfig {
	return models.RetryConfig{
		MaxRetryCount:    3,
		RetryIntervalMin: time.Second * 10,
		RetryIntervalMax: time.Minute * 2,
	}
}

// ResolveConcurrency settles the run's concurrency group before any job
// starts. Cancelling groups keep only the newest run: older in-flight runs
// are cancelled, and if a newer run already exists this one cancels itself.
// Non-cancelling groups park until the group drains, oldest first.
func (f *PipelineFlow) ResolveConcurrency(ctx context.Context) (*models.NextState, error) {
	key := f.RunState.ConcurrencyKey
	if key == "" {
		return &models.NextState{Name: StateExpandJobs, ActionLog: "No concurrency group"}, nil
	}

	others, err := f.Runs.FindActiveByConcurrencyKey(key, f.RunState.ID)
	if err != nil {
		return nil, err
	}

	cancelInProgress := f.StateVariables[VarCancelInProgress] == "true"
	if cancelInProgress {
		for _, o := range *others {
			if o.ID > f.RunState.ID {
				// a newer run owns the group now
				f.Canceller.CancelRun(f.RunState.ID, fmt.Sprintf("Superseded by run %d in group %s", o.ID, key))
				metrics.RunsSuperseded.WithLabelValues(f.RunState.FlowType).Inc()
				return &models.NextState{
					Name:      StatePipelineCancelled,
					ActionLog: fmt.Sprintf("Superseded by run %d", o.ID),
				}, nil
			}
		}
		for _, o := range *others {
			slog.InfoContext(ctx, "Cancelling superseded run", "runId", o.ID, "group", key)
			f.Canceller.CancelRun(o.ID, fmt.Sprintf("Superseded by run %d in group %s", f.RunState.ID, key))
			metrics.RunsSuperseded.WithLabelValues(o.FlowType).Inc()
		}
		return &models.NextState{Name: StateExpandJobs, ActionLog: "Took over group " + key}, nil
	}

	for _, o := range *others {
		if o.ID < f.RunState.ID {
			return &models.NextState{
				Name:                StateResolveConcurrency,
				NextExecutionOffset: waitForGroupOffset,
				ActionLog:           fmt.Sprintf("Waiting for run %d in group %s", o.ID, key),
			}, nil
		}
	}
	return &models.NextState{Name: StateExpandJobs, ActionLog: "Group " + key + " is free"}, nil
}

// ExpandJobs loads the pipeline definition and spawns one JobFlow child per
// job and matrix cell.
func (f *PipelineFlow) ExpandJobs(ctx context.Context) (*models.NextState, error) {
	def, err := f.Defs.Find(f.StateVariables[VarPipeline])
	if err != nil {
		return nil, err
	}

	var children []models.ChildFlowRequest
	for _, jobID := range def.JobIDs() {
		job := def.Jobs[jobID]
		var matrix pipeline.Matrix
		if job.Strategy != nil {
			matrix = job.Strategy.Matrix
		}
		for i, cell := range pipeline.ExpandMatrix(matrix) {
			cellJSON, err := json.Marshal(cell)
			if err != nil {
				return nil, err
			}
			vars := map[string]string{
				VarPipeline: def.Name,
				VarBranch:   f.StateVariables[VarBranch],
				VarJob:      jobID,
				VarCell:     string(cellJSON),
			}
			children = append(children, models.CreateChildFlowRequest(
				FlowTypeJob,
				fmt.Sprintf("%s/%s/%d", f.RunState.ConcurrencyKey, jobID, i),
				StatePrepareJob,
				vars,
			))
		}
	}

	if len(children) == 0 {
		return &models.NextState{Name: StatePipelineFinished, ActionLog: "Pipeline has no jobs to run"}, nil
	}

	f.StateVariables[VarChildrenCount] = strconv.Itoa(len(children))
	slog.InfoContext(ctx, "Expanded pipeline into jobs", "pipeline", def.Name, "children", len(children))

	return &models.NextState{
		Name:                StateWaitForJobs,
		ActionLog:           fmt.Sprintf("Spawned %d job runs", len(children)),
		ChildFlows:          children,
		NextExecutionOffset: waitForJobsPollOffset,
	}, nil
}

// WaitForJobs polls the spawned children. A failed child whose job has
// fail-fast enabled cancels the remaining active siblings.
func (f *PipelineFlow) WaitForJobs(ctx context.Context) (*models.NextState, error) {
	children, err := f.Runs.GetChildrenByParentID(f.RunState.ID, false)
	if err != nil {
		return nil, err
	}

	def, err := f.Defs.Find(f.StateVariables[VarPipeline])
	if err != nil {
		return nil, err
	}

	var active, failed int
	failFastTripped := false
	for _, c := range *children {
		switch c.Status {
		case domain.StatusFinished:
		case domain.StatusFailed, domain.StatusCancelled:
			if c.Status == domain.StatusFailed {
				failed++
				if jobFailFast(def, &c) {
					failFastTripped = true
				}
			}
		default:
			active++
		}
	}

	if failFastTripped && active > 0 {
		for _, c := range *children {
			switch c.Status {
			case domain.StatusFinished, domain.StatusFailed, domain.StatusCancelled:
				continue
			}
			slog.InfoContext(ctx, "Fail fast cancelling sibling job", "runId", c.ID)
			f.Canceller.CancelRun(c.ID, "Sibling job failed with fail-fast enabled")
		}
		return &models.NextState{
			Name:                StateWaitForJobs,
			NextExecutionOffset: waitForJobsPollOffset,
			ActionLog:           "Job failed, cancelling remaining jobs",
		}, nil
	}

	if active > 0 {
		return &models.NextState{
			Name:                StateWaitForJobs,
			NextExecutionOffset: waitForJobsPollOffset,
			ActionLog:           fmt.Sprintf("%d of %d jobs still running", active, len(*children)),
		}, nil
	}

	if failed > 0 {
		return &models.NextState{
			Name:      StatePipelineFailed,
			ActionLog: fmt.Sprintf("%d of %d jobs failed", failed, len(*children)),
		}, nil
	}
	return &models.NextState{
		Name:      StatePipelineFinished,
		ActionLog: fmt.Sprintf("All %d jobs finished", len(*children)),
	}, nil
}

// jobFailFast reports whether the job a child run belongs to has fail-fast
// enabled. Children whose job can no longer be resolved default to fail-fast.
func jobFailFast(def *pipeline.Pipeline, child *domain.Run) bool {
	if !child.StateVars.Valid {
		return true
	}
	var vars map[string]string
	if err := json.Unmarshal([]byte(child.StateVars.String), &vars); err != nil {
		return true
	}
	job, ok := def.Jobs[vars[VarJob]]
	if !ok {
		return true
	}
	return job.Strategy.FailFastEnabled()
}
