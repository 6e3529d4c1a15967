package flows

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/modelci/modelci/internal/config"
	"github.com/modelci/modelci/internal/metrics"
	"github.com/modelci/modelci/internal/pipeline"
	"github.com/modelci/modelci/pkg/modelci/core"
	domain "github.com/modelci/modelci/pkg/modelci/domain"
	"github.com/modelci/modelci/pkg/modelci/flow_helpers"
	"github.com/modelci/modelci/pkg/modelci/models"
	"github.com/modelci/modelci/pkg/providers"
)

// State constants for the job flow
const (
	StatePrepareJob = "PrepareJob"
	StateRunSteps   = "RunSteps"
	StateReport     = "Report"
	StateJobDone    = "Done"
	StateJobFailed  = "JobFailed"
)

const stepOutputLimit = 4000

// stepPlan is one step resolved to a runnable command. Plans are rendered in
// PrepareJob and kept in state vars so a retried RunSteps reruns the exact
// same commands even if the pipeline file changed in between.
type stepPlan struct {
	Name            string   `json:"name"`
	Argv            []string `json:"argv"`
	Dir             string   `json:"dir"`
	Env             []string `json:"env"`
	ContinueOnError bool     `json:"continueOnError"`
}

// JobFlow executes one job of a pipeline for one matrix cell: validate the
// session profile against the providers on this host, render the steps, run
// them and report.
type JobFlow struct {
	core.BaseFlow
	Clock   core.Clock
	Defs    DefinitionSource
	Actions ActionRecorder
	Steps   StepRunner
}

func (f *JobFlow) Setup(run *domain.Run) {
	f.BaseFlow.Setup(run)
}

func (f *JobFlow) GetRunData() *domain.Run {
	return f.RunState
}

func (f *JobFlow) GetStateVariables() map[string]string {
	return f.StateVariables
}

func (f *JobFlow) InitialState() string {
	return StatePrepareJob
}

func (f *JobFlow) Description() string {
	return "Runs one pipeline job for one matrix cell"
}

func (f *JobFlow) StateTransitions() map[string][]string {
	return map[string][]string{
		StatePrepareJob: {StateRunSteps, StateJobFailed},
		StateRunSteps:   {StateReport, StateJobFailed},
		StateReport:     {StateJobDone},
	}
}

func (f *JobFlow) GetAllStates() []models.FlowState {
	return []models.FlowState{
		{Name: StatePrepareJob, StateType: models.StateStart},
		{Name: StateRunSteps, StateType: models.StateNormal},
		{Name: StateReport, StateType: models.StateNormal},
		{Name: StateJobDone, StateType: models.StateEnd},
		{Name: StateJobFailed, StateType: models.StateError},
	}
}

func (f *JobFlow) GetRetryConfig() models.RetryConfig {
	return models.RetryConfig{
		MaxRetryCount:    2,
		RetryIntervalMin: time.Second * 30,
		RetryIntervalMax: time.Minute * 5,
	}
}

// PrepareJob resolves the job definition and renders every step to a concrete
// command with its full environment. A session profile that names a provider
// this host does not have is a hard failure, surfaced verbatim with no retry.
func (f *JobFlow) PrepareJob(ctx context.Context) (*models.NextState, error) {
	def, err := f.Defs.Find(f.StateVariables[VarPipeline])
	if err != nil {
		return nil, err
	}
	jobID := f.StateVariables[VarJob]
	job, ok := def.Jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("pipeline %s has no job %s", def.Name, jobID)
	}

	var cell map[string]string
	if raw := f.StateVariables[VarCell]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &cell); err != nil {
			return nil, fmt.Errorf("parsing matrix cell: %w", err)
		}
	}

	var sessionEnv []string
	if job.Session != nil {
		available := HostProviders()
		if err := job.Session.Validate(available); err != nil {
			slog.ErrorContext(ctx, "Session profile rejected", "job", jobID, "error", err)
			return &models.NextState{Name: StateJobFailed, ActionLog: err.Error()}, nil
		}
		chain, err := providers.Resolve(job.Session.Provider, available)
		if err != nil {
			return &models.NextState{Name: StateJobFailed, ActionLog: err.Error()}, nil
		}
		slog.InfoContext(ctx, "Session providers resolved", "job", jobID, "providers", chain)
		sessionEnv = job.Session.EnvStrings()
	}

	baseEnv := map[string]string{}
	for k, v := range def.Env {
		baseEnv[k] = v
	}
	for k, v := range job.Env {
		baseEnv[k] = v
	}
	for k, v := range cell {
		baseEnv["MATRIX_"+strings.ToUpper(k)] = v
	}

	plan := make([]stepPlan, 0, len(job.Steps))
	for i, step := range job.Steps {
		name := step.Name
		if name == "" {
			name = fmt.Sprintf("step-%d", i+1)
		}
		var argv []string
		if step.Tests != nil {
			argv = pipeline.BuildTestCommand(*step.Tests)
		} else {
			argv = []string{"sh", "-c", step.Run}
		}
		plan = append(plan, stepPlan{
			Name:            name,
			Argv:            argv,
			Dir:             step.WorkingDir,
			Env:             append(envStrings(baseEnv, step.Env), sessionEnv...),
			ContinueOnError: step.ContinueOnError,
		})
	}

	if err := flow_helpers.SaveStructToStateVars(f.StateVariables, VarPlan, plan); err != nil {
		return nil, err
	}
	if job.TimeoutMinutes > 0 {
		f.StateVariables[VarTimeoutMinutes] = strconv.Itoa(job.TimeoutMinutes)
	}

	return &models.NextState{
		Name:      StateRunSteps,
		ActionLog: fmt.Sprintf("Prepared %d steps for job %s", len(plan), jobID),
	}, nil
}

// RunSteps executes the rendered plan in order. A failing step fails the job
// unless it is marked continue-on-error.
func (f *JobFlow) RunSteps(ctx context.Context) (*models.NextState, error) {
	plan, err := flow_helpers.LoadStructFromStateVars[[]stepPlan](f.StateVariables, VarPlan)
	if err != nil {
		return nil, err
	}

	runCtx := ctx
	if raw := f.StateVariables[VarTimeoutMinutes]; raw != "" {
		minutes, err := strconv.Atoi(raw)
		if err == nil && minutes > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(ctx, time.Duration(minutes)*time.Minute)
			defer cancel()
		}
	}

	pipelineName := f.StateVariables[VarPipeline]
	jobID := f.StateVariables[VarJob]
	runnerID, _ := ctx.Value(core.CtxKeyRunnerId).(int64)

	var ignoredFailures int
	for _, sp := range *plan {
		slog.InfoContext(ctx, "Running step", "job", jobID, "step", sp.Name)
		start := f.Clock.Now()
		out, err := f.Steps.Run(runCtx, sp.Argv, sp.Dir, sp.Env)
		metrics.StepDuration.WithLabelValues(pipelineName, jobID).Observe(f.Clock.Now().Sub(start).Seconds())

		text := truncate(out, stepOutputLimit)
		if err != nil {
			text = fmt.Sprintf("%s\nstep failed: %v", text, err)
		}
		_, _ = f.Actions.Save(&domain.RunAction{
			RunID:          f.RunState.ID,
			RunnerID:       runnerID,
			ExecutionCount: f.RunState.RetryCount,
			Type:           "STEP",
			Name:           sp.Name,
			Text:           text,
			DateTime:       f.Clock.Now(),
		})

		if err != nil {
			if sp.ContinueOnError {
				ignoredFailures++
				slog.WarnContext(ctx, "Step failed but is continue-on-error", "step", sp.Name, "error", err)
				continue
			}
			return &models.NextState{
				Name:      StateJobFailed,
				ActionLog: fmt.Sprintf("Step %s failed: %v", sp.Name, err),
			}, nil
		}
	}

	summary := fmt.Sprintf("Ran %d steps", len(*plan))
	if ignoredFailures > 0 {
		summary = fmt.Sprintf("Ran %d steps, %d failed but were continue-on-error", len(*plan), ignoredFailures)
	}
	f.StateVariables[VarSummary] = summary
	return &models.NextState{Name: StateReport, ActionLog: summary}, nil
}

// Report records the job outcome for the parent to read back.
func (f *JobFlow) Report(ctx context.Context) (*models.NextState, error) {
	slog.InfoContext(ctx, "Job finished",
		"pipeline", f.StateVariables[VarPipeline],
		"job", f.StateVariables[VarJob],
		"summary", f.StateVariables[VarSummary])
	return &models.NextState{Name: StateJobDone, ActionLog: f.StateVariables[VarSummary]}, nil
}

// HostProviders parses the configured execution provider list for this host.
func HostProviders() []providers.Provider {
	raw := config.GetSystemSettingString(config.AVAILABLE_PROVIDERS)
	var out []providers.Provider
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, providers.Provider(part))
		}
	}
	return out
}

// envStrings flattens base overlaid with step env into sorted KEY=VALUE pairs.
func envStrings(base, step map[string]string) []string {
	merged := make(map[string]string, len(base)+len(step))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range step {
		merged[k] = v
	}
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+merged[k])
	}
	return out
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "\n...output truncated"
}
