package flows

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelci/modelci/internal/forge"
	"github.com/modelci/modelci/internal/pipeline"
	"github.com/modelci/modelci/pkg/modelci/core"
	domain "github.com/modelci/modelci/pkg/modelci/domain"
	"github.com/modelci/modelci/pkg/providers"
)

type fakeSource struct {
	def *pipeline.Pipeline
	err error
}

func (s *fakeSource) Find(name string) (*pipeline.Pipeline, error) {
	return s.def, s.err
}

type fakeRuns struct {
	active   []domain.Run
	children []domain.Run
}

func (r *fakeRuns) FindActiveByConcurrencyKey(key string, excludeID int64) (*[]domain.Run, error) {
	return &r.active, nil
}

func (r *fakeRuns) GetChildrenByParentID(parentID int64, onlyActive bool) (*[]domain.Run, error) {
	return &r.children, nil
}

type fakeCanceller struct {
	cancelled []int64
	reasons   []string
}

func (c *fakeCanceller) CancelRun(id int64, reason string) bool {
	c.cancelled = append(c.cancelled, id)
	c.reasons = append(c.reasons, reason)
	return true
}

type fakeSteps struct {
	calls []struct {
		Argv []string
		Dir  string
		Env  []string
	}
	failOn map[string]error
}

func (s *fakeSteps) Run(ctx context.Context, argv []string, dir string, env []string) (string, error) {
	s.calls = append(s.calls, struct {
		Argv []string
		Dir  string
		Env  []string
	}{argv, dir, env})
	if err, ok := s.failOn[argv[len(argv)-1]]; ok {
		return "boom", err
	}
	return "ok", nil
}

type fakeActions struct {
	saved []domain.RunAction
}

func (a *fakeActions) Save(action *domain.RunAction) (int64, error) {
	a.saved = append(a.saved, *action)
	return int64(len(a.saved)), nil
}

func testDef() *pipeline.Pipeline {
	return &pipeline.Pipeline{
		Name: "ci",
		Env:  map[string]string{"PIPELINE_VAR": "base", "SHARED": "pipeline"},
		Jobs: map[string]pipeline.Job{
			"test": {
				Env: map[string]string{"SHARED": "job"},
				Strategy: &pipeline.Strategy{
					Matrix: pipeline.Matrix{Dimensions: map[string][]string{
						"python": {"3.10", "3.11"},
					}},
				},
				Steps: []pipeline.Step{
					{Name: "unit", Tests: &pipeline.TestSpec{Paths: []string{"tests/onnxruntime"}, Verbose: true}},
				},
			},
			"lint": {
				Steps: []pipeline.Step{{Run: "ruff check ."}},
			},
		},
	}
}

func pipelineRun(id int64, vars map[string]string) *domain.Run {
	data, _ := json.Marshal(vars)
	return &domain.Run{
		ID:             id,
		Status:         domain.StatusExecuting,
		FlowType:       FlowTypePipeline,
		ConcurrencyKey: "ci-main",
		StateVars:      sql.NullString{String: string(data), Valid: true},
	}
}

func TestResolveConcurrencyCancelsOlderRuns(t *testing.T) {
	runs := &fakeRuns{active: []domain.Run{{ID: 3, FlowType: FlowTypePipeline}, {ID: 4, FlowType: FlowTypePipeline}}}
	canceller := &fakeCanceller{}
	f := &PipelineFlow{Defs: &fakeSource{def: testDef()}, Runs: runs, Canceller: canceller}
	f.Setup(pipelineRun(5, map[string]string{VarPipeline: "ci", VarCancelInProgress: "true"}))

	ns, err := f.ResolveConcurrency(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateExpandJobs, ns.Name)
	assert.Equal(t, []int64{3, 4}, canceller.cancelled)
}

func TestResolveConcurrencySelfCancelsWhenNewerRunExists(t *testing.T) {
	runs := &fakeRuns{active: []domain.Run{{ID: 9, FlowType: FlowTypePipeline}}}
	canceller := &fakeCanceller{}
	f := &PipelineFlow{Defs: &fakeSource{def: testDef()}, Runs: runs, Canceller: canceller}
	f.Setup(pipelineRun(5, map[string]string{VarPipeline: "ci", VarCancelInProgress: "true"}))

	ns, err := f.ResolveConcurrency(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatePipelineCancelled, ns.Name)
	assert.Equal(t, []int64{5}, canceller.cancelled)
	assert.Contains(t, canceller.reasons[0], "Superseded by run 9")
}

func TestResolveConcurrencyWaitsWhenGroupDoesNotCancel(t *testing.T) {
	runs := &fakeRuns{active: []domain.Run{{ID: 3, FlowType: FlowTypePipeline}}}
	canceller := &fakeCanceller{}
	f := &PipelineFlow{Defs: &fakeSource{def: testDef()}, Runs: runs, Canceller: canceller}
	f.Setup(pipelineRun(5, map[string]string{VarPipeline: "ci"}))

	ns, err := f.ResolveConcurrency(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateResolveConcurrency, ns.Name)
	assert.Equal(t, waitForGroupOffset, ns.NextExecutionOffset)
	assert.Empty(t, canceller.cancelled)
}

func TestExpandJobsSpawnsOneChildPerJobAndCell(t *testing.T) {
	f := &PipelineFlow{Defs: &fakeSource{def: testDef()}, Runs: &fakeRuns{}, Canceller: &fakeCanceller{}}
	f.Setup(pipelineRun(5, map[string]string{VarPipeline: "ci", VarBranch: "main"}))

	ns, err := f.ExpandJobs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateWaitForJobs, ns.Name)
	// lint has no matrix (1 cell), test has two python versions
	require.Len(t, ns.ChildFlows, 3)
	assert.Equal(t, "3", f.StateVariables[VarChildrenCount])

	first := ns.ChildFlows[0]
	assert.Equal(t, FlowTypeJob, first.FlowType)
	assert.Equal(t, StatePrepareJob, first.InitialState)
	assert.Equal(t, "ci-main/lint/0", first.ConcurrencyKey)
	assert.Equal(t, "main", first.StateVariables[VarBranch])

	var cell map[string]string
	require.NoError(t, json.Unmarshal([]byte(ns.ChildFlows[1].StateVariables[VarCell]), &cell))
	assert.Equal(t, "3.10", cell["python"])
}

func TestWaitForJobsPollsWhileChildrenRun(t *testing.T) {
	runs := &fakeRuns{children: []domain.Run{
		{ID: 10, Status: domain.StatusFinished},
		{ID: 11, Status: domain.StatusExecuting},
	}}
	f := &PipelineFlow{Defs: &fakeSource{def: testDef()}, Runs: runs, Canceller: &fakeCanceller{}}
	f.Setup(pipelineRun(5, map[string]string{VarPipeline: "ci"}))

	ns, err := f.WaitForJobs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateWaitForJobs, ns.Name)
	assert.Equal(t, waitForJobsPollOffset, ns.NextExecutionOffset)
}

func TestWaitForJobsFinishesWhenAllChildrenFinish(t *testing.T) {
	runs := &fakeRuns{children: []domain.Run{
		{ID: 10, Status: domain.StatusFinished},
		{ID: 11, Status: domain.StatusFinished},
	}}
	f := &PipelineFlow{Defs: &fakeSource{def: testDef()}, Runs: runs, Canceller: &fakeCanceller{}}
	f.Setup(pipelineRun(5, map[string]string{VarPipeline: "ci"}))

	ns, err := f.WaitForJobs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatePipelineFinished, ns.Name)
}

func TestWaitForJobsFailFastCancelsSiblings(t *testing.T) {
	failedVars, _ := json.Marshal(map[string]string{VarJob: "test"})
	runs := &fakeRuns{children: []domain.Run{
		{ID: 10, Status: domain.StatusFailed, StateVars: sql.NullString{String: string(failedVars), Valid: true}},
		{ID: 11, Status: domain.StatusExecuting},
		{ID: 12, Status: domain.StatusNew},
	}}
	canceller := &fakeCanceller{}
	f := &PipelineFlow{Defs: &fakeSource{def: testDef()}, Runs: runs, Canceller: canceller}
	f.Setup(pipelineRun(5, map[string]string{VarPipeline: "ci"}))

	ns, err := f.WaitForJobs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateWaitForJobs, ns.Name)
	assert.Equal(t, []int64{11, 12}, canceller.cancelled)
}

func TestWaitForJobsFailsWhenChildrenSettled(t *testing.T) {
	failedVars, _ := json.Marshal(map[string]string{VarJob: "test"})
	runs := &fakeRuns{children: []domain.Run{
		{ID: 10, Status: domain.StatusFailed, StateVars: sql.NullString{String: string(failedVars), Valid: true}},
		{ID: 11, Status: domain.StatusCancelled},
	}}
	f := &PipelineFlow{Defs: &fakeSource{def: testDef()}, Runs: runs, Canceller: &fakeCanceller{}}
	f.Setup(pipelineRun(5, map[string]string{VarPipeline: "ci"}))

	ns, err := f.WaitForJobs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatePipelineFailed, ns.Name)
	assert.Contains(t, ns.ActionLog, "1 of 2 jobs failed")
}

func jobRun(vars map[string]string) *domain.Run {
	data, _ := json.Marshal(vars)
	return &domain.Run{
		ID:        20,
		Status:    domain.StatusExecuting,
		FlowType:  FlowTypeJob,
		StateVars: sql.NullString{String: string(data), Valid: true},
	}
}

func TestPrepareJobRendersStepPlan(t *testing.T) {
	t.Setenv("MCI_AVAILABLE_PROVIDERS", "CPUExecutionProvider")
	cell, _ := json.Marshal(map[string]string{"python": "3.11"})
	f := &JobFlow{Clock: core.NewRealClock(), Defs: &fakeSource{def: testDef()}, Actions: &fakeActions{}, Steps: &fakeSteps{}}
	f.Setup(jobRun(map[string]string{VarPipeline: "ci", VarJob: "test", VarCell: string(cell)}))

	ns, err := f.PrepareJob(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateRunSteps, ns.Name)

	var plan []stepPlan
	require.NoError(t, json.Unmarshal([]byte(f.StateVariables[VarPlan]), &plan))
	require.Len(t, plan, 1)
	assert.Equal(t, []string{"python", "-m", "pytest", "tests/onnxruntime", "-v"}, plan[0].Argv)
	assert.Contains(t, plan[0].Env, "MATRIX_PYTHON=3.11")
	assert.Contains(t, plan[0].Env, "PIPELINE_VAR=base")
	// job env wins over pipeline env
	assert.Contains(t, plan[0].Env, "SHARED=job")
}

func TestPrepareJobUnavailableProviderFailsVerbatim(t *testing.T) {
	t.Setenv("MCI_AVAILABLE_PROVIDERS", "CPUExecutionProvider")
	def := testDef()
	job := def.Jobs["test"]
	job.Session = &providers.Profile{Provider: providers.CUDA}
	def.Jobs["test"] = job

	f := &JobFlow{Clock: core.NewRealClock(), Defs: &fakeSource{def: def}, Actions: &fakeActions{}, Steps: &fakeSteps{}}
	f.Setup(jobRun(map[string]string{VarPipeline: "ci", VarJob: "test", VarCell: "{}"}))

	ns, err := f.PrepareJob(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateJobFailed, ns.Name)

	expected := &providers.UnavailableError{Provider: providers.CUDA, Available: []providers.Provider{providers.CPU}}
	assert.Equal(t, expected.Error(), ns.ActionLog)
}

func TestPrepareJobSessionEnvIsAppended(t *testing.T) {
	t.Setenv("MCI_AVAILABLE_PROVIDERS", "CUDAExecutionProvider,CPUExecutionProvider")
	def := testDef()
	job := def.Jobs["lint"]
	job.Session = &providers.Profile{Provider: providers.CUDA, Options: map[string]string{"device_id": "0"}}
	def.Jobs["lint"] = job

	f := &JobFlow{Clock: core.NewRealClock(), Defs: &fakeSource{def: def}, Actions: &fakeActions{}, Steps: &fakeSteps{}}
	f.Setup(jobRun(map[string]string{VarPipeline: "ci", VarJob: "lint"}))

	ns, err := f.PrepareJob(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateRunSteps, ns.Name)

	var plan []stepPlan
	require.NoError(t, json.Unmarshal([]byte(f.StateVariables[VarPlan]), &plan))
	require.Len(t, plan, 1)
	assert.Contains(t, plan[0].Env, "MODELCI_EP=CUDAExecutionProvider")
	assert.Contains(t, plan[0].Env, "MODELCI_EP_OPT_DEVICE_ID=0")
}

func TestRunStepsRecordsActionsAndReports(t *testing.T) {
	steps := &fakeSteps{}
	actions := &fakeActions{}
	f := &JobFlow{Clock: core.NewRealClock(), Defs: &fakeSource{def: testDef()}, Actions: actions, Steps: steps}
	f.Setup(jobRun(map[string]string{VarPipeline: "ci", VarJob: "lint"}))
	plan, _ := json.Marshal([]stepPlan{
		{Name: "lint", Argv: []string{"sh", "-c", "ruff check ."}},
		{Name: "unit", Argv: []string{"python", "-m", "pytest"}},
	})
	f.StateVariables[VarPlan] = string(plan)

	ns, err := f.RunSteps(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateReport, ns.Name)
	require.Len(t, steps.calls, 2)
	require.Len(t, actions.saved, 2)
	assert.Equal(t, "STEP", actions.saved[0].Type)
	assert.Equal(t, "lint", actions.saved[0].Name)
}

func TestRunStepsStampsActionsWithRunnerId(t *testing.T) {
	actions := &fakeActions{}
	f := &JobFlow{Clock: core.NewRealClock(), Defs: &fakeSource{def: testDef()}, Actions: actions, Steps: &fakeSteps{}}
	f.Setup(jobRun(map[string]string{VarPipeline: "ci", VarJob: "lint"}))
	plan, _ := json.Marshal([]stepPlan{
		{Name: "lint", Argv: []string{"sh", "-c", "ruff check ."}},
	})
	f.StateVariables[VarPlan] = string(plan)

	ctx := context.WithValue(context.Background(), core.CtxKeyRunnerId, int64(7))
	_, err := f.RunSteps(ctx)
	require.NoError(t, err)
	require.Len(t, actions.saved, 1)
	assert.Equal(t, int64(7), actions.saved[0].RunnerID)
}

func TestRunStepsFailingStepFailsJob(t *testing.T) {
	steps := &fakeSteps{failOn: map[string]error{"ruff check .": errors.New("exit status 1")}}
	f := &JobFlow{Clock: core.NewRealClock(), Defs: &fakeSource{def: testDef()}, Actions: &fakeActions{}, Steps: steps}
	f.Setup(jobRun(map[string]string{VarPipeline: "ci", VarJob: "lint"}))
	plan, _ := json.Marshal([]stepPlan{
		{Name: "lint", Argv: []string{"sh", "-c", "ruff check ."}},
		{Name: "unit", Argv: []string{"python", "-m", "pytest"}},
	})
	f.StateVariables[VarPlan] = string(plan)

	ns, err := f.RunSteps(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateJobFailed, ns.Name)
	assert.Contains(t, ns.ActionLog, "Step lint failed")
	// second step never runs
	assert.Len(t, steps.calls, 1)
}

func TestRunStepsContinueOnErrorKeepsGoing(t *testing.T) {
	steps := &fakeSteps{failOn: map[string]error{"ruff check .": errors.New("exit status 1")}}
	f := &JobFlow{Clock: core.NewRealClock(), Defs: &fakeSource{def: testDef()}, Actions: &fakeActions{}, Steps: steps}
	f.Setup(jobRun(map[string]string{VarPipeline: "ci", VarJob: "lint"}))
	plan, _ := json.Marshal([]stepPlan{
		{Name: "lint", Argv: []string{"sh", "-c", "ruff check ."}, ContinueOnError: true},
		{Name: "unit", Argv: []string{"python", "-m", "pytest"}},
	})
	f.StateVariables[VarPlan] = string(plan)

	ns, err := f.RunSteps(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateReport, ns.Name)
	assert.Len(t, steps.calls, 2)
	assert.Contains(t, ns.ActionLog, "1 failed but were continue-on-error")
}

type fakeForge struct {
	items  []forge.Item
	closed []int
}

func (f *fakeForge) ListOpenItems(ctx context.Context) ([]forge.Item, error) { return f.items, nil }
func (f *fakeForge) AddLabel(ctx context.Context, number int, label string) error {
	return nil
}
func (f *fakeForge) RemoveLabel(ctx context.Context, number int, label string) error { return nil }
func (f *fakeForge) Comment(ctx context.Context, number int, body string) error      { return nil }
func (f *fakeForge) Close(ctx context.Context, number int) error {
	f.closed = append(f.closed, number)
	return nil
}

func staleDef() *pipeline.Pipeline {
	return &pipeline.Pipeline{
		Name: "stale-bot",
		Stale: &pipeline.StalePolicy{
			DaysBeforeIssueStale: 30,
			DaysBeforeIssueClose: 7,
			StaleLabel:           "Stale",
		},
	}
}

func TestFetchPolicyRequiresStaleBlock(t *testing.T) {
	f := &StaleSweepFlow{Clock: core.NewRealClock(), Defs: &fakeSource{def: testDef()}, Forge: &fakeForge{}}
	f.Setup(pipelineRun(7, map[string]string{VarPipeline: "ci"}))

	_, err := f.FetchPolicy(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no stale policy")
}

func TestSweepItemsReportsCounts(t *testing.T) {
	now := time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC)
	clock := core.NewFakeClock(now)
	forgeAPI := &fakeForge{items: []forge.Item{
		{Number: 1, Labels: []string{"Stale"}, UpdatedAt: now.Add(-10 * 24 * time.Hour)},
		{Number: 2, UpdatedAt: now.Add(-time.Hour)},
	}}
	f := &StaleSweepFlow{Clock: clock, Defs: &fakeSource{def: staleDef()}, Forge: forgeAPI}
	f.Setup(pipelineRun(7, map[string]string{VarPipeline: "stale-bot"}))

	ns, err := f.SweepItems(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateSweepDone, ns.Name)
	assert.Equal(t, []int{1}, forgeAPI.closed)
	assert.Contains(t, ns.ActionLog, "closed 1")
}
