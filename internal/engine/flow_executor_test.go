package engine

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/modelci/modelci/internal/repository"
	"github.com/modelci/modelci/pkg/modelci/core"
	"github.com/modelci/modelci/pkg/modelci/domain"
	"github.com/modelci/modelci/pkg/modelci/models"
)

// MockRunRepo implements RunRepo for testing
type MockRunRepo struct {
	UpdateRunStatusFunc                           func(id int64, status string) error
	UpdateRunStartingTimeFunc                     func(id int64) error
	UpdateStateFunc                               func(id int64, state string) error
	SaveRunVariablesFunc                          func(id int64, vars string) error
	WakeParentRunFunc                             func(parentID int64) error
	SaveFunc                                      func(run *domain.Run) (int64, error)
	FindByIDFunc                                  func(id int64) (*domain.Run, error)
	UpdateNextActivationSpecificFunc              func(id int64, next time.Time) error
	UpdateNextActivationOffsetFunc                func(id int64, offset string) error
	ClearRunnerIdFunc                             func(id int64) error
	IncrementRetryCounterAndSetNextActivationFunc func(id int64, activation time.Time) error
	FindPendingRunsFunc                           func(size int, runnerGroup string) (*[]domain.Run, error)
	MarkRunAsScheduledForExecutionFunc            func(id int64, runnerId int64, modified time.Time) bool
	FindStuckRunsFunc                             func(minutesRepair string, runnerGroup string, limit int) (*[]domain.Run, error)
	LockRunByModifiedFunc                         func(id int64, modified time.Time) bool
	FindActiveByConcurrencyKeyFunc                func(key string, excludeID int64) (*[]domain.Run, error)
	CancelRunFunc                                 func(id int64) bool
	CreateChildRunFunc                            func(parentID int64, flowType string, initialState string, concurrencyKey string, stateVarsJSON string) (*domain.Run, error)
	GetChildrenByParentIDFunc                     func(parentID int64, onlyActive bool) (*[]domain.Run, error)
}

func (m *MockRunRepo) UpdateRunStatus(id int64, status string) error {
	if m.UpdateRunStatusFunc != nil {
		return m.UpdateRunStatusFunc(id, status)
	}
	return nil
}
func (m *MockRunRepo) UpdateRunStartingTime(id int64) error {
	if m.UpdateRunStartingTimeFunc != nil {
		return m.UpdateRunStartingTimeFunc(id)
	}
	return nil
}
func (m *MockRunRepo) UpdateState(id int64, state string) error {
	if m.UpdateStateFunc != nil {
		return m.UpdateStateFunc(id, state)
	}
	return nil
}
func (m *MockRunRepo) SaveRunVariables(id int64, vars string) error {
	if m.SaveRunVariablesFunc != nil {
		return m.SaveRunVariablesFunc(id, vars)
	}
	return nil
}
func (m *MockRunRepo) WakeParentRun(parentID int64) error {
	if m.WakeParentRunFunc != nil {
		return m.WakeParentRunFunc(parentID)
	}
	return nil
}
func (m *MockRunRepo) Save(run *domain.Run) (int64, error) {
	if m.SaveFunc != nil {
		return m.SaveFunc(run)
	}
	return 1, nil
}
func (m *MockRunRepo) FindByID(id int64) (*domain.Run, error) {
	if m.FindByIDFunc != nil {
		return m.FindByIDFunc(id)
	}
	return nil, nil
}
func (m *MockRunRepo) UpdateNextActivationSpecific(id int64, next time.Time) error {
	if m.UpdateNextActivationSpecificFunc != nil {
		return m.UpdateNextActivationSpecificFunc(id, next)
	}
	return nil
}
func (m *MockRunRepo) UpdateNextActivationOffset(id int64, offset string) error {
	if m.UpdateNextActivationOffsetFunc != nil {
		return m.UpdateNextActivationOffsetFunc(id, offset)
	}
	return nil
}
func (m *MockRunRepo) ClearRunnerId(id int64) error {
	if m.ClearRunnerIdFunc != nil {
		return m.ClearRunnerIdFunc(id)
	}
	return nil
}
func (m *MockRunRepo) IncrementRetryCounterAndSetNextActivation(id int64, activation time.Time) error {
	if m.IncrementRetryCounterAndSetNextActivationFunc != nil {
		return m.IncrementRetryCounterAndSetNextActivationFunc(id, activation)
	}
	return nil
}
func (m *MockRunRepo) FindPendingRuns(size int, runnerGroup string) (*[]domain.Run, error) {
	if m.FindPendingRunsFunc != nil {
		return m.FindPendingRunsFunc(size, runnerGroup)
	}
	return nil, nil
}
func (m *MockRunRepo) MarkRunAsScheduledForExecution(id int64, runnerId int64, modified time.Time) bool {
	if m.MarkRunAsScheduledForExecutionFunc != nil {
		return m.MarkRunAsScheduledForExecutionFunc(id, runnerId, modified)
	}
	return true
}
func (m *MockRunRepo) FindStuckRuns(minutesRepair string, runnerGroup string, limit int) (*[]domain.Run, error) {
	if m.FindStuckRunsFunc != nil {
		return m.FindStuckRunsFunc(minutesRepair, runnerGroup, limit)
	}
	return nil, nil
}
func (m *MockRunRepo) LockRunByModified(id int64, modified time.Time) bool {
	if m.LockRunByModifiedFunc != nil {
		return m.LockRunByModifiedFunc(id, modified)
	}
	return true
}
func (m *MockRunRepo) FindActiveByConcurrencyKey(key string, excludeID int64) (*[]domain.Run, error) {
	if m.FindActiveByConcurrencyKeyFunc != nil {
		return m.FindActiveByConcurrencyKeyFunc(key, excludeID)
	}
	return &[]domain.Run{}, nil
}
func (m *MockRunRepo) CancelRun(id int64) bool {
	if m.CancelRunFunc != nil {
		return m.CancelRunFunc(id)
	}
	return true
}
func (m *MockRunRepo) CreateChildRun(parentID int64, flowType string, initialState string, concurrencyKey string, stateVarsJSON string) (*domain.Run, error) {
	if m.CreateChildRunFunc != nil {
		return m.CreateChildRunFunc(parentID, flowType, initialState, concurrencyKey, stateVarsJSON)
	}
	return &domain.Run{ID: 99, FlowType: flowType}, nil
}
func (m *MockRunRepo) GetChildrenByParentID(parentID int64, onlyActive bool) (*[]domain.Run, error) {
	if m.GetChildrenByParentIDFunc != nil {
		return m.GetChildrenByParentIDFunc(parentID, onlyActive)
	}
	return &[]domain.Run{}, nil
}
func (m *MockRunRepo) SearchRuns(req models.SearchRunRequest) (*[]domain.Run, error) { return nil, nil }
func (m *MockRunRepo) GetTopExecuting(limit int) (*[]domain.Run, error)              { return nil, nil }
func (m *MockRunRepo) GetNextToExecute(limit int) (*[]domain.Run, error)             { return nil, nil }
func (m *MockRunRepo) GetRunOverview() ([]repository.RunOverviewRow, error)          { return nil, nil }
func (m *MockRunRepo) GetDefinitionStateOverview(flowType string) ([]repository.DefinitionStateRow, error) {
	return nil, nil
}
func (m *MockRunRepo) FindByExternalId(id string) (*domain.Run, error)      { return nil, nil }
func (m *MockRunRepo) SaveRunVariablesAndTouch(id int64, vars string) error { return nil }

// MockRunActionRepo
type MockRunActionRepo struct {
	SaveFunc func(a *domain.RunAction) (int64, error)
}

func (m *MockRunActionRepo) Save(a *domain.RunAction) (int64, error) {
	if m.SaveFunc != nil {
		return m.SaveFunc(a)
	}
	return 1, nil
}
func (m *MockRunActionRepo) FindAllByRunID(runID int64) (*[]domain.RunAction, error) {
	return nil, nil
}

// MockFlow
type MockFlow struct {
	core.BaseFlow
	RunData     domain.Run
	ShouldError bool
	SpawnChild  bool
}

func (m *MockFlow) Description() string {
	return "Mock Flow"
}
func (m *MockFlow) Setup(run *domain.Run) {
	m.RunData = *run
}
func (m *MockFlow) GetRunData() *domain.Run {
	return &m.RunData
}
func (m *MockFlow) GetStateVariables() map[string]string {
	return map[string]string{}
}
func (m *MockFlow) StateTransitions() map[string][]string {
	return map[string][]string{
		string(models.StateStart): {"Step1"},
		"Step1":                   {string(models.StateEnd)},
	}
}
func (m *MockFlow) InitialState() string {
	return string(models.StateStart)
}
func (m *MockFlow) GetAllStates() []models.FlowState {
	return []models.FlowState{
		{Name: string(models.StateStart), StateType: models.StateStart},
		{Name: "Step1", StateType: models.StateNormal},
		{Name: string(models.StateEnd), StateType: models.StateEnd},
	}
}
func (m *MockFlow) GetRetryConfig() models.RetryConfig {
	return models.RetryConfig{
		MaxRetryCount:    3,
		RetryIntervalMin: 1 * time.Second,
		RetryIntervalMax: 5 * time.Second,
	}
}

// State Methods
func (m *MockFlow) Start(ctx context.Context) (*models.NextState, error) {
	return &models.NextState{Name: "Step1"}, nil
}
func (m *MockFlow) Step1(ctx context.Context) (*models.NextState, error) {
	if m.ShouldError {
		return nil, errors.New("something went wrong")
	}
	if m.SpawnChild {
		return &models.NextState{
			Name: string(models.StateEnd),
			ChildFlows: []models.ChildFlowRequest{
				{FlowType: "JobFlow", InitialState: "PrepareJob", ConcurrencyKey: "group-1"},
			},
		}, nil
	}
	return &models.NextState{Name: string(models.StateEnd)}, nil
}

func TestExecuteFlow_Success(t *testing.T) {
	var statuses []string
	repo := &MockRunRepo{
		UpdateRunStatusFunc: func(id int64, status string) error {
			statuses = append(statuses, status)
			return nil
		},
	}
	actionRepo := &MockRunActionRepo{}

	f := &MockFlow{
		RunData: domain.Run{
			ID:    1,
			State: string(models.StateStart),
		},
	}

	ExecuteFlow(context.Background(), f, repo, actionRepo, 1, "worker1")

	if len(statuses) != 2 || statuses[0] != domain.StatusExecuting || statuses[1] != domain.StatusFinished {
		t.Errorf("Expected EXECUTING then FINISHED, got %v", statuses)
	}
}

func TestExecuteFlow_RetryLogic(t *testing.T) {
	retryCalled := false
	repo := &MockRunRepo{
		IncrementRetryCounterAndSetNextActivationFunc: func(id int64, activation time.Time) error {
			retryCalled = true
			return nil
		},
	}
	actionRepo := &MockRunActionRepo{}

	f := &MockFlow{
		RunData: domain.Run{
			ID:    1,
			State: "Step1",
		},
		ShouldError: true,
	}

	ExecuteFlow(context.Background(), f, repo, actionRepo, 1, "worker1")

	if !retryCalled {
		t.Error("Expected increment retry counter to be called")
	}
}

func TestExecuteFlow_MaxRetriesFails(t *testing.T) {
	var finalStatus string
	repo := &MockRunRepo{
		UpdateRunStatusFunc: func(id int64, status string) error {
			finalStatus = status
			return nil
		},
	}
	actionRepo := &MockRunActionRepo{}

	f := &MockFlow{
		RunData: domain.Run{
			ID:         1,
			State:      "Step1",
			RetryCount: 5,
		},
		ShouldError: true,
	}

	ExecuteFlow(context.Background(), f, repo, actionRepo, 1, "worker1")

	if finalStatus != domain.StatusFailed {
		t.Errorf("Expected FAILED after max retries, got %q", finalStatus)
	}
}

func TestExecuteFlow_StopsWhenCancelled(t *testing.T) {
	stateUpdated := false
	repo := &MockRunRepo{
		FindByIDFunc: func(id int64) (*domain.Run, error) {
			return &domain.Run{ID: id, Status: domain.StatusCancelled}, nil
		},
		UpdateStateFunc: func(id int64, state string) error {
			stateUpdated = true
			return nil
		},
	}
	var actionTypes []string
	actionRepo := &MockRunActionRepo{
		SaveFunc: func(a *domain.RunAction) (int64, error) {
			actionTypes = append(actionTypes, a.Type)
			return 1, nil
		},
	}

	f := &MockFlow{
		RunData: domain.Run{
			ID:    1,
			State: "Step1",
		},
	}

	ExecuteFlow(context.Background(), f, repo, actionRepo, 1, "worker1")

	if stateUpdated {
		t.Error("A cancelled run must not advance state")
	}
	found := false
	for _, at := range actionTypes {
		if at == "CANCELLED" {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected a CANCELLED action, got %v", actionTypes)
	}
}

func TestExecuteFlow_SpawnsChildRuns(t *testing.T) {
	var childType, childKey string
	repo := &MockRunRepo{
		CreateChildRunFunc: func(parentID int64, flowType string, initialState string, concurrencyKey string, stateVarsJSON string) (*domain.Run, error) {
			childType = flowType
			childKey = concurrencyKey
			return &domain.Run{ID: 42, FlowType: flowType}, nil
		},
	}
	actionRepo := &MockRunActionRepo{}

	f := &MockFlow{
		RunData: domain.Run{
			ID:    1,
			State: "Step1",
		},
		SpawnChild: true,
	}

	ExecuteFlow(context.Background(), f, repo, actionRepo, 1, "worker1")

	if childType != "JobFlow" || childKey != "group-1" {
		t.Errorf("Expected JobFlow child with key group-1, got %q %q", childType, childKey)
	}
}

func TestExecuteFlow_WakesParentOnCompletion(t *testing.T) {
	var wokenParent int64
	repo := &MockRunRepo{
		WakeParentRunFunc: func(parentID int64) error {
			wokenParent = parentID
			return nil
		},
	}
	actionRepo := &MockRunActionRepo{}

	f := &MockFlow{
		RunData: domain.Run{
			ID:          2,
			State:       "Step1",
			ParentRunID: sql.NullInt64{Int64: 1, Valid: true},
		},
	}

	ExecuteFlow(context.Background(), f, repo, actionRepo, 1, "worker1")

	if wokenParent != 1 {
		t.Errorf("Expected parent 1 to be woken, got %d", wokenParent)
	}
}
