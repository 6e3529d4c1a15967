package controllers

import (
	"database/sql"
	"time"

	"github.com/modelci/modelci/internal/repository"
	"github.com/modelci/modelci/pkg/modelci/core"
	"github.com/modelci/modelci/pkg/modelci/domain"
	"github.com/modelci/modelci/pkg/modelci/models"
)

// stubFlow is the minimal flow used to populate the registry in tests.
type stubFlow struct{ core.BaseFlow }

func (s *stubFlow) InitialState() string                  { return "Start" }
func (s *stubFlow) Description() string                   { return "stub" }
func (s *stubFlow) StateTransitions() map[string][]string { return map[string][]string{} }
func (s *stubFlow) GetAllStates() []models.FlowState      { return nil }
func (s *stubFlow) GetRetryConfig() models.RetryConfig    { return models.RetryConfig{} }
func (s *stubFlow) GetRunData() *domain.Run               { return s.RunState }
func (s *stubFlow) GetStateVariables() map[string]string  { return s.StateVariables }

// Mock repos for controller tests, implementing the engine interfaces.

type MockRunRepo struct {
	FindByIDFunc         func(id int64) (*domain.Run, error)
	FindByExternalIdFunc func(id string) (*domain.Run, error)
	SaveFunc             func(run *domain.Run) (int64, error)
	SearchRunsFunc       func(req models.SearchRunRequest) (*[]domain.Run, error)
	CancelRunFunc        func(id int64) bool
}

func (m *MockRunRepo) FindByID(id int64) (*domain.Run, error) {
	if m.FindByIDFunc != nil {
		return m.FindByIDFunc(id)
	}
	return nil, nil
}
func (m *MockRunRepo) FindByExternalId(id string) (*domain.Run, error) {
	if m.FindByExternalIdFunc != nil {
		return m.FindByExternalIdFunc(id)
	}
	return nil, nil
}
func (m *MockRunRepo) Save(run *domain.Run) (int64, error) {
	if m.SaveFunc != nil {
		return m.SaveFunc(run)
	}
	return 1, nil
}
func (m *MockRunRepo) SearchRuns(req models.SearchRunRequest) (*[]domain.Run, error) {
	if m.SearchRunsFunc != nil {
		return m.SearchRunsFunc(req)
	}
	return nil, nil
}
func (m *MockRunRepo) CancelRun(id int64) bool {
	if m.CancelRunFunc != nil {
		return m.CancelRunFunc(id)
	}
	return true
}

// Stubs for the rest of the interface
func (m *MockRunRepo) FindPendingRuns(size int, runnerGroup string) (*[]domain.Run, error) {
	return nil, nil
}
func (m *MockRunRepo) MarkRunAsScheduledForExecution(id int64, runnerId int64, modified time.Time) bool {
	return true
}
func (m *MockRunRepo) UpdateState(id int64, state string) error                    { return nil }
func (m *MockRunRepo) UpdateRunStatus(id int64, status string) error               { return nil }
func (m *MockRunRepo) UpdateRunStartingTime(id int64) error                        { return nil }
func (m *MockRunRepo) SaveRunVariables(id int64, vars string) error                { return nil }
func (m *MockRunRepo) SaveRunVariablesAndTouch(id int64, vars string) error        { return nil }
func (m *MockRunRepo) UpdateNextActivationSpecific(id int64, next time.Time) error { return nil }
func (m *MockRunRepo) UpdateNextActivationOffset(id int64, offset string) error    { return nil }
func (m *MockRunRepo) ClearRunnerId(id int64) error                                { return nil }
func (m *MockRunRepo) IncrementRetryCounterAndSetNextActivation(id int64, activation time.Time) error {
	return nil
}
func (m *MockRunRepo) FindStuckRuns(minutesRepair string, runnerGroup string, limit int) (*[]domain.Run, error) {
	return nil, nil
}
func (m *MockRunRepo) LockRunByModified(id int64, modified time.Time) bool { return true }
func (m *MockRunRepo) FindActiveByConcurrencyKey(key string, excludeID int64) (*[]domain.Run, error) {
	return nil, nil
}
func (m *MockRunRepo) CreateChildRun(parentID int64, flowType string, initialState string, concurrencyKey string, stateVarsJSON string) (*domain.Run, error) {
	return nil, nil
}
func (m *MockRunRepo) GetChildrenByParentID(parentID int64, onlyActive bool) (*[]domain.Run, error) {
	return nil, nil
}
func (m *MockRunRepo) WakeParentRun(parentID int64) error                   { return nil }
func (m *MockRunRepo) GetTopExecuting(limit int) (*[]domain.Run, error)     { return nil, nil }
func (m *MockRunRepo) GetNextToExecute(limit int) (*[]domain.Run, error)    { return nil, nil }
func (m *MockRunRepo) GetRunOverview() ([]repository.RunOverviewRow, error) { return nil, nil }
func (m *MockRunRepo) GetDefinitionStateOverview(flowType string) ([]repository.DefinitionStateRow, error) {
	return nil, nil
}

type MockRunActionRepo struct {
	SaveFunc           func(a *domain.RunAction) (int64, error)
	FindAllByRunIDFunc func(runID int64) (*[]domain.RunAction, error)
}

func (m *MockRunActionRepo) Save(a *domain.RunAction) (int64, error) {
	if m.SaveFunc != nil {
		return m.SaveFunc(a)
	}
	return 1, nil
}
func (m *MockRunActionRepo) FindAllByRunID(runID int64) (*[]domain.RunAction, error) {
	if m.FindAllByRunIDFunc != nil {
		return m.FindAllByRunIDFunc(runID)
	}
	return nil, nil
}

type MockRunnerRepo struct {
	GetRunnersByLastActiveFunc func(limit int) ([]*domain.Runner, error)
}

func (m *MockRunnerRepo) Save(e *domain.Runner) (int64, error)          { return 1, nil }
func (m *MockRunnerRepo) UpdateLastActive(id int64, ts time.Time) error { return nil }
func (m *MockRunnerRepo) GetRunnersByLastActive(limit int) ([]*domain.Runner, error) {
	if m.GetRunnersByLastActiveFunc != nil {
		return m.GetRunnersByLastActiveFunc(limit)
	}
	return nil, nil
}

type MockDefinitionRepo struct {
	FindAllFunc    func() (*[]domain.FlowDefinition, error)
	FindByNameFunc func(name string) (*domain.FlowDefinition, error)
}

func (m *MockDefinitionRepo) FindAll() (*[]domain.FlowDefinition, error) {
	if m.FindAllFunc != nil {
		return m.FindAllFunc()
	}
	return nil, nil
}
func (m *MockDefinitionRepo) FindByName(name string) (*domain.FlowDefinition, error) {
	if m.FindByNameFunc != nil {
		return m.FindByNameFunc(name)
	}
	return nil, nil
}
func (m *MockDefinitionRepo) Save(def *domain.FlowDefinition) error { return nil }

type MockUserRepo struct {
	FindBySessionIDFunc func(sessionID string, now time.Time) (*domain.User, error)
	FindByApiKeyFunc    func(apiKey string) (*domain.User, error)
	SaveFunc            func(user *domain.User) (int64, error)
	FindByIdFunc        func(id int64) (*domain.User, error)
	DeleteByIdFunc      func(id int64) error
}

func (m *MockUserRepo) FindBySessionID(sessionID string, now time.Time) (*domain.User, error) {
	if m.FindBySessionIDFunc != nil {
		return m.FindBySessionIDFunc(sessionID, now)
	}
	return nil, nil
}
func (m *MockUserRepo) FindByApiKey(apiKey string) (*domain.User, error) {
	if m.FindByApiKeyFunc != nil {
		return m.FindByApiKeyFunc(apiKey)
	}
	return nil, nil
}
func (m *MockUserRepo) FindAll() (*[]domain.User, error) { return nil, nil }
func (m *MockUserRepo) Save(user *domain.User) (int64, error) {
	if m.SaveFunc != nil {
		return m.SaveFunc(user)
	}
	return 1, nil
}
func (m *MockUserRepo) FindById(id int64) (*domain.User, error) {
	if m.FindByIdFunc != nil {
		return m.FindByIdFunc(id)
	}
	return nil, nil
}
func (m *MockUserRepo) DeleteById(id int64) error {
	if m.DeleteByIdFunc != nil {
		return m.DeleteByIdFunc(id)
	}
	return nil
}
func (m *MockUserRepo) FindByUsername(username string) (*domain.User, error) { return nil, nil }
func (m *MockUserRepo) UpdateSession(userID int64, sessionID string, expiry time.Time) error {
	return nil
}
func (m *MockUserRepo) ClearSessionBySessionID(sessionID string) error { return nil }
func (m *MockUserRepo) UpdateUser(id int64, username string, apiKey sql.NullString, enabled sql.NullBool) error {
	return nil
}
