package engine

import (
	"database/sql"
	"time"

	"github.com/modelci/modelci/internal/repository"
	"github.com/modelci/modelci/pkg/modelci/domain"
	"github.com/modelci/modelci/pkg/modelci/models"
)

// RunRepo defines the interface for run persistence, matching repository.RunRepository.
type RunRepo interface {
	Save(run *domain.Run) (int64, error)
	FindByID(id int64) (*domain.Run, error)
	FindByExternalId(id string) (*domain.Run, error)
	FindPendingRuns(size int, runnerGroup string) (*[]domain.Run, error)
	MarkRunAsScheduledForExecution(id int64, runnerId int64, modified time.Time) bool
	UpdateState(id int64, state string) error
	UpdateRunStatus(id int64, status string) error
	UpdateRunStartingTime(id int64) error
	SaveRunVariables(id int64, vars string) error
	SaveRunVariablesAndTouch(id int64, vars string) error
	UpdateNextActivationSpecific(id int64, next time.Time) error
	UpdateNextActivationOffset(id int64, offset string) error
	ClearRunnerId(id int64) error
	IncrementRetryCounterAndSetNextActivation(id int64, activation time.Time) error
	FindStuckRuns(minutesRepair string, runnerGroup string, limit int) (*[]domain.Run, error)
	LockRunByModified(id int64, modified time.Time) bool
	FindActiveByConcurrencyKey(key string, excludeID int64) (*[]domain.Run, error)
	CancelRun(id int64) bool
	CreateChildRun(parentID int64, flowType string, initialState string, concurrencyKey string, stateVarsJSON string) (*domain.Run, error)
	GetChildrenByParentID(parentID int64, onlyActive bool) (*[]domain.Run, error)
	WakeParentRun(parentID int64) error
	SearchRuns(req models.SearchRunRequest) (*[]domain.Run, error)
	GetTopExecuting(limit int) (*[]domain.Run, error)
	GetNextToExecute(limit int) (*[]domain.Run, error)
	GetRunOverview() ([]repository.RunOverviewRow, error)
	GetDefinitionStateOverview(flowType string) ([]repository.DefinitionStateRow, error)
}

// RunActionRepo defines the interface for run action persistence.
type RunActionRepo interface {
	Save(a *domain.RunAction) (int64, error)
	FindAllByRunID(runID int64) (*[]domain.RunAction, error)
}

// RunnerRepo defines the interface for runner persistence.
type RunnerRepo interface {
	Save(e *domain.Runner) (int64, error)
	UpdateLastActive(id int64, ts time.Time) error
	GetRunnersByLastActive(limit int) ([]*domain.Runner, error)
}

// DefinitionRepo defines the interface for flow definition persistence.
type DefinitionRepo interface {
	FindAll() (*[]domain.FlowDefinition, error)
	FindByName(name string) (*domain.FlowDefinition, error)
	Save(def *domain.FlowDefinition) error
}

// UserRepo defines the interface for user persistence.
type UserRepo interface {
	FindBySessionID(sessionID string, now time.Time) (*domain.User, error)
	FindByApiKey(apiKey string) (*domain.User, error)
	FindAll() (*[]domain.User, error)
	Save(user *domain.User) (int64, error)
	FindById(id int64) (*domain.User, error)
	DeleteById(id int64) error
	FindByUsername(username string) (*domain.User, error)
	UpdateSession(userID int64, sessionID string, expiry time.Time) error
	ClearSessionBySessionID(sessionID string) error
	UpdateUser(id int64, username string, apiKey sql.NullString, enabled sql.NullBool) error
}
