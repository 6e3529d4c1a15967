package core

import (
	"github.com/modelci/modelci/pkg/modelci/domain"
	models "github.com/modelci/modelci/pkg/modelci/models"
)

// Flow is the interface every run type must implement. The engine drives a
// flow by calling the method named after the current state, which must have
// the signature func (f *T) StateName(ctx context.Context) (*models.NextState, error).
type Flow interface {
	StateTransitions() map[string][]string // map of state name -> list of next state names
	InitialState() string
	Description() string
	Setup(run *domain.Run)
	GetRunData() *domain.Run
	GetStateVariables() map[string]string
	GetAllStates() []models.FlowState
	GetRetryConfig() models.RetryConfig
}
