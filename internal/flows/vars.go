package flows

import (
	"github.com/modelci/modelci/internal/pipeline"
	domain "github.com/modelci/modelci/pkg/modelci/domain"
)

// Flow type names as registered with the engine.
const (
	FlowTypePipeline   = "PipelineFlow"
	FlowTypeJob        = "JobFlow"
	FlowTypeStaleSweep = "StaleSweepFlow"
)

// State variable keys shared between the trigger surface (controllers,
// scheduler) and the flows they enqueue.
const (
	VarPipeline         = "pipeline"
	VarBranch           = "branch"
	VarEvent            = "event"
	VarLabel            = "label"
	VarCancelInProgress = "cancelInProgress"
	VarJob              = "job"
	VarCell             = "cell"
	VarPlan             = "plan"
	VarTimeoutMinutes   = "timeoutMinutes"
	VarChildrenCount    = "childrenCount"
	VarSummary          = "summary"
)

// DefinitionSource resolves a pipeline definition by name.
type DefinitionSource interface {
	Find(name string) (*pipeline.Pipeline, error)
}

// Canceller cancels a queued or executing run, recording why.
type Canceller interface {
	CancelRun(id int64, reason string) bool
}

// RunLookup is the slice of run persistence the pipeline flow needs to settle
// its concurrency group and watch its children.
type RunLookup interface {
	FindActiveByConcurrencyKey(key string, excludeID int64) (*[]domain.Run, error)
	GetChildrenByParentID(parentID int64, onlyActive bool) (*[]domain.Run, error)
}

// ActionRecorder records per-step actions against a run.
type ActionRecorder interface {
	Save(a *domain.RunAction) (int64, error)
}
