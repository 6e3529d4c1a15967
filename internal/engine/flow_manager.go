package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/modelci/modelci/internal/config"
	"github.com/modelci/modelci/internal/metrics"
	"github.com/modelci/modelci/internal/repository"
	"github.com/modelci/modelci/pkg/modelci/core"
	"github.com/modelci/modelci/pkg/modelci/domain"
	"github.com/modelci/modelci/pkg/modelci/models"
)

var runQueue chan core.Flow // Initialized in StartEngine using system setting

type FlowManager struct {
	FlowRegistry   *map[string]func() core.Flow
	RunRepo        RunRepo
	RunActionRepo  RunActionRepo
	runnerRepo     RunnerRepo
	DefinitionRepo DefinitionRepo
	runnerID       int64
	wakeup         chan struct{}
	clock          core.Clock
}

func NewFlowManager(runRepo RunRepo, runActionRepo RunActionRepo, runnerRepo RunnerRepo,
	definitionRepo DefinitionRepo, flowRegistry *map[string]func() core.Flow, clock core.Clock) *FlowManager {
	return &FlowManager{
		FlowRegistry:   flowRegistry,
		RunRepo:        runRepo,
		RunActionRepo:  runActionRepo,
		runnerRepo:     runnerRepo,
		DefinitionRepo: definitionRepo,
		wakeup:         make(chan struct{}, 1),
		clock:          clock,
	}
}

// ListFlowDefinitions exposes repository list for web/API layers.
func (fm *FlowManager) ListFlowDefinitions() (*[]domain.FlowDefinition, error) {
	return fm.DefinitionRepo.FindAll()
}

// GetFlowDefinitionByName exposes repository get by name for web/API layers.
func (fm *FlowManager) GetFlowDefinitionByName(name string) (*domain.FlowDefinition, error) {
	return fm.DefinitionRepo.FindByName(name)
}

// ListRunners returns recent runners ordered by last_active desc.
func (fm *FlowManager) ListRunners(limit int) ([]*domain.Runner, error) {
	return fm.runnerRepo.GetRunnersByLastActive(limit)
}

// SearchRuns delegates to the repository to search based on request filters.
func (fm *FlowManager) SearchRuns(req models.SearchRunRequest) (*[]domain.Run, error) {
	return fm.RunRepo.SearchRuns(req)
}

// TopExecuting exposes repository method for dashboard
func (fm *FlowManager) TopExecuting(limit int) (*[]domain.Run, error) {
	return fm.RunRepo.GetTopExecuting(limit)
}

// NextToExecute exposes repository method for dashboard
func (fm *FlowManager) NextToExecute(limit int) (*[]domain.Run, error) {
	return fm.RunRepo.GetNextToExecute(limit)
}

// Overview exposes grouped counts for home dashboard
func (fm *FlowManager) Overview() ([]repository.RunOverviewRow, error) {
	return fm.RunRepo.GetRunOverview()
}

// DefinitionOverview exposes counts by state for a flow type
func (fm *FlowManager) DefinitionOverview(flowType string) ([]repository.DefinitionStateRow, error) {
	return fm.RunRepo.GetDefinitionStateOverview(flowType)
}

// EnqueueRun persists a new run and nudges the poll loop so it starts
// without waiting for the next tick.
func (fm *FlowManager) EnqueueRun(run *domain.Run) (int64, error) {
	now := fm.clock.Now().UTC()
	if run.Status == "" {
		run.Status = domain.StatusNew
	}
	if run.Created.IsZero() {
		run.Created = now
	}
	if run.Modified.IsZero() {
		run.Modified = now
	}
	if !run.NextActivation.Valid {
		run.NextActivation.Time = now
		run.NextActivation.Valid = true
	}
	if run.RunnerGroup == "" {
		run.RunnerGroup = config.GetSystemSettingString(config.ENGINE_RUNNER_GROUP)
	}
	id, err := fm.RunRepo.Save(run)
	if err != nil {
		return 0, err
	}
	metrics.RunsEnqueued.WithLabelValues(run.FlowType).Inc()
	fm.Wakeup()
	return id, nil
}

// CancelRun cancels a queued or executing run and records why. The status
// write is immediate; an executing run observes it at its next state boundary.
func (fm *FlowManager) CancelRun(id int64, reason string) bool {
	if !fm.RunRepo.CancelRun(id) {
		return false
	}
	_, _ = fm.RunActionRepo.Save(&domain.RunAction{
		RunID:          id,
		RunnerID:       fm.runnerID,
		ExecutionCount: 1,
		Type:           "CANCELLED",
		Name:           "CANCELLED",
		Text:           reason,
		DateTime:       time.Now(),
	})
	return true
}

// StartEngine starts polling for new runs at the given interval
func (fm *FlowManager) StartEngine(ctx context.Context, pollInterval time.Duration) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	// Register this runner instance
	registerRunnerInstance(ctx, fm)

	registerFlowDefinitions(ctx, fm)

	go startRunRepairService(ctx, fm)

	// Initialize run queue size from system setting ENGINE_BATCH_SIZE
	queueSize := config.GetSystemSettingInteger(config.ENGINE_BATCH_SIZE)
	if queueSize <= 0 {
		queueSize = 10 // fallback default
	}
	runQueue = make(chan core.Flow, queueSize)

	slog.Info("Starting engine", "workers", config.GetSystemSettingInteger(config.ENGINE_RUNNER_SIZE), "queue_size", queueSize)
	for i := 0; i < config.GetSystemSettingInteger(config.ENGINE_RUNNER_SIZE); i++ {
		workerContext := context.WithValue(ctx, core.CtxKeyRunnerId, fm.runnerID)
		go Worker(workerContext, i, fm.runnerID, fm.RunRepo, fm.RunActionRepo, runQueue)
	}

	slog.Info("Engine started", "poll_interval", pollInterval.String())

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Engine stopping due to context cancel")
			return
		case <-ticker.C:
			fm.pollAndRunFlows(ctx)
		case <-fm.wakeup:
			fm.pollAndRunFlows(ctx)
		}

	}
}

// responsible for finding runs that might have crashed half way and waking them up again
// these runs will be in a state of SCHEDULED or EXECUTING and the runner will be last active more than 5 minutes ago
func startRunRepairService(ctx context.Context, fm *FlowManager) {
	dur, _ := time.ParseDuration(config.GetSystemSettingString(config.ENGINE_STUCK_RUNS_INTERVAL))
	ticker := time.NewTicker(dur)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Run repair service stopping due to context cancel")
			return
		case <-ticker.C:
			stuckRuns, err := fm.RunRepo.FindStuckRuns(
				config.GetSystemSettingString(config.ENGINE_STUCK_RUNS_REPAIR_AFTER_MINUTES), config.GetSystemSettingString(config.ENGINE_RUNNER_GROUP),
				100)
			if err != nil {
				slog.Error("Error finding stuck runs", "error", err)
				continue
			}
			for _, run := range *stuckRuns {
				slog.Warn("Repairing stuck run", "run_id", run.ID, "concurrency_key", run.ConcurrencyKey, "Current State", run.State, "Status", run.Status)
				// Mark as scheduled and add to queue
				previousRunnerId := run.RunnerID
				exclusiveLock := fm.RunRepo.LockRunByModified(run.ID, run.Modified)
				if exclusiveLock {
					_, _ = fm.RunActionRepo.Save(&domain.RunAction{
						RunID:          run.ID,
						RunnerID:       fm.runnerID,
						ExecutionCount: 1,
						Type:           "REPAIRED",
						Name:           "REPAIRED",
						Text:           "Repaired and scheduled, previous runner was: " + fmt.Sprint(previousRunnerId.String),
						DateTime:       time.Now(),
					})
					// set the run to next execute now
					err := fm.RunRepo.UpdateNextActivationSpecific(run.ID, time.Now())
					if err != nil {
						slog.ErrorContext(ctx, "Failed to repair update run next activation", "run_id", run.ID, "error", err)
					}
					err = fm.RunRepo.ClearRunnerId(run.ID)
					if err != nil {
						slog.ErrorContext(ctx, "Failed to repair clear runner id", "run_id", run.ID, "error", err)
					}

				}
			}
		}
	}

}

func registerFlowDefinitions(ctx context.Context, fm *FlowManager) {

	for name := range *fm.FlowRegistry {
		def, err := fm.DefinitionRepo.FindByName(name)
		if err != nil {
			// If not found, we'll create it; for other errors, log and continue
			slog.WarnContext(ctx, "Flow definition lookup error, will attempt create", "name", name, "error", err)
			def = nil
		}

		chart := buildFlowChart(fm, name)
		instance, _ := CreateFlowInstance(fm, name)
		desc := instance.Description()

		for _, state := range instance.GetAllStates() {
			if state.StateType == models.StateNormal ||
				state.StateType == models.StateStart {
				// need to ensure that this function on the flow correctly only has the ctx as a parameter
				typ := reflect.TypeOf(instance)
				m, ok := typ.MethodByName(state.Name)
				if !ok {
					panic(fmt.Sprintf("method %s not found in flow definition %s", state.Name, name))
				}

				// Method signatures in Go always include the receiver as the first param.
				// So to enforce: func (f *Flow) Foo(ctx context.Context)
				// method.Type.NumIn() must be 2 (receiver + ctx)
				if m.Type.NumIn() != 2 {
					panic(fmt.Sprintf(
						"Flow:%s method:%s must have exactly one parameter: context.Context (found %d parameters)",
						name, state.Name, m.Type.NumIn()-1,
					))
				}

				ctxType := reflect.TypeOf((*context.Context)(nil)).Elem()
				if m.Type.In(1) != ctxType {
					panic(fmt.Sprintf(
						"method %s must take context.Context as its only parameter",
						state.Name,
					))
				}
			}

		}

		if def == nil {
			def = &domain.FlowDefinition{
				Name:        name,
				Description: desc,
				Created:     time.Now(),
				Updated:     time.Now(),
				FlowChart:   chart,
			}
			slog.InfoContext(ctx, "Saving flow definition", "name", name)
			if err := fm.DefinitionRepo.Save(def); err != nil {
				slog.Error("Failed to save flow definition", "name", name, "error", err)
			}
			continue
		}

		slog.InfoContext(ctx, "Updating flow definition", "name", name)
		def.Description = desc
		def.Updated = time.Now()
		def.FlowChart = chart
		if err := fm.DefinitionRepo.Save(def); err != nil {
			slog.Error("Failed to update flow definition", "name", name, "error", err)
		}
	}

}

func buildFlowChart(fm *FlowManager, name string) string {
	var sb strings.Builder

	errorClass := "fill:#FF6B6B,stroke:#C53030,stroke-width:2px,color:#fff,stroke-dasharray: 4 2,rx:10,ry:10;"
	doneClass := "fill:#4ECDC4,stroke:#1F9C8C,stroke-width:2px,color:#fff,stroke-dasharray: 4 2,rx:10,ry:10;"
	startClass := "fill:#5568FE,stroke:#3346FF,stroke-width:2px,color:#fff,stroke-dasharray: 4 2,rx:10,ry:10;"
	manualClass := "fill:#FFD93D,stroke:#E6C200,stroke-width:2px,color:#333,stroke-dasharray: 4 2,rx:10,ry:10;"
	normalClass := "fill:#F0F4F8,stroke:#B0C4DE,stroke-width:1px,color:#333,rx:10,ry:10;"

	flow, err := createFlow(fm, name)
	if err != nil {
		return fmt.Sprintf("flowchart TD\n    %s[Uninitialized]\n", name)
	}

	states := flow.GetAllStates()
	transitions := flow.StateTransitions()

	sb.WriteString("flowchart TD\n")

	// Build edges based on transitions (one-to-many)
	for from, tos := range transitions {
		for _, to := range tos {
			sb.WriteString(fmt.Sprintf("    %s --> %s\n", from, to))
		}
	}

	// classDefs
	sb.WriteString(fmt.Sprintf("    classDef errorClass %s\n", errorClass))
	sb.WriteString(fmt.Sprintf("    classDef doneClass %s\n", doneClass))
	sb.WriteString(fmt.Sprintf("    classDef startClass %s\n", startClass))
	sb.WriteString(fmt.Sprintf("    classDef manualClass %s\n", manualClass))
	sb.WriteString(fmt.Sprintf("    classDef normalClass %s\n", normalClass))

	// Assign classes based on state types
	for _, st := range states {
		switch st.StateType {
		case models.StateStart:
			sb.WriteString(fmt.Sprintf("    class %s startClass;\n", st.Name))
		case models.StateEnd:
			sb.WriteString(fmt.Sprintf("    class %s doneClass;\n", st.Name))
		case models.StateManual:
			sb.WriteString(fmt.Sprintf("    class %s manualClass;\n", st.Name))
		case models.StateError:
			sb.WriteString(fmt.Sprintf("    class %s errorClass;\n", st.Name))
		default:
			sb.WriteString(fmt.Sprintf("    class %s normalClass;\n", st.Name))
		}
	}

	return sb.String()
}

func registerRunnerInstance(ctx context.Context, fm *FlowManager) {
	name := config.GetSystemSettingString(config.RUNNER_NAME)
	if name == "" {
		hostname, err := os.Hostname()
		if err != nil {
			name = "modelci-engine"
		} else {
			name = hostname
		}
	}
	runner := &domain.Runner{Name: name, Started: time.Now(), LastActive: time.Now()}
	id, err := fm.runnerRepo.Save(runner)
	if err != nil {
		slog.Error("Failed to register runner", "error", err)
	} else {
		fm.runnerID = id
		slog.Info("Registered runner", "runner_id", id, "name", name)
		// Start heartbeat ticker to update last_active every 30s
		go func(runnerID int64) {
			hb := time.NewTicker(30 * time.Second)
			defer hb.Stop()
			for {
				select {
				case <-ctx.Done():
					slog.InfoContext(ctx, "Runner heartbeat stopping due to context cancel", "runner_id", runnerID)
					return
				case <-hb.C:
					if err := fm.runnerRepo.UpdateLastActive(runnerID, time.Now()); err != nil {
						slog.Error("Failed to update runner last_active", "runner_id", runnerID, "error", err)
					} else {
						slog.Debug("Updated runner last_active", "runner_id", runnerID)
					}
				}
			}
		}(id)
	}
}

// pollAndRunFlows queries the repository for due runs and queues them
func (fm *FlowManager) pollAndRunFlows(ctx context.Context) {

	slog.Debug("Polling for due runs")

	if len(runQueue) >= config.GetSystemSettingInteger(config.ENGINE_BATCH_SIZE) {
		slog.Warn("run queue full, skipping pollAndRunFlows, possibly stuck runs or long running runs")
		return
	}

	runs, err := fm.RunRepo.FindPendingRuns(
		config.GetSystemSettingInteger(config.ENGINE_BATCH_SIZE),
		config.GetSystemSettingString(config.ENGINE_RUNNER_GROUP),
	)
	if err != nil {
		slog.Error("Error fetching runs", "error", err)
		return
	}

	for _, run := range *runs {

		// first we mark the run as scheduled
		slog.InfoContext(ctx, "Marking run as scheduled for execution", "concurrency_key", run.ConcurrencyKey, "externalId", run.ExternalID)
		exclusiveLock := fm.RunRepo.MarkRunAsScheduledForExecution(run.ID, fm.runnerID, run.Modified)

		if !exclusiveLock {
			slog.InfoContext(ctx, "Unable to gain lock on run, possibly picked up by other runner", "concurrency_key", run.ConcurrencyKey, "externalId", run.ExternalID)
			_, _ = fm.RunActionRepo.Save(&domain.RunAction{RunID: run.ID, RunnerID: fm.runnerID, ExecutionCount: 1, Type: "LOCK_FAILED", Name: "LOCK_FAILED", Text: "Failed to acquire a lock on the run", DateTime: time.Now()})
			continue
		}
		_, _ = fm.RunActionRepo.Save(&domain.RunAction{RunID: run.ID, RunnerID: fm.runnerID, ExecutionCount: 1, Type: "SCHEDULED", Name: "SCHEDULED", Text: "Scheduled for Execution", DateTime: time.Now()})

		// create an instance of the flow based on the type
		instance, err := createFlow(fm, run.FlowType)
		if err != nil {
			slog.ErrorContext(ctx, "Unknown flow type for run", "flow_type", run.FlowType, "run_id", run.ID)
			continue
		}

		slog.InfoContext(ctx, "Add run to execution channel", "concurrency_key", run.ConcurrencyKey, "externalId", run.ExternalID)
		instance.Setup(&run)
		runQueue <- instance
		metrics.QueueDepth.Set(float64(len(runQueue)))
	}

}

func createFlow(fm *FlowManager, name string) (core.Flow, error) {
	factory, ok := (*fm.FlowRegistry)[name]
	if !ok {
		slog.Error("flow not found", "name", name)
		return nil, fmt.Errorf("flow not found: %s", name)
	}
	return factory(), nil
}

func CreateFlowInstance(fm *FlowManager, name string) (core.Flow, error) {
	return createFlow(fm, name)
}

func (fm *FlowManager) Wakeup() {
	slog.Info("Wakeup Manager called")
	select {
	case fm.wakeup <- struct{}{}:
	default:
	}
}
