package controllers

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/modelci/modelci/internal/engine"
	"github.com/modelci/modelci/internal/flows"
	"github.com/modelci/modelci/internal/pipeline"
	"github.com/modelci/modelci/pkg/modelci/domain"
	"github.com/modelci/modelci/pkg/modelci/models"
)

// EventsController turns forge events and manual dispatches into pipeline
// runs. Matching is done against the pipeline files on disk at event time, so
// a pushed pipeline change applies to the next event without a restart.
type EventsController struct {
	AuthController
	Loader      *pipeline.Loader
	PipelineDir string
	FlowManager *engine.FlowManager
}

func NewEventsController(loader *pipeline.Loader, pipelineDir string,
	flowManager *engine.FlowManager, userRepo engine.UserRepo) *EventsController {
	return &EventsController{
		Loader:      loader,
		PipelineDir: pipelineDir,
		FlowManager: flowManager,
		AuthController: AuthController{
			UserRepo: userRepo,
		},
	}
}

func (c *EventsController) handleEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req models.EventRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}
	if req.Kind == "" {
		http.Error(w, "kind is required", http.StatusBadRequest)
		return
	}

	defs, err := c.Loader.LoadDir(c.PipelineDir)
	if err != nil {
		slog.Error("Failed to load pipelines", "error", err)
		http.Error(w, "failed to load pipelines", http.StatusInternalServerError)
		return
	}

	ev := pipeline.Event{
		Kind:     pipeline.EventKind(req.Kind),
		Branch:   req.Branch,
		Action:   req.Action,
		Label:    req.Label,
		Pipeline: req.Pipeline,
		Inputs:   req.Inputs,
	}

	var resp models.EventResponse
	for _, p := range pipeline.MatchTriggers(defs, ev) {
		triggered, err := c.enqueueForPipeline(p, ev)
		if err != nil {
			slog.Error("Failed to enqueue run for event", "pipeline", p.Name, "error", err)
			http.Error(w, "failed to enqueue run", http.StatusInternalServerError)
			return
		}
		resp.Matched = append(resp.Matched, triggered)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}

func (c *EventsController) handleDispatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	name := r.PathValue("name")
	if name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}

	var req models.DispatchRequest
	if r.ContentLength > 0 {
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			http.Error(w, "invalid JSON payload", http.StatusBadRequest)
			return
		}
	}

	defs, err := c.Loader.LoadDir(c.PipelineDir)
	if err != nil {
		slog.Error("Failed to load pipelines", "error", err)
		http.Error(w, "failed to load pipelines", http.StatusInternalServerError)
		return
	}

	var target *pipeline.Pipeline
	for _, p := range defs {
		if p.Name == name {
			target = p
			break
		}
	}
	if target == nil {
		http.Error(w, "pipeline not found", http.StatusNotFound)
		return
	}

	ev := pipeline.Event{
		Kind:     pipeline.EventDispatch,
		Branch:   req.Branch,
		Pipeline: name,
		Inputs:   req.Inputs,
	}
	triggered, err := c.enqueueForPipeline(target, ev)
	if err != nil {
		slog.Error("Failed to dispatch pipeline", "pipeline", name, "error", err)
		http.Error(w, "failed to enqueue run", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(triggered)
}

func (c *EventsController) handleListPipelines(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	defs, err := c.Loader.LoadDir(c.PipelineDir)
	if err != nil {
		slog.Error("Failed to load pipelines", "error", err)
		http.Error(w, "failed to load pipelines", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(defs)
}

func (c *EventsController) enqueueForPipeline(p *pipeline.Pipeline, ev pipeline.Event) (models.TriggeredRun, error) {
	ev.RunID = uuid.NewString()
	group, cancel := pipeline.ResolveGroup(p, ev)

	vars := map[string]string{
		flows.VarPipeline: p.Name,
		flows.VarBranch:   ev.Branch,
		flows.VarEvent:    string(ev.Kind),
	}
	if ev.Label != "" {
		vars[flows.VarLabel] = ev.Label
	}
	if cancel {
		vars[flows.VarCancelInProgress] = "true"
	}
	for k, v := range ev.Inputs {
		vars["input_"+k] = v
	}
	data, err := json.Marshal(vars)
	if err != nil {
		return models.TriggeredRun{}, err
	}

	run := &domain.Run{
		FlowType:       flows.FlowTypePipeline,
		ExternalID:     ev.RunID,
		ConcurrencyKey: group,
		StateVars:      sql.NullString{String: string(data), Valid: true},
	}
	id, err := c.FlowManager.EnqueueRun(run)
	if err != nil {
		return models.TriggeredRun{}, err
	}
	return models.TriggeredRun{Pipeline: p.Name, RunID: id, ExternalID: ev.RunID}, nil
}
