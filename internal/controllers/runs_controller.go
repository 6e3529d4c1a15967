package controllers

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/modelci/modelci/internal/engine"
	"github.com/modelci/modelci/pkg/modelci/core"
	"github.com/modelci/modelci/pkg/modelci/domain"
	"github.com/modelci/modelci/pkg/modelci/models"

	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// RunsController holds dependencies for run HTTP endpoints.
type RunsController struct {
	AuthController
	RunRepo       engine.RunRepo
	RunActionRepo engine.RunActionRepo
	FlowManager   *engine.FlowManager
}

func NewRunsController(runRepo engine.RunRepo, runActionRepo engine.RunActionRepo,
	flowManager *engine.FlowManager, userRepo engine.UserRepo) *RunsController {
	return &RunsController{RunRepo: runRepo, RunActionRepo: runActionRepo, FlowManager: flowManager, AuthController: AuthController{
		UserRepo: userRepo,
	}}
}

func (c *RunsController) handleGetRunById(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	idStr := r.PathValue("id")
	if idStr == "" {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}

	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		http.Error(w, "id is an integer", http.StatusBadRequest)
		return
	}

	result, err := c.RunRepo.FindByID(id)
	if err != nil || result == nil {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(mapRunToApiRun(result, id))
}

func (c *RunsController) handleGetRunByExternalId(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	externalId := r.PathValue("externalId")
	if externalId == "" {
		http.Error(w, "externalId is required", http.StatusBadRequest)
		return
	}

	result, err := c.RunRepo.FindByExternalId(externalId)
	if err != nil || result == nil {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(mapRunToApiRun(result, result.ID))
}

func (c *RunsController) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req models.CreateRunRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}

	if err := validateCreateRun(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	id, err := createRun(r.Context(), c, req)
	if err != nil {
		slog.Error("Failed to save run", "error", err)
		http.Error(w, "failed to create run", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(models.CreateRunResponse{ID: id})
}

func validateCreateRun(req models.CreateRunRequest) error {
	if req.ExternalID == "" || req.FlowType == "" {
		return errors.New("externalId and flowType are required")
	}
	return nil
}

func createRun(ctx context.Context, c *RunsController, req models.CreateRunRequest) (int64, error) {
	slog.InfoContext(ctx, "Creating run", "externalId", req.ExternalID, "concurrencyKey", req.ConcurrencyKey, "flowType", req.FlowType)

	//add the username of the creating user to the run statevars
	if userName := ctx.Value(core.CtxKeyUsername); userName != nil {
		if s, ok := userName.(string); ok && s != "" {
			if req.StateVars == nil {
				req.StateVars = make(map[string]string)
			}
			req.StateVars["createdBy"] = s
		}
	}

	// validate the flow type against the registry
	if _, err := engine.CreateFlowInstance(c.FlowManager, req.FlowType); err != nil {
		return 0, err
	}

	//if the external id is a duplicate, we return the existing run
	existing, _ := c.RunRepo.FindByExternalId(req.ExternalID)
	if existing != nil {
		slog.WarnContext(ctx, "Run already exists", "externalId", req.ExternalID)
		return existing.ID, nil
	}

	var stateVarsJSON string
	if req.StateVars != nil {
		b, err := json.Marshal(req.StateVars)
		if err != nil {
			return 0, err
		}
		stateVarsJSON = string(b)
	}

	run := &domain.Run{
		RunnerGroup:    req.RunnerGroup,
		FlowType:       req.FlowType,
		ExternalID:     req.ExternalID,
		ConcurrencyKey: req.ConcurrencyKey,
	}
	if req.NextActivation != nil {
		run.NextActivation = sql.NullTime{Time: *req.NextActivation, Valid: true}
	}
	if stateVarsJSON != "" {
		run.StateVars = sql.NullString{String: stateVarsJSON, Valid: true}
	}
	return c.FlowManager.EnqueueRun(run)
}

func (c *RunsController) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	idStr := r.PathValue("id")
	var run *domain.Run
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err == nil {
		run, _ = c.RunRepo.FindByID(id)
	}
	// If not found by numeric ID, try as external ID
	if run == nil {
		run, _ = c.RunRepo.FindByExternalId(idStr)
	}
	if run == nil {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}

	reason := "Cancelled via API"
	if userName := r.Context().Value(core.CtxKeyUsername); userName != nil {
		if s, ok := userName.(string); ok && s != "" {
			reason = "Cancelled by " + s
		}
	}
	if !c.FlowManager.CancelRun(run.ID, reason) {
		http.Error(w, "run is already finished", http.StatusConflict)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"ok": true})
}

func (c *RunsController) handleGetActionsForRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	idStr := r.PathValue("id")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	results, err := c.RunActionRepo.FindAllByRunID(id)
	if err != nil {
		slog.Error("Failed to load run actions", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(results)
}

func (c *RunsController) handleSearchRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req models.SearchRunRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		slog.Error("Failed to decode request", "error", err)
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}

	//max of 1000 results is allowed
	if req.Limit > 1000 {
		http.Error(w, "limit cannot be greater than 1000", http.StatusBadRequest)
		return
	}

	results, err := c.RunRepo.SearchRuns(req)
	if err != nil {
		slog.Error("Failed to search runs", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if results != nil {
		searchResponse := models.SearchRunResponse{
			Results: len(*results),
			Offset:  req.Offset,
			Runs:    *results,
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(searchResponse)
	}
}

// handleListFlowDefinitions returns a list of all registered flow definitions
func (c *RunsController) handleListFlowDefinitions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	defs, err := c.FlowManager.ListFlowDefinitions()
	if err != nil {
		slog.Error("Failed to list flow definitions", "error", err)
		http.Error(w, "Failed to load definitions", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(defs)
}

func (c *RunsController) handleGetFlowDefinitionByName(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	name := r.PathValue("name")
	if name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}

	def, err := c.FlowManager.GetFlowDefinitionByName(name)
	if err != nil {
		slog.Error("Failed to get flow definition", "name", name, "error", err)
		http.Error(w, "Definition not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(def)
}

func mapRunToApiRun(result *domain.Run, id int64) models.RunApiResponse {
	stateVars := make(map[string]string)
	if result.StateVars.Valid && len(result.StateVars.String) > 0 {
		if err := json.Unmarshal([]byte(result.StateVars.String), &stateVars); err != nil {
			slog.Warn("Failed to parse state vars", "id", id, "error", err)
		}
	}
	return models.RunApiResponse{
		ID:             result.ID,
		Status:         result.Status,
		ExecutionCount: result.ExecutionCount,
		RetryCount:     result.RetryCount,
		Created:        result.Created,
		Modified:       result.Modified,
		NextActivation: func() time.Time {
			if result.NextActivation.Valid {
				return result.NextActivation.Time
			}
			return time.Time{}
		}(),
		Started: func() time.Time {
			if result.Started.Valid {
				return result.Started.Time
			}
			return time.Time{}
		}(),
		RunnerID: func() string {
			if result.RunnerID.Valid {
				return result.RunnerID.String
			}
			return ""
		}(),
		RunnerGroup:    result.RunnerGroup,
		FlowType:       result.FlowType,
		ExternalID:     result.ExternalID,
		ConcurrencyKey: result.ConcurrencyKey,
		State:          result.State,
		StateVars:      stateVars,
	}
}
