package controllers

import "net/http"

// RegisterRoutes wires the HTTP routes for this controller.
func (c *RunsController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/runs/{id}", c.RequireAuth(c.handleGetRunById))
	mux.HandleFunc("GET /api/runs/external/{externalId}", c.RequireAuth(c.handleGetRunByExternalId))
	mux.HandleFunc("POST /api/runs", c.RequireAuth(c.handleCreateRun))
	mux.HandleFunc("POST /api/runs/search", c.RequireAuth(c.handleSearchRuns))
	mux.HandleFunc("POST /api/runs/{id}/cancel", c.RequireAuth(c.handleCancelRun))
	mux.HandleFunc("GET /api/runs/{id}/actions", c.RequireAuth(c.handleGetActionsForRun))
	mux.HandleFunc("GET /api/definitions", c.RequireAuth(c.handleListFlowDefinitions))
	mux.HandleFunc("GET /api/definitions/{name}", c.RequireAuth(c.handleGetFlowDefinitionByName))
}

func (c *EventsController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/events", c.RequireAuth(c.handleEvent))
	mux.HandleFunc("GET /api/pipelines", c.RequireAuth(c.handleListPipelines))
	mux.HandleFunc("POST /api/pipelines/{name}/dispatch", c.RequireAuth(c.handleDispatch))
}

func (c *RunnersController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/runners", c.RequireAuth(c.handleGetRunners))
}

func (c *UsersController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/users", c.RequireAuth(c.handleGetUsers))
	mux.HandleFunc("POST /api/users", c.RequireAuth(c.handleCreateUser))
	mux.HandleFunc("GET /api/users/{id}", c.RequireAuth(c.handleGetUserById))
	mux.HandleFunc("DELETE /api/users/{id}", c.RequireAuth(c.handleDeleteUser))
}
