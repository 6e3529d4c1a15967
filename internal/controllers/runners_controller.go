package controllers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/modelci/modelci/internal/engine"
)

type RunnersController struct {
	AuthController
	RunnersRepo engine.RunnerRepo
}

func NewRunnersController(runnersRepo engine.RunnerRepo, userRepo engine.UserRepo) *RunnersController {
	return &RunnersController{
		RunnersRepo: runnersRepo,
		AuthController: AuthController{
			UserRepo: userRepo,
		},
	}
}

func (c *RunnersController) handleGetRunners(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	results, err := c.RunnersRepo.GetRunnersByLastActive(20)
	if err != nil {
		slog.Error("Failed to list runners", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if results != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(results)
	}
}
