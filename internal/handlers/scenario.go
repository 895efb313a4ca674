package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"medsim-backend/internal/repository"
)

type ScenarioHandler struct {
	repo *repository.ScenarioRepo
}

func NewScenarioHandler(repo *repository.ScenarioRepo) *ScenarioHandler {
	return &ScenarioHandler{repo: repo}
}

func (h *ScenarioHandler) List(w http.ResponseWriter, r *http.Request) {
	scenarios, err := h.repo.ListActive(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to list scenarios", r))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"scenarios": scenarios})
}

func (h *ScenarioHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid scenario ID", r))
		return
	}

	scenario, err := h.repo.GetActiveScenario(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to load scenario", r))
		return
	}
	if scenario == nil {
		writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Scenario not found", r))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"scenario": scenario})
}
