package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"mocktest-backend/internal/middleware"
	"mocktest-backend/internal/navigation"
	"mocktest-backend/internal/services"
)

type testRunner interface {
	Start(ctx context.Context, userID uuid.UUID, req services.StartTestRequest) (services.TestState, error)
	Advance(ctx context.Context, userID uuid.UUID, sequenceID, unitID string, trigger navigation.Trigger) (navigation.Outcome, error)
	Resume(ctx context.Context, userID uuid.UUID, sequenceID string) (navigation.Outcome, error)
	Acknowledge(ctx context.Context, userID uuid.UUID, sequenceID string) error
	Abandon(ctx context.Context, userID uuid.UUID, sequenceID string) error
	State(ctx context.Context, userID uuid.UUID, sequenceID string) (services.TestState, error)
}

// TestSessionHandler is the host page's view of a running test.
type TestSessionHandler struct {
	runner testRunner
}

func NewTestSessionHandler(runner testRunner) *TestSessionHandler {
	return &TestSessionHandler{runner: runner}
}

func (h *TestSessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req services.StartTestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	state, err := h.runner.Start(r.Context(), middleware.GetUserID(r.Context()), req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

type advanceRequest struct {
	UnitID  string             `json:"unit_id"`
	Trigger navigation.Trigger `json:"trigger"`
}

func (h *TestSessionHandler) Advance(w http.ResponseWriter, r *http.Request) {
	sequenceID, ok := sequenceParam(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid sequence ID", r))
		return
	}
	var req advanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UnitID == "" {
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed",
			map[string]string{"unit_id": "Required"}, r))
		return
	}

	out, err := h.runner.Advance(r.Context(), middleware.GetUserID(r.Context()), sequenceID, req.UnitID, req.Trigger)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *TestSessionHandler) Resume(w http.ResponseWriter, r *http.Request) {
	sequenceID, ok := sequenceParam(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid sequence ID", r))
		return
	}

	out, err := h.runner.Resume(r.Context(), middleware.GetUserID(r.Context()), sequenceID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *TestSessionHandler) Acknowledge(w http.ResponseWriter, r *http.Request) {
	sequenceID, ok := sequenceParam(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid sequence ID", r))
		return
	}

	if err := h.runner.Acknowledge(r.Context(), middleware.GetUserID(r.Context()), sequenceID); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Test closed"})
}

func (h *TestSessionHandler) Abandon(w http.ResponseWriter, r *http.Request) {
	sequenceID, ok := sequenceParam(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid sequence ID", r))
		return
	}

	if err := h.runner.Abandon(r.Context(), middleware.GetUserID(r.Context()), sequenceID); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Test abandoned"})
}

func (h *TestSessionHandler) State(w http.ResponseWriter, r *http.Request) {
	sequenceID, ok := sequenceParam(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid sequence ID", r))
		return
	}

	state, err := h.runner.State(r.Context(), middleware.GetUserID(r.Context()), sequenceID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}
