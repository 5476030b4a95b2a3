package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/google/uuid"

	"mocktest-backend/internal/middleware"
	"mocktest-backend/internal/models"
	"mocktest-backend/internal/results"
)

type quizResultStore interface {
	Insert(ctx context.Context, res *models.QuizResult, data models.QuizData) (bool, error)
	ListForSummary(ctx context.Context, userID uuid.UUID, sessionID, sectionID string) ([]*models.QuizResult, error)
}

// QuizResultHandler is the results API the engine persists unit results to.
type QuizResultHandler struct {
	repo quizResultStore
}

func NewQuizResultHandler(repo quizResultStore) *QuizResultHandler {
	return &QuizResultHandler{repo: repo}
}

func validateResultRequest(req *models.QuizResultRequest) map[string]string {
	fields := map[string]string{}
	required := map[string]string{
		"section_id":      req.SectionID,
		"unit_id":         req.UnitID,
		"course_id":       req.CourseID,
		"user_id":         req.UserID,
		"test_session_id": req.TestSessionID,
	}
	for name, v := range required {
		if v == "" {
			fields[name] = "Required"
		}
	}
	if req.Status != models.ResultStatusProcessing && req.Status != models.ResultStatusCompleted {
		fields["status"] = "Must be processing or completed"
	}
	d := req.QuizData
	if d.CorrectCount < 0 || d.AnsweredCount < 0 || d.TotalQuestions < 0 {
		fields["quiz_data"] = "Counts cannot be negative"
	} else if d.CorrectCount > d.TotalQuestions || d.AnsweredCount > d.TotalQuestions {
		fields["quiz_data"] = "Counts cannot exceed the question total"
	}
	return fields
}

// Submit stores one unit result. A second submission for the same
// (test_session_id, unit_id) is acknowledged without being stored again.
func (h *QuizResultHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req models.QuizResultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	if fields := validateResultRequest(&req); len(fields) > 0 {
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed", fields, r))
		return
	}

	userID := middleware.GetUserID(r.Context())
	if req.UserID != userID.String() {
		writeJSON(w, http.StatusForbidden, errorResp("FORBIDDEN", "Results can only be saved for yourself", r))
		return
	}

	res := &models.QuizResult{
		UserID:            userID,
		TestSessionID:     req.TestSessionID,
		CourseID:          req.CourseID,
		SectionID:         req.SectionID,
		UnitID:            req.UnitID,
		TemplateID:        req.TemplateID,
		Status:            req.Status,
		CorrectAnswers:    req.QuizData.CorrectCount,
		AnsweredQuestions: req.QuizData.AnsweredCount,
		TotalQuestions:    req.QuizData.TotalQuestions,
		Score:             req.QuizData.Score,
	}

	inserted, err := h.repo.Insert(r.Context(), res, req.QuizData)
	if err != nil {
		log.Printf("quiz results: insert %s/%s: %v", req.TestSessionID, req.UnitID, err)
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to save result", r))
		return
	}
	if !inserted {
		writeJSON(w, http.StatusOK, map[string]interface{}{"duplicate": true})
		return
	}

	writeJSON(w, http.StatusCreated, res)
}

// Summary is the summary read contract: the caller's results in a section,
// optionally limited to one test session, with per-session totals.
func (h *QuizResultHandler) Summary(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	q := r.URL.Query()

	if requested := q.Get("user_id"); requested != "" && requested != userID.String() {
		writeJSON(w, http.StatusForbidden, errorResp("FORBIDDEN", "Results can only be read for yourself", r))
		return
	}
	sectionID := q.Get("section_id")
	if sectionID == "" {
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed",
			map[string]string{"section_id": "Required"}, r))
		return
	}

	records, err := h.repo.ListForSummary(r.Context(), userID, q.Get("test_session_id"), sectionID)
	if err != nil {
		log.Printf("quiz results: summary for %s: %v", userID, err)
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to load results", r))
		return
	}

	flat := make([]models.QuizResult, 0, len(records))
	for _, rec := range records {
		flat = append(flat, *rec)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"results":  flat,
		"sessions": results.GroupBySession(flat),
	})
}
