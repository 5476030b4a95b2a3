package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"mocktest-backend/internal/middleware"
	"mocktest-backend/internal/models"
)

type stubResultRepo struct {
	stored  map[string]*models.QuizResult
	listErr error
	list    []*models.QuizResult
	lastArg struct {
		user              uuid.UUID
		session, section string
	}
}

func newStubResultRepo() *stubResultRepo {
	return &stubResultRepo{stored: map[string]*models.QuizResult{}}
}

func (s *stubResultRepo) Insert(ctx context.Context, res *models.QuizResult, data models.QuizData) (bool, error) {
	key := res.TestSessionID + "|" + res.UnitID
	if _, ok := s.stored[key]; ok {
		return false, nil
	}
	res.ID = uuid.New()
	s.stored[key] = res
	return true, nil
}

func (s *stubResultRepo) ListForSummary(ctx context.Context, userID uuid.UUID, sessionID, sectionID string) ([]*models.QuizResult, error) {
	s.lastArg.user, s.lastArg.session, s.lastArg.section = userID, sessionID, sectionID
	return s.list, s.listErr
}

func withUser(req *http.Request, userID uuid.UUID) *http.Request {
	return req.WithContext(context.WithValue(req.Context(), middleware.UserIDKey, userID))
}

func resultBody(userID uuid.UUID, mutate func(*models.QuizResultRequest)) []byte {
	req := models.QuizResultRequest{
		SectionID:     "mock1",
		UnitID:        "u1",
		CourseID:      "course",
		UserID:        userID.String(),
		TemplateID:    "quiz",
		TestSessionID: "sess",
		Status:        models.ResultStatusProcessing,
		QuizData:      models.QuizData{CorrectCount: 2, AnsweredCount: 3, TotalQuestions: 4, Score: 50},
	}
	if mutate != nil {
		mutate(&req)
	}
	b, _ := json.Marshal(req)
	return b
}

func TestQuizResultHandler_SubmitIsIdempotent(t *testing.T) {
	userID := uuid.New()
	repo := newStubResultRepo()
	h := NewQuizResultHandler(repo)

	codes := []int{}
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/quiz-results", bytes.NewReader(resultBody(userID, nil)))
		rr := httptest.NewRecorder()
		h.Submit(rr, withUser(req, userID))
		codes = append(codes, rr.Code)
	}

	if codes[0] != http.StatusCreated || codes[1] != http.StatusOK {
		t.Fatalf("expected 201 then 200, got %v", codes)
	}
	if len(repo.stored) != 1 {
		t.Fatalf("expected one stored result, got %d", len(repo.stored))
	}
	got := repo.stored["sess|u1"]
	if got.CorrectAnswers != 2 || got.AnsweredQuestions != 3 || got.TotalQuestions != 4 || got.UserID != userID {
		t.Fatalf("unexpected stored result %+v", got)
	}
}

func TestQuizResultHandler_SubmitValidation(t *testing.T) {
	userID := uuid.New()

	tests := []struct {
		name   string
		mutate func(*models.QuizResultRequest)
		status int
		field  string
	}{
		{"bad status", func(r *models.QuizResultRequest) { r.Status = "done" }, http.StatusBadRequest, "status"},
		{"missing session", func(r *models.QuizResultRequest) { r.TestSessionID = "" }, http.StatusBadRequest, "test_session_id"},
		{"negative count", func(r *models.QuizResultRequest) { r.QuizData.CorrectCount = -1 }, http.StatusBadRequest, "quiz_data"},
		{"answered over total", func(r *models.QuizResultRequest) { r.QuizData.AnsweredCount = 9 }, http.StatusBadRequest, "quiz_data"},
		{"other user", func(r *models.QuizResultRequest) { r.UserID = uuid.NewString() }, http.StatusForbidden, ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			repo := newStubResultRepo()
			h := NewQuizResultHandler(repo)
			req := httptest.NewRequest(http.MethodPost, "/api/v1/quiz-results", bytes.NewReader(resultBody(userID, tc.mutate)))
			rr := httptest.NewRecorder()
			h.Submit(rr, withUser(req, userID))

			if rr.Code != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, rr.Code)
			}
			if len(repo.stored) != 0 {
				t.Fatal("invalid result was stored")
			}
			if tc.field != "" {
				var resp models.ErrorResponse
				json.NewDecoder(rr.Body).Decode(&resp)
				if _, ok := resp.Error.Fields[tc.field]; !ok {
					t.Fatalf("expected field error for %s, got %+v", tc.field, resp.Error.Fields)
				}
			}
		})
	}
}

func TestQuizResultHandler_Summary(t *testing.T) {
	userID := uuid.New()
	repo := newStubResultRepo()
	repo.list = []*models.QuizResult{
		{TestSessionID: "a", CorrectAnswers: 2, AnsweredQuestions: 3},
		{TestSessionID: "a", CorrectAnswers: 1, AnsweredQuestions: 1},
		{TestSessionID: "b", CorrectAnswers: 4, AnsweredQuestions: 4},
	}
	h := NewQuizResultHandler(repo)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/quiz-results/summary?section_id=mock1&test_session_id=a&user_id="+userID.String(), nil)
	rr := httptest.NewRecorder()
	h.Summary(rr, withUser(req, userID))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if repo.lastArg.user != userID || repo.lastArg.session != "a" || repo.lastArg.section != "mock1" {
		t.Fatalf("unexpected query args %+v", repo.lastArg)
	}

	var payload struct {
		Results  []models.QuizResult    `json:"results"`
		Sessions []models.SessionTotals `json:"sessions"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(payload.Results) != 3 || len(payload.Sessions) != 2 {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if a := payload.Sessions[0]; a.TestSessionID != "a" || a.CorrectAnswers != 3 || a.AnsweredQuestions != 4 {
		t.Fatalf("unexpected totals for a: %+v", a)
	}
}

func TestQuizResultHandler_SummaryErrors(t *testing.T) {
	userID := uuid.New()
	tests := []struct {
		name   string
		query  string
		err    error
		status int
	}{
		{"missing section", "", nil, http.StatusBadRequest},
		{"other user", "section_id=s&user_id=" + uuid.NewString(), nil, http.StatusForbidden},
		{"repo failure", "section_id=s", errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			repo := newStubResultRepo()
			repo.listErr = tc.err
			h := NewQuizResultHandler(repo)
			req := httptest.NewRequest(http.MethodGet, "/api/v1/quiz-results/summary?"+tc.query, nil)
			rr := httptest.NewRecorder()
			h.Summary(rr, withUser(req, userID))
			if rr.Code != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, rr.Code)
			}
		})
	}
}
