package results

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"mocktest-backend/internal/models"
	"mocktest-backend/internal/storage"
)

func newResultServer(t *testing.T, status int, calls *int32, last *models.QuizResultRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != submitPath {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q", got)
		}
		atomic.AddInt32(calls, 1)
		if last != nil {
			json.NewDecoder(r.Body).Decode(last)
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSubmitIsIdempotent(t *testing.T) {
	var calls int32
	var got models.QuizResultRequest
	srv := newResultServer(t, http.StatusCreated, &calls, &got)

	store := storage.NewMemoryStore()
	c := NewClient(nil, Options{BaseURL: srv.URL}).With(store, "tok")
	ctx := context.Background()

	req := models.QuizResultRequest{
		CourseID:   "course",
		SectionID:  "practice1",
		UserID:     "user-1",
		TemplateID: "quiz",
		Status:     models.ResultStatusProcessing,
		QuizData:   NewQuizData(nil, 1),
	}
	if err := c.Submit(ctx, "sess", "u1", req); err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	if err := c.Submit(ctx, "sess", "u1", req); err != nil {
		t.Fatalf("second Submit: %v", err)
	}

	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("backend called %d times; want 1", calls)
	}
	if got.TestSessionID != "sess" || got.UnitID != "u1" || got.Status != "processing" {
		t.Fatalf("unexpected request body: %+v", got)
	}
	if ok, _ := c.Submitted(ctx, "sess", "u1"); !ok {
		t.Fatal("marker not set after success")
	}

	// Another unit of the same session is still submitted.
	c.Submit(ctx, "sess", "u2", req)
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("backend called %d times; want 2", calls)
	}
}

func TestSubmitFailureLeavesMarkerUnset(t *testing.T) {
	var calls int32
	srv := newResultServer(t, http.StatusInternalServerError, &calls, nil)

	store := storage.NewMemoryStore()
	c := NewClient(nil, Options{BaseURL: srv.URL}).With(store, "tok")
	ctx := context.Background()

	err := c.Submit(ctx, "sess", "u1", models.QuizResultRequest{})
	var perr *PersistenceError
	if !errors.As(err, &perr) || perr.StatusCode != http.StatusInternalServerError {
		t.Fatalf("err = %v; want PersistenceError with 500", err)
	}
	if ok, _ := c.Submitted(ctx, "sess", "u1"); ok {
		t.Fatal("marker set after failed submission")
	}

	c.Submit(ctx, "sess", "u1", models.QuizResultRequest{})
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("retry did not reach backend: %d calls", calls)
	}
}

func TestSubmitUnreachable(t *testing.T) {
	c := NewClient(storage.NewMemoryStore(), Options{BaseURL: "http://127.0.0.1:1"})
	err := c.Submit(context.Background(), "sess", "u1", models.QuizResultRequest{})
	var perr *PersistenceError
	if !errors.As(err, &perr) {
		t.Fatalf("err = %v; want PersistenceError", err)
	}
}

func TestNewQuizData(t *testing.T) {
	answers := []models.QuizAnswer{
		{QuestionID: "q1", UserAnswer: json.RawMessage(`"A"`), IsCorrect: true},
		{QuestionID: "q2", UserAnswer: json.RawMessage(`"C"`), IsCorrect: false},
		{QuestionID: "q3", UserAnswer: json.RawMessage(`null`)},
	}
	d := NewQuizData(answers, 4)
	if d.CorrectCount != 1 || d.AnsweredCount != 2 || d.TotalQuestions != 4 || d.Score != 25 {
		t.Fatalf("quiz data = %+v", d)
	}

	if d := NewQuizData(answers, 1); d.TotalQuestions != 3 {
		t.Fatalf("total below answer count: %d", d.TotalQuestions)
	}
	if d := NewQuizData(nil, 0); d.Answers == nil || d.Score != 0 {
		t.Fatalf("empty quiz data = %+v", d)
	}
}

func TestSessionTotalsGroupsRecords(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != summaryPath {
			t.Errorf("path = %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("user_id") != "user-1" || q.Get("test_session_id") != "sess" || q.Get("section_id") != "practice1" {
			t.Errorf("query = %v", q)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"results": []models.QuizResult{
				{TestSessionID: "sess", UnitID: "u1", CorrectAnswers: 2, AnsweredQuestions: 3},
				{TestSessionID: "sess", UnitID: "u2", CorrectAnswers: 1, AnsweredQuestions: 1},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(storage.NewMemoryStore(), Options{BaseURL: srv.URL})
	totals, err := c.SessionTotals(context.Background(), "user-1", "sess", "practice1")
	if err != nil {
		t.Fatalf("SessionTotals: %v", err)
	}
	if totals.CorrectAnswers != 3 || totals.AnsweredQuestions != 4 || totals.Submissions != 2 {
		t.Fatalf("totals = %+v", totals)
	}
}

func TestGroupBySession(t *testing.T) {
	groups := GroupBySession([]models.QuizResult{
		{TestSessionID: "b", CorrectAnswers: 1, AnsweredQuestions: 2},
		{TestSessionID: "a", CorrectAnswers: 3, AnsweredQuestions: 3},
		{TestSessionID: "b", CorrectAnswers: 4, AnsweredQuestions: 4},
	})
	if len(groups) != 2 || groups[0].TestSessionID != "a" || groups[1].CorrectAnswers != 5 || groups[1].AnsweredQuestions != 6 {
		t.Fatalf("groups = %+v", groups)
	}
}
