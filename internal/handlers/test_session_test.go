package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"mocktest-backend/internal/navigation"
	"mocktest-backend/internal/services"
)

type stubRunner struct {
	err         error
	lastSeq     string
	lastUnit    string
	lastTrigger navigation.Trigger
	lastUser    uuid.UUID
	outcome     navigation.Outcome
}

func (s *stubRunner) Start(ctx context.Context, userID uuid.UUID, req services.StartTestRequest) (services.TestState, error) {
	s.lastUser, s.lastSeq = userID, req.Sequence.ID
	return services.TestState{SequenceID: req.Sequence.ID}, s.err
}

func (s *stubRunner) Advance(ctx context.Context, userID uuid.UUID, sequenceID, unitID string, trigger navigation.Trigger) (navigation.Outcome, error) {
	s.lastUser, s.lastSeq, s.lastUnit, s.lastTrigger = userID, sequenceID, unitID, trigger
	return s.outcome, s.err
}

func (s *stubRunner) Resume(ctx context.Context, userID uuid.UUID, sequenceID string) (navigation.Outcome, error) {
	s.lastSeq = sequenceID
	return s.outcome, s.err
}

func (s *stubRunner) Acknowledge(ctx context.Context, userID uuid.UUID, sequenceID string) error {
	s.lastSeq = sequenceID
	return s.err
}

func (s *stubRunner) Abandon(ctx context.Context, userID uuid.UUID, sequenceID string) error {
	s.lastSeq = sequenceID
	return s.err
}

func (s *stubRunner) State(ctx context.Context, userID uuid.UUID, sequenceID string) (services.TestState, error) {
	s.lastSeq = sequenceID
	return services.TestState{SequenceID: sequenceID}, s.err
}

func withSequence(req *http.Request, sequenceID string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("sequenceID", url.PathEscape(sequenceID))
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestTestSessionHandler_Advance(t *testing.T) {
	userID := uuid.New()
	seq := "block-v1:Org+Mock+2026+type@sequential+block@mock1"
	runner := &stubRunner{outcome: navigation.Outcome{State: navigation.ModuleTransition, UnitID: "u24"}}
	h := NewTestSessionHandler(runner)

	body, _ := json.Marshal(map[string]string{"unit_id": "u24", "trigger": "expiry"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/tests/x/advance", bytes.NewReader(body))
	req = withSequence(withUser(req, userID), seq)
	rr := httptest.NewRecorder()
	h.Advance(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if runner.lastSeq != seq || runner.lastUnit != "u24" || runner.lastTrigger != navigation.TriggerExpiry || runner.lastUser != userID {
		t.Fatalf("unexpected runner args %+v", runner)
	}

	var out navigation.Outcome
	json.NewDecoder(rr.Body).Decode(&out)
	if out.State != navigation.ModuleTransition {
		t.Fatalf("unexpected outcome %+v", out)
	}
}

func TestTestSessionHandler_AdvanceRequiresUnit(t *testing.T) {
	runner := &stubRunner{}
	h := NewTestSessionHandler(runner)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/tests/x/advance", bytes.NewReader([]byte(`{}`)))
	req = withSequence(withUser(req, uuid.New()), "seq")
	rr := httptest.NewRecorder()
	h.Advance(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	if runner.lastSeq != "" {
		t.Fatal("runner should not be called")
	}
}

func TestTestSessionHandler_ServiceErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not started", &services.NotFoundError{Message: "Test not started"}, http.StatusNotFound, "NOT_FOUND"},
		{"wrong state", &services.ConflictError{Message: "no"}, http.StatusConflict, "CONFLICT"},
		{"no answers", &services.UnavailableError{Message: "retry"}, http.StatusGatewayTimeout, "ANSWERS_UNAVAILABLE"},
		{"validation", &services.ValidationError{Fields: map[string]string{"trigger": "bad"}}, http.StatusBadRequest, "VALIDATION_ERROR"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := NewTestSessionHandler(&stubRunner{err: tc.err})
			req := httptest.NewRequest(http.MethodPost, "/api/v1/tests/seq/resume", nil)
			req.Header.Set("X-Request-ID", "req-1")
			req = withSequence(withUser(req, uuid.New()), "seq")
			rr := httptest.NewRecorder()
			h.Resume(rr, req)

			if rr.Code != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, rr.Code)
			}
			var resp struct {
				Error struct {
					Code      string `json:"code"`
					RequestID string `json:"request_id"`
				} `json:"error"`
			}
			json.NewDecoder(rr.Body).Decode(&resp)
			if resp.Error.Code != tc.code || resp.Error.RequestID != "req-1" {
				t.Fatalf("unexpected error envelope %+v", resp)
			}
		})
	}
}

func TestTestSessionHandler_Start(t *testing.T) {
	userID := uuid.New()
	runner := &stubRunner{}
	h := NewTestSessionHandler(runner)

	body := []byte(`{"sequence":{"course_id":"c","sequence_id":"s1","units":[{"id":"u1","title":"1.1"}]}}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/tests/start", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	h.Start(rr, withUser(req, userID))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if runner.lastSeq != "s1" || runner.lastUser != userID {
		t.Fatalf("unexpected runner args %+v", runner)
	}
}
