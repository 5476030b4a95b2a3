// Package results submits per-unit quiz results to the backend at most once
// per (session, unit) and reads them back for the session summary.
package results

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"mocktest-backend/internal/models"
	"mocktest-backend/internal/storage"
)

const submitPath = "/api/v1/quiz-results"

// PersistenceError is returned when the backend rejects or never receives a
// submission. The idempotency marker is left unset so the unit can be retried.
type PersistenceError struct {
	StatusCode int
	Err        error
}

func (e *PersistenceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("results: submission failed with status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("results: submission failed: %v", e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Options configures a Client.
type Options struct {
	// BaseURL of the results API, e.g. "http://localhost:8080".
	BaseURL string
	// Timeout per request; defaults to 15 seconds.
	Timeout time.Duration
	// MaxRPS limits submissions per second (0 = unlimited).
	MaxRPS float64
	// HTTPClient overrides the default client.
	HTTPClient *http.Client
}

type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	store   storage.Store
	token   string
}

// NewClient creates a client whose idempotency markers live in store.
func NewClient(store storage.Store, opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	c := &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		http:    hc,
		store:   store,
	}
	if opts.MaxRPS > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.MaxRPS), 1)
	}
	return c
}

// With returns a copy of the client that keeps its markers in store and
// authenticates with token.
func (c *Client) With(store storage.Store, token string) *Client {
	cp := *c
	cp.store = store
	cp.token = token
	return &cp
}

// Submitted reports whether a submission for (sessionID, unitID) already succeeded.
func (c *Client) Submitted(ctx context.Context, sessionID, unitID string) (bool, error) {
	_, ok, err := c.store.Get(ctx, storage.ResultMarkerKey(sessionID, unitID))
	return ok, err
}

// Submit sends one result record unless one was already persisted for
// (sessionID, unitID), in which case it is a no-op success.
func (c *Client) Submit(ctx context.Context, sessionID, unitID string, req models.QuizResultRequest) error {
	done, err := c.Submitted(ctx, sessionID, unitID)
	if err != nil {
		return &PersistenceError{Err: fmt.Errorf("check marker: %w", err)}
	}
	if done {
		return nil
	}

	req.TestSessionID = sessionID
	req.UnitID = unitID
	body, err := json.Marshal(req)
	if err != nil {
		return &PersistenceError{Err: fmt.Errorf("encode request: %w", err)}
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return &PersistenceError{Err: fmt.Errorf("rate limiter: %w", err)}
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+submitPath, bytes.NewReader(body))
	if err != nil {
		return &PersistenceError{Err: fmt.Errorf("creating request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return &PersistenceError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &PersistenceError{StatusCode: resp.StatusCode, Err: fmt.Errorf("%s", strings.TrimSpace(string(msg)))}
	}
	io.Copy(io.Discard, resp.Body)

	marker, _ := json.Marshal(map[string]string{"submitted_at": time.Now().UTC().Format(time.RFC3339)})
	if err := c.store.Set(ctx, storage.ResultMarkerKey(sessionID, unitID), marker); err != nil {
		// The backend has the record and deduplicates on (session, unit).
		log.Printf("results: set marker for %s/%s: %v", sessionID, unitID, err)
	}
	return nil
}

// NewQuizData computes the outcome of one unit. totalQuestions is the
// displayed question count of the unit; it never drops below the number of
// answers reported.
func NewQuizData(answers []models.QuizAnswer, totalQuestions int) models.QuizData {
	if answers == nil {
		answers = []models.QuizAnswer{}
	}
	d := models.QuizData{Answers: answers, TotalQuestions: totalQuestions}
	if d.TotalQuestions < len(answers) {
		d.TotalQuestions = len(answers)
	}
	for _, a := range answers {
		if a.IsCorrect {
			d.CorrectCount++
		}
		if a.Answered() {
			d.AnsweredCount++
		}
	}
	if d.TotalQuestions > 0 {
		d.Score = float64(d.CorrectCount) / float64(d.TotalQuestions) * 100
	}
	return d
}
