package results

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"

	"mocktest-backend/internal/models"
)

const summaryPath = "/api/v1/quiz-results/summary"

// SessionResults fetches the stored results of one test session, optionally
// restricted to one section.
func (c *Client) SessionResults(ctx context.Context, userID, sessionID, sectionID string) ([]models.QuizResult, error) {
	q := url.Values{}
	q.Set("user_id", userID)
	q.Set("test_session_id", sessionID)
	if sectionID != "" {
		q.Set("section_id", sectionID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+summaryPath+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("results: creating request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("results: fetch summary: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("results: fetch summary: status %d", resp.StatusCode)
	}

	var body struct {
		Results []models.QuizResult `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("results: decode summary: %w", err)
	}
	return body.Results, nil
}

// GroupBySession sums correct and answered counts per test session.
func GroupBySession(records []models.QuizResult) []models.SessionTotals {
	bySession := make(map[string]*models.SessionTotals)
	for _, r := range records {
		t, ok := bySession[r.TestSessionID]
		if !ok {
			t = &models.SessionTotals{TestSessionID: r.TestSessionID}
			bySession[r.TestSessionID] = t
		}
		t.CorrectAnswers += r.CorrectAnswers
		t.AnsweredQuestions += r.AnsweredQuestions
		t.Submissions++
	}

	out := make([]models.SessionTotals, 0, len(bySession))
	for _, t := range bySession {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TestSessionID < out[j].TestSessionID })
	return out
}

// SessionTotals fetches and groups the results of one session.
func (c *Client) SessionTotals(ctx context.Context, userID, sessionID, sectionID string) (models.SessionTotals, error) {
	records, err := c.SessionResults(ctx, userID, sessionID, sectionID)
	if err != nil {
		return models.SessionTotals{}, err
	}
	for _, t := range GroupBySession(records) {
		if t.TestSessionID == sessionID {
			return t, nil
		}
	}
	return models.SessionTotals{TestSessionID: sessionID}, nil
}
