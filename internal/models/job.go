package models

import (
	"time"

	"github.com/google/uuid"
)

// ResultRetryJob is queued when a result submission fails so a worker can
// retry it in the background.
type ResultRetryJob struct {
	ID         uuid.UUID         `json:"id"`
	UserID     uuid.UUID         `json:"user_id"`
	SessionID  string            `json:"session_id"`
	UnitID     string            `json:"unit_id"`
	Request    QuizResultRequest `json:"request"`
	RetryCount int               `json:"retry_count"`
	MaxRetries int               `json:"max_retries"`
	CreatedAt  time.Time         `json:"created_at"`
}

// UpdatesChannel is the pub/sub channel a learner's host page socket listens on.
func UpdatesChannel(userID uuid.UUID) string {
	return "test_updates:" + userID.String()
}

// WebSocket message types
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

type TimerUpdate struct {
	SequenceID       string `json:"sequence_id"`
	ModuleNumber     int    `json:"module_number"`
	SecondsRemaining int    `json:"seconds_remaining"`
	Paused           bool   `json:"paused"`
}

type NavigationEvent struct {
	SequenceID string              `json:"sequence_id"`
	State      string              `json:"state"`
	UnitID     string              `json:"unit_id,omitempty"`
	UnitLink   string              `json:"unit_link,omitempty"`
	Transition *TransitionSnapshot `json:"transition,omitempty"`
	Summary    *TestSummary        `json:"summary,omitempty"`
}

// API Error response
type APIError struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id"`
}

type ErrorResponse struct {
	Error APIError `json:"error"`
}
