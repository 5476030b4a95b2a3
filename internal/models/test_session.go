package models

import (
	"encoding/json"
	"time"
)

type TestSession struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// ModuleTimerState is the persisted countdown for one module of one session.
type ModuleTimerState struct {
	SessionID        string    `json:"session_id"`
	SequenceID       string    `json:"sequence_id"`
	ModuleNumber     int       `json:"module_number"`
	SecondsRemaining int       `json:"seconds_remaining"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// QuizAnswer is one entry of the answer list reported by the quiz surface.
// Field names follow the quiz surface's wire format.
type QuizAnswer struct {
	QuestionID string          `json:"questionId"`
	UserAnswer json.RawMessage `json:"userAnswer,omitempty"`
	IsCorrect  bool            `json:"isCorrect"`
}

// Answered reports whether the learner gave any answer to the question.
func (a QuizAnswer) Answered() bool {
	s := string(a.UserAnswer)
	return s != "" && s != "null" && s != `""` && s != "[]"
}

type ModuleScore struct {
	ModuleNumber int `json:"module_number"`
	Correct      int `json:"correct"`
	Total        int `json:"total"`
}

type NavigationContext struct {
	CourseID      string `json:"course_id"`
	SequenceID    string `json:"sequence_id"`
	CurrentUnitID string `json:"current_unit_id"`
	NextUnitID    string `json:"next_unit_id,omitempty"`
	// Zero means the module number could not be parsed from the title.
	CurrentModule int `json:"current_module"`
	NextModule    int `json:"next_module"`
}

// TransitionSnapshot is stored while the module transition screen is shown so
// a reload redisplays it instead of resuming the quiz.
type TransitionSnapshot struct {
	CurrentModule int       `json:"current_module"`
	NextModule    int       `json:"next_module"`
	NextUnitID    string    `json:"next_unit_id"`
	NextUnitLink  string    `json:"next_unit_link"`
	CreatedAt     time.Time `json:"created_at"`
}

// CompletionSnapshot keeps the summary screen across reloads until the
// learner acknowledges it.
type CompletionSnapshot struct {
	UnitID      string      `json:"unit_id"`
	Summary     TestSummary `json:"summary"`
	CompletedAt time.Time   `json:"completed_at"`
}

type TestSummary struct {
	SessionID    string        `json:"session_id"`
	Modules      []ModuleScore `json:"modules"`
	Correct      int           `json:"correct"`
	Total        int           `json:"total"`
	ScorePercent float64       `json:"score_percent"`
}
