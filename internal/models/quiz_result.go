package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	ResultStatusProcessing = "processing"
	ResultStatusCompleted  = "completed"
)

type QuizData struct {
	Answers        []QuizAnswer `json:"answers"`
	CorrectCount   int          `json:"correctCount"`
	AnsweredCount  int          `json:"answeredCount"`
	TotalQuestions int          `json:"totalQuestions"`
	Score          float64      `json:"score"`
}

// QuizResultRequest is the body of one result submission.
type QuizResultRequest struct {
	SectionID     string   `json:"section_id"`
	UnitID        string   `json:"unit_id"`
	CourseID      string   `json:"course_id"`
	UserID        string   `json:"user_id"`
	TemplateID    string   `json:"template_id"`
	TestSessionID string   `json:"test_session_id"`
	Status        string   `json:"status"`
	QuizData      QuizData `json:"quiz_data"`
}

// QuizResult is one stored submission as returned by the summary read.
type QuizResult struct {
	ID                uuid.UUID `json:"id"`
	UserID            uuid.UUID `json:"user_id"`
	TestSessionID     string    `json:"test_session_id"`
	CourseID          string    `json:"course_id"`
	SectionID         string    `json:"section_id"`
	UnitID            string    `json:"unit_id"`
	TemplateID        string    `json:"template_id"`
	Status            string    `json:"status"`
	CorrectAnswers    int       `json:"correct_answers"`
	AnsweredQuestions int       `json:"answered_questions"`
	TotalQuestions    int       `json:"total_questions"`
	Score             float64   `json:"score"`
	CreatedAt         time.Time `json:"created_at"`
}

// SessionTotals sums the stored results of one test session.
type SessionTotals struct {
	TestSessionID     string `json:"test_session_id"`
	CorrectAnswers    int    `json:"correct_answers"`
	AnsweredQuestions int    `json:"answered_questions"`
	Submissions       int    `json:"submissions"`
}
