package repository

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mocktest-backend/internal/models"
)

type QuizResultRepo struct {
	pool *pgxpool.Pool
}

func NewQuizResultRepo(pool *pgxpool.Pool) *QuizResultRepo {
	return &QuizResultRepo{pool: pool}
}

// Insert stores res unless a result for the same (test_session_id, unit_id)
// exists. It reports whether a row was written; on a duplicate r is left
// untouched.
func (r *QuizResultRepo) Insert(ctx context.Context, res *models.QuizResult, data models.QuizData) (bool, error) {
	id := uuid.New()
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return false, err
	}

	query := `INSERT INTO quiz_results (id, user_id, test_session_id, course_id, section_id, unit_id, template_id,
			status, correct_answers, answered_questions, total_questions, score, quiz_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (test_session_id, unit_id) DO NOTHING
		RETURNING created_at`

	err = r.pool.QueryRow(ctx, query,
		id, res.UserID, res.TestSessionID, res.CourseID, res.SectionID, res.UnitID, res.TemplateID,
		res.Status, res.CorrectAnswers, res.AnsweredQuestions, res.TotalQuestions, res.Score, dataBytes,
	).Scan(&res.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	res.ID = id
	return true, nil
}

// ListForSummary returns the learner's results in a section, optionally
// narrowed to one test session, oldest first.
func (r *QuizResultRepo) ListForSummary(ctx context.Context, userID uuid.UUID, sessionID, sectionID string) ([]*models.QuizResult, error) {
	query := `SELECT id, user_id, test_session_id, course_id, section_id, unit_id, template_id, status,
			correct_answers, answered_questions, total_questions, score, created_at
		FROM quiz_results
		WHERE user_id = $1 AND section_id = $2 AND ($3::text = '' OR test_session_id = $3)
		ORDER BY created_at ASC`

	rows, err := r.pool.Query(ctx, query, userID, sectionID, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []*models.QuizResult{}
	for rows.Next() {
		q := &models.QuizResult{}
		err := rows.Scan(&q.ID, &q.UserID, &q.TestSessionID, &q.CourseID, &q.SectionID, &q.UnitID, &q.TemplateID,
			&q.Status, &q.CorrectAnswers, &q.AnsweredQuestions, &q.TotalQuestions, &q.Score, &q.CreatedAt)
		if err != nil {
			return nil, err
		}
		results = append(results, q)
	}
	return results, rows.Err()
}
