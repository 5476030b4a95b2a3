package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"mocktest-backend/internal/models"
)

const (
	RetryQueueName    = "queue:result-retry"
	defaultMaxRetries = 5
)

// RetryQueue holds result submissions that did not reach the results API.
type RetryQueue struct {
	redis      *redis.Client
	maxRetries int
}

func NewRetryQueue(redisClient *redis.Client) *RetryQueue {
	return &RetryQueue{redis: redisClient, maxRetries: defaultMaxRetries}
}

func (q *RetryQueue) Push(ctx context.Context, job *models.ResultRetryJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode retry job: %w", err)
	}
	return q.redis.LPush(ctx, RetryQueueName, string(data)).Err()
}

// ForLearner binds the queue to one learner.
func (q *RetryQueue) ForLearner(userID uuid.UUID) *LearnerQueue {
	return &LearnerQueue{queue: q, userID: userID}
}

type LearnerQueue struct {
	queue  *RetryQueue
	userID uuid.UUID
}

func (l *LearnerQueue) EnqueueRetry(ctx context.Context, sessionID, unitID string, req models.QuizResultRequest) error {
	return l.queue.Push(ctx, &models.ResultRetryJob{
		ID:         uuid.New(),
		UserID:     l.userID,
		SessionID:  sessionID,
		UnitID:     unitID,
		Request:    req,
		MaxRetries: l.queue.maxRetries,
		CreatedAt:  time.Now().UTC(),
	})
}
