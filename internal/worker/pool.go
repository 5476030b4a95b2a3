package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"mocktest-backend/internal/models"
	"mocktest-backend/internal/results"
	"mocktest-backend/internal/storage"
)

// TokenIssuer mints learner tokens for calls made on a learner's behalf.
type TokenIssuer interface {
	GenerateAccessToken(userID uuid.UUID, ttl time.Duration) (string, error)
}

// Publisher forwards updates to a learner's open pages.
type Publisher interface {
	Publish(ctx context.Context, userID uuid.UUID, msg models.WSMessage)
}

type Pool struct {
	redis       *redis.Client
	queue       *RetryQueue
	store       storage.Store
	results     *results.Client
	tokens      TokenIssuer
	publisher   Publisher
	workerCount int
	stopChan    chan struct{}
}

func NewPool(
	redisClient *redis.Client,
	queue *RetryQueue,
	store storage.Store,
	resultsClient *results.Client,
	tokens TokenIssuer,
	publisher Publisher,
	workerCount int,
) *Pool {
	return &Pool{
		redis:       redisClient,
		queue:       queue,
		store:       store,
		results:     resultsClient,
		tokens:      tokens,
		publisher:   publisher,
		workerCount: workerCount,
		stopChan:    make(chan struct{}),
	}
}

func (p *Pool) Start() {
	for i := 0; i < p.workerCount; i++ {
		go p.worker(i)
	}

	log.Printf("worker: started %d result retry goroutines", p.workerCount)
}

func (p *Pool) Stop() {
	select {
	case <-p.stopChan:
	default:
		close(p.stopChan)
	}
}

func (p *Pool) worker(id int) {
	for {
		select {
		case <-p.stopChan:
			log.Printf("worker %d: shutting down", id)
			return
		default:
		}

		ctx := context.Background()

		result, err := p.redis.BLPop(ctx, 5*time.Second, RetryQueueName).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				log.Printf("worker %d: blpop: %v", id, err)
				time.Sleep(time.Second)
			}
			continue
		}
		if len(result) < 2 {
			continue
		}

		var job models.ResultRetryJob
		if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
			log.Printf("worker %d: failed to parse job: %v", id, err)
			continue
		}

		lockKey := fmt.Sprintf("job_lock:%s", job.ID)
		locked, err := p.redis.SetNX(ctx, lockKey, "1", 2*time.Minute).Result()
		if err != nil || !locked {
			continue // Another worker has this job
		}

		log.Printf("worker %d: retrying result %s/%s (attempt %d)", id, job.SessionID, job.UnitID, job.RetryCount+1)

		if err := p.process(ctx, &job); err != nil {
			p.handleFailure(ctx, &job, err)
		} else {
			p.handleSuccess(ctx, &job)
		}

		p.redis.Del(ctx, lockKey)
	}
}

// process re-submits one result through the learner's marker space, so a
// submission that already went through is a no-op.
func (p *Pool) process(ctx context.Context, job *models.ResultRetryJob) error {
	token, err := p.tokens.GenerateAccessToken(job.UserID, 5*time.Minute)
	if err != nil {
		return fmt.Errorf("mint token: %w", err)
	}
	client := p.results.With(storage.ForLearner(p.store, job.UserID.String()), token)
	return client.Submit(ctx, job.SessionID, job.UnitID, job.Request)
}

func (p *Pool) handleSuccess(ctx context.Context, job *models.ResultRetryJob) {
	p.publish(ctx, job.UserID, models.WSMessage{
		Type: "result_saved",
		Payload: map[string]string{
			"test_session_id": job.SessionID,
			"unit_id":         job.UnitID,
		},
	})
	log.Printf("worker: result %s/%s saved", job.SessionID, job.UnitID)
}

func (p *Pool) handleFailure(ctx context.Context, job *models.ResultRetryJob, err error) {
	job.RetryCount++

	var perr *results.PersistenceError
	permanent := errors.As(err, &perr) && perr.StatusCode >= 400 && perr.StatusCode < 500 && perr.StatusCode != 429

	if !permanent && job.RetryCount < job.MaxRetries {
		backoff := retryBackoff(job.RetryCount)
		log.Printf("worker: result %s/%s failed (attempt %d): %v, retrying in %s", job.SessionID, job.UnitID, job.RetryCount, err, backoff)
		retry := *job
		time.AfterFunc(backoff, func() {
			if err := p.queue.Push(context.Background(), &retry); err != nil {
				log.Printf("worker: requeue %s: %v", retry.ID, err)
			}
		})
		return
	}

	log.Printf("worker: result %s/%s failed permanently: %v", job.SessionID, job.UnitID, err)
	p.publish(ctx, job.UserID, models.WSMessage{
		Type: "error",
		Payload: models.APIError{
			Code:    "RESULT_NOT_SAVED",
			Message: fmt.Sprintf("Result for unit %s could not be saved", job.UnitID),
		},
	})
}

func (p *Pool) publish(ctx context.Context, userID uuid.UUID, msg models.WSMessage) {
	if p.publisher != nil {
		p.publisher.Publish(ctx, userID, msg)
	}
}

// retryBackoff doubles from 2s up to 32s.
func retryBackoff(attempt int) time.Duration {
	if attempt > 5 {
		attempt = 5
	}
	return time.Duration(1<<uint(attempt)) * time.Second
}
