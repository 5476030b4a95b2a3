package services

import (
	"context"
	"encoding/json"
	"log"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"mocktest-backend/internal/models"
	"mocktest-backend/internal/timer"
)

// RedisPublisher sends WebSocket updates via Redis pub/sub, so any server
// instance holding the learner's socket can deliver them.
type RedisPublisher struct {
	redis *redis.Client
}

func NewRedisPublisher(redisClient *redis.Client) *RedisPublisher {
	return &RedisPublisher{redis: redisClient}
}

func (p *RedisPublisher) Publish(ctx context.Context, userID uuid.UUID, msg models.WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("publish: encode %s: %v", msg.Type, err)
		return
	}
	if err := p.redis.Publish(ctx, models.UpdatesChannel(userID), string(data)).Err(); err != nil {
		log.Printf("publish: %s to %s: %v", msg.Type, userID, err)
	}
}

// engineNotifier turns one engine's timer and navigation updates into
// WebSocket messages for its learner.
type engineNotifier struct {
	pub        Publisher
	userID     uuid.UUID
	sequenceID string
}

func (n *engineNotifier) TimerUpdated(u timer.Update) {
	n.pub.Publish(context.Background(), n.userID, models.WSMessage{
		Type: "timer",
		Payload: models.TimerUpdate{
			SequenceID:       n.sequenceID,
			ModuleNumber:     u.ModuleNumber,
			SecondsRemaining: u.SecondsRemaining,
			Paused:           u.State == timer.Paused,
		},
	})
}

func (n *engineNotifier) Navigated(ev models.NavigationEvent) {
	n.pub.Publish(context.Background(), n.userID, models.WSMessage{Type: "navigation", Payload: ev})
}
