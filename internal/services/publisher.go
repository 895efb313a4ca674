package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"

	"medsim-backend/internal/models"
)

// SessionUpdatePublisher fans live session updates out over Redis
// pub/sub; the websocket hub bridges the channel to connected
// observers. Implements session.UpdatePublisher.
type SessionUpdatePublisher struct {
	redis *redis.Client
}

func NewSessionUpdatePublisher(redisClient *redis.Client) *SessionUpdatePublisher {
	return &SessionUpdatePublisher{redis: redisClient}
}

func (p *SessionUpdatePublisher) PublishSessionUpdate(ctx context.Context, update models.SessionUpdate) {
	msg := models.WSMessage{Type: "session_update", Payload: update}
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("encode session update: %v", err)
		return
	}
	channel := fmt.Sprintf("session_updates:%s", update.SessionID)
	if err := p.redis.Publish(ctx, channel, string(data)).Err(); err != nil {
		log.Printf("publish session update to %s: %v", channel, err)
	}
}
