package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/saudebot/exam-reminders/internal/domain"
	"github.com/saudebot/exam-reminders/pkg/logger"
)

// RedisRegistry keeps sessions in Redis with a TTL so in-flight conversations
// survive a restart and can be shared between instances. Redis errors fail
// open: a read error looks like "no session" and the patient lands back on
// the menu instead of a dead conversation.
type RedisRegistry struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisRegistry(url string, ttl time.Duration) (*RedisRegistry, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisRegistry{client: client, ttl: ttl}, nil
}

func sessionKey(id string) string { return "session:" + id }

func (r *RedisRegistry) Get(id string) (*domain.Session, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	raw, err := r.client.Get(ctx, sessionKey(id)).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		logger.Warn("session read failed", "identifier", id, "error", err)
		return nil, false
	}

	var s domain.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		logger.Warn("session payload corrupt, dropping", "identifier", id, "error", err)
		r.Clear(id)
		return nil, false
	}
	return &s, true
}

func (r *RedisRegistry) Set(id string, s *domain.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	raw, err := json.Marshal(s)
	if err != nil {
		logger.Error("session marshal failed", "identifier", id, "error", err)
		return
	}
	if err := r.client.Set(ctx, sessionKey(id), raw, r.ttl).Err(); err != nil {
		logger.Warn("session write failed", "identifier", id, "error", err)
	}
}

func (r *RedisRegistry) Clear(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := r.client.Del(ctx, sessionKey(id)).Err(); err != nil {
		logger.Warn("session delete failed", "identifier", id, "error", err)
	}
}

func (r *RedisRegistry) Close() error {
	return r.client.Close()
}
