package realtime

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"time"

	"carecall_backend/platform/config"
	"carecall_backend/platform/logger"

	"github.com/redis/go-redis/v9"
)

// envelope is the wire format published on pub/sub channels.
type envelope struct {
	Event     string      `json:"event"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// RedisPublisher publishes realtime events over Redis pub/sub.
type RedisPublisher struct {
	client *redis.Client
	log    *logger.Logger
}

// NewRedisPublisher connects a publisher to Redis.
func NewRedisPublisher(cfg config.RedisConfig, log *logger.Logger) (*RedisPublisher, error) {
	opt, err := redis.ParseURL(cfg.GetRedisURL())
	if err != nil {
		return nil, err
	}
	if opt.TLSConfig != nil && cfg.GetRedisTLSInsecure() {
		opt.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &RedisPublisher{
		client: redis.NewClient(opt),
		log:    log,
	}, nil
}

// NewRedisPublisherFromClient wraps an existing Redis client. Used by tests.
func NewRedisPublisherFromClient(client *redis.Client, log *logger.Logger) *RedisPublisher {
	return &RedisPublisher{client: client, log: log}
}

// Publish sends an event on the given channel. Failures are logged and
// swallowed: realtime delivery is best-effort and must never disturb the
// webhook or dispatch paths.
func (p *RedisPublisher) Publish(ctx context.Context, channel string, event string, payload interface{}) {
	data, err := json.Marshal(envelope{
		Event:     event,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		p.log.Error("realtime marshal failed", "channel", channel, "event", event, "error", err)
		return
	}

	if err := p.client.Publish(ctx, channel, data).Err(); err != nil {
		p.log.Error("realtime publish failed", "channel", channel, "event", event, "error", err)
	}
}

// Close releases the Redis connection.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
