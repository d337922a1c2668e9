package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisChannel is the pub/sub channel used when none is given.
const DefaultRedisChannel = "healthwatch:updates"

// RedisMessage is the JSON document published for every event.
type RedisMessage struct {
	Method    string    `json:"method"`
	Type      string    `json:"type"`
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
}

// RedisSink publishes events to a Redis pub/sub channel.
type RedisSink struct {
	client  *redis.Client
	channel string
	method  string
}

// RedisOption configures a RedisSink.
type RedisOption func(*RedisSink)

// WithMethod sets the method name carried in each message.
func WithMethod(method string) RedisOption {
	return func(s *RedisSink) {
		s.method = method
	}
}

// NewRedisSink creates a sink publishing to channel.
func NewRedisSink(client *redis.Client, channel string, opts ...RedisOption) *RedisSink {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	s := &RedisSink{
		client:  client,
		channel: channel,
		method:  "healthDataUpdated",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Channel returns the pub/sub channel name.
func (s *RedisSink) Channel() string {
	return s.channel
}

// Notify implements Sink.
func (s *RedisSink) Notify(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(RedisMessage{
		Method:    s.method,
		Type:      ev.Type.String(),
		Seq:       ev.Seq,
		Timestamp: ev.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("failed to encode update: %w", err)
	}
	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish to %s: %w", s.channel, err)
	}
	return nil
}

var _ Sink = (*RedisSink)(nil)
