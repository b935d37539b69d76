// Package analytics forwards product events to an external capture sink.
// Capture never blocks the caller and never fails the calling operation.
package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	EventRsvpUpdated         = "rsvp_updated"
	EventRsvpRemoved         = "rsvp_removed"
	EventOnboardingCompleted = "onboarding_completed"

	defaultStream         = "ssa:analytics"
	defaultCaptureTimeout = 2 * time.Second
)

// Event is one captured product event.
type Event struct {
	Name       string
	DistinctID string
	Properties map[string]any
}

// Sink accepts captured events.
type Sink interface {
	Capture(ctx context.Context, event Event)
}

// NopSink discards every event.
type NopSink struct{}

// Capture implements Sink.
func (NopSink) Capture(context.Context, Event) {}

type streamWriter interface {
	XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd
}

// RedisSinkConfig configures a RedisSink.
type RedisSinkConfig struct {
	Client  streamWriter
	Stream  string
	Timeout time.Duration
	Logger  *zap.Logger
	Clock   func() time.Time
}

// RedisSink appends events to a Redis stream on a background goroutine.
type RedisSink struct {
	client  streamWriter
	stream  string
	timeout time.Duration
	logger  *zap.Logger
	clock   func() time.Time
	pending sync.WaitGroup
}

var errMissingRedisClient = errors.New("analytics: redis client required")

// NewRedisClient dials the Redis server used for analytics capture.
func NewRedisClient(address string) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: strings.TrimSpace(address)})
}

// NewRedisSink constructs a RedisSink.
func NewRedisSink(cfg RedisSinkConfig) (*RedisSink, error) {
	if cfg.Client == nil {
		return nil, errMissingRedisClient
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		stream = defaultStream
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultCaptureTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &RedisSink{
		client:  cfg.Client,
		stream:  stream,
		timeout: timeout,
		logger:  logger,
		clock:   clock,
	}, nil
}

// Capture implements Sink.
func (s *RedisSink) Capture(ctx context.Context, event Event) {
	if s == nil || strings.TrimSpace(event.Name) == "" {
		return
	}
	values, err := streamValues(event, s.clock().UTC())
	if err != nil {
		s.logger.Warn("analytics event encode failed", zap.String("event", event.Name), zap.Error(err))
		return
	}

	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()
		if err := s.client.XAdd(writeCtx, &redis.XAddArgs{Stream: s.stream, Values: values}).Err(); err != nil {
			s.logger.Warn("analytics capture failed",
				zap.String("event", event.Name),
				zap.String("stream", s.stream),
				zap.Error(err))
		}
	}()
}

// Flush waits for in-flight captures to finish.
func (s *RedisSink) Flush() {
	if s == nil {
		return
	}
	s.pending.Wait()
}

func streamValues(event Event, capturedAt time.Time) (map[string]interface{}, error) {
	properties := event.Properties
	if properties == nil {
		properties = map[string]any{}
	}
	encoded, err := json.Marshal(properties)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"event":       event.Name,
		"distinct_id": event.DistinctID,
		"properties":  string(encoded),
		"captured_at": capturedAt.Format(time.RFC3339Nano),
	}, nil
}
