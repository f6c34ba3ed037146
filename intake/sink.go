package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Sentinel errors for sink operations.
var (
	// ErrInvalidRecord is returned when a record is missing required fields.
	ErrInvalidRecord = errors.New("invalid intake record")
)

const defaultSinkTTL = 24 * time.Hour

// Record is one persisted batch of collected intake data.
type Record struct {
	SessionID string          `json:"session_id"`
	Kind      string          `json:"kind"`  // prescriptions, allergies, conditions, visit_reasons
	Items     json.RawMessage `json:"items"` // Validated tool arguments as provided by the model
	SavedAt   time.Time       `json:"saved_at"`
}

// Sink persists validated intake records. The state machine's responsibility
// ends at calling Save with validated structured arguments; a Save error
// means the step is not advanced.
type Sink interface {
	Save(ctx context.Context, record Record) error
}

// MemorySink keeps records in memory. Useful for tests and local runs.
type MemorySink struct {
	mu      sync.Mutex
	records []Record
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Save appends the record.
func (s *MemorySink) Save(_ context.Context, record Record) error {
	if record.SessionID == "" || record.Kind == "" {
		return ErrInvalidRecord
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
	return nil
}

// Records returns a copy of all saved records.
func (s *MemorySink) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

// RedisSink persists intake records to Redis, one list per session, with
// TTL-based cleanup. Suitable for handing records off to downstream systems.
type RedisSink struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// RedisSinkOption configures a RedisSink.
type RedisSinkOption func(*RedisSink)

// WithTTL sets the time-to-live for a session's records.
// Default is 24 hours. Set to 0 for no expiration.
func WithTTL(ttl time.Duration) RedisSinkOption {
	return func(s *RedisSink) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix for Redis keys.
// Default is "intakekit".
func WithPrefix(prefix string) RedisSinkOption {
	return func(s *RedisSink) {
		s.prefix = prefix
	}
}

// NewRedisSink creates a Redis-backed intake sink.
//
// Example:
//
//	sink := NewRedisSink(
//	    redis.NewClient(&redis.Options{Addr: "localhost:6379"}),
//	    WithTTL(24 * time.Hour),
//	)
func NewRedisSink(client *redis.Client, opts ...RedisSinkOption) *RedisSink {
	sink := &RedisSink{
		client: client,
		ttl:    defaultSinkTTL,
		prefix: "intakekit",
	}

	for _, opt := range opts {
		opt(sink)
	}

	return sink
}

// Save appends the record to the session's record list.
// Uses a pipeline to batch the RPUSH and EXPIRE into a single round-trip.
func (s *RedisSink) Save(ctx context.Context, record Record) error {
	if record.SessionID == "" || record.Kind == "" {
		return ErrInvalidRecord
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	key := s.recordsKey(record.SessionID)
	pipe := s.client.Pipeline()
	pipe.RPush(ctx, key, data)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline failed: %w", err)
	}

	return nil
}

// Load returns all records saved for a session, in save order.
func (s *RedisSink) Load(ctx context.Context, sessionID string) ([]Record, error) {
	vals, err := s.client.LRange(ctx, s.recordsKey(sessionID), 0, -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis lrange failed: %w", err)
	}

	records := make([]Record, 0, len(vals))
	for _, v := range vals {
		var record Record
		if err := json.Unmarshal([]byte(v), &record); err != nil {
			return nil, fmt.Errorf("failed to unmarshal record: %w", err)
		}
		records = append(records, record)
	}

	return records, nil
}

// recordsKey generates the Redis key for a session's record list.
func (s *RedisSink) recordsKey(sessionID string) string {
	return fmt.Sprintf("%s:session:%s:records", s.prefix, sessionID)
}
