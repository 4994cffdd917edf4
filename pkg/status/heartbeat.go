// Package status publishes the outcome of the latest crawl cycle to Redis so
// that external monitors can tell whether the crawler is alive.
//
// Only a summary is stored, under a single key with a TTL; fetched pages are
// archived on disk and never go to Redis. An expired key means no cycle has
// completed for several intervals.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

// DefaultKey is the Redis key holding the latest heartbeat.
const DefaultKey = "bikecrawler:heartbeat:last"

var (
	// ErrNoHeartbeat is returned by Last when the key is missing or expired.
	ErrNoHeartbeat = errors.New("no heartbeat recorded")

	heartbeatErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bikecrawler_heartbeat_errors_total",
		Help: "Total heartbeat store errors by operation",
	}, []string{"operation"})
)

// Heartbeat summarises one crawl cycle.
type Heartbeat struct {
	CycleID    string        `json:"cycle_id"`
	RunDir     string        `json:"run_dir"`
	CycleTime  time.Time     `json:"cycle_time"`
	Pages      int           `json:"pages"`
	Bytes      int64         `json:"bytes"`
	NonSuccess int           `json:"non_success"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
}

// OK reports whether the cycle finished without error.
func (h Heartbeat) OK() bool {
	return h.Error == ""
}

// RedisStore keeps the latest heartbeat in Redis.
type RedisStore struct {
	redis *redis.Client
	key   string
	ttl   time.Duration
}

// NewRedisStore creates a heartbeat store. ttl should cover a few schedule
// intervals; zero keeps the key forever.
func NewRedisStore(redisClient *redis.Client, key string, ttl time.Duration) *RedisStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if key == "" {
		key = DefaultKey
	}
	return &RedisStore{
		redis: redisClient,
		key:   key,
		ttl:   ttl,
	}
}

// Key returns the Redis key written by the store.
func (s *RedisStore) Key() string {
	return s.key
}

// Report stores hb as the latest heartbeat.
func (s *RedisStore) Report(ctx context.Context, hb Heartbeat) error {
	data, err := json.Marshal(hb)
	if err != nil {
		heartbeatErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal heartbeat: %w", err)
	}

	if err := s.redis.Set(ctx, s.key, data, s.ttl).Err(); err != nil {
		heartbeatErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	return nil
}

// Last returns the latest heartbeat, or ErrNoHeartbeat.
func (s *RedisStore) Last(ctx context.Context) (Heartbeat, error) {
	data, err := s.redis.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Heartbeat{}, ErrNoHeartbeat
		}
		heartbeatErrors.WithLabelValues("get").Inc()
		return Heartbeat{}, fmt.Errorf("redis get: %w", err)
	}

	var hb Heartbeat
	if err := json.Unmarshal(data, &hb); err != nil {
		heartbeatErrors.WithLabelValues("get").Inc()
		return Heartbeat{}, fmt.Errorf("decode heartbeat: %w", err)
	}

	return hb, nil
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.redis.Ping(ctx).Err()
}

// Close closes the underlying Redis client.
func (s *RedisStore) Close() error {
	return s.redis.Close()
}
