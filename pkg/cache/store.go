package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL is the retention for last-good payloads when the store is
	// constructed without an explicit TTL. Payloads kept for fallback need
	// to outlive transient upstream outages, so the window is generous.
	DefaultTTL = 24 * time.Hour
)

var (
	// ErrMiss indicates the requested key was not found in the cache
	ErrMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Store keeps the last good payload per request in Redis.
type Store struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewStore creates a last-good payload store on top of a Redis client.
// A non-positive ttl selects DefaultTTL.
func NewStore(redisClient *redis.Client, ttl time.Duration) *Store {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		redis: redisClient,
		ttl:   ttl,
	}
}

// Get retrieves the last good payload for key.
// Returns ErrMiss if no payload is stored or the retention has lapsed.
func (s *Store) Get(ctx context.Context, key Key) (*Entry, error) {
	data, err := s.redis.Get(ctx, key.String()).Bytes()
	if err != nil {
		if err == redis.Nil {
			cacheMisses.WithLabelValues(key.Source).Inc()
			return nil, ErrMiss
		}
		cacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		cacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	cacheHits.WithLabelValues(key.Source).Inc()
	return &entry, nil
}

// Set stores payload as the last good response for key using the store's
// configured retention.
func (s *Store) Set(ctx context.Context, key Key, payload []byte) error {
	return s.SetWithTTL(ctx, key, payload, s.ttl)
}

// SetWithTTL stores payload with an explicit retention, for sources whose
// data goes stale faster or slower than the store default.
func (s *Store) SetWithTTL(ctx context.Context, key Key, payload []byte, ttl time.Duration) error {
	if len(payload) == 0 {
		return fmt.Errorf("payload cannot be empty")
	}
	if ttl <= 0 {
		ttl = s.ttl
	}

	entry := Entry{
		Payload:  payload,
		StoredAt: time.Now().UTC(),
		Source:   key.Source,
	}

	data, err := json.Marshal(entry)
	if err != nil {
		cacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	if err := s.redis.Set(ctx, key.String(), data, ttl).Err(); err != nil {
		cacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	cacheStoredBytes.Add(float64(len(data)))
	return nil
}

// Delete removes a cached payload.
func (s *Store) Delete(ctx context.Context, key Key) error {
	if err := s.redis.Del(ctx, key.String()).Err(); err != nil {
		cacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// TTL reports the remaining retention of a cached payload.
// Entries written through Set always carry an expiry, so a negative Redis
// reply means the key is gone and TTL returns ErrMiss.
func (s *Store) TTL(ctx context.Context, key Key) (time.Duration, error) {
	d, err := s.redis.TTL(ctx, key.String()).Result()
	if err != nil {
		cacheErrors.WithLabelValues("ttl").Inc()
		return 0, fmt.Errorf("redis ttl: %w", err)
	}
	if d < 0 {
		return 0, ErrMiss
	}
	return d, nil
}
