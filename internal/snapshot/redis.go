package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps one hash per user under wcd:{community}:snapshot:{id}.
// It exists for deployments where the working directory is not durable;
// the FileStore remains the default backend.
type RedisStore struct {
	rdb       *redis.Client
	community string
}

// NewRedisStore creates a snapshot store on the given Redis connection.
// Keys are namespaced by community so two communities can share a server.
func NewRedisStore(opts *redis.Options, communityID int64) (*RedisStore, error) {
	if communityID == 0 {
		return nil, fmt.Errorf("community id cannot be zero")
	}
	return &RedisStore{
		rdb:       redis.NewClient(opts),
		community: strconv.FormatInt(communityID, 10),
	}, nil
}

// Close closes the Redis connection. Implements io.Closer.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

// Ping verifies Redis connectivity. Useful at startup.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *RedisStore) key(userID int64) string {
	return fmt.Sprintf("wcd:%s:snapshot:%d", s.community, userID)
}

func (s *RedisStore) Put(ctx context.Context, userID int64, platforms []string, capturedAt time.Time) error {
	platformsJSON, err := json.Marshal(platforms)
	if err != nil {
		return fmt.Errorf("failed to serialize platforms: %w", err)
	}
	hash := map[string]interface{}{
		"platforms": string(platformsJSON),
		"ts":        strconv.FormatFloat(float64(capturedAt.UnixNano())/float64(time.Second), 'f', -1, 64),
	}
	if err := s.rdb.HSet(ctx, s.key(userID), hash).Err(); err != nil {
		return fmt.Errorf("failed to write snapshot to Redis: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, userID int64) ([]string, time.Time, error) {
	hash, err := s.rdb.HGetAll(ctx, s.key(userID)).Result()
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to read snapshot from Redis: %w", err)
	}
	// HGetAll returns an empty map for non-existent keys
	if len(hash) == 0 {
		return nil, time.Time{}, ErrNotFound
	}

	var platforms []string
	if err := json.Unmarshal([]byte(hash["platforms"]), &platforms); err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to deserialize platforms: %w", err)
	}
	ts, err := strconv.ParseFloat(hash["ts"], 64)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to parse snapshot timestamp: %w", err)
	}
	return platforms, time.Unix(0, int64(ts*float64(time.Second))), nil
}

func (s *RedisStore) Delete(ctx context.Context, userID int64) error {
	if err := s.rdb.Del(ctx, s.key(userID)).Err(); err != nil {
		return fmt.Errorf("failed to delete snapshot from Redis: %w", err)
	}
	return nil
}
