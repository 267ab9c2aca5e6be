package quiz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/crazyrace/crazyrace/go/internal/models"
)

// RedisCacheConfig tunes the frozen-set cache.
type RedisCacheConfig struct {
	Addr     string
	Password string
	DB       int
	// TTL bounds every key; a room that never finishes still ages out.
	TTL time.Duration
}

func DefaultRedisCacheConfig() RedisCacheConfig {
	return RedisCacheConfig{
		Addr: "localhost:6379",
		TTL:  6 * time.Hour,
	}
}

// RedisCache implements SetCache on go-redis. Everything here is an
// optimization layer over the session row; callers treat failures as misses.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(cfg RedisCacheConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisCache{client: client, ttl: cfg.TTL}, nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func frozenSetKey(roomCode string) string {
	return "race:frozen:" + roomCode
}

func answerMarkKey(roomCode string, participantID uuid.UUID) string {
	return "race:mark:" + roomCode + ":" + participantID.String()
}

func (c *RedisCache) StoreFrozenSet(ctx context.Context, roomCode string, questions []models.Question) error {
	raw, err := json.Marshal(questions)
	if err != nil {
		return fmt.Errorf("failed to marshal frozen set: %w", err)
	}
	if err := c.client.Set(ctx, frozenSetKey(roomCode), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store frozen set: %w", err)
	}
	return nil
}

// FrozenSet returns the cached question set, or ok=false on a miss.
func (c *RedisCache) FrozenSet(ctx context.Context, roomCode string) ([]models.Question, bool, error) {
	raw, err := c.client.Get(ctx, frozenSetKey(roomCode)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get frozen set: %w", err)
	}

	var questions []models.Question
	if err := json.Unmarshal(raw, &questions); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal frozen set: %w", err)
	}
	return questions, true, nil
}

func (c *RedisCache) MarkAnswered(ctx context.Context, roomCode string, participantID uuid.UUID, at time.Time) error {
	err := c.client.Set(ctx, answerMarkKey(roomCode, participantID), at.Format(time.RFC3339Nano), c.ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to set answer mark: %w", err)
	}
	return nil
}

func (c *RedisCache) LastAnsweredAt(ctx context.Context, roomCode string, participantID uuid.UUID) (time.Time, bool, error) {
	raw, err := c.client.Get(ctx, answerMarkKey(roomCode, participantID)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to get answer mark: %w", err)
	}

	at, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to parse answer mark: %w", err)
	}
	return at, true, nil
}
