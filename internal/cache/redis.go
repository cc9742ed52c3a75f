package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ayusman/ewaste/internal/detector"
)

const (
	// redisKeyPrefix namespaces per-client detection entries.
	redisKeyPrefix = "ewaste:detections:"
	// redisClientsKey is the set of registered client ids.
	redisClientsKey = "ewaste:clients"
)

// Redis is a Cache shared between detector instances.
// Entries expire after ttl unless refreshed by Set.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

func redisKey(clientID string) string {
	return redisKeyPrefix + clientID
}

// Register implements Cache.
func (r *Redis) Register(ctx context.Context, clientID string) error {
	if err := r.client.Set(ctx, redisKey(clientID), "[]", r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to register client %s: %w", clientID, err)
	}
	if err := r.client.SAdd(ctx, redisClientsKey, clientID).Err(); err != nil {
		return fmt.Errorf("failed to track client %s: %w", clientID, err)
	}
	return nil
}

// Set implements Cache.
func (r *Redis) Set(ctx context.Context, clientID string, dets []detector.Detection) error {
	if dets == nil {
		dets = []detector.Detection{}
	}
	payload, err := json.Marshal(dets)
	if err != nil {
		return fmt.Errorf("failed to encode detections: %w", err)
	}
	if err := r.client.Set(ctx, redisKey(clientID), payload, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store detections for %s: %w", clientID, err)
	}
	return nil
}

// Get implements Cache.
func (r *Redis) Get(ctx context.Context, clientID string) ([]detector.Detection, error) {
	payload, err := r.client.Get(ctx, redisKey(clientID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrUnknownClient
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load detections for %s: %w", clientID, err)
	}

	var dets []detector.Detection
	if err := json.Unmarshal(payload, &dets); err != nil {
		return nil, fmt.Errorf("failed to decode detections for %s: %w", clientID, err)
	}
	return dets, nil
}

// Delete implements Cache.
func (r *Redis) Delete(ctx context.Context, clientID string) error {
	if err := r.client.Del(ctx, redisKey(clientID)).Err(); err != nil {
		return fmt.Errorf("failed to delete client %s: %w", clientID, err)
	}
	if err := r.client.SRem(ctx, redisClientsKey, clientID).Err(); err != nil {
		return fmt.Errorf("failed to untrack client %s: %w", clientID, err)
	}
	return nil
}

// Len implements Cache.
func (r *Redis) Len(ctx context.Context) (int, error) {
	n, err := r.client.SCard(ctx, redisClientsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count clients: %w", err)
	}
	return int(n), nil
}
