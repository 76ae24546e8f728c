package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/recoverly-app/recoveryservice/internal/domain"
)

// ErrMiss is returned when the requested key is not cached.
var ErrMiss = errors.New("cache miss")

// DefaultStateTTL bounds staleness of cached account states. Feature
// access checks tolerate a short lag behind the authoritative row.
const DefaultStateTTL = 2 * time.Minute

// StateCache is a Redis lookaside cache for current account states.
type StateCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStateCache creates a cache on an existing Redis client
func NewStateCache(client *redis.Client, ttl time.Duration) *StateCache {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	return &StateCache{client: client, ttl: ttl}
}

// NewStateCacheFromAddr dials Redis and returns a cache
func NewStateCacheFromAddr(addr, password string, db int, ttl time.Duration) (*StateCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Test the connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return NewStateCache(client, ttl), nil
}

// Close closes the Redis connection
func (c *StateCache) Close() error {
	return c.client.Close()
}

func stateKey(customerID string) string {
	return fmt.Sprintf("acct_state:%s", customerID)
}

// Get retrieves the cached current state for a customer
func (c *StateCache) Get(ctx context.Context, customerID string) (*domain.AccountState, error) {
	data, err := c.client.Get(ctx, stateKey(customerID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrMiss
		}
		return nil, fmt.Errorf("failed to get cached state: %w", err)
	}

	var state domain.AccountState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached state: %w", err)
	}
	return &state, nil
}

// Set stores the current state for a customer
func (c *StateCache) Set(ctx context.Context, state *domain.AccountState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	return c.client.Set(ctx, stateKey(state.CustomerID), data, c.ttl).Err()
}

// Invalidate drops the cached state after a transition
func (c *StateCache) Invalidate(ctx context.Context, customerID string) error {
	return c.client.Del(ctx, stateKey(customerID)).Err()
}
