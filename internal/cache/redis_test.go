package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recoverly-app/recoveryservice/internal/domain"
)

func newTestCache(t *testing.T) (*StateCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewStateCache(client, time.Minute), mr
}

func TestStateCacheRoundTrip(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	end := time.Now().Add(5 * 24 * time.Hour).Truncate(time.Second)
	state := &domain.AccountState{
		ID:                  uuid.New(),
		CustomerID:          "cus_1",
		State:               domain.StateGracePeriod,
		Reason:              "payment_failure",
		GracePeriodEnd:      &end,
		FeatureRestrictions: []string{"premium_features"},
		CreatedAt:           time.Now().Truncate(time.Second),
	}
	require.NoError(t, c.Set(ctx, state))

	got, err := c.Get(ctx, "cus_1")
	require.NoError(t, err)
	assert.Equal(t, state.ID, got.ID)
	assert.Equal(t, domain.StateGracePeriod, got.State)
	assert.Equal(t, []string{"premium_features"}, got.FeatureRestrictions)
}

func TestStateCacheMiss(t *testing.T) {
	c, _ := newTestCache(t)

	_, err := c.Get(context.Background(), "cus_missing")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestStateCacheInvalidate(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	state := &domain.AccountState{ID: uuid.New(), CustomerID: "cus_1", State: domain.StateActive}
	require.NoError(t, c.Set(ctx, state))
	require.NoError(t, c.Invalidate(ctx, "cus_1"))

	_, err := c.Get(ctx, "cus_1")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestStateCacheTTL(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	state := &domain.AccountState{ID: uuid.New(), CustomerID: "cus_1", State: domain.StateActive}
	require.NoError(t, c.Set(ctx, state))

	mr.FastForward(2 * time.Minute)

	_, err := c.Get(ctx, "cus_1")
	assert.ErrorIs(t, err, ErrMiss)
}
