package worker

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestSendRateLimiterAllow(t *testing.T) {
	client := setupRedis(t)
	rl := NewSendRateLimiter(client, 100)
	ctx := context.Background()

	allowed, err := rl.Allow(ctx, "c-1", 60)
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = rl.Allow(ctx, "c-1", 40)
	require.NoError(t, err)
	assert.True(t, allowed)

	// Budget for the minute is spent.
	allowed, err = rl.Allow(ctx, "c-1", 1)
	require.NoError(t, err)
	assert.False(t, allowed)

	// Another campaign has its own budget.
	allowed, err = rl.Allow(ctx, "c-2", 50)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestSendRateLimiterOverBudgetBatch(t *testing.T) {
	client := setupRedis(t)
	rl := NewSendRateLimiter(client, 10)

	allowed, err := rl.Allow(context.Background(), "c-1", 11)
	require.NoError(t, err)
	assert.False(t, allowed)

	// The denied batch must not have consumed any budget.
	allowed, err = rl.Allow(context.Background(), "c-1", 10)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestSendRateLimiterNilClient(t *testing.T) {
	rl := NewSendRateLimiter(nil, 1)

	allowed, err := rl.Allow(context.Background(), "c-1", 1000000)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.NoError(t, rl.Close())
}
