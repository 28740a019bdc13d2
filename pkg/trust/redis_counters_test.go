package trust

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trang393934/angelaithutrang-sub004/pkg/contracts"
)

// TestRedisCounters_Integration requires a running Redis and is skipped otherwise.
func TestRedisCounters_Integration(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skip("Skipping Redis integration test: redis not available")
	}
	c := NewRedisCountersFromClient(client)
	c.prefix = "lmtest" + time.Now().Format("150405.000000")

	at := time.Now().UTC()
	lim := ActionLimits{ActionType: "volunteer", At: at, PerTypeDaily: 2, SameTypeCooldown: time.Minute}

	u, err := c.ReserveAction(ctx, "alice", lim)
	require.NoError(t, err)
	assert.Equal(t, 1, u.DailyActions)

	lim.At = at.Add(10 * time.Second)
	_, err = c.ReserveAction(ctx, "alice", lim)
	assert.Equal(t, ReasonSameTypeCooldown, contracts.ReasonOf(err))

	lim.At = at.Add(2 * time.Minute)
	_, err = c.ReserveAction(ctx, "alice", lim)
	require.NoError(t, err)

	lim.At = at.Add(4 * time.Minute)
	_, err = c.ReserveAction(ctx, "alice", lim)
	assert.Equal(t, ReasonTypeDailyCap, contracts.ReasonOf(err))

	g, err := c.ReserveReward(ctx, "alice", RewardRequest{ActionType: "volunteer", At: at, Amount: 1200, DailyCap: 800})
	require.NoError(t, err)
	assert.Equal(t, 800.0, g)

	q := NewRedisQuota(client)
	key := c.prefix + "-key"
	_, err = q.Consume(ctx, key, 1, at)
	require.NoError(t, err)
	_, err = q.Consume(ctx, key, 1, at)
	assert.Equal(t, ReasonQuota, contracts.ReasonOf(err))
}
