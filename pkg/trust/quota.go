package trust

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/trang393934/angelaithutrang-sub004/pkg/contracts"
)

// Quota enforces a fixed daily allowance per key, independent of actor limits.
type Quota interface {
	// Consume records one use for the UTC day of at, failing once limit is reached.
	Consume(ctx context.Context, key string, limit int, at time.Time) (used int, err error)
}

// MemoryQuota is an in-process Quota.
type MemoryQuota struct {
	mu   sync.Mutex
	day  string
	used map[string]int
}

func NewMemoryQuota() *MemoryQuota {
	return &MemoryQuota{used: make(map[string]int)}
}

func (q *MemoryQuota) Consume(_ context.Context, key string, limit int, at time.Time) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if d := DayKey(at); d != q.day {
		q.day = d
		q.used = make(map[string]int)
	}
	if limit > 0 && q.used[key] >= limit {
		return q.used[key], quotaExceeded(key, limit)
	}
	q.used[key]++
	return q.used[key], nil
}

var consumeQuotaScript = redis.NewScript(`
local used = tonumber(redis.call("GET", KEYS[1]) or "0")
local limit = tonumber(ARGV[1])
if limit > 0 and used >= limit then
    return {0, used}
end
used = redis.call("INCR", KEYS[1])
redis.call("EXPIRE", KEYS[1], tonumber(ARGV[2]))
return {1, used}
`)

// RedisQuota shares quotas across replicas.
type RedisQuota struct {
	client redis.UniversalClient
}

func NewRedisQuota(client redis.UniversalClient) *RedisQuota {
	return &RedisQuota{client: client}
}

func (q *RedisQuota) Consume(ctx context.Context, key string, limit int, at time.Time) (int, error) {
	k := fmt.Sprintf("lm:quota:{%s}:%s", key, DayKey(at))
	res, err := consumeQuotaScript.Run(ctx, q.client, []string{k}, limit, int64(dayTTL/time.Second)).Int64Slice()
	if err != nil {
		return 0, fmt.Errorf("trust: redis quota: %w", err)
	}
	if len(res) != 2 {
		return 0, fmt.Errorf("trust: invalid response from quota script")
	}
	if res[0] != 1 {
		return int(res[1]), quotaExceeded(key, limit)
	}
	return int(res[1]), nil
}

func quotaExceeded(key string, limit int) error {
	return contracts.CapExceeded(ReasonQuota, "daily quota of %d requests for key %s reached", limit, key)
}
