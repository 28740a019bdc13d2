package trust

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/trang393934/angelaithutrang-sub004/pkg/contracts"
)

// Counter hashes per actor, all sharing the {actor} hash tag so a script
// touching them stays on one cluster slot:
//
//	lm:{actor}:d:<day>   fields "_all", "<type>", "r:<type>"
//	lm:{actor}:w:<week>  fields "_all", "r:<type>"
//	lm:{actor}:last      fields "_all", "<type>" (unix millis)

// reserveActionScript checks cooldowns and caps, then increments.
// KEYS[1..3] = day, week, last hashes
// ARGV[1] = action type, ARGV[2] = now (ms)
// ARGV[3] = per-type daily cap, ARGV[4] = daily cap, ARGV[5] = weekly cap (0 = unlimited)
// ARGV[6] = cooldown (ms), ARGV[7] = same-type cooldown (ms)
// ARGV[8] = day ttl (s), ARGV[9] = week ttl (s)
var reserveActionScript = redis.NewScript(`
local t = ARGV[1]
local now = tonumber(ARGV[2])

local lastAll = tonumber(redis.call("HGET", KEYS[3], "_all") or "0")
local cooldown = tonumber(ARGV[6])
if cooldown > 0 and lastAll > 0 and now - lastAll < cooldown then
    return {0, "cooldown", cooldown - (now - lastAll)}
end
local lastType = tonumber(redis.call("HGET", KEYS[3], t) or "0")
local sameType = tonumber(ARGV[7])
if sameType > 0 and lastType > 0 and now - lastType < sameType then
    return {0, "same_type_cooldown", sameType - (now - lastType)}
end

local typeCap = tonumber(ARGV[3])
local typeCount = tonumber(redis.call("HGET", KEYS[1], t) or "0")
if typeCap > 0 and typeCount >= typeCap then
    return {0, "type_daily_cap", typeCap}
end
local dayCap = tonumber(ARGV[4])
local dayCount = tonumber(redis.call("HGET", KEYS[1], "_all") or "0")
if dayCap > 0 and dayCount >= dayCap then
    return {0, "daily_cap", dayCap}
end
local weekCap = tonumber(ARGV[5])
local weekCount = tonumber(redis.call("HGET", KEYS[2], "_all") or "0")
if weekCap > 0 and weekCount >= weekCap then
    return {0, "weekly_cap", weekCap}
end

redis.call("HINCRBY", KEYS[1], t, 1)
redis.call("HINCRBY", KEYS[1], "_all", 1)
redis.call("HINCRBY", KEYS[2], "_all", 1)
redis.call("HSET", KEYS[3], "_all", now, t, now)
redis.call("EXPIRE", KEYS[1], tonumber(ARGV[8]))
redis.call("EXPIRE", KEYS[2], tonumber(ARGV[9]))
redis.call("EXPIRE", KEYS[3], tonumber(ARGV[9]))
return {1, "", 0}
`)

// reserveRewardScript grants up to the requested amount under both caps.
// KEYS[1..2] = day, week hashes
// ARGV[1] = field "r:<type>", ARGV[2] = amount, ARGV[3] = daily cap, ARGV[4] = weekly cap
// ARGV[5] = day ttl (s), ARGV[6] = week ttl (s)
var reserveRewardScript = redis.NewScript(`
local f = ARGV[1]
local g = tonumber(ARGV[2])
local dayCap = tonumber(ARGV[3])
local weekCap = tonumber(ARGV[4])
local dayUsed = tonumber(redis.call("HGET", KEYS[1], f) or "0")
local weekUsed = tonumber(redis.call("HGET", KEYS[2], f) or "0")
if dayCap > 0 and dayCap - dayUsed < g then g = dayCap - dayUsed end
if weekCap > 0 and weekCap - weekUsed < g then g = weekCap - weekUsed end
if g < 0 then g = 0 end
if g > 0 then
    redis.call("HINCRBYFLOAT", KEYS[1], f, g)
    redis.call("HINCRBYFLOAT", KEYS[2], f, g)
    redis.call("EXPIRE", KEYS[1], tonumber(ARGV[5]))
    redis.call("EXPIRE", KEYS[2], tonumber(ARGV[6]))
end
return tostring(g)
`)

const (
	dayTTL  = 48 * time.Hour
	weekTTL = 15 * 24 * time.Hour
)

// RedisCounters implements Counters on Redis with Lua scripts, for
// deployments that run several engine replicas against one profile database.
type RedisCounters struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisCounters creates counters backed by a single Redis node.
func NewRedisCounters(addr, password string, db int) *RedisCounters {
	return NewRedisCountersFromClient(redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}))
}

func NewRedisCountersFromClient(client redis.UniversalClient) *RedisCounters {
	return &RedisCounters{client: client, prefix: "lm"}
}

// Ping checks connectivity.
func (r *RedisCounters) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisCounters) keys(actorID string, at time.Time) (day, week, last string) {
	base := fmt.Sprintf("%s:{%s}", r.prefix, actorID)
	return base + ":d:" + DayKey(at), base + ":w:" + WeekKey(at), base + ":last"
}

func (r *RedisCounters) ReserveAction(ctx context.Context, actorID string, lim ActionLimits) (contracts.Usage, error) {
	day, week, last := r.keys(actorID, lim.At)
	res, err := reserveActionScript.Run(ctx, r.client, []string{day, week, last},
		lim.ActionType, lim.At.UnixMilli(),
		lim.PerTypeDaily, lim.Daily, lim.Weekly,
		lim.Cooldown.Milliseconds(), lim.SameTypeCooldown.Milliseconds(),
		int64(dayTTL/time.Second), int64(weekTTL/time.Second),
	).Slice()
	if err != nil {
		return contracts.Usage{}, fmt.Errorf("trust: redis reserve action: %w", err)
	}
	if len(res) != 3 {
		return contracts.Usage{}, fmt.Errorf("trust: invalid response from reserve script")
	}
	allowed, _ := res[0].(int64)
	if allowed != 1 {
		reason, _ := res[1].(string)
		n, _ := res[2].(int64)
		var rerr error
		switch reason {
		case ReasonCooldown, ReasonSameTypeCooldown:
			rerr = cooling(reason, time.Duration(n)*time.Millisecond)
		case ReasonTypeDailyCap:
			rerr = capExceeded(reason, int(n), "daily "+lim.ActionType)
		case ReasonDailyCap:
			rerr = capExceeded(reason, int(n), "daily action")
		default:
			rerr = capExceeded(reason, int(n), "weekly action")
		}
		u, uerr := r.Usage(ctx, actorID, lim.At)
		if uerr != nil {
			return contracts.Usage{}, rerr
		}
		return u, rerr
	}
	return r.Usage(ctx, actorID, lim.At)
}

func (r *RedisCounters) ReserveReward(ctx context.Context, actorID string, req RewardRequest) (float64, error) {
	day, week, _ := r.keys(actorID, req.At)
	s, err := reserveRewardScript.Run(ctx, r.client, []string{day, week},
		"r:"+req.ActionType,
		strconv.FormatFloat(req.Amount, 'f', -1, 64),
		strconv.FormatFloat(req.DailyCap, 'f', -1, 64),
		strconv.FormatFloat(req.WeeklyCap, 'f', -1, 64),
		int64(dayTTL/time.Second), int64(weekTTL/time.Second),
	).Text()
	if err != nil {
		return 0, fmt.Errorf("trust: redis reserve reward: %w", err)
	}
	g, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("trust: redis reserve reward: %w", err)
	}
	return g, nil
}

func (r *RedisCounters) Usage(ctx context.Context, actorID string, at time.Time) (contracts.Usage, error) {
	day, week, last := r.keys(actorID, at)
	pipe := r.client.Pipeline()
	dayCmd := pipe.HGetAll(ctx, day)
	weekCmd := pipe.HGetAll(ctx, week)
	lastCmd := pipe.HGet(ctx, last, "_all")
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return contracts.Usage{}, fmt.Errorf("trust: redis usage: %w", err)
	}

	u := contracts.Usage{
		Day:                DayKey(at),
		Week:               WeekKey(at),
		DailyByType:        map[string]int{},
		DailyRewardByType:  map[string]float64{},
		WeeklyRewardByType: map[string]float64{},
	}
	for f, v := range dayCmd.Val() {
		switch {
		case f == "_all":
			u.DailyActions, _ = strconv.Atoi(v)
		case strings.HasPrefix(f, "r:"):
			u.DailyRewardByType[f[2:]], _ = strconv.ParseFloat(v, 64)
		default:
			u.DailyByType[f], _ = strconv.Atoi(v)
		}
	}
	for f, v := range weekCmd.Val() {
		switch {
		case f == "_all":
			u.WeeklyActions, _ = strconv.Atoi(v)
		case strings.HasPrefix(f, "r:"):
			u.WeeklyRewardByType[f[2:]], _ = strconv.ParseFloat(v, 64)
		}
	}
	if ms, err := lastCmd.Int64(); err == nil && ms > 0 {
		t := time.UnixMilli(ms).UTC()
		u.LastActionAt = &t
	}
	return u, nil
}
