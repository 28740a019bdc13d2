// Package trust tracks per-actor trust profiles and the counters behind the
// age gate and tiered rate limits. Every counter update is a single atomic
// read-modify-write scoped to one actor.
package trust

import (
	"context"
	"fmt"
	"time"

	"github.com/trang393934/angelaithutrang-sub004/pkg/contracts"
)

// Cap-exceeded reason codes.
const (
	ReasonCooldown         = "cooldown"
	ReasonSameTypeCooldown = "same_type_cooldown"
	ReasonTypeDailyCap     = "type_daily_cap"
	ReasonDailyCap         = "daily_cap"
	ReasonWeeklyCap        = "weekly_cap"
	ReasonQuota            = "api_key_quota"
)

// ActionLimits are the effective limits for one reservation. Zero caps and
// zero durations are unlimited.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type ActionLimits struct {
	ActionType       string
	At               time.Time
	PerTypeDaily     int
	Daily            int
	Weekly           int
	Cooldown         time.Duration
	SameTypeCooldown time.Duration
}

// RewardRequest asks for up to Amount of reward capacity for one action type.
type RewardRequest struct {
	ActionType string
	At         time.Time
	Amount     float64
	DailyCap   float64
	WeeklyCap  float64
}

// Profiles persists trust profiles.
type Profiles interface {
	// Register creates a profile. Registering an existing actor is a no-op.
	Register(ctx context.Context, p contracts.TrustProfile) error
	Get(ctx context.Context, actorID string) (*contracts.TrustProfile, error)
	// RaiseRisk sets risk to max(current, score) and returns the stored value.
	RaiseRisk(ctx context.Context, actorID string, score float64) (float64, error)
	// Suspend sets a temporary suspension. An earlier expiry never shortens a later one.
	Suspend(ctx context.Context, actorID string, until time.Time) error
	SuspendPermanently(ctx context.Context, actorID string) error
	// Reinstate clears every suspension and resets the accumulated risk.
	Reinstate(ctx context.Context, actorID string) error
	SetTier(ctx context.Context, actorID string, tier int) error
	// List returns profiles registered at or after since.
	List(ctx context.Context, since time.Time) ([]contracts.TrustProfile, error)
}

// Counters holds the rate-limit and reward counters.
type Counters interface {
	// ReserveAction checks every limit and records one action, or returns a
	// CAP_EXCEEDED error without recording anything.
	ReserveAction(ctx context.Context, actorID string, lim ActionLimits) (contracts.Usage, error)
	// ReserveReward grants min(amount, remaining daily cap, remaining weekly
	// cap) and records the grant.
	ReserveReward(ctx context.Context, actorID string, req RewardRequest) (float64, error)
	Usage(ctx context.Context, actorID string, at time.Time) (contracts.Usage, error)
}

// Store is a full trust backend.
type Store interface {
	Profiles
	Counters
}

type combined struct {
	Profiles
	Counters
}

// Combine pairs a profile store with a separate counter backend.
func Combine(p Profiles, c Counters) Store {
	return combined{Profiles: p, Counters: c}
}

// DayKey is the UTC calendar day of t.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// WeekKey is the ISO week of t in UTC.
func WeekKey(t time.Time) string {
	y, w := t.UTC().ISOWeek()
	return fmt.Sprintf("%04d-W%02d", y, w)
}

func capExceeded(reason string, limit int, scope string) error {
	return contracts.CapExceeded(reason, "%s limit of %d reached", scope, limit)
}

func cooling(reason string, wait time.Duration) error {
	return contracts.CapExceeded(reason, "too soon after the previous action, retry in %s", wait.Round(time.Second))
}

// checkLimits applies lim against current counts. last values are the
// previous action times, zero when absent.
func checkLimits(lim ActionLimits, lastAny, lastType time.Time, typeDaily, daily, weekly int) error {
	if lim.Cooldown > 0 && !lastAny.IsZero() {
		if since := lim.At.Sub(lastAny); since < lim.Cooldown {
			return cooling(ReasonCooldown, lim.Cooldown-since)
		}
	}
	if lim.SameTypeCooldown > 0 && !lastType.IsZero() {
		if since := lim.At.Sub(lastType); since < lim.SameTypeCooldown {
			return cooling(ReasonSameTypeCooldown, lim.SameTypeCooldown-since)
		}
	}
	if lim.PerTypeDaily > 0 && typeDaily >= lim.PerTypeDaily {
		return capExceeded(ReasonTypeDailyCap, lim.PerTypeDaily, "daily "+lim.ActionType)
	}
	if lim.Daily > 0 && daily >= lim.Daily {
		return capExceeded(ReasonDailyCap, lim.Daily, "daily action")
	}
	if lim.Weekly > 0 && weekly >= lim.Weekly {
		return capExceeded(ReasonWeeklyCap, lim.Weekly, "weekly action")
	}
	return nil
}

// grant returns how much of amount fits under the caps.
func grant(amount, dailyCap, dailyUsed, weeklyCap, weeklyUsed float64) float64 {
	g := amount
	if dailyCap > 0 && dailyCap-dailyUsed < g {
		g = dailyCap - dailyUsed
	}
	if weeklyCap > 0 && weeklyCap-weeklyUsed < g {
		g = weeklyCap - weeklyUsed
	}
	if g < 0 {
		return 0
	}
	return g
}
