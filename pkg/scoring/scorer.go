package scoring

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/trang393934/angelaithutrang-sub004/pkg/contracts"
	"github.com/trang393934/angelaithutrang-sub004/pkg/trust"
)

// CapReasonReward marks a reward truncated to the remaining reward cap.
const CapReasonReward = "reward_cap"

// Results is the persistence the scorer needs to score each action once.
type Results interface {
	// Lease claims the right to score a pending action until now+ttl. It
	// reports false while another holder's lease is live or once the action
	// is no longer pending.
	Lease(ctx context.Context, actionID, holder string, now time.Time, ttl time.Duration) (bool, error)
	// SaveScore moves the action from pending to scored and stores r. It
	// reports false when the action was already scored.
	SaveScore(ctx context.Context, r contracts.ScoreResult) (bool, error)
	// Score returns the stored result, or a NOT_FOUND error.
	Score(ctx context.Context, actionID string) (*contracts.ScoreResult, error)
}

// Scorer scores actions exactly once and applies reward caps.
type Scorer struct {
	results  Results
	counters trust.Counters
	holder   string
	leaseTTL time.Duration
	poll     time.Duration
	clock    func() time.Time
	logger   *slog.Logger
}

func NewScorer(results Results, counters trust.Counters) *Scorer {
	return &Scorer{
		results:  results,
		counters: counters,
		holder:   uuid.NewString(),
		leaseTTL: 30 * time.Second,
		poll:     25 * time.Millisecond,
		clock:    time.Now,
		logger:   slog.Default().With("component", "scoring"),
	}
}

// WithClock overrides the clock for deterministic testing.
func (s *Scorer) WithClock(clock func() time.Time) *Scorer {
	s.clock = clock
	return s
}

// Score returns the action's score, computing it if no scorer has yet. A
// caller that loses the race waits for and returns the winner's result.
func (s *Scorer) Score(ctx context.Context, in Input) (*contracts.ScoreResult, error) {
	id := in.Action.ActionID
	if r, err := s.results.Score(ctx, id); err == nil {
		return r, nil
	} else if contracts.CodeOf(err) != contracts.CodeNotFound {
		return nil, err
	}

	now := s.clock().UTC()
	won, err := s.results.Lease(ctx, id, s.holder, now, s.leaseTTL)
	if err != nil {
		return nil, fmt.Errorf("scoring: lease %s: %w", id, err)
	}
	if !won {
		return s.await(ctx, id)
	}

	r, err := Evaluate(in, now)
	if err != nil {
		return nil, err
	}
	if r.Decision == contracts.DecisionPass && r.RawReward > 0 {
		rule, _ := in.Policy.Rule(in.Action.ActionType)
		granted, err := s.counters.ReserveReward(ctx, in.Action.ActorID, trust.RewardRequest{
			ActionType: in.Action.ActionType,
			At:         now,
			Amount:     r.RawReward,
			DailyCap:   rule.DailyRewardCap,
			WeeklyCap:  rule.WeeklyRewardCap,
		})
		if err != nil {
			return nil, fmt.Errorf("scoring: reserve reward for %s: %w", id, err)
		}
		granted = round2(granted)
		if granted < r.RawReward {
			r.Capped = true
			r.CapReason = CapReasonReward
		}
		r.FinalReward = granted
	}

	saved, err := s.results.SaveScore(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("scoring: save %s: %w", id, err)
	}
	if !saved {
		s.logger.Warn("score already stored by another scorer", "action_id", id)
		return s.results.Score(ctx, id)
	}
	s.logger.Debug("action scored", "action_id", id, "decision", r.Decision, "light_score", r.LightScore,
		"final_reward", r.FinalReward, "capped", r.Capped)
	return &r, nil
}

func (s *Scorer) await(ctx context.Context, id string) (*contracts.ScoreResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.leaseTTL)
	defer cancel()
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()
	for {
		r, err := s.results.Score(ctx, id)
		if err == nil {
			return r, nil
		}
		if contracts.CodeOf(err) != contracts.CodeNotFound {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("scoring: waiting for %s: %w", id, ctx.Err())
		case <-ticker.C:
		}
	}
}
