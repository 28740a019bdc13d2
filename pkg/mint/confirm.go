package mint

import (
	"context"
	"errors"
	"time"

	"github.com/trang393934/angelaithutrang-sub004/pkg/contracts"
	"github.com/trang393934/angelaithutrang-sub004/pkg/fraud"
)

// ErrConfirmTimeout is returned when the ledger did not reach the awaited
// stage in time. The request is left untouched.
var ErrConfirmTimeout = errors.New("mint: confirmation timed out")

// Confirmer reconciles transitions submitted outside the engine, such as a
// user activating from their own wallet, by polling the actor's allocation.
type Confirmer struct {
	svc      *Service
	interval time.Duration
	timeout  time.Duration
}

func NewConfirmer(svc *Service, interval, timeout time.Duration) *Confirmer {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Confirmer{svc: svc, interval: interval, timeout: timeout}
}

// Await polls until the ledger shows requestID at target or beyond, then
// records the missing transitions one step at a time. Cancelling ctx stops
// polling and leaves the request as it was.
func (c *Confirmer) Await(ctx context.Context, requestID string, target contracts.MintStatus) (*contracts.MintRequest, error) {
	m, err := c.svc.store.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if m.Status != contracts.MintFailed && m.Status.Rank() >= target.Rank() {
		return m, nil
	}
	if m.Status.Rank() < contracts.MintLocked.Rank() {
		return m, contracts.NewError(contracts.CodeInvalidTransition, "not_on_ledger",
			"mint request %s is %s and cannot be confirmed", requestID, m.Status)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		alloc, err := c.svc.gw.Allocation(ctx, m.ActorID)
		if err == nil && alloc.Stage(requestID).Rank() >= target.Rank() {
			return c.catchUp(ctx, requestID, target)
		}
		if err != nil && !contracts.IsRetryable(err) && ctx.Err() == nil {
			return m, err
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return m, ErrConfirmTimeout
			}
			return m, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Confirmer) catchUp(ctx context.Context, requestID string, target contracts.MintStatus) (*contracts.MintRequest, error) {
	m, err := c.svc.store.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	unlock := c.svc.lockActor(m.ActorID)
	defer unlock()
	if m, err = c.svc.store.Get(ctx, requestID); err != nil {
		return nil, err
	}
	for m.Status.Rank() >= 0 && m.Status.Rank() < target.Rank() {
		next := contracts.MintActivated
		if m.Status == contracts.MintActivated {
			next = contracts.MintClaimed
		}
		if err := c.svc.step(ctx, m, next); err != nil {
			return m, err
		}
	}
	return m, nil
}

// MintedSince lists ledger-backed requests created at or after since in the
// form the random auditor samples.
func (s *Service) MintedSince(ctx context.Context, since time.Time) ([]fraud.MintedAction, error) {
	reqs, err := s.store.MintedSince(ctx, since)
	if err != nil {
		return nil, err
	}
	out := make([]fraud.MintedAction, 0, len(reqs))
	for _, m := range reqs {
		out = append(out, fraud.MintedAction{ActionID: m.ActionID, ActorID: m.ActorID, MintedAt: m.CreatedAt})
	}
	return out, nil
}

var _ fraud.MintedSource = (*Service)(nil)
