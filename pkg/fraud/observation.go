package fraud

import (
	"context"
	"time"

	"github.com/trang393934/angelaithutrang-sub004/pkg/contracts"
)

// Observation is what the pipeline publishes about each submitted action.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type Observation struct {
	ActionID          string
	ActorID           string
	ActionType        string
	PlatformID        string
	At                time.Time
	IP                string
	DeviceFingerprint string
	// Text is the free text of the action: metadata title and description
	// plus text evidence.
	Text         string
	EvidenceHash string
	// Counterparties are other actors the action credits, such as a mentee
	// or the recipient of gratitude.
	Counterparties []string
	Decision       contracts.Decision
}

// Detector turns observations into risk signals. Implementations are called
// from several bus workers at once.
type Detector interface {
	Name() string
	Observe(ctx context.Context, o Observation) []contracts.Signal
}

// Wire subscribes each detector to obs and republishes its signals on sigs.
func Wire(obs *Bus[Observation], sigs *Bus[contracts.Signal], detectors ...Detector) {
	for _, d := range detectors {
		obs.Subscribe(func(ctx context.Context, o Observation) error {
			for _, s := range d.Observe(ctx, o) {
				sigs.Publish(ctx, s)
			}
			return nil
		})
	}
}

// IngestHandler feeds bus signals into the accumulator.
func IngestHandler(acc *Accumulator) Handler[contracts.Signal] {
	return func(ctx context.Context, s contracts.Signal) error {
		_, err := acc.Ingest(ctx, s)
		return err
	}
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func signal(actorID string, kind contracts.SignalKind, strength float64, at time.Time, detail string) contracts.Signal {
	return contracts.Signal{
		ActorID:    actorID,
		Kind:       kind,
		Strength:   clamp01(strength),
		Detail:     detail,
		ObservedAt: at,
	}
}
