package fraud

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/trang393934/angelaithutrang-sub004/pkg/contracts"
)

// CollisionDetector flags actors that share an identifier such as a device
// fingerprint or source IP within a sliding window.
type CollisionDetector struct {
	kind   contracts.SignalKind
	key    func(Observation) string
	window time.Duration
	// minActors is the first sharing count that raises a signal; saturate is
	// the count at which strength reaches 1.
	minActors int
	saturate  int

	mu   sync.Mutex
	seen map[string]map[string]time.Time
}

// NewDeviceDetector flags two or more actors on one device fingerprint.
func NewDeviceDetector(window time.Duration) *CollisionDetector {
	return &CollisionDetector{
		kind:      contracts.SignalDeviceCollision,
		key:       func(o Observation) string { return o.DeviceFingerprint },
		window:    window,
		minActors: 2,
		saturate:  3,
		seen:      make(map[string]map[string]time.Time),
	}
}

// NewIPDetector flags three or more actors behind one IP. Shared NAT is
// common, so the bar is higher than for devices.
func NewIPDetector(window time.Duration) *CollisionDetector {
	return &CollisionDetector{
		kind:      contracts.SignalIPCollision,
		key:       func(o Observation) string { return o.IP },
		window:    window,
		minActors: 3,
		saturate:  8,
		seen:      make(map[string]map[string]time.Time),
	}
}

func (d *CollisionDetector) Name() string { return string(d.kind) }

func (d *CollisionDetector) Observe(_ context.Context, o Observation) []contracts.Signal {
	k := d.key(o)
	if k == "" || o.ActorID == "" {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	actors, ok := d.seen[k]
	if !ok {
		actors = make(map[string]time.Time)
		d.seen[k] = actors
	}
	actors[o.ActorID] = o.At
	for id, last := range actors {
		if d.window > 0 && o.At.Sub(last) > d.window {
			delete(actors, id)
		}
	}
	n := len(actors)
	if n < d.minActors {
		return nil
	}
	strength := 1.0
	if d.saturate > d.minActors {
		strength = 0.5 + 0.5*float64(n-d.minActors)/float64(d.saturate-d.minActors)
	}
	ids := make([]string, 0, n)
	for id := range actors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]contracts.Signal, 0, n)
	for _, id := range ids {
		out = append(out, signal(id, d.kind, strength, o.At, fmt.Sprintf("%d actors share %s", n, d.kind)))
	}
	return out
}

// TimingDetector flags machine-regular submission intervals. Human activity
// has a high coefficient of variation between actions; scripted activity does not.
type TimingDetector struct {
	history  int
	minGaps  int
	maxCV    float64
	mu       sync.Mutex
	arrivals map[string][]time.Time
}

func NewTimingDetector() *TimingDetector {
	return &TimingDetector{
		history:  20,
		minGaps:  5,
		maxCV:    0.1,
		arrivals: make(map[string][]time.Time),
	}
}

func (d *TimingDetector) Name() string { return string(contracts.SignalTimingAnomaly) }

// CoefficientOfVariation returns stddev/mean of the gaps between sorted times.
func CoefficientOfVariation(times []time.Time) (float64, bool) {
	if len(times) < 3 {
		return 0, false
	}
	gaps := make([]float64, 0, len(times)-1)
	for i := 1; i < len(times); i++ {
		gaps = append(gaps, times[i].Sub(times[i-1]).Seconds())
	}
	var mean float64
	for _, g := range gaps {
		mean += g
	}
	mean /= float64(len(gaps))
	if mean <= 0 {
		return 0, true
	}
	var variance float64
	for _, g := range gaps {
		variance += (g - mean) * (g - mean)
	}
	variance /= float64(len(gaps))
	return math.Sqrt(variance) / mean, true
}

func (d *TimingDetector) Observe(_ context.Context, o Observation) []contracts.Signal {
	if o.ActorID == "" {
		return nil
	}
	d.mu.Lock()
	ts := append(d.arrivals[o.ActorID], o.At)
	sort.Slice(ts, func(i, j int) bool { return ts[i].Before(ts[j]) })
	if len(ts) > d.history {
		ts = ts[len(ts)-d.history:]
	}
	d.arrivals[o.ActorID] = ts
	window := append([]time.Time(nil), ts...)
	d.mu.Unlock()

	if len(window)-1 < d.minGaps {
		return nil
	}
	cv, ok := CoefficientOfVariation(window)
	if !ok || cv >= d.maxCV {
		return nil
	}
	strength := 1 - cv/d.maxCV
	return []contracts.Signal{signal(o.ActorID, contracts.SignalTimingAnomaly, strength, o.At,
		fmt.Sprintf("interval cv %.3f over %d actions", cv, len(window)))}
}

// BehaviorDetector flags actors whose submissions mostly fail scoring.
type BehaviorDetector struct {
	minScored int
	minRate   float64
	mu        sync.Mutex
	tally     map[string][2]int
}

func NewBehaviorDetector() *BehaviorDetector {
	return &BehaviorDetector{minScored: 5, minRate: 0.3, tally: make(map[string][2]int)}
}

func (d *BehaviorDetector) Name() string { return string(contracts.SignalLowBehavior) }

func (d *BehaviorDetector) Observe(_ context.Context, o Observation) []contracts.Signal {
	if o.ActorID == "" || o.Decision == "" {
		return nil
	}
	d.mu.Lock()
	t := d.tally[o.ActorID]
	t[0]++
	if o.Decision == contracts.DecisionPass {
		t[1]++
	}
	d.tally[o.ActorID] = t
	d.mu.Unlock()

	if t[0] < d.minScored {
		return nil
	}
	rate := float64(t[1]) / float64(t[0])
	if rate >= d.minRate {
		return nil
	}
	return []contracts.Signal{signal(o.ActorID, contracts.SignalLowBehavior, 1-rate/d.minRate, o.At,
		fmt.Sprintf("%d of %d actions passed", t[1], t[0]))}
}
