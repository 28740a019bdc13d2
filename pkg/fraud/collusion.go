package fraud

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/trang393934/angelaithutrang-sub004/pkg/contracts"
)

// CollusionDetector flags pairs of actors who mostly credit each other, the
// shape of reciprocal reward farming.
type CollusionDetector struct {
	minEdges      int
	concentration float64

	mu    sync.Mutex
	out   map[string]map[string]int
	total map[string]int
}

func NewCollusionDetector() *CollusionDetector {
	return &CollusionDetector{
		minEdges:      3,
		concentration: 0.6,
		out:           make(map[string]map[string]int),
		total:         make(map[string]int),
	}
}

func (d *CollusionDetector) Name() string { return string(contracts.SignalCollusion) }

func (d *CollusionDetector) share(from, to string) (int, float64) {
	n := d.out[from][to]
	if d.total[from] == 0 {
		return n, 0
	}
	return n, float64(n) / float64(d.total[from])
}

func (d *CollusionDetector) Observe(_ context.Context, o Observation) []contracts.Signal {
	if o.ActorID == "" || len(o.Counterparties) == 0 {
		return nil
	}
	peers := append([]string(nil), o.Counterparties...)
	sort.Strings(peers)

	d.mu.Lock()
	defer d.mu.Unlock()
	edges, ok := d.out[o.ActorID]
	if !ok {
		edges = make(map[string]int)
		d.out[o.ActorID] = edges
	}
	var sigs []contracts.Signal
	for _, peer := range peers {
		if peer == "" || peer == o.ActorID {
			continue
		}
		edges[peer]++
		d.total[o.ActorID]++
	}
	for _, peer := range peers {
		if peer == "" || peer == o.ActorID {
			continue
		}
		ab, fa := d.share(o.ActorID, peer)
		ba, fb := d.share(peer, o.ActorID)
		if ab < d.minEdges || ba < d.minEdges || fa < d.concentration || fb < d.concentration {
			continue
		}
		strength := fa
		if fb < strength {
			strength = fb
		}
		detail := fmt.Sprintf("mutual crediting %s<->%s (%d/%d)", o.ActorID, peer, ab, ba)
		sigs = append(sigs,
			signal(o.ActorID, contracts.SignalCollusion, strength, o.At, detail),
			signal(peer, contracts.SignalCollusion, strength, o.At, detail))
	}
	return sigs
}
