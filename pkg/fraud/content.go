package fraud

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/trang393934/angelaithutrang-sub004/pkg/contracts"
)

const shingleSize = 3

// NormalizeText folds text for comparison: NFKC, case folding, and
// punctuation collapsed to single spaces.
func NormalizeText(s string) string {
	s = cases.Fold().String(norm.NFKC.String(s))
	var b strings.Builder
	space := true
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}

// Shingles returns the set of word n-grams of normalized text. Texts shorter
// than one shingle yield a single shingle of the whole text.
func Shingles(normalized string) map[string]struct{} {
	words := strings.Fields(normalized)
	out := make(map[string]struct{})
	if len(words) == 0 {
		return out
	}
	if len(words) < shingleSize {
		out[strings.Join(words, " ")] = struct{}{}
		return out
	}
	for i := 0; i+shingleSize <= len(words); i++ {
		out[strings.Join(words[i:i+shingleSize], " ")] = struct{}{}
	}
	return out
}

// Jaccard is |a∩b| / |a∪b|.
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

type contentEntry struct {
	actorID  string
	actionID string
	shingles map[string]struct{}
}

// ContentDetector flags near-duplicate text, reused evidence bundles and
// low-effort filler.
type ContentDetector struct {
	threshold float64
	capacity  int

	mu       sync.Mutex
	recent   []contentEntry
	evidence map[string]string
}

func NewContentDetector() *ContentDetector {
	return &ContentDetector{
		threshold: 0.8,
		capacity:  5000,
		evidence:  make(map[string]string),
	}
}

func (d *ContentDetector) Name() string { return string(contracts.SignalContentDuplication) }

// spamScore rates filler text: few distinct words across many, or long runs
// of one character.
func spamScore(normalized string) float64 {
	words := strings.Fields(normalized)
	if len(words) >= 10 {
		distinct := make(map[string]struct{}, len(words))
		for _, w := range words {
			distinct[w] = struct{}{}
		}
		if ratio := float64(len(distinct)) / float64(len(words)); ratio < 0.3 {
			return 0.6
		}
	}
	run, prev := 0, rune(0)
	for _, r := range normalized {
		if r == prev {
			run++
			if run >= 8 {
				return 0.5
			}
		} else {
			run, prev = 1, r
		}
	}
	return 0
}

func (d *ContentDetector) Observe(_ context.Context, o Observation) []contracts.Signal {
	if o.ActorID == "" {
		return nil
	}
	var out []contracts.Signal
	text := NormalizeText(o.Text)
	sh := Shingles(text)

	d.mu.Lock()
	if o.EvidenceHash != "" {
		if owner, ok := d.evidence[o.EvidenceHash]; ok && owner != o.ActionID {
			out = append(out, signal(o.ActorID, contracts.SignalContentDuplication, 1, o.At,
				"evidence bundle reused from "+owner))
		} else if !ok {
			d.evidence[o.EvidenceHash] = o.ActionID
		}
	}
	best, bestActor := 0.0, ""
	if len(sh) > 0 {
		for _, e := range d.recent {
			if e.actionID == o.ActionID {
				continue
			}
			if j := Jaccard(sh, e.shingles); j > best {
				best, bestActor = j, e.actorID
			}
		}
		d.recent = append(d.recent, contentEntry{actorID: o.ActorID, actionID: o.ActionID, shingles: sh})
		if len(d.recent) > d.capacity {
			d.recent = d.recent[len(d.recent)-d.capacity:]
		}
	}
	d.mu.Unlock()

	if best >= d.threshold {
		detail := fmt.Sprintf("text %.0f%% similar to an earlier action", best*100)
		if bestActor != o.ActorID {
			detail += " by " + bestActor
		}
		out = append(out, signal(o.ActorID, contracts.SignalContentDuplication, best, o.At, detail))
	}
	if s := spamScore(text); s > 0 {
		out = append(out, signal(o.ActorID, contracts.SignalContentDuplication, s, o.At, "low-effort text"))
	}
	return out
}
