package evidence

import (
	"fmt"
	"slices"
	"sync"

	"github.com/trang393934/angelaithutrang-sub004/pkg/canonicalize"
	"github.com/trang393934/angelaithutrang-sub004/pkg/contracts"
)

// MaxItems bounds the evidence list of a single action.
const MaxItems = 32

// Registry dispatches evidence items to their Kind.
type Registry struct {
	mu    sync.RWMutex
	kinds map[string]Kind
}

// NewRegistry returns a registry with the built-in kinds.
func NewRegistry() *Registry {
	r := &Registry{kinds: make(map[string]Kind)}
	for _, k := range []Kind{URLKind{}, TextKind{}, MediaKind{}, GeoKind{}, AttestationKind{}, TransactionKind{}} {
		r.kinds[k.Type()] = k
	}
	return r
}

// Register adds or replaces a kind.
func (r *Registry) Register(k Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds[k.Type()] = k
}

// Types lists registered type tags in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.kinds))
	for t := range r.kinds {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

// Bundle is a normalized evidence list with its hashes.
type Bundle struct {
	Items      []contracts.Evidence
	ItemHashes []string
	Hash       string
}

// Anchor normalizes items in submission order and computes the bundle hash.
// allowed, when non-empty, restricts the accepted types. An empty list yields
// the empty-bundle hash.
func (r *Registry) Anchor(items []contracts.Evidence, allowed []string) (Bundle, error) {
	if len(items) > MaxItems {
		return Bundle{}, invalid("evidence_count", "at most %d evidence items are accepted", MaxItems)
	}
	b := Bundle{
		Items:      make([]contracts.Evidence, 0, len(items)),
		ItemHashes: make([]string, 0, len(items)),
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for i, ev := range items {
		kind, ok := r.kinds[ev.Type]
		if !ok {
			return Bundle{}, invalid("evidence_type", "evidence[%d]: unknown type %q", i, ev.Type)
		}
		if len(allowed) > 0 && !slices.Contains(allowed, ev.Type) {
			return Bundle{}, invalid("evidence_type", "evidence[%d]: type %q not accepted for this action", i, ev.Type)
		}
		norm, err := kind.Normalize(ev)
		if err != nil {
			return Bundle{}, fmt.Errorf("evidence[%d]: %w", i, err)
		}
		h, err := ItemHash(norm)
		if err != nil {
			return Bundle{}, fmt.Errorf("evidence[%d]: %w", i, err)
		}
		b.Items = append(b.Items, norm)
		b.ItemHashes = append(b.ItemHashes, h)
	}
	b.Hash = canonicalize.HashConcat(b.ItemHashes)
	return b, nil
}
