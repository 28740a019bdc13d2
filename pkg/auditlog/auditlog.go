// Package auditlog is an append-only, hash-chained record of policy
// publications, scoring decisions, mint transitions and admin actions.
// Each entry commits to its predecessor, so Verify detects any rewrite.
package auditlog

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/trang393934/angelaithutrang-sub004/pkg/canonicalize"
)

// Genesis is the previous hash of the first entry.
const Genesis = "genesis"

// Entry kinds.
const (
	KindPolicyPublished = "policy_published"
	KindActionDecided   = "action_decided"
	KindMintTransition  = "mint_transition"
	KindAuditFlag       = "audit_flag"
	KindAdmin           = "admin_action"
)

// Entry is one record in the log.
type Entry struct {
	Sequence uint64          `json:"sequence"`
	Kind     string          `json:"kind"`
	Subject  string          `json:"subject"`
	Payload  json.RawMessage `json:"payload"`
	PrevHash string          `json:"prev_hash"`
	Hash     string          `json:"hash"`
	At       time.Time       `json:"at"`
}

func (e *Entry) computeHash() (string, error) {
	return canonicalize.CanonicalHash(struct {
		Sequence uint64          `json:"sequence"`
		Kind     string          `json:"kind"`
		Subject  string          `json:"subject"`
		Payload  json.RawMessage `json:"payload"`
		PrevHash string          `json:"prev_hash"`
		At       string          `json:"at"`
	}{e.Sequence, e.Kind, e.Subject, e.Payload, e.PrevHash, e.At.UTC().Format(time.RFC3339Nano)})
}

// Store persists entries. A nil Store keeps the log in memory only.
type Store interface {
	Append(ctx context.Context, e Entry) error
	Load(ctx context.Context) ([]Entry, error)
}

// Log is the hash chain.
type Log struct {
	mu      sync.Mutex
	store   Store
	entries []Entry
	head    string
	clock   func() time.Time
}

func New(store Store) *Log {
	return &Log{store: store, head: Genesis, clock: time.Now}
}

// WithClock overrides clock for testing.
func (l *Log) WithClock(clock func() time.Time) *Log {
	l.clock = clock
	return l
}

// Restore loads persisted entries and verifies them before accepting appends.
func (l *Log) Restore(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	entries, err := l.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("auditlog: load: %w", err)
	}
	if err := verifyChain(entries); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = entries
	l.head = Genesis
	if n := len(entries); n > 0 {
		l.head = entries[n-1].Hash
	}
	return nil
}

// Append records payload under kind and subject.
func (l *Log) Append(ctx context.Context, kind, subject string, payload any) (*Entry, error) {
	raw, err := canonicalize.JCS(payload)
	if err != nil {
		return nil, fmt.Errorf("auditlog: payload: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	e := Entry{
		Sequence: uint64(len(l.entries)) + 1,
		Kind:     kind,
		Subject:  subject,
		Payload:  raw,
		PrevHash: l.head,
		At:       l.clock().UTC().Truncate(time.Microsecond),
	}
	if e.Hash, err = e.computeHash(); err != nil {
		return nil, err
	}
	if l.store != nil {
		if err := l.store.Append(ctx, e); err != nil {
			return nil, fmt.Errorf("auditlog: persist: %w", err)
		}
	}
	l.entries = append(l.entries, e)
	l.head = e.Hash
	return &e, nil
}

// Head returns the hash of the latest entry.
func (l *Log) Head() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.head
}

func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Entries returns entries with sequence greater than after, up to limit.
func (l *Log) Entries(after uint64, limit int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	if after >= uint64(len(l.entries)) {
		return nil
	}
	out := l.entries[after:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return append([]Entry(nil), out...)
}

// Verify checks the whole chain.
func (l *Log) Verify() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return verifyChain(l.entries)
}

func verifyChain(entries []Entry) error {
	prev := Genesis
	for i := range entries {
		e := &entries[i]
		if e.Sequence != uint64(i)+1 {
			return fmt.Errorf("auditlog: sequence gap at %d (found %d)", i+1, e.Sequence)
		}
		if e.PrevHash != prev {
			return fmt.Errorf("auditlog: chain broken at seq %d: expected prev %s, got %s", e.Sequence, prev, e.PrevHash)
		}
		want, err := e.computeHash()
		if err != nil {
			return err
		}
		if e.Hash != want {
			return fmt.Errorf("auditlog: hash mismatch at seq %d", e.Sequence)
		}
		prev = e.Hash
	}
	return nil
}
