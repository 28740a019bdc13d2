// Package anchor binds a submitted action and its evidence into a canonical,
// deterministically hashed record.
package anchor

import (
	"fmt"
	"strings"
	"time"

	"github.com/trang393934/angelaithutrang-sub004/pkg/canonicalize"
	"github.com/trang393934/angelaithutrang-sub004/pkg/contracts"
	"github.com/trang393934/angelaithutrang-sub004/pkg/evidence"
)

// Record is the fixed field set covered by canonical_hash. Origin and the
// server-assigned action_id are deliberately absent so identical content
// anchors identically.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type Record struct {
	PlatformID    string              `json:"platform_id"`
	ActionType    string              `json:"action_type"`
	ActorID       string              `json:"actor_id"`
	Timestamp     string              `json:"timestamp"`
	Metadata      map[string]any      `json:"metadata"`
	Evidence      []string            `json:"evidence"`
	EvidenceHash  string              `json:"evidence_hash"`
	Impact        contracts.Impact    `json:"impact"`
	Integrity     contracts.Integrity `json:"integrity"`
	PolicyVersion string              `json:"policy_version"`
}

// Result carries the anchoring output.
type Result struct {
	CanonicalHash string
	EvidenceHash  string
	Canonical     []byte
	Bundle        evidence.Bundle
}

// Anchorer computes canonical hashes.
type Anchorer struct {
	evidence *evidence.Registry
}

func New(reg *evidence.Registry) *Anchorer {
	if reg == nil {
		reg = evidence.NewRegistry()
	}
	return &Anchorer{evidence: reg}
}

// Anchor normalizes the evidence of a and computes both hashes. allowed
// restricts evidence types when non-empty. a is not modified.
func (an *Anchorer) Anchor(a *contracts.LightAction, allowed []string) (Result, error) {
	if err := checkRequired(a); err != nil {
		return Result{}, err
	}
	bundle, err := an.evidence.Anchor(a.Evidence, allowed)
	if err != nil {
		return Result{}, err
	}
	metadata := a.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	rec := Record{
		PlatformID:    strings.TrimSpace(a.PlatformID),
		ActionType:    strings.TrimSpace(a.ActionType),
		ActorID:       strings.TrimSpace(a.ActorID),
		Timestamp:     a.Timestamp.UTC().Format(time.RFC3339Nano),
		Metadata:      metadata,
		Evidence:      bundle.ItemHashes,
		EvidenceHash:  bundle.Hash,
		Impact:        a.Impact,
		Integrity:     a.Integrity,
		PolicyVersion: a.PolicyVersion,
	}
	canonical, err := canonicalize.JCS(rec)
	if err != nil {
		return Result{}, contracts.ValidationError("metadata_encoding", "action record cannot be canonicalized: %v", err)
	}
	return Result{
		CanonicalHash: canonicalize.HashBytes(canonical),
		EvidenceHash:  bundle.Hash,
		Canonical:     canonical,
		Bundle:        bundle,
	}, nil
}

func checkRequired(a *contracts.LightAction) error {
	missing := make([]string, 0, 4)
	if strings.TrimSpace(a.PlatformID) == "" {
		missing = append(missing, "platform_id")
	}
	if strings.TrimSpace(a.ActionType) == "" {
		missing = append(missing, "action_type")
	}
	if strings.TrimSpace(a.ActorID) == "" {
		missing = append(missing, "actor_id")
	}
	if a.Timestamp.IsZero() {
		missing = append(missing, "timestamp")
	}
	if len(missing) > 0 {
		return contracts.ValidationError("missing_field", "required fields missing: %s", strings.Join(missing, ", "))
	}
	if a.Impact.Beneficiaries < 0 || a.Impact.DurationDays < 0 || a.Integrity.Witnesses < 0 {
		return contracts.ValidationError("negative_value", "impact and integrity counts must not be negative")
	}
	return nil
}

// Verify recomputes the canonical hash of a stored action and compares it.
func (an *Anchorer) Verify(a *contracts.LightAction) error {
	res, err := an.Anchor(a, nil)
	if err != nil {
		return err
	}
	if res.CanonicalHash != a.CanonicalHash {
		return fmt.Errorf("anchor: canonical hash mismatch for %s: stored %s, computed %s", a.ActionID, a.CanonicalHash, res.CanonicalHash)
	}
	if res.EvidenceHash != a.EvidenceHash {
		return fmt.Errorf("anchor: evidence hash mismatch for %s", a.ActionID)
	}
	return nil
}
