// Package contracts holds the records exchanged between the engine's components
// and the error taxonomy surfaced to callers.
package contracts

import "time"

// ActionStatus is the lifecycle state of a submitted light action.
type ActionStatus string

const (
	ActionPending  ActionStatus = "pending"
	ActionScored   ActionStatus = "scored"
	ActionRejected ActionStatus = "rejected"
)

// LightAction is a single contribution event. It is created once per
// submission and is immutable after scoring.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type LightAction struct {
	ActionID      string         `json:"action_id"`
	PlatformID    string         `json:"platform_id"`
	ActionType    string         `json:"action_type"`
	ActorID       string         `json:"actor_id"`
	Timestamp     time.Time      `json:"timestamp"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	Evidence      []Evidence     `json:"evidence,omitempty"`
	Impact        Impact         `json:"impact"`
	Integrity     Integrity      `json:"integrity"`
	Origin        Origin         `json:"origin"`
	CanonicalHash string         `json:"canonical_hash"`
	EvidenceHash  string         `json:"evidence_hash"`
	PolicyVersion string         `json:"policy_version"`
	Status        ActionStatus   `json:"status"`
	RejectReason  string         `json:"reject_reason,omitempty"`
	// Admitted is set once the action holds its rate-limit slot.
	Admitted bool `json:"admitted,omitempty"`
}

// Impact describes the reach of an action as reported by the submitting platform.
type Impact struct {
	Beneficiaries int    `json:"beneficiaries"`
	DurationDays  int    `json:"duration_days"`
	Scope         string `json:"scope"` // personal, community, regional, global
}

// Integrity carries the submitter's own integrity claims. The trust layer
// derives the integrity multiplier from these plus its own signals.
type Integrity struct {
	SelfReported   bool `json:"self_reported"`
	SourceVerified bool `json:"source_verified"`
	Witnesses      int  `json:"witnesses"`
}

// Origin is request context used by the fraud detectors. It is not part of the
// canonical record.
type Origin struct {
	IP                string `json:"ip,omitempty"`
	DeviceFingerprint string `json:"device_fingerprint,omitempty"`
	UserAgent         string `json:"user_agent,omitempty"`
}

// Evidence is one item of proof attached to an action. Type selects the
// validation and hashing rule.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type Evidence struct {
	Type        string         `json:"type"`
	Value       string         `json:"value,omitempty"`
	URI         string         `json:"uri,omitempty"`
	ContentHash string         `json:"content_hash,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// SubmitResult is returned by the ingestion call.
type SubmitResult struct {
	ActionID      string       `json:"action_id"`
	CanonicalHash string       `json:"canonical_hash"`
	EvidenceHash  string       `json:"evidence_hash"`
	Status        ActionStatus `json:"status"`
	Decision      Decision     `json:"decision,omitempty"`
	LightScore    *float64     `json:"light_score,omitempty"`
	FinalReward   *float64     `json:"final_reward,omitempty"`
	Capped        bool         `json:"capped,omitempty"`
	HoldUntil     *time.Time   `json:"hold_until,omitempty"`
}
