package anchor

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trang393934/angelaithutrang-sub004/pkg/canonicalize"
	"github.com/trang393934/angelaithutrang-sub004/pkg/contracts"
)

func action(t *testing.T, metadataJSON string) *contracts.LightAction {
	t.Helper()
	var md map[string]any
	require.NoError(t, json.Unmarshal([]byte(metadataJSON), &md))
	return &contracts.LightAction{
		ActionID:      "a-1",
		PlatformID:    "web",
		ActionType:    "volunteer",
		ActorID:       "actor-1",
		Timestamp:     time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		Metadata:      md,
		Evidence:      []contracts.Evidence{{Type: "text", Value: "cleaned the beach"}},
		Impact:        contracts.Impact{Beneficiaries: 40, DurationDays: 1, Scope: "community"},
		PolicyVersion: "1.0.0",
	}
}

func TestAnchor_DeterministicAcrossKeyOrderAndWhitespace(t *testing.T) {
	an := New(nil)
	a := action(t, `{"title":"Beach","tags":["sea","trash"],"hours":3}`)
	b := action(t, "{\n  \"hours\": 3,\n  \"tags\": [\"sea\", \"trash\"],\n  \"title\": \"Beach\"\n}")
	b.ActionID = "a-2"
	b.Timestamp = a.Timestamp.In(time.FixedZone("ICT", 7*3600))

	r1, err := an.Anchor(a, nil)
	require.NoError(t, err)
	r2, err := an.Anchor(b, nil)
	require.NoError(t, err)

	assert.Equal(t, r1.CanonicalHash, r2.CanonicalHash)
	assert.Equal(t, r1.EvidenceHash, r2.EvidenceHash)
	assert.Equal(t, string(r1.Canonical), string(r2.Canonical))
}

func TestAnchor_SensitiveToSemanticChange(t *testing.T) {
	an := New(nil)
	base, err := an.Anchor(action(t, `{"hours":3}`), nil)
	require.NoError(t, err)

	changes := map[string]func(a *contracts.LightAction){
		"metadata":  func(a *contracts.LightAction) { a.Metadata["hours"] = 4.0 },
		"impact":    func(a *contracts.LightAction) { a.Impact.Beneficiaries = 41 },
		"integrity": func(a *contracts.LightAction) { a.Integrity.Witnesses = 1 },
		"evidence":  func(a *contracts.LightAction) { a.Evidence[0].Value = "cleaned the park" },
		"policy":    func(a *contracts.LightAction) { a.PolicyVersion = "1.1.0" },
		"actor":     func(a *contracts.LightAction) { a.ActorID = "actor-2" },
	}
	for name, mutate := range changes {
		t.Run(name, func(t *testing.T) {
			a := action(t, `{"hours":3}`)
			mutate(a)
			r, err := an.Anchor(a, nil)
			require.NoError(t, err)
			assert.NotEqual(t, base.CanonicalHash, r.CanonicalHash)
		})
	}
}

func TestAnchor_EmptyEvidence(t *testing.T) {
	a := action(t, `{}`)
	a.Evidence = nil
	r, err := New(nil).Anchor(a, nil)
	require.NoError(t, err)
	assert.Equal(t, canonicalize.EmptyHash, r.EvidenceHash)
	assert.True(t, canonicalize.IsHash(r.CanonicalHash))
}

func TestAnchor_MissingFields(t *testing.T) {
	a := action(t, `{}`)
	a.ActorID = " "
	a.Timestamp = time.Time{}
	_, err := New(nil).Anchor(a, nil)
	require.Error(t, err)
	assert.Equal(t, contracts.CodeValidation, contracts.CodeOf(err))
	assert.Contains(t, err.Error(), "actor_id")
	assert.Contains(t, err.Error(), "timestamp")
}

func TestVerify(t *testing.T) {
	an := New(nil)
	a := action(t, `{"hours":3}`)
	r, err := an.Anchor(a, nil)
	require.NoError(t, err)
	a.CanonicalHash = r.CanonicalHash
	a.EvidenceHash = r.EvidenceHash
	require.NoError(t, an.Verify(a))

	a.Metadata["hours"] = 30.0
	require.Error(t, an.Verify(a))
}
