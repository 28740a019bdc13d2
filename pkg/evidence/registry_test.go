package evidence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trang393934/angelaithutrang-sub004/pkg/canonicalize"
	"github.com/trang393934/angelaithutrang-sub004/pkg/contracts"
)

var photoHash = canonicalize.HashBytes([]byte("photo"))

func TestAnchor_EmptyBundle(t *testing.T) {
	b, err := NewRegistry().Anchor(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, canonicalize.EmptyHash, b.Hash)
	assert.Empty(t, b.Items)
}

func TestAnchor_Deterministic(t *testing.T) {
	r := NewRegistry()
	items := []contracts.Evidence{
		{Type: TypeURL, URI: "HTTPS://Example.org/post/1#top"},
		{Type: TypeText, Value: "  planted 20 trees  "},
		{Type: TypeGeo, Metadata: map[string]any{"lon": 105.8, "lat": 21.0}},
	}
	reordered := []contracts.Evidence{
		{Type: TypeURL, URI: "https://example.org/post/1"},
		{Type: TypeText, Value: "planted 20 trees"},
		{Type: TypeGeo, Metadata: map[string]any{"lat": 21.0, "lon": 105.8}},
	}

	b1, err := r.Anchor(items, nil)
	require.NoError(t, err)
	b2, err := r.Anchor(reordered, nil)
	require.NoError(t, err)
	assert.Equal(t, b1.Hash, b2.Hash)
	assert.Equal(t, b1.ItemHashes, b2.ItemHashes)
	assert.Equal(t, "https://example.org/post/1", b1.Items[0].URI)
}

func TestAnchor_OrderSensitive(t *testing.T) {
	r := NewRegistry()
	a := contracts.Evidence{Type: TypeText, Value: "one"}
	b := contracts.Evidence{Type: TypeText, Value: "two"}

	b1, err := r.Anchor([]contracts.Evidence{a, b}, nil)
	require.NoError(t, err)
	b2, err := r.Anchor([]contracts.Evidence{b, a}, nil)
	require.NoError(t, err)
	assert.NotEqual(t, b1.Hash, b2.Hash)
}

func TestAnchor_SemanticChangeChangesHash(t *testing.T) {
	r := NewRegistry()
	b1, err := r.Anchor([]contracts.Evidence{{Type: TypeTransaction, Value: "0xABC"}}, nil)
	require.NoError(t, err)
	b2, err := r.Anchor([]contracts.Evidence{{Type: TypeTransaction, Value: "0xabc"}}, nil)
	require.NoError(t, err)
	b3, err := r.Anchor([]contracts.Evidence{{Type: TypeTransaction, Value: "0xabd"}}, nil)
	require.NoError(t, err)

	assert.Equal(t, b1.Hash, b2.Hash)
	assert.NotEqual(t, b1.Hash, b3.Hash)
}

func TestAnchor_Validation(t *testing.T) {
	tests := []struct {
		name   string
		ev     contracts.Evidence
		reason string
	}{
		{"unknown type", contracts.Evidence{Type: "smell"}, "evidence_type"},
		{"relative url", contracts.Evidence{Type: TypeURL, URI: "/local"}, "evidence_url"},
		{"ftp url", contracts.Evidence{Type: TypeURL, URI: "ftp://x.org/a"}, "evidence_url"},
		{"empty text", contracts.Evidence{Type: TypeText, Value: "   "}, "evidence_text"},
		{"media without hash", contracts.Evidence{Type: TypeMedia, URI: "s3://b/k"}, "evidence_hash"},
		{"media without uri", contracts.Evidence{Type: TypeMedia, ContentHash: photoHash}, "evidence_media"},
		{"geo out of range", contracts.Evidence{Type: TypeGeo, Metadata: map[string]any{"lat": 91, "lon": 0}}, "evidence_metadata"},
		{"geo missing lon", contracts.Evidence{Type: TypeGeo, Metadata: map[string]any{"lat": 10}}, "evidence_metadata"},
		{"attestation without signature", contracts.Evidence{Type: TypeAttestation, Value: "ngo-1", Metadata: map[string]any{"statement": "ok"}}, "evidence_metadata"},
		{"empty transaction", contracts.Evidence{Type: TypeTransaction}, "evidence_transaction"},
	}
	r := NewRegistry()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Anchor([]contracts.Evidence{tt.ev}, nil)
			require.Error(t, err)
			assert.Equal(t, contracts.CodeValidation, contracts.CodeOf(err))
			assert.Equal(t, tt.reason, contracts.ReasonOf(err))
		})
	}
}

func TestAnchor_AllowedTypes(t *testing.T) {
	r := NewRegistry()
	_, err := r.Anchor([]contracts.Evidence{{Type: TypeText, Value: "hi"}}, []string{TypeTransaction})
	require.Error(t, err)
	assert.Equal(t, "evidence_type", contracts.ReasonOf(err))

	_, err = r.Anchor([]contracts.Evidence{{Type: TypeMedia, URI: "s3://b/k", ContentHash: photoHash, Metadata: map[string]any{"mime": "image/jpeg", "size": 2048}}}, []string{TypeMedia})
	require.NoError(t, err)
}

func TestAnchor_TooMany(t *testing.T) {
	items := make([]contracts.Evidence, MaxItems+1)
	for i := range items {
		items[i] = contracts.Evidence{Type: TypeText, Value: "x"}
	}
	_, err := NewRegistry().Anchor(items, nil)
	assert.Equal(t, "evidence_count", contracts.ReasonOf(err))
}

type customKind struct{}

func (customKind) Type() string { return "badge" }
func (customKind) Normalize(ev contracts.Evidence) (contracts.Evidence, error) {
	return ev, nil
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()
	r.Register(customKind{})
	assert.Contains(t, r.Types(), "badge")

	_, err := r.Anchor([]contracts.Evidence{{Type: "badge", Value: "gold"}}, nil)
	require.NoError(t, err)
}
