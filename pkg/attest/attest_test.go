package attest

import (
	"crypto/ed25519"
	"encoding/hex"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trang393934/angelaithutrang-sub004/pkg/contracts"
)

func testClaim() Claim {
	return Claim{ActorID: "actor-1", Wallet: "0xabc", Amount: 120.5, ActionID: "act-1", Nonce: 3}
}

func TestDigestIsKeccakOfCanonicalClaim(t *testing.T) {
	d1, err := Digest(testClaim())
	require.NoError(t, err)
	d2, err := Digest(testClaim())
	require.NoError(t, err)
	assert.Len(t, d1, 32)
	assert.Equal(t, d1, d2)

	other := testClaim()
	other.Nonce = 4
	d3, err := Digest(other)
	require.NoError(t, err)
	assert.NotEqual(t, d1, d3)
}

func TestClaimForLowercasesWallet(t *testing.T) {
	c := ClaimFor(&contracts.MintRequest{ActorID: "a", WalletAddress: "0xABCdef", Amount: 5, ActionID: "x", Nonce: 1})
	assert.Equal(t, "0xabcdef", c.Wallet)
}

func TestSignAndVerify(t *testing.T) {
	s, err := NewSigner("k1")
	require.NoError(t, err)
	sig, err := s.Sign(testClaim())
	require.NoError(t, err)

	ok, err := Verify(s.PublicKey(), sig, testClaim())
	require.NoError(t, err)
	assert.True(t, ok)

	tampered := testClaim()
	tampered.Amount = 9999
	ok, err = Verify(s.PublicKey(), sig, tampered)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = Verify("zz", sig, testClaim())
	assert.Error(t, err)
}

func TestKeyRing(t *testing.T) {
	s1, err := NewSigner("k1")
	require.NoError(t, err)
	s2, err := NewSigner("k2")
	require.NoError(t, err)
	ring := NewKeyRing()
	ring.AddSigner(s1)
	ring.AddSigner(s2)

	sig, err := s2.Sign(testClaim())
	require.NoError(t, err)
	require.NoError(t, ring.Verify("k2", sig, testClaim()))
	assert.ErrorIs(t, ring.Verify("k1", sig, testClaim()), ErrBadSignature)
	assert.ErrorIs(t, ring.Verify("k9", sig, testClaim()), ErrUnknownKey)

	ring.Revoke("k2")
	assert.ErrorIs(t, ring.Verify("k2", sig, testClaim()), ErrUnknownKey)
}

func TestSeedRoundTrip(t *testing.T) {
	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = byte(i)
	}
	s, err := NewSignerFromSeed(hex.EncodeToString(seed), "k1")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "attester.key")
	require.NoError(t, s.WriteSeed(path))
	loaded, err := LoadSigner(path, "k1")
	require.NoError(t, err)
	assert.Equal(t, s.PublicKey(), loaded.PublicKey())

	_, err = NewSignerFromSeed("abcd", "k1")
	assert.Error(t, err)
}
