// Package attest produces and checks the attester signature that authorizes a
// ledger lock. The attester signs the Keccak-256 digest of the canonical claim
// (actor, wallet, amount, action_id, nonce) with a backend-held Ed25519 key.
package attest

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/crypto/sha3"

	"github.com/trang393934/angelaithutrang-sub004/pkg/canonicalize"
	"github.com/trang393934/angelaithutrang-sub004/pkg/contracts"
)

var (
	ErrUnknownKey   = errors.New("attest: unknown key id")
	ErrBadSignature = errors.New("attest: signature does not match claim")
)

// Claim is the exact set of fields covered by an attestation.
type Claim struct {
	ActorID  string  `json:"actor"`
	Wallet   string  `json:"wallet"`
	Amount   float64 `json:"amount"`
	ActionID string  `json:"action_id"`
	Nonce    uint64  `json:"nonce"`
}

// ClaimFor extracts the signed fields of a mint request.
func ClaimFor(m *contracts.MintRequest) Claim {
	return Claim{
		ActorID:  m.ActorID,
		Wallet:   strings.ToLower(m.WalletAddress),
		Amount:   m.Amount,
		ActionID: m.ActionID,
		Nonce:    m.Nonce,
	}
}

// Digest returns Keccak-256 over the RFC 8785 form of c.
func Digest(c Claim) ([]byte, error) {
	b, err := canonicalize.JCS(c)
	if err != nil {
		return nil, fmt.Errorf("attest: canonicalize claim: %w", err)
	}
	h := sha3.NewLegacyKeccak256()
	h.Write(b)
	return h.Sum(nil), nil
}

// Signer is an Ed25519 attester key.
type Signer struct {
	privKey ed25519.PrivateKey
	pubKey  ed25519.PublicKey
	KeyID   string
}

func NewSigner(keyID string) (*Signer, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("key generation failed: %w", err)
	}
	return NewSignerFromKey(priv, keyID), nil
}

func NewSignerFromKey(priv ed25519.PrivateKey, keyID string) *Signer {
	return &Signer{
		privKey: priv,
		pubKey:  priv.Public().(ed25519.PublicKey),
		KeyID:   keyID,
	}
}

// NewSignerFromSeed builds a signer from a hex-encoded 32-byte seed.
func NewSignerFromSeed(seedHex, keyID string) (*Signer, error) {
	seed, err := hex.DecodeString(strings.TrimSpace(seedHex))
	if err != nil {
		return nil, fmt.Errorf("invalid seed hex: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("invalid seed size %d", len(seed))
	}
	return NewSignerFromKey(ed25519.NewKeyFromSeed(seed), keyID), nil
}

// LoadSigner reads a hex seed written by WriteSeed.
func LoadSigner(path, keyID string) (*Signer, error) {
	b, err := os.ReadFile(path) //nolint:gosec // operator-supplied key path
	if err != nil {
		return nil, fmt.Errorf("read attester key: %w", err)
	}
	return NewSignerFromSeed(string(b), keyID)
}

// WriteSeed stores the signer's seed at path with owner-only permissions.
func (s *Signer) WriteSeed(path string) error {
	return os.WriteFile(path, []byte(hex.EncodeToString(s.privKey.Seed())+"\n"), 0o600)
}

func (s *Signer) PublicKey() string {
	return hex.EncodeToString(s.pubKey)
}

// Sign attests c and returns the hex signature.
func (s *Signer) Sign(c Claim) (string, error) {
	d, err := Digest(c)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(ed25519.Sign(s.privKey, d)), nil
}

// Verify verifies a hex signature over c against a hex public key.
func Verify(pubKeyHex, sigHex string, c Claim) (bool, error) {
	pubKey, err := hex.DecodeString(pubKeyHex)
	if err != nil {
		return false, fmt.Errorf("invalid public key hex: %w", err)
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false, fmt.Errorf("invalid signature hex: %w", err)
	}
	if len(pubKey) != ed25519.PublicKeySize {
		return false, fmt.Errorf("invalid public key size")
	}
	d, err := Digest(c)
	if err != nil {
		return false, err
	}
	return ed25519.Verify(ed25519.PublicKey(pubKey), d, sig), nil
}

// KeyRing holds the attester public keys a verifier trusts, keyed by key ID.
// Old keys stay in the ring after rotation so in-flight locks still verify.
type KeyRing struct {
	mu   sync.RWMutex
	keys map[string]string
}

func NewKeyRing() *KeyRing {
	return &KeyRing{keys: make(map[string]string)}
}

// Add trusts a public key under keyID.
func (k *KeyRing) Add(keyID, pubKeyHex string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.keys[keyID] = pubKeyHex
}

// AddSigner trusts the public half of s.
func (k *KeyRing) AddSigner(s *Signer) {
	k.Add(s.KeyID, s.PublicKey())
}

func (k *KeyRing) Revoke(keyID string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.keys, keyID)
}

// Verify checks sigHex over c with the key registered as keyID.
func (k *KeyRing) Verify(keyID, sigHex string, c Claim) error {
	k.mu.RLock()
	pub, ok := k.keys[keyID]
	k.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKey, keyID)
	}
	valid, err := Verify(pub, sigHex, c)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if !valid {
		return ErrBadSignature
	}
	return nil
}
