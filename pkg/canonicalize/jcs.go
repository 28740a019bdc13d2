// Package canonicalize turns engine records into RFC 8785 canonical JSON so that
// semantically identical input always hashes to the same digest.
package canonicalize

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gowebpki/jcs"
)

// HashPrefix marks every digest produced by this package.
const HashPrefix = "sha256:"

// EmptyHash is the digest of zero bytes. An action without evidence anchors to it.
var EmptyHash = HashBytes(nil)

// JCS returns the RFC 8785 canonical form of v.
//
// v is first marshalled with encoding/json so struct tags apply, then the
// result is transformed by the JCS reference implementation: object keys
// sorted by UTF-16 code units, no insignificant whitespace, ES6 number
// formatting and no HTML escaping.
func JCS(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("jcs: marshal: %w", err)
	}
	out, err := jcs.Transform(bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}))
	if err != nil {
		return nil, fmt.Errorf("jcs: transform: %w", err)
	}
	return out, nil
}

// JCSBytes canonicalizes an already-encoded JSON document.
func JCSBytes(raw []byte) ([]byte, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return []byte("null"), nil
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("jcs: transform: %w", err)
	}
	return out, nil
}

// CanonicalHash returns the prefixed SHA-256 digest of the canonical form of v.
func CanonicalHash(v any) (string, error) {
	b, err := JCS(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes returns the prefixed SHA-256 digest of data.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return HashPrefix + hex.EncodeToString(sum[:])
}

// HashConcat digests the concatenation of the given hashes in order.
// Prefixes are stripped first so the result does not depend on notation.
func HashConcat(hashes []string) string {
	var b strings.Builder
	for _, h := range hashes {
		b.WriteString(strings.TrimPrefix(h, HashPrefix))
	}
	return HashBytes([]byte(b.String()))
}

// IsHash reports whether s looks like a digest produced by HashBytes.
func IsHash(s string) bool {
	hexPart, ok := strings.CutPrefix(s, HashPrefix)
	if !ok || len(hexPart) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(hexPart)
	return err == nil
}
