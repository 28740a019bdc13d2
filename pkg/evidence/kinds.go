package evidence

import (
	"encoding/json"
	"net/url"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/trang393934/angelaithutrang-sub004/pkg/canonicalize"
	"github.com/trang393934/angelaithutrang-sub004/pkg/contracts"
)

const (
	TypeURL         = "url"
	TypeText        = "text"
	TypeMedia       = "media"
	TypeGeo         = "geo"
	TypeAttestation = "attestation"
	TypeTransaction = "transaction"

	maxTextRunes = 10000
)

// URLKind is a link to a public page documenting the action.
type URLKind struct{}

func (URLKind) Type() string { return TypeURL }

func (URLKind) Normalize(ev contracts.Evidence) (contracts.Evidence, error) {
	raw := strings.TrimSpace(ev.URI)
	if raw == "" {
		raw = strings.TrimSpace(ev.Value)
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ev, invalid("evidence_url", "url evidence requires an absolute http(s) uri")
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	ev.URI = u.String()
	ev.Value = ""
	if ev.ContentHash != "" && !canonicalize.IsHash(ev.ContentHash) {
		return ev, invalid("evidence_hash", "url evidence content_hash is malformed")
	}
	return ev, nil
}

// TextKind is a free-text testimony. Text is NFC-normalized and trimmed.
type TextKind struct{}

func (TextKind) Type() string { return TypeText }

func (TextKind) Normalize(ev contracts.Evidence) (contracts.Evidence, error) {
	if !utf8.ValidString(ev.Value) {
		return ev, invalid("evidence_text", "text evidence is not valid utf-8")
	}
	v := strings.TrimSpace(norm.NFC.String(ev.Value))
	if v == "" {
		return ev, invalid("evidence_text", "text evidence is empty")
	}
	if utf8.RuneCountInString(v) > maxTextRunes {
		return ev, invalid("evidence_text", "text evidence exceeds %d characters", maxTextRunes)
	}
	ev.Value = v
	ev.ContentHash = ""
	return ev, nil
}

// MediaKind is an uploaded photo, video or document identified by its digest.
type MediaKind struct{}

func (MediaKind) Type() string { return TypeMedia }

var mediaSchema = mustSchema(TypeMedia, `{
	"type": "object",
	"properties": {
		"mime": {"type": "string", "pattern": "^[a-z]+/[a-z0-9.+-]+$"},
		"size": {"type": "integer", "minimum": 1}
	}
}`)

func (MediaKind) Normalize(ev contracts.Evidence) (contracts.Evidence, error) {
	if !canonicalize.IsHash(ev.ContentHash) {
		return ev, invalid("evidence_hash", "media evidence requires a sha256 content_hash")
	}
	if ev.URI == "" {
		return ev, invalid("evidence_media", "media evidence requires a uri")
	}
	return ev, validateMetadata(TypeMedia, mediaSchema, ev.Metadata)
}

// GeoKind pins the action to a location.
type GeoKind struct{}

func (GeoKind) Type() string { return TypeGeo }

var geoSchema = mustSchema(TypeGeo, `{
	"type": "object",
	"required": ["lat", "lon"],
	"properties": {
		"lat": {"type": "number", "minimum": -90, "maximum": 90},
		"lon": {"type": "number", "minimum": -180, "maximum": 180},
		"accuracy_m": {"type": "number", "minimum": 0}
	}
}`)

func (GeoKind) Normalize(ev contracts.Evidence) (contracts.Evidence, error) {
	return ev, validateMetadata(TypeGeo, geoSchema, ev.Metadata)
}

// AttestationKind is a statement signed by a third party.
type AttestationKind struct{}

func (AttestationKind) Type() string { return TypeAttestation }

var attestationSchema = mustSchema(TypeAttestation, `{
	"type": "object",
	"required": ["statement", "signature"],
	"properties": {
		"statement": {"type": "string", "minLength": 1},
		"signature": {"type": "string", "minLength": 16},
		"key_id": {"type": "string"}
	}
}`)

func (AttestationKind) Normalize(ev contracts.Evidence) (contracts.Evidence, error) {
	if strings.TrimSpace(ev.Value) == "" {
		return ev, invalid("evidence_attestation", "attestation evidence requires the attester id as value")
	}
	ev.Value = strings.TrimSpace(ev.Value)
	return ev, validateMetadata(TypeAttestation, attestationSchema, ev.Metadata)
}

// TransactionKind references an external payment or transfer.
type TransactionKind struct{}

func (TransactionKind) Type() string { return TypeTransaction }

func (TransactionKind) Normalize(ev contracts.Evidence) (contracts.Evidence, error) {
	v := strings.TrimSpace(ev.Value)
	if v == "" {
		return ev, invalid("evidence_transaction", "transaction evidence requires a reference")
	}
	if strings.HasPrefix(v, "0x") || strings.HasPrefix(v, "0X") {
		v = "0x" + strings.ToLower(v[2:])
	}
	ev.Value = v
	return ev, nil
}

func jsonValue(m map[string]any) (any, error) {
	if m == nil {
		m = map[string]any{}
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var out any
	err = json.Unmarshal(raw, &out)
	return out, err
}
