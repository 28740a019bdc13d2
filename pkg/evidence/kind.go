// Package evidence validates and hashes the heterogeneous proof items attached
// to light actions. Each evidence type is a Kind registered with a Registry;
// the registry dispatches on Evidence.Type.
package evidence

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/trang393934/angelaithutrang-sub004/pkg/canonicalize"
	"github.com/trang393934/angelaithutrang-sub004/pkg/contracts"
)

// Kind is the capability every evidence type provides.
type Kind interface {
	// Type is the tag matched against Evidence.Type.
	Type() string
	// Normalize returns the canonical form of ev, or a validation error.
	Normalize(ev contracts.Evidence) (contracts.Evidence, error)
}

// itemView is the hashed projection of a normalized evidence item.
type itemView struct {
	Type        string         `json:"type"`
	Value       string         `json:"value,omitempty"`
	URI         string         `json:"uri,omitempty"`
	ContentHash string         `json:"content_hash,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// ItemHash returns the hash of a normalized evidence item.
func ItemHash(ev contracts.Evidence) (string, error) {
	return canonicalize.CanonicalHash(itemView{
		Type:        ev.Type,
		Value:       ev.Value,
		URI:         ev.URI,
		ContentHash: ev.ContentHash,
		Metadata:    ev.Metadata,
	})
}

func invalid(reason, format string, args ...any) error {
	return contracts.ValidationError(reason, format, args...)
}

func mustSchema(kind, doc string) *jsonschema.Schema {
	url := "lightmint://evidence/" + kind + ".json"
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(url, strings.NewReader(doc)); err != nil {
		panic(fmt.Sprintf("evidence: schema %s: %v", kind, err))
	}
	return c.MustCompile(url)
}

// validateMetadata checks metadata against a kind's schema.
func validateMetadata(kind string, schema *jsonschema.Schema, metadata map[string]any) error {
	if schema == nil {
		return nil
	}
	doc, err := jsonValue(metadata)
	if err != nil {
		return invalid("evidence_metadata", "%s evidence: %v", kind, err)
	}
	if err := schema.Validate(doc); err != nil {
		return invalid("evidence_metadata", "%s evidence metadata: %v", kind, err)
	}
	return nil
}
