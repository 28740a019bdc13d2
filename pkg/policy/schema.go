package policy

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var (
	schemasMu sync.Mutex
	schemas   = map[string]*jsonschema.Schema{}
)

func compileSchema(version, actionType, doc string) (*jsonschema.Schema, error) {
	url := fmt.Sprintf("lightmint://policy/%s/%s/metadata.json", version, actionType)
	schemasMu.Lock()
	defer schemasMu.Unlock()
	if s, ok := schemas[url+"#"+doc]; ok {
		return s, nil
	}
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(url, strings.NewReader(doc)); err != nil {
		return nil, err
	}
	s, err := c.Compile(url)
	if err != nil {
		return nil, err
	}
	schemas[url+"#"+doc] = s
	return s, nil
}

// ValidateMetadata checks action metadata against the type's schema, if any.
func (s *Snapshot) ValidateMetadata(actionType string, metadata map[string]any) error {
	rule, ok := s.ActionTypes[actionType]
	if !ok || rule.MetadataSchema == "" {
		return nil
	}
	sch, err := compileSchema(s.Version, actionType, rule.MetadataSchema)
	if err != nil {
		return fmt.Errorf("metadata schema: %w", err)
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	doc, err := toJSONValue(metadata)
	if err != nil {
		return err
	}
	return sch.Validate(doc)
}

// toJSONValue normalizes Go values into the shapes encoding/json produces.
func toJSONValue(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("metadata: %w", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("metadata: %w", err)
	}
	return out, nil
}
