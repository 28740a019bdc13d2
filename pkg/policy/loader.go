package policy

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Parse decodes a YAML policy document. Fields the document omits keep the
// values of Default(), so a document only needs to state what it changes.
func Parse(data []byte) (*Snapshot, error) {
	s := Default()
	s.ActionTypes = nil
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(s); err != nil {
		return nil, fmt.Errorf("policy: decode: %w", err)
	}
	if s.ActionTypes == nil {
		s.ActionTypes = Default().ActionTypes
	}
	if s.PassThreshold == 0 {
		s.PassThreshold = DefaultPassThreshold
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("policy %s: %w", s.Version, err)
	}
	return s, nil
}

// LoadFile reads and validates a policy document from disk.
func LoadFile(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("policy: read %s: %w", path, err)
	}
	return Parse(data)
}

// Marshal renders a snapshot as YAML.
func Marshal(s *Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
