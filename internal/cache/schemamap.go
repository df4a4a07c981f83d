// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/compliance-engine/pkg/types"
)

// SchemaMaps loads schema maps through a cache keyed by file content.
type SchemaMaps struct {
	cache Cache
}

// NewSchemaMaps wraps c.
func NewSchemaMaps(c Cache) *SchemaMaps {
	return &SchemaMaps{cache: c}
}

// Load reads a JSON or YAML schema map from path. Cached entries hold the
// normalized JSON encoding.
func (s *SchemaMaps) Load(path string) (*types.SchemaMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading schema map: %w", err)
	}

	key := Key(data)
	if cached, ok := s.cache.Get(key); ok {
		var sm types.SchemaMap
		if err := json.Unmarshal(cached, &sm); err == nil {
			return &sm, nil
		}
		_ = s.cache.Delete(key)
	}

	sm, err := DecodeSchemaMap(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	encoded, err := json.Marshal(sm)
	if err != nil {
		return nil, fmt.Errorf("encoding schema map: %w", err)
	}
	if err := s.cache.Set(key, encoded, 0); err != nil {
		return nil, fmt.Errorf("caching schema map: %w", err)
	}
	return sm, nil
}

// DecodeSchemaMap decodes YAML for .yaml/.yml and JSON otherwise. When the
// document has no avg_confidence key it is derived from the field
// confidences.
func DecodeSchemaMap(data []byte, ext string) (*types.SchemaMap, error) {
	var sm types.SchemaMap
	var presence struct {
		AvgConfidence *float64 `json:"avg_confidence" yaml:"avg_confidence"`
	}
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &sm); err != nil {
			return nil, fmt.Errorf("decoding schema map YAML: %w", err)
		}
		if err := yaml.Unmarshal(data, &presence); err != nil {
			return nil, fmt.Errorf("decoding schema map YAML: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &sm); err != nil {
			return nil, fmt.Errorf("decoding schema map JSON: %w", err)
		}
		if err := json.Unmarshal(data, &presence); err != nil {
			return nil, fmt.Errorf("decoding schema map JSON: %w", err)
		}
	}
	if presence.AvgConfidence == nil {
		sm.AvgConfidence = sm.FieldConfidence()
	}
	return &sm, nil
}
