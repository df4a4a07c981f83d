// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package fragments loads source fragments from disk. JSON and YAML files
// hold pre-chunked fragments; HTML documents are split into heading, prose,
// list and table fragments.
package fragments

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/compliance-engine/pkg/types"
)

// document is the wrapped form {"fragments": [...]}.
type document struct {
	Fragments []types.Fragment `json:"fragments" yaml:"fragments"`
}

// Load reads fragments from path, dispatching on the file extension.
func Load(path string) ([]types.Fragment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading fragments: %w", err)
	}
	base := BaseName(path)

	var frags []types.Fragment
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		frags, err = DecodeJSON(data)
	case ".yaml", ".yml":
		frags, err = DecodeYAML(data)
	case ".html", ".htm":
		frags, err = ParseHTML(bytes.NewReader(data), base)
	default:
		return nil, fmt.Errorf("unsupported fragment file extension %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	return Normalize(frags, base)
}

// DecodeJSON accepts a fragment array or a {"fragments": [...]} object.
func DecodeJSON(data []byte) ([]types.Fragment, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var frags []types.Fragment
		if err := json.Unmarshal(trimmed, &frags); err != nil {
			return nil, fmt.Errorf("decoding fragment array: %w", err)
		}
		return frags, nil
	}
	var doc document
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return nil, fmt.Errorf("decoding fragment document: %w", err)
	}
	return doc.Fragments, nil
}

// DecodeYAML accepts the same shapes as DecodeJSON.
func DecodeYAML(data []byte) ([]types.Fragment, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("decoding YAML: %w", err)
	}
	if len(node.Content) == 0 {
		return nil, nil
	}
	if node.Content[0].Kind == yaml.SequenceNode {
		var frags []types.Fragment
		if err := node.Decode(&frags); err != nil {
			return nil, fmt.Errorf("decoding fragment list: %w", err)
		}
		return frags, nil
	}
	var doc document
	if err := node.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding fragment document: %w", err)
	}
	return doc.Fragments, nil
}

// Normalize assigns missing IDs as {base}-{n:04d}, defaults the type to
// prose, fills CharCount, and rejects duplicate IDs and unknown types.
func Normalize(frags []types.Fragment, base string) ([]types.Fragment, error) {
	out := make([]types.Fragment, 0, len(frags))
	seen := make(map[string]bool, len(frags))
	for i, f := range frags {
		if f.ID == "" {
			f.ID = FragmentID(base, i+1)
		}
		if seen[f.ID] {
			return nil, fmt.Errorf("duplicate fragment id %q", f.ID)
		}
		seen[f.ID] = true

		if f.Type == "" {
			f.Type = types.FragmentProse
		}
		if !validType(f.Type) {
			return nil, fmt.Errorf("fragment %s: unknown type %q", f.ID, f.Type)
		}
		f.CharCount = f.Chars()
		out = append(out, f)
	}
	return out, nil
}

// FragmentID formats the n-th generated ID for a document.
func FragmentID(base string, n int) string {
	return fmt.Sprintf("%s-%04d", base, n)
}

// BaseName returns the file name without directory or extension.
func BaseName(path string) string {
	name := filepath.Base(path)
	return strings.TrimSuffix(name, filepath.Ext(name))
}

func validType(t types.FragmentType) bool {
	switch t {
	case types.FragmentProse, types.FragmentTable, types.FragmentList,
		types.FragmentHeading, types.FragmentMixed:
		return true
	}
	return false
}
