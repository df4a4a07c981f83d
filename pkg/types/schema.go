// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// SchemaField is one discovered field of a source entity.
type SchemaField struct {
	RawLabel       string  `json:"raw_label" yaml:"raw_label"`
	CanonicalField string  `json:"canonical_field,omitempty" yaml:"canonical_field,omitempty"`
	InferredType   string  `json:"inferred_type" yaml:"inferred_type"`
	Confidence     float64 `json:"confidence" yaml:"confidence"`
}

// SchemaEntity is a discovered record type in the source document.
type SchemaEntity struct {
	Label       string        `json:"discovered_label" yaml:"discovered_label"`
	RecordCount int           `json:"record_count" yaml:"record_count"`
	Fields      []SchemaField `json:"fields" yaml:"fields"`
}

// SchemaMap is the structural description of a source document, produced by
// an external schema discovery step. The pipeline reads it as prompt context
// and as the confidence input of the gate.
type SchemaMap struct {
	// DocumentFormat selects gate thresholds (e.g. "regulatory_docx").
	DocumentFormat string `json:"document_format" yaml:"document_format"`

	// StructuralPattern describes the layout (e.g. "section_based_prose").
	StructuralPattern string `json:"structural_pattern" yaml:"structural_pattern"`

	// DocumentCategory is the inferred category (e.g. "regulatory").
	DocumentCategory string `json:"inferred_document_category" yaml:"inferred_document_category"`

	// Entities are the discovered record types.
	Entities []SchemaEntity `json:"entities" yaml:"entities"`

	// SchemaVersion is stamped into requirement metadata.
	SchemaVersion string `json:"schema_version" yaml:"schema_version"`

	// AvgConfidence is the mean schema-discovery confidence.
	AvgConfidence float64 `json:"avg_confidence" yaml:"avg_confidence"`
}

// FieldConfidence is the mean confidence over every discovered field, or 0
// when there are none.
func (s *SchemaMap) FieldConfidence() float64 {
	var sum float64
	n := 0
	for _, e := range s.Entities {
		for _, f := range e.Fields {
			sum += f.Confidence
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return Round(sum/float64(n), 4)
}
