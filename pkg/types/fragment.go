// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "unicode/utf8"

// FragmentType tags the structural kind of a source fragment.
type FragmentType string

const (
	FragmentProse   FragmentType = "prose"
	FragmentTable   FragmentType = "table"
	FragmentList    FragmentType = "list"
	FragmentHeading FragmentType = "heading"
	FragmentMixed   FragmentType = "mixed"
)

// AnnotationRecordType is the annotation key that groups fragments by entity
// during batching.
const AnnotationRecordType = "record_type"

// AnnotationRecordID is an optional annotation rendered next to the entity tag.
const AnnotationRecordID = "record_id"

// TablePayload holds structured table content for table fragments.
type TablePayload struct {
	// Headers are the column labels in source order.
	Headers []string `json:"headers" yaml:"headers"`

	// Rows holds each table row as a slice of cell values.
	Rows [][]string `json:"rows" yaml:"rows"`
}

// Fragment is the smallest addressable unit of source text. Fragments are
// produced once by a loader and never mutated afterwards.
type Fragment struct {
	// ID is a stable identifier, unique within a document.
	ID string `json:"id" yaml:"id"`

	// Type is the structural kind of the fragment.
	Type FragmentType `json:"type" yaml:"type"`

	// Text is the raw fragment text.
	Text string `json:"text" yaml:"text"`

	// CharCount is the rendered character length used for batch budgeting.
	CharCount int `json:"char_count" yaml:"char_count"`

	// ParentSection is the nearest enclosing heading, if any.
	ParentSection string `json:"parent_section,omitempty" yaml:"parent_section,omitempty"`

	// Location is a human-readable position in the source (e.g. "section 3.2").
	Location string `json:"location,omitempty" yaml:"location,omitempty"`

	// Annotations carries loader-supplied tags such as record_type.
	Annotations map[string]string `json:"annotations,omitempty" yaml:"annotations,omitempty"`

	// Table is set for table fragments.
	Table *TablePayload `json:"table,omitempty" yaml:"table,omitempty"`
}

// Chars returns CharCount, falling back to the rune length of Text when the
// loader left it unset.
func (f Fragment) Chars() int {
	if f.CharCount > 0 {
		return f.CharCount
	}
	return utf8.RuneCountInString(f.Text)
}

// Annotation returns the annotation value for key, or "".
func (f Fragment) Annotation(key string) string {
	if f.Annotations == nil {
		return ""
	}
	return f.Annotations[key]
}

// Batch is an ordered, non-empty group of fragments sent to the extractor in
// one request.
type Batch struct {
	// Index is the zero-based position of the batch within a run.
	Index int `json:"index" yaml:"index"`

	// Fragments are the batch members in prompt order.
	Fragments []Fragment `json:"fragments" yaml:"fragments"`
}

// CharCount returns the summed character count of the batch members.
func (b Batch) CharCount() int {
	total := 0
	for _, f := range b.Fragments {
		total += f.Chars()
	}
	return total
}

// First returns the first fragment of the batch.
func (b Batch) First() Fragment {
	return b.Fragments[0]
}

// Lookup returns the fragment with the given ID.
func (b Batch) Lookup(id string) (Fragment, bool) {
	for _, f := range b.Fragments {
		if f.ID == id {
			return f, true
		}
	}
	return Fragment{}, false
}
