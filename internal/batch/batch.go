// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package batch packs fragments into extractor-sized batches under a
// character budget and renders them for the prompt.
package batch

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pdiddy/compliance-engine/pkg/types"
)

// DefaultMaxChars is the batch budget used when none is configured.
const DefaultMaxChars = 12000

// Build groups fragments into batches.
//
// Fragments annotated with a record type come first, grouped by type in
// ascending order, followed by unannotated fragments in input order. Batches
// fill greedily; on overflow the next batch opens with the last fragment of
// the closed batch followed by the overflowing fragment, so adjacent batches
// share exactly one fragment. The budget outranks the overlap: when that pair
// does not fit, the new batch opens with the overflowing fragment alone and
// the two batches share nothing. A fragment larger than the budget forms its
// own batch and nothing overlaps it.
func Build(fragments []types.Fragment, cfg types.BatchConfig) []types.Batch {
	budget := cfg.MaxBatchChars
	if budget <= 0 {
		budget = DefaultMaxChars
	}

	var batches []types.Batch
	var current []types.Fragment
	running := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		batches = append(batches, types.Batch{Index: len(batches), Fragments: current})
		current = nil
		running = 0
	}

	for _, f := range order(fragments) {
		chars := f.Chars()

		if chars > budget {
			flush()
			current = []types.Fragment{f}
			flush()
			continue
		}

		if running+chars <= budget {
			current = append(current, f)
			running += chars
			continue
		}

		last := current[len(current)-1]
		flush()
		if last.Chars()+chars <= budget {
			current = []types.Fragment{last, f}
			running = last.Chars() + chars
		} else {
			current = []types.Fragment{f}
			running = chars
		}
	}
	flush()

	return batches
}

// order returns annotated fragments grouped by record type, then the rest.
func order(fragments []types.Fragment) []types.Fragment {
	groups := map[string][]types.Fragment{}
	var keys []string
	var other []types.Fragment

	for _, f := range fragments {
		key := f.Annotation(types.AnnotationRecordType)
		if key == "" {
			other = append(other, f)
			continue
		}
		if _, ok := groups[key]; !ok {
			keys = append(keys, key)
		}
		groups[key] = append(groups[key], f)
	}
	sort.Strings(keys)

	out := make([]types.Fragment, 0, len(fragments))
	for _, k := range keys {
		out = append(out, groups[k]...)
	}
	return append(out, other...)
}

// Render formats a batch as the fragment section of the user message.
func Render(b types.Batch) string {
	parts := make([]string, 0, len(b.Fragments))
	for _, f := range b.Fragments {
		parts = append(parts, renderFragment(f))
	}
	return strings.Join(parts, "\n")
}

func renderFragment(f types.Fragment) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "--- FRAGMENT %s [%s]", f.ID, strings.ToUpper(string(f.Type)))
	if rt := f.Annotation(types.AnnotationRecordType); rt != "" {
		fmt.Fprintf(&sb, " [ENTITY: %s]", strings.ToUpper(rt))
		if id := f.Annotation(types.AnnotationRecordID); id != "" {
			fmt.Fprintf(&sb, " [ID: %s]", id)
		}
	}
	sb.WriteString(" ---\n")

	parent := f.ParentSection
	if parent == "" {
		parent = "None"
	}
	fmt.Fprintf(&sb, "Location: %s\n", f.Location)
	fmt.Fprintf(&sb, "Parent: %s\n\n", parent)

	sb.WriteString(f.Text)
	sb.WriteString("\n")
	if f.Table != nil && len(f.Table.Headers) > 0 {
		sb.WriteString(renderTable(f.Table))
	}
	return sb.String()
}

func renderTable(t *types.TablePayload) string {
	var sb strings.Builder
	row := func(cells []string) {
		sb.WriteString("| ")
		sb.WriteString(strings.Join(cells, " | "))
		sb.WriteString(" |\n")
	}
	row(t.Headers)
	sep := make([]string, len(t.Headers))
	for i := range sep {
		sep[i] = "---"
	}
	row(sep)
	for _, r := range t.Rows {
		row(r)
	}
	return sb.String()
}
