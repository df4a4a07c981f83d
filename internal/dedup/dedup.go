// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package dedup collapses near-duplicate requirements of the same rule type.
package dedup

import (
	"regexp"
	"strings"

	"github.com/kljensen/snowball/english"

	"github.com/pdiddy/compliance-engine/pkg/types"
)

// DefaultThreshold is the similarity at which two requirements merge.
const DefaultThreshold = 0.75

var wordPattern = regexp.MustCompile(`\b\w+\b`)

var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "is": true, "are": true, "be": true,
	"been": true, "being": true, "have": true, "has": true, "had": true,
	"do": true, "does": true, "did": true, "will": true, "would": true,
	"could": true, "should": true, "may": true, "might": true, "must": true,
	"can": true, "and": true, "or": true, "but": true, "if": true, "in": true,
	"on": true, "at": true, "to": true, "for": true, "of": true, "with": true,
	"by": true, "from": true, "as": true, "that": true, "this": true,
	"which": true, "who": true, "what": true,
}

// Tokens returns the stemmed content words of text.
func Tokens(text string) map[string]struct{} {
	set := map[string]struct{}{}
	for _, w := range wordPattern.FindAllString(strings.ToLower(text), -1) {
		if stopWords[w] {
			continue
		}
		set[english.Stem(w, false)] = struct{}{}
	}
	return set
}

// Similarity is the Jaccard similarity of the stemmed content words of a
// and b. Empty token sets score 0.
func Similarity(a, b string) float64 {
	return jaccard(Tokens(a), Tokens(b))
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for w := range a {
		if _, ok := b[w]; ok {
			inter++
		}
	}
	return float64(inter) / float64(len(a)+len(b)-inter)
}

// Deduplicate groups same-type requirements whose descriptions reach
// threshold similarity, transitively, and keeps the highest-confidence
// member of each group (the earliest on ties). Survivors keep input order.
// A non-positive threshold selects DefaultThreshold.
func Deduplicate(reqs []types.Requirement, threshold float64) []types.Requirement {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	uf := newUnionFind(len(reqs))
	forEachPair(reqs, threshold, func(i, j int, _ float64) {
		uf.union(i, j)
	})

	best := map[int]int{}
	for i := range reqs {
		root := uf.find(i)
		cur, ok := best[root]
		if !ok || reqs[i].Confidence > reqs[cur].Confidence {
			best[root] = i
		}
	}

	out := make([]types.Requirement, 0, len(best))
	for i, r := range reqs {
		if best[uf.find(i)] == i {
			out = append(out, r)
		}
	}
	return out
}

// Pairs lists every same-type pair at or above threshold, in input order.
func Pairs(reqs []types.Requirement, threshold float64) []types.DuplicatePair {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	var pairs []types.DuplicatePair
	forEachPair(reqs, threshold, func(i, j int, sim float64) {
		pairs = append(pairs, types.DuplicatePair{
			RequirementA: reqs[i].ID,
			RequirementB: reqs[j].ID,
			Similarity:   types.Round(sim, 3),
			RuleType:     reqs[i].RuleType,
		})
	})
	return pairs
}

func forEachPair(reqs []types.Requirement, threshold float64, fn func(i, j int, sim float64)) {
	tokens := make([]map[string]struct{}, len(reqs))
	for i, r := range reqs {
		tokens[i] = Tokens(r.Description)
	}
	for i := range reqs {
		for j := i + 1; j < len(reqs); j++ {
			if reqs[i].RuleType != reqs[j].RuleType {
				continue
			}
			if sim := jaccard(tokens[i], tokens[j]); sim >= threshold {
				fn(i, j, sim)
			}
		}
	}
}

type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	p := make([]int, n)
	for i := range p {
		p[i] = i
	}
	return &unionFind{parent: p}
}

func (u *unionFind) find(i int) int {
	for u.parent[i] != i {
		u.parent[i] = u.parent[u.parent[i]]
		i = u.parent[i]
	}
	return i
}

func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	if ra < rb {
		u.parent[rb] = ra
	} else {
		u.parent[ra] = rb
	}
}
