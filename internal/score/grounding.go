// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package score

import (
	"regexp"
	"strings"

	"github.com/pdiddy/compliance-engine/pkg/types"
)

const (
	minPhraseWords = 3
	maxPhraseWords = 7
)

var (
	tokenPattern   = regexp.MustCompile(`\b[a-z0-9]+\b`)
	whitespace     = regexp.MustCompile(`\s+`)
	numericPattern = regexp.MustCompile(`\d+\.?\d*\s*%?`)
)

// Tokenize returns the set of lowercase alphanumeric words in text.
func Tokenize(text string) map[string]struct{} {
	set := map[string]struct{}{}
	for _, w := range tokenPattern.FindAllString(strings.ToLower(text), -1) {
		set[w] = struct{}{}
	}
	return set
}

// GroundingMatch scores how closely description follows grounding: 0.15
// times the word Jaccard plus 0.05 per maximal shared phrase, capped at
// 0.15. The result is rounded to three decimals.
func GroundingMatch(description, grounding string) (float64, types.GroundingEvidence) {
	descWords := Tokenize(description)
	groundWords := Tokenize(grounding)
	if len(descWords) == 0 || len(groundWords) == 0 {
		return 0, types.GroundingEvidence{Error: "empty text"}
	}

	inter := 0
	for w := range descWords {
		if _, ok := groundWords[w]; ok {
			inter++
		}
	}
	union := len(descWords) + len(groundWords) - inter
	jaccard := float64(inter) / float64(union)

	phrases := ContiguousPhrases(grounding, description)

	score := 0.15*jaccard + min(0.15, 0.05*float64(len(phrases)))
	return types.Round(score, 3), types.GroundingEvidence{
		JaccardScore:     types.Round(jaccard, 3),
		PhraseCount:      len(phrases),
		MatchedPhrases:   phrases,
		DescriptionWords: len(descWords),
		GroundedWords:    len(groundWords),
		Intersection:     inter,
	}
}

// ContiguousPhrases returns the maximal runs of 3 to 7 whitespace-separated
// words of source that occur in target, compared lowercase.
func ContiguousPhrases(source, target string) []string {
	words := strings.Fields(strings.ToLower(source))
	targetLower := strings.ToLower(target)

	var phrases []string
	for i := range words {
		limit := min(len(words)-i, maxPhraseWords)
		for n := minPhraseWords; n <= limit; n++ {
			phrase := strings.Join(words[i:i+n], " ")
			if !strings.Contains(targetLower, phrase) {
				continue
			}
			if coveredBy(phrase, phrases) {
				continue
			}
			kept := phrases[:0]
			for _, p := range phrases {
				if !strings.Contains(phrase, p) {
					kept = append(kept, p)
				}
			}
			phrases = append(kept, phrase)
		}
	}
	return phrases
}

func coveredBy(phrase string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(p, phrase) {
			return true
		}
	}
	return false
}

// Classify maps a grounding-match score to a classification.
func Classify(groundingMatch float64) types.GroundingClassification {
	switch {
	case groundingMatch >= 0.25:
		return types.GroundingExact
	case groundingMatch >= 0.15:
		return types.GroundingParaphrase
	default:
		return types.GroundingInference
	}
}

// Contained reports whether grounding occurs in source, either verbatim or
// after collapsing whitespace runs in both. An empty grounding is never
// contained.
func Contained(grounding, source string) bool {
	if strings.TrimSpace(grounding) == "" {
		return false
	}
	if strings.Contains(source, grounding) {
		return true
	}
	return strings.Contains(normalizeSpace(source), normalizeSpace(grounding))
}

func normalizeSpace(s string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}
