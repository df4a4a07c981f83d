// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package enrich

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/pdiddy/compliance-engine/pkg/types"
)

const defaultContext = "default"

// verbRule maps one vague verb to actionable phrasings by context. A
// phrasing may reference {metric}, {threshold}, {frequency} or {n}.
type verbRule struct {
	Verb     string
	Phrasing map[string]string
}

var vagueVerbs = []verbRule{
	{"ensure", map[string]string{
		defaultContext: "monitor and verify",
		"threshold":    "monitor {metric} and escalate if below {threshold}",
		"data":         "reconcile and validate",
		"compliance":   "verify compliance with",
	}},
	{"verify", map[string]string{
		defaultContext: "sample and compare",
		"accuracy":     "sample {n} records and compare to source",
		"completeness": "audit for missing fields",
		"data":         "reconcile against source system",
	}},
	{"validate", map[string]string{
		defaultContext: "test and confirm",
		"system":       "execute test cases and confirm expected behavior",
		"data":         "reconcile to authoritative source",
		"process":      "audit process steps and document results",
	}},
	{"review", map[string]string{
		defaultContext: "audit and document",
		"periodic":     "conduct {frequency} audit of",
		"sample":       "sample {n} records and audit",
		"approval":     "review and sign-off on",
	}},
	{"maintain", map[string]string{
		defaultContext: "monitor, track, and report",
		"threshold":    "monitor and keep above {threshold}",
		"records":      "update and preserve",
		"system":       "monitor availability and performance of",
	}},
	{"confirm", map[string]string{
		defaultContext: "verify and document",
		"data":         "reconcile and obtain written confirmation",
		"approval":     "obtain signed approval from",
		"compliance":   "audit and certify compliance with",
	}},
	{"check", map[string]string{
		defaultContext: "inspect and document",
		"data":         "query and validate",
		"system":       "test and verify functionality of",
	}},
	{"manage", map[string]string{
		defaultContext: "track, monitor, and report on",
		"risk":         "identify, assess, and mitigate",
		"process":      "execute, monitor, and optimize",
	}},
}

// verbContexts is ordered; the first context wins a tie.
var verbContexts = []keywordSet{
	{"threshold", []string{"threshold", "percent", "%", "accuracy", "completeness", "quality"}},
	{"data", []string{"data", "record", "field", "value", "information"}},
	{"compliance", []string{"compliance", "regulatory", "requirement", "rule", "policy"}},
	{"system", []string{"system", "application", "platform", "service", "api"}},
	{"accuracy", []string{"accuracy", "accurate", "correct", "error"}},
	{"completeness", []string{"complete", "completeness", "missing", "required field"}},
	{"periodic", []string{"quarterly", "monthly", "annual", "weekly", "daily"}},
	{"sample", []string{"sample", "sampling", "random"}},
	{"approval", []string{"approval", "approve", "sign-off", "authorize"}},
	{"records", []string{"record", "documentation", "file", "log"}},
	{"risk", []string{"risk", "threat", "vulnerability", "exposure"}},
	{"process", []string{"process", "procedure", "workflow", "operation"}},
}

var (
	verbForms        = map[string]int{}
	verbPattern      *regexp.Regexp
	percentPattern   = regexp.MustCompile(`(\d+\.?\d*)\s*%`)
	placeholder      = regexp.MustCompile(`\{(\w+)\}`)
	templateMetrics  = []string{"accuracy", "completeness", "timeliness", "availability"}
	templateCadences = []string{"daily", "weekly", "monthly", "quarterly", "annual"}
)

func init() {
	var forms []string
	for i, r := range vagueVerbs {
		for _, f := range inflections(r.Verb) {
			verbForms[f] = i
			forms = append(forms, f)
		}
	}
	verbPattern = regexp.MustCompile(`(?i)\b(?:` + strings.Join(forms, "|") + `)\b`)
}

// inflections lists the forms of a regular verb.
func inflections(verb string) []string {
	if stem, ok := strings.CutSuffix(verb, "e"); ok {
		return []string{verb, verb + "s", verb + "d", stem + "ing"}
	}
	return []string{verb, verb + "s", verb + "ed", verb + "ing"}
}

// VerbRewrite is the outcome of rewriting vague verbs in a description.
type VerbRewrite struct {
	Text         string
	Replacements []types.VerbReplacement
}

// ActionableDescription rewrites vague verbs ("ensure", "maintain", ...) in
// req's description into specific actions chosen by the description's
// context. Text equals the description when nothing was replaced.
func ActionableDescription(req types.Requirement) VerbRewrite {
	desc := req.Description
	context := VerbContext(desc)
	values := templateValues(req)

	replacements := make([]string, len(vagueVerbs))
	for i, rule := range vagueVerbs {
		phrasing, ok := rule.Phrasing[context]
		if !ok {
			phrasing = rule.Phrasing[defaultContext]
		}
		if replacements[i], ok = fill(phrasing, values); !ok {
			replacements[i] = rule.Phrasing[defaultContext]
		}
	}

	// Single pass: replacement phrases are not rescanned.
	out := VerbRewrite{}
	out.Text = verbPattern.ReplaceAllStringFunc(desc, func(verb string) string {
		r := replacements[verbForms[strings.ToLower(verb)]]
		if first, _ := utf8.DecodeRuneInString(verb); unicode.IsUpper(first) {
			r = capitalize(r)
		}
		out.Replacements = append(out.Replacements, types.VerbReplacement{
			OriginalVerb: verb,
			Replacement:  r,
			Context:      context,
		})
		return r
	})
	return out
}

// VerbContext returns the context whose keywords occur most often in desc,
// or "default" when none occur.
func VerbContext(desc string) string {
	lower := strings.ToLower(desc)
	best, bestScore := defaultContext, 0
	for _, set := range verbContexts {
		score := 0
		for _, kw := range set.Keywords {
			if strings.Contains(lower, kw) {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = set.Name, score
		}
	}
	return best
}

func templateValues(req types.Requirement) map[string]string {
	lower := strings.ToLower(req.Description)
	values := map[string]string{"n": "100", "frequency": "quarterly"}

	if m := percentPattern.FindStringSubmatch(req.Description); m != nil {
		values["threshold"] = m[1] + "%"
	} else if v, ok := types.AttributeNumber(req.Attributes, "threshold_value"); ok {
		values["threshold"] = strconv.FormatFloat(v, 'f', -1, 64)
		if types.AttributeString(req.Attributes, "threshold_unit") == "percent" {
			values["threshold"] += "%"
		}
	}
	for _, f := range templateCadences {
		if strings.Contains(lower, f) {
			values["frequency"] = f
			break
		}
	}
	if v := types.AttributeString(req.Attributes, "measurement_frequency"); v != "" {
		values["frequency"] = v
	}
	for _, m := range templateMetrics {
		if strings.Contains(lower, m) {
			values["metric"] = m
			break
		}
	}
	for _, key := range []string{"metric", "metric_type"} {
		if v := types.AttributeString(req.Attributes, key); v != "" {
			values["metric"] = v
			break
		}
	}
	return values
}

// fill substitutes placeholders; it fails when any value is unknown.
func fill(phrasing string, values map[string]string) (string, bool) {
	ok := true
	out := placeholder.ReplaceAllStringFunc(phrasing, func(m string) string {
		v := values[m[1:len(m)-1]]
		if v == "" {
			ok = false
		}
		return v
	})
	return out, ok
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + s[size:]
}
