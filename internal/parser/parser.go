// Package parser turns a raw model answer into typed label values.
package parser

import (
	"fmt"
	"strings"
	"unicode"

	"transcript-classifier-go/internal/types"
)

// AffirmativeMarker marks a positive answer on a label line.
const AffirmativeMarker = "Sim"

// Parse scans raw line by line. A line whose trimmed text starts with a
// field prefix (case-sensitive, colon included) sets that field to yes when
// the remainder holds AffirmativeMarker as a whole word, otherwise no. Fields whose line never
// appears stay error, never no. Parse does not fail: any panic while parsing
// yields an all-error result with the raw text kept in the explanation.
func Parse(raw string, fields []types.LabelField, withExplanation bool) (out types.Classification) {
	defer func() {
		if r := recover(); r != nil {
			out = types.ErrorClassification(fields, fmt.Sprintf("Erro no parse (%v): %s", r, raw))
		}
	}()

	out = types.ErrorClassification(fields, "")
	for _, line := range splitLines(raw) {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		for _, f := range fields {
			if rest, ok := strings.CutPrefix(line, f.Prefix); ok {
				if affirmative(rest) {
					out.Labels[f.Key] = types.LabelYes
				} else {
					out.Labels[f.Key] = types.LabelNo
				}
			}
		}
		if withExplanation {
			if rest, ok := strings.CutPrefix(line, types.ExplanationPrefix); ok {
				out.Explanation = strings.TrimSpace(rest)
			}
		}
	}
	return out
}

// affirmative reports whether s has AffirmativeMarker as a word; markup
// around it ("**Sim**", "[Sim]") is ignored, "Simples" is not a match.
func affirmative(s string) bool {
	words := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		if w == AffirmativeMarker {
			return true
		}
	}
	return false
}

var splitLines = func(s string) []string { return strings.Split(s, "\n") }

// Missing lists the fields Parse could not find in the answer.
func Missing(c types.Classification, fields []types.LabelField) []string {
	var keys []string
	for _, f := range fields {
		if c.Labels[f.Key] == types.LabelError {
			keys = append(keys, f.Prefix)
		}
	}
	return keys
}
