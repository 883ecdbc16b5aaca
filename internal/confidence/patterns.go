package confidence

import (
	"fmt"
	"path/filepath"
	"strings"

	"flowpilot/internal/logging"
	"flowpilot/internal/types"
)

// Pattern inference: once a step has accumulated enough corrections of the
// same type, generalize them into a reusable rule. The inferred confidence is
// advisory metadata about the rule itself, not the step's trust score.

// Minimum same-type corrections before inference is attempted.
const minSupport = 3

// PatternKind labels what an inferred pattern proposes.
type PatternKind string

const (
	// PatternAutoFilter proposes a wildcard filter over step outputs.
	PatternAutoFilter PatternKind = "auto_filter"

	// PatternAutoReplace proposes an automatic parameter replacement.
	PatternAutoReplace PatternKind = "auto_replace"
)

// InferredPattern is a generalization of repeated corrections.
type InferredPattern struct {
	Kind       PatternKind `json:"kind"`
	Pattern    string      `json:"pattern"` // wildcard for filters, literal value for replacements
	Confidence float64     `json:"confidence"`
	Support    int         `json:"support"` // corrections backing the pattern
}

// InferPatterns examines a step's correction history and proposes rules.
// Inference failures are absorbed: a step with no generalizable corrections
// simply yields no patterns.
func (t *Tracker) InferPatterns(workflowID string, stepOrder int) ([]InferredPattern, error) {
	corrections, err := t.store.CorrectionsForStep(workflowID, stepOrder)
	if err != nil {
		return nil, fmt.Errorf("failed to load corrections: %w", err)
	}

	byType := make(map[types.CorrectionType][]types.Correction)
	for _, c := range corrections {
		byType[c.Type] = append(byType[c.Type], c)
	}

	var patterns []InferredPattern
	if group := byType[types.CorrectionOutputFilter]; len(group) >= minSupport {
		if p, ok := inferFilterPattern(group); ok {
			patterns = append(patterns, p)
			logging.Confidence("Inferred filter pattern %q for workflow=%s step=%d (support=%d)",
				p.Pattern, workflowID, stepOrder, p.Support)
		}
	}
	if group := byType[types.CorrectionParamEdit]; len(group) >= minSupport {
		if p, ok := inferReplacePattern(group); ok {
			patterns = append(patterns, p)
			logging.Confidence("Inferred replacement %q for workflow=%s step=%d (support=%d)",
				p.Pattern, workflowID, stepOrder, p.Support)
		}
	}
	return patterns, nil
}

// inferFilterPattern generalizes output_filter corrections, trying in order:
// a shared file extension, a shared first token, then the longest literal
// substring common to all originals.
func inferFilterPattern(group []types.Correction) (InferredPattern, bool) {
	originals := make([]string, len(group))
	for i, c := range group {
		originals[i] = c.Original
	}

	if ext := sharedExtension(originals); ext != "" {
		return newPattern(PatternAutoFilter, "*"+ext, len(group)), true
	}
	if tok := sharedFirstToken(originals); tok != "" {
		return newPattern(PatternAutoFilter, tok+"*", len(group)), true
	}
	if sub := longestCommonSubstring(originals); len(sub) >= 3 {
		return newPattern(PatternAutoFilter, "*"+sub+"*", len(group)), true
	}
	return InferredPattern{}, false
}

// inferReplacePattern proposes an automatic replacement when every param_edit
// converged on the identical corrected value.
func inferReplacePattern(group []types.Correction) (InferredPattern, bool) {
	value := group[0].Corrected
	if value == "" {
		return InferredPattern{}, false
	}
	for _, c := range group[1:] {
		if c.Corrected != value {
			return InferredPattern{}, false
		}
	}
	return newPattern(PatternAutoReplace, value, len(group)), true
}

// newPattern attaches the support-derived confidence: base 0.5, +0.1 per
// supporting correction beyond the sub-minimum count, capped at 0.9. At the
// minimum support of 3 a pattern starts above the base.
func newPattern(kind PatternKind, pattern string, support int) InferredPattern {
	conf := 0.5 + 0.1*float64(support-minSupport+1)
	if conf > 0.9 {
		conf = 0.9
	}
	return InferredPattern{Kind: kind, Pattern: pattern, Confidence: conf, Support: support}
}

// sharedExtension returns the extension (with dot) common to all values, or
// "".
func sharedExtension(values []string) string {
	ext := strings.ToLower(filepath.Ext(values[0]))
	if ext == "" {
		return ""
	}
	for _, v := range values[1:] {
		if strings.ToLower(filepath.Ext(v)) != ext {
			return ""
		}
	}
	return ext
}

// sharedFirstToken returns the first token (split on _, - and /) of length
// > 2 shared by all values, or "".
func sharedFirstToken(values []string) string {
	tok := firstToken(values[0])
	if len(tok) <= 2 {
		return ""
	}
	for _, v := range values[1:] {
		if firstToken(v) != tok {
			return ""
		}
	}
	return tok
}

func firstToken(s string) string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == '_' || r == '-' || r == '/'
	})
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// longestCommonSubstring returns the longest literal substring present in
// every value. Quadratic over the first value; correction sets are tiny.
func longestCommonSubstring(values []string) string {
	if len(values) == 0 {
		return ""
	}
	first := values[0]
	best := ""
	for i := 0; i < len(first); i++ {
		for j := len(first); j > i+len(best); j-- {
			candidate := first[i:j]
			if containedInAll(candidate, values[1:]) {
				best = candidate
				break
			}
		}
	}
	return best
}

func containedInAll(sub string, values []string) bool {
	for _, v := range values {
		if !strings.Contains(v, sub) {
			return false
		}
	}
	return true
}
