// Package analyzer provides a best-effort structural analyzer.
//
// It does not parse the language. Comments and string literals are blanked out and
// decision points are counted lexically, which approximates cyclomatic complexity.
package analyzer

import (
	"context"
	"regexp"
	"strings"
	"unicode"

	"codeassess/internal/grading"
	"codeassess/internal/judge/model"
	appErr "codeassess/pkg/errors"
)

// ViolationPenalty is subtracted from the score for each forbidden construct found.
const ViolationPenalty = 0.25

var (
	cFamilyDecisions = regexp.MustCompile(`\b(if|for|while|case|catch)\b|&&|\|\||\?[^?>]`)
	pythonDecisions  = regexp.MustCompile(`\b(if|elif|for|while|except|and|or)\b`)
)

// Heuristic implements grading.StructuralAnalyzer for java, cpp and python.
type Heuristic struct{}

// NewHeuristic creates the analyzer.
func NewHeuristic() *Heuristic {
	return &Heuristic{}
}

// Analyze scores the submission: 1 up to cfg.MaxComplexity, then maxComplexity/complexity,
// minus ViolationPenalty per forbidden construct, floored at 0.
func (h *Heuristic) Analyze(ctx context.Context, sub grading.Submission, cfg grading.AstAnalysisConfig) (grading.ComplexityReport, error) {
	var decisions *regexp.Regexp
	var code string
	switch sub.Language {
	case model.LanguageJava, model.LanguageCpp:
		decisions = cFamilyDecisions
		code = stripCFamily(sub.Source)
	case model.LanguagePython:
		decisions = pythonDecisions
		code = stripPython(sub.Source)
	default:
		return grading.ComplexityReport{}, appErr.Newf(appErr.AnalyzerUnavailable, "no structural analysis for language %q", sub.Language)
	}

	complexity := 1 + len(decisions.FindAllStringIndex(code, -1))
	maxComplexity := cfg.MaxComplexity
	if maxComplexity <= 0 {
		maxComplexity = grading.DefaultMaxComplexity
	}

	score := 1.0
	if complexity > maxComplexity {
		score = float64(maxComplexity) / float64(complexity)
	}
	violations := findForbidden(code, cfg.ForbiddenConstructs)
	score -= ViolationPenalty * float64(len(violations))
	if score < 0 {
		score = 0
	}
	return grading.ComplexityReport{Score: score, Complexity: complexity, Violations: violations}, nil
}

func findForbidden(code string, constructs []string) []string {
	var found []string
	seen := make(map[string]struct{}, len(constructs))
	for _, construct := range constructs {
		construct = strings.TrimSpace(construct)
		if construct == "" {
			continue
		}
		if _, dup := seen[construct]; dup {
			continue
		}
		seen[construct] = struct{}{}
		if constructPattern(construct).MatchString(code) {
			found = append(found, construct)
		}
	}
	return found
}

// constructPattern matches construct literally, with word boundaries on word-character edges.
func constructPattern(construct string) *regexp.Regexp {
	pattern := regexp.QuoteMeta(construct)
	runes := []rune(construct)
	if isWord(runes[0]) {
		pattern = `\b` + pattern
	}
	if isWord(runes[len(runes)-1]) {
		pattern += `\b`
	}
	return regexp.MustCompile(pattern)
}

func isWord(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// stripCFamily blanks // and /* */ comments plus string and char literals, keeping newlines.
func stripCFamily(src string) string {
	in := []rune(src)
	out := make([]rune, len(in))
	for i := 0; i < len(in); {
		switch {
		case in[i] == '/' && i+1 < len(in) && in[i+1] == '/':
			for i < len(in) && in[i] != '\n' {
				out[i] = ' '
				i++
			}
		case in[i] == '/' && i+1 < len(in) && in[i+1] == '*':
			out[i], out[i+1] = ' ', ' '
			i += 2
			for i < len(in) && !(in[i] == '*' && i+1 < len(in) && in[i+1] == '/') {
				out[i] = blank(in[i])
				i++
			}
			for j := 0; j < 2 && i < len(in); j++ {
				out[i] = ' '
				i++
			}
		case in[i] == '"' || in[i] == '\'':
			i = blankQuoted(in, out, i, in[i])
		default:
			out[i] = in[i]
			i++
		}
	}
	return string(out)
}

// stripPython blanks # comments plus single and triple quoted strings.
func stripPython(src string) string {
	in := []rune(src)
	out := make([]rune, len(in))
	for i := 0; i < len(in); {
		switch {
		case in[i] == '#':
			for i < len(in) && in[i] != '\n' {
				out[i] = ' '
				i++
			}
		case (in[i] == '"' || in[i] == '\'') && i+2 < len(in) && in[i+1] == in[i] && in[i+2] == in[i]:
			quote := in[i]
			for j := 0; j < 3; j++ {
				out[i] = ' '
				i++
			}
			for i < len(in) && !(in[i] == quote && i+2 < len(in) && in[i+1] == quote && in[i+2] == quote) {
				out[i] = blank(in[i])
				i++
			}
			for j := 0; j < 3 && i < len(in); j++ {
				out[i] = ' '
				i++
			}
		case in[i] == '"' || in[i] == '\'':
			i = blankQuoted(in, out, i, in[i])
		default:
			out[i] = in[i]
			i++
		}
	}
	return string(out)
}

// blankQuoted blanks a quoted literal starting at i and returns the index after it.
// An unterminated literal ends at the line break.
func blankQuoted(in, out []rune, i int, quote rune) int {
	out[i] = ' '
	i++
	for i < len(in) && in[i] != quote && in[i] != '\n' {
		if in[i] == '\\' && i+1 < len(in) {
			out[i] = ' '
			i++
		}
		out[i] = blank(in[i])
		i++
	}
	if i < len(in) && in[i] == quote {
		out[i] = ' '
		i++
	}
	return i
}

func blank(r rune) rune {
	if r == '\n' {
		return '\n'
	}
	return ' '
}
