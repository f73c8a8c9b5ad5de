// Package critic holds style critique providers and their registry.
package critic

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"codeassess/internal/grading"
	"codeassess/internal/judge/model"
)

const (
	// RuleProviderName is the registry name of the rule-based provider.
	RuleProviderName = "rule"

	maxLineLength        = 120
	commentRequiredAfter = 40
	issuePenalty         = 0.1
)

var (
	cFamilyDecl  = regexp.MustCompile(`\b(?:int|long|short|double|float|char|bool|boolean|String|auto|var)\s+([A-Za-z_]\w*)\b`)
	pythonAssign = regexp.MustCompile(`(?m)^\s*([A-Za-z_]\w*)\s*=[^=]`)
	loopCounters = map[string]struct{}{"i": {}, "j": {}, "k": {}, "_": {}}
)

// Rule is a deterministic, offline style reviewer. Each kind of issue found
// lowers the score by 0.1.
type Rule struct{}

// NewRule creates the rule-based provider.
func NewRule() *Rule {
	return &Rule{}
}

// Critique implements grading.CritiqueProvider.
func (r *Rule) Critique(ctx context.Context, sub grading.Submission, taskDescription string) (grading.Critique, error) {
	lines := strings.Split(strings.ReplaceAll(sub.Source, "\r\n", "\n"), "\n")
	var issues []string

	long, trailing, tabIndented, spaceIndented := 0, 0, 0, 0
	for _, line := range lines {
		if utf8.RuneCountInString(line) > maxLineLength {
			long++
		}
		if strings.TrimRight(line, " \t") != line {
			trailing++
		}
		switch {
		case strings.HasPrefix(line, "\t"):
			tabIndented++
		case strings.HasPrefix(line, " "):
			spaceIndented++
		}
	}
	if long > 0 {
		issues = append(issues, fmt.Sprintf("%d line(s) longer than %d characters", long, maxLineLength))
	}
	if trailing > 0 {
		issues = append(issues, fmt.Sprintf("%d line(s) with trailing whitespace", trailing))
	}
	if tabIndented > 0 && spaceIndented > 0 {
		issues = append(issues, "indentation mixes tabs and spaces")
	}
	if names := singleLetterNames(sub); len(names) > 0 {
		issues = append(issues, "single-letter identifiers: "+strings.Join(names, ", "))
	}
	if codeLines(lines) > commentRequiredAfter && !hasComment(sub) {
		issues = append(issues, fmt.Sprintf("no comments in a program longer than %d lines", commentRequiredAfter))
	}

	score := 1 - issuePenalty*float64(len(issues))
	if score < 0 {
		score = 0
	}
	critique := grading.Critique{StyleScore: score, Issues: issues}
	if len(issues) > 0 {
		critique.Feedback = fmt.Sprintf("Style review found %d issue(s): %s.", len(issues), strings.Join(issues, "; "))
	}
	return critique, nil
}

func singleLetterNames(sub grading.Submission) []string {
	pattern := cFamilyDecl
	if sub.Language == model.LanguagePython {
		pattern = pythonAssign
	}
	found := make(map[string]struct{})
	for _, match := range pattern.FindAllStringSubmatch(sub.Source, -1) {
		name := match[1]
		if len(name) != 1 {
			continue
		}
		if _, ok := loopCounters[name]; ok {
			continue
		}
		found[name] = struct{}{}
	}
	names := make([]string, 0, len(found))
	for name := range found {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func codeLines(lines []string) int {
	n := 0
	for _, line := range lines {
		if strings.TrimSpace(line) != "" {
			n++
		}
	}
	return n
}

func hasComment(sub grading.Submission) bool {
	if sub.Language == model.LanguagePython {
		return strings.Contains(sub.Source, "#") || strings.Contains(sub.Source, `"""`)
	}
	return strings.Contains(sub.Source, "//") || strings.Contains(sub.Source, "/*")
}
