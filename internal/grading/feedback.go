package grading

import (
	"fmt"
	"strings"
)

const (
	positiveThreshold = 0.8
	mixedThreshold    = 0.6
)

// BandFor maps a score to its feedback band.
func BandFor(score float64) Band {
	switch {
	case score >= positiveThreshold:
		return BandPositive
	case score >= mixedThreshold:
		return BandMixed
	}
	return BandNegative
}

func testsFeedback(score float64, results TestResults) StageFeedback {
	fb := StageFeedback{Score: score, Band: BandFor(score)}
	switch {
	case results.Compile != nil && !results.Compile.OK:
		fb.Band = BandNegative
		fb.Message = "The submission did not compile."
		if msg := strings.TrimSpace(results.Compile.Message); msg != "" {
			fb.Details = []string{msg}
		}
	case results.Total == 0:
		fb.Message = "No test cases were available, so correctness could not be verified."
	case fb.Band == BandPositive && results.Passed:
		fb.Message = fmt.Sprintf("All %d tests passed.", results.Total)
	case fb.Band == BandPositive:
		fb.Message = fmt.Sprintf("%d of %d tests passed; only a few edge cases fail.", results.PassedCount, results.Total)
	case fb.Band == BandMixed:
		fb.Message = fmt.Sprintf("%d of %d tests passed; several cases still fail.", results.PassedCount, results.Total)
	default:
		fb.Message = fmt.Sprintf("Only %d of %d tests passed; the solution is not yet correct.", results.PassedCount, results.Total)
	}
	for _, tc := range results.Tests {
		if !tc.Verdict.Passed() {
			fb.Details = append(fb.Details, fmt.Sprintf("test %s: %s", tc.ID, tc.Verdict))
		}
	}
	return fb
}

func complexityFeedback(report ComplexityReport, score float64) StageFeedback {
	fb := StageFeedback{Score: score, Band: BandFor(score), Details: report.Violations}
	switch fb.Band {
	case BandPositive:
		fb.Message = fmt.Sprintf("Code structure is simple (complexity %d).", report.Complexity)
	case BandMixed:
		fb.Message = fmt.Sprintf("Code structure is somewhat complex (complexity %d); consider splitting long functions.", report.Complexity)
	default:
		fb.Message = fmt.Sprintf("Code structure is overly complex (complexity %d); simplify the control flow.", report.Complexity)
	}
	if len(report.Violations) > 0 {
		fb.Message += fmt.Sprintf(" Forbidden constructs used: %s.", strings.Join(report.Violations, ", "))
	}
	return fb
}

func styleFeedback(critique Critique, score float64) StageFeedback {
	fb := StageFeedback{Score: score, Band: BandFor(score), Details: critique.Issues}
	switch fb.Band {
	case BandPositive:
		fb.Message = "Code style is clean and readable."
	case BandMixed:
		fb.Message = "Code style is acceptable but could be improved."
	default:
		fb.Message = "Code style needs significant work."
	}
	if text := strings.TrimSpace(critique.Feedback); text != "" {
		fb.Message += " " + text
	}
	return fb
}

func skippedFeedback(dimension string) StageFeedback {
	return StageFeedback{
		Score:   0,
		Band:    BandNegative,
		Message: fmt.Sprintf("%s was not evaluated because not all tests passed.", dimension),
		Skipped: true,
	}
}

func neutralFeedback(dimension, reason string, degraded bool) StageFeedback {
	return StageFeedback{
		Score:    NeutralScore,
		Band:     BandNeutral,
		Message:  fmt.Sprintf("%s was not evaluated (%s); a neutral score was applied.", dimension, reason),
		Skipped:  !degraded,
		Degraded: degraded,
	}
}

func summarize(fb Feedback) string {
	parts := make([]string, 0, 3)
	for _, msg := range []string{fb.Tests.Message, fb.Complexity.Message, fb.Style.Message} {
		if msg != "" {
			parts = append(parts, msg)
		}
	}
	return strings.Join(parts, " ")
}
