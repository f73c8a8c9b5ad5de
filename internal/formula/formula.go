// Package formula evaluates teacher-authored grade formulas.
//
// A formula is plain arithmetic over two variables, test and avg(practice).
// Variable values are substituted into the text before tokenizing, so the parser
// only ever sees numbers, operators and parentheses. Every failure falls back
// to the default formula and the grade is always an integer in [1, 12].
package formula

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	appErr "codeassess/pkg/errors"
)

const (
	MinGrade = 1
	MaxGrade = 12

	// PracticeWeight is the avg(practice) coefficient of the default formula.
	PracticeWeight = 1.3
	// MaxLength bounds the formula text accepted for evaluation.
	MaxLength = 1024
)

var (
	avgPracticePattern = regexp.MustCompile(`(?i)\bavg\s*\(\s*practice\s*\)`)
	testPattern        = regexp.MustCompile(`(?i)\btest\b`)
)

// Variables are the inputs of a formula. A nil field means the score is absent.
type Variables struct {
	Test        *float64 `json:"test"`
	AvgPractice *float64 `json:"avgPractice"`
}

// Vars builds Variables from plain values.
func Vars(test, avgPractice float64) Variables {
	return Variables{Test: &test, AvgPractice: &avgPractice}
}

// Float returns a pointer to v, for building partial Variables.
func Float(v float64) *float64 {
	return &v
}

// Outcome describes one evaluation.
type Outcome struct {
	Grade    int
	Raw      float64
	Fallback bool
	Err      error
}

// Evaluate returns the grade for formula, clamped to [1, 12] and rounded.
// It never fails: any formula error yields the default formula's grade.
func Evaluate(formula string, vars Variables) int {
	return EvaluateOutcome(formula, vars).Grade
}

// EvaluateOutcome is Evaluate with the raw value and the reason for any fallback.
func EvaluateOutcome(formula string, vars Variables) Outcome {
	raw, err := Compute(formula, vars)
	if err != nil {
		fallback := Default(vars)
		return Outcome{Grade: Grade(fallback), Raw: fallback, Fallback: true, Err: err}
	}
	return Outcome{Grade: Grade(raw), Raw: raw}
}

// Compute evaluates formula strictly and returns the unclamped value.
func Compute(formula string, vars Variables) (float64, error) {
	if strings.TrimSpace(formula) == "" {
		return 0, appErr.New(appErr.FormulaEmpty)
	}
	if len(formula) > MaxLength {
		return 0, appErr.Newf(appErr.FormulaParseError, "formula longer than %d bytes", MaxLength)
	}
	tokens, err := tokenize(substitute(formula, vars))
	if err != nil {
		return 0, err
	}
	p := &parser{tokens: tokens}
	value, err := p.parse()
	if err != nil {
		return 0, err
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, appErr.New(appErr.FormulaNotFinite)
	}
	return value, nil
}

// Validate dry-runs formula with test=8 and avg(practice)=7.5 and reports
// whether it yields a finite number.
func Validate(formula string) bool {
	_, err := Compute(formula, Vars(8, 7.5))
	return err == nil
}

// Default is the fallback formula: (test + 1.3*avg(practice)) / 2 when both are
// present, the present one alone otherwise, and 0 when neither is.
func Default(vars Variables) float64 {
	test, hasTest := value(vars.Test)
	avg, hasAvg := value(vars.AvgPractice)
	switch {
	case hasTest && hasAvg:
		return (test + PracticeWeight*avg) / 2
	case hasTest:
		return test
	case hasAvg:
		return avg
	}
	return 0
}

// Grade clamps v to [1, 12] and rounds half away from zero.
func Grade(v float64) int {
	if math.IsNaN(v) {
		return MinGrade
	}
	return int(math.Round(math.Max(MinGrade, math.Min(MaxGrade, v))))
}

// substitute replaces avg(practice) and the bare word test with parenthesized
// numbers. Absent values become 0.
func substitute(formula string, vars Variables) string {
	avg, _ := value(vars.AvgPractice)
	test, _ := value(vars.Test)
	out := avgPracticePattern.ReplaceAllLiteralString(formula, literal(avg))
	return testPattern.ReplaceAllLiteralString(out, literal(test))
}

// literal formats v without an exponent so the tokenizer reads it back exactly.
func literal(v float64) string {
	return "(" + strconv.FormatFloat(v, 'f', -1, 64) + ")"
}

func value(v *float64) (float64, bool) {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return 0, false
	}
	return *v, true
}
