// Package model defines the JSON protocol spoken with the sandboxed judge worker.
package model

import (
	"math"
	"strings"

	appErr "codeassess/pkg/errors"
)

// Language identifies a supported submission language.
type Language string

const (
	LanguageJava   Language = "java"
	LanguagePython Language = "python"
	LanguageCpp    Language = "cpp"
)

// Compiled reports whether the language has a compile step before tests run.
func (l Language) Compiled() bool {
	return l == LanguageJava || l == LanguageCpp
}

// Valid reports whether l is one of the supported languages.
func (l Language) Valid() bool {
	switch l {
	case LanguageJava, LanguagePython, LanguageCpp:
		return true
	}
	return false
}

// CheckerType selects how actual output is compared with the expected output.
type CheckerType string

const (
	CheckerExact      CheckerType = "exact"
	CheckerWhitespace CheckerType = "whitespace"
	CheckerFloat      CheckerType = "float"
)

// DefaultFloatEpsilon is used by the float checker when no epsilon is given.
const DefaultFloatEpsilon = 1e-6

// Checker describes the output comparison mode.
type Checker struct {
	Type    CheckerType `json:"type"`
	Epsilon float64     `json:"epsilon,omitempty"`
}

// Normalized fills defaults: exact comparison, and the float epsilon.
func (c Checker) Normalized() Checker {
	if c.Type == "" {
		c.Type = CheckerExact
	}
	if c.Type == CheckerFloat && c.Epsilon == 0 {
		c.Epsilon = DefaultFloatEpsilon
	}
	return c
}

// Limits are the per-test resource limits enforced by the worker.
type Limits struct {
	TimeLimitMs   int64 `json:"time_limit_ms"`
	MemoryLimitMB int64 `json:"memory_limit_mb"`
	OutputLimitKB int64 `json:"output_limit_kb,omitempty"`
}

// TestCase is one input/expected-output pair.
type TestCase struct {
	ID     string `json:"id"`
	Input  string `json:"input,omitempty"`
	Output string `json:"output"`
	Hidden bool   `json:"hidden,omitempty"`
}

// JudgeRequest is written to the worker's stdin as a single JSON document.
type JudgeRequest struct {
	SubmissionID string     `json:"submission_id"`
	Language     Language   `json:"language"`
	Source       string     `json:"source"`
	Tests        []TestCase `json:"tests"`
	Limits       Limits     `json:"limits"`
	Checker      Checker    `json:"checker"`
	Debug        bool       `json:"debug,omitempty"`
	// RunAll keeps running tests after the first failure.
	RunAll bool `json:"run_all,omitempty"`
}

// Validate rejects requests that must never reach the worker.
func (r *JudgeRequest) Validate() error {
	if r == nil {
		return appErr.BadRequest("judge request is nil")
	}
	if strings.TrimSpace(r.SubmissionID) == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	if !r.Language.Valid() {
		return appErr.Newf(appErr.LanguageNotSupported, "language %q is not supported", r.Language)
	}
	if strings.TrimSpace(r.Source) == "" {
		return appErr.ValidationError("source", "required")
	}
	if len(r.Tests) == 0 {
		return appErr.ValidationError("tests", "at least one test is required")
	}
	seen := make(map[string]struct{}, len(r.Tests))
	for _, tc := range r.Tests {
		if tc.ID == "" {
			return appErr.ValidationError("tests.id", "required")
		}
		if _, dup := seen[tc.ID]; dup {
			return appErr.ValidationError("tests.id", "duplicate test id "+tc.ID)
		}
		seen[tc.ID] = struct{}{}
	}
	if r.Limits.TimeLimitMs <= 0 {
		return appErr.ValidationError("limits.time_limit_ms", "must be positive")
	}
	if r.Limits.MemoryLimitMB <= 0 {
		return appErr.ValidationError("limits.memory_limit_mb", "must be positive")
	}
	if r.Limits.OutputLimitKB < 0 {
		return appErr.ValidationError("limits.output_limit_kb", "must not be negative")
	}
	switch r.Checker.Type {
	case "", CheckerExact, CheckerWhitespace, CheckerFloat:
	default:
		return appErr.ValidationError("checker.type", "unknown checker "+string(r.Checker.Type))
	}
	if r.Checker.Epsilon < 0 || math.IsNaN(r.Checker.Epsilon) || math.IsInf(r.Checker.Epsilon, 0) {
		return appErr.ValidationError("checker.epsilon", "must be a non-negative number")
	}
	return nil
}
