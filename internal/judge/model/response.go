package model

import "fmt"

// Verdict is the outcome of a judged test or of the compile step.
type Verdict string

const (
	VerdictAC  Verdict = "AC"
	VerdictWA  Verdict = "WA"
	VerdictTLE Verdict = "TLE"
	VerdictMLE Verdict = "MLE"
	VerdictRE  Verdict = "RE"
	VerdictCE  Verdict = "CE"
)

// Passed reports whether the verdict is an accept.
func (v Verdict) Passed() bool {
	return v == VerdictAC
}

// Valid reports whether v is one of the known verdicts.
func (v Verdict) Valid() bool {
	switch v {
	case VerdictAC, VerdictWA, VerdictTLE, VerdictMLE, VerdictRE, VerdictCE:
		return true
	}
	return false
}

// CompileResult is present when the language has a compile step.
type CompileResult struct {
	OK       bool   `json:"ok"`
	ExitCode int    `json:"exit_code,omitempty"`
	TimeMs   int64  `json:"time_ms,omitempty"`
	Message  string `json:"message,omitempty"`
}

// TestResult is the per-test outcome reported by the worker.
type TestResult struct {
	ID       string  `json:"id"`
	Verdict  Verdict `json:"verdict"`
	TimeMs   int64   `json:"time_ms"`
	MemoryKB int64   `json:"memory_kb,omitempty"`
	Message  string  `json:"message,omitempty"`
	Actual   string  `json:"actual,omitempty"`
}

// JudgeResponse is the worker's single JSON document on stdout.
type JudgeResponse struct {
	SubmissionID string         `json:"submission_id"`
	Verdict      Verdict        `json:"verdict"`
	TimeMs       int64          `json:"time_ms"`
	MemoryKB     *int64         `json:"memory_kb,omitempty"`
	Compile      *CompileResult `json:"compile,omitempty"`
	Tests        []TestResult   `json:"tests"`
}

// Validate rejects responses whose overall or per-test verdict is unknown.
func (r *JudgeResponse) Validate() error {
	if !r.Verdict.Valid() {
		return fmt.Errorf("unknown verdict %q", r.Verdict)
	}
	for i, tc := range r.Tests {
		if !tc.Verdict.Valid() {
			return fmt.Errorf("test %d (%s): unknown verdict %q", i, tc.ID, tc.Verdict)
		}
	}
	return nil
}

// CompileFailed reports whether the submission did not compile.
func (r *JudgeResponse) CompileFailed() bool {
	if r == nil {
		return false
	}
	if r.Verdict == VerdictCE {
		return true
	}
	return r.Compile != nil && !r.Compile.OK
}

// PassedCount returns how many of the sent tests were accepted. Each sent id
// counts once; ids the worker invented are ignored, and an id reported more
// than once passes only if every report for it is an accept.
func (r *JudgeResponse) PassedCount(sent []TestCase) int {
	if r == nil || r.CompileFailed() || len(sent) == 0 {
		return 0
	}
	accepted := make(map[string]bool, len(sent))
	for _, tc := range sent {
		accepted[tc.ID] = false
	}
	seen := make(map[string]bool, len(sent))
	for _, tr := range r.Tests {
		prev, ok := accepted[tr.ID]
		if !ok {
			continue
		}
		if seen[tr.ID] {
			accepted[tr.ID] = prev && tr.Verdict.Passed()
			continue
		}
		seen[tr.ID] = true
		accepted[tr.ID] = tr.Verdict.Passed()
	}
	passed := 0
	for _, ok := range accepted {
		if ok {
			passed++
		}
	}
	return passed
}

// AllPassed reports whether every sent test was accepted.
// Tests the worker did not report count as failures.
func (r *JudgeResponse) AllPassed(sent []TestCase) bool {
	if r == nil || len(sent) == 0 {
		return false
	}
	distinct := make(map[string]struct{}, len(sent))
	for _, tc := range sent {
		distinct[tc.ID] = struct{}{}
	}
	return r.PassedCount(sent) == len(distinct)
}
