package grading

import (
	"context"

	"codeassess/internal/judge/model"
)

// Submission is the code under assessment together with its test data.
type Submission struct {
	ID       string           `json:"submission_id"`
	Language model.Language   `json:"language"`
	Source   string           `json:"source"`
	Tests    []model.TestCase `json:"tests"`
	Limits   model.Limits     `json:"limits"`
	Checker  model.Checker    `json:"checker"`
}

// TestResults is the outcome of the correctness stage.
type TestResults struct {
	Passed      bool                 `json:"passed"`
	PassedCount int                  `json:"passedCount"`
	Total       int                  `json:"total"`
	Verdict     model.Verdict        `json:"verdict,omitempty"`
	Compile     *model.CompileResult `json:"compile,omitempty"`
	Tests       []model.TestResult   `json:"tests,omitempty"`
}

// ComplexityReport is the outcome of the structural analyzer.
type ComplexityReport struct {
	Score      float64  `json:"score"`
	Complexity int      `json:"complexity"`
	Violations []string `json:"violations,omitempty"`
}

// Critique is the outcome of a style critique provider.
type Critique struct {
	StyleScore float64  `json:"styleScore"`
	Feedback   string   `json:"feedback,omitempty"`
	Issues     []string `json:"issues,omitempty"`
}

// TestRunner executes a submission against its tests.
// An error here is an infrastructure failure and aborts grading.
type TestRunner interface {
	Run(ctx context.Context, sub Submission) (TestResults, error)
}

// StructuralAnalyzer measures code complexity. Errors degrade to the neutral score.
type StructuralAnalyzer interface {
	Analyze(ctx context.Context, sub Submission, cfg AstAnalysisConfig) (ComplexityReport, error)
}

// CritiqueProvider reviews code style. Errors degrade to the neutral score.
type CritiqueProvider interface {
	Critique(ctx context.Context, sub Submission, taskDescription string) (Critique, error)
}

// CritiqueResolver looks up a provider by its configured name.
type CritiqueResolver interface {
	Resolve(name string) (CritiqueProvider, error)
}
