// Package grading combines correctness, structural complexity and style into one grade.
package grading

const (
	DefaultCorrectnessWeight = 0.6
	DefaultComplexityWeight  = 0.2
	DefaultStyleWeight       = 0.2
	DefaultMaxComplexity     = 10
	DefaultCritiqueProvider  = "rule"
	DefaultMaxPoints         = 12

	// NeutralScore stands in for a stage that is disabled or failed.
	NeutralScore = 0.5
)

// Weights scale each score in the final sum. They are not required to add up to 1.
type Weights struct {
	Correctness float64 `json:"correctness" yaml:"correctness"`
	Complexity  float64 `json:"complexity" yaml:"complexity"`
	Style       float64 `json:"style" yaml:"style"`
}

// AstAnalysisConfig controls the structural analyzer stage.
type AstAnalysisConfig struct {
	Enabled             bool     `json:"enabled" yaml:"enabled"`
	MaxComplexity       int      `json:"maxComplexity" yaml:"maxComplexity"`
	ForbiddenConstructs []string `json:"forbiddenConstructs,omitempty" yaml:"forbiddenConstructs"`
}

// LlmCritiqueConfig controls the style critique stage.
type LlmCritiqueConfig struct {
	Enabled         bool   `json:"enabled" yaml:"enabled"`
	OnlyIfTestsPass bool   `json:"onlyIfTestsPass" yaml:"onlyIfTestsPass"`
	Provider        string `json:"provider" yaml:"provider"`
}

// GradingConfig is the per-task grading policy.
type GradingConfig struct {
	Weights     Weights           `json:"weights" yaml:"weights"`
	AstAnalysis AstAnalysisConfig `json:"astAnalysis" yaml:"astAnalysis"`
	LlmCritique LlmCritiqueConfig `json:"llmCritique" yaml:"llmCritique"`
	MaxPoints   int               `json:"maxPoints" yaml:"maxPoints"`
}

// DefaultGradingConfig returns the policy used when a task carries none.
func DefaultGradingConfig() GradingConfig {
	return GradingConfig{
		Weights: Weights{
			Correctness: DefaultCorrectnessWeight,
			Complexity:  DefaultComplexityWeight,
			Style:       DefaultStyleWeight,
		},
		AstAnalysis: AstAnalysisConfig{
			Enabled:       true,
			MaxComplexity: DefaultMaxComplexity,
		},
		LlmCritique: LlmCritiqueConfig{
			Enabled:         true,
			OnlyIfTestsPass: true,
			Provider:        DefaultCritiqueProvider,
		},
		MaxPoints: DefaultMaxPoints,
	}
}
