package grading

// Stage names the pipeline states.
type Stage string

const (
	StageRunTests           Stage = "RUN_TESTS"
	StageMinimalScore       Stage = "MINIMAL_SCORE"
	StageComplexityAnalysis Stage = "COMPLEXITY_ANALYSIS"
	StageStyleCritique      Stage = "STYLE_CRITIQUE"
	StageAggregate          Stage = "AGGREGATE"
)

// Band is the qualitative bucket a score falls into.
type Band string

const (
	BandPositive Band = "positive"
	BandMixed    Band = "mixed"
	BandNegative Band = "negative"
	// BandNeutral marks a stage whose score was substituted rather than measured.
	BandNeutral Band = "neutral"
)

// StageFeedback is the feedback of one grading dimension.
type StageFeedback struct {
	Score    float64  `json:"score"`
	Band     Band     `json:"band"`
	Message  string   `json:"message"`
	Skipped  bool     `json:"skipped,omitempty"`
	Degraded bool     `json:"degraded,omitempty"`
	Details  []string `json:"details,omitempty"`
}

// Feedback holds the three dimensions in summary order.
type Feedback struct {
	Tests      StageFeedback `json:"tests"`
	Complexity StageFeedback `json:"complexity"`
	Style      StageFeedback `json:"style"`
}

// HybridGradingResult is the final grade of one submission.
type HybridGradingResult struct {
	SubmissionID     string      `json:"submissionId"`
	Stage            Stage       `json:"stage"`
	Passed           bool        `json:"passed"`
	CorrectnessScore float64     `json:"correctnessScore"`
	ComplexityScore  float64     `json:"complexityScore"`
	StyleScore       float64     `json:"styleScore"`
	FinalScore       float64     `json:"finalScore"`
	GradePoints      int         `json:"gradePoints"`
	MaxPoints        int         `json:"maxPoints"`
	Tests            TestResults `json:"testResults"`
	Feedback         Feedback    `json:"feedback"`
	Summary          string      `json:"summary"`
}
