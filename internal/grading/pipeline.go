package grading

import (
	"context"
	"math"
	"time"

	appErr "codeassess/pkg/errors"
	"codeassess/pkg/utils/contextkey"
	"codeassess/pkg/utils/logger"

	"go.uber.org/zap"
)

// HybridGradingPipeline runs the grading stages strictly in order for one submission.
// It holds no per-submission state and is safe for concurrent use.
type HybridGradingPipeline struct {
	runner   TestRunner
	analyzer StructuralAnalyzer
	critics  CritiqueResolver
}

// NewHybridGradingPipeline wires the stage implementations. analyzer and critics may be nil,
// in which case their stages degrade to the neutral score.
func NewHybridGradingPipeline(runner TestRunner, analyzer StructuralAnalyzer, critics CritiqueResolver) *HybridGradingPipeline {
	return &HybridGradingPipeline{runner: runner, analyzer: analyzer, critics: critics}
}

// Grade runs RUN_TESTS, then either MINIMAL_SCORE or
// COMPLEXITY_ANALYSIS -> STYLE_CRITIQUE -> AGGREGATE.
// Only a test runner failure is returned as an error.
func (p *HybridGradingPipeline) Grade(ctx context.Context, sub Submission, cfg GradingConfig, taskDescription string) (*HybridGradingResult, error) {
	if p == nil || p.runner == nil {
		return nil, appErr.New(appErr.ServiceUnavailable).WithMessage("test runner is not configured")
	}
	ctx = contextkey.WithSubmissionID(ctx, sub.ID)

	start := time.Now()
	results, err := p.runner.Run(contextkey.WithStage(ctx, string(StageRunTests)), sub)
	if err != nil {
		return nil, err
	}

	correctness := correctnessScore(results)
	passed := results.Passed && results.Total > 0
	result := &HybridGradingResult{
		SubmissionID:     sub.ID,
		Passed:           passed,
		CorrectnessScore: correctness,
		MaxPoints:        cfg.MaxPoints,
		Tests:            results,
	}
	result.Feedback.Tests = testsFeedback(correctness, results)

	if !passed {
		result.Stage = StageMinimalScore
		result.FinalScore = correctness * cfg.Weights.Correctness
		result.Feedback.Complexity = skippedFeedback("Complexity")
		result.Feedback.Style = skippedFeedback("Style")
	} else {
		result.ComplexityScore, result.Feedback.Complexity = p.complexityStage(ctx, sub, cfg.AstAnalysis)
		result.StyleScore, result.Feedback.Style = p.styleStage(ctx, sub, cfg.LlmCritique, passed, taskDescription)
		result.Stage = StageAggregate
		result.FinalScore = correctness*cfg.Weights.Correctness +
			result.ComplexityScore*cfg.Weights.Complexity +
			result.StyleScore*cfg.Weights.Style
	}
	result.GradePoints = gradePoints(result.FinalScore, cfg.MaxPoints)
	result.Summary = summarize(result.Feedback)

	logger.Info(ctx, "grading finished",
		zap.String("stage", string(result.Stage)),
		zap.Float64("correctness", result.CorrectnessScore),
		zap.Float64("complexity", result.ComplexityScore),
		zap.Float64("style", result.StyleScore),
		zap.Float64("final", result.FinalScore),
		zap.Int("points", result.GradePoints),
		zap.Duration("elapsed", time.Since(start)),
	)
	return result, nil
}

func (p *HybridGradingPipeline) complexityStage(ctx context.Context, sub Submission, cfg AstAnalysisConfig) (float64, StageFeedback) {
	ctx = contextkey.WithStage(ctx, string(StageComplexityAnalysis))
	if !cfg.Enabled {
		return NeutralScore, neutralFeedback("Complexity", "analysis disabled", false)
	}
	if p.analyzer == nil {
		return p.degrade(ctx, "Complexity", appErr.New(appErr.AnalyzerUnavailable))
	}
	report, err := p.analyzer.Analyze(ctx, sub, cfg)
	if err != nil {
		return p.degrade(ctx, "Complexity", err)
	}
	score, ok := sanitize(report.Score)
	if !ok {
		return p.degrade(ctx, "Complexity", appErr.Newf(appErr.GradingStageFailed, "analyzer returned score %v", report.Score))
	}
	return score, complexityFeedback(report, score)
}

func (p *HybridGradingPipeline) styleStage(ctx context.Context, sub Submission, cfg LlmCritiqueConfig, passed bool, taskDescription string) (float64, StageFeedback) {
	ctx = contextkey.WithStage(ctx, string(StageStyleCritique))
	if !cfg.Enabled {
		return NeutralScore, neutralFeedback("Style", "critique disabled", false)
	}
	if cfg.OnlyIfTestsPass && !passed {
		return NeutralScore, neutralFeedback("Style", "tests did not pass", false)
	}
	if p.critics == nil {
		return p.degrade(ctx, "Style", appErr.New(appErr.CritiqueProviderUnknown))
	}
	provider, err := p.critics.Resolve(cfg.Provider)
	if err != nil {
		return p.degrade(ctx, "Style", err)
	}
	critique, err := provider.Critique(ctx, sub, taskDescription)
	if err != nil {
		return p.degrade(ctx, "Style", err)
	}
	score, ok := sanitize(critique.StyleScore)
	if !ok {
		return p.degrade(ctx, "Style", appErr.Newf(appErr.GradingStageFailed, "critique returned score %v", critique.StyleScore))
	}
	return score, styleFeedback(critique, score)
}

func (p *HybridGradingPipeline) degrade(ctx context.Context, dimension string, cause error) (float64, StageFeedback) {
	logger.Warn(ctx, "grading stage failed, using neutral score",
		zap.String("dimension", dimension),
		zap.Float64("score", NeutralScore),
		zap.Error(cause),
	)
	return NeutralScore, neutralFeedback(dimension, "stage failed", true)
}

func correctnessScore(results TestResults) float64 {
	if results.Total <= 0 {
		return 0
	}
	score, _ := sanitize(float64(results.PassedCount) / float64(results.Total))
	return score
}

// sanitize clamps finite scores into [0, 1] and rejects NaN and infinities.
func sanitize(score float64) (float64, bool) {
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return 0, false
	}
	return math.Max(0, math.Min(1, score)), true
}

func gradePoints(finalScore float64, maxPoints int) int {
	if maxPoints <= 0 || math.IsNaN(finalScore) {
		return 0
	}
	points := int(math.Round(finalScore * float64(maxPoints)))
	if points < 0 {
		return 0
	}
	if points > maxPoints {
		return maxPoints
	}
	return points
}
