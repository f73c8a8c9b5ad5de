// Package runner executes grading submissions through the admission-guarded judge.
package runner

import (
	"context"

	"codeassess/internal/grading"
	"codeassess/internal/judge/model"
	"codeassess/pkg/utils/logger"

	"go.uber.org/zap"
)

// Judger is the admission-guarded judge entry point.
type Judger interface {
	Judge(ctx context.Context, req *model.JudgeRequest) (*model.JudgeResponse, error)
}

// JudgeRunner implements grading.TestRunner on top of the judge.
type JudgeRunner struct {
	judge  Judger
	runAll bool
}

// NewJudgeRunner creates a runner. runAll keeps judging after the first failing test,
// which the correctness ratio needs.
func NewJudgeRunner(judge Judger, runAll bool) *JudgeRunner {
	return &JudgeRunner{judge: judge, runAll: runAll}
}

// Run judges the submission. Busy and worker protocol errors are returned unchanged.
func (r *JudgeRunner) Run(ctx context.Context, sub grading.Submission) (grading.TestResults, error) {
	if len(sub.Tests) == 0 {
		logger.Warn(ctx, "submission has no test cases")
		return grading.TestResults{}, nil
	}
	req := &model.JudgeRequest{
		SubmissionID: sub.ID,
		Language:     sub.Language,
		Source:       sub.Source,
		Tests:        sub.Tests,
		Limits:       sub.Limits,
		Checker:      sub.Checker.Normalized(),
		RunAll:       r.runAll,
	}
	resp, err := r.judge.Judge(ctx, req)
	if err != nil {
		return grading.TestResults{}, err
	}
	results := FromResponse(resp, sub.Tests)
	logger.Debug(ctx, "tests judged",
		zap.String("verdict", string(results.Verdict)),
		zap.Int("passed", results.PassedCount),
		zap.Int("total", results.Total),
	)
	return results, nil
}

// FromResponse converts a judge response against the tests that were sent.
// Only sent test ids count toward the passed total.
func FromResponse(resp *model.JudgeResponse, sent []model.TestCase) grading.TestResults {
	total := len(sent)
	if resp == nil {
		return grading.TestResults{Total: total}
	}
	return grading.TestResults{
		Passed:      resp.AllPassed(sent),
		PassedCount: resp.PassedCount(sent),
		Total:       total,
		Verdict:     resp.Verdict,
		Compile:     resp.Compile,
		Tests:       resp.Tests,
	}
}
