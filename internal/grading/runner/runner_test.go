package runner_test

import (
	"context"
	"testing"

	"codeassess/internal/grading"
	"codeassess/internal/grading/runner"
	"codeassess/internal/judge/model"
	appErr "codeassess/pkg/errors"
)

type fakeJudge struct {
	called int
	last   *model.JudgeRequest
	resp   *model.JudgeResponse
	err    error
}

func (f *fakeJudge) Judge(ctx context.Context, req *model.JudgeRequest) (*model.JudgeResponse, error) {
	f.called++
	f.last = req
	return f.resp, f.err
}

func submission() grading.Submission {
	return grading.Submission{
		ID:       "s-1",
		Language: model.LanguageCpp,
		Source:   "int main(){}",
		Tests:    []model.TestCase{{ID: "a", Output: "1"}, {ID: "b", Output: "2"}},
		Limits:   model.Limits{TimeLimitMs: 1000, MemoryLimitMB: 64},
		Checker:  model.Checker{Type: model.CheckerFloat},
	}
}

func TestRunBuildsJudgeRequest(t *testing.T) {
	t.Parallel()
	judge := &fakeJudge{resp: &model.JudgeResponse{
		Verdict: model.VerdictAC,
		Tests:   []model.TestResult{{ID: "a", Verdict: model.VerdictAC}, {ID: "b", Verdict: model.VerdictAC}},
	}}

	results, err := runner.NewJudgeRunner(judge, true).Run(context.Background(), submission())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !results.Passed || results.PassedCount != 2 || results.Total != 2 {
		t.Fatalf("results = %+v", results)
	}
	if !judge.last.RunAll || judge.last.SubmissionID != "s-1" {
		t.Fatalf("request = %+v", judge.last)
	}
	if judge.last.Checker.Epsilon != model.DefaultFloatEpsilon {
		t.Fatalf("checker not normalized: %+v", judge.last.Checker)
	}
}

func TestRunPartialPass(t *testing.T) {
	t.Parallel()
	judge := &fakeJudge{resp: &model.JudgeResponse{
		Verdict: model.VerdictWA,
		Tests:   []model.TestResult{{ID: "a", Verdict: model.VerdictAC}},
	}}

	results, err := runner.NewJudgeRunner(judge, false).Run(context.Background(), submission())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if results.Passed || results.PassedCount != 1 || results.Total != 2 {
		t.Fatalf("results = %+v", results)
	}
}

func TestRunCompileFailure(t *testing.T) {
	t.Parallel()
	judge := &fakeJudge{resp: &model.JudgeResponse{
		Verdict: model.VerdictCE,
		Compile: &model.CompileResult{OK: false, Message: "error: expected ';'"},
	}}

	results, err := runner.NewJudgeRunner(judge, true).Run(context.Background(), submission())
	if err != nil {
		t.Fatalf("compile failure is a result, not an error: %v", err)
	}
	if results.Passed || results.PassedCount != 0 || results.Compile == nil {
		t.Fatalf("results = %+v", results)
	}
}

func TestRunPropagatesJudgeErrors(t *testing.T) {
	t.Parallel()
	judge := &fakeJudge{err: appErr.Busy("")}
	_, err := runner.NewJudgeRunner(judge, true).Run(context.Background(), submission())
	if !appErr.IsBusy(err) {
		t.Fatalf("expected busy, got %v", err)
	}
}

func TestRunWithoutTestsSkipsJudge(t *testing.T) {
	t.Parallel()
	judge := &fakeJudge{}
	sub := submission()
	sub.Tests = nil

	results, err := runner.NewJudgeRunner(judge, true).Run(context.Background(), sub)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if judge.called != 0 || results.Total != 0 || results.Passed {
		t.Fatalf("judge calls=%d results=%+v", judge.called, results)
	}
}

func TestFromResponseCountsOnlySentTests(t *testing.T) {
	t.Parallel()
	sent := submission().Tests
	tests := []struct {
		name       string
		results    []model.TestResult
		wantPassed bool
		wantCount  int
	}{
		{
			name:      "duplicate accept for one test",
			results:   []model.TestResult{{ID: "a", Verdict: model.VerdictAC}, {ID: "a", Verdict: model.VerdictAC}},
			wantCount: 1,
		},
		{
			name:    "unknown ids",
			results: []model.TestResult{{ID: "x", Verdict: model.VerdictAC}, {ID: "y", Verdict: model.VerdictAC}},
		},
		{
			name:      "conflicting duplicate",
			results:   []model.TestResult{{ID: "a", Verdict: model.VerdictAC}, {ID: "a", Verdict: model.VerdictWA}, {ID: "b", Verdict: model.VerdictAC}},
			wantCount: 1,
		},
		{
			name:       "every sent test accepted plus noise",
			results:    []model.TestResult{{ID: "b", Verdict: model.VerdictAC}, {ID: "z", Verdict: model.VerdictWA}, {ID: "a", Verdict: model.VerdictAC}},
			wantPassed: true,
			wantCount:  2,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := runner.FromResponse(&model.JudgeResponse{Verdict: model.VerdictAC, Tests: tt.results}, sent)
			if got.Passed != tt.wantPassed || got.PassedCount != tt.wantCount || got.Total != 2 {
				t.Fatalf("results = %+v, want passed=%v count=%d", got, tt.wantPassed, tt.wantCount)
			}
		})
	}
}
