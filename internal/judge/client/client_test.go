//go:build unix

package client_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"codeassess/internal/judge/client"
	"codeassess/internal/judge/model"
	appErr "codeassess/pkg/errors"

	"golang.org/x/sys/unix"
)

func sampleRequest() *model.JudgeRequest {
	return &model.JudgeRequest{
		SubmissionID: "sub-1",
		Language:     model.LanguagePython,
		Source:       "print(input())",
		Tests: []model.TestCase{
			{ID: "t1", Input: "1\n", Output: "1\n"},
		},
		Limits: model.Limits{TimeLimitMs: 1000, MemoryLimitMB: 256},
	}
}

func shellClient(t *testing.T, script string, mutate func(*client.Options)) *client.Client {
	t.Helper()
	opts := client.Options{Command: []string{"/bin/sh", "-c", script}}
	if mutate != nil {
		mutate(&opts)
	}
	c, err := client.New(opts)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func requireCode(t *testing.T, err error, want appErr.ErrorCode) *appErr.Error {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error code %d, got nil", want)
	}
	if got := appErr.GetCode(err); got != want {
		t.Fatalf("error code = %d, want %d (err=%v)", got, want, err)
	}
	return appErr.GetError(err)
}

func TestJudgeSuccess(t *testing.T) {
	t.Parallel()
	c := shellClient(t, `cat >/dev/null; printf '{"submission_id":"sub-1","verdict":"AC","time_ms":5,"tests":[{"id":"t1","verdict":"AC","time_ms":5}]}'`, nil)

	resp, err := c.Judge(context.Background(), sampleRequest())
	if err != nil {
		t.Fatalf("judge: %v", err)
	}
	if resp.Verdict != model.VerdictAC {
		t.Fatalf("verdict = %s", resp.Verdict)
	}
	if !resp.AllPassed(sampleRequest().Tests) {
		t.Fatalf("expected all tests passed: %+v", resp.Tests)
	}
}

func TestJudgeWritesRequestToStdin(t *testing.T) {
	t.Parallel()
	c := shellClient(t, `input=$(cat); case "$input" in *'"submission_id":"sub-1"'*) printf '{"verdict":"AC","tests":[]}';; esac`, nil)

	resp, err := c.Judge(context.Background(), sampleRequest())
	if err != nil {
		t.Fatalf("judge: %v", err)
	}
	if resp.SubmissionID != "sub-1" {
		t.Fatalf("submission id not defaulted: %q", resp.SubmissionID)
	}
}

func TestJudgeCompileFailureIsAResponse(t *testing.T) {
	t.Parallel()
	c := shellClient(t, `cat >/dev/null; echo '{"verdict":"CE","compile":{"ok":false,"exit_code":1,"message":"expected ;"},"tests":[]}'; exit 1`, nil)
	req := sampleRequest()
	req.Language = model.LanguageCpp

	resp, err := c.Judge(context.Background(), req)
	if err != nil {
		t.Fatalf("compile failure must not be a client error: %v", err)
	}
	if !resp.CompileFailed() {
		t.Fatal("expected compile failure")
	}
	if resp.Compile.Message != "expected ;" {
		t.Fatalf("compile message = %q", resp.Compile.Message)
	}
	if resp.SubmissionID != "sub-1" {
		t.Fatalf("submission id not defaulted: %q", resp.SubmissionID)
	}
}

func TestJudgeTimeoutKillsWorker(t *testing.T) {
	t.Parallel()
	pidFile := filepath.Join(t.TempDir(), "pid")
	c := shellClient(t, `echo $$ > `+pidFile+`; exec sleep 30`, func(o *client.Options) {
		o.Timeout = 300 * time.Millisecond
	})

	start := time.Now()
	_, err := c.Judge(context.Background(), sampleRequest())
	requireCode(t, err, appErr.JudgeTimeout)
	if !strings.HasPrefix(err.Error(), "JUDGE_TIMEOUT") {
		t.Fatalf("error text = %q", err.Error())
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("timeout took %v", elapsed)
	}

	raw, readErr := os.ReadFile(pidFile)
	if readErr != nil {
		t.Fatalf("read pid file: %v", readErr)
	}
	pid, convErr := strconv.Atoi(strings.TrimSpace(string(raw)))
	if convErr != nil {
		t.Fatalf("parse pid: %v", convErr)
	}
	if killErr := unix.Kill(pid, 0); !errors.Is(killErr, unix.ESRCH) {
		t.Fatalf("worker %d still exists after timeout (kill err=%v)", pid, killErr)
	}
}

func TestJudgeStdoutTooLarge(t *testing.T) {
	t.Parallel()
	c := shellClient(t, `yes`, func(o *client.Options) {
		o.MaxStdoutBytes = 4096
		o.Timeout = 10 * time.Second
	})

	start := time.Now()
	_, err := c.Judge(context.Background(), sampleRequest())
	requireCode(t, err, appErr.JudgeStdoutTooLarge)
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("worker was not killed promptly: %v", elapsed)
	}
}

func TestJudgeStderrTooLarge(t *testing.T) {
	t.Parallel()
	c := shellClient(t, `yes >&2`, func(o *client.Options) {
		o.MaxStderrBytes = 4096
		o.Timeout = 10 * time.Second
	})

	_, err := c.Judge(context.Background(), sampleRequest())
	requireCode(t, err, appErr.JudgeStderrTooLarge)
}

func TestJudgeNoOutput(t *testing.T) {
	t.Parallel()
	c := shellClient(t, `cat >/dev/null; echo 'sandbox exploded' >&2; exit 3`, nil)

	_, err := c.Judge(context.Background(), sampleRequest())
	e := requireCode(t, err, appErr.JudgeNoOutput)
	if e.Details["exit_code"] != 3 {
		t.Fatalf("exit_code detail = %v", e.Details["exit_code"])
	}
	if !strings.Contains(e.Details["stderr"].(string), "sandbox exploded") {
		t.Fatalf("stderr detail = %v", e.Details["stderr"])
	}
}

func TestJudgeBadJSON(t *testing.T) {
	t.Parallel()
	c := shellClient(t, `cat >/dev/null; echo 'Segmentation fault'`, nil)

	_, err := c.Judge(context.Background(), sampleRequest())
	e := requireCode(t, err, appErr.JudgeBadJSON)
	if e.Details["raw"] != "Segmentation fault" {
		t.Fatalf("raw detail = %v", e.Details["raw"])
	}
}

func TestJudgeWorkerErrorField(t *testing.T) {
	t.Parallel()
	c := shellClient(t, `cat >/dev/null; echo '{"error":"nsjail config missing"}'`, nil)

	_, err := c.Judge(context.Background(), sampleRequest())
	requireCode(t, err, appErr.JudgeWorkerError)
	if !strings.Contains(err.Error(), "nsjail config missing") {
		t.Fatalf("error text = %q", err.Error())
	}
}

func TestJudgeExportsSandboxConfig(t *testing.T) {
	t.Parallel()
	c := shellClient(t, `cat >/dev/null; printf '{"submission_id":"%s","verdict":"AC","tests":[]}' "$JUDGE_SANDBOX_CONFIG"`, func(o *client.Options) {
		o.SandboxConfigPath = "/etc/judge/sandbox.cfg"
	})

	resp, err := c.Judge(context.Background(), sampleRequest())
	if err != nil {
		t.Fatalf("judge: %v", err)
	}
	if resp.SubmissionID != "/etc/judge/sandbox.cfg" {
		t.Fatalf("worker saw sandbox config %q", resp.SubmissionID)
	}
}

func TestJudgeSpawnFailure(t *testing.T) {
	t.Parallel()
	c, err := client.New(client.Options{Command: []string{filepath.Join(t.TempDir(), "missing-worker")}})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = c.Judge(context.Background(), sampleRequest())
	requireCode(t, err, appErr.JudgeSpawnFailed)
}

func TestJudgeContextCancel(t *testing.T) {
	t.Parallel()
	c := shellClient(t, `exec sleep 30`, func(o *client.Options) {
		o.Timeout = 20 * time.Second
	})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	_, err := c.Judge(ctx, sampleRequest())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestNewRequiresCommand(t *testing.T) {
	t.Parallel()
	if _, err := client.New(client.Options{}); appErr.GetCode(err) != appErr.InvalidParams {
		t.Fatalf("expected InvalidParams, got %v", err)
	}
}

func TestConfigOptionsSplitsCommand(t *testing.T) {
	t.Parallel()
	cfg := client.Config{Command: `python3 -m judge_worker --profile 'strict mode'`}
	opts, err := cfg.Options()
	if err != nil {
		t.Fatalf("options: %v", err)
	}
	want := []string{"python3", "-m", "judge_worker", "--profile", "strict mode"}
	if strings.Join(opts.Command, "|") != strings.Join(want, "|") {
		t.Fatalf("command = %q, want %q", opts.Command, want)
	}
}

func TestComputeTimeout(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		language model.Language
		count    int
		limitMs  int64
		want     time.Duration
	}{
		{"python single test", model.LanguagePython, 1, 1000, 2080 * time.Millisecond},
		{"clamped to minimum", model.LanguagePython, 1, 100, 2 * time.Second},
		{"cpp compile headroom", model.LanguageCpp, 10, 1000, 15800 * time.Millisecond},
		{"java compile headroom", model.LanguageJava, 2, 500, 6160 * time.Millisecond},
		{"clamped to maximum", model.LanguageJava, 100, 2000, 60 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := &model.JudgeRequest{
				Language: tt.language,
				Tests:    make([]model.TestCase, tt.count),
				Limits:   model.Limits{TimeLimitMs: tt.limitMs},
			}
			if got := client.ComputeTimeout(req); got != tt.want {
				t.Fatalf("ComputeTimeout() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestJudgeErrorFieldAlwaysFails(t *testing.T) {
	t.Parallel()
	for _, body := range []string{`{"error":""}`, `{"error":null,"verdict":"AC"}`, `{"error":{"code":7},"verdict":"AC","tests":[]}`} {
		c := shellClient(t, `cat >/dev/null; echo '`+body+`'`, nil)
		_, err := c.Judge(context.Background(), sampleRequest())
		requireCode(t, err, appErr.JudgeWorkerError)
	}
}

func TestJudgeRejectsUnknownVerdicts(t *testing.T) {
	t.Parallel()
	for _, body := range []string{
		`{"submission_id":"sub-1","tests":[]}`,
		`{"verdict":"OK","tests":[]}`,
		`{"verdict":"AC","tests":[{"id":"t1","verdict":"PASS"}]}`,
	} {
		c := shellClient(t, `cat >/dev/null; echo '`+body+`'`, nil)
		_, err := c.Judge(context.Background(), sampleRequest())
		requireCode(t, err, appErr.JudgeBadJSON)
	}
}

func TestJudgeKillsLeftoverProcesses(t *testing.T) {
	t.Parallel()
	pidFile := filepath.Join(t.TempDir(), "pid")
	c := shellClient(t, `sleep 30 >/dev/null 2>&1 & echo $! > `+pidFile+`; cat >/dev/null; printf '{"verdict":"AC","tests":[{"id":"t1","verdict":"AC"}]}'`, nil)

	if _, err := c.Judge(context.Background(), sampleRequest()); err != nil {
		t.Fatalf("judge: %v", err)
	}
	raw, err := os.ReadFile(pidFile)
	if err != nil {
		t.Fatalf("read pid file: %v", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		t.Fatalf("parse pid: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for !processGone(pid) {
		if time.Now().After(deadline) {
			t.Fatalf("background process %d outlived the worker", pid)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

// processGone treats an unreaped zombie as gone; pid 1 in a container may never reap it.
func processGone(pid int) bool {
	if errors.Is(unix.Kill(pid, 0), unix.ESRCH) {
		return true
	}
	stat, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/stat")
	if err != nil {
		return false
	}
	fields := strings.Fields(string(stat[strings.LastIndexByte(string(stat), ')')+1:]))
	return len(fields) > 0 && fields[0] == "Z"
}
