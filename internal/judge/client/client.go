// Package client drives the external sandboxed judge worker over its stdin/stdout JSON protocol.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"strings"
	"time"

	"codeassess/internal/judge/model"
	appErr "codeassess/pkg/errors"
	"codeassess/pkg/utils/logger"

	"github.com/google/shlex"
	"go.uber.org/zap"
)

const (
	DefaultMaxStdoutBytes int64 = 1 << 20
	DefaultMaxStderrBytes int64 = 256 << 10

	// EnvSandboxConfig tells the worker where its sandbox configuration lives.
	EnvSandboxConfig = "JUDGE_SANDBOX_CONFIG"

	pipeDrainDelay = time.Second
)

// Config is the YAML shape of the worker settings.
type Config struct {
	Command           string        `yaml:"command"`
	Dir               string        `yaml:"dir"`
	SandboxConfigPath string        `yaml:"sandboxConfigPath"`
	MaxStdoutBytes    int64         `yaml:"maxStdoutBytes"`
	MaxStderrBytes    int64         `yaml:"maxStderrBytes"`
	Timeout           time.Duration `yaml:"timeout"`
}

// Options converts the config, splitting the command line with shell quoting rules.
func (c Config) Options() (Options, error) {
	fields, err := shlex.Split(c.Command)
	if err != nil {
		return Options{}, appErr.Wrapf(err, appErr.InvalidParams, "parse worker command failed")
	}
	return Options{
		Command:           fields,
		Dir:               c.Dir,
		SandboxConfigPath: c.SandboxConfigPath,
		MaxStdoutBytes:    c.MaxStdoutBytes,
		MaxStderrBytes:    c.MaxStderrBytes,
		Timeout:           c.Timeout,
	}, nil
}

// Options configures a Client.
type Options struct {
	Command           []string
	Env               []string
	Dir               string
	SandboxConfigPath string
	MaxStdoutBytes    int64
	MaxStderrBytes    int64
	// Timeout overrides ComputeTimeout when positive.
	Timeout time.Duration
}

// Client spawns one worker process per Judge call.
type Client struct {
	opts Options
}

// New validates options and fills defaults.
func New(opts Options) (*Client, error) {
	if len(opts.Command) == 0 || strings.TrimSpace(opts.Command[0]) == "" {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("worker command is required")
	}
	if opts.MaxStdoutBytes <= 0 {
		opts.MaxStdoutBytes = DefaultMaxStdoutBytes
	}
	if opts.MaxStderrBytes <= 0 {
		opts.MaxStderrBytes = DefaultMaxStderrBytes
	}
	return &Client{opts: opts}, nil
}

// Judge sends req to a fresh worker and returns its parsed response.
// A compile failure is part of the response; every other worker failure is a coded error
// (JUDGE_TIMEOUT, JUDGE_STDOUT_TOO_LARGE, JUDGE_STDERR_TOO_LARGE, JUDGE_NO_OUTPUT,
// JUDGE_BAD_JSON, JUDGE_ERROR). The worker is killed on every abort path.
func (c *Client) Judge(ctx context.Context, req *model.JudgeRequest) (*model.JudgeResponse, error) {
	if req == nil {
		return nil, appErr.BadRequest("judge request is nil")
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.InternalServerError, "encode judge request failed")
	}

	timeout := c.opts.Timeout
	if timeout <= 0 {
		timeout = ComputeTimeout(req)
	}

	cmd := exec.Command(c.opts.Command[0], c.opts.Command[1:]...)
	cmd.Dir = c.opts.Dir
	cmd.Env = c.buildEnv()
	cmd.WaitDelay = pipeDrainDelay
	setProcessGroup(cmd)

	overflow := make(chan string, 2)
	stdout := newCappedBuffer("stdout", c.opts.MaxStdoutBytes, overflow)
	stderr := newCappedBuffer("stderr", c.opts.MaxStderrBytes, overflow)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.JudgeSpawnFailed, "open worker stdin failed")
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, appErr.Wrapf(err, appErr.JudgeSpawnFailed, "start worker %s failed", c.opts.Command[0]).
			WithDetail("command", c.opts.Command[0])
	}
	pid := cmd.Process.Pid
	logger.Debug(ctx, "judge worker started",
		zap.Int("pid", pid),
		zap.Duration("timeout", timeout),
		zap.Int("tests", len(req.Tests)),
	)

	go func() {
		// A worker that stops reading gets EPIPE here once it is killed.
		_, _ = stdin.Write(payload)
		_ = stdin.Close()
	}()

	waitCh := make(chan error, 1)
	go func() {
		waitCh <- cmd.Wait()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	abort := func(reason string) {
		killProcessGroup(cmd)
		<-waitCh
		logger.Warn(ctx, "judge worker killed",
			zap.Int("pid", pid),
			zap.String("reason", reason),
			zap.Duration("elapsed", time.Since(start)),
		)
	}

	var waitErr error
	select {
	case waitErr = <-waitCh:
	case <-timer.C:
		abort("timeout")
		return nil, appErr.Newf(appErr.JudgeTimeout, "worker exceeded %s", timeout).
			WithDetail("timeout_ms", timeout.Milliseconds())
	case stream := <-overflow:
		abort(stream + " too large")
		return nil, overflowError(stream, c.opts)
	case <-ctx.Done():
		abort("context done")
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, appErr.Wrapf(ctx.Err(), appErr.JudgeTimeout, "judge deadline exceeded")
		}
		return nil, ctx.Err()
	}

	// Anything the worker left running in its group goes with it.
	killProcessGroup(cmd)

	// The stream can overflow in the final writes before exit.
	if stdout.Exceeded() {
		return nil, overflowError("stdout", c.opts)
	}
	if stderr.Exceeded() {
		return nil, overflowError("stderr", c.opts)
	}

	exitCode := exitCodeOf(waitErr, cmd.ProcessState)
	logger.Debug(ctx, "judge worker exited",
		zap.Int("pid", pid),
		zap.Int("exit_code", exitCode),
		zap.Duration("elapsed", time.Since(start)),
	)

	resp, err := parseOutput(stdout.Bytes(), stderr.Bytes(), exitCode)
	if err != nil {
		return nil, err
	}
	if resp.SubmissionID == "" {
		resp.SubmissionID = req.SubmissionID
	}
	return resp, nil
}

func (c *Client) buildEnv() []string {
	env := append(os.Environ(), c.opts.Env...)
	if c.opts.SandboxConfigPath != "" {
		env = append(env, EnvSandboxConfig+"="+c.opts.SandboxConfigPath)
	}
	return env
}

func overflowError(stream string, opts Options) error {
	if stream == "stderr" {
		return appErr.Newf(appErr.JudgeStderrTooLarge, "worker stderr exceeded %d bytes", opts.MaxStderrBytes).
			WithDetail("limit_bytes", opts.MaxStderrBytes)
	}
	return appErr.Newf(appErr.JudgeStdoutTooLarge, "worker stdout exceeded %d bytes", opts.MaxStdoutBytes).
		WithDetail("limit_bytes", opts.MaxStdoutBytes)
}

func exitCodeOf(err error, state *os.ProcessState) int {
	if state != nil {
		return state.ExitCode()
	}
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// parseOutput turns the worker's full stdout into a response.
func parseOutput(stdout, stderr []byte, exitCode int) (*model.JudgeResponse, error) {
	raw := bytes.TrimSpace(stdout)
	if len(raw) == 0 {
		stderrText := excerpt(stderr, excerptBytes)
		return nil, appErr.Newf(appErr.JudgeNoOutput, "worker exited with code %d without output: %s", exitCode, stderrText).
			WithDetail("exit_code", exitCode).
			WithDetail("stderr", stderrText)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return nil, badJSON(raw, err)
	}
	if field, ok := fields["error"]; ok {
		var msg string
		if json.Unmarshal(field, &msg) != nil || strings.TrimSpace(msg) == "" {
			msg = "worker reported an error without a message: " + excerpt(field, excerptBytes)
		}
		return nil, appErr.Newf(appErr.JudgeWorkerError, "%s", msg).
			WithDetail("exit_code", exitCode)
	}

	var resp model.JudgeResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, badJSON(raw, err)
	}
	if err := resp.Validate(); err != nil {
		return nil, badJSON(raw, err)
	}
	return &resp, nil
}

func badJSON(raw []byte, cause error) error {
	text := excerpt(raw, excerptBytes)
	if cause != nil {
		return appErr.Wrapf(cause, appErr.JudgeBadJSON, "worker output is not a valid response: %s", text).
			WithDetail("raw", text)
	}
	return appErr.Newf(appErr.JudgeBadJSON, "worker output is not a valid response: %s", text).
		WithDetail("raw", text)
}
