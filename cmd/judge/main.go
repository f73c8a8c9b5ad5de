// Command judge runs one judge request through the admission semaphore and prints the response.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codeassess/internal/judge/client"
	"codeassess/internal/judge/model"
	"codeassess/internal/judge/semaphore"
	"codeassess/internal/judge/service"
	appErr "codeassess/pkg/errors"
	"codeassess/pkg/utils/logger"
)

const (
	exitOK       = 0
	exitFailure  = 1
	exitProtocol = 2
	exitBusy     = 3
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("judge", flag.ContinueOnError)
	fs.SetOutput(stderr)
	requestPath := fs.String("request", "-", "Path to the JudgeRequest JSON, or - for stdin")
	lockPath := fs.String("lock", "", "Lock file path (default JUDGE_LOCK_PATH or the OS temp dir)")
	worker := fs.String("worker", os.Getenv("JUDGE_WORKER"), "Worker command line")
	sandboxConfig := fs.String("sandbox-config", "", "Sandbox config path passed to the worker")
	timeout := fs.Duration("timeout", 0, "Override the computed worker timeout")
	logLevel := fs.String("log-level", "warn", "Log level")
	if err := fs.Parse(args); err != nil {
		return exitFailure
	}

	if err := logger.Init(logger.Config{Level: *logLevel, Format: "console", OutputPath: "stderr"}); err != nil {
		fmt.Fprintf(stderr, "init logger failed: %v\n", err)
		return exitFailure
	}
	defer func() {
		_ = logger.Sync()
	}()

	req, err := readRequest(*requestPath, stdin)
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return exitFailure
	}

	opts, err := client.Config{Command: *worker, SandboxConfigPath: *sandboxConfig, Timeout: *timeout}.Options()
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return exitFailure
	}
	judgeClient, err := client.New(opts)
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return exitFailure
	}
	sem := semaphore.New(semaphore.ConfigFromEnv(semaphore.Config{Path: *lockPath}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	resp, err := service.JudgeWithSemaphore(ctx, sem, judgeClient, req)
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return exitCodeFor(err)
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(resp); err != nil {
		fmt.Fprintf(stderr, "write response failed: %v\n", err)
		return exitFailure
	}
	fmt.Fprintf(stderr, "judged %d/%d tests in %s\n", resp.PassedCount(req.Tests), len(req.Tests), time.Since(start).Round(time.Millisecond))
	return exitOK
}

func readRequest(path string, stdin io.Reader) (*model.JudgeRequest, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read request failed: %w", err)
	}
	var req model.JudgeRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("decode request failed: %w", err)
	}
	return &req, nil
}

func exitCodeFor(err error) int {
	switch {
	case appErr.IsBusy(err):
		return exitBusy
	case appErr.IsJudgeProtocol(err):
		return exitProtocol
	default:
		return exitFailure
	}
}
