package errors_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	. "codeassess/pkg/errors"
)

func TestErrorCode_Message(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want string
	}{
		{Success, "Success"},
		{InvalidParams, "Invalid parameters"},
		{JudgeBusy, "Judge is busy, please try again later"},
		{FormulaDivideByZero, "Division by zero in formula"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.code.Message(); got != tt.want {
				t.Errorf("Message() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestErrorCode_HTTPStatus(t *testing.T) {
	tests := []struct {
		code       ErrorCode
		wantStatus int
	}{
		{Success, 200},
		{InvalidParams, 400},
		{ValidationFailed, 400},
		{NotFound, 404},
		{TooManyRequests, 429},
		{JudgeBusy, 503},
		{JudgeTimeout, 500},
		{InternalServerError, 500},
	}

	for _, tt := range tests {
		t.Run(tt.code.Message(), func(t *testing.T) {
			if got := tt.code.HTTPStatus(); got != tt.wantStatus {
				t.Errorf("HTTPStatus() = %v, want %v", got, tt.wantStatus)
			}
		})
	}
}

func TestProtocolErrorNames(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want string
	}{
		{JudgeTimeout, "JUDGE_TIMEOUT"},
		{JudgeStdoutTooLarge, "JUDGE_STDOUT_TOO_LARGE"},
		{JudgeStderrTooLarge, "JUDGE_STDERR_TOO_LARGE"},
		{JudgeNoOutput, "JUDGE_NO_OUTPUT"},
		{JudgeBadJSON, "JUDGE_BAD_JSON"},
		{JudgeWorkerError, "JUDGE_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			err := Newf(tt.code, "worker pid %d", 42)
			if !strings.HasPrefix(err.Error(), tt.want+": ") {
				t.Fatalf("Error() = %q, want prefix %q", err.Error(), tt.want)
			}
			if !IsJudgeProtocol(err) {
				t.Fatalf("expected %s to be a protocol error", tt.want)
			}
		})
	}
	if IsJudgeProtocol(New(JudgeBusy)) {
		t.Fatal("busy must not count as a protocol error")
	}
	if IsJudgeProtocol(New(FormulaParseError)) {
		t.Fatal("formula errors must not count as protocol errors")
	}
}

func TestNew(t *testing.T) {
	err := New(SubmissionNotFound)

	if err == nil {
		t.Fatal("Expected error, got nil")
	}

	if err.Code != SubmissionNotFound {
		t.Errorf("Code = %v, want %v", err.Code, SubmissionNotFound)
	}

	if err.Error() != SubmissionNotFound.Message() {
		t.Errorf("Error() = %v, want %v", err.Error(), SubmissionNotFound.Message())
	}
}

func TestNewf(t *testing.T) {
	err := Newf(LanguageNotSupported, "language %q is not supported", "rust")

	want := `language "rust" is not supported`
	if err.Error() != want {
		t.Errorf("Error() = %v, want %v", err.Error(), want)
	}
}

func TestWrap(t *testing.T) {
	originalErr := errors.New("connection refused")
	wrappedErr := Wrap(originalErr, CacheError)

	if wrappedErr.Code != CacheError {
		t.Errorf("Code = %v, want %v", wrappedErr.Code, CacheError)
	}

	if wrappedErr.Unwrap() != originalErr {
		t.Error("Unwrap() should return original error")
	}
}

func TestError_WithDetail(t *testing.T) {
	err := New(JudgeNoOutput).
		WithDetail("exit_code", 1).
		WithDetail("stderr", "segfault")

	if err.Details["exit_code"] != 1 {
		t.Error("exit_code detail not set correctly")
	}

	if err.Details["stderr"] != "segfault" {
		t.Error("stderr detail not set correctly")
	}
}

func TestGetCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{
			name: "nil error",
			err:  nil,
			want: Success,
		},
		{
			name: "custom error",
			err:  New(JudgeBusy),
			want: JudgeBusy,
		},
		{
			name: "wrapped custom error",
			err:  fmt.Errorf("grading: %w", New(JudgeTimeout)),
			want: JudgeTimeout,
		},
		{
			name: "standard error",
			err:  errors.New("standard error"),
			want: InternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetCode(tt.err); got != tt.want {
				t.Errorf("GetCode() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIs(t *testing.T) {
	err := Busy("")

	if !Is(err, JudgeBusy) || !IsBusy(err) {
		t.Error("Is() should return true for matching code")
	}

	if Is(err, JudgeTimeout) {
		t.Error("Is() should return false for non-matching code")
	}

	if Is(nil, JudgeBusy) || IsBusy(nil) {
		t.Error("Is() should return false for nil error")
	}
}

func TestCommonErrorConstructors(t *testing.T) {
	t.Run("BadRequest", func(t *testing.T) {
		err := BadRequest("invalid input")
		if err.Code != InvalidParams {
			t.Error("BadRequest should use InvalidParams code")
		}
	})

	t.Run("InternalError", func(t *testing.T) {
		originalErr := errors.New("disk full")
		err := InternalError(originalErr)
		if err.Code != InternalServerError {
			t.Error("InternalError should use InternalServerError code")
		}
	})

	t.Run("ValidationError", func(t *testing.T) {
		err := ValidationError("submission_id", "required")
		if err.Code != ValidationFailed {
			t.Error("ValidationError should use ValidationFailed code")
		}
		if err.Details["field"] != "submission_id" {
			t.Error("Field detail not set")
		}
	})
}
