package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 13000-13099: Submission errors
// 13100-13199: Judge & admission errors
// 13300-13399: Formula & grading errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	// Success
	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	TooManyRequests     ErrorCode = 10006
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008

	// Cache errors (10200-10299)
	CacheError ErrorCode = 10200
	CacheMiss  ErrorCode = 10201

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	InvalidFormat      ErrorCode = 10301
	InvalidValue       ErrorCode = 10302
	RequiredFieldEmpty ErrorCode = 10303

	// ========== Submission & Judge Module Errors (13000-13999) ==========

	// Submission (13000-13099)
	SubmissionNotFound   ErrorCode = 13000
	CodeTooLarge         ErrorCode = 13002
	LanguageNotSupported ErrorCode = 13003

	// Judge (13100-13199)
	JudgeBusy           ErrorCode = 13100
	JudgeSystemError    ErrorCode = 13101
	JudgeSpawnFailed    ErrorCode = 13102
	JudgeTimeout        ErrorCode = 13110
	JudgeStdoutTooLarge ErrorCode = 13111
	JudgeStderrTooLarge ErrorCode = 13112
	JudgeNoOutput       ErrorCode = 13113
	JudgeBadJSON        ErrorCode = 13114
	JudgeWorkerError    ErrorCode = 13115

	// Formula & grading (13300-13399)
	FormulaParseError        ErrorCode = 13300
	FormulaDivideByZero      ErrorCode = 13301
	FormulaUnknownIdentifier ErrorCode = 13302
	FormulaEmpty             ErrorCode = 13303
	FormulaNotFinite         ErrorCode = 13304
	GradingStageFailed       ErrorCode = 13350
	AnalyzerUnavailable      ErrorCode = 13351
	CritiqueProviderUnknown  ErrorCode = 13352
)

// errorMessages maps error codes to default messages
var errorMessages = map[ErrorCode]string{
	// System
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	TooManyRequests:     "Too many requests, please try again later",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",

	// Cache
	CacheError: "Cache operation failed",
	CacheMiss:  "Cache miss",

	// Validation
	ValidationFailed:   "Validation failed",
	InvalidFormat:      "Invalid format",
	InvalidValue:       "Invalid value",
	RequiredFieldEmpty: "Required field is empty",

	// Submission
	SubmissionNotFound:   "Submission not found",
	CodeTooLarge:         "Code is too large",
	LanguageNotSupported: "Programming language not supported",

	// Judge
	JudgeBusy:           "Judge is busy, please try again later",
	JudgeSystemError:    "Judge system error",
	JudgeSpawnFailed:    "Failed to start judge worker",
	JudgeTimeout:        "Judge worker timed out",
	JudgeStdoutTooLarge: "Judge worker stdout exceeded limit",
	JudgeStderrTooLarge: "Judge worker stderr exceeded limit",
	JudgeNoOutput:       "Judge worker produced no output",
	JudgeBadJSON:        "Judge worker produced invalid JSON",
	JudgeWorkerError:    "Judge worker reported an error",

	// Formula & grading
	FormulaParseError:        "Formula could not be parsed",
	FormulaDivideByZero:      "Division by zero in formula",
	FormulaUnknownIdentifier: "Unknown identifier in formula",
	FormulaEmpty:             "Formula is empty",
	FormulaNotFinite:         "Formula result is not a finite number",
	GradingStageFailed:       "Grading stage failed",
	AnalyzerUnavailable:      "Structural analyzer is unavailable",
	CritiqueProviderUnknown:  "Unknown critique provider",
}

// protocolNames are the wire-level identifiers of judge failures.
var protocolNames = map[ErrorCode]string{
	JudgeBusy:           "JUDGE_BUSY",
	JudgeSpawnFailed:    "JUDGE_SPAWN_FAILED",
	JudgeTimeout:        "JUDGE_TIMEOUT",
	JudgeStdoutTooLarge: "JUDGE_STDOUT_TOO_LARGE",
	JudgeStderrTooLarge: "JUDGE_STDERR_TOO_LARGE",
	JudgeNoOutput:       "JUDGE_NO_OUTPUT",
	JudgeBadJSON:        "JUDGE_BAD_JSON",
	JudgeWorkerError:    "JUDGE_ERROR",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// Name returns the protocol identifier for judge errors, or "" for other codes.
func (c ErrorCode) Name() string {
	return protocolNames[c]
}

// IsJudgeProtocol reports whether the code describes a judge worker failure.
func (c ErrorCode) IsJudgeProtocol() bool {
	return c >= JudgeSpawnFailed && c <= JudgeWorkerError
}

// HTTPStatus returns the recommended HTTP status code for the error code
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == Success:
		return 200
	case c == NotFound, c == SubmissionNotFound:
		return 404
	case c == TooManyRequests:
		return 429
	case c == ServiceUnavailable, c == JudgeBusy:
		return 503
	case c == Timeout:
		return 504
	case c >= 10300 && c < 10400: // Validation errors
		return 400
	case c == InvalidParams, c == LanguageNotSupported, c == CodeTooLarge:
		return 400
	default:
		return 500
	}
}
