package contextkey

import "context"

// key is a private type to avoid context key collisions across packages.
type key string

const (
	TraceID      key = "trace_id"
	SubmissionID key = "submission_id"
	Stage        key = "stage"
)

// WithTraceID returns a copy of ctx carrying the trace id.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceID, traceID)
}

// WithSubmissionID returns a copy of ctx carrying the submission id.
func WithSubmissionID(ctx context.Context, submissionID string) context.Context {
	return context.WithValue(ctx, SubmissionID, submissionID)
}

// WithStage returns a copy of ctx carrying the grading stage name.
func WithStage(ctx context.Context, stage string) context.Context {
	return context.WithValue(ctx, Stage, stage)
}
