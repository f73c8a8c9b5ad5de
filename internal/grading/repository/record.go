// Package repository persists grading records and publishes final grading events.
package repository

import (
	"codeassess/internal/grading"
	appErr "codeassess/pkg/errors"
)

// Status is the lifecycle state of a grading record.
type Status string

const (
	StatusPending  Status = "pending"
	StatusRunning  Status = "running"
	StatusFinished Status = "finished"
	StatusFailed   Status = "failed"
)

// Final reports whether no further transitions are expected.
func (s Status) Final() bool {
	return s == StatusFinished || s == StatusFailed
}

// GradingRecord is the stored state of one submission's grading.
type GradingRecord struct {
	SubmissionID string                       `json:"submissionId"`
	Status       Status                       `json:"status"`
	Language     string                       `json:"language,omitempty"`
	Attempts     int                          `json:"attempts,omitempty"`
	Result       *grading.HybridGradingResult `json:"result,omitempty"`
	ErrorCode    int                          `json:"errorCode,omitempty"`
	ErrorName    string                       `json:"errorName,omitempty"`
	ErrorMessage string                       `json:"errorMessage,omitempty"`
	CreatedAt    int64                        `json:"createdAt"`
	UpdatedAt    int64                        `json:"updatedAt"`
}

// Fail marks the record failed with the error's code and message.
func (r *GradingRecord) Fail(err error) {
	r.Status = StatusFailed
	r.Result = nil
	if err == nil {
		return
	}
	code := appErr.GetCode(err)
	r.ErrorCode = int(code)
	r.ErrorName = code.Name()
	if e := appErr.GetError(err); e != nil && e.Message != "" {
		r.ErrorMessage = e.Message
		return
	}
	r.ErrorMessage = err.Error()
}
