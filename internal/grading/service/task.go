package service

import (
	"encoding/json"
	"strings"

	"codeassess/internal/grading"
	"codeassess/internal/judge/model"
	appErr "codeassess/pkg/errors"
)

// GradingTask is the message body on the task topic.
type GradingTask struct {
	SubmissionID    string                 `json:"submission_id"`
	Language        model.Language         `json:"language"`
	Source          string                 `json:"source"`
	Tests           []model.TestCase       `json:"tests"`
	Limits          model.Limits           `json:"limits"`
	Checker         model.Checker          `json:"checker"`
	Config          *grading.GradingConfig `json:"config,omitempty"`
	TaskDescription string                 `json:"task_description,omitempty"`
}

// DecodeTask parses a task body. The returned task may carry a submission id
// even when the error is non-nil, so the failure can still be recorded.
func DecodeTask(body []byte) (*GradingTask, error) {
	var task GradingTask
	if err := json.Unmarshal(body, &task); err != nil {
		return nil, appErr.Wrapf(err, appErr.InvalidParams, "decode grading task failed")
	}
	task.SubmissionID = strings.TrimSpace(task.SubmissionID)
	return &task, task.Validate()
}

// Validate checks the fields grading cannot proceed without.
// Test-level checks are left to the judge request.
func (t *GradingTask) Validate() error {
	switch {
	case t.SubmissionID == "":
		return appErr.ValidationError("submission_id", "required")
	case !t.Language.Valid():
		return appErr.New(appErr.LanguageNotSupported).WithMessagef("unsupported language %q", t.Language)
	case strings.TrimSpace(t.Source) == "":
		return appErr.ValidationError("source", "required")
	}
	return nil
}

// Submission converts the task for the pipeline.
func (t *GradingTask) Submission() grading.Submission {
	return grading.Submission{
		ID:       t.SubmissionID,
		Language: t.Language,
		Source:   t.Source,
		Tests:    t.Tests,
		Limits:   t.Limits,
		Checker:  t.Checker,
	}
}

// GradingConfig returns the task's policy or fallback when it carries none.
func (t *GradingTask) GradingConfig(fallback grading.GradingConfig) grading.GradingConfig {
	if t.Config == nil {
		return fallback
	}
	return *t.Config
}
