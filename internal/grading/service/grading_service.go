// Package service consumes grading tasks, runs the hybrid grading pipeline and publishes results.
package service

import (
	"context"
	"time"

	"codeassess/internal/common/mq"
	"codeassess/internal/grading"
	"codeassess/internal/grading/repository"
	appErr "codeassess/pkg/errors"
	"codeassess/pkg/utils/contextkey"
	"codeassess/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Grader runs the grading pipeline.
type Grader interface {
	Grade(ctx context.Context, sub grading.Submission, cfg grading.GradingConfig, taskDescription string) (*grading.HybridGradingResult, error)
}

// RecordStore persists grading records.
type RecordStore interface {
	Get(ctx context.Context, submissionID string) (*repository.GradingRecord, error)
	Save(ctx context.Context, record *repository.GradingRecord) error
}

// Config wires a Service.
type Config struct {
	Grader        Grader
	Records       RecordStore
	Events        repository.ResultEventPublisher
	Queue         mq.Producer
	BusyRetry     BusyRetryPolicy
	DefaultConfig grading.GradingConfig
	// GradeTimeout bounds one pipeline run. Zero means no bound beyond the judge's own.
	GradeTimeout time.Duration
}

// Service handles grading task messages.
type Service struct {
	pipeline      Grader
	records       RecordStore
	events        repository.ResultEventPublisher
	queue         mq.Producer
	busyRetry     BusyRetryPolicy
	defaultConfig grading.GradingConfig
	gradeTimeout  time.Duration
}

// New validates cfg and creates a Service.
func New(cfg Config) (*Service, error) {
	if cfg.Grader == nil {
		return nil, appErr.New(appErr.ServiceUnavailable).WithMessage("grader is not configured")
	}
	if cfg.Records == nil {
		return nil, appErr.New(appErr.ServiceUnavailable).WithMessage("record store is not configured")
	}
	return &Service{
		pipeline:      cfg.Grader,
		records:       cfg.Records,
		events:        cfg.Events,
		queue:         cfg.Queue,
		busyRetry:     cfg.BusyRetry,
		defaultConfig: cfg.DefaultConfig,
		gradeTimeout:  cfg.GradeTimeout,
	}, nil
}

// HandleMessage grades one task. It returns nil once the task reached a final
// record or was requeued, and an error when the queue should redeliver it.
func (s *Service) HandleMessage(ctx context.Context, msg *mq.Message) error {
	if msg == nil {
		return appErr.New(appErr.InvalidParams).WithMessage("message is nil")
	}
	ctx = contextkey.WithTraceID(ctx, uuid.NewString())

	task, err := DecodeTask(msg.Body)
	if task == nil || task.SubmissionID == "" {
		// Nothing to attach a record to; redelivery cannot help.
		logger.Error(ctx, "drop undecodable grading task", zap.String("message_id", msg.ID), zap.Error(err))
		return nil
	}
	ctx = contextkey.WithSubmissionID(ctx, task.SubmissionID)

	record, err := s.loadRecord(ctx, task)
	if err != nil {
		return err
	}
	if record.Status.Final() {
		logger.Info(ctx, "grading task already finished, republishing result", zap.String("status", string(record.Status)))
		return s.publish(ctx, record)
	}
	if vErr := task.Validate(); vErr != nil {
		return s.fail(ctx, record, vErr)
	}

	record.Status = repository.StatusRunning
	record.Attempts++
	if err := s.records.Save(ctx, record); err != nil {
		return err
	}

	gradeCtx := ctx
	if s.gradeTimeout > 0 {
		var cancel context.CancelFunc
		gradeCtx, cancel = context.WithTimeout(ctx, s.gradeTimeout)
		defer cancel()
	}
	result, err := s.pipeline.Grade(gradeCtx, task.Submission(), task.GradingConfig(s.defaultConfig), task.TaskDescription)
	switch {
	case err == nil:
	case appErr.IsBusy(err):
		return s.requeueBusy(ctx, record, msg)
	case isTerminal(err):
		return s.fail(ctx, record, err)
	default:
		logger.Warn(ctx, "grading attempt failed, will be redelivered", zap.Int("attempt", record.Attempts), zap.Error(err))
		return err
	}

	record.Status = repository.StatusFinished
	record.Result = result
	if err := s.records.Save(ctx, record); err != nil {
		return err
	}
	return s.publish(ctx, record)
}

func (s *Service) loadRecord(ctx context.Context, task *GradingTask) (*repository.GradingRecord, error) {
	record, err := s.records.Get(ctx, task.SubmissionID)
	if err == nil {
		return record, nil
	}
	if !appErr.Is(err, appErr.SubmissionNotFound) {
		return nil, err
	}
	record = &repository.GradingRecord{
		SubmissionID: task.SubmissionID,
		Status:       repository.StatusPending,
		Language:     string(task.Language),
	}
	if err := s.records.Save(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

func (s *Service) requeueBusy(ctx context.Context, record *repository.GradingRecord, msg *mq.Message) error {
	record.Status = repository.StatusPending
	if err := s.records.Save(ctx, record); err != nil {
		return err
	}
	err := RequeueBusy(ctx, s.queue, s.busyRetry, msg)
	if appErr.IsBusy(err) {
		return s.fail(ctx, record, err)
	}
	return err
}

func (s *Service) fail(ctx context.Context, record *repository.GradingRecord, cause error) error {
	logger.Warn(ctx, "grading failed", zap.Error(cause))
	record.Fail(cause)
	if err := s.records.Save(ctx, record); err != nil {
		return err
	}
	return s.publish(ctx, record)
}

func (s *Service) publish(ctx context.Context, record *repository.GradingRecord) error {
	if s.events == nil {
		return nil
	}
	if err := s.events.PublishFinal(ctx, record); err != nil {
		logger.Error(ctx, "publish grading result failed", zap.Error(err))
		return err
	}
	return nil
}

// isTerminal reports errors that redelivery cannot fix.
func isTerminal(err error) bool {
	if appErr.IsJudgeProtocol(err) {
		return true
	}
	switch appErr.GetCode(err) {
	case appErr.InvalidParams, appErr.ValidationFailed, appErr.LanguageNotSupported:
		return true
	}
	return false
}
