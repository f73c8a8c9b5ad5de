// Package service is the admission-guarded judge entry point.
package service

import (
	"context"
	"time"

	"codeassess/internal/judge/model"
	"codeassess/internal/judge/semaphore"
	appErr "codeassess/pkg/errors"
	"codeassess/pkg/utils/contextkey"
	"codeassess/pkg/utils/logger"

	"go.uber.org/zap"
)

// Judger executes one request against the worker.
type Judger interface {
	Judge(ctx context.Context, req *model.JudgeRequest) (*model.JudgeResponse, error)
}

// JudgeService combines admission control with the judge client.
type JudgeService struct {
	sem    semaphore.Acquirer
	judger Judger
}

// NewJudgeService creates a guarded judge.
func NewJudgeService(sem semaphore.Acquirer, judger Judger) *JudgeService {
	return &JudgeService{sem: sem, judger: judger}
}

// Judge validates req, takes the machine-wide slot without waiting, runs the worker and releases the slot.
// A held slot yields a JudgeBusy error; the caller decides when to retry.
func (s *JudgeService) Judge(ctx context.Context, req *model.JudgeRequest) (*model.JudgeResponse, error) {
	if s == nil || s.sem == nil || s.judger == nil {
		return nil, appErr.New(appErr.ServiceUnavailable).WithMessage("judge service is not configured")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	ctx = contextkey.WithSubmissionID(ctx, req.SubmissionID)

	handle, err := s.sem.TryAcquire(ctx)
	if err != nil {
		if appErr.IsBusy(err) {
			logger.Info(ctx, "judge busy, request rejected")
		} else {
			logger.Error(ctx, "acquire judge slot failed", zap.Error(err))
		}
		return nil, err
	}
	defer handle.Release()

	start := time.Now()
	resp, err := s.judger.Judge(ctx, req)
	if err != nil {
		logger.Warn(ctx, "judge failed",
			zap.Error(err),
			zap.Duration("elapsed", time.Since(start)),
		)
		return nil, err
	}
	logger.Info(ctx, "judge finished",
		zap.String("verdict", string(resp.Verdict)),
		zap.Int("passed", resp.PassedCount(req.Tests)),
		zap.Int("total", len(req.Tests)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return resp, nil
}

// JudgeWithSemaphore is the one-call form of JudgeService.Judge.
func JudgeWithSemaphore(ctx context.Context, sem semaphore.Acquirer, judger Judger, req *model.JudgeRequest) (*model.JudgeResponse, error) {
	return NewJudgeService(sem, judger).Judge(ctx, req)
}
