package service

import (
	"context"
	"strconv"
	"time"

	"codeassess/internal/common/mq"
	appErr "codeassess/pkg/errors"
	"codeassess/pkg/utils/logger"

	"go.uber.org/zap"
)

const busyRetryHeader = "x-busy-retry"

// BusyRetryPolicy controls how tasks refused by a busy judge are requeued.
type BusyRetryPolicy struct {
	Topic       string        `yaml:"topic"`
	DeadLetter  string        `yaml:"deadLetter"`
	MaxAttempts int           `yaml:"maxAttempts"`
	BaseDelay   time.Duration `yaml:"baseDelay"`
	MaxDelay    time.Duration `yaml:"maxDelay"`
}

// ParseBusyRetryCount reads the busy retry counter from message headers.
func ParseBusyRetryCount(headers map[string]string) int {
	raw, ok := headers[busyRetryHeader]
	if !ok {
		return 0
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val < 0 {
		return 0
	}
	return val
}

// CloneMessageForRetry copies msg with a fresh timestamp and the given busy retry count.
func CloneMessageForRetry(msg *mq.Message, retryCount int) *mq.Message {
	out := &mq.Message{
		ID:         msg.ID,
		Body:       msg.Body,
		Headers:    make(map[string]string, len(msg.Headers)+1),
		Timestamp:  time.Now(),
		MaxRetries: msg.MaxRetries,
	}
	for k, v := range msg.Headers {
		out.Headers[k] = v
	}
	out.Headers[busyRetryHeader] = strconv.Itoa(retryCount)
	return out
}

// ComputeBusyBackoff doubles base per retry, capped at max.
func ComputeBusyBackoff(retryCount int, base, max time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	delay := base
	for i := 0; i < retryCount; i++ {
		if max > 0 && delay > max/2 {
			return max
		}
		delay *= 2
	}
	if max > 0 && delay > max {
		return max
	}
	return delay
}

// RequeueBusy republishes msg to the retry topic with a backoff NotBefore, or
// to the dead letter topic once MaxAttempts is reached. It does not wait.
func RequeueBusy(ctx context.Context, queue mq.Producer, policy BusyRetryPolicy, msg *mq.Message) error {
	if queue == nil || policy.Topic == "" {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("retry queue is not configured")
	}
	if msg == nil {
		return appErr.New(appErr.InvalidParams).WithMessage("message is nil")
	}
	retryCount := ParseBusyRetryCount(msg.Headers)
	if policy.MaxAttempts > 0 && retryCount >= policy.MaxAttempts {
		if policy.DeadLetter == "" {
			logger.Warn(ctx, "busy retry exhausted without dead letter", zap.Int("retry_count", retryCount), zap.String("message_id", msg.ID))
			return appErr.Busy("judge stayed busy after all retries")
		}
		logger.Warn(ctx, "busy retry exhausted, sending to dead letter", zap.Int("retry_count", retryCount), zap.String("message_id", msg.ID), zap.String("topic", policy.DeadLetter))
		return queue.Publish(ctx, policy.DeadLetter, CloneMessageForRetry(msg, retryCount))
	}

	delay := ComputeBusyBackoff(retryCount, policy.BaseDelay, policy.MaxDelay)
	retry := CloneMessageForRetry(msg, retryCount+1)
	if delay > 0 {
		retry.NotBefore = retry.Timestamp.Add(delay)
	}
	logger.Info(ctx, "judge busy, requeue", zap.Int("retry_count", retryCount+1), zap.String("message_id", msg.ID), zap.Duration("delay", delay), zap.String("topic", policy.Topic))
	return queue.Publish(ctx, policy.Topic, retry)
}
