package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"codeassess/internal/common/mq"
	appErr "codeassess/pkg/errors"
)

// EventFinal marks a record that reached a final status.
const EventFinal = "final"

// ResultEvent is published once per graded submission.
type ResultEvent struct {
	Type      string        `json:"type"`
	Record    GradingRecord `json:"record"`
	CreatedAt int64         `json:"createdAt"`
}

// ResultEventPublisher publishes final grading events.
type ResultEventPublisher interface {
	PublishFinal(ctx context.Context, record *GradingRecord) error
}

// MQResultEventPublisher publishes result events to a message queue.
type MQResultEventPublisher struct {
	queue mq.Producer
	topic string
}

// NewMQResultEventPublisher creates a publisher for topic.
func NewMQResultEventPublisher(queue mq.Producer, topic string) *MQResultEventPublisher {
	return &MQResultEventPublisher{queue: queue, topic: topic}
}

// PublishFinal publishes the record keyed by its submission id.
func (p *MQResultEventPublisher) PublishFinal(ctx context.Context, record *GradingRecord) error {
	if p == nil || p.queue == nil {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("result publisher is not configured")
	}
	if p.topic == "" {
		return appErr.New(appErr.InvalidParams).WithMessage("result topic is required")
	}
	if record == nil || record.SubmissionID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	if !record.Status.Final() {
		return appErr.Newf(appErr.InvalidParams, "record status %q is not final", record.Status)
	}
	payload, err := json.Marshal(ResultEvent{
		Type:      EventFinal,
		Record:    *record,
		CreatedAt: time.Now().Unix(),
	})
	if err != nil {
		return fmt.Errorf("marshal result event failed: %w", err)
	}
	message := mq.NewMessage(payload)
	message.ID = record.SubmissionID
	if err := p.queue.Publish(ctx, p.topic, message); err != nil {
		return appErr.Wrapf(err, appErr.ServiceUnavailable, "publish result event failed")
	}
	return nil
}
