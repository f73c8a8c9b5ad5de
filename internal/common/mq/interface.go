// Package mq abstracts the message queue carrying grading tasks and results.
package mq

import (
	"context"
	"time"
)

// MessageQueue publishes and consumes messages.
type MessageQueue interface {
	Producer
	Consumer

	// Ping verifies the connection is alive.
	Ping(ctx context.Context) error

	// Close stops consumers and flushes the producer.
	Close() error
}

// Producer publishes messages.
type Producer interface {
	Publish(ctx context.Context, topic string, message *Message) error
}

// Consumer delivers messages from one or more weighted topics to a handler.
type Consumer interface {
	// Subscribe registers a handler. Consumption begins on Start.
	Subscribe(ctx context.Context, topics []WeightedTopic, handler HandlerFunc, opts *SubscribeOptions) error

	Start() error
	Stop() error
}

// WeightedTopic is a topic with its share of fetches.
type WeightedTopic struct {
	Topic  string `yaml:"topic"`
	Weight int    `yaml:"weight"`
}

// Message is a queue message.
type Message struct {
	ID         string            `json:"id"`
	Body       []byte            `json:"body"`
	Headers    map[string]string `json:"headers"`
	Timestamp  time.Time         `json:"timestamp"`
	RetryCount int               `json:"retry_count"`
	MaxRetries int               `json:"max_retries"`
	// NotBefore delays delivery; consumers hold the message until then
	// without taking an in-flight slot.
	NotBefore time.Time `json:"not_before,omitempty"`
}

// HandlerFunc processes one message. A nil return commits it.
type HandlerFunc func(ctx context.Context, message *Message) error

// SubscribeOptions tunes a subscription.
type SubscribeOptions struct {
	ConsumerGroup string

	// MaxInFlight bounds messages fetched but not yet handled.
	MaxInFlight int

	// MaxRetries and RetryDelay control in-place redelivery of handler errors.
	MaxRetries int
	RetryDelay time.Duration

	// DeadLetterTopic receives messages whose retries are exhausted.
	DeadLetterTopic string
}

// SetDefaults fills zero fields.
func (o *SubscribeOptions) SetDefaults() {
	if o.MaxInFlight <= 0 {
		o.MaxInFlight = 1
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = 3
	}
	if o.RetryDelay == 0 {
		o.RetryDelay = time.Second
	}
}

// NewMessage creates a message with the given body.
func NewMessage(body []byte) *Message {
	return &Message{
		Body:      body,
		Headers:   make(map[string]string),
		Timestamp: time.Now(),
	}
}

// SetHeader sets a header value.
func (m *Message) SetHeader(key, value string) {
	if m.Headers == nil {
		m.Headers = make(map[string]string)
	}
	m.Headers[key] = value
}

// GetHeader retrieves a header value.
func (m *Message) GetHeader(key string) (string, bool) {
	if m.Headers == nil {
		return "", false
	}
	val, ok := m.Headers[key]
	return val, ok
}
