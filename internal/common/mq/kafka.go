package mq

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"codeassess/pkg/utils/logger"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	headerID         = "x-message-id"
	headerTimestamp  = "x-message-ts"
	headerRetryCount = "x-message-retry"
	headerMaxRetries = "x-message-max-retries"
	headerNotBefore  = "x-message-not-before"
)

// KafkaConfig configures the Kafka queue.
type KafkaConfig struct {
	Brokers  []string `yaml:"brokers"`
	ClientID string   `yaml:"clientId"`

	BatchSize    int           `yaml:"batchSize"`
	BatchTimeout time.Duration `yaml:"batchTimeout"`
	// Compression is one of "", "gzip", "snappy", "lz4" or "zstd".
	Compression string `yaml:"compression"`

	MinBytes int           `yaml:"minBytes"`
	MaxBytes int           `yaml:"maxBytes"`
	MaxWait  time.Duration `yaml:"maxWait"`

	DialTimeout time.Duration `yaml:"dialTimeout"`
}

// KafkaQueue implements MessageQueue using Kafka.
type KafkaQueue struct {
	config KafkaConfig
	writer *kafka.Writer
	dialer *kafka.Dialer

	mu            sync.Mutex
	subscriptions []*kafkaSubscription
	started       bool
	closed        bool
}

type kafkaSubscription struct {
	topics  []WeightedTopic
	handler HandlerFunc
	opts    SubscribeOptions
	baseCtx context.Context
	limiter FetchLimiter

	readers []*kafka.Reader
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewKafkaQueue creates a Kafka-backed message queue.
func NewKafkaQueue(cfg KafkaConfig) (*KafkaQueue, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("brokers are required")
	}
	compression, err := parseCompression(cfg.Compression)
	if err != nil {
		return nil, err
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 100
	}
	if cfg.BatchTimeout == 0 {
		cfg.BatchTimeout = 50 * time.Millisecond
	}
	if cfg.MinBytes == 0 {
		cfg.MinBytes = 1
	}
	if cfg.MaxBytes == 0 {
		cfg.MaxBytes = 10 << 20
	}
	if cfg.MaxWait == 0 {
		cfg.MaxWait = time.Second
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 10 * time.Second
	}

	dialer := &kafka.Dialer{
		ClientID:  cfg.ClientID,
		Timeout:   cfg.DialTimeout,
		DualStack: true,
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		Compression:  compression,
		Transport: &kafka.Transport{
			Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
				return dialer.DialContext(ctx, network, address)
			},
			ClientID: cfg.ClientID,
		},
	}
	return &KafkaQueue{config: cfg, writer: writer, dialer: dialer}, nil
}

// Publish writes one message. The message ID is the partition key.
func (k *KafkaQueue) Publish(ctx context.Context, topic string, message *Message) error {
	if message == nil {
		return errors.New("message is nil")
	}
	if topic == "" {
		return errors.New("topic is required")
	}
	return k.writer.WriteMessages(ctx, toKafkaMessage(topic, message))
}

// Subscribe registers a handler over weighted topics.
func (k *KafkaQueue) Subscribe(ctx context.Context, topics []WeightedTopic, handler HandlerFunc, opts *SubscribeOptions) error {
	if handler == nil {
		return errors.New("handler is required")
	}
	if len(buildWeightedSchedule(topics)) == 0 {
		return errors.New("no weighted topics provided")
	}
	options := SubscribeOptions{}
	if opts != nil {
		options = *opts
	}
	options.SetDefaults()
	if options.ConsumerGroup == "" {
		options.ConsumerGroup = fmt.Sprintf("codeassess-%s", topics[0].Topic)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return errors.New("message queue is closed")
	}
	sub := &kafkaSubscription{
		topics:  append([]WeightedTopic(nil), topics...),
		handler: handler,
		opts:    options,
		baseCtx: ctx,
		limiter: NewTokenLimiter(options.MaxInFlight),
	}
	k.subscriptions = append(k.subscriptions, sub)
	if k.started {
		return k.startSubscription(sub)
	}
	return nil
}

// Start begins consuming every registered subscription.
func (k *KafkaQueue) Start() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return errors.New("message queue is closed")
	}
	if k.started {
		return nil
	}
	for _, sub := range k.subscriptions {
		if err := k.startSubscription(sub); err != nil {
			return err
		}
	}
	k.started = true
	return nil
}

func (k *KafkaQueue) startSubscription(sub *kafkaSubscription) error {
	schedule := buildWeightedSchedule(sub.topics)
	readers := make([]*kafka.Reader, 0, len(sub.topics))
	for _, t := range sub.topics {
		readers = append(readers, kafka.NewReader(kafka.ReaderConfig{
			Brokers:     k.config.Brokers,
			Topic:       t.Topic,
			GroupID:     sub.opts.ConsumerGroup,
			Dialer:      k.dialer,
			MinBytes:    k.config.MinBytes,
			MaxBytes:    k.config.MaxBytes,
			MaxWait:     k.config.MaxWait,
			StartOffset: kafka.FirstOffset,
		}))
	}
	sub.readers = readers
	sub.ctx, sub.cancel = context.WithCancel(sub.baseCtx)

	sub.wg.Add(1)
	go func() {
		defer sub.wg.Done()
		// One message per reader may wait for its NotBefore time. That reader is
		// not fetched again until the message is dispatched, so commits stay ordered.
		held := make([]*kafka.Message, len(readers))
		idx := 0
		for {
			if err := sub.limiter.Acquire(sub.ctx); err != nil {
				return
			}
			slot := schedule[idx%len(schedule)]
			idx++
			reader := readers[slot]

			if pending := held[slot]; pending != nil {
				if time.Until(notBefore(*pending)) > 0 {
					sub.limiter.Release()
					if idle := idleFor(held, schedule, k.config.MaxWait); idle > 0 && !sleepContext(sub.ctx, idle) {
						return
					}
					continue
				}
				held[slot] = nil
				k.dispatch(sub, reader, *pending)
				continue
			}

			// Bounded so an idle topic does not starve the others.
			fetchCtx, cancel := context.WithTimeout(sub.ctx, k.config.MaxWait)
			msg, err := reader.FetchMessage(fetchCtx)
			cancel()
			if err != nil {
				sub.limiter.Release()
				if sub.ctx.Err() != nil {
					return
				}
				if errors.Is(err, context.DeadlineExceeded) {
					continue
				}
				logger.Warn(sub.ctx, "kafka fetch failed", zap.String("topic", reader.Config().Topic), zap.Error(err))
				time.Sleep(100 * time.Millisecond)
				continue
			}
			if time.Until(notBefore(msg)) > 0 {
				held[slot] = &msg
				sub.limiter.Release()
				continue
			}
			k.dispatch(sub, reader, msg)
		}
	}()
	return nil
}

// dispatch handles msg on its own goroutine; the caller's limiter token is
// released when the handler returns.
func (k *KafkaQueue) dispatch(sub *kafkaSubscription, reader *kafka.Reader, msg kafka.Message) {
	sub.wg.Add(1)
	go func() {
		defer sub.wg.Done()
		defer sub.limiter.Release()
		k.handleMessage(sub, reader, msg)
	}()
}

// handleMessage runs the handler with in-place retries, then commits.
// Messages that exhaust their retries go to the dead letter topic.
func (k *KafkaQueue) handleMessage(sub *kafkaSubscription, reader *kafka.Reader, msg kafka.Message) {
	m := fromKafkaMessage(msg)
	if m.MaxRetries == 0 {
		m.MaxRetries = sub.opts.MaxRetries
	}
	for {
		err := sub.handler(sub.ctx, m)
		if err == nil {
			break
		}
		if sub.ctx.Err() != nil {
			return
		}
		m.RetryCount++
		if m.RetryCount > m.MaxRetries {
			logger.Error(sub.ctx, "message retries exhausted",
				zap.String("topic", msg.Topic),
				zap.String("message_id", m.ID),
				zap.Error(err),
			)
			if sub.opts.DeadLetterTopic != "" {
				if pubErr := k.Publish(sub.ctx, sub.opts.DeadLetterTopic, m); pubErr != nil {
					logger.Error(sub.ctx, "dead letter publish failed", zap.String("message_id", m.ID), zap.Error(pubErr))
				}
			}
			break
		}
		time.Sleep(sub.opts.RetryDelay)
	}
	if err := reader.CommitMessages(sub.ctx, msg); err != nil && sub.ctx.Err() == nil {
		logger.Warn(sub.ctx, "kafka commit failed", zap.String("topic", msg.Topic), zap.Error(err))
	}
}

// Stop stops all consumers and waits for in-flight handlers.
func (k *KafkaQueue) Stop() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	var errs []error
	for _, sub := range k.subscriptions {
		if sub.cancel != nil {
			sub.cancel()
		}
		sub.wg.Wait()
		for _, reader := range sub.readers {
			if err := reader.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		sub.readers = nil
	}
	k.started = false
	return errors.Join(errs...)
}

// Ping dials the first reachable broker.
func (k *KafkaQueue) Ping(ctx context.Context) error {
	var lastErr error
	for _, broker := range k.config.Brokers {
		conn, err := k.dialer.DialContext(ctx, "tcp", broker)
		if err != nil {
			lastErr = err
			continue
		}
		return conn.Close()
	}
	return lastErr
}

// Close stops consumers and closes the writer.
func (k *KafkaQueue) Close() error {
	stopErr := k.Stop()
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return stopErr
	}
	k.closed = true
	return errors.Join(stopErr, k.writer.Close())
}

func parseCompression(name string) (kafka.Compression, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none":
		return 0, nil
	case "gzip":
		return kafka.Gzip, nil
	case "snappy":
		return kafka.Snappy, nil
	case "lz4":
		return kafka.Lz4, nil
	case "zstd":
		return kafka.Zstd, nil
	default:
		return 0, fmt.Errorf("unsupported kafka compression %q", name)
	}
}

func buildWeightedSchedule(topics []WeightedTopic) []int {
	schedule := make([]int, 0, len(topics))
	for idx, t := range topics {
		if t.Topic == "" {
			continue
		}
		for i := 0; i < t.Weight; i++ {
			schedule = append(schedule, idx)
		}
	}
	return schedule
}

func toKafkaMessage(topic string, message *Message) kafka.Message {
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now()
	}
	headers := make([]kafka.Header, 0, len(message.Headers)+5)
	for k, v := range message.Headers {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	if message.ID != "" {
		headers = append(headers, kafka.Header{Key: headerID, Value: []byte(message.ID)})
	}
	headers = append(headers, kafka.Header{Key: headerTimestamp, Value: []byte(message.Timestamp.Format(time.RFC3339Nano))})
	if message.RetryCount != 0 {
		headers = append(headers, kafka.Header{Key: headerRetryCount, Value: []byte(strconv.Itoa(message.RetryCount))})
	}
	if message.MaxRetries != 0 {
		headers = append(headers, kafka.Header{Key: headerMaxRetries, Value: []byte(strconv.Itoa(message.MaxRetries))})
	}
	if !message.NotBefore.IsZero() {
		headers = append(headers, kafka.Header{Key: headerNotBefore, Value: []byte(message.NotBefore.Format(time.RFC3339Nano))})
	}
	return kafka.Message{
		Topic:   topic,
		Key:     []byte(message.ID),
		Value:   message.Body,
		Headers: headers,
		Time:    message.Timestamp,
	}
}

func fromKafkaMessage(msg kafka.Message) *Message {
	m := &Message{
		Body:      msg.Value,
		Headers:   make(map[string]string),
		Timestamp: msg.Time,
	}
	for _, h := range msg.Headers {
		switch h.Key {
		case headerID:
			m.ID = string(h.Value)
		case headerTimestamp:
			if ts, err := time.Parse(time.RFC3339Nano, string(h.Value)); err == nil {
				m.Timestamp = ts
			}
		case headerRetryCount:
			if v, err := strconv.Atoi(string(h.Value)); err == nil && v >= 0 {
				m.RetryCount = v
			}
		case headerMaxRetries:
			if v, err := strconv.Atoi(string(h.Value)); err == nil && v >= 0 {
				m.MaxRetries = v
			}
		case headerNotBefore:
			if ts, err := time.Parse(time.RFC3339Nano, string(h.Value)); err == nil {
				m.NotBefore = ts
			}
		default:
			m.Headers[h.Key] = string(h.Value)
		}
	}
	if m.ID == "" {
		m.ID = string(msg.Key)
	}
	return m
}

func notBefore(msg kafka.Message) time.Time {
	for _, h := range msg.Headers {
		if h.Key != headerNotBefore {
			continue
		}
		if ts, err := time.Parse(time.RFC3339Nano, string(h.Value)); err == nil {
			return ts
		}
	}
	return time.Time{}
}

// idleFor returns how long to sleep when every scheduled reader holds a
// message that is not yet due, capped at limit. It is zero otherwise.
func idleFor(held []*kafka.Message, schedule []int, limit time.Duration) time.Duration {
	idle := limit
	for _, slot := range schedule {
		pending := held[slot]
		if pending == nil {
			return 0
		}
		if wait := time.Until(notBefore(*pending)); wait < idle {
			idle = wait
		}
	}
	if idle < 0 {
		return 0
	}
	return idle
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
