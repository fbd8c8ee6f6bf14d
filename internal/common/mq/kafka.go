package mq

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"codearena/pkg/utils/logger"
)

const (
	headerID        = "x-message-id"
	headerTimestamp = "x-message-ts"

	fetchBackoff = 100 * time.Millisecond
)

// KafkaConfig defines configuration for Kafka implementation.
type KafkaConfig struct {
	Brokers  []string
	ClientID string

	BatchSize    int
	BatchTimeout time.Duration

	MinBytes int
	MaxBytes int
	MaxWait  time.Duration

	DialTimeout time.Duration

	// RequiredAcks defaults to kafka.RequireOne when zero.
	RequiredAcks kafka.RequiredAcks
	Compression  kafka.Compression
}

func (c KafkaConfig) withDefaults() KafkaConfig {
	if c.BatchSize == 0 {
		c.BatchSize = 100
	}
	if c.BatchTimeout == 0 {
		c.BatchTimeout = 20 * time.Millisecond
	}
	if c.MinBytes == 0 {
		c.MinBytes = 1
	}
	if c.MaxBytes == 0 {
		c.MaxBytes = 1 << 20
	}
	if c.MaxWait == 0 {
		c.MaxWait = time.Second
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.RequiredAcks == 0 {
		c.RequiredAcks = kafka.RequireOne
	}
	return c
}

// KafkaQueue publishes keyed records and runs one sequential consumer per subscription.
type KafkaQueue struct {
	cfg    KafkaConfig
	writer *kafka.Writer

	mu      sync.Mutex
	subs    []*subscription
	started bool
	closed  bool
}

type subscription struct {
	topic   string
	group   string
	dead    string
	handler HandlerFunc
	parent  context.Context

	cancel context.CancelFunc
	done   chan struct{}
}

func NewKafkaQueue(cfg KafkaConfig) (*KafkaQueue, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("brokers are required")
	}
	cfg = cfg.withDefaults()
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: cfg.RequiredAcks,
		Compression:  cfg.Compression,
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		Transport: &kafka.Transport{
			ClientID:    cfg.ClientID,
			DialTimeout: cfg.DialTimeout,
		},
	}
	return &KafkaQueue{cfg: cfg, writer: writer}, nil
}

// Publish writes message to topic, keyed by message ID so one match stays on one partition.
func (k *KafkaQueue) Publish(ctx context.Context, topic string, message *Message) error {
	if message == nil {
		return errors.New("message is nil")
	}
	if topic == "" {
		return errors.New("topic is required")
	}
	return k.writer.WriteMessages(ctx, encodeMessage(topic, message))
}

func (k *KafkaQueue) Subscribe(ctx context.Context, topic string, handler HandlerFunc, opts *SubscribeOptions) error {
	if topic == "" || handler == nil {
		return errors.New("topic and handler are required")
	}
	sub := &subscription{topic: topic, group: "codearena-" + topic, handler: handler, parent: ctx}
	if opts != nil {
		if opts.ConsumerGroup != "" {
			sub.group = opts.ConsumerGroup
		}
		sub.dead = opts.DeadLetterTopic
	}
	if sub.parent == nil {
		sub.parent = context.Background()
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return errors.New("message queue is closed")
	}
	k.subs = append(k.subs, sub)
	if k.started {
		k.consume(sub)
	}
	return nil
}

func (k *KafkaQueue) Start() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return errors.New("message queue is closed")
	}
	if k.started {
		return nil
	}
	for _, sub := range k.subs {
		k.consume(sub)
	}
	k.started = true
	return nil
}

func (k *KafkaQueue) Stop() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, sub := range k.subs {
		if sub.cancel != nil {
			sub.cancel()
		}
	}
	for _, sub := range k.subs {
		if sub.done != nil {
			<-sub.done
			sub.cancel, sub.done = nil, nil
		}
	}
	k.started = false
	return nil
}

func (k *KafkaQueue) Close() error {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return nil
	}
	k.closed = true
	k.mu.Unlock()

	_ = k.Stop()
	return k.writer.Close()
}

func (k *KafkaQueue) consume(sub *subscription) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     k.cfg.Brokers,
		Topic:       sub.topic,
		GroupID:     sub.group,
		MinBytes:    k.cfg.MinBytes,
		MaxBytes:    k.cfg.MaxBytes,
		MaxWait:     k.cfg.MaxWait,
		StartOffset: kafka.FirstOffset,
		Dialer:      &kafka.Dialer{ClientID: k.cfg.ClientID, Timeout: k.cfg.DialTimeout},
	})
	ctx, cancel := context.WithCancel(sub.parent)
	sub.cancel = cancel
	sub.done = make(chan struct{})

	go func() {
		defer close(sub.done)
		defer reader.Close()
		for {
			record, err := reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Warn(ctx, "kafka fetch failed", zap.String("topic", sub.topic), zap.Error(err))
				time.Sleep(fetchBackoff)
				continue
			}
			k.dispatch(ctx, sub, record)
			if err := reader.CommitMessages(ctx, record); err != nil && ctx.Err() == nil {
				logger.Warn(ctx, "kafka commit failed", zap.String("topic", sub.topic), zap.Int64("offset", record.Offset), zap.Error(err))
			}
		}
	}()
}

func (k *KafkaQueue) dispatch(ctx context.Context, sub *subscription, record kafka.Message) {
	msg := decodeMessage(record)
	err := sub.handler(ctx, msg)
	if err == nil {
		return
	}
	logger.Warn(ctx, "message handler failed",
		zap.String("topic", sub.topic),
		zap.String("message_id", msg.ID),
		zap.String("dead_letter", sub.dead),
		zap.Error(err),
	)
	if sub.dead == "" {
		return
	}
	if err := k.Publish(ctx, sub.dead, msg); err != nil {
		logger.Error(ctx, "dead letter publish failed", zap.String("topic", sub.dead), zap.String("message_id", msg.ID), zap.Error(err))
	}
}

func encodeMessage(topic string, message *Message) kafka.Message {
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now()
	}
	headers := make([]kafka.Header, 0, len(message.Headers)+2)
	for key, v := range message.Headers {
		headers = append(headers, kafka.Header{Key: key, Value: []byte(v)})
	}
	if message.ID != "" {
		headers = append(headers, kafka.Header{Key: headerID, Value: []byte(message.ID)})
	}
	headers = append(headers, kafka.Header{Key: headerTimestamp, Value: []byte(message.Timestamp.Format(time.RFC3339Nano))})
	return kafka.Message{
		Topic:   topic,
		Key:     []byte(message.ID),
		Value:   message.Body,
		Headers: headers,
		Time:    message.Timestamp,
	}
}

func decodeMessage(record kafka.Message) *Message {
	m := &Message{
		ID:        string(record.Key),
		Body:      record.Value,
		Headers:   make(map[string]string, len(record.Headers)),
		Timestamp: record.Time,
	}
	for _, h := range record.Headers {
		switch h.Key {
		case headerID:
			m.ID = string(h.Value)
		case headerTimestamp:
			if ts, err := time.Parse(time.RFC3339Nano, string(h.Value)); err == nil {
				m.Timestamp = ts
			}
		default:
			m.Headers[h.Key] = string(h.Value)
		}
	}
	return m
}

var _ MessageQueue = (*KafkaQueue)(nil)
