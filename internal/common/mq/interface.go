package mq

import (
	"context"
	"time"
)

// MessageQueue is the broker surface used for match events and rating retries.
type MessageQueue interface {
	Producer

	// Subscribe registers handler for topic. Subscriptions added after Start begin immediately.
	Subscribe(ctx context.Context, topic string, handler HandlerFunc, opts *SubscribeOptions) error
	Start() error
	// Stop waits for in-flight handlers to return.
	Stop() error
	Close() error
}

// Producer publishes messages.
type Producer interface {
	Publish(ctx context.Context, topic string, message *Message) error
}

// Message is one broker record. ID doubles as the partition key.
type Message struct {
	ID        string            `json:"id"`
	Body      []byte            `json:"body"`
	Headers   map[string]string `json:"headers"`
	Timestamp time.Time         `json:"timestamp"`
}

// HandlerFunc processes one message. A returned error dead-letters the message;
// handlers that want another attempt republish it themselves.
type HandlerFunc func(ctx context.Context, message *Message) error

type SubscribeOptions struct {
	// ConsumerGroup defaults to codearena-<topic>.
	ConsumerGroup   string
	DeadLetterTopic string
}

func NewMessage(body []byte) *Message {
	return &Message{
		Body:      body,
		Headers:   make(map[string]string),
		Timestamp: time.Now(),
	}
}

func (m *Message) SetHeader(key, value string) {
	if m.Headers == nil {
		m.Headers = make(map[string]string)
	}
	m.Headers[key] = value
}

// GetHeader retrieves a header value
func (m *Message) GetHeader(key string) (string, bool) {
	val, ok := m.Headers[key]
	return val, ok
}
