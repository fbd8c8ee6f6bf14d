package mq

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

func TestKafkaMessageHeaders(t *testing.T) {
	msg := NewMessage([]byte(`{"room_id":"r1"}`))
	msg.ID = "r1"
	msg.SetHeader("event", "match-completed")

	record := encodeMessage("arena.events", msg)
	if string(record.Key) != "r1" {
		t.Fatalf("message must be keyed by id, got %q", record.Key)
	}
	if record.Topic != "arena.events" {
		t.Fatalf("unexpected topic %q", record.Topic)
	}

	back := decodeMessage(record)
	if back.ID != "r1" {
		t.Fatalf("unexpected decoded message: %+v", back)
	}
	if v, _ := back.GetHeader("event"); v != "match-completed" {
		t.Fatalf("custom header lost: %q", v)
	}
	if _, ok := back.GetHeader(headerID); ok {
		t.Fatal("transport header leaked into message headers")
	}
	if back.Timestamp.Sub(msg.Timestamp).Abs() > time.Millisecond {
		t.Fatalf("timestamp drifted: %v vs %v", back.Timestamp, msg.Timestamp)
	}
}

func TestDecodeFallsBackToRecordKey(t *testing.T) {
	back := decodeMessage(kafka.Message{Key: []byte("m9"), Value: []byte("x")})
	if back.ID != "m9" || string(back.Body) != "x" {
		t.Fatalf("unexpected decoded message: %+v", back)
	}
}

func TestNewKafkaQueueDefaults(t *testing.T) {
	if _, err := NewKafkaQueue(KafkaConfig{}); err == nil {
		t.Fatal("expected brokers error")
	}
	q, err := NewKafkaQueue(KafkaConfig{Brokers: []string{"localhost:9092"}})
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	if q.cfg.RequiredAcks != kafka.RequireOne || q.cfg.BatchSize != 100 || q.cfg.MaxBytes != 1<<20 {
		t.Fatalf("defaults not applied: %+v", q.cfg)
	}
	if err := q.Subscribe(context.Background(), "", nil, nil); err == nil {
		t.Fatal("expected topic error")
	}
	_ = q.Close()
	err = q.Subscribe(context.Background(), "t", func(context.Context, *Message) error { return nil }, nil)
	if err == nil {
		t.Fatal("subscribe after close should fail")
	}
}

func TestDispatchNeverRetriesInPlace(t *testing.T) {
	q, err := NewKafkaQueue(KafkaConfig{Brokers: []string{"localhost:9092"}})
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	defer q.Close()
	called := 0
	sub := &subscription{topic: "t", handler: func(context.Context, *Message) error {
		called++
		return nil
	}}
	q.dispatch(context.Background(), sub, encodeMessage("t", NewMessage([]byte("ok"))))
	if called != 1 {
		t.Fatalf("handler called %d times", called)
	}

	// without a dead-letter topic a failure is logged and dropped, never retried in place
	sub.handler = func(context.Context, *Message) error {
		called++
		return errors.New("boom")
	}
	q.dispatch(context.Background(), sub, encodeMessage("t", NewMessage([]byte("bad"))))
	if called != 2 {
		t.Fatalf("failed message retried in place: %d calls", called)
	}
}
