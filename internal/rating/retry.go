package rating

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"go.uber.org/zap"

	"codearena/internal/common/mq"
	appErr "codearena/pkg/errors"
	"codearena/pkg/utils/logger"
)

const retryHeader = "x-rating-retry"

// RetryTask is a rating update that failed after its match completed.
type RetryTask struct {
	MatchID string   `json:"match_id"`
	Winners []string `json:"winners"`
	Losers  []string `json:"losers"`
	IsDraw  bool     `json:"is_draw"`
	Team    bool     `json:"team"`
}

// RetryConfig controls the rating retry topic.
type RetryConfig struct {
	Topic      string        `yaml:"topic"`
	DeadLetter string        `yaml:"deadLetter"`
	MaxRetry   int           `yaml:"maxRetry"`
	BaseDelay  time.Duration `yaml:"baseDelay"`
	MaxDelay   time.Duration `yaml:"maxDelay"`
}

// RetryQueue republishes failed rating updates until they apply or run out of attempts.
type RetryQueue struct {
	cfg     RetryConfig
	queue   mq.MessageQueue
	service *Service
}

func NewRetryQueue(cfg RetryConfig, queue mq.MessageQueue, service *Service) *RetryQueue {
	if cfg.MaxRetry <= 0 {
		cfg.MaxRetry = 5
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	return &RetryQueue{cfg: cfg, queue: queue, service: service}
}

// Enqueue schedules task for a later attempt.
func (q *RetryQueue) Enqueue(ctx context.Context, task RetryTask) error {
	if q == nil || q.queue == nil || q.cfg.Topic == "" {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("rating retry queue is not configured")
	}
	body, err := json.Marshal(task)
	if err != nil {
		return appErr.Wrapf(err, appErr.InternalServerError, "encode rating retry")
	}
	msg := mq.NewMessage(body)
	msg.ID = task.MatchID
	msg.SetHeader(retryHeader, "0")
	return q.queue.Publish(ctx, q.cfg.Topic, msg)
}

// Subscribe starts consuming the retry topic.
func (q *RetryQueue) Subscribe(ctx context.Context, group string) error {
	return q.queue.Subscribe(ctx, q.cfg.Topic, q.HandleMessage, &mq.SubscribeOptions{
		ConsumerGroup:   group,
		DeadLetterTopic: q.cfg.DeadLetter,
	})
}

// HandleMessage applies one retry task. Failures are republished with backoff
// rather than returned, so the broker offset always advances.
func (q *RetryQueue) HandleMessage(ctx context.Context, msg *mq.Message) error {
	if msg == nil {
		return appErr.New(appErr.InvalidParams).WithMessage("message is nil")
	}
	var task RetryTask
	if err := json.Unmarshal(msg.Body, &task); err != nil {
		logger.Warn(ctx, "drop undecodable rating retry", zap.String("message_id", msg.ID), zap.Error(err))
		return nil
	}

	var err error
	if task.Team {
		_, err = q.service.ApplyTeamResult(ctx, task.MatchID, task.Winners, task.Losers, task.IsDraw)
	} else if len(task.Winners) == 1 && len(task.Losers) == 1 {
		_, err = q.service.ApplyResult(ctx, task.MatchID, task.Winners[0], task.Losers[0], task.IsDraw)
	} else {
		logger.Warn(ctx, "drop malformed rating retry", zap.String("match_id", task.MatchID))
		return nil
	}
	switch {
	case err == nil:
		logger.Info(ctx, "rating retry applied", zap.String("match_id", task.MatchID))
		return nil
	case appErr.Is(err, appErr.RatingApplied):
		return nil
	case appErr.Kind(err) != appErr.CategoryInfrastructure:
		logger.Warn(ctx, "rating retry rejected", zap.String("match_id", task.MatchID), zap.Error(err))
		return nil
	}
	return q.requeue(ctx, msg)
}

func (q *RetryQueue) requeue(ctx context.Context, msg *mq.Message) error {
	retryCount := parseRetryCount(msg.Headers)
	if retryCount >= q.cfg.MaxRetry {
		if q.cfg.DeadLetter == "" {
			logger.Error(ctx, "rating retry exhausted without dead letter", zap.Int("retry_count", retryCount), zap.String("message_id", msg.ID))
			return nil
		}
		logger.Warn(ctx, "rating retry exhausted, sending to dead letter", zap.Int("retry_count", retryCount), zap.String("message_id", msg.ID))
		return q.queue.Publish(ctx, q.cfg.DeadLetter, cloneForRetry(msg, retryCount))
	}
	delay := computeBackoff(retryCount, q.cfg.BaseDelay, q.cfg.MaxDelay)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}
	logger.Info(ctx, "rating retry requeued", zap.Int("retry_count", retryCount+1), zap.Duration("delay", delay))
	return q.queue.Publish(ctx, q.cfg.Topic, cloneForRetry(msg, retryCount+1))
}

func parseRetryCount(headers map[string]string) int {
	raw, ok := headers[retryHeader]
	if !ok {
		return 0
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val < 0 {
		return 0
	}
	return val
}

func cloneForRetry(msg *mq.Message, retryCount int) *mq.Message {
	out := &mq.Message{
		ID:        msg.ID,
		Body:      msg.Body,
		Headers:   make(map[string]string, len(msg.Headers)+1),
		Timestamp: time.Now(),
	}
	for k, v := range msg.Headers {
		out.Headers[k] = v
	}
	out.Headers[retryHeader] = strconv.Itoa(retryCount)
	return out
}

func computeBackoff(retryCount int, base, max time.Duration) time.Duration {
	delay := base
	for i := 0; i < retryCount; i++ {
		if delay >= max/2 {
			return max
		}
		delay *= 2
	}
	if delay > max {
		return max
	}
	return delay
}
