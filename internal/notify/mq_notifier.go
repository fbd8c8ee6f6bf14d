package notify

import (
	"context"
	"encoding/json"

	"codearena/internal/common/mq"
	appErr "codearena/pkg/errors"
)

// MQNotifier publishes events to a broker topic keyed by room, so one room's
// events stay ordered within a partition.
type MQNotifier struct {
	producer mq.Producer
	topic    string
}

func NewMQNotifier(producer mq.Producer, topic string) *MQNotifier {
	return &MQNotifier{producer: producer, topic: topic}
}

func (n *MQNotifier) Notify(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return appErr.Wrapf(err, appErr.InternalServerError, "encode event")
	}
	msg := mq.NewMessage(body)
	msg.ID = event.RoomID
	msg.SetHeader("event_type", string(event.Type))
	if err := n.producer.Publish(ctx, n.topic, msg); err != nil {
		return appErr.Wrapf(err, appErr.MQError, "publish %s", event.Type)
	}
	return nil
}

var _ Notifier = (*MQNotifier)(nil)
