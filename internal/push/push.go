// Package push hands admin messages to whatever delivers mobile notifications.
package push

import (
	"context"
	"fmt"

	"ms-turnos/internal/kafka"
	"ms-turnos/internal/logger"
	"ms-turnos/internal/models"
)

type Dispatcher interface {
	Dispatch(ctx context.Context, msg models.PushMessage) error
}

// KafkaDispatcher queues messages for the notification worker.
type KafkaDispatcher struct {
	Producer *kafka.Producer
	Topic    string
}

func (d *KafkaDispatcher) Dispatch(ctx context.Context, msg models.PushMessage) error {
	return d.Producer.PublishJSON(ctx, d.Topic, msg.UserID, msg)
}

// LogDispatcher only records the message. Used when Kafka is disabled.
type LogDispatcher struct {
	Log *logger.Logger
}

func (d *LogDispatcher) Dispatch(_ context.Context, msg models.PushMessage) error {
	d.Log.Info("PUSH", fmt.Sprintf("Push to %s: %q", msg.UserID, msg.Title))
	return nil
}
