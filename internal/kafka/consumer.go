package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"

	"ms-turnos/internal/logger"
	"ms-turnos/internal/models"
)

type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

type Consumer struct {
	Reader MessageReader
	Log    *logger.Logger
}

// NewConsumer starts at the newest offset. Display consumers use a group id
// unique to the instance so that every instance sees every event.
func NewConsumer(brokers []string, topic, groupID string, log *logger.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     groupID,
		StartOffset: kafka.LastOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
	})
	return &Consumer{Reader: reader, Log: log}
}

// ConsumeTurnEvents hands each decoded event to handler until ctx is done.
// Undecodable messages are logged and skipped.
func (c *Consumer) ConsumeTurnEvents(ctx context.Context, handler func(models.TurnEvent)) error {
	c.Log.Info("KAFKA", "Turn event consumer started")
	for {
		msg, err := c.Reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				c.Log.Info("KAFKA", "Turn event consumer stopped")
				return nil
			}
			c.Log.Error("KAFKA", fmt.Sprintf("Error reading message: %v", err))
			return fmt.Errorf("read turn event: %w", err)
		}

		var ev models.TurnEvent
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			c.Log.Warn("KAFKA", fmt.Sprintf("Failed to unmarshal turn event at offset %d: %v", msg.Offset, err))
			continue
		}
		handler(ev)
	}
}

func (c *Consumer) Close() error {
	return c.Reader.Close()
}
