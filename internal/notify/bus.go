// Package notify fans turn changes out to live displays. Publishing never
// blocks the caller; delivery happens on the bus goroutine.
package notify

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"ms-turnos/internal/logger"
	"ms-turnos/internal/metrics"
	"ms-turnos/internal/models"
)

const DefaultBuffer = 256

type Publisher interface {
	Publish(ev models.TurnEvent)
}

// Sink receives events from the bus goroutine.
type Sink interface {
	Deliver(ctx context.Context, ev models.TurnEvent) error
}

type Bus struct {
	events chan models.TurnEvent
	sinks  []Sink
	log    *logger.Logger
}

func NewBus(buffer int, log *logger.Logger, sinks ...Sink) *Bus {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Bus{
		events: make(chan models.TurnEvent, buffer),
		sinks:  sinks,
		log:    log,
	}
}

// Publish queues ev, dropping it when the buffer is full.
func (b *Bus) Publish(ev models.TurnEvent) {
	if ev.EventID == "" {
		ev.EventID = uuid.NewString()
	}
	if ev.Type == "" {
		ev.Type = models.TurnChangedEvent
	}
	select {
	case b.events <- ev:
	default:
		metrics.EventsDropped.Inc()
		b.log.Warn("NOTIFY", fmt.Sprintf("Event bus full, dropped %s for turn %d", ev.Type, ev.TurnID))
	}
}

// Run delivers queued events until ctx is done, then drains what is left.
func (b *Bus) Run(ctx context.Context) error {
	for {
		select {
		case ev := <-b.events:
			b.deliver(ctx, ev)
		case <-ctx.Done():
			b.drain()
			return nil
		}
	}
}

func (b *Bus) drain() {
	for {
		select {
		case ev := <-b.events:
			b.deliver(context.Background(), ev)
		default:
			return
		}
	}
}

func (b *Bus) deliver(ctx context.Context, ev models.TurnEvent) {
	for _, sink := range b.sinks {
		if err := sink.Deliver(ctx, ev); err != nil {
			b.log.Error("NOTIFY", fmt.Sprintf("Sink %T failed for event %s: %v", sink, ev.EventID, err))
		}
	}
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(models.TurnEvent) {}
