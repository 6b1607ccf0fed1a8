// Package service provides the thin dispatch layer every producer/consumer
// in this runtime is built from: register a handler per event_type, then
// drive the bus's consume loop.
package service

import (
	"context"

	"github.com/cascadeflow/workbus/pkg/envelope"
	"github.com/cascadeflow/workbus/pkg/eventbus"
	"github.com/cascadeflow/workbus/pkg/telemetry"
)

// HandlerFunc processes one envelope of a registered event_type.
type HandlerFunc func(ctx context.Context, env envelope.Envelope) error

// Base binds a set of event_type handlers to one bus's consume loop.
// Events whose type has no registered handler are silently acknowledged:
// this is deliberate (see Dispatch) so several
// services can share one partition without DLQ-ing events they do not
// care about.
type Base struct {
	name     string
	bus      *eventbus.Bus
	handlers map[string]HandlerFunc
	log      *telemetry.Logger
}

// New constructs a Base named name (used only for logging) over bus.
func New(name string, bus *eventbus.Bus, log *telemetry.Logger) *Base {
	if log == nil {
		log = telemetry.Nop
	}
	return &Base{name: name, bus: bus, handlers: make(map[string]HandlerFunc), log: log}
}

// On registers handler for eventType, replacing any previous registration.
func (b *Base) On(eventType string, handler HandlerFunc) {
	b.handlers[eventType] = handler
}

// Dispatch looks up the handler for env's event_type. An unregistered
// type is not an error: Dispatch returns nil and the caller (the bus's
// consume loop) acks the message as handled. This is the open-question
// behavior this runtime preserves: a service coexisting on a shared
// partition is not penalized for events outside its concern.
func (b *Base) Dispatch(ctx context.Context, env envelope.Envelope) error {
	handler, ok := b.handlers[env.EventType]
	if !ok {
		b.log.Debug("no handler registered, acking as no-op", map[string]any{
			"service": b.name, "event_type": env.EventType,
		})
		return nil
	}
	return handler(ctx, env)
}

// Consume drives one step of the bus's consume loop for project's main
// partition in consumer group group, reading under the bus's consumer
// name and dispatching through Dispatch.
func (b *Base) Consume(ctx context.Context, project, group string) (handledID string, handled bool, err error) {
	return b.bus.Consume(ctx, project, group, b.Dispatch)
}

// ConsumePartition is Consume generalized to an explicit partition
// (used for reading the user-outbox partition).
func (b *Base) ConsumePartition(ctx context.Context, project, partition, group string) (handledID string, handled bool, err error) {
	return b.bus.ConsumePartition(ctx, project, partition, group, b.Dispatch)
}

// Run drives Consume in a loop until ctx is cancelled, logging each
// handled id and propagating the cooperative shutdown signal. Any error
// returned by Consume other than ctx cancellation is logged and the loop
// continues: Locked, for example, is expected and transient.
func (b *Base) Run(ctx context.Context, project, group string) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		id, handled, err := b.Consume(ctx, project, group)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.log.Warn("consume step failed", map[string]any{"service": b.name, "error": err.Error()})
			continue
		}
		if handled {
			b.log.Debug("handled", map[string]any{"service": b.name, "message_id": id})
		}
	}
}
