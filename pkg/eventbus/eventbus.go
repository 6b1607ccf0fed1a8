// Package eventbus implements the publish/consume/dedupe/lock/retry/DLQ
// state machine over a logstore.Store. It is the core of this runtime:
// the event types it moves are schema-validated envelopes, and per-item
// work is serialized through a store-backed lock regardless of how many
// consumers or services are reading the same partition.
package eventbus

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/cascadeflow/workbus/pkg/envelope"
	"github.com/cascadeflow/workbus/pkg/errs"
	"github.com/cascadeflow/workbus/pkg/logstore"
	"github.com/cascadeflow/workbus/pkg/schema"
	"github.com/cascadeflow/workbus/pkg/telemetry"
	"github.com/cascadeflow/workbus/pkg/validate"
)

// Options carries the six tunables named in the configuration constants
// table; a zero Options is invalid, use DefaultOptions().
type Options struct {
	MaxAttempts     int
	RetryIntervalMS int64
	LockTTL         time.Duration
	DedupeTTL       time.Duration
	ReadCount       int
	ReadBlockMS     int
}

// DefaultOptions returns the six defaults from the configuration table.
func DefaultOptions() Options {
	return Options{
		MaxAttempts:     5,
		RetryIntervalMS: 1000,
		LockTTL:         30 * time.Second,
		DedupeTTL:       3600 * time.Second,
		ReadCount:       1,
		ReadBlockMS:     1000,
	}
}

// Handler processes one validated envelope. Returning an error marks the
// delivery as failed for retry/DLQ purposes; the error is never
// propagated to the consume loop's caller.
type Handler func(ctx context.Context, env envelope.Envelope) error

// Bus is the event bus core: one Bus wraps one logstore.Store and the
// schema registry needed to validate envelopes flowing through it.
type Bus struct {
	store    logstore.Store
	opt      Options
	log      *telemetry.Logger
	consumer string
}

// New constructs a Bus over store. consumer names this process/instance
// as the consumer-group reader and as the value written into backlog
// locks it holds; services typically pass their own name plus a shard
// suffix.
func New(store logstore.Store, opt Options, log *telemetry.Logger, consumer string) *Bus {
	if log == nil {
		log = telemetry.Nop
	}
	return &Bus{store: store, opt: opt, log: log, consumer: consumer}
}

// Publish assigns a timestamp if absent, validates, and appends env to
// the main partition for project. attempt is taken from env (default 1).
func (b *Bus) Publish(ctx context.Context, project string, env envelope.Envelope) (string, error) {
	return b.publishTo(ctx, envelope.StreamName(project), env)
}

// PublishUserOutbox is identical to Publish but targets the user-outbox
// partition.
func (b *Bus) PublishUserOutbox(ctx context.Context, project string, env envelope.Envelope) (string, error) {
	return b.publishTo(ctx, envelope.UserOutbox(project), env)
}

func (b *Bus) publishTo(ctx context.Context, partition string, env envelope.Envelope) (string, error) {
	env = env.WithDefaults(time.Now().UTC())
	if err := validateEnvelope(env); err != nil {
		return "", err
	}
	raw, err := env.ToJSON()
	if err != nil {
		return "", errs.Wrap(errs.ValidationEnvelope, err, "encode envelope")
	}
	id, err := b.store.Append(ctx, partition, map[string]string{
		"envelope": raw,
		"attempt":  strconv.Itoa(env.Attempt),
	})
	if err != nil {
		return "", fmt.Errorf("eventbus: publish append: %w", err)
	}
	b.log.Info("published", map[string]any{
		"event_type": env.EventType,
		"message_id": id,
		"partition":  partition,
		"project":    env.ProjectID,
	})
	return id, nil
}

// EnsureGroup idempotently creates group on partition, swallowing the
// known "group exists" signal.
func (b *Bus) EnsureGroup(ctx context.Context, partition, group string) error {
	err := b.store.EnsureGroup(ctx, partition, group, logstore.StartNew)
	if err == logstore.ErrGroupExists {
		return nil
	}
	return err
}

// validateEnvelope applies the envelope schema then the payload schema
// keyed by event_type, failing with UnknownEventType if no payload
// schema is registered for it.
func validateEnvelope(env envelope.Envelope) error {
	envSchema, err := schema.Envelope()
	if err != nil {
		return errs.Wrap(errs.ValidationEnvelope, err, "load envelope schema")
	}
	if err := validate.Validate(envSchema, env.AsMap()); err != nil {
		return errs.Wrap(errs.ValidationEnvelope, errs.ErrValidation, "envelope: "+err.Error())
	}
	payloadSchemas, err := schema.Payloads()
	if err != nil {
		return errs.Wrap(errs.ValidationPayload, err, "load payload schemas")
	}
	payloadSchema, ok := payloadSchemas[env.EventType]
	if !ok {
		return errs.Wrap(errs.ValidationUnknownType, errs.ErrUnknownEventType,
			fmt.Sprintf("no payload schema registered for event type %q", env.EventType))
	}
	if err := validate.Validate(payloadSchema, env.Payload); err != nil {
		return errs.Wrap(errs.ValidationPayload, errs.ErrValidation, "payload: "+err.Error())
	}
	return nil
}

// EmitSnapshot builds a snapshot envelope wrapping state under a
// "state" payload key, with "n/a"/"snapshot" fallbacks for the fields
// state doesn't carry, and publishes it to the main partition.
func (b *Bus) EmitSnapshot(ctx context.Context, project string, state map[string]any) (string, error) {
	backlogItemID := "n/a"
	if v, ok := state["backlog_item_id"].(string); ok && v != "" {
		backlogItemID = v
	}
	correlationID := "snapshot"
	if v, ok := state["correlation_id"].(string); ok && v != "" {
		correlationID = v
	}
	causationID := "snapshot"
	if v, ok := state["causation_id"].(string); ok && v != "" {
		causationID = v
	}
	env := envelope.Build("snapshot", project, backlogItemID, map[string]any{"state": state}, correlationID, causationID)
	return b.Publish(ctx, project, env)
}
