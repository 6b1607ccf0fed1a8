package eventbus

import (
	"context"
	"fmt"
	"strconv"

	"github.com/cascadeflow/workbus/pkg/envelope"
	"github.com/cascadeflow/workbus/pkg/errs"
	"github.com/cascadeflow/workbus/pkg/logstore"
)

// Consume drives one step of the consume algorithm for project's main
// partition and group, using handler to process at most one newly
// delivered envelope. See ConsumePartition for consuming the user-outbox
// partition instead.
func (b *Bus) Consume(ctx context.Context, project, group string, handler Handler) (handledID string, handled bool, err error) {
	return b.ConsumePartition(ctx, project, envelope.StreamName(project), group, handler)
}

// ConsumePartition is Consume generalized to an explicit partition, used
// by services reading the user-outbox partition instead of the main one.
// An entry reclaimed from the pending set (idle >= RetryIntervalMS, e.g.
// one left pending by a Locked denial) is processed in place of a new
// read. It returns the handled message id and true whenever an entry was
// settled (including the dedupe-hit and dead-letter short-circuit
// paths, which do not invoke handler); handled is false when nothing
// was reclaimed and read_group surfaced nothing within the block window.
func (b *Bus) ConsumePartition(ctx context.Context, project, partition, group string, handler Handler) (handledID string, handled bool, err error) {
	if err := b.EnsureGroup(ctx, partition, group); err != nil {
		return "", false, fmt.Errorf("eventbus: consume ensure group: %w", err)
	}

	claimed, err := b.reclaimStuck(ctx, partition, group)
	if err != nil {
		return "", false, fmt.Errorf("eventbus: consume reclaim: %w", err)
	}
	if len(claimed) > 0 {
		return b.handleEntry(ctx, project, partition, group, claimed[0], handler)
	}

	entries, err := b.store.ReadGroup(ctx, partition, group, b.consumer, b.opt.ReadCount, b.opt.ReadBlockMS)
	if err != nil {
		return "", false, fmt.Errorf("eventbus: consume read group: %w", err)
	}
	if len(entries) == 0 {
		return "", false, nil
	}

	entry := entries[0]
	return b.handleEntry(ctx, project, partition, group, entry, handler)
}

func (b *Bus) reclaimStuck(ctx context.Context, partition, group string) ([]logstore.Entry, error) {
	pending, err := b.store.PendingRange(ctx, partition, group, 10, "")
	if err != nil {
		return nil, err
	}
	var stuck []string
	for _, p := range pending {
		if p.IdleMS >= b.opt.RetryIntervalMS {
			stuck = append(stuck, p.MessageID)
		}
	}
	if len(stuck) == 0 {
		return nil, nil
	}
	return b.store.Claim(ctx, partition, group, b.consumer, b.opt.RetryIntervalMS, stuck)
}

func (b *Bus) handleEntry(ctx context.Context, project, partition, group string, entry logstore.Entry, handler Handler) (string, bool, error) {
	attempt := 1
	if raw, ok := entry.Fields["attempt"]; ok {
		if n, err := strconv.Atoi(raw); err == nil {
			attempt = n
		}
	}
	rawEnvelope := entry.Fields["envelope"]

	env, parseErr := envelope.ParseJSON(rawEnvelope)
	if parseErr == nil {
		parseErr = validateEnvelope(env)
	}
	if parseErr != nil {
		if err := b.toDeadLetter(ctx, project, rawEnvelope, parseErr, attempt); err != nil {
			return "", false, err
		}
		if _, err := b.store.Ack(ctx, partition, group, entry.MessageID); err != nil {
			return "", false, err
		}
		b.log.Warn("envelope rejected at consume, dead-lettered", map[string]any{
			"partition": partition, "message_id": entry.MessageID, "error": parseErr.Error(),
		})
		return entry.MessageID, true, nil
	}

	dedupeKey := envelope.DedupeKey(env.ProjectID, group, entry.MessageID)
	if _, dup, err := b.store.Get(ctx, dedupeKey); err != nil {
		return "", false, err
	} else if dup {
		if _, err := b.store.Ack(ctx, partition, group, entry.MessageID); err != nil {
			return "", false, err
		}
		return entry.MessageID, true, nil
	}

	lockKey := envelope.LockKey(env.ProjectID, env.BacklogItemID)
	acquired, err := b.store.Set(ctx, lockKey, b.consumer, b.opt.LockTTL, true)
	if err != nil {
		return "", false, err
	}
	if !acquired {
		return "", false, errs.Wrap(errs.BusLocked, errs.ErrLocked,
			fmt.Sprintf("backlog item %s locked", env.BacklogItemID))
	}
	defer b.store.Del(context.Background(), lockKey)

	handlerErr := handler(ctx, env)
	if handlerErr == nil {
		if _, err := b.store.Set(ctx, dedupeKey, "1", b.opt.DedupeTTL, false); err != nil {
			return "", false, err
		}
		if _, err := b.store.Ack(ctx, partition, group, entry.MessageID); err != nil {
			return "", false, err
		}
		return entry.MessageID, true, nil
	}

	if attempt >= b.opt.MaxAttempts {
		if err := b.toDeadLetter(ctx, project, rawEnvelope, handlerErr, attempt); err != nil {
			return "", false, err
		}
	} else {
		retryEnv := env.WithAttempt(attempt + 1)
		if _, err := b.rePublish(ctx, partition, retryEnv); err != nil {
			return "", false, err
		}
	}
	if _, err := b.store.Ack(ctx, partition, group, entry.MessageID); err != nil {
		return "", false, err
	}
	b.log.Warn("handler failed", map[string]any{
		"partition": partition, "message_id": entry.MessageID,
		"attempt": attempt, "error": handlerErr.Error(),
	})
	return entry.MessageID, true, nil
}

// rePublish appends env directly to partition without re-running
// publish-time validation; a retried envelope already passed validation
// when first published and attempt is the only field changing.
func (b *Bus) rePublish(ctx context.Context, partition string, env envelope.Envelope) (string, error) {
	raw, err := env.ToJSON()
	if err != nil {
		return "", err
	}
	return b.store.Append(ctx, partition, map[string]string{
		"envelope": raw,
		"attempt":  strconv.Itoa(env.Attempt),
	})
}

func (b *Bus) toDeadLetter(ctx context.Context, projectID, rawEnvelope string, cause error, attempt int) error {
	partition := envelope.DeadLetter(projectID)
	_, err := b.store.Append(ctx, partition, map[string]string{
		"envelope": rawEnvelope,
		"error":    cause.Error(),
		"attempt":  strconv.Itoa(attempt),
	})
	if err != nil {
		return fmt.Errorf("eventbus: dead-letter append: %w", err)
	}
	return nil
}
