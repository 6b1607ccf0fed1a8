package service

import (
	"context"
	"testing"

	"github.com/cascadeflow/workbus/pkg/envelope"
	"github.com/cascadeflow/workbus/pkg/eventbus"
	"github.com/cascadeflow/workbus/pkg/logstore"
)

func newTestService(t *testing.T, name string) (*Base, *eventbus.Bus) {
	t.Helper()
	store := logstore.NewMemory()
	t.Cleanup(func() { store.Close() })
	bus := eventbus.New(store, eventbus.DefaultOptions(), nil, name)
	return New(name, bus, nil), bus
}

func TestDispatchInvokesRegisteredHandler(t *testing.T) {
	svc, bus := newTestService(t, "orchestrator")
	ctx := context.Background()

	calls := 0
	svc.On("initial_request", func(ctx context.Context, env envelope.Envelope) error {
		calls++
		return nil
	})

	env := envelope.Build("initial_request", "demo", "item-1", map[string]any{
		"summary": "x", "requested_by": "y",
	}, "corr", "n/a")
	bus.Publish(ctx, "demo", env)

	id, handled, err := svc.Consume(ctx, "demo", "orchestrator")
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if !handled || id == "" {
		t.Fatal("expected the entry to be handled")
	}
	if calls != 1 {
		t.Fatalf("expected handler invoked once, got %d", calls)
	}
}

func TestDispatchAcksUnregisteredEventTypeWithoutError(t *testing.T) {
	svc, bus := newTestService(t, "clarification")
	ctx := context.Background()

	env := envelope.Build("initial_request", "demo", "item-1", map[string]any{
		"summary": "x", "requested_by": "y",
	}, "corr", "n/a")
	bus.Publish(ctx, "demo", env)

	id, handled, err := svc.Consume(ctx, "demo", "clarification")
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if !handled || id == "" {
		t.Fatal("expected the message to be acked even with no handler registered")
	}
}
