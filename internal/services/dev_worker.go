package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/cascadeflow/workbus/pkg/envelope"
	"github.com/cascadeflow/workbus/pkg/eventbus"
	"github.com/cascadeflow/workbus/pkg/service"
	"github.com/cascadeflow/workbus/pkg/telemetry"
)

// DevWorkerGroup is the dev worker's own consumer group on the main
// partition.
const DevWorkerGroup = "g_dev"

// DevWorker turns ready_for_dev into dev_deliverable. It supports
// deterministic failure injection (failureMode/failCounts) reused from
// the reference implementation's own test scripts, the mechanism the
// retry/DLQ scenario tests drive against.
type DevWorker struct {
	*service.Base
	projectID string
	bus       *eventbus.Bus

	mu          sync.Mutex
	failureMode bool
	failCounts  map[string]int
}

// NewDevWorker constructs a DevWorker. When failureMode is true, every
// handler invocation for a given backlog item fails (returns an error)
// unconditionally; fail counts are still tracked for observability.
func NewDevWorker(projectID string, bus *eventbus.Bus, log *telemetry.Logger, failureMode bool) *DevWorker {
	w := &DevWorker{
		Base:        service.New("dev_worker", bus, log),
		projectID:   projectID,
		bus:         bus,
		failureMode: failureMode,
		failCounts:  make(map[string]int),
	}
	w.On("ready_for_dev", w.handleReadyForDev)
	return w
}

func (w *DevWorker) handleReadyForDev(ctx context.Context, env envelope.Envelope) error {
	if w.failureMode {
		w.mu.Lock()
		w.failCounts[env.BacklogItemID]++
		attempts := w.failCounts[env.BacklogItemID]
		w.mu.Unlock()
		return fmt.Errorf("forced failure for %s attempt %d", env.BacklogItemID, attempts)
	}
	deliverable := envelope.Build("dev_deliverable", w.projectID, env.BacklogItemID,
		map[string]any{"description": "Implementation complete", "artifact": "artifact.tar.gz"},
		env.CorrelationID, env.CausationID)
	_, err := w.bus.Publish(ctx, w.projectID, deliverable)
	return err
}

// FailCount returns how many forced failures the handler has returned for
// backlogItemID so far (useful for asserting bounded retry in tests); it
// stays 0 when failureMode is off.
func (w *DevWorker) FailCount(backlogItemID string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.failCounts[backlogItemID]
}

// Run drives the dev worker's consume loop until ctx is cancelled.
func (w *DevWorker) Run(ctx context.Context) {
	w.Base.Run(ctx, w.projectID, DevWorkerGroup)
}
