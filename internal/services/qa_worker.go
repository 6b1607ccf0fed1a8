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

// QAWorkerGroup is the QA worker's own consumer group on the main
// partition.
const QAWorkerGroup = "g_qa"

// QAWorker turns dev_deliverable into qa_report. Like DevWorker it
// supports deterministic failure injection for retry/DLQ testing.
type QAWorker struct {
	*service.Base
	projectID string
	bus       *eventbus.Bus

	mu          sync.Mutex
	failureMode bool
	failCounts  map[string]int
}

// NewQAWorker constructs a QAWorker with optional deterministic failure
// injection.
func NewQAWorker(projectID string, bus *eventbus.Bus, log *telemetry.Logger, failureMode bool) *QAWorker {
	w := &QAWorker{
		Base:        service.New("qa_worker", bus, log),
		projectID:   projectID,
		bus:         bus,
		failureMode: failureMode,
		failCounts:  make(map[string]int),
	}
	w.On("dev_deliverable", w.handleDevDeliverable)
	return w
}

func (w *QAWorker) handleDevDeliverable(ctx context.Context, env envelope.Envelope) error {
	if w.failureMode {
		w.mu.Lock()
		w.failCounts[env.BacklogItemID]++
		attempts := w.failCounts[env.BacklogItemID]
		w.mu.Unlock()
		return fmt.Errorf("forced QA failure for %s attempt %d", env.BacklogItemID, attempts)
	}
	report := envelope.Build("qa_report", w.projectID, env.BacklogItemID,
		map[string]any{"status": "pass", "notes": "All checks green"},
		env.CorrelationID, env.CausationID)
	_, err := w.bus.Publish(ctx, w.projectID, report)
	return err
}

// FailCount returns how many forced failures the handler has returned for
// backlogItemID so far; it stays 0 when failureMode is off.
func (w *QAWorker) FailCount(backlogItemID string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.failCounts[backlogItemID]
}

// Run drives the QA worker's consume loop until ctx is cancelled.
func (w *QAWorker) Run(ctx context.Context) {
	w.Base.Run(ctx, w.projectID, QAWorkerGroup)
}
