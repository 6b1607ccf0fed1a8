package services

import (
	"context"
	"testing"

	"github.com/cascadeflow/workbus/pkg/envelope"
	"github.com/cascadeflow/workbus/pkg/eventbus"
	"github.com/cascadeflow/workbus/pkg/logstore"
	"github.com/cascadeflow/workbus/pkg/workflow"
)

// TestHappyPathEndToEnd drives the full intake -> clarification -> dev ->
// QA -> reporting chain for one backlog item, mirroring the happy-path
// scenario: each service reads the main partition through its own
// consumer group, so every service sees every entry and simply ignores
// (dispatches a no-op for) event types it did not register.
func TestHappyPathEndToEnd(t *testing.T) {
	store := logstore.NewMemory()
	defer store.Close()
	bus := eventbus.New(store, eventbus.DefaultOptions(), nil, "test-consumer")
	ctx := context.Background()
	project := "demo"

	state := workflow.NewProjectState(project)
	gateway := NewUserGateway(project, bus, nil)
	orchestrator := NewOrchestrator(project, bus, nil)
	clarification := NewClarification(project, bus, nil)
	devWorker := NewDevWorker(project, bus, nil, false)
	qaWorker := NewQAWorker(project, bus, nil, false)
	reporting := NewReporting(project, bus, state, nil)

	if _, err := gateway.SubmitInitial(ctx, "item-1", "Implement feature", "product"); err != nil {
		t.Fatalf("submit initial: %v", err)
	}

	steps := []struct {
		name string
		run  func() (string, bool, error)
	}{
		{"orchestrator:initial_request", func() (string, bool, error) { return orchestrator.Consume(ctx, project, OrchestratorGroup) }},
		{"clarification:backlog_item_created", func() (string, bool, error) { return clarification.Consume(ctx, project, ClarificationGroup) }},
		{"gateway:clarification_needed", func() (string, bool, error) { return gateway.ConsumeQuestions(ctx) }},
		{"orchestrator:user_response", func() (string, bool, error) { return orchestrator.Consume(ctx, project, OrchestratorGroup) }},
		{"dev_worker:ready_for_dev", func() (string, bool, error) { return devWorker.Consume(ctx, project, DevWorkerGroup) }},
		{"qa_worker:dev_deliverable", func() (string, bool, error) { return qaWorker.Consume(ctx, project, QAWorkerGroup) }},
		{"orchestrator:qa_report", func() (string, bool, error) { return orchestrator.Consume(ctx, project, OrchestratorGroup) }},
		{"reporting:work_completed", func() (string, bool, error) { return reporting.Consume(ctx, project, ReportingGroup) }},
	}
	// Each step drains its group: entries of other event types are
	// consumed as no-ops before (and after) the one the step reacts to.
	for _, step := range steps {
		handledAny := false
		for {
			_, handled, err := step.run()
			if err != nil {
				t.Fatalf("%s: %v", step.name, err)
			}
			if !handled {
				break
			}
			handledAny = true
		}
		if !handledAny {
			t.Fatalf("%s: expected a message to be handled", step.name)
		}
	}

	entries, err := store.Read(ctx, envelope.StreamName(project), "", 0)
	if err != nil {
		t.Fatal(err)
	}
	var sawSnapshot bool
	for _, e := range entries {
		env, err := envelope.ParseJSON(e.Fields["envelope"])
		if err != nil {
			t.Fatal(err)
		}
		if env.EventType == "snapshot" {
			sawSnapshot = true
		}
	}
	if !sawSnapshot {
		t.Fatal("expected a snapshot envelope on the main partition")
	}

	item := state.GetOrCreate("item-1")
	if item.Status != "done" {
		t.Fatalf("expected backlog item status done, got %s", item.Status)
	}
	if len(item.History) != 1 || item.History[0] != "done" {
		t.Fatalf("expected history [done], got %v", item.History)
	}
}
