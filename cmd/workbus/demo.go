package main

import (
	"context"
	"fmt"

	"github.com/cascadeflow/workbus/internal/services"
	"github.com/cascadeflow/workbus/pkg/envelope"
	"github.com/cascadeflow/workbus/pkg/eventbus"
	"github.com/cascadeflow/workbus/pkg/logstore"
	"github.com/cascadeflow/workbus/pkg/telemetry"
	"github.com/cascadeflow/workbus/pkg/workflow"
)

// runHappyPathDemo drives one backlog item through intake, clarification,
// development, QA, and reporting end to end, then reports how many
// snapshot envelopes landed on the project's main partition.
func runHappyPathDemo(store logstore.Store, opt eventbus.Options, log *telemetry.Logger) {
	ctx := context.Background()
	project := "demo"
	bus := eventbus.New(store, opt, log, "demo-happy-path")

	gateway := services.NewUserGateway(project, bus, log)
	orchestrator := services.NewOrchestrator(project, bus, log)
	clarification := services.NewClarification(project, bus, log)
	devWorker := services.NewDevWorker(project, bus, log, false)
	qaWorker := services.NewQAWorker(project, bus, log, false)
	reporting := services.NewReporting(project, bus, workflow.NewProjectState(project), log)

	fmt.Println("demo: submitting initial request for item-1")
	if _, err := gateway.SubmitInitial(ctx, "item-1", "Implement feature", "product"); err != nil {
		fmt.Printf("demo: submit initial request failed: %v\n", err)
		return
	}

	steps := []struct {
		name string
		run  func() (string, bool, error)
	}{
		{"orchestrator:initial_request", func() (string, bool, error) {
			return orchestrator.Consume(ctx, project, services.OrchestratorGroup)
		}},
		{"clarification:backlog_item_created", func() (string, bool, error) {
			return clarification.Consume(ctx, project, services.ClarificationGroup)
		}},
		{"gateway:clarification_needed", func() (string, bool, error) {
			return gateway.ConsumeQuestions(ctx)
		}},
		{"orchestrator:user_response", func() (string, bool, error) {
			return orchestrator.Consume(ctx, project, services.OrchestratorGroup)
		}},
		{"dev_worker:ready_for_dev", func() (string, bool, error) {
			return devWorker.Consume(ctx, project, services.DevWorkerGroup)
		}},
		{"qa_worker:dev_deliverable", func() (string, bool, error) {
			return qaWorker.Consume(ctx, project, services.QAWorkerGroup)
		}},
		{"orchestrator:qa_report", func() (string, bool, error) {
			return orchestrator.Consume(ctx, project, services.OrchestratorGroup)
		}},
		{"reporting:work_completed", func() (string, bool, error) {
			return reporting.Consume(ctx, project, services.ReportingGroup)
		}},
	}
	// Each service has its own group and sees every entry, so each step
	// drains its group, consuming other event types as no-ops.
	for _, step := range steps {
		handledAny := false
		for {
			_, handled, err := step.run()
			if err != nil {
				fmt.Printf("demo: %s failed: %v\n", step.name, err)
				return
			}
			if !handled {
				break
			}
			handledAny = true
		}
		if !handledAny {
			fmt.Printf("demo: %s handled nothing, stopping\n", step.name)
			return
		}
		fmt.Printf("demo: %s handled\n", step.name)
	}

	entries, err := store.Read(ctx, envelope.StreamName(project), "", 0)
	if err != nil {
		fmt.Printf("demo: reading main partition failed: %v\n", err)
		return
	}
	snapshots := 0
	for _, e := range entries {
		env, err := envelope.ParseJSON(e.Fields["envelope"])
		if err != nil {
			continue
		}
		if env.EventType == "snapshot" {
			snapshots++
		}
	}
	fmt.Printf("demo: done, %d snapshot envelope(s) recorded\n", snapshots)
}

// runRetryDLQDemo shortcuts past the normal response chain by publishing a
// synthetic ready_for_dev envelope directly, then drives a deterministically
// failing dev worker through every retry attempt until the envelope lands in
// the dead-letter partition.
func runRetryDLQDemo(store logstore.Store, opt eventbus.Options, log *telemetry.Logger) {
	ctx := context.Background()
	project := "demo-fail"
	backlogItemID := "item-fail"
	bus := eventbus.New(store, opt, log, "demo-retry-dlq")

	orchestrator := services.NewOrchestrator(project, bus, log)
	gateway := services.NewUserGateway(project, bus, log)
	devWorker := services.NewDevWorker(project, bus, log, true)

	fmt.Println("demo: submitting initial request for item-fail")
	if _, err := gateway.SubmitInitial(ctx, backlogItemID, "Implement feature", "product"); err != nil {
		fmt.Printf("demo: submit initial request failed: %v\n", err)
		return
	}
	if _, _, err := orchestrator.Consume(ctx, project, services.OrchestratorGroup); err != nil {
		fmt.Printf("demo: orchestrator consume failed: %v\n", err)
		return
	}

	fmt.Println("demo: publishing synthetic ready_for_dev directly, bypassing clarification")
	synthetic := envelope.Build("ready_for_dev", project, backlogItemID,
		map[string]any{"backlog_item_id": backlogItemID}, "corr-fail", "orch")
	if _, err := bus.Publish(ctx, project, synthetic); err != nil {
		fmt.Printf("demo: publish synthetic ready_for_dev failed: %v\n", err)
		return
	}

	// The dev worker's group also sees initial_request and
	// backlog_item_created (no-ops for it), so consume until nothing is left.
	for i := 0; ; i++ {
		_, handled, err := devWorker.Consume(ctx, project, services.DevWorkerGroup)
		if err != nil {
			fmt.Printf("demo: dev worker consume iteration %d failed: %v\n", i, err)
			return
		}
		if !handled {
			fmt.Printf("demo: dev worker consume iteration %d handled nothing\n", i)
			break
		}
		fmt.Printf("demo: dev worker consume %d, fail count %d\n", i+1, devWorker.FailCount(backlogItemID))
	}

	dlq, err := store.Read(ctx, envelope.DeadLetter(project), "", 0)
	if err != nil {
		fmt.Printf("demo: reading dead-letter partition failed: %v\n", err)
		return
	}
	fmt.Printf("demo: done, %d dead-lettered envelope(s)\n", len(dlq))
}
