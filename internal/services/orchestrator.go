// Package services holds the thin producer/consumer handlers that sit on
// top of the event bus core: orchestrator, clarification, user gateway,
// dev worker, QA worker, and reporting. None of this package is part of
// the bus's hard engineering; each handler's only contract is the
// service.Base/eventbus.Bus API.
package services

import (
	"context"

	"github.com/cascadeflow/workbus/pkg/envelope"
	"github.com/cascadeflow/workbus/pkg/eventbus"
	"github.com/cascadeflow/workbus/pkg/service"
	"github.com/cascadeflow/workbus/pkg/telemetry"
)

// OrchestratorGroup is the orchestrator's consumer group on the main
// partition. Every main-partition service gets its own group so each
// independently sees every entry; a shared group would be
// competing-consumers and would deliver backlog_item_created (say) to
// whichever service's cursor reaches it first, starving the rest.
const OrchestratorGroup = "g_orchestrator"

// Orchestrator drives the intake -> ready-for-dev -> completion edges of
// the workflow: it reacts to initial_request, user_response, and
// qa_report, and has no state of its own beyond the envelope in hand.
type Orchestrator struct {
	*service.Base
	projectID string
	bus       *eventbus.Bus
}

// NewOrchestrator constructs an Orchestrator bound to projectID and bus.
func NewOrchestrator(projectID string, bus *eventbus.Bus, log *telemetry.Logger) *Orchestrator {
	o := &Orchestrator{Base: service.New("orchestrator", bus, log), projectID: projectID, bus: bus}
	o.On("initial_request", o.handleInitialRequest)
	o.On("user_response", o.handleUserResponse)
	o.On("qa_report", o.handleQAReport)
	return o
}

func (o *Orchestrator) handleInitialRequest(ctx context.Context, env envelope.Envelope) error {
	next := envelope.Build("backlog_item_created", o.projectID, env.BacklogItemID,
		map[string]any{"backlog_item_id": env.BacklogItemID, "priority": "high"},
		env.CorrelationID, env.CausationID)
	_, err := o.bus.Publish(ctx, o.projectID, next)
	return err
}

func (o *Orchestrator) handleUserResponse(ctx context.Context, env envelope.Envelope) error {
	next := envelope.Build("ready_for_dev", o.projectID, env.BacklogItemID,
		map[string]any{"backlog_item_id": env.BacklogItemID},
		env.CorrelationID, env.CausationID)
	_, err := o.bus.Publish(ctx, o.projectID, next)
	return err
}

func (o *Orchestrator) handleQAReport(ctx context.Context, env envelope.Envelope) error {
	next := envelope.Build("work_completed", o.projectID, env.BacklogItemID,
		map[string]any{"backlog_item_id": env.BacklogItemID, "status": "done"},
		env.CorrelationID, env.CausationID)
	_, err := o.bus.Publish(ctx, o.projectID, next)
	return err
}

// Run drives the orchestrator's consume loop until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) {
	o.Base.Run(ctx, o.projectID, OrchestratorGroup)
}
