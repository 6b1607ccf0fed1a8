package services

import (
	"context"

	"github.com/cascadeflow/workbus/pkg/envelope"
	"github.com/cascadeflow/workbus/pkg/eventbus"
	"github.com/cascadeflow/workbus/pkg/service"
	"github.com/cascadeflow/workbus/pkg/telemetry"
	"github.com/cascadeflow/workbus/pkg/workflow"
)

// ReportingGroup is the reporting service's own consumer group on the
// main partition.
const ReportingGroup = "g_reporting"

// Reporting turns work_completed into a snapshot event, using
// workflow.ProjectState as the source of truth for each backlog item's
// status and history.
type Reporting struct {
	*service.Base
	projectID string
	bus       *eventbus.Bus
	state     *workflow.ProjectState
}

// NewReporting constructs a Reporting service bound to projectID, bus,
// and the workflow state it maintains.
func NewReporting(projectID string, bus *eventbus.Bus, state *workflow.ProjectState, log *telemetry.Logger) *Reporting {
	r := &Reporting{Base: service.New("reporting", bus, log), projectID: projectID, bus: bus, state: state}
	r.On("work_completed", r.handleWorkCompleted)
	return r
}

func (r *Reporting) handleWorkCompleted(ctx context.Context, env envelope.Envelope) error {
	item := r.state.GetOrCreate(env.BacklogItemID)
	item.Transition("done")
	state := map[string]any{
		"project_id":      r.projectID,
		"backlog_item_id": item.BacklogItemID,
		"status":          item.Status,
		"history":         item.History,
		"causation_id":    env.CausationID,
		"correlation_id":  env.CorrelationID,
	}
	_, err := r.bus.EmitSnapshot(ctx, r.projectID, state)
	return err
}

// Run drives the reporting service's consume loop until ctx is cancelled.
func (r *Reporting) Run(ctx context.Context) {
	r.Base.Run(ctx, r.projectID, ReportingGroup)
}
