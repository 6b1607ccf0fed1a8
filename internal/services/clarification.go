package services

import (
	"context"

	"github.com/cascadeflow/workbus/pkg/envelope"
	"github.com/cascadeflow/workbus/pkg/eventbus"
	"github.com/cascadeflow/workbus/pkg/service"
	"github.com/cascadeflow/workbus/pkg/telemetry"
)

// Clarification reacts to backlog_item_created by asking a clarifying
// question, publishing it to the user outbox rather than the main
// partition: it is addressed to a human, not another service.
type Clarification struct {
	*service.Base
	projectID string
	bus       *eventbus.Bus
}

// ClarificationGroup is the clarification service's own consumer group
// on the main partition.
const ClarificationGroup = "g_clarification"

// NewClarification constructs a Clarification bound to projectID and bus.
func NewClarification(projectID string, bus *eventbus.Bus, log *telemetry.Logger) *Clarification {
	c := &Clarification{Base: service.New("clarification", bus, log), projectID: projectID, bus: bus}
	c.On("backlog_item_created", c.handleBacklogItemCreated)
	return c
}

func (c *Clarification) handleBacklogItemCreated(ctx context.Context, env envelope.Envelope) error {
	assignee := "user"
	if requestedBy, ok := env.Payload["requested_by"].(string); ok && requestedBy != "" {
		assignee = requestedBy
	}
	question := envelope.Build("clarification_needed", c.projectID, env.BacklogItemID,
		map[string]any{
			"question": "What is the acceptance criteria?",
			"assignee": assignee,
		}, env.CorrelationID, env.CausationID)
	_, err := c.bus.PublishUserOutbox(ctx, c.projectID, question)
	return err
}

// Run drives the clarification service's consume loop until ctx is
// cancelled.
func (c *Clarification) Run(ctx context.Context) {
	c.Base.Run(ctx, c.projectID, ClarificationGroup)
}
