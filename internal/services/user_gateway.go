package services

import (
	"context"
	"fmt"

	"github.com/cascadeflow/workbus/pkg/envelope"
	"github.com/cascadeflow/workbus/pkg/eventbus"
	"github.com/cascadeflow/workbus/pkg/service"
	"github.com/cascadeflow/workbus/pkg/telemetry"
)

// UserGatewayOutboxGroup is the outbox consumer group name, kept
// identical to the reference implementation's naming so the S1 scenario's
// partition/group wiring is unambiguous.
const UserGatewayOutboxGroup = "g_user_gateway_out"

// UserGateway stands in for the human at the edge of the workflow: it
// submits initial requests on the human's behalf and answers clarifying
// questions delivered to the user outbox.
type UserGateway struct {
	*service.Base
	projectID string
	bus       *eventbus.Bus
}

// NewUserGateway constructs a UserGateway bound to projectID and bus.
func NewUserGateway(projectID string, bus *eventbus.Bus, log *telemetry.Logger) *UserGateway {
	g := &UserGateway{Base: service.New("user_gateway", bus, log), projectID: projectID, bus: bus}
	g.On("clarification_needed", g.handleClarificationNeeded)
	return g
}

// SubmitInitial publishes the first event of a workflow on behalf of a
// human submitting backlogItemID with summary/requestedBy.
func (g *UserGateway) SubmitInitial(ctx context.Context, backlogItemID, summary, requestedBy string) (string, error) {
	env := envelope.Build("initial_request", g.projectID, backlogItemID,
		map[string]any{"summary": summary, "requested_by": requestedBy},
		fmt.Sprintf("corr-%s", backlogItemID), fmt.Sprintf("user-%s", backlogItemID))
	return g.bus.Publish(ctx, g.projectID, env)
}

func (g *UserGateway) handleClarificationNeeded(ctx context.Context, env envelope.Envelope) error {
	question, _ := env.Payload["question"].(string)
	answer := envelope.Build("user_response", g.projectID, env.BacklogItemID,
		map[string]any{"question": question, "answer": "Here are the acceptance criteria."},
		env.CorrelationID, "user-reply")
	_, err := g.bus.Publish(ctx, g.projectID, answer)
	return err
}

// ConsumeQuestions drives one step of the outbox consume loop.
func (g *UserGateway) ConsumeQuestions(ctx context.Context) (handledID string, handled bool, err error) {
	return g.ConsumePartition(ctx, g.projectID, envelope.UserOutbox(g.projectID), UserGatewayOutboxGroup)
}

// Run drives the user gateway's outbox consume loop until ctx is
// cancelled.
func (g *UserGateway) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if _, _, err := g.ConsumeQuestions(ctx); err != nil && ctx.Err() != nil {
			return
		}
	}
}
