// Package envelope defines the outer record carried through every
// partition, and the helpers used to build and address one.
package envelope

import (
	"encoding/json"
	"fmt"
	"time"
)

// Envelope is the structured record described by the event envelope
// schema. Payload is kept as a raw map so it can be round-tripped without
// a priori knowledge of its shape; individual services assert into the
// concrete fields they expect.
type Envelope struct {
	EventType      string         `json:"event_type"`
	ProjectID      string         `json:"project_id"`
	BacklogItemID  string         `json:"backlog_item_id"`
	CorrelationID  string         `json:"correlation_id"`
	CausationID    string         `json:"causation_id"`
	Payload        map[string]any `json:"payload"`
	Timestamp      string         `json:"timestamp,omitempty"`
	Attempt        int            `json:"attempt,omitempty"`
}

// Build constructs an envelope the way every producer in this runtime
// does: timestamp and attempt are left to Bus.Publish to default.
func Build(eventType, projectID, backlogItemID string, payload map[string]any, correlationID, causationID string) Envelope {
	return Envelope{
		EventType:     eventType,
		ProjectID:     projectID,
		BacklogItemID: backlogItemID,
		CorrelationID: correlationID,
		CausationID:   causationID,
		Payload:       payload,
	}
}

// WithDefaults returns a copy with Timestamp defaulted to now (UTC,
// RFC3339Nano) if absent and Attempt defaulted to 1 if unset.
func (e Envelope) WithDefaults(now time.Time) Envelope {
	out := e
	if out.Timestamp == "" {
		out.Timestamp = now.UTC().Format(time.RFC3339Nano)
	}
	if out.Attempt <= 0 {
		out.Attempt = 1
	}
	return out
}

// WithAttempt returns a copy with Attempt set to attempt.
func (e Envelope) WithAttempt(attempt int) Envelope {
	out := e
	out.Attempt = attempt
	return out
}

// MarshalJSON produces the canonical wire form used for log entries.
func (e Envelope) MarshalJSON() ([]byte, error) {
	type alias Envelope
	return json.Marshal(alias(e))
}

// ParseJSON deserializes a raw envelope string without validating it.
func ParseJSON(raw string) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return Envelope{}, fmt.Errorf("envelope: parse: %w", err)
	}
	return e, nil
}

// ToJSON serializes the envelope to its canonical wire form.
func (e Envelope) ToJSON() (string, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("envelope: marshal: %w", err)
	}
	return string(b), nil
}

// AsMap renders the envelope into a generic map, the shape the validator
// operates on (it validates against arbitrary JSON documents, not
// specifically this struct).
func (e Envelope) AsMap() map[string]any {
	m := map[string]any{
		"event_type":      e.EventType,
		"project_id":      e.ProjectID,
		"backlog_item_id": e.BacklogItemID,
		"correlation_id":  e.CorrelationID,
		"causation_id":    e.CausationID,
		"payload":         e.Payload,
	}
	if e.Timestamp != "" {
		m["timestamp"] = e.Timestamp
	}
	if e.Attempt != 0 {
		m["attempt"] = e.Attempt
	}
	return m
}
