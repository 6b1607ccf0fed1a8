// Package schema loads and caches the envelope and payload JSON Schema
// documents embedded into the binary, and exposes them to pkg/validate.
package schema

import (
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cascadeflow/workbus/pkg/validate"
)

//go:embed all:schemas
var embedded embed.FS

var (
	envelopeOnce   sync.Once
	envelopeSchema validate.Schema
	envelopeErr    error

	payloadOnce     sync.Once
	payloadSchemas  map[string]validate.Schema
	payloadErr      error
)

// Envelope returns the cached envelope schema, loading it on first call.
func Envelope() (validate.Schema, error) {
	envelopeOnce.Do(func() {
		raw, err := embedded.ReadFile("schemas/event_envelope.json")
		if err != nil {
			envelopeErr = fmt.Errorf("schema: read event_envelope.json: %w", err)
			return
		}
		var s validate.Schema
		if err := json.Unmarshal(raw, &s); err != nil {
			envelopeErr = fmt.Errorf("schema: decode event_envelope.json: %w", err)
			return
		}
		envelopeSchema = s
	})
	return envelopeSchema, envelopeErr
}

// Payloads returns the cached event_type -> schema mapping, loading it on
// first call.
func Payloads() (map[string]validate.Schema, error) {
	payloadOnce.Do(func() {
		raw, err := embedded.ReadFile("schemas/payload_schemas.json")
		if err != nil {
			payloadErr = fmt.Errorf("schema: read payload_schemas.json: %w", err)
			return
		}
		var doc struct {
			Properties map[string]validate.Schema `json:"properties"`
		}
		if err := json.Unmarshal(raw, &doc); err != nil {
			payloadErr = fmt.Errorf("schema: decode payload_schemas.json: %w", err)
			return
		}
		payloadSchemas = doc.Properties
	})
	return payloadSchemas, payloadErr
}
