// Package validate implements a deliberately narrow subset of JSON Schema:
// required, type ("string"|"object"), properties, additionalProperties,
// minLength, and enum. Any other keyword is ignored; any other type value
// is a validation failure. This mirrors the behavior of the reference
// implementation's own embedded validator rather than attempting a general
// Draft 2020-12 engine.
package validate

import (
	"fmt"
)

// Schema is an untyped JSON Schema document, decoded straight from JSON.
type Schema map[string]any

// Error is raised for any schema violation. It carries a message only, no
// structured path, matching the documented subset's behavior.
type Error struct {
	Msg string
}

func (e *Error) Error() string { return e.Msg }

func fail(format string, args ...any) error {
	return &Error{Msg: fmt.Sprintf(format, args...)}
}

// Validate applies schema to instance.
func Validate(schema Schema, instance map[string]any) error {
	required, _ := schema["required"].([]any)
	for _, f := range required {
		key, _ := f.(string)
		if _, ok := instance[key]; !ok {
			return fail("missing required field %s", key)
		}
	}

	props, _ := schema["properties"].(map[string]any)
	additionalAllowed := true
	if v, ok := schema["additionalProperties"]; ok {
		if b, ok := v.(bool); ok {
			additionalAllowed = b
		}
	}

	for key, value := range instance {
		propSchema, known := props[key]
		if !known {
			if !additionalAllowed {
				return fail("unexpected property %s", key)
			}
			continue
		}
		ps, _ := propSchema.(map[string]any)
		if err := validateProperty(key, value, Schema(ps)); err != nil {
			return err
		}
	}
	return nil
}

func validateProperty(key string, value any, schema Schema) error {
	expectedType, _ := schema["type"].(string)
	switch expectedType {
	case "string":
		s, ok := value.(string)
		if !ok {
			return fail("%s must be string", key)
		}
		if minLen, ok := numberOf(schema["minLength"]); ok {
			if len(s) < int(minLen) {
				return fail("%s shorter than %d", key, int(minLen))
			}
		}
		if enumVals, ok := schema["enum"].([]any); ok {
			if !containsString(enumVals, s) {
				return fail("%s not in enum", key)
			}
		}
		return nil
	case "object":
		nested, ok := value.(map[string]any)
		if !ok {
			return fail("%s must be object", key)
		}
		return Validate(schema, nested)
	case "":
		return nil
	default:
		return fail("unsupported type %s", expectedType)
	}
}

func numberOf(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

func containsString(vals []any, s string) bool {
	for _, v := range vals {
		if str, ok := v.(string); ok && str == s {
			return true
		}
	}
	return false
}
