package util

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// ArgumentError reports a single argument that failed schema validation.
type ArgumentError struct {
	Field   string `json:"field"`
	Value   any    `json:"value,omitempty"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *ArgumentError) Error() string {
	return fmt.Sprintf("invalid argument %q: %s", e.Field, e.Message)
}

// SchemaFor derives a JSON-schema-like description of a Go struct's exported
// fields. Field names come from json tags; `description` tags become schema
// descriptions; fields without omitempty are required.
func SchemaFor(v any) map[string]any {
	t := reflect.TypeOf(v)
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	properties := map[string]any{}
	var required []string

	if t != nil && t.Kind() == reflect.Struct {
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() {
				continue
			}

			tag := f.Tag.Get("json")
			if tag == "-" {
				continue
			}

			name, opts, _ := strings.Cut(tag, ",")
			if name == "" {
				name = f.Name
			}

			prop := map[string]any{"type": jsonType(f.Type)}
			if desc := f.Tag.Get("description"); desc != "" {
				prop["description"] = desc
			}
			if enum := f.Tag.Get("enum"); enum != "" {
				vals := strings.Split(enum, ",")
				anyVals := make([]any, len(vals))
				for i, v := range vals {
					anyVals[i] = strings.TrimSpace(v)
				}
				prop["enum"] = anyVals
			}

			properties[name] = prop

			if !strings.Contains(opts, "omitempty") && f.Type.Kind() != reflect.Ptr {
				required = append(required, name)
			}
		}
	}

	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}

	return schema
}

// DecodeArguments unmarshals raw tool call arguments into a generic map.
// Empty input decodes to an empty map so tools without arguments work.
func DecodeArguments(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}

	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("arguments are not a JSON object: %w", err)
	}
	if args == nil {
		args = map[string]any{}
	}

	return args, nil
}

// ValidateArguments checks decoded arguments against a schema produced by
// SchemaFor (or hand-written in the same shape): required fields must be
// present, typed fields must match, enum fields must hold an allowed value.
// Unknown extra fields pass through untouched.
func ValidateArguments(args map[string]any, schema map[string]any) error {
	required, _ := schema["required"].([]string)
	if required == nil {
		// Schemas round-tripped through JSON carry []any instead.
		if anyReq, ok := schema["required"].([]any); ok {
			for _, r := range anyReq {
				if s, ok := r.(string); ok {
					required = append(required, s)
				}
			}
		}
	}

	for _, name := range required {
		if _, ok := args[name]; !ok {
			return &ArgumentError{Field: name, Message: "required field is missing"}
		}
	}

	properties, _ := schema["properties"].(map[string]any)
	for name, value := range args {
		prop, ok := properties[name].(map[string]any)
		if !ok {
			continue
		}

		wantType, _ := prop["type"].(string)
		if !matchesType(value, wantType) {
			return &ArgumentError{
				Field:   name,
				Value:   value,
				Message: fmt.Sprintf("expected %s, got %T", wantType, value),
			}
		}

		if enum, ok := prop["enum"].([]any); ok && len(enum) > 0 {
			if !containsValue(enum, value) {
				return &ArgumentError{
					Field:   name,
					Value:   value,
					Message: fmt.Sprintf("must be one of %v", enum),
				}
			}
		}
	}

	return nil
}

func containsValue(allowed []any, v any) bool {
	for _, a := range allowed {
		if a == v {
			return true
		}
	}
	return false
}

func jsonType(t reflect.Type) string {
	switch t.Kind() {
	case reflect.String:
		return "string"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "integer"
	case reflect.Float32, reflect.Float64:
		return "number"
	case reflect.Bool:
		return "boolean"
	case reflect.Slice, reflect.Array:
		return "array"
	case reflect.Map, reflect.Struct:
		return "object"
	case reflect.Ptr:
		return jsonType(t.Elem())
	default:
		return "string"
	}
}

func matchesType(value any, wantType string) bool {
	if value == nil {
		return true
	}

	switch wantType {
	case "string":
		_, ok := value.(string)
		return ok
	case "integer":
		switch v := value.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
			return true
		case float64: // json.Unmarshal decodes all numbers to float64
			return v == float64(int64(v))
		}
		return false
	case "number":
		switch value.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64,
			float32, float64:
			return true
		}
		return false
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "array":
		_, ok := value.([]any)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	default:
		return true
	}
}
