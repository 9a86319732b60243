package tools

import (
	"fmt"
	"math"
	"strings"

	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/core"
	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/core/types"
)

// ValidateArgs checks an invocation's arguments against a tool's declared
// schema. It covers the subset tools declare: object, string, number,
// integer, boolean and array types, required fields, enums, and array item
// types. The returned error is a validation error naming the offending
// field; validation always runs before execution.
func ValidateArgs(schema *types.JSONSchema, args map[string]any) error {
	if schema == nil {
		return nil
	}
	if args == nil {
		args = map[string]any{}
	}
	if err := validateValue(schema, args, ""); err != nil {
		return err
	}
	return nil
}

func validateValue(schema *types.JSONSchema, value any, path string) *core.Error {
	switch schema.Type {
	case "object":
		obj, ok := value.(map[string]any)
		if !ok {
			return core.NewValidationError(fmt.Sprintf("field %q must be an object", displayPath(path)), path)
		}
		for _, req := range schema.Required {
			if _, present := obj[req]; !present {
				p := joinPath(path, req)
				return core.NewValidationError(fmt.Sprintf("missing required field %q", p), p)
			}
		}
		for key, val := range obj {
			prop, declared := schema.Properties[key]
			if !declared {
				if schema.AdditionalProperties != nil && !*schema.AdditionalProperties {
					p := joinPath(path, key)
					return core.NewValidationError(fmt.Sprintf("unexpected field %q", p), p)
				}
				continue
			}
			if err := validateValue(&prop, val, joinPath(path, key)); err != nil {
				return err
			}
		}
	case "string":
		s, ok := value.(string)
		if !ok {
			return core.NewValidationError(fmt.Sprintf("field %q must be a string", displayPath(path)), path)
		}
		if len(schema.Enum) > 0 && !containsString(schema.Enum, s) {
			return core.NewValidationError(
				fmt.Sprintf("field %q must be one of: %s", displayPath(path), strings.Join(schema.Enum, ", ")), path)
		}
	case "number":
		if _, ok := asNumber(value); !ok {
			return core.NewValidationError(fmt.Sprintf("field %q must be a number", displayPath(path)), path)
		}
	case "integer":
		f, ok := asNumber(value)
		if !ok || math.Trunc(f) != f {
			return core.NewValidationError(fmt.Sprintf("field %q must be an integer", displayPath(path)), path)
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return core.NewValidationError(fmt.Sprintf("field %q must be a boolean", displayPath(path)), path)
		}
	case "array":
		arr, ok := value.([]any)
		if !ok {
			return core.NewValidationError(fmt.Sprintf("field %q must be an array", displayPath(path)), path)
		}
		if schema.Items != nil {
			for i, el := range arr {
				if err := validateValue(schema.Items, el, fmt.Sprintf("%s[%d]", path, i)); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// asNumber accepts the numeric shapes arguments arrive in: float64 from JSON
// decoding, native ints when constructed in-process.
func asNumber(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func joinPath(base, key string) string {
	if base == "" {
		return key
	}
	return base + "." + key
}

func displayPath(path string) string {
	if path == "" {
		return "arguments"
	}
	return path
}
