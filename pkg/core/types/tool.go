package types

// ToolInvocation is a request from the reasoning engine to execute a named
// tool. The invocation id is engine-assigned and opaque; it must be echoed
// unchanged on the paired ToolResult.
type ToolInvocation struct {
	ID        string         `json:"invocation_id"`
	Name      string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments"`
	TurnID    string         `json:"turn_id,omitempty"`
}

// ToolResult is the outcome of executing a ToolInvocation. Exactly one
// ToolResult is produced per invocation, carrying the matching id, before the
// next reasoning-engine call is issued for the session.
type ToolResult struct {
	InvocationID string         `json:"invocation_id"`
	Success      bool           `json:"success"`
	Payload      map[string]any `json:"payload,omitempty"`
	Error        string         `json:"error,omitempty"`
}

// ToolFailure builds a failed result for an invocation.
func ToolFailure(invocationID, message string) ToolResult {
	return ToolResult{
		InvocationID: invocationID,
		Success:      false,
		Error:        message,
	}
}

// ToolSuccess builds a successful result for an invocation.
func ToolSuccess(invocationID string, payload map[string]any) ToolResult {
	return ToolResult{
		InvocationID: invocationID,
		Success:      true,
		Payload:      payload,
	}
}

// JSONSchema describes a tool's argument contract. It is the subset of JSON
// Schema the dispatcher validates and the reasoning engine consumes.
type JSONSchema struct {
	Type                 string                `json:"type"`
	Properties           map[string]JSONSchema `json:"properties,omitempty"`
	Required             []string              `json:"required,omitempty"`
	Description          string                `json:"description,omitempty"`
	Enum                 []string              `json:"enum,omitempty"`
	Items                *JSONSchema           `json:"items,omitempty"`
	AdditionalProperties *bool                 `json:"additionalProperties,omitempty"`
}
