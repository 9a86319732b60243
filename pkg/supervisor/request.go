package supervisor

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/core"
	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/core/types"
	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/tools"
)

// engineRequest is the engine's Messages API request format.
type engineRequest struct {
	Model     string        `json:"model"`
	Messages  []messageJSON `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
	System    string        `json:"system,omitempty"`
	Tools     []engineTool  `json:"tools,omitempty"`
}

// messageJSON is the wire format for messages. Content stays raw so an
// assistant reply can be echoed back verbatim on continuation, tool_use ids
// and all.
type messageJSON struct {
	Role    string            `json:"role"`
	Content []json.RawMessage `json:"content"`
}

// engineTool is a tool definition in the engine's format.
type engineTool struct {
	Type        string            `json:"type"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	InputSchema *types.JSONSchema `json:"input_schema"`
}

type textBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type toolResultBlock struct {
	Type      string `json:"type"`
	ToolUseID string `json:"tool_use_id"`
	Content   string `json:"content"`
	IsError   bool   `json:"is_error,omitempty"`
}

// conversation is the accumulated wire state of one delegation exchange. It
// rides along on each Reply so a continuation resends the same system prompt
// and tool catalog with the grown message list.
type conversation struct {
	system   string
	tools    []engineTool
	messages []messageJSON
}

// withAssistant returns the conversation extended by the engine's reply.
func (cv conversation) withAssistant(content []json.RawMessage) conversation {
	next := cv
	next.messages = append(next.messages[:len(next.messages):len(next.messages)],
		messageJSON{Role: "assistant", Content: content})
	return next
}

// withResults returns the conversation extended by one user message carrying
// the paired tool results.
func (cv conversation) withResults(blocks []json.RawMessage) conversation {
	next := cv
	next.messages = append(next.messages[:len(next.messages):len(next.messages)],
		messageJSON{Role: "user", Content: blocks})
	return next
}

func (c *Client) buildRequest(conv conversation) *engineRequest {
	return &engineRequest{
		Model:     c.model,
		Messages:  conv.messages,
		MaxTokens: c.maxTokens,
		System:    conv.system,
		Tools:     conv.tools,
	}
}

// systemPreamble fixes the engine's register: replies are read aloud by a
// speech engine, so they have to work as speech.
const systemPreamble = `You are the supervisor agent behind a hands-free voice assistant for an RV travel and budgeting app. Your replies are spoken aloud to the user: answer in one or two short sentences, plain prose, no markdown, no lists. When the user asks for an action, use the provided tools; never claim an action happened without a successful tool result.`

// buildSystem assembles the system prompt from the session's ambient facts
// and the retrieved context summary.
func buildSystem(rc types.RuntimeContext, bundle types.ContextBundle) string {
	var b strings.Builder
	b.WriteString(systemPreamble)

	var facts []string
	if rc.DisplayName != "" {
		facts = append(facts, fmt.Sprintf("The user's name is %s.", rc.DisplayName))
	}
	if rc.Language != "" {
		facts = append(facts, fmt.Sprintf("Reply in %s.", rc.Language))
	}
	if rc.Timezone != "" {
		facts = append(facts, fmt.Sprintf("The user's timezone is %s.", rc.Timezone))
	}
	if rc.Location != nil {
		if rc.Location.PlaceName != "" {
			facts = append(facts, fmt.Sprintf("The user is near %s (%.4f, %.4f).",
				rc.Location.PlaceName, rc.Location.Lat, rc.Location.Lng))
		} else {
			facts = append(facts, fmt.Sprintf("The user is at (%.4f, %.4f).",
				rc.Location.Lat, rc.Location.Lng))
		}
	}
	if rc.IsVoice {
		facts = append(facts, "The user is speaking by voice and may be driving; keep it brief.")
	}
	if len(facts) > 0 {
		b.WriteString("\n\n")
		b.WriteString(strings.Join(facts, " "))
	}

	if bundle.Summary != "" {
		b.WriteString("\n\nContext from earlier conversations:\n")
		b.WriteString(bundle.Summary)
	}

	return b.String()
}

// convertHistory frames conversation turns as engine messages. Tool turns
// from prior exchanges are replayed as labeled user text rather than
// tool_use blocks, so the engine sees what already happened without a
// dangling tool call it never made in this exchange.
func convertHistory(history []types.Turn) []messageJSON {
	result := make([]messageJSON, 0, len(history))

	for _, turn := range history {
		role := "user"
		text := turn.Text

		switch turn.Role {
		case types.RoleAssistant:
			role = "assistant"
		case types.RoleTool:
			text = "[tool outcome] " + text
		}

		block, err := json.Marshal(textBlock{Type: "text", Text: text})
		if err != nil {
			continue
		}
		result = append(result, messageJSON{
			Role:    role,
			Content: []json.RawMessage{block},
		})
	}

	return result
}

// convertTools serializes the prefiltered catalog into the engine's tool
// format. The engine requires an input schema on every tool, so a definition
// without one gets an open object schema.
func convertTools(defs []tools.Definition) []engineTool {
	if len(defs) == 0 {
		return nil
	}

	result := make([]engineTool, 0, len(defs))
	for _, def := range defs {
		schema := def.InputSchema
		if schema == nil {
			schema = &types.JSONSchema{Type: "object"}
		}
		result = append(result, engineTool{
			Type:        "custom",
			Name:        def.Name,
			Description: def.Description,
			InputSchema: schema,
		})
	}
	return result
}

// pairResults validates the one-result-per-invocation contract and renders
// the results as tool_result blocks in invocation order.
func pairResults(invocations []types.ToolInvocation, results []types.ToolResult) ([]json.RawMessage, error) {
	if len(results) != len(invocations) {
		return nil, core.NewProtocolError(fmt.Sprintf(
			"expected %d tool results, got %d", len(invocations), len(results)))
	}

	byID := make(map[string]types.ToolResult, len(results))
	for _, res := range results {
		if _, dup := byID[res.InvocationID]; dup {
			return nil, core.NewProtocolError(fmt.Sprintf(
				"duplicate result for invocation %s", res.InvocationID))
		}
		byID[res.InvocationID] = res
	}

	blocks := make([]json.RawMessage, 0, len(invocations))
	for _, inv := range invocations {
		res, ok := byID[inv.ID]
		if !ok {
			return nil, core.NewProtocolError(fmt.Sprintf(
				"missing result for invocation %s", inv.ID))
		}
		block, err := json.Marshal(toolResultBlock{
			Type:      "tool_result",
			ToolUseID: inv.ID,
			Content:   resultContent(res),
			IsError:   !res.Success,
		})
		if err != nil {
			return nil, fmt.Errorf("marshal tool result: %w", err)
		}
		blocks = append(blocks, block)
	}
	return blocks, nil
}

// resultContent renders a tool result as the text the engine reads.
func resultContent(res types.ToolResult) string {
	if !res.Success {
		if res.Error != "" {
			return res.Error
		}
		return "tool execution failed"
	}
	if len(res.Payload) == 0 {
		return "ok"
	}
	payload, err := json.Marshal(res.Payload)
	if err != nil {
		return "ok"
	}
	return string(payload)
}
