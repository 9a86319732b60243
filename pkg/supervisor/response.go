package supervisor

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/core/types"
)

// engineResponse matches the engine's Messages API response format.
type engineResponse struct {
	ID           string            `json:"id"`
	Type         string            `json:"type"`
	Role         string            `json:"role"`
	Model        string            `json:"model"`
	Content      []json.RawMessage `json:"content"`
	StopReason   string            `json:"stop_reason"`
	StopSequence *string           `json:"stop_sequence,omitempty"`
	Usage        types.Usage       `json:"usage"`
}

// blockHeader is the discriminator probe for a content block.
type blockHeader struct {
	Type string `json:"type"`
}

type toolUseBlock struct {
	Type  string         `json:"type"`
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

// parseResponse turns an engine response body into a Reply carrying the
// extended conversation for a possible continuation.
func parseResponse(body []byte, conv conversation) (*Reply, error) {
	var engResp engineResponse
	if err := json.Unmarshal(body, &engResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	var text strings.Builder
	var invocations []types.ToolInvocation

	for _, raw := range engResp.Content {
		var header blockHeader
		if err := json.Unmarshal(raw, &header); err != nil {
			continue
		}

		switch header.Type {
		case "text":
			var block textBlock
			if err := json.Unmarshal(raw, &block); err != nil {
				continue
			}
			text.WriteString(block.Text)

		case "tool_use":
			var block toolUseBlock
			if err := json.Unmarshal(raw, &block); err != nil {
				continue
			}
			invocations = append(invocations, types.ToolInvocation{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: block.Input,
			})

		default:
			// Unknown block types are skipped rather than failing the turn.
		}
	}

	return &Reply{
		Text:        text.String(),
		Invocations: invocations,
		StopReason:  engResp.StopReason,
		Usage:       engResp.Usage,
		conv:        conv.withAssistant(engResp.Content),
	}, nil
}
