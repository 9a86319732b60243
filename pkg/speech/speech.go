// Package speech is the channel to the realtime speech engine: ephemeral
// credential minting for the broker, the websocket client used by voice
// clients, and the control-message types both share.
//
// The engine is configured with exactly one callable capability, delegate,
// which hands a request to the supervisor agent. Everything the engine can
// answer natively stays at its own latency; the capability is the only
// escape hatch.
package speech

import "github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/core/types"

const (
	// DefaultBaseURL is the default speech-engine endpoint.
	DefaultBaseURL = "https://api.openai.com"

	// DefaultModel is the realtime model used when none is configured.
	DefaultModel = "gpt-realtime"

	// DefaultVoice is the synthesized voice used when none is configured.
	DefaultVoice = "marin"

	// CapabilityDelegate is the single capability exposed to the engine.
	CapabilityDelegate = "delegate"

	// audioFormat is the only audio encoding the bridge speaks: 16-bit
	// little-endian PCM at 24 kHz mono.
	audioFormat = "pcm16"
)

// DelegateArgs are the parsed arguments of a delegate invocation.
type DelegateArgs struct {
	// UserRequest is the user's ask in their own words.
	UserRequest string `json:"user_request"`

	// ConversationSummary is the engine's short running summary of the
	// conversation, carried across the delegation boundary.
	ConversationSummary string `json:"conversation_summary,omitempty"`

	// ContextDepth optionally hints how much retrieval the request needs:
	// minimal, standard, or deep.
	ContextDepth string `json:"context_depth,omitempty"`
}

// DelegateCapability returns the capability definition registered with the
// engine via session.update.
func DelegateCapability() Capability {
	return Capability{
		Type: "function",
		Name: CapabilityDelegate,
		Description: "Delegate the user's request to the supervisor agent. " +
			"Call this for anything that needs memory, account data, or an action: " +
			"planning a route, logging an expense, booking something, or looking anything up. " +
			"Answer greetings and small talk yourself.",
		Parameters: &types.JSONSchema{
			Type: "object",
			Properties: map[string]types.JSONSchema{
				"user_request": {
					Type:        "string",
					Description: "The user's request in their own words.",
				},
				"conversation_summary": {
					Type:        "string",
					Description: "One or two sentences summarizing the conversation so far.",
				},
				"context_depth": {
					Type:        "string",
					Description: "How much stored context the request needs.",
					Enum:        []string{"minimal", "standard", "deep"},
				},
			},
			Required: []string{"user_request"},
		},
	}
}

// Capability is a callable tool in the engine's session configuration.
type Capability struct {
	Type        string            `json:"type"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Parameters  *types.JSONSchema `json:"parameters"`
}

// SessionConfig selects the engine session's voice and behavior. The audio
// format and the delegate capability are fixed by the bridge and not
// configurable per session.
type SessionConfig struct {
	Voice        string
	Language     string
	Instructions string
}
