package speech

import (
	"encoding/json"
	"fmt"
)

// serverEvent is the engine's wire envelope. The engine multiplexes every
// event type through one JSON shape; unused fields stay empty.
type serverEvent struct {
	Type         string          `json:"type"`
	EventID      string          `json:"event_id,omitempty"`
	Delta        string          `json:"delta,omitempty"`
	Transcript   string          `json:"transcript,omitempty"`
	ResponseID   string          `json:"response_id,omitempty"`
	ItemID       string          `json:"item_id,omitempty"`
	CallID       string          `json:"call_id,omitempty"`
	Name         string          `json:"name,omitempty"`
	Arguments    string          `json:"arguments,omitempty"`
	AudioStartMs int             `json:"audio_start_ms,omitempty"`
	Response     *responseStatus `json:"response,omitempty"`
	Error        *EngineError    `json:"error,omitempty"`
}

type responseStatus struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// EngineError is an error payload from the engine.
type EngineError struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (e *EngineError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("speech engine: %s: %s (code: %s)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("speech engine: %s: %s", e.Type, e.Message)
}

// EventType classifies engine events the bridge client acts on.
type EventType string

const (
	// EventSessionCreated and EventSessionUpdated acknowledge the session
	// handshake and configuration.
	EventSessionCreated EventType = "session_created"
	EventSessionUpdated EventType = "session_updated"

	// EventUserTranscriptDelta carries a partial user transcript;
	// EventUserTranscript carries the finalized one.
	EventUserTranscriptDelta EventType = "user_transcript_delta"
	EventUserTranscript      EventType = "user_transcript"

	// EventAudioDelta carries a decoded PCM chunk of the engine's spoken
	// reply.
	EventAudioDelta EventType = "audio_delta"

	// EventReplyTranscriptDelta carries the text of what the engine is
	// saying as it says it.
	EventReplyTranscriptDelta EventType = "reply_transcript_delta"

	// EventResponseDone marks the end of an engine response, completed or
	// cancelled.
	EventResponseDone EventType = "response_done"

	// EventCapabilityInvoked fires when the engine calls the delegate
	// capability.
	EventCapabilityInvoked EventType = "capability_invoked"

	// EventSpeechStarted and EventSpeechStopped are the engine's voice
	// activity marks on the inbound audio. SpeechStarted during playback is
	// the engine-side barge-in signal.
	EventSpeechStarted EventType = "speech_started"
	EventSpeechStopped EventType = "speech_stopped"

	// EventEngineError carries a non-fatal engine error payload.
	EventEngineError EventType = "engine_error"
)

// Event is one engine event, decoded and ready to act on.
type Event struct {
	Type EventType

	// Text carries transcript text for transcript events.
	Text string

	// Audio carries decoded PCM for EventAudioDelta.
	Audio []byte

	// ResponseID identifies the engine response an event belongs to.
	ResponseID string

	// Cancelled is set on EventResponseDone when the response was cut off
	// rather than finishing.
	Cancelled bool

	// Invocation is set on EventCapabilityInvoked.
	Invocation *CapabilityInvocation

	// Err is set on EventEngineError.
	Err *EngineError
}

// CapabilityInvocation is the engine calling the delegate capability.
// Arguments is the raw JSON the engine produced.
type CapabilityInvocation struct {
	CallID    string
	Name      string
	Arguments string
}

// DelegateArgs parses the invocation's arguments.
func (ci CapabilityInvocation) DelegateArgs() (DelegateArgs, error) {
	var args DelegateArgs
	if err := json.Unmarshal([]byte(ci.Arguments), &args); err != nil {
		return DelegateArgs{}, fmt.Errorf("parse delegate arguments: %w", err)
	}
	return args, nil
}

// Client-to-engine control messages.

type sessionUpdateMsg struct {
	Type    string         `json:"type"`
	Session sessionPayload `json:"session"`
}

type sessionPayload struct {
	Modalities         []string           `json:"modalities"`
	Voice              string             `json:"voice,omitempty"`
	Instructions       string             `json:"instructions,omitempty"`
	InputAudioFormat   string             `json:"input_audio_format"`
	OutputAudioFormat  string             `json:"output_audio_format"`
	InputTranscription *transcriptionConf `json:"input_audio_transcription,omitempty"`
	TurnDetection      *turnDetectionConf `json:"turn_detection,omitempty"`
	Tools              []Capability       `json:"tools"`
	ToolChoice         string             `json:"tool_choice,omitempty"`
}

type transcriptionConf struct {
	Language string `json:"language,omitempty"`
}

type turnDetectionConf struct {
	Type string `json:"type"`
}

type audioAppendMsg struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

type responseCreateMsg struct {
	Type string `json:"type"`
}

type responseCancelMsg struct {
	Type string `json:"type"`
}

type itemCreateMsg struct {
	Type string         `json:"type"`
	Item capabilityItem `json:"item"`
}

type capabilityItem struct {
	Type   string `json:"type"`
	CallID string `json:"call_id"`
	Output string `json:"output"`
}
