// Package protocol defines the JSON wire messages of the bridge channel and
// their decoding. The speech-engine channel has its own provider-defined
// protocol and is spoken by pkg/speech; everything here is between this
// service and the voice client.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/core/types"
)

const (
	ProtocolVersion1 = "1"

	PlaybackStarted  = "started"
	PlaybackFinished = "finished"
)

// DecodeError reports a frame the client sent that could not be accepted.
type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

func unsupported(message, param string) *DecodeError {
	return &DecodeError{Code: "unsupported", Message: message, Param: param}
}

// HelloClient identifies the connecting client build, for logs only.
type HelloClient struct {
	Name     string `json:"name,omitempty"`
	Version  string `json:"version,omitempty"`
	Platform string `json:"platform,omitempty"`
}

// ClientHello is the first frame on the bridge channel.
type ClientHello struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	Client          HelloClient `json:"client,omitempty"`
}

// ClientTranscript mirrors a speech-engine transcript event to the bridge so
// the conversation log and turn state stay server-side.
type ClientTranscript struct {
	Type  string `json:"type"`
	Turn  int64  `json:"turn"`
	Role  string `json:"role"`
	Text  string `json:"text"`
	Final bool   `json:"final"`
}

// DelegationContext carries engine-supplied hints that overlay the session's
// runtime context for one delegation.
type DelegationContext struct {
	Language string          `json:"language,omitempty"`
	Timezone string          `json:"timezone,omitempty"`
	Location *types.Location `json:"location,omitempty"`
}

// ClientSupervisorRequest forwards the speech engine's delegate invocation:
// the one capability the engine holds. DelegationID is the engine-assigned
// invocation id and must be unique within the session.
type ClientSupervisorRequest struct {
	Type                string             `json:"type"`
	DelegationID        string             `json:"delegation_id"`
	Turn                int64              `json:"turn"`
	UserRequest         string             `json:"user_request"`
	ConversationSummary string             `json:"conversation_summary,omitempty"`
	Context             *DelegationContext `json:"context,omitempty"`
}

// ClientPlayback reports playback scheduler edges so the session state
// machine can track SPEAKING.
type ClientPlayback struct {
	Type           string `json:"type"`
	Turn           int64  `json:"turn"`
	State          string `json:"state"`
	ScheduledEndMS *int64 `json:"scheduled_end_ms,omitempty"`
}

// ClientBargeIn reports that the user started speaking over the assistant.
// Turn is the turn being interrupted.
type ClientBargeIn struct {
	Type string `json:"type"`
	Turn int64  `json:"turn"`
}

// ClientEndSession asks for an orderly close.
type ClientEndSession struct {
	Type string `json:"type"`
}

// DecodeClientMessage decodes one inbound bridge frame into its typed
// message. Unknown types and invalid fields return a DecodeError.
func DecodeClientMessage(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badRequest("missing type", "type")
	}

	switch typ {
	case "hello":
		var msg ClientHello
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid hello frame", "")
		}
		if err := ValidateHello(msg); err != nil {
			return nil, err
		}
		return msg, nil
	case "transcript":
		var msg ClientTranscript
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid transcript frame", "")
		}
		if msg.Turn < 0 {
			return nil, badRequest("transcript.turn must be >= 0", "turn")
		}
		switch msg.Role {
		case string(types.RoleUser), string(types.RoleAssistant):
		default:
			return nil, badRequest("transcript.role must be user or assistant", "role")
		}
		return msg, nil
	case "supervisor_request":
		var msg ClientSupervisorRequest
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid supervisor_request frame", "")
		}
		if strings.TrimSpace(msg.DelegationID) == "" {
			return nil, badRequest("supervisor_request.delegation_id is required", "delegation_id")
		}
		if msg.Turn < 0 {
			return nil, badRequest("supervisor_request.turn must be >= 0", "turn")
		}
		if strings.TrimSpace(msg.UserRequest) == "" {
			return nil, badRequest("supervisor_request.user_request is required", "user_request")
		}
		return msg, nil
	case "playback":
		var msg ClientPlayback
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid playback frame", "")
		}
		if msg.Turn < 0 {
			return nil, badRequest("playback.turn must be >= 0", "turn")
		}
		switch msg.State {
		case PlaybackStarted, PlaybackFinished:
		default:
			return nil, badRequest("playback.state must be started or finished", "state")
		}
		if msg.ScheduledEndMS != nil && *msg.ScheduledEndMS < 0 {
			return nil, badRequest("playback.scheduled_end_ms must be >= 0", "scheduled_end_ms")
		}
		return msg, nil
	case "barge_in":
		var msg ClientBargeIn
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid barge_in frame", "")
		}
		if msg.Turn < 0 {
			return nil, badRequest("barge_in.turn must be >= 0", "turn")
		}
		return msg, nil
	case "end_session":
		var msg ClientEndSession
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid end_session frame", "")
		}
		return msg, nil
	default:
		return nil, unsupported("unsupported message type", "type")
	}
}

// ValidateHello checks the hello frame's required fields. Version mismatch
// is the connection handler's call, not a decode failure.
func ValidateHello(msg ClientHello) error {
	if strings.TrimSpace(msg.ProtocolVersion) == "" {
		return badRequest("hello.protocol_version is required", "protocol_version")
	}
	return nil
}

// ServerHelloAck confirms the session. ExpiresAt is RFC 3339; clients reject
// numeric timestamps, so the field is a string by construction.
type ServerHelloAck struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	SessionID       string `json:"session_id"`
	ExpiresAt       string `json:"expires_at"`
	HeartbeatSec    int    `json:"heartbeat_sec"`
}

// ServerSupervisorResponse settles one delegation.
type ServerSupervisorResponse struct {
	Type         string             `json:"type"`
	DelegationID string             `json:"delegation_id"`
	Turn         int64              `json:"turn"`
	Text         string             `json:"text"`
	ToolResults  []types.ToolResult `json:"tool_results,omitempty"`
}

// ServerWarning is a non-fatal notice; the session continues.
type ServerWarning struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ServerError reports a failure. Fatal means the server closes the
// connection after sending it.
type ServerError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Fatal   bool   `json:"fatal"`
}
