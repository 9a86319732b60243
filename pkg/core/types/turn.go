package types

import "time"

// Role identifies the speaker of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Turn is one utterance in a session's conversation. Turns are append-only:
// once created they are never mutated, and within a session they are strictly
// ordered by creation.
type Turn struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`

	// AudioRef optionally points at the byte range of the recorded audio for
	// this turn in the session's audio log.
	AudioRef *AudioRange `json:"audio_ref,omitempty"`
}

// AudioRange is a byte range into a session audio log.
type AudioRange struct {
	Offset int64 `json:"offset"`
	Length int64 `json:"length"`
}
