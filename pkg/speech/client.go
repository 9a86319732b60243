package speech

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Client is a live websocket session with the speech engine. Audio goes in
// through AppendAudio, decoded events come out on Events. One goroutine owns
// the read side; writes are serialized by a mutex.
type Client struct {
	conn    *websocket.Conn
	events  chan Event
	stop    chan struct{}
	done    chan struct{}
	closed  atomic.Bool
	writeMu sync.Mutex
	logger  *slog.Logger

	errMu sync.Mutex
	err   error
}

// Dial connects to an engine endpoint minted by the broker. The endpoint
// carries the ephemeral credential as a query parameter, so no headers are
// needed.
func Dial(ctx context.Context, endpoint string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, resp, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			if len(body) > 0 {
				return nil, fmt.Errorf("engine connect (status %d): %s", resp.StatusCode, string(body))
			}
			return nil, fmt.Errorf("engine connect: status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("engine connect: %w", err)
	}

	c := &Client{
		conn:   conn,
		events: make(chan Event, 100),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		logger: logger,
	}

	go c.readLoop()

	return c, nil
}

// ConfigureSession registers the session's voice, language, and the single
// delegate capability. Call once after dialing, before any audio.
func (c *Client) ConfigureSession(cfg SessionConfig) error {
	voice := cfg.Voice
	if voice == "" {
		voice = DefaultVoice
	}

	var transcription *transcriptionConf
	if cfg.Language != "" {
		transcription = &transcriptionConf{Language: cfg.Language}
	}

	return c.sendJSON(sessionUpdateMsg{
		Type: "session.update",
		Session: sessionPayload{
			Modalities:         []string{"audio", "text"},
			Voice:              voice,
			Instructions:       cfg.Instructions,
			InputAudioFormat:   audioFormat,
			OutputAudioFormat:  audioFormat,
			InputTranscription: transcription,
			TurnDetection:      &turnDetectionConf{Type: "server_vad"},
			Tools:              []Capability{DelegateCapability()},
			ToolChoice:         "auto",
		},
	})
}

// AppendAudio streams one PCM frame to the engine's input buffer.
func (c *Client) AppendAudio(pcm []byte) error {
	return c.sendJSON(audioAppendMsg{
		Type:  "input_audio_buffer.append",
		Audio: base64.StdEncoding.EncodeToString(pcm),
	})
}

// CreateResponse asks the engine to respond now. With server-side turn
// detection the engine mostly decides this itself; the explicit nudge is
// used after a capability result is submitted.
func (c *Client) CreateResponse() error {
	return c.sendJSON(responseCreateMsg{Type: "response.create"})
}

// CancelResponse cuts off the in-progress engine response. This is the
// barge-in path; the engine stops synthesizing and the response finishes
// with a cancelled status.
func (c *Client) CancelResponse() error {
	return c.sendJSON(responseCancelMsg{Type: "response.cancel"})
}

// SubmitCapabilityResult returns a delegate outcome to the engine. The
// caller follows with CreateResponse so the engine speaks it.
func (c *Client) SubmitCapabilityResult(callID, output string) error {
	return c.sendJSON(itemCreateMsg{
		Type: "conversation.item.create",
		Item: capabilityItem{
			Type:   "function_call_output",
			CallID: callID,
			Output: output,
		},
	})
}

// Events returns the decoded engine event stream. The channel closes when
// the session ends.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Done returns a channel closed when the read loop has exited.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the terminal error after Done is closed, nil for a clean
// shutdown.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Close shuts the session down. Safe to call more than once.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	close(c.stop)

	c.writeMu.Lock()
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()

	return c.conn.Close()
}

func (c *Client) sendJSON(v any) error {
	if c.closed.Load() {
		return fmt.Errorf("session closed")
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *Client) readLoop() {
	defer func() {
		close(c.events)
		close(c.done)
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !c.closed.Load() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.setErr(fmt.Errorf("engine read: %w", err))
			}
			return
		}

		var msg serverEvent
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Debug("dropping unparseable engine event", "error", err)
			continue
		}

		ev, ok := c.convertEvent(msg)
		if !ok {
			continue
		}

		select {
		case c.events <- ev:
		case <-c.stop:
			return
		}
	}
}

// convertEvent maps a wire event onto the exported event type. Unhandled
// event types are dropped.
func (c *Client) convertEvent(msg serverEvent) (Event, bool) {
	switch msg.Type {
	case "session.created":
		return Event{Type: EventSessionCreated}, true

	case "session.updated":
		return Event{Type: EventSessionUpdated}, true

	case "conversation.item.input_audio_transcription.delta":
		return Event{Type: EventUserTranscriptDelta, Text: msg.Delta}, true

	case "conversation.item.input_audio_transcription.completed":
		return Event{Type: EventUserTranscript, Text: msg.Transcript}, true

	case "response.audio.delta":
		pcm, err := base64.StdEncoding.DecodeString(msg.Delta)
		if err != nil {
			c.logger.Warn("dropping undecodable audio delta", "error", err)
			return Event{}, false
		}
		return Event{Type: EventAudioDelta, Audio: pcm, ResponseID: msg.ResponseID}, true

	case "response.audio_transcript.delta":
		return Event{Type: EventReplyTranscriptDelta, Text: msg.Delta, ResponseID: msg.ResponseID}, true

	case "response.done":
		ev := Event{Type: EventResponseDone}
		if msg.Response != nil {
			ev.ResponseID = msg.Response.ID
			ev.Cancelled = msg.Response.Status == "cancelled"
		}
		return ev, true

	case "response.function_call_arguments.done":
		return Event{
			Type:       EventCapabilityInvoked,
			ResponseID: msg.ResponseID,
			Invocation: &CapabilityInvocation{
				CallID:    msg.CallID,
				Name:      msg.Name,
				Arguments: msg.Arguments,
			},
		}, true

	case "input_audio_buffer.speech_started":
		return Event{Type: EventSpeechStarted}, true

	case "input_audio_buffer.speech_stopped":
		return Event{Type: EventSpeechStopped}, true

	case "error":
		ev := Event{Type: EventEngineError, Err: msg.Error}
		if ev.Err == nil {
			ev.Err = &EngineError{Type: "unknown", Message: "engine sent an empty error"}
		}
		return ev, true

	default:
		return Event{}, false
	}
}

func (c *Client) setErr(err error) {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err == nil {
		c.err = err
	}
}
