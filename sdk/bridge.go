package voicebridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/core"
	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/gateway/protocol"
)

// BridgeEvent is a low-level event from the bridge channel.
type BridgeEvent interface {
	bridgeEventType() string
}

type BridgeHelloAckEvent struct{ Ack protocol.ServerHelloAck }

func (e BridgeHelloAckEvent) bridgeEventType() string { return "hello_ack" }

type BridgeSupervisorResponseEvent struct {
	Response protocol.ServerSupervisorResponse
}

func (e BridgeSupervisorResponseEvent) bridgeEventType() string { return "supervisor_response" }

type BridgeWarningEvent struct{ Warning protocol.ServerWarning }

func (e BridgeWarningEvent) bridgeEventType() string { return "warning" }

type BridgeErrorEvent struct{ Error protocol.ServerError }

func (e BridgeErrorEvent) bridgeEventType() string { return "error" }

type BridgeUnknownEvent struct {
	Type string
	Raw  json.RawMessage
}

func (e BridgeUnknownEvent) bridgeEventType() string { return e.Type }

// BridgeSession is the client side of the bridge channel: hello/ack done,
// typed frames in both directions.
type BridgeSession struct {
	conn *websocket.Conn
	ack  protocol.ServerHelloAck

	events chan BridgeEvent
	done   chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool

	errMu sync.Mutex
	err   error
}

// ConnectBridge dials the bridge endpoint from a session grant, performs the
// hello exchange, and returns the live session.
func (c *Client) ConnectBridge(ctx context.Context, grant *SessionGrant, info protocol.HelloClient) (*BridgeSession, error) {
	if grant == nil || strings.TrimSpace(grant.BridgeEndpoint) == "" {
		return nil, core.NewInvalidRequestError("session grant has no bridge endpoint")
	}

	dialCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, c.connectTimeout)
		defer cancel()
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(dialCtx, grant.BridgeEndpoint, nil)
	if err != nil {
		if resp != nil {
			return nil, &TransportError{Op: "GET", URL: grant.BridgeEndpoint,
				Err: fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err)}
		}
		return nil, &TransportError{Op: "GET", URL: grant.BridgeEndpoint, Err: err}
	}

	hello := protocol.ClientHello{
		Type:            "hello",
		ProtocolVersion: protocol.ProtocolVersion1,
		Client:          info,
	}
	if err := conn.WriteJSON(hello); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send hello: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(c.connectTimeout))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("read hello_ack: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	first, err := decodeBridgeFrame(payload)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	switch e := first.(type) {
	case BridgeHelloAckEvent:
		s := &BridgeSession{
			conn:   conn,
			ack:    e.Ack,
			events: make(chan BridgeEvent, 64),
			done:   make(chan struct{}),
		}
		go s.readLoop()
		return s, nil
	case BridgeErrorEvent:
		_ = conn.Close()
		return nil, &core.Error{
			Type:    core.ErrAPI,
			Message: strings.TrimSpace(e.Error.Message),
			Code:    strings.TrimSpace(e.Error.Code),
		}
	default:
		_ = conn.Close()
		return nil, fmt.Errorf("unexpected first bridge frame %q", first.bridgeEventType())
	}
}

// Ack returns the server's hello acknowledgement.
func (s *BridgeSession) Ack() protocol.ServerHelloAck {
	return s.ack
}

// Events yields decoded bridge frames. The channel closes when the
// connection ends.
func (s *BridgeSession) Events() <-chan BridgeEvent {
	if s == nil {
		return nil
	}
	return s.events
}

// SendTranscript mirrors a finalized or partial transcript to the bridge.
func (s *BridgeSession) SendTranscript(turn int64, role, text string, final bool) error {
	return s.sendJSON(protocol.ClientTranscript{
		Type:  "transcript",
		Turn:  turn,
		Role:  role,
		Text:  text,
		Final: final,
	})
}

// SendSupervisorRequest forwards a delegate invocation to the bridge.
func (s *BridgeSession) SendSupervisorRequest(req protocol.ClientSupervisorRequest) error {
	req.Type = "supervisor_request"
	return s.sendJSON(req)
}

// SendPlayback reports a playback scheduler edge.
func (s *BridgeSession) SendPlayback(turn int64, state string, scheduledEndMS *int64) error {
	return s.sendJSON(protocol.ClientPlayback{
		Type:           "playback",
		Turn:           turn,
		State:          state,
		ScheduledEndMS: scheduledEndMS,
	})
}

// SendBargeIn reports that the user spoke over the assistant during turn.
func (s *BridgeSession) SendBargeIn(turn int64) error {
	return s.sendJSON(protocol.ClientBargeIn{Type: "barge_in", Turn: turn})
}

// EndSession asks the bridge for an orderly close.
func (s *BridgeSession) EndSession() error {
	return s.sendJSON(protocol.ClientEndSession{Type: "end_session"})
}

func (s *BridgeSession) sendJSON(v any) error {
	if s == nil {
		return fmt.Errorf("bridge session must not be nil")
	}
	if s.closed.Load() {
		return fmt.Errorf("bridge session is closed")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(v)
}

// Close closes the websocket session and waits for the read loop to exit.
func (s *BridgeSession) Close() error {
	if s == nil {
		return nil
	}
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(2*time.Second))
		s.writeMu.Unlock()
		_ = s.conn.Close()
	})
	<-s.done
	return nil
}

// Err returns the terminal session error, nil for a clean close.
func (s *BridgeSession) Err() error {
	if s == nil {
		return nil
	}
	<-s.done
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *BridgeSession) setErr(err error) {
	if err == nil {
		return
	}
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *BridgeSession) readLoop() {
	defer close(s.done)
	defer close(s.events)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.closed.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			s.setErr(err)
			return
		}

		event, err := decodeBridgeFrame(data)
		if err != nil {
			s.setErr(err)
			return
		}
		if errEvent, ok := event.(BridgeErrorEvent); ok && errEvent.Error.Fatal {
			s.setErr(&core.Error{
				Type:    core.ErrAPI,
				Message: strings.TrimSpace(errEvent.Error.Message),
				Code:    strings.TrimSpace(errEvent.Error.Code),
			})
		}

		select {
		case s.events <- event:
		case <-time.After(5 * time.Second):
			// The consumer stopped draining; better to drop a frame than to
			// wedge the read loop and miss the close handshake.
		}
	}
}

func decodeBridgeFrame(data []byte) (BridgeEvent, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("decode bridge frame: %w", err)
	}

	switch strings.TrimSpace(envelope.Type) {
	case "hello_ack":
		var ack protocol.ServerHelloAck
		if err := json.Unmarshal(data, &ack); err != nil {
			return nil, fmt.Errorf("decode hello_ack: %w", err)
		}
		return BridgeHelloAckEvent{Ack: ack}, nil
	case "supervisor_response":
		var resp protocol.ServerSupervisorResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			return nil, fmt.Errorf("decode supervisor_response: %w", err)
		}
		return BridgeSupervisorResponseEvent{Response: resp}, nil
	case "warning":
		var warning protocol.ServerWarning
		if err := json.Unmarshal(data, &warning); err != nil {
			return nil, fmt.Errorf("decode warning: %w", err)
		}
		return BridgeWarningEvent{Warning: warning}, nil
	case "error":
		var serverErr protocol.ServerError
		if err := json.Unmarshal(data, &serverErr); err != nil {
			return nil, fmt.Errorf("decode error frame: %w", err)
		}
		return BridgeErrorEvent{Error: serverErr}, nil
	default:
		return BridgeUnknownEvent{
			Type: strings.TrimSpace(envelope.Type),
			Raw:  append(json.RawMessage(nil), data...),
		}, nil
	}
}
