// Package bridge runs the per-session coordinator on the bridge channel. One
// Session owns one websocket: a read loop decodes inbound frames, an outbound
// writer owns the write side, and the coordinator select loop owns all
// session state. Supervisor work runs on bounded workers so a slow engine
// call never blocks frame handling.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/core/types"
	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/gateway/metrics"
	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/gateway/protocol"
	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/gateway/sessions"
	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/supervisor"
	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/tools"
)

// State is the session's position in its lifecycle. Transitions are driven
// only by the coordinator loop.
type State string

const (
	StateConnecting State = "connecting"
	StateListening  State = "listening"
	StateThinking   State = "thinking"
	StateSpeaking   State = "speaking"
	StateClosed     State = "closed"
)

// maxRememberedDelegations bounds the duplicate-detection window.
const maxRememberedDelegations = 256

// SupervisorClient is the reasoning-engine surface the bridge drives.
type SupervisorClient interface {
	Generate(ctx context.Context, req supervisor.Request) (*supervisor.Reply, error)
	ContinueWithResults(ctx context.Context, prior *supervisor.Reply, results []types.ToolResult) (*supervisor.Reply, error)
}

// ContextRetriever yields the per-turn context bundle. Implementations never
// fail; degraded backends return an empty bundle.
type ContextRetriever interface {
	Retrieve(ctx context.Context, userID, utterance string, depth types.Depth) types.ContextBundle
}

// CatalogFilter narrows the tool catalog before it is offered to the engine.
type CatalogFilter interface {
	Narrow(catalog []tools.Definition, utterance string, rctx types.RuntimeContext) []tools.Definition
}

// ToolDispatcher executes one invocation and always returns a paired result.
type ToolDispatcher interface {
	Dispatch(ctx context.Context, inv types.ToolInvocation, rctx types.RuntimeContext) types.ToolResult
}

type Config struct {
	HelloTimeout      time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	PingInterval      time.Duration
	MaxMessageBytes   int64
	MaxFramesPerSec   int
	OutboundQueueSize int

	SupervisorTimeout     time.Duration
	MaxToolCallsPerTurn   int
	MaxEngineCallsPerTurn int
	SpokenApology         string
}

type Dependencies struct {
	Conn      *websocket.Conn
	Logger    *slog.Logger
	Session   sessions.Session
	RequestID string

	Supervisor SupervisorClient
	Retriever  ContextRetriever
	Filter     CatalogFilter
	Dispatcher ToolDispatcher
	Catalog    []tools.Definition

	// Workers is the process-wide supervisor worker semaphore, shared across
	// sessions. Nil means unbounded.
	Workers chan struct{}

	Metrics *metrics.Metrics
	Config  Config
	Now     func() time.Time
}

// Session is one live bridge connection.
type Session struct {
	conn       *websocket.Conn
	logger     *slog.Logger
	sess       sessions.Session
	requestID  string
	sup        SupervisorClient
	retriever  ContextRetriever
	filter     CatalogFilter
	dispatcher ToolDispatcher
	catalog    []tools.Definition
	workers    chan struct{}
	metrics    *metrics.Metrics
	cfg        Config
	now        func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	outboundPriority chan []byte
	outboundNormal   chan []byte
	resultCh         chan delegationResult

	statusMu    sync.Mutex
	closeStatus string

	// Coordinator state. Owned by the select loop; nothing else touches it.
	state              State
	turn               int64
	history            []types.Turn
	seenDelegations    map[string]int64
	delegationOrder    []string
	activeDelegationID string
	activeCancel       context.CancelFunc
	speakingUntil      time.Time
}

func New(deps Dependencies) (*Session, error) {
	if deps.Conn == nil {
		return nil, fmt.Errorf("connection is required")
	}
	if deps.Supervisor == nil {
		return nil, fmt.Errorf("supervisor client is required")
	}
	if deps.Dispatcher == nil {
		return nil, fmt.Errorf("tool dispatcher is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Config.HelloTimeout <= 0 {
		deps.Config.HelloTimeout = 5 * time.Second
	}
	if deps.Config.ReadTimeout <= 0 {
		deps.Config.ReadTimeout = time.Minute
	}
	if deps.Config.WriteTimeout <= 0 {
		deps.Config.WriteTimeout = 5 * time.Second
	}
	if deps.Config.OutboundQueueSize <= 0 {
		deps.Config.OutboundQueueSize = 32
	}
	if deps.Config.MaxEngineCallsPerTurn <= 0 {
		deps.Config.MaxEngineCallsPerTurn = 4
	}
	if deps.Config.MaxToolCallsPerTurn <= 0 {
		deps.Config.MaxToolCallsPerTurn = 8
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		conn:             deps.Conn,
		logger:           deps.Logger,
		sess:             deps.Session,
		requestID:        deps.RequestID,
		sup:              deps.Supervisor,
		retriever:        deps.Retriever,
		filter:           deps.Filter,
		dispatcher:       deps.Dispatcher,
		catalog:          deps.Catalog,
		workers:          deps.Workers,
		metrics:          deps.Metrics,
		cfg:              deps.Config,
		now:              deps.Now,
		ctx:              ctx,
		cancel:           cancel,
		outboundPriority: make(chan []byte, 8),
		outboundNormal:   make(chan []byte, deps.Config.OutboundQueueSize),
		resultCh:         make(chan delegationResult, 4),
		state:            StateConnecting,
		seenDelegations:  make(map[string]int64),
	}, nil
}

// Cancel asks the session to shut down. Safe from any goroutine; the drain
// path uses it through the tracker.
func (s *Session) Cancel() {
	s.setCloseStatus("drained")
	s.cancel()
}

// SendWarning enqueues a warning frame, best effort. Safe from any goroutine.
func (s *Session) SendWarning(code, message string) error {
	payload, err := encodeMessage(protocol.ServerWarning{Type: "warning", Code: code, Message: message})
	if err != nil {
		return err
	}
	select {
	case s.outboundPriority <- payload:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	default:
		return fmt.Errorf("priority queue full")
	}
}

// State reports the coordinator state. Only meaningful from the loop itself
// and from tests that drive the loop's handlers directly.
func (s *Session) State() State { return s.state }

// Turn reports the current turn counter, same caveat as State.
func (s *Session) Turn() int64 { return s.turn }

func (s *Session) setCloseStatus(status string) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	if s.closeStatus == "" {
		s.closeStatus = status
	}
}

func (s *Session) finalStatus() string {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	if s.closeStatus == "" {
		return "completed"
	}
	return s.closeStatus
}

// Run drives the session to completion: handshake, then the coordinator
// loop. It returns once the connection is closed or the session is canceled.
func (s *Session) Run() error {
	defer func() {
		s.cancel()
		s.wg.Wait()
		s.state = StateClosed
	}()

	if s.cfg.MaxMessageBytes > 0 {
		s.conn.SetReadLimit(s.cfg.MaxMessageBytes)
	}
	if err := s.handshake(); err != nil {
		return err
	}
	s.state = StateListening

	started := s.now()
	if s.metrics != nil {
		s.metrics.RecordSessionStart()
		defer func() {
			s.metrics.RecordSessionEnd(s.finalStatus(), s.now().Sub(started))
		}()
	}

	_ = s.conn.SetReadDeadline(s.now().Add(s.cfg.ReadTimeout))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(s.now().Add(s.cfg.ReadTimeout))
	})

	readCh := make(chan inboundFrame, 64)
	writerErrCh := make(chan error, 1)
	go s.readLoop(readCh)
	go func() {
		w := outboundWriter{
			ws:           s.conn,
			ctx:          s.ctx,
			pingInterval: s.cfg.PingInterval,
			writeTimeout: s.cfg.WriteTimeout,
			priority:     s.outboundPriority,
			normal:       s.outboundNormal,
		}
		writerErrCh <- w.Run()
		close(writerErrCh)
	}()

	frames := newFrameLimiter(s.now, s.cfg.MaxFramesPerSec)

	// The issued token's expiry bounds the whole session.
	var expiryCh <-chan time.Time
	if !s.sess.ExpiresAt.IsZero() {
		expiry := time.NewTimer(s.sess.ExpiresAt.Sub(s.now()))
		defer expiry.Stop()
		expiryCh = expiry.C
	}

	for {
		select {
		case <-s.ctx.Done():
			return nil
		case err := <-writerErrCh:
			if err != nil {
				s.setCloseStatus("error")
			}
			return err
		case <-expiryCh:
			s.setCloseStatus("expired")
			s.sendFatal("auth_expired", "session token expired; reconnect to continue")
			return nil
		case frame, ok := <-readCh:
			if !ok || frame.err != nil {
				// Client went away. A clean close frame still lands here as a
				// read error from gorilla.
				if frame.err != nil && !websocket.IsCloseError(frame.err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					s.setCloseStatus("error")
				}
				return nil
			}
			if frame.messageType != websocket.TextMessage {
				s.sendFatal("bad_request", "bridge frames must be JSON text")
				return nil
			}
			if !frames.Allow() {
				if s.metrics != nil {
					s.metrics.RecordRateLimitRejection("frames")
				}
				s.sendFatal("rate_limited", "inbound frame rate limit exceeded")
				return nil
			}
			msg, decErr := protocol.DecodeClientMessage(frame.data)
			if decErr != nil {
				code := "bad_request"
				if de, ok := decErr.(*protocol.DecodeError); ok {
					code = de.Code
				}
				s.sendFatal(code, decErr.Error())
				return nil
			}
			if done := s.handleMessage(msg); done {
				return nil
			}
		case res := <-s.resultCh:
			s.handleDelegationResult(res)
		}
	}
}

type inboundFrame struct {
	messageType int
	data        []byte
	err         error
}

func (s *Session) readLoop(out chan<- inboundFrame) {
	defer close(out)
	for {
		messageType, data, err := s.conn.ReadMessage()
		frame := inboundFrame{messageType: messageType, data: data, err: err}
		select {
		case out <- frame:
		case <-s.ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

// handshake reads the hello within the deadline and acks it. The writer is
// not running yet, so failures are written straight to the connection.
func (s *Session) handshake() error {
	_ = s.conn.SetReadDeadline(s.now().Add(s.cfg.HelloTimeout))
	messageType, data, err := s.conn.ReadMessage()
	if err != nil {
		s.writeDirectError("hello_timeout", "expected hello within the handshake deadline")
		return fmt.Errorf("read hello: %w", err)
	}
	if messageType != websocket.TextMessage {
		s.writeDirectError("bad_request", "first frame must be hello")
		return fmt.Errorf("non-text hello frame")
	}

	decoded, decErr := protocol.DecodeClientMessage(data)
	if decErr != nil {
		s.writeDirectError("bad_request", "invalid hello frame")
		return fmt.Errorf("decode hello: %w", decErr)
	}
	hello, ok := decoded.(protocol.ClientHello)
	if !ok {
		s.writeDirectError("bad_request", "first frame must be hello")
		return fmt.Errorf("first frame was %T", decoded)
	}
	if hello.ProtocolVersion != protocol.ProtocolVersion1 {
		s.writeDirectError("unsupported_version", "unsupported protocol_version")
		return fmt.Errorf("unsupported protocol version %q", hello.ProtocolVersion)
	}

	heartbeat := int(s.cfg.PingInterval / time.Second)
	ack := protocol.ServerHelloAck{
		Type:            "hello_ack",
		ProtocolVersion: protocol.ProtocolVersion1,
		SessionID:       s.sess.ID,
		ExpiresAt:       s.sess.ExpiresAt.UTC().Format(time.RFC3339),
		HeartbeatSec:    heartbeat,
	}
	_ = s.conn.SetWriteDeadline(s.now().Add(s.cfg.WriteTimeout))
	if err := s.conn.WriteJSON(ack); err != nil {
		return fmt.Errorf("write hello_ack: %w", err)
	}

	s.logger.Info("bridge session started",
		"session_id", s.sess.ID,
		"request_id", s.requestID,
		"user_id", s.sess.UserID,
		"client", hello.Client.Name,
	)
	return nil
}

// handleMessage applies one decoded client frame to the coordinator state.
// It reports true when the session should end.
func (s *Session) handleMessage(msg any) (done bool) {
	switch m := msg.(type) {
	case protocol.ClientHello:
		// A second hello is a protocol violation but not worth killing the
		// session over.
		s.warn("protocol_violation", "hello already received")
		return false
	case protocol.ClientTranscript:
		s.handleTranscript(m)
		return false
	case protocol.ClientSupervisorRequest:
		s.handleSupervisorRequest(m)
		return false
	case protocol.ClientPlayback:
		s.handlePlayback(m)
		return false
	case protocol.ClientBargeIn:
		s.handleBargeIn(m)
		return false
	case protocol.ClientEndSession:
		s.logger.Info("session ending by client request", "session_id", s.sess.ID, "turn", s.turn)
		s.setCloseStatus("completed")
		return true
	default:
		s.warn("protocol_violation", fmt.Sprintf("unhandled message %T", m))
		return false
	}
}

func (s *Session) handleTranscript(m protocol.ClientTranscript) {
	if !m.Final {
		return
	}
	switch m.Role {
	case string(types.RoleUser):
		// Every settled user turn passes through THINKING, delegated or not.
		s.turn++
		s.state = StateThinking
		s.appendTurn(types.RoleUser, m.Text)
	case string(types.RoleAssistant):
		s.appendTurn(types.RoleAssistant, m.Text)
	}
}

func (s *Session) handlePlayback(m protocol.ClientPlayback) {
	if m.Turn != s.turn {
		s.logger.Debug("stale playback frame", "session_id", s.sess.ID, "frame_turn", m.Turn, "turn", s.turn)
		return
	}
	switch m.State {
	case protocol.PlaybackStarted:
		s.state = StateSpeaking
		if m.ScheduledEndMS != nil {
			s.speakingUntil = s.now().Add(time.Duration(*m.ScheduledEndMS) * time.Millisecond)
		}
	case protocol.PlaybackFinished:
		s.state = StateListening
		s.speakingUntil = time.Time{}
	}
}

func (s *Session) handleBargeIn(m protocol.ClientBargeIn) {
	if m.Turn != s.turn {
		s.logger.Debug("stale barge_in frame", "session_id", s.sess.ID, "frame_turn", m.Turn, "turn", s.turn)
		return
	}
	var cut time.Duration
	if !s.speakingUntil.IsZero() {
		if remaining := s.speakingUntil.Sub(s.now()); remaining > 0 {
			cut = remaining
		}
	}
	s.logger.Info("barge-in", "session_id", s.sess.ID, "turn", s.turn, "playback_cut", cut)
	s.turn++
	s.state = StateListening
	s.speakingUntil = time.Time{}
	if s.activeCancel != nil {
		s.activeCancel()
		s.activeCancel = nil
		s.activeDelegationID = ""
	}
}

func (s *Session) appendTurn(role types.Role, text string) {
	s.history = append(s.history, types.Turn{
		SessionID: s.sess.ID,
		Role:      role,
		Text:      text,
		CreatedAt: s.now(),
	})
}

// warn enqueues a warning from the coordinator loop.
func (s *Session) warn(code, message string) {
	if err := s.SendWarning(code, message); err != nil {
		s.logger.Warn("dropping warning frame", "session_id", s.sess.ID, "code", code, "error", err)
	}
}

// sendFatal enqueues a fatal error frame and cancels the session; the writer
// flushes the priority queue before sending the close frame.
func (s *Session) sendFatal(code, message string) {
	s.setCloseStatus("error")
	payload, err := encodeMessage(protocol.ServerError{Type: "error", Code: code, Message: message, Fatal: true})
	if err == nil {
		select {
		case s.outboundPriority <- payload:
		default:
		}
	}
	s.logger.Warn("closing session", "session_id", s.sess.ID, "code", code, "message", message)
	s.cancel()
}

// writeDirectError is for handshake failures, before the writer starts.
func (s *Session) writeDirectError(code, message string) {
	deadline := s.now().Add(s.cfg.WriteTimeout)
	_ = s.conn.SetWriteDeadline(deadline)
	_ = s.conn.WriteJSON(protocol.ServerError{Type: "error", Code: code, Message: message, Fatal: true})
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, message), deadline)
}
