package voicebridge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/audio"
	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/core/types"
	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/gateway/protocol"
	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/speech"
)

// DefaultBargeInThreshold is the RMS energy above which captured audio counts
// as the user speaking over the assistant.
const DefaultBargeInThreshold = 0.1

// UpdateKind classifies session updates surfaced to the UI.
type UpdateKind string

const (
	UpdateStatus         UpdateKind = "status"
	UpdateUserPartial    UpdateKind = "user_partial"
	UpdateUserFinal      UpdateKind = "user_final"
	UpdateAssistantDelta UpdateKind = "assistant_delta"
	UpdateAssistantFinal UpdateKind = "assistant_final"
	UpdateWarning        UpdateKind = "warning"
)

// Update is one UI-facing session event: transcripts as they form, status
// transitions, and non-fatal warnings.
type Update struct {
	Kind UpdateKind
	Turn int64
	Text string
}

// VoiceConfig wires a voice session's audio path and engine persona.
type VoiceConfig struct {
	Voice        string
	Language     string
	Instructions string
	ClientInfo   protocol.HelloClient

	// Mic delivers s16le PCM frames in MicFormat. A nil Mic runs the session
	// without audio input.
	Mic       <-chan []byte
	MicFormat audio.Format

	// Player receives synthesized audio. Required; the caller attaches it to
	// an output device.
	Player *audio.Player

	// BargeInThreshold is the RMS energy treated as speech during playback.
	// Zero takes the default.
	BargeInThreshold float64

	Logger *slog.Logger
}

// VoiceSession runs one live conversation: the speech-engine channel, the
// bridge channel, and the local audio path between them.
//
// Turn numbering mirrors the bridge: a finalized user utterance advances the
// turn, and a barge-in advances it again. Every frame sent to the bridge is
// tagged with the turn it belongs to so late results can be discarded.
type VoiceSession struct {
	cfg    VoiceConfig
	logger *slog.Logger

	engine *speech.Client
	bridge *BridgeSession
	player *audio.Player
	rs     *audio.Resampler

	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	updates chan Update

	terminalErr error

	// Coordinator state, owned by run's goroutine.
	turn          int64
	speaking      bool
	sawAudio      bool
	barged        bool
	hasUtterance  bool
	syntheticTurn bool
	pending       map[string]int64
	replyText     strings.Builder
	finishTimer   *time.Timer
	finishCh      <-chan time.Time
}

// Dial opens a voice session for a minted grant: engine channel first, then
// the bridge channel, then the coordinator.
func (c *Client) Dial(ctx context.Context, grant *SessionGrant, cfg VoiceConfig) (*VoiceSession, error) {
	if grant == nil {
		return nil, fmt.Errorf("grant must not be nil")
	}
	if cfg.Player == nil {
		return nil, fmt.Errorf("cfg.Player is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = c.logger
	}
	if cfg.BargeInThreshold <= 0 {
		cfg.BargeInThreshold = DefaultBargeInThreshold
	}

	var rs *audio.Resampler
	if cfg.Mic != nil {
		format := cfg.MicFormat
		if format.SampleRate <= 0 {
			return nil, fmt.Errorf("cfg.MicFormat is required with a mic")
		}
		var err error
		rs, err = audio.NewResampler(format.SampleRate, format.Channels, audio.EngineFormat().SampleRate)
		if err != nil {
			return nil, err
		}
	}

	engine, err := speech.Dial(ctx, grant.EngineEndpoint, cfg.Logger)
	if err != nil {
		return nil, err
	}
	if err := engine.ConfigureSession(speech.SessionConfig{
		Voice:        cfg.Voice,
		Language:     cfg.Language,
		Instructions: cfg.Instructions,
	}); err != nil {
		_ = engine.Close()
		return nil, fmt.Errorf("configure engine session: %w", err)
	}

	bridge, err := c.ConnectBridge(ctx, grant, cfg.ClientInfo)
	if err != nil {
		_ = engine.Close()
		return nil, err
	}

	sctx, cancel := context.WithCancel(context.Background())
	s := &VoiceSession{
		cfg:     cfg,
		logger:  cfg.Logger,
		engine:  engine,
		bridge:  bridge,
		player:  cfg.Player,
		rs:      rs,
		ctx:     sctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		updates: make(chan Update, 64),
		pending: make(map[string]int64),
	}

	go s.run()
	s.emit(Update{Kind: UpdateStatus, Text: "connected: " + bridge.Ack().SessionID})
	return s, nil
}

// Updates yields UI events. The channel closes when the session ends.
func (s *VoiceSession) Updates() <-chan Update {
	return s.updates
}

// Close ends the session: an orderly end_session to the bridge, then both
// channels torn down.
func (s *VoiceSession) Close() error {
	_ = s.bridge.EndSession()
	s.cancel()
	<-s.done
	return nil
}

// Err returns the terminal session error, nil for a clean close.
func (s *VoiceSession) Err() error {
	<-s.done
	return s.terminalErr
}

func (s *VoiceSession) run() {
	defer func() {
		s.stopFinish()
		_ = s.engine.Close()
		_ = s.bridge.Close()
		close(s.updates)
		close(s.done)
	}()

	mic := s.cfg.Mic
	for {
		select {
		case <-s.ctx.Done():
			return

		case frame, ok := <-mic:
			if !ok {
				mic = nil
				continue
			}
			if !s.handleMic(frame) {
				return
			}

		case ev, ok := <-s.engine.Events():
			if !ok {
				if err := s.engine.Err(); err != nil {
					s.fail(err)
				}
				return
			}
			if !s.handleEngine(ev) {
				return
			}

		case ev, ok := <-s.bridge.Events():
			if !ok {
				if err := s.bridge.Err(); err != nil {
					s.fail(err)
				}
				return
			}
			if !s.handleBridge(ev) {
				return
			}

		case <-s.finishCh:
			s.playbackFinished()
		}
	}
}

func (s *VoiceSession) handleMic(frame []byte) bool {
	if s.speaking && !s.barged && audio.RMSEnergy(frame) >= s.cfg.BargeInThreshold {
		if !s.bargeIn() {
			return false
		}
	}
	out := s.rs.Process(frame)
	if len(out) == 0 {
		return true
	}
	if err := s.engine.AppendAudio(out); err != nil {
		s.fail(fmt.Errorf("append audio: %w", err))
		return false
	}
	return true
}

func (s *VoiceSession) handleEngine(ev speech.Event) bool {
	switch ev.Type {
	case speech.EventSessionUpdated:
		s.emit(Update{Kind: UpdateStatus, Text: "ready"})

	case speech.EventUserTranscriptDelta:
		s.emit(Update{Kind: UpdateUserPartial, Turn: s.turn, Text: ev.Text})

	case speech.EventUserTranscript:
		return s.userFinal(ev.Text)

	case speech.EventCapabilityInvoked:
		return s.capabilityInvoked(ev)

	case speech.EventAudioDelta:
		return s.audioDelta(ev)

	case speech.EventReplyTranscriptDelta:
		s.replyText.WriteString(ev.Text)
		s.emit(Update{Kind: UpdateAssistantDelta, Turn: s.turn, Text: ev.Text})

	case speech.EventResponseDone:
		return s.responseDone(ev)

	case speech.EventSpeechStarted:
		if s.speaking && !s.barged {
			return s.bargeIn()
		}

	case speech.EventEngineError:
		s.emit(Update{Kind: UpdateWarning, Text: ev.Err.Error()})
	}
	return true
}

// userFinal forwards a finalized user utterance and advances the turn. When
// the delegation already advanced it (the engine delegated before the
// transcript settled), the late transcript is display-only.
func (s *VoiceSession) userFinal(text string) bool {
	if s.syntheticTurn {
		s.syntheticTurn = false
		s.emit(Update{Kind: UpdateUserFinal, Turn: s.turn, Text: text})
		return true
	}
	return s.advanceTurn(text)
}

func (s *VoiceSession) advanceTurn(text string) bool {
	s.turn++
	s.hasUtterance = true
	if err := s.bridge.SendTranscript(s.turn, string(types.RoleUser), text, true); err != nil {
		s.fail(fmt.Errorf("send transcript: %w", err))
		return false
	}
	s.emit(Update{Kind: UpdateUserFinal, Turn: s.turn, Text: text})
	return true
}

func (s *VoiceSession) capabilityInvoked(ev speech.Event) bool {
	inv := ev.Invocation
	if inv == nil {
		return true
	}
	args, err := inv.DelegateArgs()
	if err != nil {
		// Bad arguments from the engine: answer it directly so the
		// conversation can continue.
		s.logger.Warn("unparseable delegate invocation", "call_id", inv.CallID, "error", err)
		if err := s.engine.SubmitCapabilityResult(inv.CallID, "The request could not be processed. Please try again."); err != nil {
			s.fail(err)
			return false
		}
		if err := s.engine.CreateResponse(); err != nil {
			s.fail(err)
			return false
		}
		return true
	}

	// The engine can delegate before the transcript finalizes; the utterance
	// from the invocation stands in so the turn still advances first.
	if !s.hasUtterance {
		if !s.advanceTurn(args.UserRequest) {
			return false
		}
		s.syntheticTurn = true
	}

	req := protocol.ClientSupervisorRequest{
		DelegationID:        inv.CallID,
		Turn:                s.turn,
		UserRequest:         args.UserRequest,
		ConversationSummary: args.ConversationSummary,
	}
	if s.cfg.Language != "" {
		req.Context = &protocol.DelegationContext{Language: s.cfg.Language}
	}
	if err := s.bridge.SendSupervisorRequest(req); err != nil {
		s.fail(fmt.Errorf("send supervisor request: %w", err))
		return false
	}
	s.pending[inv.CallID] = s.turn
	s.emit(Update{Kind: UpdateStatus, Turn: s.turn, Text: "thinking"})
	return true
}

func (s *VoiceSession) audioDelta(ev speech.Event) bool {
	if s.barged {
		// Trailing audio of a cancelled response.
		return true
	}
	s.player.Enqueue(ev.Audio)
	s.sawAudio = true
	if !s.speaking {
		s.speaking = true
		ms := time.Until(s.player.ScheduledEnd()).Milliseconds()
		if ms < 0 {
			ms = 0
		}
		if err := s.bridge.SendPlayback(s.turn, protocol.PlaybackStarted, &ms); err != nil {
			s.fail(fmt.Errorf("send playback: %w", err))
			return false
		}
		s.emit(Update{Kind: UpdateStatus, Turn: s.turn, Text: "speaking"})
	}
	return true
}

func (s *VoiceSession) responseDone(ev speech.Event) bool {
	reply := s.replyText.String()
	s.replyText.Reset()

	if ev.Cancelled || s.barged {
		s.barged = false
		s.sawAudio = false
		return true
	}

	if reply != "" {
		if err := s.bridge.SendTranscript(s.turn, string(types.RoleAssistant), reply, true); err != nil {
			s.fail(fmt.Errorf("send transcript: %w", err))
			return false
		}
		s.emit(Update{Kind: UpdateAssistantFinal, Turn: s.turn, Text: reply})
	}

	if !s.sawAudio {
		// A capability-only response; the spoken reply follows after the
		// supervisor settles.
		return true
	}
	s.sawAudio = false

	s.player.Complete()
	remaining := time.Until(s.player.ScheduledEnd())
	if remaining < 0 {
		remaining = 0
	}
	s.armFinish(remaining)
	return true
}

func (s *VoiceSession) playbackFinished() {
	s.stopFinish()
	s.speaking = false
	s.hasUtterance = false
	if err := s.bridge.SendPlayback(s.turn, protocol.PlaybackFinished, nil); err != nil {
		s.fail(fmt.Errorf("send playback: %w", err))
		return
	}
	s.emit(Update{Kind: UpdateStatus, Turn: s.turn, Text: "listening"})
}

// bargeIn cuts the assistant off: cancel synthesis, drop queued audio, tell
// the bridge, and advance the turn the way the bridge does.
func (s *VoiceSession) bargeIn() bool {
	s.barged = true
	s.speaking = false
	s.sawAudio = false
	s.stopFinish()

	if err := s.engine.CancelResponse(); err != nil {
		s.fail(fmt.Errorf("cancel response: %w", err))
		return false
	}
	s.player.Reset()
	if err := s.bridge.SendBargeIn(s.turn); err != nil {
		s.fail(fmt.Errorf("send barge_in: %w", err))
		return false
	}

	s.turn++
	s.hasUtterance = false
	s.syntheticTurn = false
	// Results for the interrupted turn are dead; drop their bookkeeping.
	for id := range s.pending {
		delete(s.pending, id)
	}
	s.emit(Update{Kind: UpdateStatus, Turn: s.turn, Text: "listening"})
	return true
}

func (s *VoiceSession) handleBridge(ev BridgeEvent) bool {
	switch e := ev.(type) {
	case BridgeSupervisorResponseEvent:
		return s.supervisorResponse(e.Response)

	case BridgeWarningEvent:
		s.emit(Update{Kind: UpdateWarning, Text: e.Warning.Code + ": " + e.Warning.Message})

	case BridgeErrorEvent:
		if e.Error.Fatal {
			s.fail(&Error{Type: ErrAPI, Message: e.Error.Message, Code: e.Error.Code})
			return false
		}
		s.emit(Update{Kind: UpdateWarning, Text: e.Error.Code + ": " + e.Error.Message})

	case BridgeUnknownEvent:
		s.logger.Debug("unknown bridge frame", "type", e.Type)
	}
	return true
}

// supervisorResponse hands a settled delegation back to the engine so it can
// speak the result. Responses for interrupted turns are dropped.
func (s *VoiceSession) supervisorResponse(r protocol.ServerSupervisorResponse) bool {
	turn, ok := s.pending[r.DelegationID]
	if !ok || turn != s.turn || r.Turn != s.turn {
		s.logger.Debug("dropping stale supervisor response",
			"delegation_id", r.DelegationID, "response_turn", r.Turn, "turn", s.turn)
		return true
	}
	delete(s.pending, r.DelegationID)

	if err := s.engine.SubmitCapabilityResult(r.DelegationID, r.Text); err != nil {
		s.fail(fmt.Errorf("submit capability result: %w", err))
		return false
	}
	if err := s.engine.CreateResponse(); err != nil {
		s.fail(fmt.Errorf("request response: %w", err))
		return false
	}
	s.emit(Update{Kind: UpdateStatus, Turn: s.turn, Text: "answer ready"})
	return true
}

func (s *VoiceSession) armFinish(d time.Duration) {
	s.stopFinish()
	s.finishTimer = time.NewTimer(d)
	s.finishCh = s.finishTimer.C
}

func (s *VoiceSession) stopFinish() {
	if s.finishTimer != nil {
		s.finishTimer.Stop()
		s.finishTimer = nil
	}
	s.finishCh = nil
}

func (s *VoiceSession) fail(err error) {
	if s.terminalErr == nil {
		s.terminalErr = err
	}
	s.cancel()
}

func (s *VoiceSession) emit(u Update) {
	select {
	case s.updates <- u:
	default:
		// A stalled UI never blocks the audio path.
	}
}
