package voicebridge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/audio"
	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/gateway/protocol"
)

// testEnginePeer is an in-process speech engine endpoint. Client frames land
// on recv as raw JSON maps; send pushes engine events.
type testEnginePeer struct {
	t    *testing.T
	srv  *httptest.Server
	mu   sync.Mutex
	conn *websocket.Conn
	recv chan map[string]any
}

func newTestEnginePeer(t *testing.T) *testEnginePeer {
	t.Helper()
	p := &testEnginePeer{t: t, recv: make(chan map[string]any, 32)}
	upgrader := websocket.Upgrader{}
	p.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		p.mu.Lock()
		p.conn = conn
		p.mu.Unlock()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg map[string]any
			if err := json.Unmarshal(data, &msg); err != nil {
				t.Errorf("client sent unparseable engine frame: %v", err)
				continue
			}
			p.recv <- msg
		}
	}))
	t.Cleanup(p.srv.Close)
	return p
}

func (p *testEnginePeer) url() string {
	return "ws" + strings.TrimPrefix(p.srv.URL, "http") + "/v1/realtime?model=gpt-realtime"
}

func (p *testEnginePeer) send(t *testing.T, v any) {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		t.Fatal("engine peer has no connection")
	}
	if err := p.conn.WriteJSON(v); err != nil {
		t.Fatalf("engine peer send: %v", err)
	}
}

func (p *testEnginePeer) await(t *testing.T, want string) map[string]any {
	t.Helper()
	select {
	case msg, ok := <-p.recv:
		if !ok {
			t.Fatalf("engine peer closed while waiting for %s", want)
		}
		if msg["type"] != want {
			t.Fatalf("next engine frame is %v, want %s (%v)", msg["type"], want, msg)
		}
		return msg
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for %s frame", want)
	}
	return nil
}

func (p *testEnginePeer) awaitNothing(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case msg := <-p.recv:
		t.Fatalf("unexpected engine frame: %v", msg)
	case <-time.After(d):
	}
}

// dialTestVoice connects a session against both peers and answers the
// engine's session.update so the coordinator reaches its ready state.
func dialTestVoice(t *testing.T, engine *testEnginePeer, bridge *testBridgePeer, cfg VoiceConfig) *VoiceSession {
	t.Helper()
	if cfg.Player == nil {
		cfg.Player = audio.NewPlayer(audio.EngineFormat(), audio.PlayerOptions{Logger: discardLogger()})
	}
	cfg.Logger = discardLogger()

	grant := &SessionGrant{
		SessionToken:   "st_test",
		EngineEndpoint: engine.url(),
		BridgeEndpoint: bridge.url(),
	}
	sess, err := NewClient(WithLogger(discardLogger())).Dial(context.Background(), grant, cfg)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = sess.Close() })

	configure := engine.await(t, "session.update")
	session, _ := configure["session"].(map[string]any)
	tools, _ := session["tools"].([]any)
	if len(tools) != 1 {
		t.Fatalf("session.update tools: %v", session["tools"])
	}
	if tool, _ := tools[0].(map[string]any); tool["name"] != "delegate" {
		t.Fatalf("registered capability: %v", tools[0])
	}
	engine.send(t, map[string]any{"type": "session.updated"})
	return sess
}

func TestVoiceSession_DelegationRoundTrip(t *testing.T) {
	engine := newTestEnginePeer(t)
	bridge := newTestBridgePeer(t)
	sess := dialTestVoice(t, engine, bridge, VoiceConfig{Language: "en-AU"})

	engine.send(t, map[string]any{
		"type":       "conversation.item.input_audio_transcription.completed",
		"transcript": "log fifty dollars for fuel",
	})
	tr := bridge.await(t, "transcript").(protocol.ClientTranscript)
	if tr.Turn != 1 || tr.Role != "user" || !tr.Final || tr.Text != "log fifty dollars for fuel" {
		t.Fatalf("user transcript frame: %+v", tr)
	}

	engine.send(t, map[string]any{
		"type":      "response.function_call_arguments.done",
		"call_id":   "call_1",
		"name":      "delegate",
		"arguments": `{"user_request":"log fifty dollars for fuel"}`,
	})
	req := bridge.await(t, "supervisor_request").(protocol.ClientSupervisorRequest)
	if req.DelegationID != "call_1" || req.Turn != 1 {
		t.Fatalf("supervisor_request frame: %+v", req)
	}
	if req.UserRequest != "log fifty dollars for fuel" {
		t.Fatalf("user_request=%q", req.UserRequest)
	}

	bridge.send(t, protocol.ServerSupervisorResponse{
		Type:         "supervisor_response",
		DelegationID: "call_1",
		Turn:         1,
		Text:         "Logged fifty dollars for fuel.",
	})
	item := engine.await(t, "conversation.item.create")
	output, _ := item["item"].(map[string]any)
	if output["call_id"] != "call_1" || output["output"] != "Logged fifty dollars for fuel." {
		t.Fatalf("capability result item: %v", item)
	}
	engine.await(t, "response.create")

	pcm := make([]byte, 4800) // 100ms of engine audio
	engine.send(t, map[string]any{
		"type":        "response.audio.delta",
		"response_id": "resp_1",
		"delta":       base64.StdEncoding.EncodeToString(pcm),
	})
	pb := bridge.await(t, "playback").(protocol.ClientPlayback)
	if pb.State != protocol.PlaybackStarted || pb.Turn != 1 {
		t.Fatalf("playback start frame: %+v", pb)
	}
	if pb.ScheduledEndMS == nil || *pb.ScheduledEndMS < 0 {
		t.Fatalf("scheduled_end_ms: %+v", pb.ScheduledEndMS)
	}

	engine.send(t, map[string]any{
		"type":        "response.audio_transcript.delta",
		"response_id": "resp_1",
		"delta":       "Logged fifty dollars for fuel.",
	})
	engine.send(t, map[string]any{
		"type":     "response.done",
		"response": map[string]any{"id": "resp_1", "status": "completed"},
	})
	reply := bridge.await(t, "transcript").(protocol.ClientTranscript)
	if reply.Role != "assistant" || reply.Turn != 1 || !reply.Final {
		t.Fatalf("assistant transcript frame: %+v", reply)
	}
	if reply.Text != "Logged fifty dollars for fuel." {
		t.Fatalf("assistant text=%q", reply.Text)
	}

	done := bridge.await(t, "playback").(protocol.ClientPlayback)
	if done.State != protocol.PlaybackFinished || done.Turn != 1 {
		t.Fatalf("playback finish frame: %+v", done)
	}

	_ = sess.Close()
	var sawUserFinal, sawAssistantFinal bool
	for u := range sess.Updates() {
		switch u.Kind {
		case UpdateUserFinal:
			sawUserFinal = u.Text == "log fifty dollars for fuel"
		case UpdateAssistantFinal:
			sawAssistantFinal = u.Text == "Logged fifty dollars for fuel."
		}
	}
	if !sawUserFinal || !sawAssistantFinal {
		t.Fatalf("updates missing finals: user=%v assistant=%v", sawUserFinal, sawAssistantFinal)
	}
	if err := sess.Err(); err != nil {
		t.Fatalf("session error: %v", err)
	}
}

func TestVoiceSession_BargeInAdvancesTurn(t *testing.T) {
	engine := newTestEnginePeer(t)
	bridge := newTestBridgePeer(t)
	dialTestVoice(t, engine, bridge, VoiceConfig{})

	engine.send(t, map[string]any{
		"type":       "conversation.item.input_audio_transcription.completed",
		"transcript": "tell me a long story",
	})
	bridge.await(t, "transcript")

	pcm := make([]byte, 9600)
	engine.send(t, map[string]any{
		"type":        "response.audio.delta",
		"response_id": "resp_1",
		"delta":       base64.StdEncoding.EncodeToString(pcm),
	})
	bridge.await(t, "playback")

	engine.send(t, map[string]any{"type": "input_audio_buffer.speech_started"})
	engine.await(t, "response.cancel")
	bi := bridge.await(t, "barge_in").(protocol.ClientBargeIn)
	if bi.Turn != 1 {
		t.Fatalf("barge_in turn=%d", bi.Turn)
	}

	// The cut-off reply must not be logged as a completed assistant turn.
	engine.send(t, map[string]any{
		"type":     "response.done",
		"response": map[string]any{"id": "resp_1", "status": "cancelled"},
	})

	engine.send(t, map[string]any{
		"type":       "conversation.item.input_audio_transcription.completed",
		"transcript": "actually, what time is it",
	})
	tr := bridge.await(t, "transcript").(protocol.ClientTranscript)
	if tr.Turn != 2 || tr.Role != "user" {
		t.Fatalf("post barge-in transcript: %+v", tr)
	}
}

func TestVoiceSession_DelegationBeforeTranscript(t *testing.T) {
	engine := newTestEnginePeer(t)
	bridge := newTestBridgePeer(t)
	dialTestVoice(t, engine, bridge, VoiceConfig{})

	// The engine can settle on a delegation before the user transcript
	// finalizes. The turn still advances before the supervisor request.
	engine.send(t, map[string]any{
		"type":      "response.function_call_arguments.done",
		"call_id":   "call_9",
		"name":      "delegate",
		"arguments": `{"user_request":"plan a route to cairns"}`,
	})
	tr := bridge.await(t, "transcript").(protocol.ClientTranscript)
	if tr.Turn != 1 || tr.Role != "user" || tr.Text != "plan a route to cairns" {
		t.Fatalf("synthetic transcript frame: %+v", tr)
	}
	req := bridge.await(t, "supervisor_request").(protocol.ClientSupervisorRequest)
	if req.Turn != 1 || req.DelegationID != "call_9" {
		t.Fatalf("supervisor_request frame: %+v", req)
	}

	// The late real transcript is display-only; forwarding it would count
	// the same utterance twice.
	engine.send(t, map[string]any{
		"type":       "conversation.item.input_audio_transcription.completed",
		"transcript": "plan a route to cairns please",
	})
	bridge.awaitNothing(t, 150*time.Millisecond)

	bridge.send(t, protocol.ServerSupervisorResponse{
		Type:         "supervisor_response",
		DelegationID: "call_9",
		Turn:         1,
		Text:         "Route planned.",
	})
	engine.await(t, "conversation.item.create")
	engine.await(t, "response.create")
}

func TestVoiceSession_DropsStaleSupervisorResponse(t *testing.T) {
	engine := newTestEnginePeer(t)
	bridge := newTestBridgePeer(t)
	dialTestVoice(t, engine, bridge, VoiceConfig{})

	engine.send(t, map[string]any{
		"type":       "conversation.item.input_audio_transcription.completed",
		"transcript": "how far to the next town",
	})
	bridge.await(t, "transcript")

	engine.send(t, map[string]any{
		"type":      "response.function_call_arguments.done",
		"call_id":   "call_2",
		"name":      "delegate",
		"arguments": `{"user_request":"how far to the next town"}`,
	})
	bridge.await(t, "supervisor_request")

	// Filler speech starts, then the user barges in. The pending delegation
	// belongs to the abandoned turn now.
	pcm := make([]byte, 4800)
	engine.send(t, map[string]any{
		"type":        "response.audio.delta",
		"response_id": "resp_1",
		"delta":       base64.StdEncoding.EncodeToString(pcm),
	})
	bridge.await(t, "playback")
	engine.send(t, map[string]any{"type": "input_audio_buffer.speech_started"})
	engine.await(t, "response.cancel")
	bridge.await(t, "barge_in")
	engine.send(t, map[string]any{
		"type":     "response.done",
		"response": map[string]any{"id": "resp_1", "status": "cancelled"},
	})

	bridge.send(t, protocol.ServerSupervisorResponse{
		Type:         "supervisor_response",
		DelegationID: "call_2",
		Turn:         1,
		Text:         "Forty kilometres.",
	})
	engine.awaitNothing(t, 300*time.Millisecond)
}

func TestVoiceSession_MicAudioResampledToEngine(t *testing.T) {
	engine := newTestEnginePeer(t)
	bridge := newTestBridgePeer(t)
	mic := make(chan []byte, 4)
	dialTestVoice(t, engine, bridge, VoiceConfig{
		Mic:       mic,
		MicFormat: audio.Format{SampleRate: 48000, Channels: 1, BitsPerSample: 16},
	})

	mic <- make([]byte, 1920) // 20ms of silence at 48k
	appendFrame := engine.await(t, "input_audio_buffer.append")
	encoded, _ := appendFrame["audio"].(string)
	pcm, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		t.Fatalf("audio payload: %v", err)
	}
	// 48k down to 24k roughly halves the frame.
	if len(pcm) < 900 || len(pcm) > 980 || len(pcm)%2 != 0 {
		t.Fatalf("resampled frame is %d bytes", len(pcm))
	}
}
