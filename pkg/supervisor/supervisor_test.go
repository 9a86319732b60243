package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/core"
	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/core/types"
	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/tools"
)

func requireTCPListen(t testing.TB) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("skipping test: TCP listen not permitted in this environment: %v", err)
	}
	ln.Close()
}

func testRequest() Request {
	return Request{
		History: []types.Turn{
			{Role: types.RoleUser, Text: "Plan a route to Byron Bay"},
		},
		Bundle: types.ContextBundle{
			Summary:    "Saved preferences:\n- vehicle: caravan",
			Confidence: 0.7,
		},
		Runtime: types.RuntimeContext{
			UserID:      "user_1",
			DisplayName: "Mel",
			Timezone:    "Australia/Sydney",
			IsVoice:     true,
		},
		Tools: []tools.Definition{
			{
				Name:        "route.plan",
				Description: "Plan a driving route",
				InputSchema: &types.JSONSchema{
					Type: "object",
					Properties: map[string]types.JSONSchema{
						"destination": {Type: "string"},
					},
					Required: []string{"destination"},
				},
			},
		},
	}
}

func textResponse(text string) map[string]any {
	return map[string]any{
		"id":    "msg_1",
		"type":  "message",
		"role":  "assistant",
		"model": "claude-sonnet-4-5",
		"content": []map[string]any{
			{"type": "text", "text": text},
		},
		"stop_reason": "end_turn",
		"usage": map[string]int{
			"input_tokens":  10,
			"output_tokens": 5,
			"total_tokens":  15,
		},
	}
}

func TestGenerate(t *testing.T) {
	requireTCPListen(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/v1/messages" {
			t.Errorf("expected /v1/messages, got %s", r.URL.Path)
		}
		if r.Header.Get("X-API-Key") != "test-key" {
			t.Errorf("expected X-API-Key header")
		}
		if r.Header.Get("anthropic-version") != APIVersion {
			t.Errorf("expected anthropic-version header")
		}

		var reqBody engineRequest
		if err := json.NewDecoder(r.Body).Decode(&reqBody); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		if reqBody.Model != "claude-sonnet-4-5" {
			t.Errorf("expected model claude-sonnet-4-5, got %s", reqBody.Model)
		}
		if reqBody.MaxTokens != DefaultMaxTokens {
			t.Errorf("expected max_tokens %d, got %d", DefaultMaxTokens, reqBody.MaxTokens)
		}
		if !strings.Contains(reqBody.System, "Mel") {
			t.Errorf("expected system prompt to carry display name, got %q", reqBody.System)
		}
		if !strings.Contains(reqBody.System, "vehicle: caravan") {
			t.Errorf("expected system prompt to carry bundle summary, got %q", reqBody.System)
		}
		if len(reqBody.Messages) != 1 || reqBody.Messages[0].Role != "user" {
			t.Errorf("expected one user message, got %+v", reqBody.Messages)
		}
		if len(reqBody.Tools) != 1 || reqBody.Tools[0].Name != "route.plan" {
			t.Errorf("expected route.plan tool, got %+v", reqBody.Tools)
		}
		if reqBody.Tools[0].InputSchema == nil || reqBody.Tools[0].InputSchema.Type != "object" {
			t.Errorf("expected tool input schema to be serialized")
		}

		json.NewEncoder(w).Encode(textResponse("Head north on the Pacific Highway."))
	}))
	defer server.Close()

	c := New("test-key", WithBaseURL(server.URL))

	reply, err := c.Generate(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if reply.Text != "Head north on the Pacific Highway." {
		t.Errorf("expected reply text, got %q", reply.Text)
	}
	if !reply.Settled() {
		t.Error("expected reply to be settled")
	}
	if reply.StopReason != "end_turn" {
		t.Errorf("expected stop_reason end_turn, got %s", reply.StopReason)
	}
	if reply.Usage.InputTokens != 10 || reply.Usage.OutputTokens != 5 {
		t.Errorf("expected usage 10/5, got %+v", reply.Usage)
	}
}

func TestGenerateEmptyHistory(t *testing.T) {
	c := New("test-key")
	_, err := c.Generate(context.Background(), Request{})
	if err == nil {
		t.Fatal("expected error for empty history")
	}
	var cerr *core.Error
	if !errors.As(err, &cerr) || cerr.Type != core.ErrInvalidRequest {
		t.Errorf("expected invalid request error, got %v", err)
	}
}

func TestToolRoundTrip(t *testing.T) {
	requireTCPListen(t)
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call := calls.Add(1)

		var reqBody engineRequest
		if err := json.NewDecoder(r.Body).Decode(&reqBody); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}

		switch call {
		case 1:
			resp := map[string]any{
				"id":    "msg_1",
				"type":  "message",
				"role":  "assistant",
				"model": "claude-sonnet-4-5",
				"content": []map[string]any{
					{"type": "text", "text": "Let me plan that."},
					{
						"type":  "tool_use",
						"id":    "call_1",
						"name":  "route.plan",
						"input": map[string]any{"destination": "Byron Bay"},
					},
				},
				"stop_reason": "tool_use",
				"usage": map[string]int{
					"input_tokens":  20,
					"output_tokens": 10,
					"total_tokens":  30,
				},
			}
			json.NewEncoder(w).Encode(resp)

		case 2:
			if len(reqBody.Messages) != 3 {
				t.Fatalf("expected 3 messages on continuation, got %d", len(reqBody.Messages))
			}
			if reqBody.Messages[1].Role != "assistant" {
				t.Errorf("expected assistant message second, got %s", reqBody.Messages[1].Role)
			}
			var echoed toolUseBlock
			if err := json.Unmarshal(reqBody.Messages[1].Content[1], &echoed); err != nil || echoed.ID != "call_1" {
				t.Errorf("expected tool_use echoed verbatim, got %s", reqBody.Messages[1].Content[1])
			}
			if reqBody.Messages[2].Role != "user" {
				t.Errorf("expected user results message last, got %s", reqBody.Messages[2].Role)
			}
			var res toolResultBlock
			if err := json.Unmarshal(reqBody.Messages[2].Content[0], &res); err != nil {
				t.Fatalf("failed to decode tool result block: %v", err)
			}
			if res.ToolUseID != "call_1" {
				t.Errorf("expected tool_use_id call_1, got %s", res.ToolUseID)
			}
			if res.IsError {
				t.Error("expected is_error false for successful result")
			}
			if !strings.Contains(res.Content, "812") {
				t.Errorf("expected result payload in content, got %q", res.Content)
			}
			if len(reqBody.Tools) != 1 {
				t.Errorf("expected tools resent on continuation, got %d", len(reqBody.Tools))
			}
			if !strings.Contains(reqBody.System, "Mel") {
				t.Error("expected system prompt resent on continuation")
			}
			json.NewEncoder(w).Encode(textResponse("About 812 kilometres, roughly eleven hours."))

		default:
			t.Errorf("unexpected call %d", call)
		}
	}))
	defer server.Close()

	c := New("test-key", WithBaseURL(server.URL))

	reply, err := c.Generate(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if reply.Settled() {
		t.Fatal("expected unsettled reply with invocations")
	}
	if len(reply.Invocations) != 1 {
		t.Fatalf("expected 1 invocation, got %d", len(reply.Invocations))
	}
	inv := reply.Invocations[0]
	if inv.ID != "call_1" || inv.Name != "route.plan" {
		t.Errorf("unexpected invocation %+v", inv)
	}
	if inv.Arguments["destination"] != "Byron Bay" {
		t.Errorf("expected destination argument, got %+v", inv.Arguments)
	}
	if reply.StopReason != "tool_use" {
		t.Errorf("expected stop_reason tool_use, got %s", reply.StopReason)
	}

	results := []types.ToolResult{
		types.ToolSuccess("call_1", map[string]any{"distance_km": 812}),
	}
	final, err := c.ContinueWithResults(context.Background(), reply, results)
	if err != nil {
		t.Fatalf("ContinueWithResults failed: %v", err)
	}
	if !final.Settled() {
		t.Error("expected settled reply after results")
	}
	if final.Text != "About 812 kilometres, roughly eleven hours." {
		t.Errorf("unexpected final text %q", final.Text)
	}
	if final.Usage.InputTokens != 30 {
		t.Errorf("expected aggregated input tokens 30, got %d", final.Usage.InputTokens)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("expected 2 engine calls, got %d", got)
	}
}

func TestContinuePairing(t *testing.T) {
	requireTCPListen(t)
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		json.NewEncoder(w).Encode(textResponse("ok"))
	}))
	defer server.Close()

	prior := &Reply{
		Invocations: []types.ToolInvocation{
			{ID: "call_1", Name: "route.plan"},
			{ID: "call_2", Name: "expense.log"},
		},
		conv: conversation{
			messages: []messageJSON{{Role: "user"}, {Role: "assistant"}},
		},
	}

	tests := []struct {
		name    string
		results []types.ToolResult
	}{
		{
			name:    "missing result",
			results: []types.ToolResult{types.ToolSuccess("call_1", nil), types.ToolSuccess("call_9", nil)},
		},
		{
			name:    "duplicate result",
			results: []types.ToolResult{types.ToolSuccess("call_1", nil), types.ToolSuccess("call_1", nil)},
		},
		{
			name:    "wrong count",
			results: []types.ToolResult{types.ToolSuccess("call_1", nil)},
		},
		{
			name:    "no results",
			results: nil,
		},
	}

	c := New("test-key", WithBaseURL(server.URL))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.ContinueWithResults(context.Background(), prior, tt.results)
			if err == nil {
				t.Fatal("expected pairing violation")
			}
			var cerr *core.Error
			if !errors.As(err, &cerr) || cerr.Type != core.ErrProtocol {
				t.Errorf("expected protocol error, got %v", err)
			}
		})
	}

	if got := calls.Load(); got != 0 {
		t.Errorf("expected no engine calls on pairing violations, got %d", got)
	}
}

func TestRetryAfterRateLimit(t *testing.T) {
	requireTCPListen(t)
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]any{
				"type": "error",
				"error": map[string]any{
					"type":    "rate_limit_error",
					"message": "slow down",
				},
			})
			return
		}
		json.NewEncoder(w).Encode(textResponse("hello"))
	}))
	defer server.Close()

	var slept time.Duration
	c := New("test-key", WithBaseURL(server.URL))
	c.sleep = func(ctx context.Context, d time.Duration) error {
		slept = d
		return nil
	}

	reply, err := c.Generate(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if reply.Text != "hello" {
		t.Errorf("expected reply after retry, got %q", reply.Text)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("expected 2 calls, got %d", got)
	}
	if slept != 2*time.Second {
		t.Errorf("expected Retry-After honored as 2s backoff, got %v", slept)
	}
}

func TestRetryGivesUpAfterSecondFailure(t *testing.T) {
	requireTCPListen(t)
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]any{
			"type": "error",
			"error": map[string]any{
				"type":    "overloaded_error",
				"message": "try later",
			},
		})
	}))
	defer server.Close()

	c := New("test-key", WithBaseURL(server.URL))
	c.sleep = func(ctx context.Context, d time.Duration) error { return nil }

	_, err := c.Generate(context.Background(), testRequest())
	if err == nil {
		t.Fatal("expected error after exhausted retry")
	}
	var cerr *core.Error
	if !errors.As(err, &cerr) || cerr.Type != core.ErrProviderUnavailable {
		t.Errorf("expected provider unavailable, got %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("expected exactly 2 calls, got %d", got)
	}
}

func TestAuthErrorNotRetried(t *testing.T) {
	requireTCPListen(t)
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]any{
			"type": "error",
			"error": map[string]any{
				"type":    "authentication_error",
				"message": "invalid x-api-key",
			},
		})
	}))
	defer server.Close()

	c := New("test-key", WithBaseURL(server.URL))
	c.sleep = func(ctx context.Context, d time.Duration) error {
		t.Error("sleep should not be called for non-retryable errors")
		return nil
	}

	_, err := c.Generate(context.Background(), testRequest())
	if err == nil {
		t.Fatal("expected authentication error")
	}
	var cerr *core.Error
	if !errors.As(err, &cerr) || cerr.Type != core.ErrAuthentication {
		t.Errorf("expected authentication error, got %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("expected 1 call, got %d", got)
	}
}

func TestUnparseableErrorBodyClassifiedByStatus(t *testing.T) {
	requireTCPListen(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("<html>bad gateway</html>"))
	}))
	defer server.Close()

	c := New("test-key", WithBaseURL(server.URL))
	c.sleep = func(ctx context.Context, d time.Duration) error { return nil }

	_, err := c.Generate(context.Background(), testRequest())
	if err == nil {
		t.Fatal("expected error")
	}
	var cerr *core.Error
	if !errors.As(err, &cerr) || cerr.Type != core.ErrProviderUnavailable {
		t.Errorf("expected provider unavailable for 5xx, got %v", err)
	}
}

func TestBuildSystem(t *testing.T) {
	rc := types.RuntimeContext{
		DisplayName: "Mel",
		Language:    "en-AU",
		Timezone:    "Australia/Sydney",
		Location:    &types.Location{Lat: -33.87, Lng: 151.21, PlaceName: "Sydney"},
		IsVoice:     true,
	}
	bundle := types.ContextBundle{Summary: "Saved preferences:\n- vehicle: caravan"}

	system := buildSystem(rc, bundle)

	for _, want := range []string{
		"spoken aloud",
		"The user's name is Mel.",
		"Reply in en-AU.",
		"The user's timezone is Australia/Sydney.",
		"near Sydney",
		"speaking by voice",
		"Context from earlier conversations:",
		"vehicle: caravan",
	} {
		if !strings.Contains(system, want) {
			t.Errorf("expected system prompt to contain %q", want)
		}
	}

	bare := buildSystem(types.RuntimeContext{}, types.ContextBundle{})
	if bare != systemPreamble {
		t.Errorf("expected bare preamble for empty context, got %q", bare)
	}
}

func TestConvertHistory(t *testing.T) {
	history := []types.Turn{
		{Role: types.RoleUser, Text: "log fuel, eighty dollars"},
		{Role: types.RoleTool, Text: "expense.log: saved 80 USD fuel"},
		{Role: types.RoleAssistant, Text: "Logged eighty dollars for fuel."},
	}

	msgs := convertHistory(history)
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	if msgs[0].Role != "user" || msgs[1].Role != "user" || msgs[2].Role != "assistant" {
		t.Errorf("unexpected roles %s/%s/%s", msgs[0].Role, msgs[1].Role, msgs[2].Role)
	}

	var block textBlock
	if err := json.Unmarshal(msgs[1].Content[0], &block); err != nil {
		t.Fatalf("failed to decode tool turn block: %v", err)
	}
	if !strings.HasPrefix(block.Text, "[tool outcome] ") {
		t.Errorf("expected tool turn labeled, got %q", block.Text)
	}
}

func TestConvertToolsDefaultSchema(t *testing.T) {
	defs := []tools.Definition{{Name: "ping", Description: "check liveness"}}

	result := convertTools(defs)
	if len(result) != 1 {
		t.Fatalf("expected 1 tool, got %d", len(result))
	}
	if result[0].InputSchema == nil || result[0].InputSchema.Type != "object" {
		t.Errorf("expected open object schema for schemaless tool, got %+v", result[0].InputSchema)
	}

	if got := convertTools(nil); got != nil {
		t.Errorf("expected nil for empty catalog, got %+v", got)
	}
}

func TestResultContent(t *testing.T) {
	tests := []struct {
		name   string
		result types.ToolResult
		want   string
	}{
		{"failure with message", types.ToolFailure("c1", "unknown_tool"), "unknown_tool"},
		{"failure without message", types.ToolResult{InvocationID: "c1"}, "tool execution failed"},
		{"success without payload", types.ToolSuccess("c1", nil), "ok"},
		{"success with payload", types.ToolSuccess("c1", map[string]any{"n": 1}), `{"n":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := resultContent(tt.result); got != tt.want {
				t.Errorf("resultContent() = %q, want %q", got, tt.want)
			}
		})
	}
}
