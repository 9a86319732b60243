package openapi

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/core"
)

func TestOpenAPI_ErrorTypeEnum_MatchesCoreErrorTypes(t *testing.T) {
	spec := mustReadOpenAPI(t)

	enum := mustExtractSection(t, spec, "\n    Error:\n", "\n        message:\n")
	for _, typ := range []core.ErrorType{
		core.ErrInvalidRequest,
		core.ErrAuthentication,
		core.ErrNotFound,
		core.ErrRateLimit,
		core.ErrAPI,
		core.ErrProviderUnavailable,
		core.ErrValidation,
		core.ErrToolExecution,
		core.ErrProtocol,
	} {
		if !strings.Contains(enum, "- "+string(typ)) {
			t.Fatalf("Error.type enum missing %q", typ)
		}
	}
}

func TestOpenAPI_BridgeFrameVocabulary_IsDocumented(t *testing.T) {
	spec := mustReadOpenAPI(t)

	bridge := mustExtractSection(t, spec, "\n  /v1/voice/bridge:\n", "\n  /healthz:\n")
	for _, typ := range []string{
		"`hello`", "`transcript`", "`supervisor_request`", "`playback`", "`barge_in`", "`end_session`",
		"`hello_ack`", "`supervisor_response`", "`warning`", "`error`",
	} {
		if !strings.Contains(bridge, typ) {
			t.Fatalf("bridge endpoint description missing frame type %s", typ)
		}
	}
}

func TestOpenAPI_SessionGrant_RequiresRFC3339Expiry(t *testing.T) {
	spec := mustReadOpenAPI(t)

	grant := mustExtractSection(t, spec, "\n    SessionGrant:\n", "\n    ErrorEnvelope:\n")
	for _, field := range []string{"session_token", "expires_at", "engine_endpoint"} {
		if !strings.Contains(grant, field+":") {
			t.Fatalf("SessionGrant missing field %q", field)
		}
	}
	if !strings.Contains(grant, "format: date-time") {
		t.Fatalf("SessionGrant.expires_at must be declared date-time")
	}
}

func mustReadOpenAPI(t *testing.T) string {
	t.Helper()
	raw, err := os.ReadFile(mustFindOpenAPIPath(t))
	if err != nil {
		t.Fatalf("read openapi: %v", err)
	}
	return string(raw)
}

func mustFindOpenAPIPath(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}

	for i := 0; i < 20; i++ {
		candidate := filepath.Join(dir, "api", "openapi.yaml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	t.Fatalf("could not locate api/openapi.yaml from cwd")
	return ""
}

func mustExtractSection(t *testing.T, spec, startMarker, endMarker string) string {
	t.Helper()
	start := strings.Index(spec, startMarker)
	if start < 0 {
		t.Fatalf("missing start marker %q", startMarker)
	}
	start += len(startMarker) - 1

	rest := spec[start:]
	end := strings.Index(rest, endMarker)
	if end < 0 {
		t.Fatalf("missing end marker %q (start=%q)", endMarker, startMarker)
	}
	return rest[:end]
}
