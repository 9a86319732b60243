package mw

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"log/slog"
)

// plainWriter records status only and deliberately implements no optional
// interfaces, so the wrap must not advertise any either.
type plainWriter struct {
	header http.Header
	status int
	wrote  bool
	body   bytes.Buffer
}

func (w *plainWriter) Header() http.Header {
	if w.header == nil {
		w.header = make(http.Header)
	}
	return w.header
}

func (w *plainWriter) WriteHeader(code int) {
	if !w.wrote {
		w.status = code
		w.wrote = true
	}
}

func (w *plainWriter) Write(p []byte) (int, error) {
	if !w.wrote {
		w.WriteHeader(http.StatusOK)
	}
	return w.body.Write(p)
}

type flushRecorder struct {
	plainWriter
	flushed bool
}

func (w *flushRecorder) Flush() { w.flushed = true }

type hijackRecorder struct {
	plainWriter
	hijacked bool
}

func (w *hijackRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	w.hijacked = true
	return nil, nil, nil
}

type fullRecorder struct {
	plainWriter
	flushed  bool
	hijacked bool
}

func (w *fullRecorder) Flush() { w.flushed = true }

func (w *fullRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	w.hijacked = true
	return nil, nil, nil
}

func loggedRequest(t *testing.T, w http.ResponseWriter, path string, inner http.HandlerFunc) map[string]any {
	t.Helper()
	var buf bytes.Buffer
	h := AccessLog(slog.New(slog.NewJSONHandler(&buf, nil)), inner)
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req = req.WithContext(WithRequestID(context.Background(), "req_test"))
	h.ServeHTTP(w, req)

	line := strings.TrimSpace(buf.String())
	if line == "" {
		t.Fatal("expected a log record")
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		t.Fatalf("unmarshal log: %v", err)
	}
	return rec
}

func TestAccessLog_WebSocketUpgradeKeepsHijacker(t *testing.T) {
	w := &hijackRecorder{}

	rec := loggedRequest(t, w, "/v1/voice/bridge", func(rw http.ResponseWriter, r *http.Request) {
		hj, ok := rw.(http.Hijacker)
		if !ok {
			t.Fatalf("upgrade needs http.Hijacker to survive the wrap")
		}
		if _, _, err := hj.Hijack(); err != nil {
			t.Fatalf("hijack: %v", err)
		}
	})

	if !w.hijacked {
		t.Fatalf("underlying hijacker was never invoked")
	}
	if got, _ := rec["status"].(float64); int(got) != http.StatusSwitchingProtocols {
		t.Fatalf("logged status=%v, want %d after hijack", rec["status"], http.StatusSwitchingProtocols)
	}
}

func TestAccessLog_FlusherSurvivesWrap(t *testing.T) {
	w := &flushRecorder{}

	loggedRequest(t, w, "/healthz", func(rw http.ResponseWriter, r *http.Request) {
		fl, ok := rw.(http.Flusher)
		if !ok {
			t.Fatalf("expected http.Flusher to survive the wrap")
		}
		fl.Flush()
	})

	if !w.flushed {
		t.Fatalf("underlying flusher was never invoked")
	}
}

func TestAccessLog_BothInterfacesSurviveWrap(t *testing.T) {
	w := &fullRecorder{}

	loggedRequest(t, w, "/v1/voice/bridge", func(rw http.ResponseWriter, r *http.Request) {
		rw.(http.Flusher).Flush()
		_, _, _ = rw.(http.Hijacker).Hijack()
	})

	if !w.flushed || !w.hijacked {
		t.Fatalf("flushed=%v hijacked=%v, want both", w.flushed, w.hijacked)
	}
}

func TestAccessLog_PlainWriterStaysPlain(t *testing.T) {
	loggedRequest(t, &plainWriter{}, "/healthz", func(rw http.ResponseWriter, r *http.Request) {
		if _, ok := rw.(http.Flusher); ok {
			t.Fatalf("wrap must not advertise Flusher the base writer lacks")
		}
		if _, ok := rw.(http.Hijacker); ok {
			t.Fatalf("wrap must not advertise Hijacker the base writer lacks")
		}
		_, _ = rw.Write([]byte("ok"))
	})
}

func TestAccessLog_RecordsStatus(t *testing.T) {
	cases := []struct {
		name  string
		inner http.HandlerFunc
		want  int
	}{
		{
			name:  "explicit",
			inner: func(rw http.ResponseWriter, r *http.Request) { rw.WriteHeader(http.StatusCreated) },
			want:  http.StatusCreated,
		},
		{
			name:  "implicit write is 200",
			inner: func(rw http.ResponseWriter, r *http.Request) { _, _ = rw.Write([]byte("ok")) },
			want:  http.StatusOK,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := loggedRequest(t, &plainWriter{}, "/healthz", tc.inner)
			if got, _ := rec["status"].(float64); int(got) != tc.want {
				t.Fatalf("logged status=%v, want %d", rec["status"], tc.want)
			}
			if rec["request_id"] != "req_test" {
				t.Fatalf("request_id=%v", rec["request_id"])
			}
		})
	}
}

func TestAccessLog_NilLoggerStillServes(t *testing.T) {
	h := AccessLog(nil, http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusNoContent)
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("status=%d", rr.Code)
	}
}
