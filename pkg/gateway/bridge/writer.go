package bridge

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

// wsWriter is the write side of a websocket connection. Satisfied by
// *websocket.Conn; tests substitute a fake.
type wsWriter interface {
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

const (
	shutdownFlushBudget = 100 * time.Millisecond
	shutdownFlushFrames = 8
)

// outboundWriter owns all writes to one connection. Frames arrive on two
// queues; priority frames (warnings, errors) preempt queued responses, and a
// response already picked up can still be overtaken by a priority frame that
// lands before it is written.
type outboundWriter struct {
	ws           wsWriter
	ctx          context.Context
	pingInterval time.Duration
	writeTimeout time.Duration
	priority     <-chan []byte
	normal       <-chan []byte
}

func (w *outboundWriter) Run() error {
	var pingCh <-chan time.Time
	if w.pingInterval > 0 {
		ticker := time.NewTicker(w.pingInterval)
		defer ticker.Stop()
		pingCh = ticker.C
	}

	priority := w.priority
	normal := w.normal
	var pendingNormal []byte

	closeConn := func() {
		w.writeClose()
		_ = w.ws.Close()
	}

	for {
		// Hard priority: anything already queued goes out before other work.
		if priority != nil {
			select {
			case payload, ok := <-priority:
				if !ok {
					priority = nil
				} else {
					if err := w.write(payload); err != nil {
						return err
					}
					continue
				}
			default:
			}
		}

		if pendingNormal != nil {
			select {
			case <-w.ctx.Done():
				w.flushPriority(priority)
				closeConn()
				return nil
			case payload, ok := <-priority:
				if !ok {
					priority = nil
					continue
				}
				if err := w.write(payload); err != nil {
					return err
				}
				continue
			case <-pingCh:
				if err := w.ping(); err != nil {
					return err
				}
				continue
			default:
			}
			if err := w.write(pendingNormal); err != nil {
				return err
			}
			pendingNormal = nil
			continue
		}

		if priority == nil && normal == nil {
			closeConn()
			return nil
		}

		select {
		case <-w.ctx.Done():
			w.flushPriority(priority)
			closeConn()
			return nil
		case payload, ok := <-priority:
			if !ok {
				priority = nil
				continue
			}
			if err := w.write(payload); err != nil {
				return err
			}
		case payload, ok := <-normal:
			if !ok {
				normal = nil
				continue
			}
			pendingNormal = payload
		case <-pingCh:
			if err := w.ping(); err != nil {
				return err
			}
		}
	}
}

func (w *outboundWriter) write(payload []byte) error {
	if w.writeTimeout > 0 {
		_ = w.ws.SetWriteDeadline(time.Now().Add(w.writeTimeout))
	}
	return w.ws.WriteMessage(websocket.TextMessage, payload)
}

func (w *outboundWriter) ping() error {
	timeout := w.writeTimeout
	if timeout <= 0 {
		timeout = time.Second
	}
	return w.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(timeout))
}

// flushPriority gives queued warnings and errors a short window to reach the
// client ahead of the close frame.
func (w *outboundWriter) flushPriority(priority <-chan []byte) {
	if priority == nil {
		return
	}
	deadline := time.Now().Add(shutdownFlushBudget)
	for i := 0; i < shutdownFlushFrames; i++ {
		select {
		case payload, ok := <-priority:
			if !ok {
				return
			}
			_ = w.ws.SetWriteDeadline(deadline)
			if err := w.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (w *outboundWriter) writeClose() {
	_ = w.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
}
