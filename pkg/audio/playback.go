package audio

import (
	"log/slog"
	"math"
	"sync"
	"time"
)

const (
	// DefaultLookaheadMs is how much audio is buffered before playback of a
	// new utterance starts. Trades first-sound latency for gap resistance.
	DefaultLookaheadMs = 200

	// DefaultCrossfadeMs is the overlap window applied at the boundary
	// between consecutive enqueued frames so chunk edges never click.
	DefaultCrossfadeMs = 10
)

// PlayerOptions tune the playback scheduler. Zero values take the defaults.
type PlayerOptions struct {
	LookaheadMs int
	CrossfadeMs int
	Logger      *slog.Logger

	// Now substitutes the clock in tests.
	Now func() time.Time
}

// Player schedules gapless playback of synthesized audio frames. Frames are
// played strictly in enqueue order; consecutive frames are joined with an
// equal-power crossfade. Playback starts once the lookahead buffer is
// filled, or immediately on Complete for utterances shorter than the
// lookahead.
//
// Player implements io.Reader for a pull-model output device. When the
// device pulls faster than frames arrive (underrun), the Player emits
// silence rather than stuttering and records a quality-degradation event.
type Player struct {
	format    Format
	lookahead int // bytes
	crossfade int // bytes
	logger    *slog.Logger
	now       func() time.Time

	mu           sync.Mutex
	pending      []byte
	tail         []byte // held crossfade tail of the last enqueued frame
	started      bool
	completing   bool
	inGap        bool
	underruns    int
	scheduledEnd time.Time
}

// NewPlayer creates a playback scheduler for the given output format.
func NewPlayer(format Format, opts PlayerOptions) *Player {
	if opts.LookaheadMs <= 0 {
		opts.LookaheadMs = DefaultLookaheadMs
	}
	if opts.CrossfadeMs <= 0 {
		opts.CrossfadeMs = DefaultCrossfadeMs
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Player{
		format:    format,
		lookahead: format.BytesForDurationMs(opts.LookaheadMs),
		crossfade: format.BytesForDurationMs(opts.CrossfadeMs),
		logger:    opts.Logger,
		now:       opts.Now,
	}
}

// Enqueue appends a synthesized frame to the playback queue.
func (p *Player) Enqueue(frame []byte) {
	if len(frame) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.completing {
		// A new utterance after the previous one finished.
		p.completing = false
	}

	if p.tail == nil {
		p.appendWithHoldback(frame)
	} else {
		p.mixBoundary(frame)
	}

	if !p.started && len(p.pending) >= p.lookahead {
		p.started = true
	}
	p.updateScheduleLocked()
}

// Complete marks the current utterance finished: the held crossfade tail is
// released and playback starts even below the lookahead threshold. Once the
// buffer drains the Player goes idle until the next Enqueue.
func (p *Player) Complete() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.releaseTailLocked()
	p.completing = true
	if len(p.pending) > 0 {
		p.started = true
	}
	p.updateScheduleLocked()
}

// Reset drops all queued audio immediately. Used on barge-in.
func (p *Player) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = nil
	p.tail = nil
	p.started = false
	p.completing = false
	p.inGap = false
	p.scheduledEnd = p.now()
}

// Read implements io.Reader for the output device. It never blocks: silence
// is returned whenever no scheduled audio is available.
func (p *Player) Read(buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started || len(p.pending) == 0 {
		if p.started && len(p.pending) == 0 {
			if p.completing {
				// Utterance fully played; back to idle.
				p.started = false
				p.completing = false
			} else if !p.inGap {
				p.underruns++
				p.inGap = true
				p.logger.Warn("playback underrun, emitting silence",
					"underruns", p.underruns,
				)
			}
		}
		for i := range buf {
			buf[i] = 0
		}
		return len(buf), nil
	}

	p.inGap = false
	n := copy(buf, p.pending)
	p.pending = p.pending[n:]
	for i := n; i < len(buf); i++ {
		buf[i] = 0
	}
	return len(buf), nil
}

// ScheduledEnd returns the wall-clock time playback of the last enqueued
// frame is scheduled to complete. Accurate even though playback is decoupled
// from frame arrival.
func (p *Player) ScheduledEnd() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.scheduledEnd
}

// Speaking reports whether scheduled audio remains unplayed.
func (p *Player) Speaking() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started && len(p.pending) > 0
}

// Underruns returns the count of playback gaps filled with silence.
func (p *Player) Underruns() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.underruns
}

// BufferedMs returns the duration of queued, unplayed audio.
func (p *Player) BufferedMs() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.format.DurationMs(len(p.pending) + len(p.tail))
}

// appendWithHoldback queues frame, holding back its final crossfade window
// for mixing against the next frame.
func (p *Player) appendWithHoldback(frame []byte) {
	hold := p.crossfade
	if hold > len(frame) {
		hold = len(frame)
	}
	cut := len(frame) - hold
	p.pending = append(p.pending, frame[:cut]...)
	p.tail = append([]byte(nil), frame[cut:]...)
}

// mixBoundary overlap-adds the held tail of the previous frame with the head
// of the next one using an equal-power fade, then queues the remainder.
func (p *Player) mixBoundary(frame []byte) {
	tail := p.tail
	p.tail = nil

	window := len(tail)
	if window > len(frame) {
		window = len(frame)
	}
	window -= window % 2

	samples := window / 2
	mixed := make([]byte, window)
	for i := 0; i < samples; i++ {
		t := float64(i+1) / float64(samples+1)
		out := float64(decodeSample(tail, i))*math.Cos(t*math.Pi/2) +
			float64(decodeSample(frame, i))*math.Sin(t*math.Pi/2)
		encodeSample(mixed, i, clampSample(out))
	}

	p.pending = append(p.pending, mixed...)
	if window < len(tail) {
		// The new frame was shorter than the crossfade window; emit the
		// unmixed remainder of the tail so no audio is lost.
		p.pending = append(p.pending, tail[window:]...)
	}
	p.appendWithHoldback(frame[window:])
}

func (p *Player) releaseTailLocked() {
	if len(p.tail) > 0 {
		p.pending = append(p.pending, p.tail...)
		p.tail = nil
	}
}

func (p *Player) updateScheduleLocked() {
	outstanding := len(p.pending) + len(p.tail)
	end := p.now().Add(time.Duration(p.format.DurationMs(outstanding)) * time.Millisecond)
	if end.After(p.scheduledEnd) {
		p.scheduledEnd = end
	}
}
