package audio

import (
	"fmt"
	"io"
	"time"

	"github.com/ebitengine/oto/v3"
)

// Speaker drives the default output device from a pull source, normally a
// *Player. The oto buffer is kept small (~100ms) so barge-in resets take
// effect quickly.
type Speaker struct {
	otoCtx *oto.Context
	player *oto.Player
}

// NewSpeaker opens the output device for the given format and starts pulling
// from src.
func NewSpeaker(format Format, src io.Reader) (*Speaker, error) {
	opts := &oto.NewContextOptions{
		SampleRate:   format.SampleRate,
		ChannelCount: format.Channels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   100 * time.Millisecond,
	}
	otoCtx, ready, err := oto.NewContext(opts)
	if err != nil {
		return nil, fmt.Errorf("open output device: %w", err)
	}
	<-ready

	s := &Speaker{
		otoCtx: otoCtx,
		player: otoCtx.NewPlayer(src),
	}
	s.player.Play()
	return s, nil
}

// Close stops playback and releases the device.
func (s *Speaker) Close() {
	if s.player != nil {
		_ = s.player.Close()
	}
}
