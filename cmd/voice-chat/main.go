// Command voice-chat is a terminal voice client for the gateway: microphone
// in, synthesized speech out, transcripts printed as they stream.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/term"

	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/audio"
	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/gateway/protocol"
	voicebridge "github.com/Thabonel/wheels-wins-landing-page-sub001/sdk"
)

const clientVersion = "0.3.0"

type options struct {
	gateway        string
	identityToken  string
	language       string
	voice          string
	timezone       string
	bargeThreshold float64
	noMic          bool
	noSpeaker      bool
	debug          bool
}

func main() {
	os.Exit(runMain())
}

func runMain() int {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintln(os.Stderr, "voice-chat: load .env:", err)
	}

	var opt options
	flag.StringVar(&opt.gateway, "gateway", "http://localhost:8080", "Gateway base URL")
	flag.StringVar(&opt.identityToken, "identity-token", strings.TrimSpace(os.Getenv("BRIDGE_IDENTITY_TOKEN")), "User identity token (also reads BRIDGE_IDENTITY_TOKEN)")
	flag.StringVar(&opt.language, "lang", "en", "Transcription language hint")
	flag.StringVar(&opt.voice, "voice", "", "Synthesized voice override (optional)")
	flag.StringVar(&opt.timezone, "timezone", "", "IANA timezone sent with the session (optional)")
	flag.Float64Var(&opt.bargeThreshold, "barge-threshold", voicebridge.DefaultBargeInThreshold, "Mic energy (0..1) that interrupts assistant speech")
	flag.BoolVar(&opt.noMic, "no-mic", false, "Run without microphone capture (listen-only debugging)")
	flag.BoolVar(&opt.noSpeaker, "no-speaker", false, "Do not open an output device; audio is scheduled and discarded")
	flag.BoolVar(&opt.debug, "debug", false, "Verbose logging to stderr")
	flag.Parse()

	if strings.TrimSpace(opt.identityToken) == "" {
		fmt.Fprintln(os.Stderr, "--identity-token is required (or set BRIDGE_IDENTITY_TOKEN)")
		return 2
	}
	if opt.bargeThreshold <= 0 || opt.bargeThreshold > 1 {
		fmt.Fprintln(os.Stderr, "--barge-threshold must be in (0, 1]")
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if opt.debug {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	client := voicebridge.NewClient(
		voicebridge.WithBaseURL(opt.gateway),
		voicebridge.WithIdentityToken(opt.identityToken),
		voicebridge.WithLogger(logger),
	)

	grant, err := client.CreateSession(ctx, voicebridge.SessionRequest{
		Language: opt.language,
		Timezone: opt.timezone,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "create session:", err)
		return 1
	}
	fmt.Printf("session granted, expires %s\n", grant.ExpiresAt.Local().Format("15:04:05"))

	player := audio.NewPlayer(audio.EngineFormat(), audio.PlayerOptions{Logger: logger})

	if opt.noSpeaker {
		go discardPlayback(ctx, player)
	} else {
		speaker, err := audio.NewSpeaker(audio.EngineFormat(), player)
		if err != nil {
			fmt.Fprintln(os.Stderr, "open speaker:", err)
			return 1
		}
		defer speaker.Close()
	}

	var (
		mic       <-chan []byte
		micFormat audio.Format
		muted     atomic.Bool
		capture   *audio.Capture
	)
	if !opt.noMic {
		capture, err = audio.NewCapture(audio.CaptureConfig{})
		if err != nil {
			fmt.Fprintln(os.Stderr, "open microphone:", err)
			return 1
		}
		if err := capture.Start(); err != nil {
			fmt.Fprintln(os.Stderr, "start microphone:", err)
			return 1
		}
		defer capture.Stop()
		micFormat = capture.Format()
		mic = muteFilter(ctx, capture.Frames(), &muted)
	}

	sess, err := client.Dial(ctx, grant, voicebridge.VoiceConfig{
		Voice:    opt.voice,
		Language: opt.language,
		ClientInfo: protocol.HelloClient{
			Name:     "voice-chat",
			Version:  clientVersion,
			Platform: runtime.GOOS,
		},
		Mic:              mic,
		MicFormat:        micFormat,
		Player:           player,
		BargeInThreshold: opt.bargeThreshold,
		Logger:           logger,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "dial:", err)
		return 1
	}
	defer sess.Close()

	restore, keys := rawKeys(ctx)
	defer restore()

	p := &printer{debug: opt.debug}
	p.line("connected. [m] mute  [q] quit")

	for {
		select {
		case <-ctx.Done():
			p.line("interrupted, closing session")
			return 0

		case key := <-keys:
			switch key {
			case 'q', 'Q', 0x03, 0x1b:
				p.line("closing session")
				if opt.debug && capture != nil {
					p.line(fmt.Sprintf("mic frames dropped: %d, playback underruns: %d",
						capture.Dropped(), player.Underruns()))
				}
				return 0
			case 'm', 'M':
				if muted.Load() {
					muted.Store(false)
					p.line("microphone live")
				} else {
					muted.Store(true)
					p.line("microphone muted")
				}
			}

		case u, ok := <-sess.Updates():
			if !ok {
				if err := sess.Err(); err != nil {
					restore()
					fmt.Fprintln(os.Stderr, "session error:", err)
					return 1
				}
				p.line("session ended")
				return 0
			}
			p.print(u)
		}
	}
}

// discardPlayback keeps the scheduler draining at wall-clock rate when no
// output device is open.
func discardPlayback(ctx context.Context, player *audio.Player) {
	format := audio.EngineFormat()
	frame := make([]byte, format.SampleRate/50*format.Channels*format.BitsPerSample/8)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = player.Read(frame)
		}
	}
}

// muteFilter drops frames while muted, so muting reads as silence-free gaps
// rather than a stream of zeroed audio the engine might transcribe around.
func muteFilter(ctx context.Context, in <-chan []byte, muted *atomic.Bool) <-chan []byte {
	out := make(chan []byte, 8)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case frame, ok := <-in:
				if !ok {
					return
				}
				if muted.Load() {
					continue
				}
				select {
				case out <- frame:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// rawKeys switches the terminal into raw mode and yields single keypresses.
// On a non-terminal stdin the channel simply never delivers.
func rawKeys(ctx context.Context) (restore func(), keys <-chan byte) {
	ch := make(chan byte, 8)
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return func() {}, ch
	}
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return func() {}, ch
	}
	go func() {
		buf := make([]byte, 1)
		for {
			n, err := os.Stdin.Read(buf)
			if err != nil || n == 0 {
				return
			}
			select {
			case ch <- buf[0]:
			case <-ctx.Done():
				return
			}
		}
	}()
	var restored atomic.Bool
	return func() {
		if !restored.Swap(true) {
			_ = term.Restore(fd, oldState)
		}
	}, ch
}

// printer renders session updates. Raw mode needs explicit carriage returns,
// so every line ends \r\n.
type printer struct {
	debug         bool
	assistantOpen bool
}

func (p *printer) line(s string) {
	fmt.Printf("%s\r\n", s)
}

func (p *printer) print(u voicebridge.Update) {
	switch u.Kind {
	case voicebridge.UpdateStatus:
		p.closeAssistant()
		p.line("· " + u.Text)
	case voicebridge.UpdateUserPartial:
		if p.debug {
			p.line("you (partial): " + u.Text)
		}
	case voicebridge.UpdateUserFinal:
		p.closeAssistant()
		p.line("you: " + u.Text)
	case voicebridge.UpdateAssistantDelta:
		if !p.assistantOpen {
			fmt.Print("assistant: ")
			p.assistantOpen = true
		}
		fmt.Print(strings.ReplaceAll(u.Text, "\n", "\r\n"))
	case voicebridge.UpdateAssistantFinal:
		if p.assistantOpen {
			fmt.Print("\r\n")
			p.assistantOpen = false
		} else {
			p.line("assistant: " + u.Text)
		}
	case voicebridge.UpdateWarning:
		p.closeAssistant()
		p.line("! " + u.Text)
	}
}

func (p *printer) closeAssistant() {
	if p.assistantOpen {
		fmt.Print("\r\n")
		p.assistantOpen = false
	}
}
