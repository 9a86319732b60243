package audio

import (
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
)

// CaptureConfig configures microphone capture.
type CaptureConfig struct {
	// SampleRate requested from the device. Defaults to 48000.
	SampleRate int

	// Channels requested from the device. Defaults to 1.
	Channels int

	// PeriodMs is the device callback period. Defaults to 20ms.
	PeriodMs int

	// FrameBuffer is the capacity of the frames channel. Defaults to 32.
	FrameBuffer int
}

// Capture reads s16le PCM frames from the default capture device. The frame
// sequence is infinite until Stop; a stopped Capture cannot be restarted,
// construct a new one instead.
type Capture struct {
	cfg    CaptureConfig
	malgo  *malgo.AllocatedContext
	device *malgo.Device
	frames chan []byte

	mu      sync.Mutex
	started bool
	stopped bool
	dropped int
}

// NewCapture opens the default capture device. A device or permission
// failure is returned as-is: it is a capability error the caller surfaces to
// the user, not a retryable condition.
func NewCapture(cfg CaptureConfig) (*Capture, error) {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 48000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.PeriodMs <= 0 {
		cfg.PeriodMs = 20
	}
	if cfg.FrameBuffer <= 0 {
		cfg.FrameBuffer = 32
	}

	ctxConfig := malgo.ContextConfig{}
	ctxConfig.ThreadPriority = malgo.ThreadPriorityRealtime
	mctx, err := malgo.InitContext(nil, ctxConfig, nil)
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}

	c := &Capture{
		cfg:    cfg,
		malgo:  mctx,
		frames: make(chan []byte, cfg.FrameBuffer),
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(cfg.Channels)
	deviceConfig.SampleRate = uint32(cfg.SampleRate)
	deviceConfig.PeriodSizeInMilliseconds = uint32(cfg.PeriodMs)

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, pInputSamples []byte, _ uint32) {
			frame := make([]byte, len(pInputSamples))
			copy(frame, pInputSamples)
			select {
			case c.frames <- frame:
			default:
				// The consumer is behind; dropping beats blocking the
				// device callback.
				c.mu.Lock()
				c.dropped++
				c.mu.Unlock()
			}
		},
	}

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, callbacks)
	if err != nil {
		_ = mctx.Uninit()
		return nil, fmt.Errorf("open capture device: %w", err)
	}
	c.device = device
	return c, nil
}

// Start begins capture. Starting a stopped Capture is an error.
func (c *Capture) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return fmt.Errorf("capture already stopped; create a new capture")
	}
	if c.started {
		return nil
	}
	if err := c.device.Start(); err != nil {
		return fmt.Errorf("start capture device: %w", err)
	}
	c.started = true
	return nil
}

// Frames returns the channel of captured PCM frames. The channel is closed
// by Stop.
func (c *Capture) Frames() <-chan []byte {
	return c.frames
}

// Format returns the capture format the device was opened with.
func (c *Capture) Format() Format {
	return Format{
		SampleRate:    c.cfg.SampleRate,
		Channels:      c.cfg.Channels,
		BitsPerSample: 16,
	}
}

// Dropped returns the count of frames discarded because the consumer fell
// behind.
func (c *Capture) Dropped() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// Stop ends capture, closes the frames channel, and releases the device.
func (c *Capture) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	c.mu.Unlock()

	if c.device != nil {
		_ = c.device.Stop()
		c.device.Uninit()
	}
	if c.malgo != nil {
		_ = c.malgo.Uninit()
	}
	close(c.frames)
}
