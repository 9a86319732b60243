package audio

import (
	"math"
	"testing"
)

func pcmFromSamples(samples []int16) []byte {
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		encodeSample(pcm, i, s)
	}
	return pcm
}

func TestRMSEnergy(t *testing.T) {
	tests := []struct {
		name     string
		samples  []int16
		expected float64
	}{
		{
			name:     "silence",
			samples:  []int16{0, 0, 0, 0},
			expected: 0.0,
		},
		{
			name:     "max amplitude",
			samples:  []int16{32767, 32767, 32767, 32767},
			expected: 1.0,
		},
		{
			name:     "half amplitude",
			samples:  []int16{16384, 16384, 16384, 16384},
			expected: 0.5,
		},
		{
			name:     "mixed signal",
			samples:  []int16{16384, -16384, 16384, -16384},
			expected: 0.5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := RMSEnergy(pcmFromSamples(tt.samples))
			if math.Abs(result-tt.expected) > 0.01 {
				t.Errorf("expected RMS %.3f, got %.3f", tt.expected, result)
			}
		})
	}
}

func TestPeakAmplitude(t *testing.T) {
	tests := []struct {
		name     string
		samples  []int16
		expected float64
	}{
		{
			name:     "silence",
			samples:  []int16{0, 0, 0, 0},
			expected: 0.0,
		},
		{
			name:     "positive peak",
			samples:  []int16{0, 16384, 0, 0},
			expected: 0.5,
		},
		{
			name:     "negative peak",
			samples:  []int16{0, -32768, 0, 0},
			expected: 1.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := PeakAmplitude(pcmFromSamples(tt.samples))
			if math.Abs(result-tt.expected) > 0.01 {
				t.Errorf("expected peak %.3f, got %.3f", tt.expected, result)
			}
		})
	}
}

func TestEngineFormat(t *testing.T) {
	f := EngineFormat()

	// 24kHz, mono, 16-bit = 48000 bytes/second
	if f.BytesPerSecond() != 48000 {
		t.Errorf("expected 48000 bytes/sec, got %d", f.BytesPerSecond())
	}
	if f.BytesForDurationMs(1000) != 48000 {
		t.Errorf("expected 48000 bytes for 1s, got %d", f.BytesForDurationMs(1000))
	}
	if f.DurationMs(48000) != 1000 {
		t.Errorf("expected 1000ms for 48000 bytes, got %d", f.DurationMs(48000))
	}

	// Byte counts align to whole samples.
	stereo := Format{SampleRate: 44100, Channels: 2, BitsPerSample: 16}
	if n := stereo.BytesForDurationMs(10); n%4 != 0 {
		t.Errorf("expected frame-aligned byte count, got %d", n)
	}
}

func TestRingBuffer(t *testing.T) {
	f := EngineFormat()
	rb := NewRingBuffer(f, 10) // 480 bytes

	rb.Write([]byte{1, 2, 3, 4})
	if rb.Filled() != 4 {
		t.Fatalf("filled=%d, want 4", rb.Filled())
	}
	got := rb.Read()
	if len(got) != 4 || got[0] != 1 || got[3] != 4 {
		t.Fatalf("read=%v, want [1 2 3 4]", got)
	}

	// Overfill: the oldest bytes are overwritten, order preserved.
	big := make([]byte, f.BytesForDurationMs(10)+2)
	for i := range big {
		big[i] = byte(i % 251)
	}
	rb.Write(big)
	got = rb.Read()
	if len(got) != f.BytesForDurationMs(10) {
		t.Fatalf("read len=%d, want %d", len(got), f.BytesForDurationMs(10))
	}
	if got[len(got)-1] != big[len(big)-1] {
		t.Errorf("last byte=%d, want %d", got[len(got)-1], big[len(big)-1])
	}

	rb.Clear()
	if rb.Filled() != 0 {
		t.Errorf("filled after clear=%d, want 0", rb.Filled())
	}
}

func TestPCMToWAV(t *testing.T) {
	pcm := pcmFromSamples([]int16{100, -100, 200, -200})
	wav := PCMToWAV(pcm, EngineFormat())

	if len(wav) != 44+len(pcm) {
		t.Fatalf("wav len=%d, want %d", len(wav), 44+len(pcm))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Errorf("bad RIFF/WAVE markers: %q %q", wav[0:4], wav[8:12])
	}
	// Sample rate field at offset 24.
	rate := int(wav[24]) | int(wav[25])<<8 | int(wav[26])<<16 | int(wav[27])<<24
	if rate != 24000 {
		t.Errorf("sample rate=%d, want 24000", rate)
	}
}
