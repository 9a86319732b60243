package audio

import "fmt"

// Resampler converts s16le PCM from a capture device's native rate and
// channel count to the engine rate, mono, using linear interpolation. It is
// stateful: the fractional read position and the last sample carry across
// calls so consecutive frames resample as one continuous stream.
//
// A Resampler is not safe for concurrent use.
type Resampler struct {
	srcRate     int
	srcChannels int
	dstRate     int

	step float64
	pos  float64
	last int16
	// primed is false until the first source sample has been seen; before
	// that there is no previous sample to interpolate against.
	primed bool
}

// NewResampler creates a resampler from the source format to dstRate mono.
func NewResampler(srcRate, srcChannels, dstRate int) (*Resampler, error) {
	if srcRate <= 0 || dstRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d -> %d", srcRate, dstRate)
	}
	if srcChannels != 1 && srcChannels != 2 {
		return nil, fmt.Errorf("unsupported channel count %d", srcChannels)
	}
	return &Resampler{
		srcRate:     srcRate,
		srcChannels: srcChannels,
		dstRate:     dstRate,
		step:        float64(srcRate) / float64(dstRate),
	}, nil
}

// Process converts one frame of source PCM and returns the resampled mono
// output. The returned slice is freshly allocated. Odd trailing bytes are
// dropped.
func (r *Resampler) Process(pcm []byte) []byte {
	mono := r.downmix(pcm)
	n := len(mono)
	if n == 0 {
		return nil
	}

	if r.srcRate == r.dstRate {
		out := make([]byte, 2*n)
		for i, s := range mono {
			encodeSample(out, i, s)
		}
		if !r.primed {
			r.primed = true
		}
		r.last = mono[n-1]
		return out
	}

	// Source sample i of this frame sits at position i on the stream
	// timeline; the carried sample from the previous frame sits at -1.
	out := make([]byte, 0, 2*(int(float64(n)/r.step)+2))
	pos := r.pos
	if !r.primed {
		// No previous sample yet: start interpolation at the first sample.
		pos = 0
		r.primed = true
	}
	for ; pos <= float64(n-1); pos += r.step {
		i0 := int(pos)
		frac := pos - float64(i0)
		if pos < 0 {
			i0 = -1
			frac = pos + 1
		}

		var s0, s1 int16
		if i0 < 0 {
			s0, s1 = r.last, mono[0]
		} else if i0+1 < n {
			s0, s1 = mono[i0], mono[i0+1]
		} else {
			s0, s1 = mono[i0], mono[i0]
		}

		v := float64(s0) + (float64(s1)-float64(s0))*frac
		var sample [2]byte
		encodeSample(sample[:], 0, clampSample(v))
		out = append(out, sample[0], sample[1])
	}

	r.pos = pos - float64(n)
	r.last = mono[n-1]
	return out
}

// Reset clears the carried interpolation state. Use between unrelated audio
// streams.
func (r *Resampler) Reset() {
	r.pos = 0
	r.last = 0
	r.primed = false
}

// downmix decodes pcm to mono int16 samples, averaging channel pairs for
// stereo input.
func (r *Resampler) downmix(pcm []byte) []int16 {
	samples := len(pcm) / 2
	if r.srcChannels == 1 {
		out := make([]int16, samples)
		for i := range out {
			out[i] = decodeSample(pcm, i)
		}
		return out
	}

	frames := samples / 2
	out := make([]int16, frames)
	for i := 0; i < frames; i++ {
		l := int32(decodeSample(pcm, 2*i))
		rch := int32(decodeSample(pcm, 2*i+1))
		out[i] = int16((l + rch) / 2)
	}
	return out
}
