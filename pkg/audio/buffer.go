package audio

import "sync"

// RingBuffer is a fixed-size circular PCM buffer that overwrites the oldest
// data when full. Used to hold the most recent capture window for barge-in
// energy checks.
type RingBuffer struct {
	mu       sync.Mutex
	data     []byte
	size     int
	writePos int
	filled   int
}

// NewRingBuffer creates a ring buffer holding exactly durationMs of audio in
// the given format.
func NewRingBuffer(format Format, durationMs int) *RingBuffer {
	size := format.BytesForDurationMs(durationMs)
	if size < 2 {
		size = 2
	}
	return &RingBuffer{
		data: make([]byte, size),
		size: size,
	}
}

// Write adds data, overwriting old data if necessary.
func (r *RingBuffer) Write(data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, b := range data {
		r.data[r.writePos] = b
		r.writePos = (r.writePos + 1) % r.size
		if r.filled < r.size {
			r.filled++
		}
	}
}

// Read returns the buffered data in chronological order.
func (r *RingBuffer) Read() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.filled < r.size {
		result := make([]byte, r.filled)
		copy(result, r.data[:r.filled])
		return result
	}

	result := make([]byte, r.size)
	firstPart := r.size - r.writePos
	copy(result[:firstPart], r.data[r.writePos:])
	copy(result[firstPart:], r.data[:r.writePos])
	return result
}

// RMSEnergy returns the RMS energy of the buffered window.
func (r *RingBuffer) RMSEnergy() float64 {
	return RMSEnergy(r.Read())
}

// Clear resets the buffer.
func (r *RingBuffer) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writePos = 0
	r.filled = 0
}

// Filled returns how many bytes are currently held.
func (r *RingBuffer) Filled() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.filled
}
