package audioio

import "sync/atomic"

// RingBuffer is a wait-free single-producer/single-consumer circular buffer
// of float32 audio samples. The producer runs on the audio backend's
// realtime callback thread and must never block or allocate; the consumer
// drains it from an ordinary goroutine. Capacity is rounded up to a power of
// two so index wrapping is a mask instead of a modulo.
type RingBuffer struct {
	buf      []float32
	mask     uint64
	writePos atomic.Uint64
	readPos  atomic.Uint64
	overruns atomic.Uint64
}

// NewRingBuffer allocates a ring buffer able to hold at least capacity
// samples.
func NewRingBuffer(capacity int) *RingBuffer {
	size := 1
	for size < capacity {
		size <<= 1
	}
	return &RingBuffer{
		buf:  make([]float32, size),
		mask: uint64(size - 1),
	}
}

// Write copies samples into the buffer. Called only from the producer
// thread; only it ever touches writePos, and only Read ever touches
// readPos, preserving the single-producer/single-consumer invariant. If the
// consumer hasn't kept up and there isn't room for all of samples, the
// newest samples are dropped and the overrun counter is incremented —
// capture never blocks the audio callback and never rewrites data the
// consumer hasn't read yet.
func (r *RingBuffer) Write(samples []float32) {
	wp := r.writePos.Load()
	rp := r.readPos.Load()
	capacity := r.mask + 1

	free := capacity - (wp - rp)
	if uint64(len(samples)) > free {
		r.overruns.Add(1)
		samples = samples[:free]
	}

	for i, s := range samples {
		r.buf[(wp+uint64(i))&r.mask] = s
	}
	r.writePos.Store(wp + uint64(len(samples)))
}

// Read drains up to len(out) available samples into out, returning the
// number copied. Called only from the consumer goroutine.
func (r *RingBuffer) Read(out []float32) int {
	wp := r.writePos.Load()
	rp := r.readPos.Load()

	available := wp - rp
	n := uint64(len(out))
	if n > available {
		n = available
	}
	for i := uint64(0); i < n; i++ {
		out[i] = r.buf[(rp+i)&r.mask]
	}
	r.readPos.Store(rp + n)
	return int(n)
}

// Available reports how many unread samples are currently buffered.
func (r *RingBuffer) Available() int {
	return int(r.writePos.Load() - r.readPos.Load())
}

// Overruns reports how many times the producer has had to drop unread
// samples because the consumer fell behind.
func (r *RingBuffer) Overruns() uint64 {
	return r.overruns.Load()
}
