package audioio

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/zarvent/v2m/internal/config"
	"github.com/zarvent/v2m/internal/logging"
)

// PortAudioSource is the primary capture backend: a portaudio input stream
// whose realtime callback writes into a lock-free ring buffer, drained by a
// background goroutine that forwards Chunks downstream. Each Chunk holds
// whatever the ring had buffered at that tick, up to 4*FramesPerBuffer
// samples, so Chunk sizes vary.
type PortAudioSource struct {
	cfg config.Audio

	mu     sync.Mutex
	stream *portaudio.Stream
	ring   *RingBuffer
	active bool
}

// NewPortAudioSource initializes PortAudio and returns a Source. Initialize
// failure (no driver, no device) is the signal the caller should fall back
// to the malgo-backed BufferedRecorder instead.
func NewPortAudioSource(cfg config.Audio) (*PortAudioSource, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio init: %w", err)
	}

	capacity := cfg.FramesPerBuffer * 16 // headroom: ~16 callback periods
	return &PortAudioSource{
		cfg:  cfg,
		ring: NewRingBuffer(capacity),
	}, nil
}

func (s *PortAudioSource) Start(ctx context.Context) (<-chan Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return nil, fmt.Errorf("audioio: capture already active")
	}

	stream, err := portaudio.OpenDefaultStream(
		s.cfg.Channels, 0, s.cfg.SampleRate, s.cfg.FramesPerBuffer,
		s.ringCallback,
	)
	if err != nil {
		return nil, fmt.Errorf("open audio stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("start audio stream: %w", err)
	}

	s.stream = stream
	s.active = true

	out := make(chan Chunk, 64)
	go s.drain(ctx, out)

	logging.Info(logging.CategoryAudio, "portaudio capture started (%.0fHz, %d buffer)", s.cfg.SampleRate, s.cfg.FramesPerBuffer)
	return out, nil
}

// ringCallback is invoked on PortAudio's realtime thread. It must not block
// or allocate beyond the ring buffer write itself.
func (s *PortAudioSource) ringCallback(in, _ []float32) {
	s.ring.Write(in)
}

// drain periodically pulls samples out of the ring buffer and forwards them
// as chunks, until ctx is cancelled or, after Stop, the ring has been
// emptied; the out channel is closed either way.
func (s *PortAudioSource) drain(ctx context.Context, out chan<- Chunk) {
	defer close(out)
	period := time.Duration(float64(s.cfg.FramesPerBuffer)/s.cfg.SampleRate*1000) * time.Millisecond
	if period <= 0 {
		period = 20 * time.Millisecond
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	buf := make([]float32, s.cfg.FramesPerBuffer*4)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Read before draining: once Stop has cleared active the stream
			// no longer writes, so this pass empties the ring for good.
			s.mu.Lock()
			stopped := !s.active
			s.mu.Unlock()
			for {
				n := s.ring.Read(buf)
				if n == 0 {
					break
				}
				samples := make([]float32, n)
				copy(samples, buf[:n])
				select {
				case out <- Chunk{Timestamp: time.Now(), Samples: samples}:
				case <-ctx.Done():
					return
				}
				if n < len(buf) {
					break
				}
			}
			if stopped {
				return
			}
		}
	}
}

func (s *PortAudioSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active || s.stream == nil {
		return nil
	}
	if err := s.stream.Stop(); err != nil {
		return fmt.Errorf("stop audio stream: %w", err)
	}
	if err := s.stream.Close(); err != nil {
		return fmt.Errorf("close audio stream: %w", err)
	}
	s.stream = nil
	s.active = false
	return nil
}

func (s *PortAudioSource) Close() error {
	_ = s.Stop()
	return portaudio.Terminate()
}

func (s *PortAudioSource) Overruns() uint64 {
	return s.ring.Overruns()
}
