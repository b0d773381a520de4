package audioio

import (
	"fmt"
	"math"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/zarvent/v2m/internal/config"
	"github.com/zarvent/v2m/internal/logging"
)

// maxBulkSeconds bounds the pre-allocated buffer for non-streaming fallback
// recording — long enough for one dictation utterance without needing a
// ring's wraparound semantics.
const maxBulkSeconds = 120

// BufferedRecorder is the non-streaming fallback capture path: one
// pre-allocated contiguous buffer, not a ring. It is used only when the
// lock-free streaming engine (PortAudioSource) cannot initialize, and it
// disables streaming entirely — callers get one bulk []float32 back from
// Stop, never an intermediate Chunk.
type BufferedRecorder struct {
	cfg config.Audio

	mu      sync.Mutex
	mctx    *malgo.AllocatedContext
	device  *malgo.Device
	buf     []float32
	written int
	active  bool
}

// NewBufferedRecorder initializes a miniaudio context for bulk capture.
func NewBufferedRecorder(cfg config.Audio) (*BufferedRecorder, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(msg string) {
		logging.Debug(logging.CategoryAudio, "malgo: %s", msg)
	})
	if err != nil {
		return nil, fmt.Errorf("malgo init: %w", err)
	}

	capacity := int(cfg.SampleRate) * maxBulkSeconds
	return &BufferedRecorder{
		cfg:  cfg,
		mctx: mctx,
		buf:  make([]float32, capacity),
	}, nil
}

// Start begins writing captured samples into the pre-allocated buffer. Once
// the buffer fills, further samples are dropped — there is no ring to wrap
// into, by design.
func (r *BufferedRecorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active {
		return fmt.Errorf("audioio: buffered recording already active")
	}
	r.written = 0

	deviceCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceCfg.Capture.Format = malgo.FormatF32
	deviceCfg.Capture.Channels = uint32(r.cfg.Channels)
	deviceCfg.SampleRate = uint32(r.cfg.SampleRate)
	deviceCfg.PeriodSizeInFrames = uint32(r.cfg.FramesPerBuffer)

	device, err := malgo.InitDevice(r.mctx.Context, deviceCfg, malgo.DeviceCallbacks{
		Data: func(_, in []byte, _ uint32) {
			r.append(bytesToFloat32(in))
		},
	})
	if err != nil {
		return fmt.Errorf("init malgo device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("start malgo device: %w", err)
	}

	r.device = device
	r.active = true
	logging.Info(logging.CategoryAudio, "non-streaming bulk capture started (%.0fHz, max %ds)", r.cfg.SampleRate, maxBulkSeconds)
	return nil
}

// append copies samples into the contiguous buffer, dropping the newest
// samples once the pre-allocated capacity is exhausted.
func (r *BufferedRecorder) append(samples []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room := len(r.buf) - r.written
	if room <= 0 {
		return
	}
	if len(samples) > room {
		samples = samples[:room]
	}
	copy(r.buf[r.written:], samples)
	r.written += len(samples)
}

// Stop halts capture and returns everything recorded, copied out of the
// internal buffer so a subsequent Start can reuse it.
func (r *BufferedRecorder) Stop() []float32 {
	r.mu.Lock()
	device := r.device
	r.device = nil
	r.active = false
	out := make([]float32, r.written)
	copy(out, r.buf[:r.written])
	r.mu.Unlock()

	if device != nil {
		_ = device.Stop()
		device.Uninit()
	}
	return out
}

func (r *BufferedRecorder) Close() error {
	_ = r.Stop()
	if r.mctx != nil {
		return r.mctx.Uninit()
	}
	return nil
}

// bytesToFloat32 decodes a little-endian float32 PCM byte slice into a
// newly allocated slice of samples, one element at a time.
func bytesToFloat32(b []byte) []float32 {
	n := len(b) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		bits := uint32(b[i*4]) | uint32(b[i*4+1])<<8 | uint32(b[i*4+2])<<16 | uint32(b[i*4+3])<<24
		out[i] = math.Float32frombits(bits)
	}
	return out
}
