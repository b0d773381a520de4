//go:build cgo && whisper_go
// +build cgo,whisper_go

package whisperio

import (
	"fmt"
	"sync"
	"time"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/zarvent/v2m/internal/config"
)

// whisperBackend wraps the real whisper.cpp Go bindings.
type whisperBackend struct {
	mu      sync.Mutex
	model   *whisper.Model
	context *whisper.Context
}

func newBackend(cfg config.Whisper) (backend, error) {
	model, err := whisper.New(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("load model %s: %w", cfg.ModelPath, err)
	}

	ctx, err := model.NewContext()
	if err != nil {
		model.Close()
		return nil, fmt.Errorf("create whisper context: %w", err)
	}
	if cfg.Language != "" && cfg.Language != "auto" {
		ctx.SetLanguage(cfg.Language)
	}

	return &whisperBackend{model: model, context: ctx}, nil
}

func (b *whisperBackend) Process(samples []float32, opts Options) ([]Segment, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if opts.Language != "" && opts.Language != "auto" {
		b.context.SetLanguage(opts.Language)
	}
	// Set on every call, including to "", so a cleared context window
	// does not leave the previous call's prompt in place.
	b.context.SetInitialPrompt(opts.Prompt)
	if opts.Greedy {
		// Provisional inference: cheapest possible decode, no temperature
		// fallback retries, so it never lags behind the next audio chunk.
		b.context.SetBeamSize(1)
		b.context.SetTemperature(0)
		b.context.SetTemperatureFallback(0)
	} else {
		beam := opts.BeamSize
		if beam <= 0 {
			beam = 5
		}
		b.context.SetBeamSize(beam)
		b.context.SetTemperature(float32(opts.Temperature))
		b.context.SetTemperatureFallback(float32(opts.Temperature) + 0.2)
	}
	// opts.VADFilter is accepted for interface parity with the final-inference
	// contract; this binding has no separate VAD-filter toggle to set.
	if err := b.context.Process(samples, nil); err != nil {
		return nil, fmt.Errorf("whisper process: %w", err)
	}

	var out []Segment
	for _, seg := range b.context.Segments() {
		out = append(out, Segment{
			Text:  seg.Text,
			Start: time.Duration(seg.Start),
			End:   time.Duration(seg.End),
		})
	}
	return out, nil
}

func (b *whisperBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.context != nil {
		b.context.Free()
		b.context = nil
	}
	if b.model != nil {
		b.model.Close()
		b.model = nil
	}
	return nil
}
