// Package whisperio owns the persistent whisper.cpp model and serializes all
// inference through a single worker goroutine, since the underlying GPU/CPU
// context is not safe to drive from multiple goroutines concurrently.
package whisperio

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/zarvent/v2m/internal/config"
	"github.com/zarvent/v2m/internal/logging"
	"github.com/zarvent/v2m/internal/telemetry"
)

var (
	ErrModelLoad      = errors.New("whisperio: failed to load model")
	ErrWorkerStopped  = errors.New("whisperio: worker has been stopped")
	ErrEmptyAudio     = errors.New("whisperio: empty audio buffer")
)

// Segment is one piece of transcribed text, mirroring whisper.cpp's segment
// output.
type Segment struct {
	Text  string
	Start time.Duration
	End   time.Duration
}

// Options tunes one inference call. Greedy selects the fast, low-quality
// decoding path used for provisional (in-progress) transcription; final
// transcription leaves Greedy false and supplies BeamSize/Temperature from
// config instead.
type Options struct {
	Language    string
	Prompt      string
	Greedy      bool
	BeamSize    int
	Temperature float64
	VADFilter   bool
}

// backend is the subset of the whisper.cpp Go bindings this package depends
// on; it is implemented for real by whisperBackend (build-tagged) and by a
// stub that always errors when the bindings aren't compiled in.
type backend interface {
	Process(samples []float32, opts Options) ([]Segment, error)
	Close() error
}

// job is one unit of inference work submitted to the worker goroutine.
type job struct {
	ctx     context.Context
	samples []float32
	opts    Options
	result  chan<- jobResult
}

type jobResult struct {
	segments []Segment
	err      error
}

// Worker owns the model handle and a single-flight FIFO job queue, so
// inference requests from overlapping provisional/final passes never race on
// the underlying GPU context.
type Worker struct {
	cfg     config.Whisper
	backend backend
	jobs    chan job
	done    chan struct{}
	reg     *telemetry.Registry
}

// NewWorker loads the model described by cfg. When the load fails and
// cfg.Device is "gpu", it calls newBackend once more with Device set to
// "cpu" before giving up. The cgo backend does not read Device or set a
// compute precision, so that second attempt loads the model the same way
// as the first. reg may be nil; when non-nil it is marked model_loaded on success
// and records per-job queue depth and inference latency.
func NewWorker(cfg config.Whisper, reg *telemetry.Registry) (*Worker, error) {
	b, err := newBackend(cfg)
	if err != nil {
		if cfg.Device == "gpu" {
			logging.Warn(logging.CategoryWhisper, "GPU model load failed (%v), retrying on CPU", err)
			cpuCfg := cfg
			cpuCfg.Device = "cpu"
			b, err = newBackend(cpuCfg)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrModelLoad, err)
		}
	}

	logCurrentMemory()

	w := &Worker{
		cfg:     cfg,
		backend: b,
		jobs:    make(chan job, 8),
		done:    make(chan struct{}),
		reg:     reg,
	}
	if reg != nil {
		reg.SetModelLoaded(true)
	}
	go w.loop()
	return w, nil
}

func (w *Worker) recordInference(d time.Duration) {
	if w.reg != nil {
		w.reg.RecordInference(d)
	}
}

func (w *Worker) loop() {
	for {
		select {
		case j, ok := <-w.jobs:
			if !ok {
				return
			}
			if j.ctx.Err() != nil {
				j.result <- jobResult{err: j.ctx.Err()}
				continue
			}
			start := time.Now()
			segs, err := w.backend.Process(j.samples, j.opts)
			w.recordInference(time.Since(start))
			j.result <- jobResult{segments: segs, err: err}
		case <-w.done:
			return
		}
	}
}

// Transcribe submits samples for inference and blocks until the single
// worker goroutine has processed them, preserving submission order. opts
// carries the prompt (context window), greedy-vs-configured decoding mode,
// and sampling parameters for this one call.
func (w *Worker) Transcribe(ctx context.Context, samples []float32, opts Options) ([]Segment, error) {
	if len(samples) == 0 {
		return nil, ErrEmptyAudio
	}
	if opts.Language == "" {
		opts.Language = w.cfg.Language
	}
	result := make(chan jobResult, 1)
	select {
	case w.jobs <- job{ctx: ctx, samples: samples, opts: opts, result: result}:
	case <-w.done:
		return nil, ErrWorkerStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if w.reg != nil {
		w.reg.SetQueueDepth(int64(len(w.jobs)))
	}

	select {
	case r := <-result:
		return r.segments, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops the worker and releases the model/context.
func (w *Worker) Close() error {
	close(w.done)
	if w.reg != nil {
		w.reg.SetModelLoaded(false)
	}
	return w.backend.Close()
}

func logCurrentMemory() {
	vm, err := mem.VirtualMemory()
	if err != nil {
		logging.Debug(logging.CategoryWhisper, "could not read system memory: %v", err)
		return
	}
	logging.Info(logging.CategoryWhisper, "model loaded; system memory used: %.1f%% (%d MiB available)",
		vm.UsedPercent, vm.Available/1024/1024)
	if vm.UsedPercent > 90 {
		logging.Warn(logging.CategoryWhisper, "system memory usage %.1f%% is above 90%%; continuing", vm.UsedPercent)
	}
}
