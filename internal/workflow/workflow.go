// Package workflow implements RecordingWorkflow: the toggle state machine
// that wires an audio source, the streaming transcriber, and the
// clipboard/notification collaborators together for one recording session.
package workflow

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/zarvent/v2m/internal/audioio"
	"github.com/zarvent/v2m/internal/clipboard"
	"github.com/zarvent/v2m/internal/logging"
	"github.com/zarvent/v2m/internal/notify"
	"github.com/zarvent/v2m/internal/telemetry"
	"github.com/zarvent/v2m/internal/transcriber"
	"github.com/zarvent/v2m/internal/vad"
	"github.com/zarvent/v2m/internal/whisperio"
)

// State is the workflow's toggle state.
type State string

const (
	StateIdle      State = "idle"
	StateRecording State = "recording"
)

// SourceFactory builds a fresh audio source for one recording session — a
// factory rather than a shared instance because PortAudio streams are
// single-use per Start/Stop cycle.
type SourceFactory func() (audioio.Source, error)

// BulkFactory builds a fresh non-streaming recorder, used only when
// SourceFactory fails to construct a streaming source.
type BulkFactory func() (audioio.BulkRecorder, error)

// Status is the snapshot GET_STATUS exposes for the recording session.
type Status struct {
	State       State
	Recording   bool
	ModelLoaded bool
}

// Workflow orchestrates one toggleable recording session at a time.
type Workflow struct {
	newSource   SourceFactory
	newBulk     BulkFactory
	worker      *whisperio.Worker
	tcfg        transcriber.Config
	clip        clipboard.Adapter
	notifier    notify.Adapter
	telemetry   *telemetry.Registry
	flagPath    string
	vadThresh   float64

	mu        sync.Mutex
	state     State
	cancel    context.CancelFunc
	current   *transcriber.Transcriber
	events    chan transcriber.Event
	streaming bool
	bulk      audioio.BulkRecorder
}

// New builds a Workflow. clip/notifier may be nil, in which case a no-op
// stand-in is used (best-effort delivery, never fatal to recording).
// flagPath is the on-disk marker created while a recording session is
// active and removed when it ends, so other processes can check "is v2m
// recording" without going through the IPC socket.
func New(newSource SourceFactory, newBulk BulkFactory, worker *whisperio.Worker, tcfg transcriber.Config, clip clipboard.Adapter, notifier notify.Adapter, reg *telemetry.Registry, flagPath string) *Workflow {
	if notifier == nil {
		notifier = notify.Noop{}
	}
	return &Workflow{
		newSource: newSource,
		newBulk:   newBulk,
		worker:    worker,
		tcfg:      tcfg,
		clip:      clip,
		notifier:  notifier,
		telemetry: reg,
		flagPath:  flagPath,
		vadThresh: tcfg.VADThreshold,
		state:     StateIdle,
	}
}

func (w *Workflow) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// GetStatus reports the current recording/model state for GET_STATUS.
func (w *Workflow) GetStatus() Status {
	w.mu.Lock()
	state := w.state
	w.mu.Unlock()

	modelLoaded := false
	if w.telemetry != nil {
		modelLoaded = w.telemetry.Snapshot().ModelLoaded
	}
	return Status{
		State:       state,
		Recording:   state == StateRecording,
		ModelLoaded: modelLoaded,
	}
}

// Warmup runs a throwaway inference on a short burst of silence so the
// Whisper backend's lazy kernel/context allocation happens before the first
// real recording session, rather than adding latency to it.
func (w *Workflow) Warmup(ctx context.Context) error {
	silence := make([]float32, 16000) // 1s at 16kHz
	_, err := w.worker.Transcribe(ctx, silence, whisperio.Options{Greedy: true})
	if err != nil {
		logging.Warn(logging.CategoryApp, "warmup inference failed: %v", err)
	}
	return nil
}

// Start begins a new recording session; it is a no-op (not an error) if one
// is already active, matching the daemon's idempotent START_RECORDING. It
// tries the streaming source first, falling back to non-streaming bulk
// capture if the streaming source cannot be constructed.
func (w *Workflow) Start(ctx context.Context) (<-chan transcriber.Event, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state == StateRecording {
		return w.events, nil
	}

	source, err := w.newSource()
	if err != nil {
		logging.Warn(logging.CategoryAudio, "streaming source unavailable, falling back to buffered capture: %v", err)
		return w.startBulkLocked()
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	t := transcriber.New(w.tcfg, source, w.worker)
	events, err := t.Start(sessionCtx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("start transcriber: %w", err)
	}

	w.cancel = cancel
	w.current = t
	w.streaming = true
	w.events = make(chan transcriber.Event, 32)
	w.state = StateRecording
	w.createFlagFile()
	if w.telemetry != nil {
		w.telemetry.SetState(string(StateRecording))
	}

	go w.relay(events, source)

	if err := w.notifier.Notify("v2m", "Recording started"); err != nil {
		logging.Debug(logging.CategoryApp, "notify failed: %v", err)
	}

	return w.events, nil
}

// startBulkLocked begins non-streaming bulk capture. Caller holds w.mu.
func (w *Workflow) startBulkLocked() (<-chan transcriber.Event, error) {
	if w.newBulk == nil {
		return nil, fmt.Errorf("no buffered recorder available")
	}
	rec, err := w.newBulk()
	if err != nil {
		return nil, fmt.Errorf("create buffered recorder: %w", err)
	}
	if err := rec.Start(); err != nil {
		_ = rec.Close()
		return nil, fmt.Errorf("start buffered recorder: %w", err)
	}

	w.bulk = rec
	w.streaming = false
	w.current = nil
	w.events = make(chan transcriber.Event, 4)
	w.state = StateRecording
	w.createFlagFile()
	if w.telemetry != nil {
		w.telemetry.SetState(string(StateRecording))
	}

	if err := w.notifier.Notify("v2m", "Recording started (fallback mode)"); err != nil {
		logging.Debug(logging.CategoryApp, "notify failed: %v", err)
	}

	return w.events, nil
}

// relay forwards transcriber events to the workflow's public channel,
// delivering final transcriptions to the clipboard as they arrive.
func (w *Workflow) relay(events <-chan transcriber.Event, source audioio.Source) {
	var reportedOverruns uint64 // source.Overruns() is cumulative; only the increase is recorded
	for ev := range events {
		if ev.Kind == transcriber.EventFinal {
			if w.clip != nil {
				if err := w.clip.SetText(ev.Text); err != nil {
					logging.Warn(logging.CategoryApp, "clipboard delivery failed: %v", err)
				}
			}
			if w.telemetry != nil {
				w.telemetry.RecordSegmentProcessed()
			}
		}
		if n := source.Overruns(); w.telemetry != nil && n > reportedOverruns {
			w.telemetry.RecordOverrun(n - reportedOverruns)
			reportedOverruns = n
		}

		w.mu.Lock()
		sink := w.events
		w.mu.Unlock()
		if sink != nil {
			select {
			case sink <- ev:
			default:
				logging.Warn(logging.CategoryApp, "event subscriber too slow, dropping %v event", ev.Kind)
			}
		}
	}
}

// Stop ends the active recording session, idempotent, and returns the final
// transcription text accumulated over the session (streaming mode) or
// produced by one bulk inference pass (fallback mode).
func (w *Workflow) Stop() (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != StateRecording {
		return "", nil
	}

	var text string
	var err error

	if w.streaming {
		if w.current != nil {
			text = w.current.Stop()
		}
		if w.cancel != nil {
			w.cancel()
		}
	} else if w.bulk != nil {
		samples := w.bulk.Stop()
		_ = w.bulk.Close()
		text, err = w.runBulkInference(samples)
	}

	w.state = StateIdle
	w.current = nil
	w.bulk = nil
	w.cancel = nil
	w.removeFlagFile()
	if w.telemetry != nil {
		w.telemetry.SetState(string(StateIdle))
	}

	if !w.streaming && text != "" && w.clip != nil {
		if cerr := w.clip.SetText(text); cerr != nil {
			logging.Warn(logging.CategoryApp, "clipboard delivery failed: %v", cerr)
		}
		if w.telemetry != nil {
			w.telemetry.RecordSegmentProcessed()
		}
	}

	if nerr := w.notifier.Notify("v2m", "Recording stopped"); nerr != nil {
		logging.Debug(logging.CategoryApp, "notify failed: %v", nerr)
	}

	return text, err
}

// runBulkInference trims silence from the full capture and runs one final
// inference pass on the remaining audio, for the non-streaming fallback.
// Caller holds w.mu.
func (w *Workflow) runBulkInference(samples []float32) (string, error) {
	trimmed := vad.TrimSilence(samples, w.vadThresh)
	if len(trimmed) == 0 {
		return "", nil
	}

	segs, err := w.worker.Transcribe(context.Background(), trimmed, whisperio.Options{
		Language:    w.tcfg.Language,
		BeamSize:    w.tcfg.BeamSize,
		Temperature: w.tcfg.Temperature,
		VADFilter:   true,
	})
	if err != nil {
		return "", fmt.Errorf("bulk inference: %w", err)
	}

	text := transcriber.CleanText(joinBulkSegments(segs))
	return text, nil
}

func joinBulkSegments(segs []whisperio.Segment) string {
	out := ""
	for _, s := range segs {
		if s.Text == "" {
			continue
		}
		if out != "" {
			out += " "
		}
		out += s.Text
	}
	return out
}

// createFlagFile writes the current process PID to the recording-flag file,
// letting other processes detect an active recording session without going
// through the IPC socket. Caller holds w.mu.
func (w *Workflow) createFlagFile() {
	if w.flagPath == "" {
		return
	}
	pid := strconv.Itoa(os.Getpid())
	if err := os.WriteFile(w.flagPath, []byte(pid), 0o600); err != nil {
		logging.Warn(logging.CategoryApp, "create recording flag file: %v", err)
	}
}

func (w *Workflow) removeFlagFile() {
	if w.flagPath == "" {
		return
	}
	if err := os.Remove(w.flagPath); err != nil && !os.IsNotExist(err) {
		logging.Warn(logging.CategoryApp, "remove recording flag file: %v", err)
	}
}

// Shutdown stops any active recording session and releases the workflow's
// collaborators, draining pending notifications before returning.
func (w *Workflow) Shutdown(ctx context.Context) error {
	if w.State() == StateRecording {
		if _, err := w.Stop(); err != nil {
			logging.Warn(logging.CategoryApp, "stop during shutdown: %v", err)
		}
	}

	if err := w.worker.Close(); err != nil {
		logging.Warn(logging.CategoryWhisper, "close worker: %v", err)
	}

	if drainer, ok := w.notifier.(interface{ Drain(context.Context) error }); ok {
		if err := drainer.Drain(ctx); err != nil {
			logging.Warn(logging.CategoryApp, "drain notifier: %v", err)
		}
	}

	return nil
}

// Toggle flips between Idle and Recording, returning the new state.
func (w *Workflow) Toggle(ctx context.Context) (State, error) {
	if w.State() == StateRecording {
		_, err := w.Stop()
		return StateIdle, err
	}
	if _, err := w.Start(ctx); err != nil {
		return StateIdle, err
	}
	return StateRecording, nil
}
