// Package telemetry tracks lightweight, process-local runtime metrics for
// GET_STATUS. It deliberately stays on plain atomics rather than the full
// OpenTelemetry SDK: a localhost daemon answering its own IPC socket has no
// external scrape target, so a Prometheus exporter would have no consumer.
package telemetry

import (
	"sync/atomic"
	"time"
)

// Snapshot is the point-in-time view returned to GET_STATUS callers.
type Snapshot struct {
	AudioOverruns     uint64        `json:"audio_overruns"`
	SegmentsProcessed uint64        `json:"segments_processed"`
	QueueDepth        int64         `json:"queue_depth"`
	LastInference     int64         `json:"last_inference_ms"`
	State             string        `json:"state"`
	Recording         bool          `json:"recording"`
	ModelLoaded       bool          `json:"model_loaded"`
}

// Registry holds the daemon's counters. Zero value is ready to use.
type Registry struct {
	audioOverruns     atomic.Uint64
	segmentsProcessed atomic.Uint64
	queueDepth        atomic.Int64
	lastInferenceNS   atomic.Int64
	state             atomic.Value // string
	modelLoaded       atomic.Bool
}

func NewRegistry() *Registry {
	r := &Registry{}
	r.state.Store("idle")
	return r
}

func (r *Registry) RecordOverrun(n uint64)           { r.audioOverruns.Add(n) }
func (r *Registry) RecordSegmentProcessed()          { r.segmentsProcessed.Add(1) }
func (r *Registry) SetQueueDepth(n int64)            { r.queueDepth.Store(n) }
func (r *Registry) RecordInference(d time.Duration)  { r.lastInferenceNS.Store(int64(d)) }
func (r *Registry) SetState(s string)                { r.state.Store(s) }
func (r *Registry) SetModelLoaded(loaded bool)        { r.modelLoaded.Store(loaded) }

func (r *Registry) Snapshot() Snapshot {
	state, _ := r.state.Load().(string)
	return Snapshot{
		AudioOverruns:     r.audioOverruns.Load(),
		SegmentsProcessed: r.segmentsProcessed.Load(),
		QueueDepth:        r.queueDepth.Load(),
		LastInference:     time.Duration(r.lastInferenceNS.Load()).Milliseconds(),
		State:             state,
		Recording:         state == "recording",
		ModelLoaded:       r.modelLoaded.Load(),
	}
}
