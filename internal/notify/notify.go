// Package notify sends best-effort desktop notifications over the D-Bus
// session bus, mirroring the daemon's "recording started/stopped/error"
// status cues.
package notify

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"
	"golang.org/x/sync/semaphore"

	"github.com/zarvent/v2m/internal/logging"
)

// Adapter is the collaborator interface RecordingWorkflow depends on.
type Adapter interface {
	Notify(summary, body string) error
}

const (
	notifyDest = "org.freedesktop.Notifications"
	notifyPath = "/org/freedesktop/Notifications"
)

// DBus is the production Adapter, speaking the freedesktop notification
// spec over the session bus.
type DBus struct {
	conn *dbus.Conn
}

// New connects to the session bus. Failure here (no bus, headless session)
// is non-fatal for the daemon as a whole — callers should log and continue
// without notifications.
func New() (*DBus, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}
	return &DBus{conn: conn}, nil
}

func (d *DBus) Notify(summary, body string) error {
	obj := d.conn.Object(notifyDest, dbus.ObjectPath(notifyPath))
	call := obj.Call("org.freedesktop.Notifications.Notify", 0,
		"v2m",           // app name
		uint32(0),       // replaces id
		"audio-input-microphone", // app icon
		summary,
		body,
		[]string{},          // actions
		map[string]dbus.Variant{}, // hints
		int32(4000),         // expire timeout ms
	)
	if call.Err != nil {
		return fmt.Errorf("dbus Notify call: %w", call.Err)
	}
	return nil
}

func (d *DBus) Close() error {
	return d.conn.Close()
}

// maxInFlight bounds how many notification sends Async will run at once —
// a D-Bus call that hangs (a dead notification daemon) should never pile up
// unboundedly behind the recording workflow's state transitions.
const maxInFlight = 4

// Async wraps an Adapter so Notify returns immediately: the actual send runs
// on a bounded worker pool, keeping a slow or hung notification daemon from
// blocking RecordingWorkflow's state transitions.
type Async struct {
	inner Adapter
	sem   *semaphore.Weighted
}

func NewAsync(inner Adapter) *Async {
	return &Async{inner: inner, sem: semaphore.NewWeighted(maxInFlight)}
}

// Notify queues the send and returns nil immediately; delivery failures are
// logged rather than surfaced, since the caller has already moved on.
func (a *Async) Notify(summary, body string) error {
	if !a.sem.TryAcquire(1) {
		logging.Debug(logging.CategoryApp, "notification pool saturated, dropping: %s", summary)
		return nil
	}
	go func() {
		defer a.sem.Release(1)
		if err := a.inner.Notify(summary, body); err != nil {
			logging.Debug(logging.CategoryApp, "async notify failed: %v", err)
		}
	}()
	return nil
}

// Drain blocks until every in-flight notification has finished, or ctx
// expires. Useful before process exit so a shutdown doesn't race a pending
// "recording stopped" toast.
func (a *Async) Drain(ctx context.Context) error {
	if err := a.sem.Acquire(ctx, maxInFlight); err != nil {
		return err
	}
	a.sem.Release(maxInFlight)
	return nil
}

// Noop is used when the session bus is unavailable; it logs instead of
// failing the recording workflow.
type Noop struct{}

func (Noop) Notify(summary, body string) error {
	logging.Debug(logging.CategoryApp, "notification (no bus): %s — %s", summary, body)
	return nil
}
