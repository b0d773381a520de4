// Package hotkey provides global hotkey detection for the CLI client. This
// is explicitly outside the daemon's core budget — the daemon itself has no
// notion of hotkeys — but the CLI binds one locally and toggles recording
// over IPC, so the teacher's gohook-based detector is kept here rather than
// dropped.
package hotkey

import (
	"fmt"
	"strings"
	"sync"

	hook "github.com/robotn/gohook"
)

// Config describes a modifier+key combination, e.g. Ctrl+Shift+S.
type Config struct {
	Modifiers []string
	Key       string
}

func DefaultConfig() Config {
	return Config{Modifiers: []string{"ctrl", "shift"}, Key: "s"}
}

// Detector listens for one global hotkey combination and invokes a callback
// on match.
type Detector struct {
	cfg    Config
	mu     sync.Mutex
	active bool
	stopCh chan struct{}
}

func NewDetector(cfg Config) *Detector {
	return &Detector{cfg: cfg, stopCh: make(chan struct{})}
}

// Start begins listening; callback runs on every matching key-down event.
func (d *Detector) Start(callback func()) error {
	d.mu.Lock()
	if d.active {
		d.mu.Unlock()
		return fmt.Errorf("hotkey: detector already running")
	}
	d.active = true
	d.stopCh = make(chan struct{})
	d.mu.Unlock()

	go func() {
		evChan := hook.Start()
		defer hook.End()

		for {
			select {
			case <-d.stopCh:
				return
			case ev := <-evChan:
				if ev.Kind == hook.KeyDown && matches(ev, d.cfg) {
					callback()
				}
			}
		}
	}()
	return nil
}

func (d *Detector) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.active {
		return
	}
	d.active = false
	close(d.stopCh)
}

func matches(ev hook.Event, cfg Config) bool {
	if !strings.EqualFold(string(ev.Keychar), cfg.Key) {
		return false
	}

	pressed := map[string]bool{
		"ctrl":  ev.Rawcode&0x01 != 0,
		"shift": ev.Rawcode&0x02 != 0,
		"alt":   ev.Rawcode&0x04 != 0,
	}
	for _, mod := range cfg.Modifiers {
		if !pressed[mod] {
			return false
		}
	}
	return true
}
