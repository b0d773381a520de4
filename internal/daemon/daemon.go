// Package daemon implements the long-lived process that owns the Whisper
// model and recording workflow, exposing them over a Unix-socket control
// plane (see internal/ipc).
package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/zarvent/v2m/internal/config"
	"github.com/zarvent/v2m/internal/ipc"
	"github.com/zarvent/v2m/internal/llmclient"
	"github.com/zarvent/v2m/internal/logging"
	"github.com/zarvent/v2m/internal/notify"
	"github.com/zarvent/v2m/internal/telemetry"
	"github.com/zarvent/v2m/internal/transcriber"
	"github.com/zarvent/v2m/internal/workflow"
)

// Daemon owns the control socket, the single active event session, and the
// recording workflow.
type Daemon struct {
	paths     ipc.RuntimePaths
	flow      *workflow.Workflow
	llm       llmclient.Service
	reg       *telemetry.Registry
	cfgWatch  *config.Watcher
	notifier  notify.Adapter
	paused    atomic.Bool

	listener net.Listener

	mu      sync.Mutex
	session *session // the single Last-Write-Wins event subscriber
}

// session represents one connected client subscribed to the event stream.
// A new SUBSCRIBE_EVENTS supersedes the previous session by closing its
// channel — only the most recent subscriber ever receives events.
type session struct {
	id     string
	events chan transcriber.Event
	done   chan struct{}
}

// New constructs a Daemon. Call ReapOrphans before Serve in production to
// honor the "single daemon instance" invariant. notifier may be nil, in
// which case PAUSE/RESUME and LLM-fallback notifications are skipped.
func New(paths ipc.RuntimePaths, flow *workflow.Workflow, llm llmclient.Service, reg *telemetry.Registry, cfgWatch *config.Watcher, notifier notify.Adapter) *Daemon {
	if notifier == nil {
		notifier = notify.Noop{}
	}
	return &Daemon{paths: paths, flow: flow, llm: llm, reg: reg, cfgWatch: cfgWatch, notifier: notifier}
}

// ReapOrphans finds and kills any previous v2m daemon process still holding
// the runtime directory, mirroring the original implementation's
// psutil-based process walk so restarts never leave two daemons racing over
// the same socket.
func ReapOrphans(selfPID int) error {
	procs, err := process.Processes()
	if err != nil {
		return fmt.Errorf("enumerate processes: %w", err)
	}

	for _, p := range procs {
		if int(p.Pid) == selfPID {
			continue
		}
		cmdline, err := p.Cmdline()
		if err != nil || cmdline == "" {
			continue
		}
		if !looksLikeV2mDaemon(cmdline) {
			continue
		}

		logging.Warn(logging.CategoryDaemon, "reaping orphaned daemon process pid=%d", p.Pid)
		if err := p.Kill(); err != nil {
			logging.Warn(logging.CategoryDaemon, "failed to kill orphan pid=%d: %v", p.Pid, err)
			continue
		}
		waitForExit(p, 2*time.Second)
	}
	return nil
}

func looksLikeV2mDaemon(cmdline string) bool {
	lower := strings.ToLower(cmdline)
	for _, marker := range []string{"v2md", "v2m-daemon"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func waitForExit(p *process.Process, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if running, err := p.IsRunning(); err != nil || !running {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// WritePIDFile records the current process PID so CLI tooling can check
// liveness without going through the socket.
func (d *Daemon) WritePIDFile() error {
	return os.WriteFile(d.paths.PIDFile, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

// Cleanup removes the socket and PID files; called on graceful shutdown.
func (d *Daemon) Cleanup() {
	os.Remove(d.paths.SocketPath)
	os.Remove(d.paths.PIDFile)
	os.Remove(d.paths.RecordingPID)
}

// Serve listens on the Unix socket and handles clients until ctx is
// cancelled.
func (d *Daemon) Serve(ctx context.Context) error {
	os.Remove(d.paths.SocketPath) // stale socket from an unclean shutdown
	l, err := net.Listen("unix", d.paths.SocketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", d.paths.SocketPath, err)
	}
	if err := os.Chmod(d.paths.SocketPath, 0o700); err != nil {
		logging.Warn(logging.CategoryDaemon, "failed to chmod socket: %v", err)
	}
	d.listener = l

	go func() {
		<-ctx.Done()
		l.Close()
	}()

	logging.Info(logging.CategoryDaemon, "listening on %s", d.paths.SocketPath)
	for {
		conn, err := l.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("accept: %w", err)
			}
		}
		go d.handleClient(ctx, conn)
	}
}

func (d *Daemon) handleClient(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	req, err := ipc.ReadRequest(conn)
	if err != nil {
		logging.Debug(logging.CategoryIPC, "read request failed: %v", err)
		return
	}

	if req.Cmd == ipc.CmdSubscribe {
		d.serveSubscriber(ctx, conn)
		return
	}

	resp := d.dispatch(ctx, req)
	if err := ipc.WriteFrame(conn, resp); err != nil {
		logging.Debug(logging.CategoryIPC, "write response failed: %v", err)
	}
}

// serveSubscriber registers conn as the sole event sink, evicting whatever
// session was previously subscribed (Last-Write-Wins).
func (d *Daemon) serveSubscriber(ctx context.Context, conn net.Conn) {
	sess := &session{
		id:     uuid.NewString(),
		events: make(chan transcriber.Event, 32),
		done:   make(chan struct{}),
	}
	logging.Debug(logging.CategoryIPC, "event subscriber %s connected", sess.id)

	d.mu.Lock()
	if d.session != nil {
		close(d.session.done)
	}
	d.session = sess
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		if d.session == sess {
			d.session = nil
		}
		d.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sess.done:
			return
		case ev, ok := <-sess.events:
			if !ok {
				return
			}
			if err := ipc.WriteFrame(conn, ipc.Event(eventPayload(ev))); err != nil {
				return
			}
		}
	}
}

func eventPayload(ev transcriber.Event) map[string]interface{} {
	kind := "heartbeat"
	switch ev.Kind {
	case transcriber.EventPartial:
		kind = "partial"
	case transcriber.EventFinal:
		kind = "final"
	}
	return map[string]interface{}{
		"type":      kind,
		"text":      ev.Text,
		"timestamp": ev.Timestamp,
	}
}

// unpausedCommands may run even while the daemon is paused; everything else
// is rejected with an error response until RESUME_DAEMON.
var unpausedCommands = map[ipc.Command]bool{
	ipc.CmdPing:         true,
	ipc.CmdGetStatus:    true,
	ipc.CmdResumeDaemon: true,
	ipc.CmdShutdown:     true,
}

// dispatch handles one request/response command.
func (d *Daemon) dispatch(ctx context.Context, req ipc.Request) ipc.Response {
	if d.paused.Load() && !unpausedCommands[req.Cmd] {
		return ipc.Err(fmt.Errorf("daemon is paused: %s rejected", req.Cmd))
	}

	switch req.Cmd {
	case ipc.CmdPing:
		return ipc.OK(map[string]string{"message": "PONG"})

	case ipc.CmdStartRecording:
		events, err := d.flow.Start(ctx)
		if err != nil {
			return ipc.Err(err)
		}
		d.forwardToSubscriber(events)
		return ipc.OK(map[string]string{"state": string(workflow.StateRecording)})

	case ipc.CmdStopRecording:
		text, err := d.flow.Stop()
		if err != nil {
			return ipc.Err(err)
		}
		return ipc.OK(map[string]string{
			"state":          string(workflow.StateIdle),
			"transcription":  text,
		})

	case ipc.CmdToggle:
		state, err := d.flow.Toggle(ctx)
		if err != nil {
			return ipc.Err(err)
		}
		return ipc.OK(map[string]string{"state": string(state)})

	case ipc.CmdGetStatus:
		status := d.flow.GetStatus()
		snap := d.reg.Snapshot()
		return ipc.OK(map[string]interface{}{
			"state":     string(status.State),
			"telemetry": snap,
		})

	case ipc.CmdGetConfig:
		if d.cfgWatch == nil {
			return ipc.Err(fmt.Errorf("config watcher not configured"))
		}
		return ipc.OK(d.cfgWatch.Current())

	case ipc.CmdUpdateConfig:
		return d.handleUpdateConfig(req)

	case ipc.CmdPauseDaemon:
		d.paused.Store(true)
		if err := d.notifier.Notify("v2m", "Paused"); err != nil {
			logging.Debug(logging.CategoryApp, "notify failed: %v", err)
		}
		return ipc.OK(map[string]string{"state": "paused"})

	case ipc.CmdResumeDaemon:
		d.paused.Store(false)
		if err := d.notifier.Notify("v2m", "Resumed"); err != nil {
			logging.Debug(logging.CategoryApp, "notify failed: %v", err)
		}
		return ipc.OK(map[string]string{"state": "resumed"})

	case ipc.CmdProcessText:
		return d.handleLLM(ctx, req, false)

	case ipc.CmdTranslateText:
		return d.handleLLM(ctx, req, true)

	case ipc.CmdShutdown:
		go func() {
			time.Sleep(50 * time.Millisecond)
			if d.listener != nil {
				d.listener.Close()
			}
		}()
		return ipc.OK(map[string]string{"message": "SHUTTING_DOWN"})

	default:
		return ipc.Err(fmt.Errorf("unknown command: %s", req.Cmd))
	}
}

// handleUpdateConfig replaces the on-disk config and applies it immediately,
// without waiting for the filesystem watcher's debounce to notice the write.
func (d *Daemon) handleUpdateConfig(req ipc.Request) ipc.Response {
	if d.cfgWatch == nil {
		return ipc.Err(fmt.Errorf("config watcher not configured"))
	}

	cfg := *d.cfgWatch.Current()
	if err := json.Unmarshal(req.Data, &cfg); err != nil {
		return ipc.Err(fmt.Errorf("invalid config payload: %w", err))
	}
	if err := config.Save(&cfg); err != nil {
		return ipc.Err(fmt.Errorf("persist config: %w", err))
	}
	d.cfgWatch.Replace(&cfg)
	return ipc.OK(map[string]string{"state": "updated"})
}

type llmRequest struct {
	Text   string `json:"text"`
	Target string `json:"target_lang,omitempty"`
}

// handleLLM runs the configured refinement/translation call. On failure it
// falls back to returning the original input text rather than an error —
// a transient LLM outage should never cost the user their transcription —
// and fires a best-effort notification so the failure isn't silent.
func (d *Daemon) handleLLM(ctx context.Context, req ipc.Request, translate bool) ipc.Response {
	var payload llmRequest
	if err := json.Unmarshal(req.Data, &payload); err != nil {
		return ipc.Err(fmt.Errorf("invalid payload: %w", err))
	}
	if d.llm == nil {
		return ipc.OK(map[string]string{"refined_text": payload.Text})
	}

	var (
		result string
		err    error
	)
	if translate {
		result, err = d.llm.Translate(ctx, payload.Text, payload.Target)
	} else {
		result, err = d.llm.Process(ctx, payload.Text)
	}
	if err != nil {
		logging.Warn(logging.CategoryLLM, "llm call failed, falling back to original text: %v", err)
		if nerr := d.notifier.Notify("v2m", "LLM refinement failed, using original text"); nerr != nil {
			logging.Debug(logging.CategoryApp, "notify failed: %v", nerr)
		}
		return ipc.OK(map[string]string{"refined_text": payload.Text})
	}
	return ipc.OK(map[string]string{"refined_text": result})
}

// forwardToSubscriber relays workflow events to the current subscriber
// session, if any, until the events channel closes.
func (d *Daemon) forwardToSubscriber(events <-chan transcriber.Event) {
	go func() {
		for ev := range events {
			d.mu.Lock()
			sess := d.session
			d.mu.Unlock()
			if sess == nil {
				continue
			}
			select {
			case sess.events <- ev:
			case <-sess.done:
			default:
				logging.Warn(logging.CategoryIPC, "subscriber too slow, dropping event")
			}
		}
	}()
}
