// Command v2mctl is the thin CLI client for the v2m daemon: one-shot
// commands that exit 0/1, a live status TUI, and a local hotkey watcher that
// toggles recording over the control socket.
package main

import (
	"fmt"
	"os"

	"github.com/zarvent/v2m/internal/hotkey"
	"github.com/zarvent/v2m/internal/ipc"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "v2mctl:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		return runTUIMode()
	}

	paths, err := ipc.ResolveRuntimePaths()
	if err != nil {
		return fmt.Errorf("resolve runtime paths: %w", err)
	}
	c := newClient(paths)

	switch args[0] {
	case "start":
		return oneShot(c, ipc.CmdStartRecording, nil)
	case "stop":
		return oneShot(c, ipc.CmdStopRecording, nil)
	case "toggle":
		return oneShot(c, ipc.CmdToggle, nil)
	case "ping":
		return oneShot(c, ipc.CmdPing, nil)
	case "status":
		return oneShot(c, ipc.CmdGetStatus, nil)
	case "config":
		return oneShot(c, ipc.CmdGetConfig, nil)
	case "pause":
		return oneShot(c, ipc.CmdPauseDaemon, nil)
	case "resume":
		return oneShot(c, ipc.CmdResumeDaemon, nil)
	case "shutdown":
		return oneShot(c, ipc.CmdShutdown, nil)
	case "process":
		return textCommand(c, ipc.CmdProcessText, args[1:])
	case "translate":
		return textCommand(c, ipc.CmdTranslateText, args[1:])
	case "watch", "--watch", "tui":
		return runTUIMode()
	case "--watch-hotkey":
		return runHotkeyWatch(c)
	case "-h", "--help", "help":
		printUsage()
		return nil
	default:
		printUsage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func runTUIMode() error {
	paths, err := ipc.ResolveRuntimePaths()
	if err != nil {
		return fmt.Errorf("resolve runtime paths: %w", err)
	}
	return runTUI(newClient(paths))
}

func oneShot(c *client, cmd ipc.Command, data interface{}) error {
	resp, err := c.call(cmd, data)
	if err != nil {
		return err
	}
	if resp.Status == ipc.StatusError {
		return fmt.Errorf("%s", resp.Error)
	}
	if len(resp.Data) > 0 {
		fmt.Println(string(resp.Data))
	}
	return nil
}

func textCommand(c *client, cmd ipc.Command, rest []string) error {
	if len(rest) == 0 {
		return fmt.Errorf("usage: v2mctl %s <text> [target-lang]", cmd)
	}
	payload := struct {
		Text   string `json:"text"`
		Target string `json:"target_lang,omitempty"`
	}{Text: rest[0]}
	if len(rest) > 1 {
		payload.Target = rest[1]
	}
	return oneShot(c, cmd, payload)
}

// runHotkeyWatch binds the default global hotkey locally and toggles
// recording over IPC on every press — the daemon itself never touches input
// devices, so this is the only place a hotkey exists in the system.
func runHotkeyWatch(c *client) error {
	det := hotkey.NewDetector(hotkey.DefaultConfig())
	done := make(chan struct{})

	err := det.Start(func() {
		resp, err := c.call(ipc.CmdToggle, nil)
		if err != nil {
			fmt.Fprintln(os.Stderr, logLine("v2mctl", "toggle failed: "+err.Error()))
			return
		}
		if resp.Status == ipc.StatusError {
			fmt.Fprintln(os.Stderr, logLine("v2mctl", "toggle rejected: "+resp.Error))
			return
		}
		var state struct {
			State string `json:"state"`
		}
		_ = decodeData(resp, &state)
		fmt.Println(logLine("v2mctl", "recording state: "+state.State))
	})
	if err != nil {
		return fmt.Errorf("start hotkey watcher: %w", err)
	}
	defer det.Stop()

	fmt.Println("watching for hotkey, press ctrl+c to exit")
	<-done
	return nil
}

func printUsage() {
	fmt.Println(`v2mctl <command> [args]

Commands:
  start                       begin a recording session
  stop                        end the active recording session
  toggle                      flip idle/recording
  ping                        check daemon liveness
  status                      print a JSON telemetry snapshot
  config                      print the current configuration
  pause                       reject all commands except status/ping/resume/shutdown
  resume                      resume normal command handling
  shutdown                    ask the daemon to exit
  process <text>              run text through the configured LLM
  translate <text> <lang>     translate text via the configured LLM
  tui | watch                 live status TUI subscribed to the event stream
  --watch-hotkey              bind the local hotkey and toggle over IPC`)
}
