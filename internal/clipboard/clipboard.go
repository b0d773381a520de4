// Package clipboard delivers transcribed text to the system clipboard, with
// CLI-tool fallbacks for environments where the primary backend can't reach
// the display server (containers, some remote-desktop setups).
package clipboard

import (
	"fmt"
	"os/exec"
	"runtime"

	"github.com/atotto/clipboard"

	"github.com/zarvent/v2m/internal/logging"
)

// Adapter is the collaborator interface RecordingWorkflow depends on,
// letting tests substitute an in-memory fake.
type Adapter interface {
	SetText(text string) error
	GetText() (string, error)
}

// System is the production Adapter: atotto/clipboard first, then
// xclip/xsel/pbcopy depending on platform.
type System struct{}

func New() *System { return &System{} }

func (System) SetText(text string) error {
	if err := clipboard.WriteAll(text); err == nil {
		logging.Debug(logging.CategoryApp, "clipboard set via primary backend")
		return nil
	} else {
		logging.Warn(logging.CategoryApp, "primary clipboard backend failed: %v", err)
	}

	if err := setViaFallbackCommand(text); err == nil {
		return nil
	} else if err != errNoFallbackAvailable {
		return fmt.Errorf("clipboard fallback failed: %w", err)
	}

	return fmt.Errorf("all clipboard backends failed")
}

func (System) GetText() (string, error) {
	return clipboard.ReadAll()
}

var errNoFallbackAvailable = fmt.Errorf("no clipboard fallback command available")

func setViaFallbackCommand(text string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "linux":
		switch {
		case hasCommand("xclip"):
			cmd = exec.Command("xclip", "-selection", "clipboard")
		case hasCommand("xsel"):
			cmd = exec.Command("xsel", "--clipboard", "--input")
		default:
			return errNoFallbackAvailable
		}
	case "darwin":
		if hasCommand("pbcopy") {
			cmd = exec.Command("pbcopy")
		} else {
			return errNoFallbackAvailable
		}
	default:
		return errNoFallbackAvailable
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	go func() {
		defer stdin.Close()
		fmt.Fprint(stdin, text)
	}()
	if err := cmd.Run(); err != nil {
		return err
	}
	logging.Debug(logging.CategoryApp, "clipboard set via %s", cmd.Path)
	return nil
}

func hasCommand(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}
