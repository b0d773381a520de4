//go:build !(cgo && whisper_go)
// +build !cgo !whisper_go

package whisperio

import (
	"fmt"

	"github.com/zarvent/v2m/internal/config"
	"github.com/zarvent/v2m/internal/logging"
)

// newBackend without the whisper_go build tag always errors; it exists so
// the rest of the module (and its tests) compile without the cgo-dependent
// whisper.cpp bindings present.
func newBackend(cfg config.Whisper) (backend, error) {
	logging.Warn(logging.CategoryWhisper, "whisper.cpp Go bindings not available (build with -tags=whisper_go)")
	return nil, fmt.Errorf("whisper.cpp Go bindings not compiled in; build with -tags=whisper_go")
}
