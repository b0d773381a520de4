// Package config loads and hot-reloads the daemon's YAML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/zarvent/v2m/internal/logging"
)

// Audio holds capture tunables.
type Audio struct {
	SampleRate      float64 `yaml:"sample_rate" json:"sample_rate"`
	Channels        int     `yaml:"channels" json:"channels"`
	FramesPerBuffer int     `yaml:"frames_per_buffer" json:"frames_per_buffer"`
	Backend         string  `yaml:"backend" json:"backend"` // informational only; PortAudio is always tried first
}

// VAD holds voice-activity-detection tunables.
type VAD struct {
	Threshold       float64 `yaml:"threshold" json:"threshold"`
	SilenceCommitMS int     `yaml:"silence_commit_ms" json:"silence_commit_ms"`
	MinConfirmed    int     `yaml:"min_confirmed_frames" json:"min_confirmed_frames"`
}

// Whisper holds model tunables.
type Whisper struct {
	ModelPath   string  `yaml:"model_path" json:"model_path"`
	Language    string  `yaml:"language" json:"language"`
	Device      string  `yaml:"device" json:"device"` // "gpu" or "cpu"
	Threads     int     `yaml:"threads" json:"threads"`
	BeamSize    int     `yaml:"beam_size" json:"beam_size"`
	Temperature float64 `yaml:"temperature" json:"temperature"`
}

// LLM holds refinement-backend tunables.
type LLM struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Backend  string `yaml:"backend" json:"backend"` // "ollama"
	Endpoint string `yaml:"endpoint" json:"endpoint"`
	Model    string `yaml:"model" json:"model"`
	APIKey   string `yaml:"-" json:"-"` // loaded from env, never persisted to disk or exposed over IPC
}

// Logging holds log-sink tunables.
type Logging struct {
	Level string `yaml:"level" json:"level"`
}

// Config is the daemon's complete runtime configuration.
type Config struct {
	Audio   Audio   `yaml:"audio" json:"audio"`
	VAD     VAD     `yaml:"vad" json:"vad"`
	Whisper Whisper `yaml:"whisper" json:"whisper"`
	LLM     LLM     `yaml:"llm" json:"llm"`
	Logging Logging `yaml:"logging" json:"logging"`
}

// Default returns the configuration used when no file is present yet.
func Default() *Config {
	return &Config{
		Audio: Audio{
			SampleRate:      16000,
			Channels:        1,
			FramesPerBuffer: 1024,
			Backend:         "portaudio",
		},
		VAD: VAD{
			Threshold:       0.4,
			SilenceCommitMS: 1000,
			MinConfirmed:    7,
		},
		Whisper: Whisper{
			Language:    "auto",
			Device:      "gpu",
			Threads:     4,
			BeamSize:    5,
			Temperature: 0,
		},
		LLM: LLM{
			Enabled:  false,
			Backend:  "ollama",
			Endpoint: "http://localhost:11434",
			Model:    "llama3.2",
		},
		Logging: Logging{Level: "info"},
	}
}

// Dir returns (and creates) the user config directory, honoring XDG_CONFIG_HOME.
func Dir() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		base = filepath.Join(home, ".config")
	}
	dir := filepath.Join(base, "v2m")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create config directory: %w", err)
	}
	return dir, nil
}

// FilePath returns the path to config.yaml.
func FilePath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// Load reads config.yaml, falling back to and persisting defaults if absent,
// then overlays secrets from a .env file in the same directory (API keys and
// similar are never stored in the YAML itself).
func Load() (*Config, error) {
	path, err := FilePath()
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if os.IsNotExist(err) {
		if err := Save(cfg); err != nil {
			return nil, err
		}
	} else {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	overlayEnv(cfg)
	return cfg, nil
}

// overlayEnv loads <configdir>/.env (if present) and V2M_LLM_API_KEY from the
// process environment into the in-memory config without ever writing it back
// to config.yaml.
func overlayEnv(cfg *Config) {
	dir, err := Dir()
	if err == nil {
		envPath := filepath.Join(dir, ".env")
		if _, statErr := os.Stat(envPath); statErr == nil {
			if err := godotenv.Load(envPath); err != nil {
				logging.Warn(logging.CategoryApp, "failed to load %s: %v", envPath, err)
			}
		}
	}
	if key := os.Getenv("V2M_LLM_API_KEY"); key != "" {
		cfg.LLM.APIKey = key
	}
	if endpoint := os.Getenv("V2M_LLM_ENDPOINT"); endpoint != "" {
		cfg.LLM.Endpoint = endpoint
	}
}

// Save persists cfg as YAML (secrets excluded via the `yaml:"-"` tag).
func Save(cfg *Config) error {
	path, err := FilePath()
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Watcher reloads the config when config.yaml changes on disk and notifies
// subscribers with the freshly parsed value.
type Watcher struct {
	mu        sync.RWMutex
	current   *Config
	watcher   *fsnotify.Watcher
	listeners []func(*Config)
}

// NewWatcher starts watching config.yaml's directory for changes.
func NewWatcher(initial *Config) (*Watcher, error) {
	dir, err := Dir()
	if err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create config watcher: %w", err)
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	w := &Watcher{current: initial, watcher: fw}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	debounce := time.NewTimer(0)
	if !debounce.Stop() {
		<-debounce.C
	}
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != "config.yaml" {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			debounce.Reset(200 * time.Millisecond)
		case <-debounce.C:
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Warn(logging.CategoryApp, "config watcher error: %v", err)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load()
	if err != nil {
		logging.Warn(logging.CategoryApp, "config reload failed, keeping previous values: %v", err)
		return
	}
	w.mu.Lock()
	w.current = cfg
	listeners := append([]func(*Config){}, w.listeners...)
	w.mu.Unlock()

	logging.Info(logging.CategoryApp, "configuration reloaded")
	for _, fn := range listeners {
		fn(cfg)
	}
}

// Current returns the most recently loaded configuration.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Replace installs cfg as current and notifies listeners immediately,
// without waiting for the filesystem watcher to observe the write that
// UPDATE_CONFIG already performed.
func (w *Watcher) Replace(cfg *Config) {
	w.mu.Lock()
	w.current = cfg
	listeners := append([]func(*Config){}, w.listeners...)
	w.mu.Unlock()

	for _, fn := range listeners {
		fn(cfg)
	}
}

// OnChange registers a callback invoked after every successful reload.
func (w *Watcher) OnChange(fn func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listeners = append(w.listeners, fn)
}

// Close stops watching for changes.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
