// Command v2md is the v2m dictation daemon: it owns the Whisper model, the
// recording workflow, and the Unix-socket control plane that cmd/v2mctl
// talks to.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zarvent/v2m/internal/audioio"
	"github.com/zarvent/v2m/internal/clipboard"
	"github.com/zarvent/v2m/internal/config"
	"github.com/zarvent/v2m/internal/daemon"
	"github.com/zarvent/v2m/internal/ipc"
	"github.com/zarvent/v2m/internal/llmclient"
	"github.com/zarvent/v2m/internal/logging"
	"github.com/zarvent/v2m/internal/notify"
	"github.com/zarvent/v2m/internal/telemetry"
	"github.com/zarvent/v2m/internal/transcriber"
	"github.com/zarvent/v2m/internal/whisperio"
	"github.com/zarvent/v2m/internal/workflow"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "v2md:", err)
		os.Exit(1)
	}
}

func run() error {
	paths, err := ipc.ResolveRuntimePaths()
	if err != nil {
		return fmt.Errorf("resolve runtime paths: %w", err)
	}

	if err := logging.Configure(paths.Dir, "info"); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logging.Configure(paths.Dir, cfg.Logging.Level)

	watcher, err := config.NewWatcher(cfg)
	if err != nil {
		logging.Warn(logging.CategoryApp, "config hot-reload unavailable: %v", err)
	} else {
		defer watcher.Close()
	}

	if err := daemon.ReapOrphans(os.Getpid()); err != nil {
		logging.Warn(logging.CategoryDaemon, "orphan reaping failed: %v", err)
	}

	reg := telemetry.NewRegistry()

	worker, err := whisperio.NewWorker(cfg.Whisper, reg)
	if err != nil {
		return fmt.Errorf("load whisper model: %w", err)
	}

	notifier, err := notify.New()
	var notifyAdapter notify.Adapter
	if err != nil {
		logging.Warn(logging.CategoryApp, "desktop notifications unavailable: %v", err)
		notifyAdapter = notify.Noop{}
	} else {
		notifyAdapter = notify.NewAsync(notifier)
	}

	var llm llmclient.Service = llmclient.Disabled{}
	if cfg.LLM.Enabled {
		llm = llmclient.NewOllama(cfg.LLM)
	}

	sourceFactory := func() (audioio.Source, error) {
		return audioio.NewPortAudioSource(cfg.Audio)
	}
	bulkFactory := func() (audioio.BulkRecorder, error) {
		return audioio.NewBufferedRecorder(cfg.Audio)
	}

	tcfg := transcriber.Config{
		Language:        cfg.Whisper.Language,
		VADThreshold:    cfg.VAD.Threshold,
		SilenceCommitMS: cfg.VAD.SilenceCommitMS,
		MinConfirmed:    cfg.VAD.MinConfirmed,
		BeamSize:        cfg.Whisper.BeamSize,
		Temperature:     cfg.Whisper.Temperature,
	}

	flow := workflow.New(sourceFactory, bulkFactory, worker, tcfg, clipboard.New(), notifyAdapter, reg, paths.RecordingPID)

	d := daemon.New(paths, flow, llm, reg, watcher, notifyAdapter)
	if err := d.WritePIDFile(); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer d.Cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := flow.Warmup(ctx); err != nil {
		logging.Warn(logging.CategoryWhisper, "warmup failed: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info(logging.CategoryDaemon, "received signal %v, shutting down", sig)
		cancel()
	}()

	logging.Info(logging.CategoryDaemon, "v2m daemon started, pid=%d", os.Getpid())
	err = d.Serve(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if serr := flow.Shutdown(shutdownCtx); serr != nil {
		logging.Warn(logging.CategoryDaemon, "workflow shutdown: %v", serr)
	}

	return err
}
