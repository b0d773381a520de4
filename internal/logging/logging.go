// Package logging provides the process-wide structured logger for v2m.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Category tags a log line with the subsystem that produced it, mirroring
// the daemon's component boundaries rather than Go package names.
type Category string

const (
	CategoryAudio   Category = "AUDIO"
	CategoryVAD     Category = "VAD"
	CategoryWhisper Category = "WHISPER"
	CategoryTransc  Category = "TRANSCR"
	CategoryDaemon  Category = "DAEMON"
	CategoryIPC     Category = "IPC"
	CategoryApp     Category = "APP"
	CategoryLLM     Category = "LLM"
)

var (
	mu     sync.Mutex
	log    = logrus.New()
	fields = logrus.Fields{}

	lastError  string
	errorCount int
)

func init() {
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})
	log.SetOutput(os.Stderr)
	log.SetLevel(logrus.InfoLevel)
}

// Configure points the logger at a rotating file (via lumberjack) in addition
// to stderr, and sets the minimum level from a string such as "debug".
func Configure(runtimeDir, levelName string) error {
	mu.Lock()
	defer mu.Unlock()

	level, err := logrus.ParseLevel(levelName)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	if runtimeDir == "" {
		return nil
	}
	logPath := filepath.Join(runtimeDir, "v2m.log")
	rotator := &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    10, // MiB
		MaxBackups: 3,
		MaxAge:     14, // days
		Compress:   true,
	}
	log.SetOutput(io.MultiWriter(os.Stderr, rotator))
	return nil
}

// entry builds a logrus entry tagged with the given category.
func entry(category Category) *logrus.Entry {
	mu.Lock()
	defer mu.Unlock()
	return log.WithField("category", string(category))
}

func Debug(category Category, format string, args ...interface{}) {
	entry(category).Debugf(format, args...)
}

func Info(category Category, format string, args ...interface{}) {
	entry(category).Infof(format, args...)
}

func Warn(category Category, format string, args ...interface{}) {
	entry(category).Warnf(format, args...)
}

// Error logs at error level, collapsing consecutive repeats of the same
// message into one line every 5th occurrence to avoid flooding the daemon
// log when a device or model error repeats every audio frame.
func Error(category Category, format string, args ...interface{}) {
	text := fmt.Sprintf(format, args...)

	mu.Lock()
	if text == lastError {
		errorCount++
		if errorCount%5 != 0 {
			mu.Unlock()
			return
		}
		text = fmt.Sprintf("%s (repeated %d times)", text, errorCount)
	} else {
		lastError = text
		errorCount = 1
	}
	mu.Unlock()

	entry(category).Error(text)
}
