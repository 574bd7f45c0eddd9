package logging

import (
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// New creates a new zerolog logger with console and file output
func New() zerolog.Logger {
	return NewWithLevel("info")
}

// NewWithLevel is New with a minimum level. Unknown levels fall back to info.
func NewWithLevel(level string) zerolog.Logger {
	return newLogger(os.Stderr, level, fileWriter(getLogPath()))
}

// NewFileOnly logs to the file alone, for commands that own the terminal.
func NewFileOnly(level string) zerolog.Logger {
	return newLogger(nil, level, fileWriter(getLogPath()))
}

// newLogger writes to file and, when console is set, to console as well.
func newLogger(console io.Writer, level string, file io.Writer) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	out := file
	if console != nil {
		// Multi-writer: console + file
		out = zerolog.MultiLevelWriter(
			zerolog.ConsoleWriter{Out: console, TimeFormat: time.RFC3339},
			file,
		)
	}

	return zerolog.New(out).Level(lvl).With().Timestamp().Caller().Logger()
}

// fileWriter rotates the log file once it reaches 10 MB.
func fileWriter(path string) io.Writer {
	os.MkdirAll(filepath.Dir(path), 0755)
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10,
		MaxBackups: 3,
		MaxAge:     28,
	}
}

// Path returns the log file location.
func Path() string {
	return getLogPath()
}

// getLogPath returns platform-specific log file path
func getLogPath() string {
	var base string

	switch runtime.GOOS {
	case "darwin":
		base = os.Getenv("HOME") + "/Library/Logs"
	case "windows":
		base = os.Getenv("LOCALAPPDATA")
	default:
		if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
			base = xdg
		} else {
			base = os.Getenv("HOME") + "/.local/state"
		}
	}

	return filepath.Join(base, "recstream", "recstream.log")
}
