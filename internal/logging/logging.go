package logging

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	CombinedLogFile = "CombinedLogs.log"
	ErrorLogFile    = "ErrorLogs.log"

	maxSizeMB  = 4
	maxBackups = 2
)

// Options configures the log sinks.
type Options struct {
	// Dir holds the log files. Empty disables file output.
	Dir   string
	Level string
	// Console receives human-readable output; defaults to stdout.
	Console io.Writer
}

// New builds the process logger. Every event goes to the console and the
// combined log; error events are also written to the error log.
func New(opts Options) zerolog.Logger {
	zerolog.TimeFieldFormat = time.DateTime

	console := opts.Console
	if console == nil {
		console = os.Stdout
	}

	writers := []io.Writer{
		zerolog.ConsoleWriter{Out: console, TimeFormat: time.DateTime},
	}

	if opts.Dir != "" {
		writers = append(writers,
			rotatingFile(filepath.Join(opts.Dir, CombinedLogFile)),
			errorsOnly(rotatingFile(filepath.Join(opts.Dir, ErrorLogFile))),
		)
	}

	level, err := zerolog.ParseLevel(opts.Level)
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}

	return zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().
		Timestamp().
		Logger()
}

func rotatingFile(path string) io.Writer {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
	}
}

// errorsOnly drops events below error level.
func errorsOnly(w io.Writer) zerolog.LevelWriter {
	return &zerolog.FilteredLevelWriter{
		Writer: zerolog.LevelWriterAdapter{Writer: w},
		Level:  zerolog.ErrorLevel,
	}
}
