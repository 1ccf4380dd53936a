package log

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

var (
	mu     sync.RWMutex
	logger = newLogger(os.Stderr, false)
)

func newLogger(w io.Writer, console bool) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if console {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).With().Timestamp().Logger().Level(zerolog.InfoLevel)
}

// SetOutput redirects log output. Console mode renders human-friendly
// lines instead of JSON; the current level is preserved.
func SetOutput(w io.Writer, console bool) {
	mu.Lock()
	defer mu.Unlock()
	lvl := logger.GetLevel()
	logger = newLogger(w, console).Level(lvl)
}

// SetLevel accepts debug/info/warn/error (case-insensitive). Unknown values
// leave the current level untouched and return false.
func SetLevel(l string) bool {
	var zl zerolog.Level
	switch Level(strings.ToUpper(strings.TrimSpace(l))) {
	case LevelDebug:
		zl = zerolog.DebugLevel
	case LevelInfo:
		zl = zerolog.InfoLevel
	case LevelWarn:
		zl = zerolog.WarnLevel
	case LevelError:
		zl = zerolog.ErrorLevel
	default:
		return false
	}
	mu.Lock()
	logger = logger.Level(zl)
	mu.Unlock()
	return true
}

func Debug(msg string, kv ...any) {
	emit(current().Debug(), msg, kv...)
}

func Info(msg string, kv ...any) {
	emit(current().Info(), msg, kv...)
}

func Warn(msg string, kv ...any) {
	emit(current().Warn(), msg, kv...)
}

func Error(msg string, err error, kv ...any) {
	emit(current().Error().Err(err), msg, kv...)
}

func current() *zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	l := logger
	return &l
}

func emit(ev *zerolog.Event, msg string, kv ...any) {
	if ev == nil {
		return
	}
	// Expect kv as pairs: key, value, key, value, ...
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		ev = ev.Interface(key, kv[i+1])
	}
	ev.Msg(msg)
}

// RedactToken keeps a short prefix of a feed token so log lines can be
// correlated without exposing the full URL secret.
func RedactToken(token string) string {
	if len(token) <= 8 {
		return token
	}
	return token[:8] + "…"
}
