// Package logging builds the process-wide zerolog logger and hands out
// component-scoped children.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/pkgerrors"
)

// Options configures the root logger
type Options struct {
	Level    string
	Format   string // "json" or "console"
	Service  string
	Instance string
	Writer   io.Writer
}

// FromEnv reads LOG_LEVEL and LOG_FORMAT, defaulting to info/json
func FromEnv() Options {
	return Options{
		Level:   envOr("LOG_LEVEL", "info"),
		Format:  envOr("LOG_FORMAT", "json"),
		Service: "warren",
	}
}

var (
	once   sync.Once
	root   atomic.Pointer[zerolog.Logger]
	inited atomic.Bool
)

// Init configures zerolog and builds the root logger. Only the first call has effect.
func Init(opt Options) {
	once.Do(func() {
		l := New(opt)
		root.Store(&l)
		inited.Store(true)
	})
}

// New builds a logger from opt without touching the process-wide root
func New(opt Options) zerolog.Logger {
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var w io.Writer = os.Stdout
	if opt.Writer != nil {
		w = opt.Writer
	}
	if strings.EqualFold(opt.Format, "console") {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	ctx := zerolog.New(w).Level(parseLevel(opt.Level)).With().Timestamp()
	if opt.Service != "" {
		ctx = ctx.Str("service", opt.Service)
	}
	if opt.Instance != "" {
		ctx = ctx.Str("instance", opt.Instance)
	}
	return ctx.Logger()
}

// Get returns the root logger, initialising it from the environment if needed
func Get() zerolog.Logger {
	if !inited.Load() {
		Init(FromEnv())
	}
	return *root.Load()
}

// Named returns a child of the root logger tagged with a component field
func Named(component string) zerolog.Logger {
	return Get().With().Str("component", component).Logger()
}

// Nop returns a disabled logger for tests and optional wiring
func Nop() zerolog.Logger {
	return zerolog.Nop()
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return strings.ToLower(v)
	}
	return def
}
