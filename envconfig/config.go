// Package envconfig reads runtime configuration from DINO_* environment
// variables.
package envconfig

import (
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// Var returns an environment variable with surrounding whitespace and
// quotes removed.
func Var(key string) string {
	return strings.Trim(strings.TrimSpace(os.Getenv(key)), "\"'")
}

// Bool returns a getter for a boolean variable (default false).
func Bool(k string) func() bool {
	return func() bool {
		if s := Var(k); s != "" {
			b, err := strconv.ParseBool(s)
			if err != nil {
				return true
			}
			return b
		}
		return false
	}
}

// Uint returns a getter for an unsigned integer variable with a
// default.
func Uint(key string, defaultValue uint) func() uint {
	return func() uint {
		if s := Var(key); s != "" {
			if n, err := strconv.ParseUint(s, 10, 64); err != nil {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return uint(n)
			}
		}
		return defaultValue
	}
}

// Int64 returns a getter for a signed integer variable with a default.
func Int64(key string, defaultValue int64) func() int64 {
	return func() int64 {
		if s := Var(key); s != "" {
			if n, err := strconv.ParseInt(s, 10, 64); err != nil {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return n
			}
		}
		return defaultValue
	}
}

// String returns a getter for a string variable with a default.
func String(key, defaultValue string) func() string {
	return func() string {
		if s := Var(key); s != "" {
			return s
		}
		return defaultValue
	}
}

// LogLevel reports the logging level.
// Configurable via DINO_DEBUG: 0/false = INFO (default), 1/true =
// DEBUG, higher integers increase verbosity further.
func LogLevel() slog.Level {
	level := slog.LevelInfo
	if s := Var("DINO_DEBUG"); s != "" {
		if b, _ := strconv.ParseBool(s); b {
			level = slog.LevelDebug
		} else if i, _ := strconv.ParseInt(s, 10, 64); i != 0 {
			level = slog.Level(i * -4)
		}
	}
	return level
}

var (
	// NumWorkers is the parallelism of the augmentation pipeline.
	// Configurable via DINO_NUM_WORKERS, default runtime.NumCPU().
	NumWorkers = Uint("DINO_NUM_WORKERS", uint(runtime.NumCPU()))

	// HistoryPath is the location of the run-history database.
	// Configurable via DINO_HISTORY; empty disables recording.
	HistoryPath = String("DINO_HISTORY", "")

	// Seed is the base RNG seed for initialization and augmentation.
	// Configurable via DINO_SEED, default 0.
	Seed = Int64("DINO_SEED", 0)

	// Debug reports whether debug output is requested via DINO_DEBUG.
	Debug = Bool("DINO_DEBUG")
)

// EnvVar describes one configuration variable for the environment
// listing.
type EnvVar struct {
	Name        string
	Value       any
	Description string
}

// AsMap lists every configuration variable with its live value.
func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"DINO_DEBUG":       {"DINO_DEBUG", LogLevel(), "Show additional debug information (e.g. DINO_DEBUG=1)"},
		"DINO_NUM_WORKERS": {"DINO_NUM_WORKERS", NumWorkers(), "Number of augmentation workers (default: number of CPUs)"},
		"DINO_HISTORY":     {"DINO_HISTORY", HistoryPath(), "Path to the run-history database (empty disables recording)"},
		"DINO_SEED":        {"DINO_SEED", Seed(), "Base random seed for initialization and augmentation"},
	}
}
