// Package color provides terminal color output for operator.
// It respects the NO_COLOR environment variable (https://no-color.org/).
package color

import (
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

var state struct {
	once       sync.Once
	enabled    atomic.Bool
	overridden atomic.Bool
}

// Init initializes the color system based on environment and flags.
// Explicit Enable/Disable calls take precedence over the environment.
func Init(noColorFlag bool) {
	state.once.Do(func() {
		if state.overridden.Load() {
			return
		}
		disabled := noColorFlag
		if _, exists := os.LookupEnv("NO_COLOR"); exists {
			disabled = true
		}
		if os.Getenv("TERM") == "dumb" {
			disabled = true
		}
		state.enabled.Store(!disabled)
	})
}

// Enabled returns true if color output is enabled.
func Enabled() bool {
	Init(false)
	return state.enabled.Load()
}

// Disable turns off color output.
func Disable() {
	state.overridden.Store(true)
	state.enabled.Store(false)
}

// Enable turns on color output.
func Enable() {
	state.overridden.Store(true)
	state.enabled.Store(true)
}

// ANSI color codes
const (
	Reset   = "\033[0m"
	Bold    = "\033[1m"
	DimCode = "\033[2m"

	Red    = "\033[31m"
	Green  = "\033[32m"
	Yellow = "\033[33m"
	Cyan   = "\033[36m"
)

type colorFunc func(string) string

func makeColorFunc(codes ...string) colorFunc {
	return func(s string) string {
		if !Enabled() {
			return s
		}
		return strings.Join(codes, "") + s + Reset
	}
}

// Pre-defined color functions
var (
	Redf    = makeColorFunc(Red)
	Greenf  = makeColorFunc(Green)
	Yellowf = makeColorFunc(Yellow)
	Cyanf   = makeColorFunc(Cyan)
	Boldf   = makeColorFunc(Bold)
	Dimf    = makeColorFunc(DimCode)
)

// Success formats a success message in green.
func Success(s string) string { return Greenf(s) }

// Error formats an error message in red.
func Error(s string) string { return Redf(s) }

// Warning formats a warning message in yellow.
func Warning(s string) string { return Yellowf(s) }

// Ref formats a checkpoint ref or run id.
func Ref(s string) string { return Cyanf(s) }

// Header formats a header in bold.
func Header(s string) string { return Boldf(s) }

// Dim formats dimmed text (for secondary information).
func Dim(s string) string { return Dimf(s) }

// Status colors a status word: ok/pass/allow green, warn/confirm yellow,
// fail/denied/deny red, anything else unchanged.
func Status(s string) string {
	switch strings.ToLower(s) {
	case "ok", "pass", "allow", "success", "running", "confirmed":
		return Greenf(s)
	case "warn", "warning", "confirm", "dry-run", "skipped", "unknown", "blocked":
		return Yellowf(s)
	case "fail", "failed", "deny", "denied", "stopped", "exhausted", "error":
		return Redf(s)
	}
	return s
}

// Code formats command strings in a distinct style (bold + dim).
func Code(s string) string {
	if !Enabled() {
		return s
	}
	return Bold + DimCode + s + Reset
}
