package ir

import "github.com/hcitlab/irgen/openni"

// Severity is the level of a log message
type Severity int

const (
	SeverityDebug Severity = iota
	SeverityInfo
	SeverityWarn
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarn:
		return "warn"
	case SeverityError:
		return "error"
	}
	return "unknown"
}

// Logger receives the adapter's messages.  It is called from the node's
// notification goroutine and must be safe for concurrent use.
type Logger interface {
	Log(sev Severity, msg string)
}

type nopLogger struct{}

func (nopLogger) Log(Severity, string) {}

// Observer is notified of node events alongside the log.  Metrics collectors
// implement it.
type Observer interface {
	// NewData is called on every new frame with the node's error state
	NewData(state openni.Status)

	// OutputModeChanged is called with the new output mode
	OutputModeChanged(mode openni.MapOutputMode)
}
