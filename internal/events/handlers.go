package events

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// LogConfig configures LogHandler.
type LogConfig struct {
	// Writer is where logs are written (default: os.Stderr).
	Writer io.Writer

	// IncludePayload includes the event payload in log output.
	IncludePayload bool

	// TimeFormat is the timestamp format (default: RFC3339).
	TimeFormat string
}

// LogHandler returns a Handler that logs events to the configured writer,
// one line per event formatted as "<time> [event.type] pool=... node=..."
// (plus err=... and, if enabled, payload=...), the same way the
// teacher's events.LogHandler formats "[event.type] unit task=#N pr=#M".
func LogHandler(cfg LogConfig) Handler {
	if cfg.Writer == nil {
		cfg.Writer = os.Stderr
	}
	if cfg.TimeFormat == "" {
		cfg.TimeFormat = time.RFC3339
	}

	return func(e Event) {
		var buf strings.Builder
		buf.WriteString(e.Time.Format(cfg.TimeFormat))
		buf.WriteString(" [")
		buf.WriteString(string(e.Type))
		buf.WriteString("]")

		if e.Pool != "" {
			fmt.Fprintf(&buf, " pool=%s", e.Pool)
		}
		if e.Node != "" {
			fmt.Fprintf(&buf, " node=%s", e.Node)
		}
		if e.Error != "" {
			fmt.Fprintf(&buf, " err=%s", e.Error)
		}
		if cfg.IncludePayload && e.Payload != nil {
			fmt.Fprintf(&buf, " payload=%v", e.Payload)
		}
		buf.WriteString("\n")

		fmt.Fprint(cfg.Writer, buf.String())
	}
}
