package svcfields

import (
	"strings"

	"pkt.systems/pslog"
)

// SubsystemKey is the canonical log field key for subsystem tags.
const SubsystemKey = pslog.TrustedString("sys")

// Subsystem joins the non-empty parts into a dot-delimited subsystem path.
func Subsystem(parts ...string) string {
	var kept []string
	for _, part := range parts {
		part = strings.Trim(part, ". ")
		if part != "" {
			kept = append(kept, part)
		}
	}
	return strings.Join(kept, ".")
}

// WithSubsystem returns a logger that tags every entry with the subsystem
// path. A nil logger is replaced with the noop logger.
func WithSubsystem(logger pslog.Logger, subsystem string) pslog.Logger {
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	subsystem = strings.Trim(subsystem, ". ")
	if subsystem == "" {
		return logger
	}
	return logger.With(SubsystemKey, subsystem)
}
