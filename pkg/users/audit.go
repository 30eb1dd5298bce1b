package users

import "log/slog"

// LevelSecurityAudit sits above Warn so privilege changes survive any
// production log level filter.
const LevelSecurityAudit = slog.LevelWarn + 2

// ReplaceLevel is a slog.HandlerOptions.ReplaceAttr hook that renders
// LevelSecurityAudit as "AUDIT" instead of "WARN+2".
func ReplaceLevel(_ []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey {
		return a
	}
	if level, ok := a.Value.Any().(slog.Level); ok && level == LevelSecurityAudit {
		a.Value = slog.StringValue("AUDIT")
	}
	return a
}
