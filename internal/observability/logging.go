// Package observability builds the logger, Prometheus metrics and OpenTelemetry
// tracer shared by the gateway, the dispatcher and the extension manager.
package observability

import (
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"golang.org/x/term"
)

const redacted = "[REDACTED]"

// LogConfig configures the logging behavior.
type LogConfig struct {
	// Level sets the minimum log level: "debug", "info", "warn", "error"
	Level string

	// Format is "json", "text" or "auto". Auto writes text to a terminal and
	// JSON everywhere else.
	Format string

	// Output is the writer for log output (defaults to os.Stderr)
	Output io.Writer

	// AddSource includes file and line number in log records
	AddSource bool

	// RedactPatterns are additional regex patterns for sensitive data redaction
	RedactPatterns []string
}

// DefaultRedactPatterns match chat platform credentials and common secrets.
var DefaultRedactPatterns = []string{
	// Telegram bot tokens
	`\b\d{6,12}:[A-Za-z0-9_-]{30,}\b`,

	// Slack bot, user and app-level tokens
	`xox[abposr]-[A-Za-z0-9-]{10,}`,
	`xapp-[A-Za-z0-9-]{10,}`,

	// Discord bot tokens
	`[MNO][A-Za-z0-9_-]{23,25}\.[A-Za-z0-9_-]{6}\.[A-Za-z0-9_-]{27,}`,

	`(?i)(bearer|token)[\s:=]+([a-zA-Z0-9_\-\.]{16,})`,
	`(?i)(secret|password|passwd|pwd)[\s:=]+["\']?([^\s"']{8,})["\']?`,

	// Credentials embedded in database URLs
	`(?i)://[^:/\s@]+:[^@\s]+@`,
}

var sensitiveKeys = map[string]bool{
	"password":      true,
	"passwd":        true,
	"secret":        true,
	"token":         true,
	"bot_token":     true,
	"app_token":     true,
	"api_key":       true,
	"authorization": true,
	"dsn":           true,
}

// NewLogger creates a slog logger that redacts credentials from messages and
// attribute values. Invalid redaction patterns are ignored.
func NewLogger(config LogConfig) *slog.Logger {
	if config.Output == nil {
		config.Output = os.Stderr
	}

	redactor := newRedactor(config.RedactPatterns)
	opts := &slog.HandlerOptions{
		Level:       LogLevelFromString(config.Level),
		AddSource:   config.AddSource,
		ReplaceAttr: redactor.replaceAttr,
	}

	var handler slog.Handler
	if resolveFormat(config.Format, config.Output) == "json" {
		handler = slog.NewJSONHandler(config.Output, opts)
	} else {
		handler = slog.NewTextHandler(config.Output, opts)
	}
	return slog.New(handler)
}

// resolveFormat maps "auto" to text on terminals and json otherwise.
func resolveFormat(format string, out io.Writer) string {
	switch strings.ToLower(format) {
	case "json":
		return "json"
	case "text":
		return "text"
	}
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return "text"
	}
	return "json"
}

// LogLevelFromString converts a string to a slog.Level.
// Returns LevelInfo if the string is not recognized.
func LogLevelFromString(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type redactor struct {
	patterns []*regexp.Regexp
}

func newRedactor(extra []string) *redactor {
	r := &redactor{}
	for _, pattern := range append(append([]string{}, DefaultRedactPatterns...), extra...) {
		if re, err := regexp.Compile(pattern); err == nil {
			r.patterns = append(r.patterns, re)
		}
	}
	return r
}

func (r *redactor) replaceAttr(_ []string, a slog.Attr) slog.Attr {
	if sensitiveKeys[strings.ToLower(strings.ReplaceAll(a.Key, "-", "_"))] {
		return slog.String(a.Key, redacted)
	}
	switch a.Value.Kind() {
	case slog.KindString:
		return slog.String(a.Key, r.redact(a.Value.String()))
	case slog.KindAny:
		switch v := a.Value.Any().(type) {
		case error:
			return slog.String(a.Key, r.redact(v.Error()))
		case []byte:
			return slog.String(a.Key, r.redact(string(v)))
		}
	}
	return a
}

func (r *redactor) redact(s string) string {
	for _, re := range r.patterns {
		s = re.ReplaceAllString(s, redacted)
	}
	return s
}
