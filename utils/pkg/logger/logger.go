package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// Format selects the handler used for pipeline logs.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Options configures a pipeline logger. The zero value logs colored text at info level to stdout.
type Options struct {
	Verbose bool
	Format  Format
	Output  io.Writer
}

// New returns a text logger, debug level when verbose.
func New(verbose bool) *slog.Logger {
	return NewWithOptions(Options{Verbose: verbose})
}

func NewWithOptions(opts Options) *slog.Logger {
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	replace := func(groups []string, a slog.Attr) slog.Attr {
		if a.Key == slog.TimeKey {
			t := a.Value.Time().UTC()
			a.Value = slog.StringValue(formatRFC3339Millis(t))
		}
		// Empty strings are noise in batch logs (absent source values are empty in the raw zone).
		if s, ok := a.Value.Any().(string); ok && s == "" {
			return slog.Attr{}
		}
		return a
	}

	if Format(strings.ToLower(string(opts.Format))) == FormatJSON {
		return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
			Level:       logLevel,
			ReplaceAttr: replace,
		}))
	}
	return slog.New(tint.NewHandler(out, &tint.Options{
		Level:       logLevel,
		ReplaceAttr: replace,
	}))
}

// ParseFormat maps a flag value onto a Format.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatText:
		return FormatText, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unknown log format %q (expected text or json)", s)
	}
}

func formatRFC3339Millis(t time.Time) string {
	t = t.UTC()
	base := t.Format("2006-01-02T15:04:05")
	ms := t.Nanosecond() / 1_000_000
	return fmt.Sprintf("%s.%03dZ", base, ms)
}
