// Package logging builds slog handlers for the compiler CLI and the
// generated entrypoint. It does not touch the global default logger, so
// concurrent compilations can each carry their own isolated logger.
package logging

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/lmittmann/tint"
)

// Supported output formats.
const (
	FormatJSON = "json"
	FormatText = "text"
	FormatTint = "tint"
)

// New creates a configured slog.Logger writing to w.
func New(levelName, formatName string, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(levelName)); err != nil {
		return nil, fmt.Errorf("could not parse log level %q: %w", levelName, err)
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch formatName {
	case FormatJSON:
		handler = slog.NewJSONHandler(w, opts)
	case FormatText:
		handler = slog.NewTextHandler(w, opts)
	case FormatTint:
		handler = tint.NewHandler(w, &tint.Options{Level: level})
	default:
		return nil, fmt.Errorf("unknown log format %q: must be 'json', 'text' or 'tint'", formatName)
	}

	return slog.New(handler), nil
}
