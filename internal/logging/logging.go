// Package logging configures the process-wide apex/log logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/apex/log"
	"github.com/apex/log/handlers/discard"
	"github.com/apex/log/handlers/json"
	"github.com/apex/log/handlers/text"
)

type Options struct {
	// Level is debug|info|warn|error|fatal. Empty means warn.
	Level string
	// File receives JSON log lines when set.
	File string
	// Interactive discards terminal output so logs don't corrupt the TUI.
	Interactive bool
	// Stderr is where text logs go; defaults to os.Stderr.
	Stderr io.Writer
}

// Setup installs the handler and level and returns a closer for the log file.
func Setup(opts Options) (func() error, error) {
	lvl := log.WarnLevel
	if s := strings.TrimSpace(opts.Level); s != "" {
		parsed, err := log.ParseLevel(strings.ToLower(s))
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", s, err)
		}
		lvl = parsed
	}
	log.SetLevel(lvl)

	closer := func() error { return nil }
	switch {
	case strings.TrimSpace(opts.File) != "":
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		log.SetHandler(json.New(f))
		closer = f.Close
	case opts.Interactive:
		log.SetHandler(discard.New())
	default:
		w := opts.Stderr
		if w == nil {
			w = os.Stderr
		}
		log.SetHandler(text.New(w))
	}
	return closer, nil
}
