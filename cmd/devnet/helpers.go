package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/containerd/console"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/sebasti810/lumina/internal/logging"
)

// parseKeyValueArgs splits repeated KEY=VALUE flag values into a map. A bare
// KEY takes its value from the process environment, matching docker build.
func parseKeyValueArgs(flag string, values []string) (map[string]string, error) {
	if len(values) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(values))
	for _, raw := range values {
		key, value, found := strings.Cut(raw, "=")
		if key == "" {
			return nil, fmt.Errorf("%s %q: key must not be empty", flag, raw)
		}
		if !found {
			value = os.Getenv(key)
		}
		out[key] = value
	}
	return out, nil
}

func resolveConsoleFile(w io.Writer) console.File {
	if cf, ok := w.(console.File); ok {
		return cf
	}
	if f, ok := w.(*os.File); ok {
		return f
	}
	return os.Stderr
}

// progressMode picks the BuildKit progress renderer: tty output for an
// interactive stderr, plain line output otherwise (the CI case).
func progressMode(cmd *cobra.Command) string {
	if mode := os.Getenv("BUILDKIT_PROGRESS"); mode != "" {
		return mode
	}
	if isTerminalWriter(cmd.ErrOrStderr()) {
		return "auto"
	}
	return "plain"
}

func isTerminalWriter(w io.Writer) bool {
	type fdProvider interface {
		Fd() uintptr
	}
	if v, ok := w.(fdProvider); ok {
		return term.IsTerminal(int(v.Fd()))
	}
	return false
}

func newLogger(level *string) (*zap.Logger, error) {
	lvl := "info"
	if level != nil && *level != "" {
		lvl = *level
	}
	return logging.New(lvl)
}
