// Package tokens invokes the external auth-token generation script after the
// stack is up. The script is an opaque collaborator: its exit code is
// authoritative and no readiness probing happens here.
package tokens

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	shellwords "github.com/mattn/go-shellwords"
	"github.com/pkg/errors"
)

// DefaultScript matches the CI layout.
const DefaultScript = "ci/generate-tokens.sh"

// Options configure a single token-generation run.
type Options struct {
	// Command is the script invocation, parsed with shell word splitting so
	// quoted arguments survive (e.g. `bash ci/generate-tokens.sh --all`).
	Command string
	WorkDir string
	Timeout time.Duration
	// Env entries are appended to the inherited environment.
	Env map[string]string
	// Output receives the script's combined stdout/stderr; defaults to
	// os.Stderr.
	Output io.Writer
}

// Generate runs the token script exactly once. A non-zero exit is returned as
// an error; the caller decides what to do with the still-running stack.
func Generate(ctx context.Context, opts Options) error {
	command := strings.TrimSpace(opts.Command)
	if command == "" {
		command = DefaultScript
	}
	argv, err := shellwords.Parse(command)
	if err != nil {
		return errors.Wrapf(err, "parse token command %q", command)
	}
	if len(argv) == 0 {
		return errors.Errorf("token command %q is empty", command)
	}

	runCtx := ctx
	cancel := func() {}
	if opts.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
	}
	defer cancel()

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = opts.WorkDir
	cmd.Env = buildEnv(opts.Env)

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	cmd.Stdout = out
	cmd.Stderr = out

	if err := cmd.Run(); err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return errors.Wrapf(err, "token generation timed out after %s", opts.Timeout)
		}
		return errors.Wrapf(err, "token generation %q", command)
	}
	return nil
}

func buildEnv(extra map[string]string) []string {
	env := append([]string(nil), os.Environ()...)
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, fmt.Sprintf("%s=%s", k, extra[k]))
	}
	return env
}
