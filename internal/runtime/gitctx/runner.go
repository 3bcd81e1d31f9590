// Package gitctx resolves the repository a working directory belongs to and
// caches the result per repository root.
package gitctx

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"

	errspkg "github.com/drblury/hookd/internal/runtime/errors"
)

// Runner executes a git command in dir and returns its trimmed stdout.
type Runner interface {
	Run(ctx context.Context, dir string, args ...string) (string, error)
}

// ExecRunner shells out to the git binary on PATH.
type ExecRunner struct {
	// Binary defaults to "git".
	Binary string
	// Timeout bounds each invocation. Zero means no extra bound beyond ctx.
	Timeout time.Duration
}

func (r ExecRunner) Run(ctx context.Context, dir string, args ...string) (string, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	bin := r.Binary
	if bin == "" {
		bin = "git"
	}

	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	output, err := cmd.Output()
	if err != nil {
		return "", &errspkg.QueryError{
			Args:   args,
			Dir:    dir,
			Stderr: strings.TrimSpace(stderr.String()),
			Err:    err,
		}
	}
	return strings.TrimSpace(string(output)), nil
}
