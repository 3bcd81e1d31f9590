package gitctx

import (
	"context"
	"errors"
	"os/exec"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/drblury/hookd/internal/runtime/envelope"
	loggingpkg "github.com/drblury/hookd/internal/runtime/logging"
	"github.com/drblury/hookd/internal/runtime/metrics"
)

// DetachedBranch is reported when HEAD is not on a branch.
const DetachedBranch = "detached"

var (
	argsRoot   = []string{"rev-parse", "--show-toplevel"}
	argsBranch = []string{"branch", "--show-current"}
	argsHead   = []string{"rev-parse", "HEAD"}
	argsRemote = []string{"remote", "get-url", "origin"}
)

// Resolver turns a working directory into a RepoContext. It holds no state
// between calls.
type Resolver struct {
	runner  Runner
	logger  loggingpkg.ServiceLogger
	metrics *metrics.Metrics
}

// NewResolver builds a Resolver. A nil runner uses ExecRunner{}.
func NewResolver(runner Runner, logger loggingpkg.ServiceLogger, m *metrics.Metrics) *Resolver {
	if runner == nil {
		runner = ExecRunner{}
	}
	if logger == nil {
		logger = loggingpkg.NewNopServiceLogger()
	}
	return &Resolver{runner: runner, logger: logger, metrics: metrics.OrNew(m)}
}

// Root returns the canonical repository root containing dir. It reports false
// when dir is not inside a repository or git cannot run.
func (r *Resolver) Root(ctx context.Context, dir string) (string, bool) {
	root, ok := r.query(ctx, "root", dir, argsRoot)
	if !ok || root == "" {
		return "", false
	}
	return filepath.Clean(root), true
}

// Resolve runs the full resolution for dir: root, then branch, head and
// remote against that root.
func (r *Resolver) Resolve(ctx context.Context, dir string) (envelope.RepoContext, bool) {
	root, ok := r.Root(ctx, dir)
	if !ok {
		return envelope.RepoContext{}, false
	}
	return r.ResolveRoot(ctx, root)
}

// ResolveRoot gathers branch, head and remote for a known root. The three
// queries run concurrently; only a missing head is fatal.
func (r *Resolver) ResolveRoot(ctx context.Context, root string) (envelope.RepoContext, bool) {
	var (
		branch, head, remote string
		branchOK, headOK     bool
		remoteOK             bool
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		branch, branchOK = r.query(gctx, "branch", root, argsBranch)
		return nil
	})
	g.Go(func() error {
		head, headOK = r.query(gctx, "head", root, argsHead)
		return nil
	})
	g.Go(func() error {
		remote, remoteOK = r.query(gctx, "remote", root, argsRemote)
		return nil
	})
	_ = g.Wait()

	if !headOK || head == "" {
		return envelope.RepoContext{}, false
	}
	if !branchOK || branch == "" {
		branch = DetachedBranch
	}

	repo := envelope.RepoContext{
		GitRoot: root,
		Branch:  branch,
		HeadSHA: head,
	}
	if remoteOK && remote != "" {
		repo.RemoteURL = &remote
	}
	return repo, true
}

func (r *Resolver) query(ctx context.Context, name, dir string, args []string) (string, bool) {
	out, err := r.runner.Run(ctx, dir, args...)
	if err == nil {
		return out, true
	}

	r.metrics.GitQueryFailures.WithLabelValues(name).Inc()
	fields := loggingpkg.LogFields{"query": name, "dir": dir, "error": err.Error()}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		r.logger.Debug("git command failed", fields)
	} else {
		r.logger.Warn("failed to run git", fields)
	}
	return "", false
}
