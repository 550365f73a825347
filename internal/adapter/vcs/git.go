package vcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/arturoeanton/codequery/internal/domain"
	"github.com/arturoeanton/codequery/internal/port"
)

// GitProvider implements port.Acquirer using the git CLI. Each repository
// gets its own workspace directory, resolved by the injected resolver.
type GitProvider struct {
	resolver *WorkspaceResolver
	timeout  time.Duration
	local    LocalSources
}

var _ port.Acquirer = (*GitProvider)(nil)

// NewGitProvider creates a new Git acquirer. Every git invocation is bounded
// by timeout. Local paths and file:// sources must pass local.
func NewGitProvider(resolver *WorkspaceResolver, timeout time.Duration, local LocalSources) *GitProvider {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &GitProvider{resolver: resolver, timeout: timeout, local: local}
}

// Acquire clones the source into the repository's workspace, or updates the
// existing clone, and checks out ref (the remote HEAD when empty). A local
// directory that is not a git checkout is used in place.
func (g *GitProvider) Acquire(ctx context.Context, ref domain.RepoRef) (*domain.Workspace, error) {
	if err := ValidateSource(ref.Source, g.local); err != nil {
		return nil, &port.AcquisitionError{Op: "validate", Source: ref.Source, Err: err}
	}

	if dir, ok := plainDirectory(ref.Source); ok {
		slog.Info("using local directory in place", "repo_id", ref.ID, "path", dir)
		return &domain.Workspace{Root: dir}, nil
	}

	dest, err := g.resolver.Resolve(ref.ID)
	if err != nil {
		return nil, &port.AcquisitionError{Op: "resolve", Source: ref.Source, Err: err}
	}

	if isGitDir(dest) {
		if err := g.update(ctx, dest, ref); err != nil {
			return nil, err
		}
	} else {
		if err := g.clone(ctx, dest, ref); err != nil {
			return nil, err
		}
	}

	commit, err := g.HeadCommit(ctx, dest)
	if err != nil {
		return nil, &port.AcquisitionError{Op: "resolve", Source: ref.Source, Err: err}
	}
	return &domain.Workspace{Root: dest, Commit: commit}, nil
}

func (g *GitProvider) clone(ctx context.Context, dest string, ref domain.RepoRef) error {
	// A leftover directory without .git is a failed earlier clone.
	if err := os.RemoveAll(dest); err != nil {
		return &port.AcquisitionError{Op: "clone", Source: ref.Source, Err: err}
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return &port.AcquisitionError{Op: "clone", Source: ref.Source, Err: err}
	}

	slog.Info("cloning repository", "repo_id", ref.ID, "source", redact(ref.Source), "ref", ref.Ref)
	if _, err := g.run(ctx, "clone", "--quiet", "--", ref.Source, dest); err != nil {
		_ = os.RemoveAll(dest)
		return &port.AcquisitionError{Op: "clone", Source: ref.Source, Err: err}
	}
	if ref.Ref == "" {
		return nil
	}
	if err := g.checkout(ctx, dest, ref.Ref); err != nil {
		_ = os.RemoveAll(dest)
		return &port.AcquisitionError{Op: "checkout", Source: ref.Source, Err: err}
	}
	return nil
}

func (g *GitProvider) update(ctx context.Context, dest string, ref domain.RepoRef) error {
	slog.Info("updating workspace", "repo_id", ref.ID, "ref", ref.Ref)
	if _, err := g.run(ctx, "-C", dest, "remote", "set-url", "origin", ref.Source); err != nil {
		return &port.AcquisitionError{Op: "fetch", Source: ref.Source, Err: err}
	}
	target := ref.Ref
	if target == "" {
		target = "HEAD"
	}
	if err := g.checkout(ctx, dest, target); err != nil {
		return &port.AcquisitionError{Op: "fetch", Source: ref.Source, Err: err}
	}
	return nil
}

// checkout fetches target from origin and detaches the work tree at it.
// Working on FETCH_HEAD makes branches, tags and commits behave the same.
func (g *GitProvider) checkout(ctx context.Context, dest, target string) error {
	if _, err := g.run(ctx, "-C", dest, "fetch", "--quiet", "origin", target); err != nil {
		return err
	}
	_, err := g.run(ctx, "-C", dest, "checkout", "--quiet", "--force", "--detach", "FETCH_HEAD")
	return err
}

// HeadCommit returns the commit hash checked out in repoPath.
func (g *GitProvider) HeadCommit(ctx context.Context, repoPath string) (string, error) {
	out, err := g.run(ctx, "-C", repoPath, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// run executes git with the provider's timeout and folds stderr into the
// returned error.
func (g *GitProvider) run(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("git %s: timed out after %s", gitVerb(args), g.timeout)
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return "", fmt.Errorf("git %s: %w", gitVerb(args), err)
		}
		return "", fmt.Errorf("git %s: %w: %s", gitVerb(args), err, redact(msg))
	}
	return string(out), nil
}

// gitVerb returns the subcommand name, skipping a leading -C <dir>.
func gitVerb(args []string) string {
	if len(args) > 2 && args[0] == "-C" {
		return args[2]
	}
	if len(args) > 0 {
		return args[0]
	}
	return ""
}

func isGitDir(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, ".git"))
	return err == nil && info.IsDir()
}

// plainDirectory reports whether source names a local directory that is not
// a git checkout.
func plainDirectory(source string) (string, bool) {
	if isRemote(source) || strings.HasPrefix(source, "file://") {
		return "", false
	}
	abs, err := filepath.Abs(source)
	if err != nil {
		return "", false
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return "", false
	}
	if isGitDir(abs) {
		return "", false
	}
	return abs, true
}
