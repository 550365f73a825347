package vcs

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/arturoeanton/codequery/internal/domain"
)

// WorkspaceResolver maps a repository ID to its sandboxed workspace
// directory under a base path.
type WorkspaceResolver struct {
	base string
}

// NewWorkspaceResolver creates a resolver rooted at base.
func NewWorkspaceResolver(base string) *WorkspaceResolver {
	return &WorkspaceResolver{base: filepath.Clean(base)}
}

// Resolve returns the workspace directory for repoID. Distinct IDs never
// share a directory and the result never escapes the base.
func (r *WorkspaceResolver) Resolve(repoID string) (string, error) {
	if !domain.ValidRepoID(repoID) {
		return "", fmt.Errorf("invalid repository id %q", repoID)
	}
	dir := filepath.Join(r.base, repoID)
	rel, err := filepath.Rel(r.base, dir)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("workspace for %q escapes %s", repoID, r.base)
	}
	return dir, nil
}

// Base returns the directory all workspaces live under.
func (r *WorkspaceResolver) Base() string {
	return r.base
}
