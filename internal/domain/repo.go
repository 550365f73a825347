package domain

import (
	"fmt"
	"regexp"
	"strings"
)

// RepoRef identifies a repository to ingest or query. The ID is owned by the
// caller; Source is a git URL or a local directory and Ref an optional
// branch, tag or commit.
type RepoRef struct {
	ID     string `json:"repository_id" db:"repository_id"`
	Source string `json:"source"        db:"source"`
	Ref    string `json:"ref,omitempty" db:"ref"`
}

var repoIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// ValidRepoID reports whether id can key a workspace directory.
func ValidRepoID(id string) bool {
	return repoIDPattern.MatchString(id) && !strings.Contains(id, "..")
}

// Validate checks the reference before any work is scheduled for it.
func (r RepoRef) Validate() error {
	if !ValidRepoID(r.ID) {
		return fmt.Errorf("invalid repository id %q", r.ID)
	}
	if strings.TrimSpace(r.Source) == "" {
		return fmt.Errorf("repository %s: source is required", r.ID)
	}
	if strings.HasPrefix(r.Ref, "-") || strings.ContainsAny(r.Ref, " \t\n") {
		return fmt.Errorf("repository %s: invalid ref %q", r.ID, r.Ref)
	}
	return nil
}

// Workspace is a local, readable tree produced by an acquirer.
type Workspace struct {
	Root   string
	Commit string // empty when the source is not a git checkout
}
