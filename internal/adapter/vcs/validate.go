package vcs

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	dangerousChars = regexp.MustCompile("[;&|`$(){}<>\\n\\r\\\\!]")
	sshURLPattern  = regexp.MustCompile(`^(git@[\w.-]+:[\w./~-]+|ssh://([\w.-]+@)?[\w.-]+(:\d+)?/[\w./~-]+)$`)
	credentialPart = regexp.MustCompile(`://[^/@\s]+@`)
)

// LocalSources limits which directories on this host may be ingested. The
// zero value rejects every local path and file:// URL.
type LocalSources struct {
	// Roots are the directories under which local sources are accepted.
	Roots []string
	// AllowAll accepts any local directory. The CLI runs as its user and sets
	// it; servers list Roots instead.
	AllowAll bool
}

// Permit fails unless path, after resolving symlinks, lies inside one of
// the roots.
func (l LocalSources) Permit(path string) error {
	if l.AllowAll {
		return nil
	}
	if len(l.Roots) == 0 {
		return fmt.Errorf("local sources are disabled")
	}
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return fmt.Errorf("local source: %w", err)
	}
	for _, root := range l.Roots {
		base, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		if r, err := filepath.EvalSymlinks(base); err == nil {
			base = r
		}
		rel, err := filepath.Rel(base, resolved)
		if err != nil {
			continue
		}
		if rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return nil
		}
	}
	return fmt.Errorf("local source %s is outside the allowed roots", path)
}

// ValidateSource accepts https, http, ssh and git@ URLs, plus file:// URLs
// and existing local directories that local permits. It rejects shell
// metacharacters and URLs that carry an embedded password.
func ValidateSource(source string, local LocalSources) error {
	if source == "" {
		return fmt.Errorf("source is empty")
	}
	if strings.HasPrefix(source, "-") {
		return fmt.Errorf("source must not start with '-'")
	}
	if dangerousChars.MatchString(source) {
		return fmt.Errorf("source contains dangerous characters")
	}

	switch {
	case strings.HasPrefix(source, "http://"), strings.HasPrefix(source, "https://"):
		parsed, err := url.Parse(source)
		if err != nil {
			return fmt.Errorf("invalid URL format: %w", err)
		}
		if parsed.Host == "" {
			return fmt.Errorf("git URL missing host")
		}
		if parsed.User != nil {
			if _, hasPassword := parsed.User.Password(); hasPassword {
				return fmt.Errorf("git URL should not contain embedded password")
			}
		}
		return nil
	case strings.HasPrefix(source, "git@"), strings.HasPrefix(source, "ssh://"):
		if !sshURLPattern.MatchString(source) {
			return fmt.Errorf("invalid SSH git URL format")
		}
		return nil
	case strings.HasPrefix(source, "file://"):
		parsed, err := url.Parse(source)
		if err != nil {
			return fmt.Errorf("invalid URL format: %w", err)
		}
		if parsed.Host != "" && parsed.Host != "localhost" {
			return fmt.Errorf("file URL must not name a remote host")
		}
		if !filepath.IsAbs(parsed.Path) {
			return fmt.Errorf("file URL path must be absolute")
		}
		return local.Permit(filepath.Clean(parsed.Path))
	case strings.Contains(source, "://"):
		return fmt.Errorf("unsupported git URL protocol: must be https://, git@, ssh://, file:// or a local path")
	}

	abs, err := filepath.Abs(source)
	if err != nil {
		return fmt.Errorf("invalid local path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("local source: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("local source %s is not a directory", abs)
	}
	return local.Permit(abs)
}

func isRemote(source string) bool {
	for _, prefix := range []string{"http://", "https://", "ssh://", "git@"} {
		if strings.HasPrefix(source, prefix) {
			return true
		}
	}
	return false
}

// redact hides user info embedded in URLs before they reach logs or errors.
func redact(s string) string {
	return credentialPart.ReplaceAllString(s, "://***@")
}
