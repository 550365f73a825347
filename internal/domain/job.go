package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Job records one ingestion attempt for a repository.
type Job struct {
	ID             string     `json:"id"                        db:"id"`
	RepositoryID   string     `json:"repository_id"             db:"repository_id"`
	Source         string     `json:"source"                    db:"source"`
	Ref            string     `json:"ref,omitempty"             db:"ref"`
	Status         string     `json:"status"                    db:"status"`
	Commit         string     `json:"commit,omitempty"          db:"commit_hash"`
	EmbeddingModel string     `json:"embedding_model,omitempty" db:"embedding_model"`
	Stats          JobStats   `json:"stats"                     db:"stats"`
	Error          string     `json:"error,omitempty"           db:"error"`
	CreatedAt      time.Time  `json:"created_at"                db:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"      db:"started_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"     db:"finished_at"`
}

// Job status constants.
const (
	JobStatusQueued    = "queued"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// Terminal reports whether the job can no longer change.
func (j *Job) Terminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// RepoRef returns the repository reference the job was started for.
func (j *Job) RepoRef() RepoRef {
	return RepoRef{ID: j.RepositoryID, Source: j.Source, Ref: j.Ref}
}

// JobStats are the counters a job accumulates while it runs.
type JobStats struct {
	FilesScanned     int            `json:"files_scanned"`
	FilesIndexed     int            `json:"files_indexed"`
	ChunksCreated    int            `json:"chunks_created"`
	BytesSkipped     int64          `json:"bytes_skipped"`
	ChunksUnembedded int            `json:"chunks_unembedded"`
	SkipReasons      map[string]int `json:"skip_reasons,omitempty"`
}

// Value implements driver.Valuer so stats persist as a JSON document.
func (s JobStats) Value() (driver.Value, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (s *JobStats) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*s = JobStats{}
		return nil
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	default:
		return fmt.Errorf("scan job stats: unsupported type %T", src)
	}
}

// SelectionWarning describes a file the selector skipped. It is never fatal.
type SelectionWarning struct {
	Path   string
	Reason string
	Bytes  int64
}

// Skip reasons recorded in JobStats.SkipReasons.
const (
	SkipExcludedDir = "excluded_dir"
	SkipTooLarge    = "too_large"
	SkipExtension   = "extension"
	SkipBinary      = "binary"
	SkipUnreadable  = "unreadable"
)
