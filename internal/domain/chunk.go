package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// Chunk is a contiguous, line-ranged slice of one file: the unit of retrieval
// and citation. Lines are 1-indexed and inclusive.
type Chunk struct {
	ID             string    `json:"id"                        db:"id"`
	RepositoryID   string    `json:"repository_id"             db:"repository_id"`
	JobID          string    `json:"job_id"                    db:"job_id"`
	FilePath       string    `json:"file_path"                 db:"file_path"`
	StartLine      int       `json:"start_line"                db:"start_line"`
	EndLine        int       `json:"end_line"                  db:"end_line"`
	Language       string    `json:"language"                  db:"language"`
	Content        string    `json:"content,omitempty"         db:"content"`
	ContentHash    string    `json:"content_hash"              db:"content_hash"`
	EmbeddingModel string    `json:"embedding_model,omitempty" db:"embedding_model"`
	Vector         []float32 `json:"-"                         db:"-"`
}

// Embedded reports whether the chunk carries a usable vector.
func (c *Chunk) Embedded() bool {
	return len(c.Vector) > 0
}

// ScoredChunk is a chunk returned by a similarity query.
type ScoredChunk struct {
	Chunk
	Score float64 `json:"relevance_score"`
}

// ChunkQuery filters a repository's chunk listing.
type ChunkQuery struct {
	RepositoryID   string
	PathPrefix     string
	Limit          int
	Offset         int
	IncludeContent bool
}

// HashContent returns the hex sha256 of a chunk's text.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// ChunkID derives a stable identifier so that re-ingesting identical input
// yields identical IDs.
func ChunkID(repoID, filePath string, start, end int, contentHash string) string {
	h := sha256.New()
	h.Write([]byte(repoID))
	h.Write([]byte{'|'})
	h.Write([]byte(filePath))
	h.Write([]byte{'|'})
	h.Write([]byte(strconv.Itoa(start)))
	h.Write([]byte{'|'})
	h.Write([]byte(strconv.Itoa(end)))
	h.Write([]byte{'|'})
	h.Write([]byte(contentHash))
	return hex.EncodeToString(h.Sum(nil))
}
