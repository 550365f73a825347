package domain

import "time"

// Question is a natural-language query against one repository.
type Question struct {
	ID           string    `json:"id"            db:"id"`
	RepositoryID string    `json:"repository_id" db:"repository_id"`
	Text         string    `json:"question"      db:"question"`
	AskedAt      time.Time `json:"asked_at"      db:"asked_at"`
}

// Citation points back at the evidence an answer was built from.
type Citation struct {
	FilePath       string  `json:"file_path"`
	StartLine      int     `json:"start_line"`
	EndLine        int     `json:"end_line"`
	RelevanceScore float64 `json:"relevance_score"`
}

// Answer belongs to exactly one Question. Citations may only be empty when
// retrieval found no evidence.
type Answer struct {
	QuestionID       string     `json:"question_id"`
	Text             string     `json:"answer"`
	Citations        []Citation `json:"citations"`
	UsedGenerative   bool       `json:"used_generative"`
	Confidence       float64    `json:"confidence"`
	Model            string     `json:"model,omitempty"`
	ProcessingTimeMS int64      `json:"processing_time_ms"`
}

// QuestionRecord is a stored question together with its answer.
type QuestionRecord struct {
	Question
	Answer Answer `json:"answer"`
}

// CitationFor builds the citation for a retrieved chunk from its stored
// fields.
func CitationFor(sc ScoredChunk) Citation {
	return Citation{
		FilePath:       sc.FilePath,
		StartLine:      sc.StartLine,
		EndLine:        sc.EndLine,
		RelevanceScore: sc.Score,
	}
}
