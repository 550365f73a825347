package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/arturoeanton/codequery/internal/domain"
	"github.com/arturoeanton/codequery/internal/port"
)

// Listing bounds for chunk and question pages.
const (
	DefaultPageLimit = 50
	MaxPageLimit     = 500
	minQuestionLen   = 3
)

// QAStore is the persistence the question-answering side reads and writes.
type QAStore interface {
	port.ChunkIndex
	port.QuestionStore
	LatestCompleted(ctx context.Context, repoID string) (*domain.Job, error)
}

// QAService answers questions over indexed repositories.
type QAService struct {
	store     QAStore
	retriever *Retriever
	composer  *Composer
}

// NewQAService creates a QA service.
func NewQAService(store QAStore, retriever *Retriever, composer *Composer) *QAService {
	return &QAService{store: store, retriever: retriever, composer: composer}
}

// Retrieve returns the ranked evidence for question without composing an
// answer.
func (s *QAService) Retrieve(ctx context.Context, repoID, question string, k int) ([]domain.ScoredChunk, error) {
	question, err := normalizeQuestion(question)
	if err != nil {
		return nil, err
	}
	return s.retriever.Retrieve(ctx, repoID, question, k)
}

// Ask answers question from the repository's latest completed ingestion.
// It fails with port.ErrNotReady when there is none; otherwise an answer is
// always returned and recorded in the question history.
func (s *QAService) Ask(ctx context.Context, repoID, question string) (*domain.Answer, error) {
	started := time.Now()
	question, err := normalizeQuestion(question)
	if err != nil {
		return nil, err
	}

	if _, err := s.store.LatestCompleted(ctx, repoID); err != nil {
		if errors.Is(err, port.ErrJobNotFound) {
			return nil, fmt.Errorf("repository %s: %w", repoID, port.ErrNotReady)
		}
		return nil, err
	}

	slog.Info("ask", "repo_id", repoID, "question", question)
	evidence, err := s.retriever.Retrieve(ctx, repoID, question, 0)
	if err != nil {
		return nil, err
	}

	answer := s.composer.Compose(ctx, question, evidence)
	answer.QuestionID = uuid.NewString()
	answer.ProcessingTimeMS = time.Since(started).Milliseconds()

	rec := &domain.QuestionRecord{
		Question: domain.Question{
			ID:           answer.QuestionID,
			RepositoryID: repoID,
			Text:         question,
			AskedAt:      started.UTC(),
		},
		Answer: *answer,
	}
	if err := s.store.SaveQuestion(ctx, rec); err != nil {
		slog.Error("save question", "repo_id", repoID, "error", err)
	}

	recordAsk(answer.UsedGenerative, time.Since(started))
	return answer, nil
}

// ListChunks pages through chunk metadata. Limit defaults to 50 and is
// capped at 500.
func (s *QAService) ListChunks(ctx context.Context, q domain.ChunkQuery) ([]domain.Chunk, int, error) {
	limit, err := pageLimit(q.Limit, q.Offset)
	if err != nil {
		return nil, 0, err
	}
	q.Limit = limit
	return s.store.ListChunks(ctx, q)
}

// ListQuestions returns the repository's question history, newest first.
func (s *QAService) ListQuestions(ctx context.Context, repoID string, limit, offset int) ([]domain.QuestionRecord, int, error) {
	limit, err := pageLimit(limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return s.store.ListQuestions(ctx, repoID, limit, offset)
}

func normalizeQuestion(q string) (string, error) {
	q = strings.TrimSpace(q)
	if len([]rune(q)) < minQuestionLen {
		return "", fmt.Errorf("%w: question must have at least %d characters", port.ErrInvalidRequest, minQuestionLen)
	}
	return q, nil
}

func pageLimit(limit, offset int) (int, error) {
	if offset < 0 {
		return 0, fmt.Errorf("%w: offset must not be negative", port.ErrInvalidRequest)
	}
	if limit < 0 {
		return 0, fmt.Errorf("%w: limit must not be negative", port.ErrInvalidRequest)
	}
	if limit == 0 {
		limit = DefaultPageLimit
	}
	return min(limit, MaxPageLimit), nil
}
