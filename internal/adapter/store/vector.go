package store

import (
	"context"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"github.com/arturoeanton/codequery/internal/domain"
)

// Upsert replaces the repository's chunk set in one transaction.
func (s *PostgresStore) Upsert(ctx context.Context, repoID string, chunks []domain.Chunk) error {
	return s.upsertChunks(ctx, repoID, chunks, func(v []float32) any {
		return pgvector.NewVector(v)
	})
}

// Query performs a cosine similarity search over one repository's chunks of
// one embedding model. Rows with a different dimension or a zero vector are
// never scored.
func (s *PostgresStore) Query(ctx context.Context, repoID, model string, vector []float32, k int) ([]domain.ScoredChunk, error) {
	if norm(vector) == 0 || k <= 0 {
		return nil, nil
	}
	query := `SELECT ` + chunkColumns + `, 1 - (embedding <=> $1) AS score
	          FROM chunks
	          WHERE repository_id = $2
	            AND embedding_model = $5
	            AND embedding IS NOT NULL
	            AND vector_dims(embedding) = $3
	            AND vector_norm(embedding) > 0
	          ORDER BY score DESC, file_path ASC, start_line ASC
	          LIMIT $4`

	var results []domain.ScoredChunk
	if err := s.db.SelectContext(ctx, &results, query, pgvector.NewVector(vector), repoID, len(vector), k, model); err != nil {
		return nil, fmt.Errorf("search similar: %w", err)
	}
	return results, nil
}

// Vectors returns the stored vectors of a model keyed by content hash.
func (s *PostgresStore) Vectors(ctx context.Context, repoID, model string) (map[string][]float32, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT content_hash, embedding FROM chunks
		 WHERE repository_id = $1 AND embedding_model = $2 AND embedding IS NOT NULL`,
		repoID, model)
	if err != nil {
		return nil, fmt.Errorf("load vectors: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]float32)
	for rows.Next() {
		var hash string
		var emb pgvector.Vector
		if err := rows.Scan(&hash, &emb); err != nil {
			return nil, fmt.Errorf("scan vector: %w", err)
		}
		out[hash] = emb.Slice()
	}
	return out, rows.Err()
}
