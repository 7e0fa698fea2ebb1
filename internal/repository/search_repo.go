package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"convo-llm/internal/domain"
)

// SearchRepository busca mensajes por similitud semantica. Los embeddings
// los produce el gateway; aca solo se indexan y consultan.
type SearchRepository interface {
	IndexEmbedding(ctx context.Context, messageID string, embedding []float32) error
	SemanticSearch(ctx context.Context, sessionID string, embedding []float32, k int) ([]domain.Message, error)
}

type PgSearchRepository struct {
	pool *pgxpool.Pool
}

func NewPgSearchRepository(pool *pgxpool.Pool) *PgSearchRepository {
	return &PgSearchRepository{pool: pool}
}

func (r *PgSearchRepository) IndexEmbedding(ctx context.Context, messageID string, embedding []float32) error {
	if len(embedding) == 0 {
		return nil
	}
	const query = `UPDATE messages SET embedding = $2 WHERE id = $1`
	if _, err := r.pool.Exec(ctx, query, messageID, pgvector.NewVector(embedding)); err != nil {
		return domain.NewFailure(domain.FailurePersistence, err)
	}
	return nil
}

func (r *PgSearchRepository) SemanticSearch(ctx context.Context, sessionID string, embedding []float32, k int) ([]domain.Message, error) {
	if k <= 0 {
		k = 5
	}
	const query = `
		SELECT id, session_id, text, sender, created_at, status, audio_path, suggestions, favorite, saved_as_faq
		FROM messages
		WHERE session_id = $1 AND embedding IS NOT NULL
		ORDER BY embedding <=> $2
		LIMIT $3
	`
	rows, err := r.pool.Query(ctx, query, sessionID, pgvector.NewVector(embedding), k)
	if err != nil {
		return nil, domain.NewFailure(domain.FailurePersistence, err)
	}
	defer rows.Close()

	return scanMessages(rows)
}
