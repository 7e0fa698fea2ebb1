package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"convo-llm/internal/domain"
)

type SessionRepository interface {
	Create(ctx context.Context, session domain.Session) error
	GetByID(ctx context.Context, id string) (domain.Session, error)
	List(ctx context.Context, limit int) ([]domain.Session, error)
	Touch(ctx context.Context, id string, at time.Time) error
	Delete(ctx context.Context, id string) error
}

type PgSessionRepository struct {
	pool *pgxpool.Pool
}

func NewPgSessionRepository(pool *pgxpool.Pool) *PgSessionRepository {
	return &PgSessionRepository{pool: pool}
}

func (r *PgSessionRepository) Create(ctx context.Context, session domain.Session) error {
	const query = `
		INSERT INTO sessions (id, title, created_at, last_activity_at, message_count)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := r.pool.Exec(ctx, query,
		session.ID,
		session.Title,
		session.CreatedAt,
		session.LastActivityAt,
		session.MessageCount,
	)
	if err != nil {
		return domain.NewFailure(domain.FailurePersistence, err)
	}
	return nil
}

func (r *PgSessionRepository) GetByID(ctx context.Context, id string) (domain.Session, error) {
	const query = `
		SELECT id, title, created_at, last_activity_at, message_count
		FROM sessions
		WHERE id = $1
	`
	var session domain.Session
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&session.ID,
		&session.Title,
		&session.CreatedAt,
		&session.LastActivityAt,
		&session.MessageCount,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Session{}, domain.NewFailure(domain.FailureNotFound, err)
	}
	if err != nil {
		return domain.Session{}, domain.NewFailure(domain.FailurePersistence, err)
	}
	return session, nil
}

func (r *PgSessionRepository) List(ctx context.Context, limit int) ([]domain.Session, error) {
	if limit <= 0 {
		limit = 20
	}
	const query = `
		SELECT id, title, created_at, last_activity_at, message_count
		FROM sessions
		ORDER BY last_activity_at DESC
		LIMIT $1
	`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, domain.NewFailure(domain.FailurePersistence, err)
	}
	defer rows.Close()

	var sessions []domain.Session
	for rows.Next() {
		var s domain.Session
		if err := rows.Scan(&s.ID, &s.Title, &s.CreatedAt, &s.LastActivityAt, &s.MessageCount); err != nil {
			return nil, domain.NewFailure(domain.FailurePersistence, err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewFailure(domain.FailurePersistence, err)
	}
	return sessions, nil
}

// Touch registra actividad: suma un mensaje y actualiza la marca temporal.
func (r *PgSessionRepository) Touch(ctx context.Context, id string, at time.Time) error {
	const query = `
		UPDATE sessions
		SET message_count = message_count + 1, last_activity_at = $2
		WHERE id = $1
	`
	if _, err := r.pool.Exec(ctx, query, id, at); err != nil {
		return domain.NewFailure(domain.FailurePersistence, err)
	}
	return nil
}

func (r *PgSessionRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM sessions WHERE id = $1`
	if _, err := r.pool.Exec(ctx, query, id); err != nil {
		return domain.NewFailure(domain.FailurePersistence, err)
	}
	return nil
}
