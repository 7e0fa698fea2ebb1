package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"convo-llm/internal/domain"
)

type MessageRepository interface {
	Append(ctx context.Context, message domain.Message) (domain.Message, error)
	FetchPage(ctx context.Context, sessionID string, limit int, before *time.Time) ([]domain.Message, error)
	UpdateStatus(ctx context.Context, id string, status domain.MessageStatus) error
	SetFavorite(ctx context.Context, id string, favorite bool) error
	SetFaq(ctx context.Context, id string, saved bool) error
	Search(ctx context.Context, sessionID, query string, limit int) ([]domain.Message, error)
	DeleteBySession(ctx context.Context, sessionID string) error
}

type PgMessageRepository struct {
	pool *pgxpool.Pool
}

func NewPgMessageRepository(pool *pgxpool.Pool) *PgMessageRepository {
	return &PgMessageRepository{pool: pool}
}

// Append inserta write-through y devuelve el mensaje confirmado: la fila
// puede corregir id y timestamp respecto de la entrada optimista.
func (r *PgMessageRepository) Append(ctx context.Context, message domain.Message) (domain.Message, error) {
	const query = `
		INSERT INTO messages (id, session_id, text, sender, created_at, status, audio_path, suggestions, favorite, saved_as_faq)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at
	`

	var audioPath interface{}
	if message.AudioPath != "" {
		audioPath = message.AudioPath
	}

	err := r.pool.QueryRow(ctx, query,
		message.ID,
		message.SessionID,
		message.Text,
		string(message.Sender),
		message.Timestamp,
		string(message.Status),
		audioPath,
		message.Suggestions,
		message.Favorite,
		message.SavedAsFaq,
	).Scan(&message.ID, &message.Timestamp)
	if err != nil {
		return domain.Message{}, domain.NewFailure(domain.FailurePersistence, err)
	}
	return message, nil
}

// FetchPage trae una pagina de mensajes mas recientes primero. El cursor
// `before` hace la lectura idempotente: misma pagina para el mismo cursor.
func (r *PgMessageRepository) FetchPage(ctx context.Context, sessionID string, limit int, before *time.Time) ([]domain.Message, error) {
	if limit <= 0 {
		limit = 50
	}

	const base = `
		SELECT id, session_id, text, sender, created_at, status, audio_path, suggestions, favorite, saved_as_faq
		FROM messages
		WHERE session_id = $1
	`
	var (
		rows pgxRows
		err  error
	)
	if before != nil {
		rows, err = r.pool.Query(ctx, base+` AND created_at < $2 ORDER BY created_at DESC LIMIT $3`, sessionID, *before, limit)
	} else {
		rows, err = r.pool.Query(ctx, base+` ORDER BY created_at DESC LIMIT $2`, sessionID, limit)
	}
	if err != nil {
		return nil, domain.NewFailure(domain.FailurePersistence, err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

func (r *PgMessageRepository) UpdateStatus(ctx context.Context, id string, status domain.MessageStatus) error {
	const query = `UPDATE messages SET status = $2 WHERE id = $1`
	if _, err := r.pool.Exec(ctx, query, id, string(status)); err != nil {
		return domain.NewFailure(domain.FailurePersistence, err)
	}
	return nil
}

func (r *PgMessageRepository) SetFavorite(ctx context.Context, id string, favorite bool) error {
	const query = `UPDATE messages SET favorite = $2 WHERE id = $1`
	if _, err := r.pool.Exec(ctx, query, id, favorite); err != nil {
		return domain.NewFailure(domain.FailurePersistence, err)
	}
	return nil
}

func (r *PgMessageRepository) SetFaq(ctx context.Context, id string, saved bool) error {
	const query = `UPDATE messages SET saved_as_faq = $2 WHERE id = $1`
	if _, err := r.pool.Exec(ctx, query, id, saved); err != nil {
		return domain.NewFailure(domain.FailurePersistence, err)
	}
	return nil
}

// Search hace filtrado simple por texto dentro de una sesion. Para
// busqueda semantica ver PgSearchRepository.
func (r *PgMessageRepository) Search(ctx context.Context, sessionID, query string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = 20
	}
	const q = `
		SELECT id, session_id, text, sender, created_at, status, audio_path, suggestions, favorite, saved_as_faq
		FROM messages
		WHERE session_id = $1 AND text ILIKE '%' || $2 || '%'
		ORDER BY created_at DESC
		LIMIT $3
	`
	rows, err := r.pool.Query(ctx, q, sessionID, query, limit)
	if err != nil {
		return nil, domain.NewFailure(domain.FailurePersistence, err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

func (r *PgMessageRepository) DeleteBySession(ctx context.Context, sessionID string) error {
	const query = `DELETE FROM messages WHERE session_id = $1`
	if _, err := r.pool.Exec(ctx, query, sessionID); err != nil {
		return domain.NewFailure(domain.FailurePersistence, err)
	}
	return nil
}

func scanMessages(rows pgxRows) ([]domain.Message, error) {
	var messages []domain.Message
	for rows.Next() {
		var (
			msg       domain.Message
			sender    string
			status    string
			audioPath *string
		)
		if err := rows.Scan(
			&msg.ID,
			&msg.SessionID,
			&msg.Text,
			&sender,
			&msg.Timestamp,
			&status,
			&audioPath,
			&msg.Suggestions,
			&msg.Favorite,
			&msg.SavedAsFaq,
		); err != nil {
			return nil, domain.NewFailure(domain.FailurePersistence, err)
		}
		msg.Sender = domain.Sender(sender)
		msg.Status = domain.MessageStatus(status)
		if audioPath != nil {
			msg.AudioPath = *audioPath
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewFailure(domain.FailurePersistence, err)
	}
	return messages, nil
}

// pgxRows is a minimal interface to allow scanning from pgx rows and simplify testing.
type pgxRows interface {
	Next() bool
	Scan(...interface{}) error
	Err() error
	Close()
}
