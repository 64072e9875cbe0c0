package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"dashboard-messaging/internal/domain"
)

type MessageRepository interface {
	// Create inserta el mensaje y actualiza conversations.updated_at en la misma transacción.
	// Devuelve el created_at sellado por la base.
	Create(ctx context.Context, message domain.Message) (time.Time, error)
	// ListRecent devuelve los últimos limit mensajes en orden ascendente.
	ListRecent(ctx context.Context, conversationID string, limit int) ([]domain.Message, error)
}

type PgMessageRepository struct {
	pool *pgxpool.Pool
}

func NewPgMessageRepository(pool *pgxpool.Pool) *PgMessageRepository {
	return &PgMessageRepository{pool: pool}
}

func (r *PgMessageRepository) Create(ctx context.Context, message domain.Message) (time.Time, error) {
	var createdAt time.Time
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		const insert = `
			INSERT INTO messages (id, conversation_id, sender_id, content, type, file_url, file_metadata, status, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
			RETURNING created_at
		`
		var metadata interface{}
		if len(message.FileMetadata) > 0 {
			metadata = string(message.FileMetadata)
		}
		if err := tx.QueryRow(ctx, insert,
			message.ID,
			message.ConversationID,
			message.SenderID,
			message.Content,
			string(message.Type),
			message.FileURL,
			metadata,
			string(message.Status),
		).Scan(&createdAt); err != nil {
			return err
		}

		const touch = `UPDATE conversations SET updated_at = $2 WHERE id = $1`
		_, err := tx.Exec(ctx, touch, message.ConversationID, createdAt)
		return err
	})
	return createdAt, err
}

func (r *PgMessageRepository) ListRecent(ctx context.Context, conversationID string, limit int) ([]domain.Message, error) {
	const query = `
		SELECT id, conversation_id, sender_id, content, type, file_url, file_metadata, status, read_at, created_at
		FROM (
			SELECT *
			FROM messages
			WHERE conversation_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.pool.Query(ctx, query, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []domain.Message{}
	for rows.Next() {
		var (
			msg      domain.Message
			typ      string
			status   string
			metadata []byte
		)
		err = rows.Scan(
			&msg.ID,
			&msg.ConversationID,
			&msg.SenderID,
			&msg.Content,
			&typ,
			&msg.FileURL,
			&metadata,
			&status,
			&msg.ReadAt,
			&msg.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		msg.Type = domain.MessageType(typ)
		msg.Status = domain.ParseMessageStatus(status)
		if len(metadata) > 0 {
			msg.FileMetadata = json.RawMessage(metadata)
		}
		messages = append(messages, msg)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}
	return messages, nil
}
