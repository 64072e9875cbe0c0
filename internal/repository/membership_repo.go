package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// MembershipRepository mantiene lastReadAt; el conteo de no leídos siempre se deriva.
type MembershipRepository interface {
	MarkRead(ctx context.Context, conversationID, userID string) (int64, error)
	UnreadCount(ctx context.Context, conversationID, userID string) (int64, error)
}

type PgMembershipRepository struct {
	pool *pgxpool.Pool
}

func NewPgMembershipRepository(pool *pgxpool.Pool) *PgMembershipRepository {
	return &PgMembershipRepository{pool: pool}
}

// MarkRead avanza lastReadAt y pasa a read los mensajes de los demás en una transacción.
// El corte usa el reloj de la base, el mismo que sella messages.created_at.
// Devuelve cuántos mensajes cambiaron de estado.
func (r *PgMembershipRepository) MarkRead(ctx context.Context, conversationID, userID string) (int64, error) {
	var updated int64
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		const touch = `
			UPDATE conversation_members
			SET last_read_at = GREATEST(COALESCE(last_read_at, now()), now())
			WHERE conversation_id = $1 AND user_id = $2
			RETURNING last_read_at
		`
		var at time.Time
		if err := tx.QueryRow(ctx, touch, conversationID, userID).Scan(&at); err != nil {
			return mapNoRows(err)
		}

		const advance = `
			UPDATE messages
			SET status = 'read', read_at = $3
			WHERE conversation_id = $1
			  AND sender_id <> $2
			  AND status <> 'read'
			  AND created_at <= $3
		`
		tag, err := tx.Exec(ctx, advance, conversationID, userID, at)
		if err != nil {
			return err
		}
		updated = tag.RowsAffected()
		return nil
	})
	return updated, err
}

func (r *PgMembershipRepository) UnreadCount(ctx context.Context, conversationID, userID string) (int64, error) {
	const query = `
		SELECT count(*)
		FROM messages msg
		JOIN conversation_members me ON me.conversation_id = msg.conversation_id AND me.user_id = $2
		WHERE msg.conversation_id = $1
		  AND msg.sender_id <> $2
		  AND (me.last_read_at IS NULL OR msg.created_at > me.last_read_at)
	`
	var n int64
	err := r.pool.QueryRow(ctx, query, conversationID, userID).Scan(&n)
	return n, err
}
