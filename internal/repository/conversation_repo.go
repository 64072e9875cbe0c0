package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"dashboard-messaging/internal/domain"
)

type ConversationRepository interface {
	Create(ctx context.Context, conv domain.Conversation) error
	GetByID(ctx context.Context, id string) (domain.Conversation, error)
	// Access devuelve ErrNotFound si la conversación no existe.
	Access(ctx context.Context, conversationID, userID string) (domain.ConversationAccess, error)
	ListForUser(ctx context.Context, userID, companyID string) ([]domain.ConversationSummary, error)
}

type PgConversationRepository struct {
	pool *pgxpool.Pool
}

func NewPgConversationRepository(pool *pgxpool.Pool) *PgConversationRepository {
	return &PgConversationRepository{pool: pool}
}

func (r *PgConversationRepository) Create(ctx context.Context, conv domain.Conversation) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		const insertConv = `
			INSERT INTO conversations (id, company_id, created_at, updated_at)
			VALUES ($1, $2, $3, $4)
		`
		if _, err := tx.Exec(ctx, insertConv, conv.ID, conv.CompanyID, conv.CreatedAt, conv.UpdatedAt); err != nil {
			return err
		}

		batch := &pgx.Batch{}
		for _, userID := range conv.MemberIDs {
			batch.Queue(`INSERT INTO conversation_members (conversation_id, user_id) VALUES ($1, $2)`, conv.ID, userID)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}

func (r *PgConversationRepository) GetByID(ctx context.Context, id string) (domain.Conversation, error) {
	const query = `
		SELECT c.id, c.company_id, c.created_at, c.updated_at,
		       ARRAY(SELECT m.user_id FROM conversation_members m WHERE m.conversation_id = c.id ORDER BY m.user_id)
		FROM conversations c
		WHERE c.id = $1
	`
	var conv domain.Conversation
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&conv.ID,
		&conv.CompanyID,
		&conv.CreatedAt,
		&conv.UpdatedAt,
		&conv.MemberIDs,
	)
	if err != nil {
		return domain.Conversation{}, mapNoRows(err)
	}
	return conv, nil
}

func (r *PgConversationRepository) Access(ctx context.Context, conversationID, userID string) (domain.ConversationAccess, error) {
	const query = `
		SELECT c.company_id,
		       EXISTS (SELECT 1 FROM conversation_members m WHERE m.conversation_id = c.id AND m.user_id = $2)
		FROM conversations c
		WHERE c.id = $1
	`
	var access domain.ConversationAccess
	err := r.pool.QueryRow(ctx, query, conversationID, userID).Scan(&access.CompanyID, &access.IsMember)
	if err != nil {
		return domain.ConversationAccess{}, mapNoRows(err)
	}
	return access, nil
}

func (r *PgConversationRepository) ListForUser(ctx context.Context, userID, companyID string) ([]domain.ConversationSummary, error) {
	const query = `
		SELECT c.id, c.company_id, c.created_at, c.updated_at,
		       ARRAY(SELECT m.user_id FROM conversation_members m WHERE m.conversation_id = c.id ORDER BY m.user_id),
		       (SELECT count(*) FROM messages msg
		         WHERE msg.conversation_id = c.id
		           AND msg.sender_id <> $1
		           AND (me.last_read_at IS NULL OR msg.created_at > me.last_read_at))
		FROM conversations c
		JOIN conversation_members me ON me.conversation_id = c.id AND me.user_id = $1
		WHERE c.company_id = $2
		ORDER BY c.updated_at DESC
	`
	rows, err := r.pool.Query(ctx, query, userID, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.ConversationSummary{}
	for rows.Next() {
		var s domain.ConversationSummary
		if err := rows.Scan(
			&s.ID,
			&s.CompanyID,
			&s.CreatedAt,
			&s.UpdatedAt,
			&s.MemberIDs,
			&s.UnreadCount,
		); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
