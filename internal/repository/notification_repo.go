package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"dashboard-messaging/internal/domain"
)

type NotificationRepository interface {
	Create(ctx context.Context, n domain.Notification) error
	List(ctx context.Context, userID, companyID string, limit, offset int, unreadOnly bool) ([]domain.Notification, int64, error)
	CountUnread(ctx context.Context, userID, companyID string) (int64, error)
	// MarkRead sólo toca filas propias y todavía no leídas; devuelve los ids actualizados.
	MarkRead(ctx context.Context, userID, companyID string, ids []string) ([]string, error)
}

type PgNotificationRepository struct {
	pool *pgxpool.Pool
}

func NewPgNotificationRepository(pool *pgxpool.Pool) *PgNotificationRepository {
	return &PgNotificationRepository{pool: pool}
}

func (r *PgNotificationRepository) Create(ctx context.Context, n domain.Notification) error {
	const query = `
		INSERT INTO notifications (id, company_id, recipient_id, title, message, type, link, read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.pool.Exec(ctx, query,
		n.ID,
		n.CompanyID,
		n.RecipientID,
		n.Title,
		n.Message,
		n.Type,
		n.Link,
		n.Read,
		n.CreatedAt,
	)
	return err
}

func (r *PgNotificationRepository) List(ctx context.Context, userID, companyID string, limit, offset int, unreadOnly bool) ([]domain.Notification, int64, error) {
	const countQuery = `
		SELECT count(*)
		FROM notifications
		WHERE recipient_id = $1 AND company_id = $2 AND ($3 = false OR read = false)
	`
	var total int64
	if err := r.pool.QueryRow(ctx, countQuery, userID, companyID, unreadOnly).Scan(&total); err != nil {
		return nil, 0, err
	}

	const query = `
		SELECT id, company_id, recipient_id, title, message, type, link, read, created_at
		FROM notifications
		WHERE recipient_id = $1 AND company_id = $2 AND ($3 = false OR read = false)
		ORDER BY created_at DESC, id DESC
		LIMIT $4 OFFSET $5
	`
	rows, err := r.pool.Query(ctx, query, userID, companyID, unreadOnly, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	items := []domain.Notification{}
	for rows.Next() {
		var n domain.Notification
		if err := rows.Scan(
			&n.ID,
			&n.CompanyID,
			&n.RecipientID,
			&n.Title,
			&n.Message,
			&n.Type,
			&n.Link,
			&n.Read,
			&n.CreatedAt,
		); err != nil {
			return nil, 0, err
		}
		items = append(items, n)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *PgNotificationRepository) CountUnread(ctx context.Context, userID, companyID string) (int64, error) {
	const query = `
		SELECT count(*)
		FROM notifications
		WHERE recipient_id = $1 AND company_id = $2 AND read = false
	`
	var n int64
	err := r.pool.QueryRow(ctx, query, userID, companyID).Scan(&n)
	return n, err
}

func (r *PgNotificationRepository) MarkRead(ctx context.Context, userID, companyID string, ids []string) ([]string, error) {
	const query = `
		UPDATE notifications
		SET read = true
		WHERE recipient_id = $1 AND company_id = $2 AND read = false AND id = ANY($3)
		RETURNING id
	`
	rows, err := r.pool.Query(ctx, query, userID, companyID, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	updated := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		updated = append(updated, id)
	}
	return updated, rows.Err()
}
