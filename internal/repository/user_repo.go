package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"dashboard-messaging/internal/domain"
)

// UserRepository expone la lectura de usuarios del tenant; el alta vive fuera de este servicio.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (domain.User, error)
	ListByCompany(ctx context.Context, companyID string) ([]domain.User, error)
	CountInCompany(ctx context.Context, companyID string, ids []string) (int, error)
}

// PgUserRepository implementa UserRepository usando pgxpool.
type PgUserRepository struct {
	pool *pgxpool.Pool
}

func NewPgUserRepository(pool *pgxpool.Pool) *PgUserRepository {
	return &PgUserRepository{pool: pool}
}

func (r *PgUserRepository) GetByID(ctx context.Context, id string) (domain.User, error) {
	const query = `
		SELECT id, company_id, email, display_name, created_at
		FROM users
		WHERE id = $1
	`
	var u domain.User
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&u.ID,
		&u.CompanyID,
		&u.Email,
		&u.DisplayName,
		&u.CreatedAt,
	)
	if err != nil {
		return domain.User{}, mapNoRows(err)
	}
	return u, nil
}

func (r *PgUserRepository) ListByCompany(ctx context.Context, companyID string) ([]domain.User, error) {
	const query = `
		SELECT id, company_id, email, display_name, created_at
		FROM users
		WHERE company_id = $1
		ORDER BY display_name ASC, email ASC
	`
	rows, err := r.pool.Query(ctx, query, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []domain.User{}
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.CompanyID, &u.Email, &u.DisplayName, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (r *PgUserRepository) CountInCompany(ctx context.Context, companyID string, ids []string) (int, error) {
	const query = `
		SELECT count(*)
		FROM users
		WHERE company_id = $1 AND id = ANY($2)
	`
	var n int
	err := r.pool.QueryRow(ctx, query, companyID, ids).Scan(&n)
	return n, err
}
