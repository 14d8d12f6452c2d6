package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/tryitout/internal/common"
	"github.com/dmitrijs2005/tryitout/internal/dbx"
	"github.com/dmitrijs2005/tryitout/internal/server/models"
	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

const userColumns = `id, name, email, password_hash, avatar_url, plan, trial_remaining,
		 stripe_customer_id, provider, created_at, updated_at`

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {

	query :=
		`INSERT INTO users (name, email, password_hash, avatar_url, plan, trial_remaining, provider)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, created_at, updated_at
		 `

	err := r.db.QueryRowContext(ctx, query,
		user.Name, user.Email, user.PasswordHash, user.AvatarURL, user.Plan, user.TrialRemaining, user.Provider,
	).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, common.ErrorAlreadyExists
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return user, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users
		 WHERE id = $1
		 `
	return r.getOne(ctx, query, id)
}

func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users
		 WHERE email = $1
		 `
	return r.getOne(ctx, query, email)
}

func (r *PostgresRepository) GetByStripeCustomerID(ctx context.Context, customerID string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users
		 WHERE stripe_customer_id = $1
		 `
	return r.getOne(ctx, query, customerID)
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, arg any) (*models.User, error) {
	user := &models.User{}
	var customerID sql.NullString

	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&user.ID, &user.Name, &user.Email, &user.PasswordHash, &user.AvatarURL, &user.Plan,
		&user.TrialRemaining, &customerID, &user.Provider, &user.CreatedAt, &user.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	user.StripeCustomerID = customerID.String
	return user, nil
}

func (r *PostgresRepository) UpdateAvatar(ctx context.Context, id string, avatarURL string) error {
	query :=
		`UPDATE users SET avatar_url = $2, updated_at = now()
		 WHERE id = $1
		 `
	return r.execOne(ctx, query, id, avatarURL)
}

func (r *PostgresRepository) SetStripeCustomerID(ctx context.Context, id string, customerID string) error {
	query :=
		`UPDATE users SET stripe_customer_id = $2, updated_at = now()
		 WHERE id = $1
		 `
	return r.execOne(ctx, query, id, customerID)
}

func (r *PostgresRepository) SetPlan(ctx context.Context, id string, plan string) error {
	query :=
		`UPDATE users SET plan = $2, updated_at = now()
		 WHERE id = $1
		 `
	return r.execOne(ctx, query, id, plan)
}

func (r *PostgresRepository) execOne(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *PostgresRepository) DecrementTrial(ctx context.Context, id string) (int, error) {
	query :=
		`UPDATE users SET trial_remaining = trial_remaining - 1, updated_at = now()
		 WHERE id = $1 AND plan <> 'pro' AND trial_remaining > 0
		 RETURNING trial_remaining
		 `

	var remaining int
	err := r.db.QueryRowContext(ctx, query, id).Scan(&remaining)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, common.ErrorNotFound
		}
		return 0, fmt.Errorf("db error: %w", err)
	}

	return remaining, nil
}
