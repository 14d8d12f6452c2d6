package usage

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/tryitout/internal/dbx"
	"github.com/dmitrijs2005/tryitout/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Append(ctx context.Context, event *models.UsageEvent) error {
	query := `
		INSERT INTO usage_events (user_id, kind, remaining_after)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`
	err := r.db.QueryRowContext(ctx, query, event.UserID, event.Kind, event.RemainingAfter).
		Scan(&event.ID, &event.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListByUser(ctx context.Context, userID string, limit int) ([]models.UsageEvent, error) {
	query := `
		SELECT id, user_id, kind, remaining_after, created_at
		FROM usage_events
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var events []models.UsageEvent
	for rows.Next() {
		var e models.UsageEvent
		if err := rows.Scan(&e.ID, &e.UserID, &e.Kind, &e.RemainingAfter, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return events, nil
}
