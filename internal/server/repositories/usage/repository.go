// Package usage stores the append-only credit ledger.
package usage

import (
	"context"

	"github.com/dmitrijs2005/tryitout/internal/server/models"
)

type Repository interface {
	Append(ctx context.Context, event *models.UsageEvent) error
	ListByUser(ctx context.Context, userID string, limit int) ([]models.UsageEvent, error)
}
