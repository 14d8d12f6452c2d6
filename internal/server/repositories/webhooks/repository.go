// Package webhooks records processed payment-provider events.
package webhooks

import (
	"context"

	"github.com/dmitrijs2005/tryitout/internal/server/models"
)

type Repository interface {
	// MarkProcessed records the event. It returns false when the event id
	// was already recorded, in which case the caller must not re-apply it.
	MarkProcessed(ctx context.Context, event *models.WebhookEvent) (bool, error)
}
