package models

import "time"

// WebhookEvent records a processed payment-provider event so redeliveries
// are acknowledged without being applied twice.
type WebhookEvent struct {
	ID          string
	Type        string
	ProcessedAt time.Time
}
