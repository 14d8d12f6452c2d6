package models

import "time"

// UsageEvent is one row of the credit ledger.
type UsageEvent struct {
	ID             int64
	UserID         string
	Kind           string
	RemainingAfter int
	CreatedAt      time.Time
}

const UsageKindConsume = "consume"
