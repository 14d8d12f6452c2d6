// Package models defines server-side data models persisted in the database.
package models

import "time"

// User is an account row. Federated accounts have an empty PasswordHash.
type User struct {
	ID               string
	Name             string
	Email            string
	PasswordHash     string
	AvatarURL        string
	Plan             string
	TrialRemaining   int
	StripeCustomerID string
	Provider         string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// IsPro reports whether the user has a paid plan.
func (u *User) IsPro() bool {
	return u.Plan == "pro"
}

// CanGenerate reports whether the user may call the generation endpoint.
func (u *User) CanGenerate() bool {
	return u.IsPro() || u.TrialRemaining > 0
}
