// Package users declares the repository contract for account rows and its
// PostgreSQL implementation.
package users

import (
	"context"

	"github.com/dmitrijs2005/tryitout/internal/server/models"
)

type Repository interface {
	// Create inserts a user and fills ID and timestamps. A duplicate email
	// yields common.ErrorAlreadyExists.
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByStripeCustomerID(ctx context.Context, customerID string) (*models.User, error)

	UpdateAvatar(ctx context.Context, id string, avatarURL string) error
	SetStripeCustomerID(ctx context.Context, id string, customerID string) error
	SetPlan(ctx context.Context, id string, plan string) error

	// DecrementTrial takes one credit from a trial user that still has
	// credits and returns the remaining count. When no row qualifies it
	// returns common.ErrorNotFound; callers re-read the user to tell why.
	DecrementTrial(ctx context.Context, id string) (int, error)
}
