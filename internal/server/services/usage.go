package services

import (
	"context"
	"database/sql"
	"errors"

	"github.com/dmitrijs2005/tryitout/internal/common"
	"github.com/dmitrijs2005/tryitout/internal/dbx"
	"github.com/dmitrijs2005/tryitout/internal/server/models"
	"github.com/dmitrijs2005/tryitout/internal/server/repositories/repomanager"
)

var errNoCredits = common.NewError(common.ErrInsufficientCredits, "No trial credits left")

// Consumption is the outcome of Consume. Charged is false for pro users,
// whose count is left untouched.
type Consumption struct {
	TrialRemaining int
	Charged        bool
}

type UsageStatus struct {
	Allowed        bool
	Plan           string
	TrialRemaining int
}

// UsageService is the credit ledger in front of image generation.
type UsageService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
}

func NewUsageService(db *sql.DB, m repomanager.RepositoryManager) *UsageService {
	return &UsageService{db: db, repomanager: m}
}

func (s *UsageService) Check(ctx context.Context, userID string) (*UsageStatus, error) {
	user, err := s.repomanager.Users(s.db).GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, errUserNotFound
		}
		return nil, common.ErrorInternal
	}
	return &UsageStatus{Allowed: user.CanGenerate(), Plan: user.Plan, TrialRemaining: user.TrialRemaining}, nil
}

// Consume takes one trial credit and records it in the ledger within one
// transaction. Pro users are not charged and get their unchanged count back.
func (s *UsageService) Consume(ctx context.Context, userID string) (*Consumption, error) {
	c, err := dbx.WithTxValue(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) (*Consumption, error) {
		users := s.repomanager.Users(tx)

		n, err := users.DecrementTrial(ctx, userID)
		if err == nil {
			ev := &models.UsageEvent{UserID: userID, Kind: models.UsageKindConsume, RemainingAfter: n}
			if err := s.repomanager.Usage(tx).Append(ctx, ev); err != nil {
				return nil, err
			}
			return &Consumption{TrialRemaining: n, Charged: true}, nil
		}
		if !errors.Is(err, common.ErrorNotFound) {
			return nil, err
		}

		// No row qualified: the user is missing, on the pro plan or out of credits.
		user, err := users.GetByID(ctx, userID)
		if err != nil {
			return nil, err
		}
		if user.IsPro() {
			return &Consumption{TrialRemaining: user.TrialRemaining}, nil
		}
		return nil, errNoCredits
	})
	if err != nil {
		switch {
		case errors.Is(err, common.ErrInsufficientCredits):
			return nil, err
		case errors.Is(err, common.ErrorNotFound):
			return nil, errUserNotFound
		}
		return nil, common.ErrorInternal
	}
	return c, nil
}

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// History returns the newest ledger entries first. Limits outside
// 1..100 fall back to the default page size or the cap.
func (s *UsageService) History(ctx context.Context, userID string, limit int) ([]models.UsageEvent, error) {
	switch {
	case limit <= 0:
		limit = defaultHistoryLimit
	case limit > maxHistoryLimit:
		limit = maxHistoryLimit
	}
	events, err := s.repomanager.Usage(s.db).ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, common.ErrorInternal
	}
	return events, nil
}
