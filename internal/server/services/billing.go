package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/tryitout/internal/common"
	"github.com/dmitrijs2005/tryitout/internal/dbx"
	"github.com/dmitrijs2005/tryitout/internal/logging"
	"github.com/dmitrijs2005/tryitout/internal/server/models"
	"github.com/dmitrijs2005/tryitout/internal/server/payments"
	"github.com/dmitrijs2005/tryitout/internal/server/repositories/repomanager"
)

// PaymentGateway is the payment provider as seen by billing.
type PaymentGateway interface {
	CreateCustomer(ctx context.Context, email, name string) (string, error)
	CreateCheckoutSession(ctx context.Context, p payments.CheckoutParams) (string, error)
	ParseWebhook(payload []byte, signature string) (*payments.Event, error)
}

type BillingService struct {
	db            *sql.DB
	repomanager   repomanager.RepositoryManager
	gateway       PaymentGateway
	priceID       string
	clientBaseURL string
	logger        logging.Logger
}

func NewBillingService(db *sql.DB, m repomanager.RepositoryManager, gateway PaymentGateway, priceID, clientBaseURL string, logger logging.Logger) *BillingService {
	return &BillingService{
		db:            db,
		repomanager:   m,
		gateway:       gateway,
		priceID:       priceID,
		clientBaseURL: strings.TrimRight(clientBaseURL, "/"),
		logger:        logger,
	}
}

// Checkout returns the hosted checkout URL for the pro subscription,
// creating the provider customer on first use.
func (s *BillingService) Checkout(ctx context.Context, userID string) (string, error) {
	if s.priceID == "" || s.gateway == nil {
		return "", common.NewError(common.ErrNotConfigured, "Stripe price not configured")
	}

	repo := s.repomanager.Users(s.db)
	user, err := repo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return "", errUserNotFound
		}
		return "", common.ErrorInternal
	}

	customerID := user.StripeCustomerID
	if customerID == "" {
		customerID, err = s.gateway.CreateCustomer(ctx, user.Email, user.Name)
		if err != nil {
			return "", fmt.Errorf("%w: %v", common.ErrUpstream, err)
		}
		if err := repo.SetStripeCustomerID(ctx, user.ID, customerID); err != nil {
			return "", common.ErrorInternal
		}
	}

	url, err := s.gateway.CreateCheckoutSession(ctx, payments.CheckoutParams{
		CustomerID: customerID,
		PriceID:    s.priceID,
		SuccessURL: s.clientBaseURL + "/profile?status=success",
		CancelURL:  s.clientBaseURL + "/profile?status=cancel",
		UserID:     user.ID,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrUpstream, err)
	}
	return url, nil
}

// HandleWebhook applies a provider event at most once. Parse failures are
// returned as validation errors carrying "Webhook Error: ...".
func (s *BillingService) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	if s.gateway == nil {
		return common.NewError(common.ErrNotConfigured, "Stripe not configured")
	}
	ev, err := s.gateway.ParseWebhook(payload, signature)
	if err != nil {
		return common.NewError(common.ErrorValidation, "Webhook Error: "+err.Error())
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		fresh, err := s.repomanager.Webhooks(tx).MarkProcessed(ctx, &models.WebhookEvent{ID: ev.ID, Type: ev.Type})
		if err != nil {
			return err
		}
		if !fresh {
			s.logger.Info(ctx, "webhook event already processed", "event_id", ev.ID)
			return nil
		}

		var plan string
		switch ev.Type {
		case payments.EventCheckoutCompleted:
			plan = common.PlanPro
		case payments.EventSubscriptionDeleted:
			plan = common.PlanTrial
		default:
			return nil
		}
		if ev.CustomerID == "" {
			return nil
		}

		users := s.repomanager.Users(tx)
		user, err := users.GetByStripeCustomerID(ctx, ev.CustomerID)
		if errors.Is(err, common.ErrorNotFound) {
			s.logger.Warn(ctx, "webhook for unknown customer", "event_id", ev.ID, "customer", ev.CustomerID)
			return nil
		}
		if err != nil {
			return err
		}
		if err := users.SetPlan(ctx, user.ID, plan); err != nil {
			return err
		}
		s.logger.Info(ctx, "plan changed", "user_id", user.ID, "plan", plan, "event_id", ev.ID)
		return nil
	})
	if err != nil {
		s.logger.Error(ctx, "webhook processing failed", "event_id", ev.ID, "error", err)
		return common.ErrorInternal
	}
	return nil
}
