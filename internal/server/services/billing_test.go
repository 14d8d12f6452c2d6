package services

import (
	"context"
	"errors"
	"testing"

	"github.com/dmitrijs2005/tryitout/internal/common"
	"github.com/dmitrijs2005/tryitout/internal/logging"
	"github.com/dmitrijs2005/tryitout/internal/server/models"
	"github.com/dmitrijs2005/tryitout/internal/server/payments"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGateway struct {
	customers   int
	checkout    payments.CheckoutParams
	checkoutErr error
	customerErr error

	event    *payments.Event
	parseErr error
}

func (f *fakeGateway) CreateCustomer(ctx context.Context, email, name string) (string, error) {
	if f.customerErr != nil {
		return "", f.customerErr
	}
	f.customers++
	return "cus_new", nil
}

func (f *fakeGateway) CreateCheckoutSession(ctx context.Context, p payments.CheckoutParams) (string, error) {
	if f.checkoutErr != nil {
		return "", f.checkoutErr
	}
	f.checkout = p
	return "https://checkout.example/" + p.CustomerID, nil
}

func (f *fakeGateway) ParseWebhook(payload []byte, signature string) (*payments.Event, error) {
	if f.parseErr != nil {
		return nil, f.parseErr
	}
	return f.event, nil
}

func newBilling(t *testing.T, rm *fakeRepoManager, gw PaymentGateway, price string) *BillingService {
	t.Helper()
	db, mock := newSQLMockDB(t)
	mock.MatchExpectationsInOrder(false)
	for i := 0; i < 4; i++ {
		mock.ExpectBegin()
		mock.ExpectCommit()
	}
	return NewBillingService(db, rm, gw, price, "http://app.local/", logging.Nop{})
}

func TestCheckout_CreatesCustomerOnce(t *testing.T) {
	rm := newFakeRepoManager(&models.User{ID: "u1", Email: "a@b.co", Name: "A"})
	gw := &fakeGateway{}
	s := newBilling(t, rm, gw, "price_1")

	url, err := s.Checkout(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.example/cus_new", url)
	assert.Equal(t, "cus_new", rm.u.get("u1").StripeCustomerID)
	assert.Equal(t, payments.CheckoutParams{
		CustomerID: "cus_new",
		PriceID:    "price_1",
		SuccessURL: "http://app.local/profile?status=success",
		CancelURL:  "http://app.local/profile?status=cancel",
		UserID:     "u1",
	}, gw.checkout)

	_, err = s.Checkout(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, gw.customers)
}

func TestCheckout_Errors(t *testing.T) {
	rm := newFakeRepoManager(&models.User{ID: "u1", Email: "a@b.co"})

	_, err := newBilling(t, rm, &fakeGateway{}, "").Checkout(context.Background(), "u1")
	require.ErrorIs(t, err, common.ErrNotConfigured)
	assert.Equal(t, "Stripe price not configured", err.Error())

	_, err = newBilling(t, rm, &fakeGateway{}, "price_1").Checkout(context.Background(), "ghost")
	assert.ErrorIs(t, err, common.ErrorNotFound)

	_, err = newBilling(t, rm, &fakeGateway{customerErr: errors.New("api down")}, "price_1").Checkout(context.Background(), "u1")
	assert.ErrorIs(t, err, common.ErrUpstream)

	_, err = newBilling(t, rm, &fakeGateway{checkoutErr: errors.New("api down")}, "price_1").Checkout(context.Background(), "u1")
	assert.ErrorIs(t, err, common.ErrUpstream)
}

func TestHandleWebhook_UpgradeAndDowngrade(t *testing.T) {
	rm := newFakeRepoManager(&models.User{ID: "u1", Plan: common.PlanTrial, StripeCustomerID: "cus_42"})
	gw := &fakeGateway{event: &payments.Event{ID: "evt_1", Type: payments.EventCheckoutCompleted, CustomerID: "cus_42"}}
	s := newBilling(t, rm, gw, "price_1")

	require.NoError(t, s.HandleWebhook(context.Background(), []byte("{}"), ""))
	assert.Equal(t, common.PlanPro, rm.u.get("u1").Plan)

	gw.event = &payments.Event{ID: "evt_2", Type: payments.EventSubscriptionDeleted, CustomerID: "cus_42"}
	require.NoError(t, s.HandleWebhook(context.Background(), []byte("{}"), ""))
	assert.Equal(t, common.PlanTrial, rm.u.get("u1").Plan)
}

func TestHandleWebhook_Idempotent(t *testing.T) {
	rm := newFakeRepoManager(&models.User{ID: "u1", Plan: common.PlanTrial, StripeCustomerID: "cus_42"})
	gw := &fakeGateway{event: &payments.Event{ID: "evt_1", Type: payments.EventCheckoutCompleted, CustomerID: "cus_42"}}
	s := newBilling(t, rm, gw, "price_1")

	require.NoError(t, s.HandleWebhook(context.Background(), nil, ""))
	rm.u.calls = nil

	require.NoError(t, s.HandleWebhook(context.Background(), nil, ""))
	assert.Empty(t, rm.u.calls)
}

func TestHandleWebhook_IgnoredEvents(t *testing.T) {
	rm := newFakeRepoManager(&models.User{ID: "u1", Plan: common.PlanTrial, StripeCustomerID: "cus_42"})
	gw := &fakeGateway{event: &payments.Event{ID: "evt_1", Type: payments.EventCheckoutCompleted, CustomerID: "cus_unknown"}}
	s := newBilling(t, rm, gw, "price_1")

	require.NoError(t, s.HandleWebhook(context.Background(), nil, ""))
	assert.Equal(t, common.PlanTrial, rm.u.get("u1").Plan)

	gw.event = &payments.Event{ID: "evt_2", Type: "invoice.paid", CustomerID: "cus_42"}
	require.NoError(t, s.HandleWebhook(context.Background(), nil, ""))
	assert.Equal(t, common.PlanTrial, rm.u.get("u1").Plan)
}

func TestHandleWebhook_Errors(t *testing.T) {
	rm := newFakeRepoManager()

	err := newBilling(t, rm, &fakeGateway{parseErr: errors.New("bad signature")}, "").HandleWebhook(context.Background(), nil, "")
	require.ErrorIs(t, err, common.ErrorValidation)
	assert.Equal(t, "Webhook Error: bad signature", err.Error())

	rm.wh.markErr = errBoom{}
	err = newBilling(t, rm, &fakeGateway{event: &payments.Event{ID: "e", Type: "x"}}, "").HandleWebhook(context.Background(), nil, "")
	assert.ErrorIs(t, err, common.ErrorInternal)

	err = NewBillingService(nil, rm, nil, "", "", logging.Nop{}).HandleWebhook(context.Background(), nil, "")
	assert.ErrorIs(t, err, common.ErrNotConfigured)
}
