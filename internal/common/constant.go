package common

const (
	// AuthorizationHeaderName carries "Bearer <token>" on authenticated requests.
	AuthorizationHeaderName = "Authorization"
	// TokenCookieName is the fallback cookie holding the access token.
	TokenCookieName = "token"
	// RequestIDHeaderName is echoed on every response.
	RequestIDHeaderName = "X-Request-ID"
	// StripeSignatureHeaderName carries the webhook signature.
	StripeSignatureHeaderName = "Stripe-Signature"

	PlanTrial = "trial"
	PlanPro   = "pro"

	ProviderPassword = "password"
	ProviderGoogle   = "google"
)
