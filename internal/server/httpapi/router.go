// Package httpapi exposes the JSON HTTP API: auth, profile, usage, billing
// and the metered try-on endpoint.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/dmitrijs2005/tryitout/internal/logging"
	"github.com/dmitrijs2005/tryitout/internal/server/metrics"
	"github.com/dmitrijs2005/tryitout/internal/server/models"
	"github.com/dmitrijs2005/tryitout/internal/server/services"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
)

type UserService interface {
	Authenticator
	Signup(ctx context.Context, in services.SignupInput) (*services.Session, error)
	Signin(ctx context.Context, email, password string) (*services.Session, error)
	Federated(ctx context.Context, idToken string) (*services.Session, error)
	RefreshToken(ctx context.Context, refreshToken string) (*services.TokenPair, error)
	Signout(ctx context.Context, refreshToken string) error
}

type ProfileService interface {
	Me(ctx context.Context, userID string) (*models.User, error)
	UpdateAvatar(ctx context.Context, userID, avatarURL string) error
	AvatarUploadURL(ctx context.Context, userID string) (*services.AvatarUpload, error)
}

type UsageService interface {
	Check(ctx context.Context, userID string) (*services.UsageStatus, error)
	Consume(ctx context.Context, userID string) (*services.Consumption, error)
	History(ctx context.Context, userID string, limit int) ([]models.UsageEvent, error)
}

type BillingService interface {
	Checkout(ctx context.Context, userID string) (string, error)
	HandleWebhook(ctx context.Context, payload []byte, signature string) error
}

type TryOnService interface {
	Generate(ctx context.Context, userID string, in services.TryOnInput) (*services.TryOnResult, error)
}

type Deps struct {
	Users   UserService
	Profile ProfileService
	Usage   UsageService
	Billing BillingService
	TryOn   TryOnService

	Logger  logging.Logger
	Metrics *metrics.Metrics
	Limiter *RateLimiter

	CORSOrigins    []string
	MaxUploadBytes int64
	CookieSecure   bool
	CookieMaxAge   time.Duration
}

type api struct {
	Deps
}

// NewHandler builds the full middleware chain and routes.
func NewHandler(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = logging.Nop{}
	}
	if d.Metrics == nil {
		d.Metrics = metrics.New()
	}
	if d.Limiter == nil {
		d.Limiter = NewRateLimiter(6, 2)
	}
	if d.MaxUploadBytes <= 0 {
		d.MaxUploadBytes = 10 << 20
	}
	a := &api{Deps: d}

	r := mux.NewRouter()
	r.Use(metricsMiddleware(d.Metrics))
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "Not found"})
	})

	r.HandleFunc("/health", a.health).Methods(http.MethodGet)
	r.Handle("/metrics", d.Metrics.Handler()).Methods(http.MethodGet)

	authed := requireAuth(d.Users, d.Logger)
	limited := d.Limiter.Middleware(func(*http.Request) { d.Metrics.RecordGeneration("rate_limited") }, d.Logger)

	sub := r.PathPrefix("/api").Subrouter()

	sub.HandleFunc("/auth/signup", a.signup).Methods(http.MethodPost)
	sub.HandleFunc("/auth/signin", a.signin).Methods(http.MethodPost)
	sub.HandleFunc("/auth/refresh", a.refresh).Methods(http.MethodPost)
	sub.HandleFunc("/auth/federated", a.federated).Methods(http.MethodPost)
	sub.HandleFunc("/auth/signout", a.signout).Methods(http.MethodPost)

	sub.Handle("/profile/me", authed(http.HandlerFunc(a.me))).Methods(http.MethodGet)
	sub.Handle("/profile/avatar", authed(http.HandlerFunc(a.updateAvatar))).Methods(http.MethodPost)
	sub.Handle("/profile/avatar/upload-url", authed(http.HandlerFunc(a.avatarUploadURL))).Methods(http.MethodPost)

	sub.Handle("/usage/check", authed(http.HandlerFunc(a.usageCheck))).Methods(http.MethodGet)
	sub.Handle("/usage/consume", authed(http.HandlerFunc(a.usageConsume))).Methods(http.MethodPost)
	sub.Handle("/usage/history", authed(http.HandlerFunc(a.usageHistory))).Methods(http.MethodGet)

	sub.Handle("/billing/checkout", authed(http.HandlerFunc(a.checkout))).Methods(http.MethodPost)
	sub.HandleFunc("/billing/webhook", a.webhook).Methods(http.MethodPost)

	sub.Handle("/tryon", authed(limited(http.HandlerFunc(a.tryOn)))).Methods(http.MethodPost)

	var h http.Handler = r
	h = handlers.CORS(
		handlers.AllowedOrigins(d.CORSOrigins),
		handlers.AllowCredentials(),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization", "X-Request-ID"}),
		handlers.ExposedHeaders([]string{"X-Request-ID"}),
	)(h)
	h = handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{logger: d.Logger}),
		handlers.PrintRecoveryStack(false),
	)(h)
	h = requestLogger(d.Logger)(h)
	return h
}

func (a *api) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
