// Package services contains server-side business logic. This file implements
// UserService, which handles password sign-up and sign-in, federated
// sign-in through the hosted identity provider, and issuing and rotating
// session tokens plus server-stored refresh tokens.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/tryitout/internal/common"
	"github.com/dmitrijs2005/tryitout/internal/dbx"
	"github.com/dmitrijs2005/tryitout/internal/logging"
	"github.com/dmitrijs2005/tryitout/internal/server/auth"
	"github.com/dmitrijs2005/tryitout/internal/server/config"
	"github.com/dmitrijs2005/tryitout/internal/server/identity"
	"github.com/dmitrijs2005/tryitout/internal/server/models"
	"github.com/dmitrijs2005/tryitout/internal/server/repositories/repomanager"
)

var (
	errInvalidCredentials  = common.NewError(common.ErrorUnauthorized, "Invalid credentials")
	errEmailInUse          = common.NewError(common.ErrorAlreadyExists, "Email already in use")
	errInvalidRefreshToken = common.NewError(common.ErrorUnauthorized, "Invalid refresh token")
	errUserNotFound        = common.NewError(common.ErrorNotFound, "Not found")
)

// TokenPair bundles a short-lived access token and a long-lived refresh token.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// Session is what sign-up and sign-in hand back to the client.
type Session struct {
	TokenPair
	User *models.User
}

type SignupInput struct {
	Name     string `validate:"max=200"`
	Email    string `validate:"required,email,max=320"`
	Password string `validate:"required,min=6,max=72"`
}

// IdentityVerifier checks tokens from the hosted identity provider.
type IdentityVerifier interface {
	Verify(ctx context.Context, token string) (*identity.Identity, error)
}

type UserService struct {
	db                           *sql.DB
	repomanager                  repomanager.RepositoryManager
	identity                     IdentityVerifier
	jwtSecret                    []byte
	accessTokenValidityDuration  time.Duration
	refreshTokenValidityDuration time.Duration
	trialCredits                 int
	logger                       logging.Logger
}

// NewUserService constructs a UserService. verifier may be nil, in which
// case federated sign-in reports the provider as not configured.
func NewUserService(db *sql.DB, m repomanager.RepositoryManager, verifier IdentityVerifier, cfg *config.Config, logger logging.Logger) *UserService {
	return &UserService{
		db:                           db,
		repomanager:                  m,
		identity:                     verifier,
		jwtSecret:                    []byte(cfg.SecretKey),
		accessTokenValidityDuration:  cfg.AccessTokenValidityDuration,
		refreshTokenValidityDuration: cfg.RefreshTokenValidityDuration,
		trialCredits:                 cfg.TrialCredits,
		logger:                       logger,
	}
}

// Signup creates a password account and signs it in.
func (s *UserService) Signup(ctx context.Context, in SignupInput) (*Session, error) {
	in.Email = common.NormalizeEmail(in.Email)
	if in.Email == "" || in.Password == "" {
		return nil, common.NewError(common.ErrorValidation, "Email and password required")
	}
	if err := validateStruct(in); err != nil {
		return nil, err
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, common.ErrorInternal
	}

	return dbx.WithTxValue(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) (*Session, error) {
		user, err := s.repomanager.Users(tx).Create(ctx, &models.User{
			Name:           in.Name,
			Email:          in.Email,
			PasswordHash:   hash,
			Plan:           common.PlanTrial,
			TrialRemaining: s.trialCredits,
			Provider:       common.ProviderPassword,
		})
		if err != nil {
			if errors.Is(err, common.ErrorAlreadyExists) {
				return nil, errEmailInUse
			}
			return nil, fmt.Errorf("error creating user: %w", err)
		}
		pair, err := s.generateTokenPair(ctx, user.ID, tx)
		if err != nil {
			return nil, err
		}
		return &Session{TokenPair: *pair, User: user}, nil
	})
}

// Signin checks a password and issues a session. Unknown emails, federated
// accounts and wrong passwords are indistinguishable to the caller.
func (s *UserService) Signin(ctx context.Context, email, password string) (*Session, error) {
	user, err := s.repomanager.Users(s.db).GetByEmail(ctx, common.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, errInvalidCredentials
		}
		return nil, common.ErrorInternal
	}
	if !auth.CheckPassword(user.PasswordHash, password) {
		return nil, errInvalidCredentials
	}

	pair, err := s.generateTokenPair(ctx, user.ID, s.db)
	if err != nil {
		return nil, err
	}
	return &Session{TokenPair: *pair, User: user}, nil
}

// Federated exchanges an identity-provider token for a local session,
// linking to an existing account by email or creating one.
func (s *UserService) Federated(ctx context.Context, idToken string) (*Session, error) {
	if s.identity == nil {
		return nil, common.NewError(common.ErrNotConfigured, "Identity provider not configured")
	}
	ident, err := s.identity.Verify(ctx, idToken)
	if err != nil {
		switch {
		case errors.Is(err, common.ErrNotConfigured):
			return nil, common.NewError(common.ErrNotConfigured, "Identity provider not configured")
		case errors.Is(err, common.ErrInvalidToken):
			return nil, common.NewError(common.ErrorUnauthorized, "Invalid identity token")
		}
		return nil, fmt.Errorf("error verifying identity: %w", err)
	}

	sess, err := s.linkFederated(ctx, ident)
	if errors.Is(err, common.ErrorAlreadyExists) {
		// A concurrent sign-in created the account first; the retry links to it.
		sess, err = s.linkFederated(ctx, ident)
	}
	if err != nil {
		return nil, fmt.Errorf("error linking federated user: %w", err)
	}
	return sess, nil
}

func (s *UserService) linkFederated(ctx context.Context, ident *identity.Identity) (*Session, error) {
	return dbx.WithTxValue(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) (*Session, error) {
		repo := s.repomanager.Users(tx)
		user, err := repo.GetByEmail(ctx, ident.Email)
		if errors.Is(err, common.ErrorNotFound) {
			user, err = repo.Create(ctx, &models.User{
				Name:           ident.Name,
				Email:          ident.Email,
				AvatarURL:      ident.AvatarURL,
				Plan:           common.PlanTrial,
				TrialRemaining: s.trialCredits,
				Provider:       common.ProviderGoogle,
			})
		}
		if err != nil {
			return nil, err
		}
		pair, err := s.generateTokenPair(ctx, user.ID, tx)
		if err != nil {
			return nil, err
		}
		return &Session{TokenPair: *pair, User: user}, nil
	})
}

// RefreshToken validates a refresh token, rotates it transactionally, and
// returns a fresh TokenPair. Expired tokens yield ErrRefreshTokenExpired.
func (s *UserService) RefreshToken(ctx context.Context, refreshToken string) (*TokenPair, error) {
	repo := s.repomanager.RefreshTokens(s.db)

	token, err := repo.Find(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, errInvalidRefreshToken
		}
		return nil, fmt.Errorf("error searching refresh token: %w", err)
	}
	if token.Expires.Before(time.Now()) {
		if err := repo.Delete(ctx, refreshToken); err != nil && !errors.Is(err, common.ErrorNotFound) {
			s.logger.Warn(ctx, "failed to delete expired refresh token", "user_id", token.UserID, "error", err)
		}
		return nil, common.ErrRefreshTokenExpired
	}

	// Only the caller whose DELETE removes the row gets a new pair.
	return dbx.WithTxValue(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) (*TokenPair, error) {
		if err := s.repomanager.RefreshTokens(tx).Delete(ctx, refreshToken); err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return nil, errInvalidRefreshToken
			}
			return nil, fmt.Errorf("error deleting refresh token: %w", err)
		}
		return s.generateTokenPair(ctx, token.UserID, tx)
	})
}

// Signout revokes a refresh token. Unknown tokens are ignored.
func (s *UserService) Signout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	err := s.repomanager.RefreshTokens(s.db).Delete(ctx, refreshToken)
	if err != nil && !errors.Is(err, common.ErrorNotFound) {
		return common.ErrorInternal
	}
	return nil
}

// PurgeExpiredRefreshTokens deletes refresh tokens past their expiry.
func (s *UserService) PurgeExpiredRefreshTokens(ctx context.Context) (int64, error) {
	return s.repomanager.RefreshTokens(s.db).DeleteExpired(ctx, time.Now())
}

// Authenticate resolves a session token to a user id.
func (s *UserService) Authenticate(token string) (string, error) {
	return auth.GetUserIDFromToken(token, s.jwtSecret)
}

func (s *UserService) generateTokenPair(ctx context.Context, userID string, tx dbx.DBTX) (*TokenPair, error) {
	access, err := auth.GenerateToken(userID, s.jwtSecret, s.accessTokenValidityDuration)
	if err != nil {
		return nil, common.ErrorInternal
	}
	refresh, err := common.MakeRandHexString(32)
	if err != nil {
		return nil, common.ErrorInternal
	}
	if err := s.repomanager.RefreshTokens(tx).Create(ctx, userID, refresh, s.refreshTokenValidityDuration); err != nil {
		return nil, common.ErrorInternal
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}
