// Package cli implements the tryitout command-line client: account,
// credit and billing commands against the HTTP API.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/dmitrijs2005/tryitout/internal/client/api"
	"github.com/dmitrijs2005/tryitout/internal/client/config"
	"github.com/dmitrijs2005/tryitout/internal/client/session"
	"github.com/dmitrijs2005/tryitout/internal/filex"
	"github.com/dmitrijs2005/tryitout/internal/netx"
)

const appName = "tryitout"

// API is the subset of the HTTP client the commands use.
type API interface {
	Signup(ctx context.Context, name, email, password string) (*api.Session, error)
	Signin(ctx context.Context, email, password string) (*api.Session, error)
	Refresh(ctx context.Context, refreshToken string) (*api.Session, error)
	Signout(ctx context.Context, refreshToken string) error
	Me(ctx context.Context, token string) (*api.User, error)
	UpdateAvatar(ctx context.Context, token, avatarURL string) error
	AvatarUploadURL(ctx context.Context, token string) (*api.AvatarUpload, error)
	UsageCheck(ctx context.Context, token string) (*api.Usage, error)
	UsageConsume(ctx context.Context, token string) (int, error)
	UsageHistory(ctx context.Context, token string, limit int) ([]api.UsageEvent, error)
	Checkout(ctx context.Context, token string) (string, error)
}

type SessionStore interface {
	Load(ctx context.Context) (*session.Session, error)
	Save(ctx context.Context, s *session.Session) error
	Clear(ctx context.Context) error
}

type uploadFunc func(ctx context.Context, url, contentType string, data []byte) error

type App struct {
	config *config.Config
	api    API
	store  SessionStore
	closer io.Closer
	reader *bufio.Reader
	out    io.Writer
	upload uploadFunc
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	dir, err := dataDir(c)
	if err != nil {
		return nil, err
	}

	store, err := session.Open(ctx, dir)
	if err != nil {
		return nil, err
	}

	httpClient := &http.Client{Timeout: c.RequestTimeout}

	return &App{
		config: c,
		api:    api.NewClient(c.ServerURL, httpClient),
		store:  store,
		closer: store,
		reader: bufio.NewReader(os.Stdin),
		out:    os.Stdout,
		upload: func(ctx context.Context, url, contentType string, data []byte) error {
			return netx.UploadToPresignedURL(ctx, httpClient, url, contentType, data)
		},
	}, nil
}

func dataDir(c *config.Config) (string, error) {
	if c.DataDir != "" {
		return filex.EnsureSubDir(c.DataDir, "")
	}
	return filex.EnsureConfigDir(appName)
}

func (a *App) Close() error {
	if a.closer == nil {
		return nil
	}
	return a.closer.Close()
}

// withToken runs fn with the stored access token. When the server rejects
// it, the refresh token is exchanged once and fn is retried.
func (a *App) withToken(ctx context.Context, fn func(token string) error) error {
	sess, err := a.store.Load(ctx)
	if err != nil {
		if errors.Is(err, session.ErrNoSession) {
			return fmt.Errorf("%w, run 'signin' first", err)
		}
		return err
	}

	err = fn(sess.AccessToken)
	if !errors.Is(err, api.ErrUnauthorized) || sess.RefreshToken == "" {
		return err
	}

	fresh, rerr := a.api.Refresh(ctx, sess.RefreshToken)
	if rerr != nil {
		if errors.Is(rerr, api.ErrUnauthorized) {
			_ = a.store.Clear(ctx)
			return fmt.Errorf("session expired, run 'signin' again")
		}
		return rerr
	}
	sess.AccessToken, sess.RefreshToken = fresh.Token, fresh.RefreshToken
	if err := a.store.Save(ctx, sess); err != nil {
		return err
	}
	return fn(sess.AccessToken)
}

func (a *App) saveSession(ctx context.Context, s *api.Session) error {
	return a.store.Save(ctx, &session.Session{
		Email:        s.User.Email,
		AccessToken:  s.Token,
		RefreshToken: s.RefreshToken,
	})
}
