// Package session persists the CLI's signed-in session in a local SQLite
// database under the user's config directory.
package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/dmitrijs2005/tryitout/internal/dbx"

	_ "modernc.org/sqlite"
)

const (
	keyEmail        = "email"
	keyAccessToken  = "access_token"
	keyRefreshToken = "refresh_token"
)

var ErrNoSession = errors.New("not signed in")

type Session struct {
	Email        string
	AccessToken  string
	RefreshToken string
}

type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the session database in dir.
func Open(ctx context.Context, dir string) (*Store, error) {
	return openDSN(ctx, filepath.Join(dir, "session.db"))
}

func openDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open session db: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init session db: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Load returns ErrNoSession when nobody is signed in.
func (s *Store) Load(ctx context.Context) (*Session, error) {
	repo := newMetadataRepository(s.db)

	access, err := repo.Get(ctx, keyAccessToken)
	if err != nil {
		return nil, err
	}
	if len(access) == 0 {
		return nil, ErrNoSession
	}
	refresh, err := repo.Get(ctx, keyRefreshToken)
	if err != nil {
		return nil, err
	}
	email, err := repo.Get(ctx, keyEmail)
	if err != nil {
		return nil, err
	}
	return &Session{Email: string(email), AccessToken: string(access), RefreshToken: string(refresh)}, nil
}

// Save replaces the stored session atomically.
func (s *Store) Save(ctx context.Context, sess *Session) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := newMetadataRepository(tx)
		if err := repo.Clear(ctx); err != nil {
			return err
		}
		for k, v := range map[string]string{
			keyEmail:        sess.Email,
			keyAccessToken:  sess.AccessToken,
			keyRefreshToken: sess.RefreshToken,
		} {
			if v == "" {
				continue
			}
			if err := repo.Set(ctx, k, []byte(v)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) Clear(ctx context.Context) error {
	return newMetadataRepository(s.db).Clear(ctx)
}
