package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/tryitout/internal/common"
	"github.com/dmitrijs2005/tryitout/internal/server/models"
	"github.com/dmitrijs2005/tryitout/internal/server/repositories/repomanager"
	"github.com/google/uuid"
)

const avatarUploadExpiry = 15 * time.Minute

// Presigner issues upload URLs for object storage.
type Presigner interface {
	PresignPut(ctx context.Context, key string, expires time.Duration) (string, error)
	PublicURL(key string) string
}

type AvatarUpload struct {
	Key       string
	URL       string
	PublicURL string
}

type ProfileService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	presigner   Presigner
}

func NewProfileService(db *sql.DB, m repomanager.RepositoryManager, presigner Presigner) *ProfileService {
	return &ProfileService{db: db, repomanager: m, presigner: presigner}
}

func (s *ProfileService) Me(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.repomanager.Users(s.db).GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, errUserNotFound
		}
		return nil, common.ErrorInternal
	}
	return user, nil
}

type avatarInput struct {
	AvatarURL string `validate:"omitempty,url,max=2048"`
}

// UpdateAvatar sets or, with an empty value, clears the avatar URL.
func (s *ProfileService) UpdateAvatar(ctx context.Context, userID, avatarURL string) error {
	if err := validateStruct(avatarInput{AvatarURL: avatarURL}); err != nil {
		return err
	}
	if err := s.repomanager.Users(s.db).UpdateAvatar(ctx, userID, avatarURL); err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return errUserNotFound
		}
		return common.ErrorInternal
	}
	return nil
}

// AvatarUploadURL presigns a PUT for a fresh object key under the user's
// prefix. The client uploads there and then calls UpdateAvatar with
// the returned public URL.
func (s *ProfileService) AvatarUploadURL(ctx context.Context, userID string) (*AvatarUpload, error) {
	if s.presigner == nil {
		return nil, common.NewError(common.ErrNotConfigured, "Object storage not configured")
	}
	key := avatarStorageKey(userID, time.Now())
	url, err := s.presigner.PresignPut(ctx, key, avatarUploadExpiry)
	if err != nil {
		return nil, fmt.Errorf("error presigning upload: %w", err)
	}
	return &AvatarUpload{Key: key, URL: url, PublicURL: s.presigner.PublicURL(key)}, nil
}

func avatarStorageKey(userID string, d time.Time) string {
	return fmt.Sprintf("avatars/%s/%d/%02d/%02d/%v", userID, d.Year(), d.Month(), d.Day(), uuid.New())
}
