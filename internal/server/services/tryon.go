package services

import (
	"bytes"
	"context"
	"errors"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"slices"
	"time"

	"github.com/dmitrijs2005/tryitout/internal/common"
	"github.com/dmitrijs2005/tryitout/internal/logging"
	"github.com/dmitrijs2005/tryitout/internal/server/generation"
)

// Backgrounds the generator is prompted with.
var Backgrounds = []string{"Plain White", "Library", "Party", "Beach", "Office"}

// Generator renders a try-on image and returns it base64 encoded.
type Generator interface {
	Generate(ctx context.Context, req generation.Request) (string, error)
}

type TryOnInput struct {
	UserImage     []byte
	ClothingImage []byte
	Background    string
}

type TryOnResult struct {
	ImageBase64    string
	TrialRemaining int
	Charged        bool
}

type TryOnService struct {
	usage     *UsageService
	generator Generator
	timeout   time.Duration
	logger    logging.Logger
}

func NewTryOnService(usage *UsageService, generator Generator, timeout time.Duration, logger logging.Logger) *TryOnService {
	return &TryOnService{usage: usage, generator: generator, timeout: timeout, logger: logger}
}

// Generate validates the uploads, checks the credit gate, renders the image
// and only then consumes a credit.
func (s *TryOnService) Generate(ctx context.Context, userID string, in TryOnInput) (*TryOnResult, error) {
	if !slices.Contains(Backgrounds, in.Background) {
		return nil, common.NewError(common.ErrorValidation, "background must be one of: Plain White, Library, Party, Beach, Office")
	}
	userMIME, err := imageMIME(in.UserImage)
	if err != nil {
		return nil, common.NewError(common.ErrorValidation, "user_image must be a PNG or JPEG image")
	}
	clothingMIME, err := imageMIME(in.ClothingImage)
	if err != nil {
		return nil, common.NewError(common.ErrorValidation, "clothing_image must be a PNG or JPEG image")
	}

	status, err := s.usage.Check(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !status.Allowed {
		return nil, errNoCredits
	}

	genCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		genCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	img, err := s.generator.Generate(genCtx, generation.Request{
		UserImage:         in.UserImage,
		UserImageMIME:     userMIME,
		ClothingImage:     in.ClothingImage,
		ClothingImageMIME: clothingMIME,
		Background:        in.Background,
	})
	if err != nil {
		s.logger.Error(ctx, "generation failed", "user_id", userID, "error", err)
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, common.NewError(common.ErrUpstream, "generation timed out")
		}
		return nil, err
	}

	c, err := s.usage.Consume(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &TryOnResult{ImageBase64: img, TrialRemaining: c.TrialRemaining, Charged: c.Charged}, nil
}

func imageMIME(b []byte) (string, error) {
	_, format, err := image.DecodeConfig(bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	switch format {
	case "png":
		return "image/png", nil
	case "jpeg":
		return "image/jpeg", nil
	}
	return "", image.ErrFormat
}
