package httpapi

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/dmitrijs2005/tryitout/internal/common"
	"github.com/dmitrijs2005/tryitout/internal/server/services"
)

type tryOnResponse struct {
	ImageBase64    string `json:"image_base64"`
	TrialRemaining int    `json:"trialRemaining"`
}

func (a *api) tryOn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// two images plus form overhead
	r.Body = http.MaxBytesReader(w, r.Body, 2*a.MaxUploadBytes+(1<<20))
	if err := r.ParseMultipartForm(a.MaxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(ctx, w, a.Logger, common.NewError(common.ErrorValidation, "Upload too large"))
			return
		}
		writeError(ctx, w, a.Logger, common.NewError(common.ErrorValidation, "Expected multipart form data"))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	userImage, err := readFormFile(r, "user_image", a.MaxUploadBytes)
	if err != nil {
		writeError(ctx, w, a.Logger, err)
		return
	}
	clothingImage, err := readFormFile(r, "clothing_image", a.MaxUploadBytes)
	if err != nil {
		writeError(ctx, w, a.Logger, err)
		return
	}

	res, err := a.TryOn.Generate(ctx, userIDFrom(ctx), services.TryOnInput{
		UserImage:     userImage,
		ClothingImage: clothingImage,
		Background:    r.FormValue("background"),
	})
	if err != nil {
		switch statusFor(err) {
		case http.StatusPaymentRequired:
			a.Metrics.RecordGeneration("no_credits")
		case http.StatusBadRequest:
			a.Metrics.RecordGeneration("invalid")
		default:
			a.Metrics.RecordGeneration("error")
		}
		writeError(ctx, w, a.Logger, err)
		return
	}

	a.Metrics.RecordGeneration("ok")
	if res.Charged {
		a.Metrics.RecordCreditConsumed()
	}
	writeJSON(w, http.StatusOK, tryOnResponse{ImageBase64: res.ImageBase64, TrialRemaining: res.TrialRemaining})
}

func readFormFile(r *http.Request, field string, limit int64) ([]byte, error) {
	f, hdr, err := r.FormFile(field)
	if err != nil {
		return nil, common.NewError(common.ErrorValidation, field+" is required")
	}
	defer f.Close()
	return readLimited(f, hdr, field, limit)
}

func readLimited(f multipart.File, hdr *multipart.FileHeader, field string, limit int64) ([]byte, error) {
	if hdr.Size > limit {
		return nil, common.NewError(common.ErrorValidation, field+" is too large")
	}
	b, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return nil, common.NewError(common.ErrorValidation, "could not read "+field)
	}
	if int64(len(b)) > limit {
		return nil, common.NewError(common.ErrorValidation, field+" is too large")
	}
	return b, nil
}
