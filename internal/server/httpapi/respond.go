package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/dmitrijs2005/tryitout/internal/common"
	"github.com/dmitrijs2005/tryitout/internal/logging"
)

const maxJSONBody = 1 << 20

var errInvalidJSON = common.NewError(common.ErrorValidation, "Invalid JSON body")

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
}

// statusFor maps service sentinels to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, common.ErrorValidation):
		return http.StatusBadRequest
	case errors.Is(err, common.ErrorUnauthorized),
		errors.Is(err, common.ErrInvalidToken),
		errors.Is(err, common.ErrTokenExpired),
		errors.Is(err, common.ErrRefreshTokenExpired):
		return http.StatusUnauthorized
	case errors.Is(err, common.ErrInsufficientCredits):
		return http.StatusPaymentRequired
	case errors.Is(err, common.ErrorNotFound):
		return http.StatusNotFound
	case errors.Is(err, common.ErrorAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, common.ErrRateLimited):
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

// messageFor returns text safe to show to clients. Messages attached with
// common.NewError are passed through; anything else on a 5xx is hidden.
func messageFor(err error, status int) string {
	var ce *common.Error
	if errors.As(err, &ce) {
		return ce.Message
	}
	switch status {
	case http.StatusUnauthorized:
		return "Unauthorized"
	case http.StatusNotFound:
		return "Not found"
	case http.StatusInternalServerError:
		return "Internal server error"
	}
	return err.Error()
}

func writeError(ctx context.Context, w http.ResponseWriter, logger logging.Logger, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error(ctx, "request failed", "error", err)
	}
	writeJSON(w, status, errorBody{Error: messageFor(err, status)})
}

// decodeJSON reads a JSON body into dst. An empty body leaves dst zeroed.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return errInvalidJSON
	}
	return nil
}
