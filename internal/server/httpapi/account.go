package httpapi

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/dmitrijs2005/tryitout/internal/common"
)

type profileResponse struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Email          string `json:"email"`
	AvatarURL      string `json:"avatarUrl"`
	Plan           string `json:"plan"`
	TrialRemaining int    `json:"trialRemaining"`
}

type avatarRequest struct {
	AvatarURL string `json:"avatarUrl"`
}

type uploadURLResponse struct {
	Key       string `json:"key"`
	URL       string `json:"url"`
	PublicURL string `json:"publicUrl"`
}

type usageCheckResponse struct {
	Allowed        bool   `json:"allowed"`
	Plan           string `json:"plan"`
	TrialRemaining int    `json:"trialRemaining"`
}

type usageConsumeResponse struct {
	OK             bool `json:"ok"`
	TrialRemaining int  `json:"trialRemaining"`
}

type usageEventResponse struct {
	Kind           string    `json:"kind"`
	RemainingAfter int       `json:"remainingAfter"`
	CreatedAt      time.Time `json:"createdAt"`
}

type usageHistoryResponse struct {
	Events []usageEventResponse `json:"events"`
}

func (a *api) me(w http.ResponseWriter, r *http.Request) {
	u, err := a.Profile.Me(r.Context(), userIDFrom(r.Context()))
	if err != nil {
		writeError(r.Context(), w, a.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, profileResponse{
		ID:             u.ID,
		Name:           u.Name,
		Email:          u.Email,
		AvatarURL:      u.AvatarURL,
		Plan:           u.Plan,
		TrialRemaining: u.TrialRemaining,
	})
}

func (a *api) updateAvatar(w http.ResponseWriter, r *http.Request) {
	var req avatarRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(r.Context(), w, a.Logger, err)
		return
	}
	if err := a.Profile.UpdateAvatar(r.Context(), userIDFrom(r.Context()), req.AvatarURL); err != nil {
		writeError(r.Context(), w, a.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (a *api) avatarUploadURL(w http.ResponseWriter, r *http.Request) {
	up, err := a.Profile.AvatarUploadURL(r.Context(), userIDFrom(r.Context()))
	if err != nil {
		writeError(r.Context(), w, a.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, uploadURLResponse{Key: up.Key, URL: up.URL, PublicURL: up.PublicURL})
}

func (a *api) usageCheck(w http.ResponseWriter, r *http.Request) {
	st, err := a.Usage.Check(r.Context(), userIDFrom(r.Context()))
	if err != nil {
		writeError(r.Context(), w, a.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, usageCheckResponse{Allowed: st.Allowed, Plan: st.Plan, TrialRemaining: st.TrialRemaining})
}

func (a *api) usageConsume(w http.ResponseWriter, r *http.Request) {
	c, err := a.Usage.Consume(r.Context(), userIDFrom(r.Context()))
	if err != nil {
		writeError(r.Context(), w, a.Logger, err)
		return
	}
	if c.Charged {
		a.Metrics.RecordCreditConsumed()
	}
	writeJSON(w, http.StatusOK, usageConsumeResponse{OK: true, TrialRemaining: c.TrialRemaining})
}

func (a *api) usageHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(r.Context(), w, a.Logger, common.NewError(common.ErrorValidation, "limit must be a positive integer"))
			return
		}
		limit = n
	}

	events, err := a.Usage.History(r.Context(), userIDFrom(r.Context()), limit)
	if err != nil {
		writeError(r.Context(), w, a.Logger, err)
		return
	}
	resp := usageHistoryResponse{Events: make([]usageEventResponse, 0, len(events))}
	for _, e := range events {
		resp.Events = append(resp.Events, usageEventResponse{Kind: e.Kind, RemainingAfter: e.RemainingAfter, CreatedAt: e.CreatedAt.UTC()})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *api) checkout(w http.ResponseWriter, r *http.Request) {
	url, err := a.Billing.Checkout(r.Context(), userIDFrom(r.Context()))
	if err != nil {
		writeError(r.Context(), w, a.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (a *api) webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err != nil {
		a.Metrics.RecordWebhook("rejected")
		writeError(r.Context(), w, a.Logger, common.NewError(common.ErrorValidation, "Webhook Error: "+err.Error()))
		return
	}
	if err := a.Billing.HandleWebhook(r.Context(), payload, r.Header.Get(common.StripeSignatureHeaderName)); err != nil {
		if statusFor(err) == http.StatusBadRequest {
			a.Metrics.RecordWebhook("rejected")
		} else {
			a.Metrics.RecordWebhook("failed")
		}
		writeError(r.Context(), w, a.Logger, err)
		return
	}
	a.Metrics.RecordWebhook("processed")
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}
