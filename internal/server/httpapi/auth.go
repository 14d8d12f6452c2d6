package httpapi

import (
	"net/http"
	"time"

	"github.com/dmitrijs2005/tryitout/internal/common"
	"github.com/dmitrijs2005/tryitout/internal/server/models"
	"github.com/dmitrijs2005/tryitout/internal/server/services"
)

type userView struct {
	ID             string `json:"id"`
	Email          string `json:"email"`
	Name           string `json:"name"`
	Plan           string `json:"plan"`
	TrialRemaining int    `json:"trialRemaining"`
}

func newUserView(u *models.User) userView {
	return userView{ID: u.ID, Email: u.Email, Name: u.Name, Plan: u.Plan, TrialRemaining: u.TrialRemaining}
}

type sessionResponse struct {
	Token        string   `json:"token"`
	RefreshToken string   `json:"refreshToken"`
	User         userView `json:"user"`
}

type tokenResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
}

type signupRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signinRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type federatedRequest struct {
	IDToken string `json:"idToken"`
}

func (a *api) signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(r.Context(), w, a.Logger, err)
		return
	}
	sess, err := a.Users.Signup(r.Context(), services.SignupInput{Name: req.Name, Email: req.Email, Password: req.Password})
	if err != nil {
		writeError(r.Context(), w, a.Logger, err)
		return
	}
	a.writeSession(w, sess)
}

func (a *api) signin(w http.ResponseWriter, r *http.Request) {
	var req signinRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(r.Context(), w, a.Logger, err)
		return
	}
	sess, err := a.Users.Signin(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(r.Context(), w, a.Logger, err)
		return
	}
	a.writeSession(w, sess)
}

func (a *api) federated(w http.ResponseWriter, r *http.Request) {
	var req federatedRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(r.Context(), w, a.Logger, err)
		return
	}
	if req.IDToken == "" {
		req.IDToken = bearerToken(r)
	}
	sess, err := a.Users.Federated(r.Context(), req.IDToken)
	if err != nil {
		writeError(r.Context(), w, a.Logger, err)
		return
	}
	a.writeSession(w, sess)
}

func (a *api) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(r.Context(), w, a.Logger, err)
		return
	}
	if req.RefreshToken == "" {
		writeError(r.Context(), w, a.Logger, common.NewError(common.ErrorValidation, "refreshToken is required"))
		return
	}
	pair, err := a.Users.RefreshToken(r.Context(), req.RefreshToken)
	if err != nil {
		writeError(r.Context(), w, a.Logger, err)
		return
	}
	a.setTokenCookie(w, pair.AccessToken)
	writeJSON(w, http.StatusOK, tokenResponse{Token: pair.AccessToken, RefreshToken: pair.RefreshToken})
}

func (a *api) signout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(r.Context(), w, a.Logger, err)
		return
	}
	if err := a.Users.Signout(r.Context(), req.RefreshToken); err != nil {
		writeError(r.Context(), w, a.Logger, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     common.TokenCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (a *api) writeSession(w http.ResponseWriter, sess *services.Session) {
	a.setTokenCookie(w, sess.AccessToken)
	writeJSON(w, http.StatusOK, sessionResponse{
		Token:        sess.AccessToken,
		RefreshToken: sess.RefreshToken,
		User:         newUserView(sess.User),
	})
}

func (a *api) setTokenCookie(w http.ResponseWriter, token string) {
	c := &http.Cookie{
		Name:     common.TokenCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   a.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
	if a.CookieMaxAge > 0 {
		c.MaxAge = int(a.CookieMaxAge / time.Second)
	}
	http.SetCookie(w, c)
}
