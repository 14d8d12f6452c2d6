// Package identity verifies access tokens issued by the hosted identity
// provider used for federated sign-in. Tokens are checked locally with the
// provider's HS256 secret when one is configured, and otherwise (or when
// the local check fails) against the provider's /auth/v1/user endpoint.
package identity

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dmitrijs2005/tryitout/internal/common"
	"github.com/golang-jwt/jwt/v5"
	"github.com/tidwall/gjson"
)

// Identity is the subset of the provider's user we link accounts by.
type Identity struct {
	ID        string
	Email     string
	Name      string
	AvatarURL string
}

type Config struct {
	URL       string
	AnonKey   string
	JWTSecret string
}

// Verifier is safe for concurrent use.
type Verifier struct {
	config Config
	client *http.Client
}

func NewVerifier(cfg Config, client *http.Client) *Verifier {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	return &Verifier{config: cfg, client: client}
}

// Configured reports whether any verification path is available.
func (v *Verifier) Configured() bool {
	return v.config.JWTSecret != "" || v.config.URL != ""
}

// Verify returns the identity behind token. Unusable tokens yield
// common.ErrInvalidToken; a verifier with no configuration yields
// common.ErrNotConfigured.
func (v *Verifier) Verify(ctx context.Context, token string) (*Identity, error) {
	if !v.Configured() {
		return nil, common.ErrNotConfigured
	}
	if token == "" {
		return nil, common.ErrInvalidToken
	}

	if v.config.JWTSecret != "" {
		if id, err := v.verifyLocal(token); err == nil {
			return id, nil
		}
	}
	if v.config.URL == "" {
		return nil, common.ErrInvalidToken
	}
	return v.verifyRemote(ctx, token)
}

func (v *Verifier) verifyLocal(token string) (*Identity, error) {
	claims := jwt.MapClaims{}

	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(v.config.JWTSecret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("jwt parse: %w", err)
	}
	if !parsed.Valid {
		return nil, common.ErrInvalidToken
	}

	id := &Identity{
		ID:    stringClaim(claims, "sub"),
		Email: stringClaim(claims, "email"),
	}
	if md, ok := claims["user_metadata"].(map[string]interface{}); ok {
		id.Name = firstString(md, "full_name", "name")
		id.AvatarURL = firstString(md, "avatar_url", "picture")
	}
	return checked(id)
}

func (v *Verifier) verifyRemote(ctx context.Context, token string) (*Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.config.URL+"/auth/v1/user", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if v.config.AnonKey != "" {
		req.Header.Set("apikey", v.config.AnonKey)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: identity provider: %v", common.ErrUpstream, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: identity provider: %v", common.ErrUpstream, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, common.ErrInvalidToken
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: identity provider status %d", common.ErrUpstream, resp.StatusCode)
	}

	res := gjson.ParseBytes(body)
	id := &Identity{
		ID:        res.Get("id").String(),
		Email:     res.Get("email").String(),
		Name:      firstResult(res, "user_metadata.full_name", "user_metadata.name"),
		AvatarURL: firstResult(res, "user_metadata.avatar_url", "user_metadata.picture"),
	}
	return checked(id)
}

func checked(id *Identity) (*Identity, error) {
	id.Email = common.NormalizeEmail(id.Email)
	if id.Email == "" {
		return nil, common.ErrInvalidToken
	}
	return id, nil
}

func stringClaim(claims jwt.MapClaims, key string) string {
	if s, ok := claims[key].(string); ok {
		return s
	}
	return ""
}

func firstString(m map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func firstResult(res gjson.Result, paths ...string) string {
	for _, p := range paths {
		if s := res.Get(p).String(); s != "" {
			return s
		}
	}
	return ""
}
