package cli

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/tryitout/internal/client/api"
	"github.com/dmitrijs2005/tryitout/internal/client/config"
	"github.com/dmitrijs2005/tryitout/internal/client/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	validToken string
	refreshErr error
	consumeErr error
	calls      []string
	password   string
	avatar     string
	history    []api.UsageEvent
	limit      int
}

func (f *fakeAPI) check(token string) error {
	if token != f.validToken {
		return &api.Error{Status: 401, Message: "Unauthorized"}
	}
	return nil
}

func (f *fakeAPI) Signup(ctx context.Context, name, email, password string) (*api.Session, error) {
	f.calls = append(f.calls, "signup:"+name+":"+email)
	f.password = password
	return &api.Session{Token: "a1", RefreshToken: "r1", User: api.User{Email: email, Plan: "trial", TrialRemaining: 5}}, nil
}

func (f *fakeAPI) Signin(ctx context.Context, email, password string) (*api.Session, error) {
	f.calls = append(f.calls, "signin:"+email)
	f.password = password
	if password != "secret1" {
		return nil, &api.Error{Status: 401, Message: "Invalid credentials"}
	}
	return &api.Session{Token: "a1", RefreshToken: "r1", User: api.User{Email: email}}, nil
}

func (f *fakeAPI) Refresh(ctx context.Context, refreshToken string) (*api.Session, error) {
	f.calls = append(f.calls, "refresh:"+refreshToken)
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	f.validToken = "a2"
	return &api.Session{Token: "a2", RefreshToken: "r2"}, nil
}

func (f *fakeAPI) Signout(ctx context.Context, refreshToken string) error {
	f.calls = append(f.calls, "signout:"+refreshToken)
	return nil
}

func (f *fakeAPI) Me(ctx context.Context, token string) (*api.User, error) {
	if err := f.check(token); err != nil {
		return nil, err
	}
	return &api.User{ID: "u1", Email: "a@b.co", Plan: "pro", AvatarURL: "https://img"}, nil
}

func (f *fakeAPI) UpdateAvatar(ctx context.Context, token, avatarURL string) error {
	f.avatar = avatarURL
	return f.check(token)
}

func (f *fakeAPI) AvatarUploadURL(ctx context.Context, token string) (*api.AvatarUpload, error) {
	if err := f.check(token); err != nil {
		return nil, err
	}
	return &api.AvatarUpload{Key: "k", URL: "https://put", PublicURL: "https://get"}, nil
}

func (f *fakeAPI) UsageCheck(ctx context.Context, token string) (*api.Usage, error) {
	if err := f.check(token); err != nil {
		return nil, err
	}
	return &api.Usage{Allowed: true, Plan: "trial", TrialRemaining: 2}, nil
}

func (f *fakeAPI) UsageConsume(ctx context.Context, token string) (int, error) {
	if err := f.check(token); err != nil {
		return 0, err
	}
	return 1, f.consumeErr
}

func (f *fakeAPI) UsageHistory(ctx context.Context, token string, limit int) ([]api.UsageEvent, error) {
	if err := f.check(token); err != nil {
		return nil, err
	}
	f.limit = limit
	return f.history, nil
}

func (f *fakeAPI) Checkout(ctx context.Context, token string) (string, error) {
	if err := f.check(token); err != nil {
		return "", err
	}
	return "https://checkout", nil
}

type memStore struct {
	sess *session.Session
}

func (m *memStore) Load(ctx context.Context) (*session.Session, error) {
	if m.sess == nil {
		return nil, session.ErrNoSession
	}
	cp := *m.sess
	return &cp, nil
}

func (m *memStore) Save(ctx context.Context, s *session.Session) error {
	cp := *s
	m.sess = &cp
	return nil
}

func (m *memStore) Clear(ctx context.Context) error {
	m.sess = nil
	return nil
}

func newTestApp(t *testing.T, stdin string) (*App, *fakeAPI, *memStore) {
	t.Helper()

	origPassword := getPassword
	t.Cleanup(func() { getPassword = origPassword })
	getPassword = func(io.Writer) ([]byte, error) { return []byte("secret1"), nil }

	cfg := &config.Config{}
	cfg.LoadDefaults()

	f := &fakeAPI{validToken: "a1"}
	store := &memStore{}
	return &App{
		config: cfg,
		api:    f,
		store:  store,
		reader: bufio.NewReader(strings.NewReader(stdin)),
		out:    io.Discard,
	}, f, store
}

func run(t *testing.T, a *App, args ...string) (string, error) {
	t.Helper()
	root := a.NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSignup_PromptsForEmail(t *testing.T) {
	a, f, store := newTestApp(t, "a@b.co\n")

	out, err := run(t, a, "signup", "--name", "Ann")
	require.NoError(t, err)

	assert.Equal(t, "Signed up as a@b.co (trial, 5 trial credits)\n", out)
	assert.Equal(t, []string{"signup:Ann:a@b.co"}, f.calls)
	assert.Equal(t, "secret1", f.password)
	assert.Equal(t, &session.Session{Email: "a@b.co", AccessToken: "a1", RefreshToken: "r1"}, store.sess)
}

func TestSignin(t *testing.T) {
	a, _, store := newTestApp(t, "")

	out, err := run(t, a, "signin", "--email", "a@b.co")
	require.NoError(t, err)
	assert.Equal(t, "Signed in as a@b.co\n", out)
	assert.Equal(t, "a1", store.sess.AccessToken)
}

func TestSignin_BadPassword(t *testing.T) {
	a, _, store := newTestApp(t, "")
	getPassword = func(io.Writer) ([]byte, error) { return []byte("nope"), nil }

	_, err := run(t, a, "signin", "--email", "a@b.co")
	require.Error(t, err)
	assert.ErrorIs(t, err, api.ErrUnauthorized)
	assert.Nil(t, store.sess)
}

func TestCommands_RequireSession(t *testing.T) {
	a, _, _ := newTestApp(t, "")

	for _, args := range [][]string{{"me"}, {"usage", "check"}, {"usage", "consume"}, {"checkout"}} {
		_, err := run(t, a, args...)
		assert.ErrorIs(t, err, session.ErrNoSession, args)
	}
}

func TestMeUsageCheckout(t *testing.T) {
	a, _, store := newTestApp(t, "")
	store.sess = &session.Session{Email: "a@b.co", AccessToken: "a1", RefreshToken: "r1"}

	out, err := run(t, a, "me")
	require.NoError(t, err)
	assert.Contains(t, out, "email:   a@b.co\n")
	assert.Contains(t, out, "avatar:  https://img\n")
	assert.Contains(t, out, "plan:    pro\n")
	assert.NotContains(t, out, "name:")

	out, err = run(t, a, "usage", "check")
	require.NoError(t, err)
	assert.Equal(t, "allowed: true, plan: trial, credits: 2\n", out)

	out, err = run(t, a, "usage", "consume")
	require.NoError(t, err)
	assert.Equal(t, "credits left: 1\n", out)

	out, err = run(t, a, "checkout")
	require.NoError(t, err)
	assert.Equal(t, "Open to upgrade: https://checkout\n", out)
}

func TestExpiredToken_RefreshesOnce(t *testing.T) {
	a, f, store := newTestApp(t, "")
	store.sess = &session.Session{Email: "a@b.co", AccessToken: "stale", RefreshToken: "r1"}

	_, err := run(t, a, "usage", "check")
	require.NoError(t, err)

	assert.Equal(t, []string{"refresh:r1"}, f.calls)
	assert.Equal(t, &session.Session{Email: "a@b.co", AccessToken: "a2", RefreshToken: "r2"}, store.sess)
}

func TestExpiredRefresh_ClearsSession(t *testing.T) {
	a, f, store := newTestApp(t, "")
	f.refreshErr = &api.Error{Status: 401, Message: "Unauthorized"}
	store.sess = &session.Session{AccessToken: "stale", RefreshToken: "old"}

	_, err := run(t, a, "me")
	require.EqualError(t, err, "session expired, run 'signin' again")
	assert.Nil(t, store.sess)
}

func TestUsageConsume_NoCredits(t *testing.T) {
	a, f, store := newTestApp(t, "")
	f.consumeErr = &api.Error{Status: 402, Message: "No trial credits left"}
	store.sess = &session.Session{AccessToken: "a1", RefreshToken: "r1"}

	_, err := run(t, a, "usage", "consume")
	assert.EqualError(t, err, "No trial credits left (402)")
	assert.Empty(t, f.calls)
}

func TestUsageHistory(t *testing.T) {
	a, f, store := newTestApp(t, "")
	store.sess = &session.Session{AccessToken: "a1", RefreshToken: "r1"}

	out, err := run(t, a, "usage", "history")
	require.NoError(t, err)
	assert.Equal(t, "No usage yet\n", out)
	assert.Equal(t, 0, f.limit)

	at := time.Date(2024, 3, 7, 10, 0, 0, 0, time.UTC)
	f.history = []api.UsageEvent{{Kind: "consume", RemainingAfter: 3, CreatedAt: at}}
	out, err = run(t, a, "usage", "history", "-n", "5")
	require.NoError(t, err)
	assert.Equal(t, at.Local().Format(time.DateTime)+"  consume  left: 3\n", out)
	assert.Equal(t, 5, f.limit)
}

func TestLogout(t *testing.T) {
	a, f, store := newTestApp(t, "")
	store.sess = &session.Session{AccessToken: "a1", RefreshToken: "r1"}

	out, err := run(t, a, "logout")
	require.NoError(t, err)
	assert.Equal(t, "Logged out\n", out)
	assert.Equal(t, []string{"signout:r1"}, f.calls)
	assert.Nil(t, store.sess)
}

func TestAvatarUpload(t *testing.T) {
	a, f, store := newTestApp(t, "")
	store.sess = &session.Session{AccessToken: "a1", RefreshToken: "r1"}

	var gotURL, gotType string
	var gotData []byte
	a.upload = func(ctx context.Context, url, contentType string, data []byte) error {
		gotURL, gotType, gotData = url, contentType, data
		return nil
	}

	png := []byte("\x89PNG\r\n\x1a\n0000")
	path := filepath.Join(t.TempDir(), "me.png")
	require.NoError(t, os.WriteFile(path, png, 0o600))

	out, err := run(t, a, "avatar", "upload", path)
	require.NoError(t, err)
	assert.Equal(t, "Avatar set to https://get\n", out)
	assert.Equal(t, "https://put", gotURL)
	assert.Equal(t, "image/png", gotType)
	assert.Equal(t, png, gotData)
	assert.Equal(t, "https://get", f.avatar)

	_, err = run(t, a, "avatar", "upload", filepath.Join(t.TempDir(), "missing.png"))
	assert.Error(t, err)
}

func TestNewApp_UsesDataDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	cfg := &config.Config{ServerURL: "http://127.0.0.1:1", RequestTimeout: time.Second, DataDir: dir}

	a, err := NewApp(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()

	assert.FileExists(t, filepath.Join(dir, "session.db"))

	_, err = a.store.Load(context.Background())
	assert.ErrorIs(t, err, session.ErrNoSession)
}
