package services

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/tryitout/internal/common"
	"github.com/dmitrijs2005/tryitout/internal/dbx"
	"github.com/dmitrijs2005/tryitout/internal/logging"
	"github.com/dmitrijs2005/tryitout/internal/server/models"
	refreshtokensrepo "github.com/dmitrijs2005/tryitout/internal/server/repositories/refreshtokens"
	usagerepo "github.com/dmitrijs2005/tryitout/internal/server/repositories/usage"
	usersrepo "github.com/dmitrijs2005/tryitout/internal/server/repositories/users"
	webhooksrepo "github.com/dmitrijs2005/tryitout/internal/server/repositories/webhooks"
)

type errBoom struct{}

func (errBoom) Error() string { return "boom" }

func newSQLMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

// fakeUsersRepo is an in-memory users table. The *Err fields force a
// failure from the matching method.
type fakeUsersRepo struct {
	mu    sync.Mutex
	byID  map[string]*models.User
	seq   int
	calls []string

	createErr    error
	getErr       error
	updateErr    error
	decrementErr error

	// beforeCreate runs once, inside Create, before the email check.
	beforeCreate func(byID map[string]*models.User)
}

func newFakeUsersRepo(users ...*models.User) *fakeUsersRepo {
	r := &fakeUsersRepo{byID: map[string]*models.User{}}
	for _, u := range users {
		cp := *u
		r.byID[u.ID] = &cp
	}
	return r
}

func (f *fakeUsersRepo) record(name string) {
	f.calls = append(f.calls, name)
}

func (f *fakeUsersRepo) Create(ctx context.Context, u *models.User) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("Create")
	if f.createErr != nil {
		return nil, f.createErr
	}
	if hook := f.beforeCreate; hook != nil {
		f.beforeCreate = nil
		hook(f.byID)
	}
	for _, existing := range f.byID {
		if existing.Email == u.Email {
			return nil, common.ErrorAlreadyExists
		}
	}
	f.seq++
	cp := *u
	if cp.ID == "" {
		cp.ID = fmt.Sprintf("u%d", f.seq)
	}
	cp.CreatedAt = time.Now()
	f.byID[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (f *fakeUsersRepo) find(match func(*models.User) bool) (*models.User, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	for _, u := range f.byID {
		if match(u) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (f *fakeUsersRepo) GetByID(ctx context.Context, id string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("GetByID")
	return f.find(func(u *models.User) bool { return u.ID == id })
}

func (f *fakeUsersRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("GetByEmail")
	return f.find(func(u *models.User) bool { return u.Email == email })
}

func (f *fakeUsersRepo) GetByStripeCustomerID(ctx context.Context, customerID string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("GetByStripeCustomerID")
	return f.find(func(u *models.User) bool { return u.StripeCustomerID == customerID })
}

func (f *fakeUsersRepo) update(id string, fn func(*models.User)) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	u, ok := f.byID[id]
	if !ok {
		return common.ErrorNotFound
	}
	fn(u)
	return nil
}

func (f *fakeUsersRepo) UpdateAvatar(ctx context.Context, id string, avatarURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("UpdateAvatar")
	return f.update(id, func(u *models.User) { u.AvatarURL = avatarURL })
}

func (f *fakeUsersRepo) SetStripeCustomerID(ctx context.Context, id string, customerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("SetStripeCustomerID")
	return f.update(id, func(u *models.User) { u.StripeCustomerID = customerID })
}

func (f *fakeUsersRepo) SetPlan(ctx context.Context, id string, plan string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("SetPlan")
	return f.update(id, func(u *models.User) { u.Plan = plan })
}

func (f *fakeUsersRepo) DecrementTrial(ctx context.Context, id string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("DecrementTrial")
	if f.decrementErr != nil {
		return 0, f.decrementErr
	}
	u, ok := f.byID[id]
	if !ok || u.IsPro() || u.TrialRemaining <= 0 {
		return 0, common.ErrorNotFound
	}
	u.TrialRemaining--
	return u.TrialRemaining, nil
}

func (f *fakeUsersRepo) get(id string) *models.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byID[id]
}

type fakeRefreshRepo struct {
	findOut *models.RefreshToken
	findErr error

	delErr     error
	delMissing bool
	createErr  error

	created []string
	deleted []string
	purged  int64
}

func (f *fakeRefreshRepo) Create(ctx context.Context, userID string, token string, validity time.Duration) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, token)
	return nil
}

func (f *fakeRefreshRepo) Find(ctx context.Context, token string) (*models.RefreshToken, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	return f.findOut, nil
}

func (f *fakeRefreshRepo) Delete(ctx context.Context, token string) error {
	if f.delErr != nil {
		return f.delErr
	}
	if f.delMissing {
		return common.ErrorNotFound
	}
	f.deleted = append(f.deleted, token)
	return nil
}

func (f *fakeRefreshRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return f.purged, nil
}

type logEntry struct {
	level string
	msg   string
	args  []any
}

// recordingLogger keeps every entry for assertions.
type recordingLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (l *recordingLogger) add(level, msg string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{level: level, msg: msg, args: args})
}

func (l *recordingLogger) Debug(_ context.Context, msg string, args ...any) { l.add("debug", msg, args) }
func (l *recordingLogger) Info(_ context.Context, msg string, args ...any)  { l.add("info", msg, args) }
func (l *recordingLogger) Warn(_ context.Context, msg string, args ...any)  { l.add("warn", msg, args) }
func (l *recordingLogger) Error(_ context.Context, msg string, args ...any) { l.add("error", msg, args) }
func (l *recordingLogger) With(...any) logging.Logger                       { return l }

type fakeUsageRepo struct {
	events    []models.UsageEvent
	appendErr error
	listErr   error
	lastLimit int
}

func (f *fakeUsageRepo) Append(ctx context.Context, e *models.UsageEvent) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	f.events = append(f.events, *e)
	return nil
}

func (f *fakeUsageRepo) ListByUser(ctx context.Context, userID string, limit int) ([]models.UsageEvent, error) {
	f.lastLimit = limit
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []models.UsageEvent
	for i := len(f.events) - 1; i >= 0 && len(out) < limit; i-- {
		if f.events[i].UserID == userID {
			out = append(out, f.events[i])
		}
	}
	return out, nil
}

type fakeWebhooksRepo struct {
	seen    map[string]bool
	markErr error
}

func (f *fakeWebhooksRepo) MarkProcessed(ctx context.Context, e *models.WebhookEvent) (bool, error) {
	if f.markErr != nil {
		return false, f.markErr
	}
	if f.seen == nil {
		f.seen = map[string]bool{}
	}
	if f.seen[e.ID] {
		return false, nil
	}
	f.seen[e.ID] = true
	return true, nil
}

type fakeRepoManager struct {
	u  *fakeUsersRepo
	r  *fakeRefreshRepo
	ue *fakeUsageRepo
	wh *fakeWebhooksRepo
}

func newFakeRepoManager(users ...*models.User) *fakeRepoManager {
	return &fakeRepoManager{
		u:  newFakeUsersRepo(users...),
		r:  &fakeRefreshRepo{},
		ue: &fakeUsageRepo{},
		wh: &fakeWebhooksRepo{},
	}
}

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error           { return nil }
func (m *fakeRepoManager) Users(db dbx.DBTX) usersrepo.Repository                 { return m.u }
func (m *fakeRepoManager) RefreshTokens(db dbx.DBTX) refreshtokensrepo.Repository { return m.r }
func (m *fakeRepoManager) Usage(db dbx.DBTX) usagerepo.Repository                 { return m.ue }
func (m *fakeRepoManager) Webhooks(db dbx.DBTX) webhooksrepo.Repository           { return m.wh }
