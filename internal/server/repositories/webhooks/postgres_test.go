package webhooks

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/tryitout/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkProcessed(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostgresRepository(db)
	q := `(?s)INSERT\s+INTO\s+webhook_events\s*\(id,\s*type\).*ON\s+CONFLICT\s*\(id\)\s+DO\s+NOTHING`
	ev := &models.WebhookEvent{ID: "evt_1", Type: "checkout.session.completed"}

	mock.ExpectExec(q).WithArgs("evt_1", "checkout.session.completed").WillReturnResult(sqlmock.NewResult(0, 1))
	fresh, err := repo.MarkProcessed(context.Background(), ev)
	require.NoError(t, err)
	assert.True(t, fresh)

	mock.ExpectExec(q).WithArgs("evt_1", "checkout.session.completed").WillReturnResult(sqlmock.NewResult(0, 0))
	fresh, err = repo.MarkProcessed(context.Background(), ev)
	require.NoError(t, err)
	assert.False(t, fresh)

	mock.ExpectExec(q).WillReturnError(errors.New("db down"))
	_, err = repo.MarkProcessed(context.Background(), ev)
	require.Error(t, err)

	require.NoError(t, mock.ExpectationsWereMet())
}
