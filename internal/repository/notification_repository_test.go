package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/staff-portal-api/internal/models"
)

func TestNotificationCreate(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewNotificationRepository(db)

	mock.ExpectExec("INSERT INTO notifications").WillReturnResult(sqlmock.NewResult(1, 1))

	n := &models.Notification{UserID: "u1", Type: models.NotificationComment, Title: "New comment", Message: "Ann commented"}
	require.NoError(t, repo.Create(context.Background(), n))
	assert.NotEmpty(t, n.ID)
	assert.NotNil(t, n.Data)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationListByUserUnread(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewNotificationRepository(db)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("FROM notifications WHERE user_id = $1 AND read_at IS NULL ORDER BY created_at DESC LIMIT 20 OFFSET 0")).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "type", "title", "message", "data", "subject_type", "subject_id", "read_at", "created_at"}).
			AddRow("n1", "u1", "announcement", "Title", "Msg", []byte(`{"announcement_id":"a1"}`), "announcement", "a1", nil, now))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND read_at IS NULL")).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	items, total, err := repo.ListByUser(context.Background(), "u1", models.NotificationFilter{UnreadOnly: true})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, items, 1)
	assert.Equal(t, "a1", items[0].Data["announcement_id"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationMarkReadNotOwned(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewNotificationRepository(db)

	at := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE notifications SET read_at = COALESCE(read_at, $3) WHERE id = $1 AND user_id = $2")).
		WithArgs("n1", "intruder", at).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.MarkRead(context.Background(), "n1", "intruder", at)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestNotificationMarkAllRead(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewNotificationRepository(db)

	at := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE notifications SET read_at = $2 WHERE user_id = $1 AND read_at IS NULL")).
		WithArgs("u1", at).
		WillReturnResult(sqlmock.NewResult(0, 3))

	count, err := repo.MarkAllRead(context.Background(), "u1", at)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestPreferenceGetManyKeysByUser(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewPreferenceRepository(db)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("FROM notification_preferences WHERE user_id = ANY($1)")).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "email_enabled", "types", "updated_at"}).
			AddRow("u1", false, []byte(`{"comment":false}`), now))

	prefs, err := repo.GetMany(context.Background(), []string{"u1", "u2"})
	require.NoError(t, err)
	require.Contains(t, prefs, "u1")
	assert.NotContains(t, prefs, "u2")
	assert.False(t, prefs["u1"].EmailEnabled)
	assert.False(t, prefs["u1"].Allows(models.NotificationComment))
	assert.True(t, prefs["u1"].Allows(models.NotificationSystem))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPreferenceUpsert(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewPreferenceRepository(db)

	mock.ExpectExec("INSERT INTO notification_preferences .* ON CONFLICT \\(user_id\\) DO UPDATE").
		WillReturnResult(sqlmock.NewResult(1, 1))

	pref := models.DefaultPreference("u1")
	require.NoError(t, repo.Upsert(context.Background(), &pref))
	assert.False(t, pref.UpdatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}
