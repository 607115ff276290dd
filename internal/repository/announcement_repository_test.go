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

var announcementRowColumns = []string{"id", "title", "body", "priority", "target_mode", "is_pinned", "starts_at", "expires_at", "created_by", "notified_at", "deleted_at", "created_at", "updated_at"}

func TestAnnouncementCreateWritesRoleTargets(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAnnouncementRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO announcements").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("DELETE FROM announcement_departments").WithArgs(sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM announcement_target_roles").WithArgs(sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("UPDATE announcement_recipients SET is_target = FALSE").WithArgs(sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO announcement_target_roles").WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("DELETE FROM announcement_recipients").WithArgs(sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	a := &models.Announcement{
		Title:    "Audit week",
		Body:     "<p>Prepare your files</p>",
		Priority: models.PriorityHigh,
		Target:   models.TargetRule{Mode: models.TargetRoles, RoleNames: []string{"reviewer", "staff"}, UserIDs: []string{"ignored"}},
	}
	require.NoError(t, repo.Create(context.Background(), a))
	assert.NotEmpty(t, a.ID)
	assert.Equal(t, models.TargetRoles, a.TargetMode)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAnnouncementCreateRollsBackOnTargetFailure(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAnnouncementRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO announcements").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("DELETE FROM announcement_departments").WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	err := repo.Create(context.Background(), &models.Announcement{Target: models.TargetRule{Mode: models.TargetAll}})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAnnouncementGetByIDLoadsUserTargets(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAnnouncementRepository(db)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("FROM announcements WHERE id = $1 AND deleted_at IS NULL")).
		WithArgs("a1").
		WillReturnRows(sqlmock.NewRows(announcementRowColumns).
			AddRow("a1", "Hi", "body", "medium", "users", false, nil, nil, "admin", nil, nil, now, now))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT user_id FROM announcement_recipients WHERE announcement_id = $1 AND is_target")).
		WithArgs("a1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow("u1").AddRow("u2"))

	a, err := repo.GetByID(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, models.TargetUsers, a.Target.Mode)
	assert.Equal(t, []string{"u1", "u2"}, a.Target.UserIDs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAnnouncementMarkReadReturnsStoredTimestamp(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAnnouncementRepository(db)

	first := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	second := first.Add(time.Hour)
	mock.ExpectQuery("INSERT INTO announcement_recipients .* ON CONFLICT \\(announcement_id, user_id\\) DO UPDATE SET read_at = COALESCE").
		WithArgs("a1", "u1", second).
		WillReturnRows(sqlmock.NewRows([]string{"read_at"}).AddRow(first))

	stored, err := repo.MarkRead(context.Background(), "a1", "u1", second)
	require.NoError(t, err)
	assert.True(t, stored.Equal(first))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAnnouncementReadAtMissingRow(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAnnouncementRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT read_at FROM announcement_recipients")).
		WithArgs("a1", "u1").
		WillReturnError(sql.ErrNoRows)

	readAt, err := repo.ReadAt(context.Background(), "a1", "u1")
	require.NoError(t, err)
	assert.Nil(t, readAt)
}

func TestAnnouncementTargetsDepartment(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAnnouncementRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS (SELECT 1 FROM announcement_departments")).
		WithArgs("a1", "d1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := repo.TargetsDepartment(context.Background(), "a1", "d1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAnnouncementTargetsAnyRoleWithoutRoles(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAnnouncementRepository(db)

	ok, err := repo.TargetsAnyRole(context.Background(), "a1", nil)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAnnouncementClaimPublication(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAnnouncementRepository(db)

	at := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE announcements SET notified_at = $2 WHERE id = $1 AND notified_at IS NULL")).
		WithArgs("a1", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE announcements SET notified_at = $2 WHERE id = $1 AND notified_at IS NULL")).
		WithArgs("a1", at).
		WillReturnResult(sqlmock.NewResult(0, 0))

	won, err := repo.ClaimPublication(context.Background(), "a1", at)
	require.NoError(t, err)
	assert.True(t, won)

	won, err = repo.ClaimPublication(context.Background(), "a1", at)
	require.NoError(t, err)
	assert.False(t, won)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAnnouncementListForViewerAppliesTargeting(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAnnouncementRepository(db)

	now := time.Now().UTC()
	viewer := &models.User{ID: "u1", Roles: []string{"staff"}, DepartmentID: stringPtr("d1")}
	columns := append(append([]string{}, announcementRowColumns...), "read_at")

	mock.ExpectQuery(`(?s)SELECT a\.id.*a\.target_mode = 'departments'.*r\.read_at IS NULL.*ORDER BY a\.is_pinned DESC`).
		WithArgs("u1", "d1", sqlmock.AnyArg(), now).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("a1", "Pinned", "b", "low", "all", true, nil, nil, "admin", now, nil, now, now, nil))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM announcements a`).
		WithArgs("u1", "d1", sqlmock.AnyArg(), now).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	rows, total, err := repo.ListForViewer(context.Background(), viewer, models.AnnouncementFilter{ActiveOnly: true, UnreadOnly: true}, now)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].IsPinned)
	assert.Nil(t, rows[0].ReadAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAnnouncementListForAdminSkipsTargeting(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAnnouncementRepository(db)

	now := time.Now().UTC()
	admin := &models.User{ID: "adm", Roles: []string{"admin"}}
	columns := append(append([]string{}, announcementRowColumns...), "read_at")

	mock.ExpectQuery(`SELECT a\.id`).
		WithArgs("adm").
		WillReturnRows(sqlmock.NewRows(columns))
	mock.ExpectQuery(`SELECT COUNT\(\*\)`).
		WithArgs("adm").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	rows, total, err := repo.ListForViewer(context.Background(), admin, models.AnnouncementFilter{}, now)
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Zero(t, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}
