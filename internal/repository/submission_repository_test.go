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

var submissionRowColumns = []string{"id", "title", "body", "department_id", "author_id", "status", "reviewer_id", "review_note", "budget", "submitted_at", "reviewed_at", "created_at", "updated_at"}

func TestSubmissionGetReportSelectsNullBudget(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSubmissionRepository(db)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("NULL::numeric AS budget, submitted_at, reviewed_at, created_at, updated_at FROM reports WHERE id = $1")).
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows(submissionRowColumns).
			AddRow("r1", "Q1", "body", nil, "u1", "submitted", nil, nil, nil, now, nil, now, now))

	s, err := repo.GetByID(context.Background(), models.ResourceReport, "r1")
	require.NoError(t, err)
	assert.Equal(t, models.ResourceReport, s.Kind)
	assert.Nil(t, s.Budget)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmissionGetProposalReadsBudget(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSubmissionRepository(db)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("review_note, budget, submitted_at, reviewed_at, created_at, updated_at FROM proposals WHERE id = $1")).
		WithArgs("p1").
		WillReturnRows(sqlmock.NewRows(submissionRowColumns).
			AddRow("p1", "Lab", "body", "d1", "u1", "draft", nil, nil, 1500.5, nil, nil, now, now))

	s, err := repo.GetByID(context.Background(), models.ResourceProposal, "p1")
	require.NoError(t, err)
	require.NotNil(t, s.Budget)
	assert.InDelta(t, 1500.5, *s.Budget, 0.001)
}

func TestSubmissionUnknownKind(t *testing.T) {
	db, _, cleanup := newMock(t)
	defer cleanup()
	repo := NewSubmissionRepository(db)

	_, err := repo.GetByID(context.Background(), models.ResourceKind("memo"), "x")
	assert.ErrorIs(t, err, ErrUnknownResource)
}

func TestSubmissionUpdateStatusGuardedByPrevious(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSubmissionRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE reports SET status = $3")).
		WithArgs("r1", models.SubmissionSubmitted, models.SubmissionApproved, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	s := &models.Submission{Kind: models.ResourceReport, ID: "r1", Status: models.SubmissionApproved}
	err := repo.UpdateStatus(context.Background(), s, models.SubmissionSubmitted)
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmissionListFiltersByAuthor(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSubmissionRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM proposals WHERE 1=1 AND author_id = $1 ORDER BY created_at DESC LIMIT 20 OFFSET 0")).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows(submissionRowColumns))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM proposals WHERE 1=1 AND author_id = $1")).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	items, total, err := repo.List(context.Background(), models.ResourceProposal, models.SubmissionFilter{AuthorID: stringPtr("u1")})
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Zero(t, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}
