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

var commentRowColumns = []string{"id", "commentable_type", "commentable_id", "parent_id", "author_id", "author_name", "body", "created_at", "updated_at"}

func TestCommentCreateAssignsID(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewCommentRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO comments")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	comment := &models.Comment{CommentableType: models.ResourceReport, CommentableID: "r1", AuthorID: "u2", Body: "Agreed"}
	require.NoError(t, repo.Create(context.Background(), comment))
	assert.NotEmpty(t, comment.ID)
	assert.False(t, comment.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommentGetByIDNotFound(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewCommentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE c.id = $1")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommentListByResource(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewCommentRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows(commentRowColumns).
		AddRow("c1", "proposal", "p1", nil, "u1", "Ann", "First", now, now).
		AddRow("c2", "proposal", "p1", "c1", "u2", "Bea", "Reply", now.Add(time.Minute), now.Add(time.Minute))
	mock.ExpectQuery(regexp.QuoteMeta("WHERE c.commentable_type = $1 AND c.commentable_id = $2 ORDER BY c.created_at ASC")).
		WithArgs(models.ResourceProposal, "p1").
		WillReturnRows(rows)

	comments, err := repo.ListByResource(context.Background(), models.ResourceRef{Kind: models.ResourceProposal, ID: "p1"})
	require.NoError(t, err)
	require.Len(t, comments, 2)
	assert.Nil(t, comments[0].ParentID)
	require.NotNil(t, comments[1].ParentID)
	assert.Equal(t, "c1", *comments[1].ParentID)
	assert.Equal(t, "Bea", comments[1].AuthorName)
	assert.NoError(t, mock.ExpectationsWereMet())
}
