package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/staff-portal-api/internal/models"
)

const commentSelect = `SELECT c.id, c.commentable_type, c.commentable_id, c.parent_id, c.author_id, COALESCE(u.full_name, '') AS author_name, c.body, c.created_at, c.updated_at
FROM comments c LEFT JOIN users u ON u.id = c.author_id`

// CommentRepository persists comments on reports and proposals.
type CommentRepository struct {
	db *sqlx.DB
}

func NewCommentRepository(db *sqlx.DB) *CommentRepository {
	return &CommentRepository{db: db}
}

// Create inserts a comment.
func (r *CommentRepository) Create(ctx context.Context, comment *models.Comment) error {
	if comment.ID == "" {
		comment.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if comment.CreatedAt.IsZero() {
		comment.CreatedAt = now
	}
	comment.UpdatedAt = now
	const query = `INSERT INTO comments (id, commentable_type, commentable_id, parent_id, author_id, body, created_at, updated_at)
VALUES (:id, :commentable_type, :commentable_id, :parent_id, :author_id, :body, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, comment); err != nil {
		return fmt.Errorf("create comment: %w", err)
	}
	return nil
}

// GetByID returns a comment by identifier.
func (r *CommentRepository) GetByID(ctx context.Context, id string) (*models.Comment, error) {
	var comment models.Comment
	if err := r.db.GetContext(ctx, &comment, commentSelect+` WHERE c.id = $1`, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get comment: %w", err)
	}
	return &comment, nil
}

// ListByResource returns the thread for a resource, oldest first.
func (r *CommentRepository) ListByResource(ctx context.Context, ref models.ResourceRef) ([]models.Comment, error) {
	var comments []models.Comment
	query := commentSelect + ` WHERE c.commentable_type = $1 AND c.commentable_id = $2 ORDER BY c.created_at ASC`
	if err := r.db.SelectContext(ctx, &comments, query, ref.Kind, ref.ID); err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	return comments, nil
}
