package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/staff-portal-api/internal/models"
)

// ErrUnknownResource is returned for a resource kind without a table.
var ErrUnknownResource = errors.New("unknown resource kind")

var submissionTables = map[models.ResourceKind]string{
	models.ResourceReport:   "reports",
	models.ResourceProposal: "proposals",
}

func submissionTable(kind models.ResourceKind) (string, error) {
	table, ok := submissionTables[kind]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownResource, kind)
	}
	return table, nil
}

func submissionColumns(kind models.ResourceKind) string {
	budget := "NULL::numeric AS budget"
	if kind == models.ResourceProposal {
		budget = "budget"
	}
	return "id, title, body, department_id, author_id, status, reviewer_id, review_note, " + budget + ", submitted_at, reviewed_at, created_at, updated_at"
}

// SubmissionRepository persists reports and proposals, which share a shape.
type SubmissionRepository struct {
	db *sqlx.DB
}

func NewSubmissionRepository(db *sqlx.DB) *SubmissionRepository {
	return &SubmissionRepository{db: db}
}

// Create inserts a submission into the table for its kind.
func (r *SubmissionRepository) Create(ctx context.Context, s *models.Submission) error {
	table, err := submissionTable(s.Kind)
	if err != nil {
		return err
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now

	columns := "id, title, body, department_id, author_id, status, submitted_at, created_at, updated_at"
	values := ":id, :title, :body, :department_id, :author_id, :status, :submitted_at, :created_at, :updated_at"
	if s.Kind == models.ResourceProposal {
		columns += ", budget"
		values += ", :budget"
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, columns, values)
	if _, err := r.db.NamedExecContext(ctx, query, s); err != nil {
		return fmt.Errorf("create %s: %w", s.Kind, err)
	}
	return nil
}

// GetByID returns a submission by kind and id.
func (r *SubmissionRepository) GetByID(ctx context.Context, kind models.ResourceKind, id string) (*models.Submission, error) {
	table, err := submissionTable(kind)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = $1", submissionColumns(kind), table)
	var s models.Submission
	if err := r.db.GetContext(ctx, &s, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get %s: %w", kind, err)
	}
	s.Kind = kind
	return &s, nil
}

// List returns submissions of a kind with total count.
func (r *SubmissionRepository) List(ctx context.Context, kind models.ResourceKind, filter models.SubmissionFilter) ([]models.Submission, int, error) {
	table, err := submissionTable(kind)
	if err != nil {
		return nil, 0, err
	}
	where := []string{"1=1"}
	var args []interface{}
	if filter.AuthorID != nil {
		args = append(args, *filter.AuthorID)
		where = append(where, fmt.Sprintf("author_id = $%d", len(args)))
	}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	whereClause := strings.Join(where, " AND ")

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY created_at DESC LIMIT %d OFFSET %d", submissionColumns(kind), table, whereClause, size, offset)
	var items []models.Submission
	if err := r.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list %s: %w", table, err)
	}
	for i := range items {
		items[i].Kind = kind
	}
	var total int
	if err := r.db.GetContext(ctx, &total, fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", table, whereClause), args...); err != nil {
		return nil, 0, fmt.Errorf("count %s: %w", table, err)
	}
	return items, total, nil
}

// UpdateStatus persists a status transition, guarded by the previous status.
// sql.ErrNoRows means the row moved on concurrently.
func (r *SubmissionRepository) UpdateStatus(ctx context.Context, s *models.Submission, from models.SubmissionStatus) error {
	table, err := submissionTable(s.Kind)
	if err != nil {
		return err
	}
	s.UpdatedAt = time.Now().UTC()
	query := fmt.Sprintf(`UPDATE %s SET status = $3, reviewer_id = $4, review_note = $5, submitted_at = $6, reviewed_at = $7, updated_at = $8
WHERE id = $1 AND status = $2`, table)
	res, err := r.db.ExecContext(ctx, query, s.ID, from, s.Status, s.ReviewerID, s.ReviewNote, s.SubmittedAt, s.ReviewedAt, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update %s status: %w", s.Kind, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
