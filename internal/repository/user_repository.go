package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/staff-portal-api/internal/models"
)

const userColumns = `id, email, password_hash, full_name, roles, department_id, chat_user_id, active, created_at, updated_at`

// UserRepository is the user directory used for login and audience resolution.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new instance of UserRepository.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// FindByEmail returns a user by email address.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1 LIMIT 1`
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, email); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find user by email: %w", err)
	}
	return &user, nil
}

// FindByID returns a user by identifier.
func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1 LIMIT 1`
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find user by id: %w", err)
	}
	return &user, nil
}

// Create inserts a new user.
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	const query = `INSERT INTO users (id, email, password_hash, full_name, roles, department_id, chat_user_id, active, created_at, updated_at) VALUES (:id, :email, :password_hash, :full_name, :roles, :department_id, :chat_user_id, :active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, user); err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// ListActiveIDs returns every active user id.
func (r *UserRepository) ListActiveIDs(ctx context.Context) ([]string, error) {
	const query = `SELECT id FROM users WHERE active = TRUE ORDER BY id`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query); err != nil {
		return nil, fmt.Errorf("list active user ids: %w", err)
	}
	return ids, nil
}

// ListIDsByDepartments returns users belonging to any of the departments.
func (r *UserRepository) ListIDsByDepartments(ctx context.Context, departmentIDs []string) ([]string, error) {
	if len(departmentIDs) == 0 {
		return []string{}, nil
	}
	const query = `SELECT id FROM users WHERE department_id = ANY($1) ORDER BY id`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, pq.Array(departmentIDs)); err != nil {
		return nil, fmt.Errorf("list user ids by departments: %w", err)
	}
	return ids, nil
}

// ListIDsByRoles returns users holding any of the roles.
func (r *UserRepository) ListIDsByRoles(ctx context.Context, roles []string) ([]string, error) {
	if len(roles) == 0 {
		return []string{}, nil
	}
	const query = `SELECT id FROM users WHERE roles && $1 ORDER BY id`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, pq.Array(roles)); err != nil {
		return nil, fmt.Errorf("list user ids by roles: %w", err)
	}
	return ids, nil
}

// FindRecipients loads contact details for the given users.
func (r *UserRepository) FindRecipients(ctx context.Context, ids []string) ([]models.Recipient, error) {
	if len(ids) == 0 {
		return []models.Recipient{}, nil
	}
	const query = `SELECT id, email, full_name, chat_user_id FROM users WHERE id = ANY($1)`
	var recipients []models.Recipient
	if err := r.db.SelectContext(ctx, &recipients, query, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("find recipients: %w", err)
	}
	return recipients, nil
}

// ListDepartments returns all departments ordered by name.
func (r *UserRepository) ListDepartments(ctx context.Context) ([]models.Department, error) {
	const query = `SELECT id, name, code, created_at, updated_at FROM departments ORDER BY name`
	var departments []models.Department
	if err := r.db.SelectContext(ctx, &departments, query); err != nil {
		return nil, fmt.Errorf("list departments: %w", err)
	}
	return departments, nil
}
