package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/staff-portal-api/internal/models"
	"github.com/noah-isme/staff-portal-api/pkg/database"
)

const announcementColumns = `id, title, body, priority, target_mode, is_pinned, starts_at, expires_at, created_by, notified_at, deleted_at, created_at, updated_at`

// priorityRank mirrors models.AnnouncementPriority.Rank for ORDER BY.
const priorityRank = `CASE a.priority WHEN 'urgent' THEN 4 WHEN 'high' THEN 3 WHEN 'medium' THEN 2 WHEN 'low' THEN 1 ELSE 0 END`

// AnnouncementRepository provides persistence for announcements, their
// target rules and per-user read marks.
type AnnouncementRepository struct {
	db *sqlx.DB
}

// NewAnnouncementRepository creates the repository.
func NewAnnouncementRepository(db *sqlx.DB) *AnnouncementRepository {
	return &AnnouncementRepository{db: db}
}

// Create inserts an announcement together with its target rule.
func (r *AnnouncementRepository) Create(ctx context.Context, announcement *models.Announcement) error {
	if announcement.ID == "" {
		announcement.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if announcement.CreatedAt.IsZero() {
		announcement.CreatedAt = now
	}
	announcement.UpdatedAt = now
	announcement.TargetMode = announcement.Target.Mode

	return database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		query := `INSERT INTO announcements (id, title, body, priority, target_mode, is_pinned, starts_at, expires_at, created_by, created_at, updated_at)
VALUES (:id, :title, :body, :priority, :target_mode, :is_pinned, :starts_at, :expires_at, :created_by, :created_at, :updated_at)`
		if _, err := tx.NamedExecContext(ctx, query, announcement); err != nil {
			return fmt.Errorf("create announcement: %w", err)
		}
		return replaceTargets(ctx, tx, announcement.ID, announcement.Target, now)
	})
}

// Update modifies an announcement and replaces its target rule. Read marks survive.
func (r *AnnouncementRepository) Update(ctx context.Context, announcement *models.Announcement) error {
	now := time.Now().UTC()
	announcement.UpdatedAt = now
	announcement.TargetMode = announcement.Target.Mode

	return database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		query := `UPDATE announcements SET title = :title, body = :body, priority = :priority, target_mode = :target_mode,
is_pinned = :is_pinned, starts_at = :starts_at, expires_at = :expires_at, updated_at = :updated_at
WHERE id = :id AND deleted_at IS NULL`
		res, err := tx.NamedExecContext(ctx, query, announcement)
		if err != nil {
			return fmt.Errorf("update announcement: %w", err)
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			return sql.ErrNoRows
		}
		return replaceTargets(ctx, tx, announcement.ID, announcement.Target, now)
	})
}

func replaceTargets(ctx context.Context, tx *sqlx.Tx, id string, rule models.TargetRule, now time.Time) error {
	rule = rule.Normalized()

	if _, err := tx.ExecContext(ctx, `DELETE FROM announcement_departments WHERE announcement_id = $1`, id); err != nil {
		return fmt.Errorf("clear target departments: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM announcement_target_roles WHERE announcement_id = $1`, id); err != nil {
		return fmt.Errorf("clear target roles: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE announcement_recipients SET is_target = FALSE WHERE announcement_id = $1 AND is_target`, id); err != nil {
		return fmt.Errorf("clear target users: %w", err)
	}

	if len(rule.DepartmentIDs) > 0 {
		const query = `INSERT INTO announcement_departments (announcement_id, department_id) SELECT $1, unnest($2::uuid[]) ON CONFLICT DO NOTHING`
		if _, err := tx.ExecContext(ctx, query, id, pq.Array(rule.DepartmentIDs)); err != nil {
			return fmt.Errorf("insert target departments: %w", err)
		}
	}
	if len(rule.RoleNames) > 0 {
		const query = `INSERT INTO announcement_target_roles (announcement_id, role) SELECT $1, unnest($2::text[]) ON CONFLICT DO NOTHING`
		if _, err := tx.ExecContext(ctx, query, id, pq.Array(rule.RoleNames)); err != nil {
			return fmt.Errorf("insert target roles: %w", err)
		}
	}
	if len(rule.UserIDs) > 0 {
		const query = `INSERT INTO announcement_recipients (announcement_id, user_id, is_target, created_at) SELECT $1, unnest($2::uuid[]), TRUE, $3
ON CONFLICT (announcement_id, user_id) DO UPDATE SET is_target = TRUE`
		if _, err := tx.ExecContext(ctx, query, id, pq.Array(rule.UserIDs), now); err != nil {
			return fmt.Errorf("insert target users: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM announcement_recipients WHERE announcement_id = $1 AND NOT is_target AND read_at IS NULL`, id); err != nil {
		return fmt.Errorf("prune recipients: %w", err)
	}
	return nil
}

// SoftDelete hides an announcement.
func (r *AnnouncementRepository) SoftDelete(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE announcements SET deleted_at = $2, updated_at = $2 WHERE id = $1 AND deleted_at IS NULL`, id, at)
	if err != nil {
		return fmt.Errorf("delete announcement: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// GetByID returns a live announcement with its target rule loaded.
func (r *AnnouncementRepository) GetByID(ctx context.Context, id string) (*models.Announcement, error) {
	query := `SELECT ` + announcementColumns + ` FROM announcements WHERE id = $1 AND deleted_at IS NULL`
	var announcement models.Announcement
	if err := r.db.GetContext(ctx, &announcement, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get announcement: %w", err)
	}
	if err := r.LoadTarget(ctx, &announcement); err != nil {
		return nil, err
	}
	return &announcement, nil
}

// LoadTarget fills announcement.Target from the target tables.
func (r *AnnouncementRepository) LoadTarget(ctx context.Context, announcement *models.Announcement) error {
	rule := models.TargetRule{Mode: announcement.TargetMode}
	var err error
	switch announcement.TargetMode {
	case models.TargetDepartments:
		err = r.db.SelectContext(ctx, &rule.DepartmentIDs, `SELECT department_id FROM announcement_departments WHERE announcement_id = $1 ORDER BY department_id`, announcement.ID)
	case models.TargetUsers:
		err = r.db.SelectContext(ctx, &rule.UserIDs, `SELECT user_id FROM announcement_recipients WHERE announcement_id = $1 AND is_target ORDER BY user_id`, announcement.ID)
	case models.TargetRoles:
		err = r.db.SelectContext(ctx, &rule.RoleNames, `SELECT role FROM announcement_target_roles WHERE announcement_id = $1 ORDER BY role`, announcement.ID)
	}
	if err != nil {
		return fmt.Errorf("load announcement target: %w", err)
	}
	announcement.Target = rule
	return nil
}

// TargetsDepartment reports whether the announcement targets the department.
func (r *AnnouncementRepository) TargetsDepartment(ctx context.Context, announcementID, departmentID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM announcement_departments WHERE announcement_id = $1 AND department_id = $2)`
	return r.exists(ctx, "target department", query, announcementID, departmentID)
}

// TargetsUser reports whether the user is on the announcement's explicit list.
func (r *AnnouncementRepository) TargetsUser(ctx context.Context, announcementID, userID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM announcement_recipients WHERE announcement_id = $1 AND user_id = $2 AND is_target)`
	return r.exists(ctx, "target user", query, announcementID, userID)
}

// TargetsAnyRole reports whether any of roles is targeted.
func (r *AnnouncementRepository) TargetsAnyRole(ctx context.Context, announcementID string, roles []string) (bool, error) {
	if len(roles) == 0 {
		return false, nil
	}
	const query = `SELECT EXISTS (SELECT 1 FROM announcement_target_roles WHERE announcement_id = $1 AND role = ANY($2))`
	return r.exists(ctx, "target role", query, announcementID, pq.Array(roles))
}

func (r *AnnouncementRepository) exists(ctx context.Context, what, query string, args ...interface{}) (bool, error) {
	var ok bool
	if err := r.db.GetContext(ctx, &ok, query, args...); err != nil {
		return false, fmt.Errorf("check %s: %w", what, err)
	}
	return ok, nil
}

// ReadAt returns when the user read the announcement, or nil.
func (r *AnnouncementRepository) ReadAt(ctx context.Context, announcementID, userID string) (*time.Time, error) {
	const query = `SELECT read_at FROM announcement_recipients WHERE announcement_id = $1 AND user_id = $2`
	var readAt sql.NullTime
	if err := r.db.GetContext(ctx, &readAt, query, announcementID, userID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get read mark: %w", err)
	}
	if !readAt.Valid {
		return nil, nil
	}
	return &readAt.Time, nil
}

// MarkRead records a read mark. The first stored read_at wins and is returned.
func (r *AnnouncementRepository) MarkRead(ctx context.Context, announcementID, userID string, at time.Time) (time.Time, error) {
	const query = `INSERT INTO announcement_recipients (announcement_id, user_id, is_target, read_at, created_at)
VALUES ($1, $2, FALSE, $3, $3)
ON CONFLICT (announcement_id, user_id) DO UPDATE SET read_at = COALESCE(announcement_recipients.read_at, EXCLUDED.read_at)
RETURNING read_at`
	var stored time.Time
	if err := r.db.GetContext(ctx, &stored, query, announcementID, userID, at); err != nil {
		return time.Time{}, fmt.Errorf("mark announcement read: %w", err)
	}
	return stored, nil
}

// ListForViewer returns the announcements a user may see, pinned first, then
// by priority and recency. Admin viewers see everything that is not deleted.
func (r *AnnouncementRepository) ListForViewer(ctx context.Context, viewer *models.User, filter models.AnnouncementFilter, now time.Time) ([]models.AnnouncementListRow, int, error) {
	args := []interface{}{viewer.ID}
	where := []string{"a.deleted_at IS NULL"}

	if !viewer.IsAdmin() {
		department := ""
		if viewer.DepartmentID != nil {
			department = *viewer.DepartmentID
		}
		args = append(args, department, pq.Array([]string(viewer.Roles)))
		where = append(where, `(a.target_mode = 'all'
 OR (a.target_mode = 'departments' AND EXISTS (SELECT 1 FROM announcement_departments d WHERE d.announcement_id = a.id AND d.department_id::text = $2))
 OR (a.target_mode = 'users' AND COALESCE(r.is_target, FALSE))
 OR (a.target_mode = 'roles' AND EXISTS (SELECT 1 FROM announcement_target_roles t WHERE t.announcement_id = a.id AND t.role = ANY($3))))`)
	}
	if filter.ActiveOnly {
		args = append(args, now)
		n := len(args)
		where = append(where, fmt.Sprintf("(a.starts_at IS NULL OR a.starts_at <= $%d) AND (a.expires_at IS NULL OR a.expires_at >= $%d)", n, n))
	}
	if filter.UnreadOnly {
		where = append(where, "r.read_at IS NULL")
	}

	base := `FROM announcements a LEFT JOIN announcement_recipients r ON r.announcement_id = a.id AND r.user_id = $1 WHERE ` + strings.Join(where, " AND ")

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT a.id, a.title, a.body, a.priority, a.target_mode, a.is_pinned, a.starts_at, a.expires_at, a.created_by, a.notified_at, a.deleted_at, a.created_at, a.updated_at, r.read_at
%s
ORDER BY a.is_pinned DESC, %s DESC, a.created_at DESC
LIMIT %d OFFSET %d`, base, priorityRank, size, offset)
	var rows []models.AnnouncementListRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list announcements: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+base, args...); err != nil {
		return nil, 0, fmt.Errorf("count announcements: %w", err)
	}
	return rows, total, nil
}

// ListDueForPublication returns live, unpublished announcements whose window is open.
func (r *AnnouncementRepository) ListDueForPublication(ctx context.Context, now time.Time, limit int) ([]models.Announcement, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + announcementColumns + ` FROM announcements
WHERE deleted_at IS NULL AND notified_at IS NULL
AND (starts_at IS NULL OR starts_at <= $1) AND (expires_at IS NULL OR expires_at >= $1)
ORDER BY starts_at NULLS FIRST, created_at LIMIT $2`
	var announcements []models.Announcement
	if err := r.db.SelectContext(ctx, &announcements, query, now, limit); err != nil {
		return nil, fmt.Errorf("list due announcements: %w", err)
	}
	return announcements, nil
}

// ClaimPublication sets notified_at if nobody else has. It reports whether the
// caller won the claim.
func (r *AnnouncementRepository) ClaimPublication(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE announcements SET notified_at = $2 WHERE id = $1 AND notified_at IS NULL AND deleted_at IS NULL`, id, at)
	if err != nil {
		return false, fmt.Errorf("claim announcement publication: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim announcement publication: %w", err)
	}
	return affected == 1, nil
}

// ReleasePublication clears a claim so the scheduler tries again.
func (r *AnnouncementRepository) ReleasePublication(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE announcements SET notified_at = NULL WHERE id = $1`, id); err != nil {
		return fmt.Errorf("release announcement publication: %w", err)
	}
	return nil
}

// ReadReceipts lists the given users with their read mark for the announcement.
func (r *AnnouncementRepository) ReadReceipts(ctx context.Context, announcementID string, userIDs []string) ([]models.ReadReceipt, error) {
	if len(userIDs) == 0 {
		return []models.ReadReceipt{}, nil
	}
	const query = `SELECT u.id AS user_id, u.full_name, u.email, d.name AS department_name, r.read_at
FROM users u
LEFT JOIN departments d ON d.id = u.department_id
LEFT JOIN announcement_recipients r ON r.announcement_id = $1 AND r.user_id = u.id
WHERE u.id = ANY($2)
ORDER BY u.full_name`
	var receipts []models.ReadReceipt
	if err := r.db.SelectContext(ctx, &receipts, query, announcementID, pq.Array(userIDs)); err != nil {
		return nil, fmt.Errorf("list read receipts: %w", err)
	}
	return receipts, nil
}
