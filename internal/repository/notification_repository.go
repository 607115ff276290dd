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
)

const notificationColumns = `id, user_id, type, title, message, data, subject_type, subject_id, read_at, created_at`

// NotificationRepository persists in-app notifications.
type NotificationRepository struct {
	db *sqlx.DB
}

func NewNotificationRepository(db *sqlx.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Create inserts a notification row.
func (r *NotificationRepository) Create(ctx context.Context, n *models.Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	if n.Data == nil {
		n.Data = models.JSONMap{}
	}
	const query = `INSERT INTO notifications (id, user_id, type, title, message, data, subject_type, subject_id, created_at)
VALUES (:id, :user_id, :type, :title, :message, :data, :subject_type, :subject_id, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, n); err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}

// GetByID returns a notification by identifier.
func (r *NotificationRepository) GetByID(ctx context.Context, id string) (*models.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE id = $1`
	var n models.Notification
	if err := r.db.GetContext(ctx, &n, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get notification: %w", err)
	}
	return &n, nil
}

// ListByUser returns a page of the user's inbox, newest first.
func (r *NotificationRepository) ListByUser(ctx context.Context, userID string, filter models.NotificationFilter) ([]models.Notification, int, error) {
	where := []string{"user_id = $1"}
	args := []interface{}{userID}
	if filter.UnreadOnly {
		where = append(where, "read_at IS NULL")
	}
	if filter.Type != nil {
		args = append(args, *filter.Type)
		where = append(where, fmt.Sprintf("type = $%d", len(args)))
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

	query := fmt.Sprintf(`SELECT %s FROM notifications WHERE %s ORDER BY created_at DESC LIMIT %d OFFSET %d`, notificationColumns, whereClause, size, offset)
	var items []models.Notification
	if err := r.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM notifications WHERE "+whereClause, args...); err != nil {
		return nil, 0, fmt.Errorf("count notifications: %w", err)
	}
	return items, total, nil
}

// CountUnread returns the number of unread notifications.
func (r *NotificationRepository) CountUnread(ctx context.Context, userID string) (int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND read_at IS NULL`, userID); err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return total, nil
}

// MarkRead sets read_at once; later calls keep the first value.
func (r *NotificationRepository) MarkRead(ctx context.Context, id, userID string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE notifications SET read_at = COALESCE(read_at, $3) WHERE id = $1 AND user_id = $2`, id, userID, at)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// MarkAllRead marks every unread notification of the user and returns the count.
func (r *NotificationRepository) MarkAllRead(ctx context.Context, userID string, at time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE notifications SET read_at = $2 WHERE user_id = $1 AND read_at IS NULL`, userID, at)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	affected, _ := res.RowsAffected()
	return affected, nil
}

// Delete removes a notification owned by the user.
func (r *NotificationRepository) Delete(ctx context.Context, id, userID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM notifications WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete notification: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// PreferenceRepository persists per-user notification preferences.
type PreferenceRepository struct {
	db *sqlx.DB
}

func NewPreferenceRepository(db *sqlx.DB) *PreferenceRepository {
	return &PreferenceRepository{db: db}
}

// Get returns the stored preference or sql.ErrNoRows.
func (r *PreferenceRepository) Get(ctx context.Context, userID string) (*models.NotificationPreference, error) {
	const query = `SELECT user_id, email_enabled, types, updated_at FROM notification_preferences WHERE user_id = $1`
	var pref models.NotificationPreference
	if err := r.db.GetContext(ctx, &pref, query, userID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get notification preference: %w", err)
	}
	return &pref, nil
}

// GetMany loads stored preferences keyed by user id. Users without a row are absent.
func (r *PreferenceRepository) GetMany(ctx context.Context, userIDs []string) (map[string]models.NotificationPreference, error) {
	out := make(map[string]models.NotificationPreference, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	const query = `SELECT user_id, email_enabled, types, updated_at FROM notification_preferences WHERE user_id = ANY($1)`
	var prefs []models.NotificationPreference
	if err := r.db.SelectContext(ctx, &prefs, query, pq.Array(userIDs)); err != nil {
		return nil, fmt.Errorf("list notification preferences: %w", err)
	}
	for _, p := range prefs {
		out[p.UserID] = p
	}
	return out, nil
}

// Upsert stores the preference row.
func (r *PreferenceRepository) Upsert(ctx context.Context, pref *models.NotificationPreference) error {
	pref.UpdatedAt = time.Now().UTC()
	const query = `INSERT INTO notification_preferences (user_id, email_enabled, types, updated_at)
VALUES (:user_id, :email_enabled, :types, :updated_at)
ON CONFLICT (user_id) DO UPDATE SET email_enabled = EXCLUDED.email_enabled, types = EXCLUDED.types, updated_at = EXCLUDED.updated_at`
	if _, err := r.db.NamedExecContext(ctx, query, pref); err != nil {
		return fmt.Errorf("upsert notification preference: %w", err)
	}
	return nil
}
