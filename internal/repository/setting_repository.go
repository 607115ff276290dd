package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// SettingRepository reads key/value site settings.
type SettingRepository struct {
	db *sqlx.DB
}

func NewSettingRepository(db *sqlx.DB) *SettingRepository {
	return &SettingRepository{db: db}
}

// GetMany returns the stored values for keys; absent keys are omitted.
func (r *SettingRepository) GetMany(ctx context.Context, keys []string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	const query = `SELECT key, value FROM site_settings WHERE key = ANY($1)`
	rows, err := r.db.QueryxContext(ctx, query, pq.Array(keys))
	if err != nil {
		return nil, fmt.Errorf("load site settings: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan site setting: %w", err)
		}
		out[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate site settings: %w", err)
	}
	return out, nil
}
