package pgstore

import (
	"context"
	"database/sql"

	"github.com/lib/pq"
	"github.com/quizdesk/quizstore/types"
)

func scanSetting(row scanner) (types.Setting, error) {
	var (
		setting types.Setting
		value   []byte
	)
	if err := row.Scan(&setting.Key, &value, &setting.UpdatedAt); err != nil {
		return types.Setting{}, err
	}
	setting.Value = value
	return setting, nil
}

func (s *Store) LoadSettings(ctx context.Context) (map[string]types.Setting, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value, updated_at FROM settings ORDER BY key`)
	if err != nil {
		return nil, mapError("load_settings", err)
	}
	defer rows.Close()

	settings := make(map[string]types.Setting)
	for rows.Next() {
		setting, err := scanSetting(rows)
		if err != nil {
			return nil, mapError("load_settings", err)
		}
		settings[setting.Key] = setting
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("load_settings", err)
	}
	return settings, nil
}

// SaveSettings makes the settings table equal to settings.
func (s *Store) SaveSettings(ctx context.Context, settings map[string]types.Setting) error {
	return s.withTx(ctx, "save_settings", func(tx *sql.Tx) error {
		keys := make([]string, 0, len(settings))
		for key := range settings {
			keys = append(keys, key)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM settings WHERE NOT (key = ANY($1))`, pq.Array(keys)); err != nil {
			return err
		}
		for _, setting := range settings {
			if err := upsertSetting(ctx, tx, setting); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) GetSetting(ctx context.Context, key string) (types.Setting, error) {
	row := s.db.QueryRowContext(ctx, `SELECT key, value, updated_at FROM settings WHERE key = $1`, key)
	setting, err := scanSetting(row)
	if err != nil {
		return types.Setting{}, mapError("get_setting", err)
	}
	return setting, nil
}

func (s *Store) PutSetting(ctx context.Context, setting types.Setting) error {
	return mapError("put_setting", upsertSetting(ctx, s.db, setting))
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertSetting(ctx context.Context, ex execer, setting types.Setting) error {
	const query = `
		INSERT INTO settings (key, value, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value,
			updated_at = EXCLUDED.updated_at`
	_, err := ex.ExecContext(ctx, query, setting.Key, string(setting.Value), setting.UpdatedAt)
	return err
}
