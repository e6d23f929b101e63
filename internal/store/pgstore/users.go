package pgstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
	"github.com/quizdesk/quizstore/types"
)

const userColumns = `username, password, name, role, created_at, last_login`

func scanUser(row scanner) (types.User, error) {
	var (
		user      types.User
		lastLogin sql.NullTime
	)
	if err := row.Scan(
		&user.Username,
		&user.PasswordHash,
		&user.Name,
		&user.Role,
		&user.CreatedAt,
		&lastLogin,
	); err != nil {
		return types.User{}, err
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		user.LastLogin = &t
	}
	return user, nil
}

func (s *Store) LoadUsers(ctx context.Context) (map[string]types.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY username`)
	if err != nil {
		return nil, mapError("load_users", err)
	}
	defer rows.Close()

	users := make(map[string]types.User)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, mapError("load_users", err)
		}
		users[user.Username] = user
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("load_users", err)
	}
	return users, nil
}

// SaveUsers makes the users table equal to users. Removed users take
// their scores with them.
func (s *Store) SaveUsers(ctx context.Context, users map[string]types.User) error {
	return s.withTx(ctx, "save_users", func(tx *sql.Tx) error {
		names := make([]string, 0, len(users))
		for name := range users {
			names = append(names, name)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM users WHERE NOT (username = ANY($1))`, pq.Array(names)); err != nil {
			return err
		}

		const upsert = `
			INSERT INTO users (username, password, name, role, created_at, last_login)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (username) DO UPDATE
			SET password = EXCLUDED.password,
				name = EXCLUDED.name,
				role = EXCLUDED.role,
				created_at = EXCLUDED.created_at,
				last_login = EXCLUDED.last_login`
		stmt, err := tx.PrepareContext(ctx, upsert)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, u := range users {
			if _, err := stmt.ExecContext(ctx, u.Username, u.PasswordHash, u.Name, u.Role, u.CreatedAt, nullTime(u.LastLogin)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) GetUser(ctx context.Context, username string) (types.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username)
	user, err := scanUser(row)
	if err != nil {
		return types.User{}, mapError("get_user", err)
	}
	return user, nil
}

func (s *Store) CreateUser(ctx context.Context, user types.User) error {
	const query = `
		INSERT INTO users (username, password, name, role, created_at, last_login)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := s.db.ExecContext(ctx, query,
		user.Username,
		user.PasswordHash,
		user.Name,
		user.Role,
		user.CreatedAt,
		nullTime(user.LastLogin),
	)
	return mapError("create_user", err)
}

func (s *Store) UpdateUser(ctx context.Context, user types.User) error {
	const query = `
		UPDATE users
		SET password = $1,
			name = $2,
			role = $3,
			last_login = $4
		WHERE username = $5`
	result, err := s.db.ExecContext(ctx, query,
		user.PasswordHash,
		user.Name,
		user.Role,
		nullTime(user.LastLogin),
		user.Username,
	)
	if err != nil {
		return mapError("update_user", err)
	}
	return rowsAffected("update_user", result)
}

// DeleteUser relies on the scores foreign key to cascade.
func (s *Store) DeleteUser(ctx context.Context, username string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE username = $1`, username)
	if err != nil {
		return mapError("delete_user", err)
	}
	return rowsAffected("delete_user", result)
}

func (s *Store) TouchLogin(ctx context.Context, username string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `UPDATE users SET last_login = $1 WHERE username = $2`, at, username)
	if err != nil {
		return mapError("touch_login", err)
	}
	return rowsAffected("touch_login", result)
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
