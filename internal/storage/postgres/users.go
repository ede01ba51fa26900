package postgres

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/hongminglow/qrpay/internal/models"
	"github.com/hongminglow/qrpay/internal/storage"
)

const userColumns = `id, email, phone, full_name, role, balance, active, two_factor_enabled, password_hash, created_at, updated_at`

// CreateUser inserts a new user row.
func (s *Store) CreateUser(ctx context.Context, user models.User) (models.User, error) {
	query := `
		INSERT INTO users (id, email, phone, full_name, role, balance, active, two_factor_enabled, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		RETURNING ` + userColumns
	row := s.db(ctx).QueryRow(ctx, query,
		user.ID, user.Email, user.Phone, user.FullName, user.Role, user.Balance,
		user.Active, user.TwoFactorEnabled, user.PasswordHash, user.CreatedAt,
	)
	created, err := scanUser(row)
	if err != nil {
		return models.User{}, classify("create user", err)
	}
	return created, nil
}

// GetUser fetches a user by id.
func (s *Store) GetUser(ctx context.Context, id string) (models.User, error) {
	row := s.db(ctx).QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	user, err := scanUser(row)
	return user, classify("get user", err)
}

// FindByEmail fetches a user by email address.
func (s *Store) FindByEmail(ctx context.Context, email string) (models.User, error) {
	row := s.db(ctx).QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	user, err := scanUser(row)
	return user, classify("find user by email", err)
}

// LockUsers takes FOR UPDATE row locks in ascending id order. The byte-wise
// collation keeps the database order identical to Go's string order.
func (s *Store) LockUsers(ctx context.Context, ids ...string) (map[string]models.User, error) {
	if getTx(ctx) == nil {
		return nil, fmt.Errorf("lock users: called outside a transaction")
	}
	sorted := dedupe(ids)
	rows, err := s.db(ctx).Query(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ANY($1) ORDER BY id COLLATE "C" FOR UPDATE`, sorted)
	if err != nil {
		return nil, classify("lock users", err)
	}
	users, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.User, error) {
		return scanUser(row)
	})
	if err != nil {
		return nil, classify("lock users", err)
	}
	if len(users) != len(sorted) {
		return nil, storage.ErrNotFound
	}
	out := make(map[string]models.User, len(users))
	for _, u := range users {
		out[u.ID] = u
	}
	return out, nil
}

// UpdateBalance overwrites a balance. Callers hold the row lock.
func (s *Store) UpdateBalance(ctx context.Context, id string, balance int64, at time.Time) error {
	tag, err := s.db(ctx).Exec(ctx, `UPDATE users SET balance = $2, updated_at = $3 WHERE id = $1`, id, balance, at)
	if err != nil {
		return classify("update balance", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// SetTwoFactor toggles login step-up for a user.
func (s *Store) SetTwoFactor(ctx context.Context, id string, enabled bool, at time.Time) error {
	tag, err := s.db(ctx).Exec(ctx, `UPDATE users SET two_factor_enabled = $2, updated_at = $3 WHERE id = $1`, id, enabled, at)
	if err != nil {
		return classify("set two factor", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// UpdateProfile rewrites name and phone. The phone unique index reports a
// clash as ErrAlreadyExists.
func (s *Store) UpdateProfile(ctx context.Context, id, fullName, phone string, at time.Time) error {
	tag, err := s.db(ctx).Exec(ctx,
		`UPDATE users SET full_name = $2, phone = $3, updated_at = $4 WHERE id = $1`, id, fullName, phone, at)
	if err != nil {
		return classify("update profile", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// SearchUsers matches query as a substring of name, email or phone.
func (s *Store) SearchUsers(ctx context.Context, query, excludeID string, limit int) ([]models.User, error) {
	rows, err := s.db(ctx).Query(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE id <> $1 AND active
		  AND (full_name ILIKE $2 OR email ILIKE $2 OR phone ILIKE $2)
		ORDER BY full_name, id
		LIMIT $3`, excludeID, "%"+likeEscaper.Replace(query)+"%", limit)
	if err != nil {
		return nil, classify("search users", err)
	}
	users, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.User, error) {
		return scanUser(row)
	})
	if err != nil {
		return nil, classify("search users", err)
	}
	return users, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func scanUser(row pgx.Row) (models.User, error) {
	var user models.User
	err := row.Scan(&user.ID, &user.Email, &user.Phone, &user.FullName, &user.Role, &user.Balance,
		&user.Active, &user.TwoFactorEnabled, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt)
	return user, err
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
