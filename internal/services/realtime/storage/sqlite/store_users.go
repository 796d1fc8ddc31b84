package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/safehaven-connect/safehaven/internal/services/realtime/domain"
	"github.com/safehaven-connect/safehaven/internal/services/realtime/storage"
)

// GetUser returns one directory entry.
func (s *Store) GetUser(ctx context.Context, userID string) (domain.User, error) {
	if err := s.ready(ctx); err != nil {
		return domain.User{}, err
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.User{}, fmt.Errorf("user id is required")
	}
	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT id, email, role, first_name, last_name, phone, organization,
		        shelter_id, is_active, last_login, created_at
		   FROM users
		  WHERE id = ?`,
		userID,
	)

	var (
		user      domain.User
		role      string
		isActive  int
		lastLogin sql.NullInt64
		createdAt int64
	)
	err := row.Scan(
		&user.ID,
		&user.Email,
		&role,
		&user.Profile.FirstName,
		&user.Profile.LastName,
		&user.Profile.Phone,
		&user.Profile.Organization,
		&user.ShelterID,
		&isActive,
		&lastLogin,
		&createdAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.User{}, storage.ErrNotFound
		}
		return domain.User{}, fmt.Errorf("get user: %w", err)
	}
	user.Role = domain.Role(role)
	user.IsActive = isActive != 0
	user.LastLogin = fromNullMillis(lastLogin)
	user.CreatedAt = fromMillis(createdAt)
	return user, nil
}

// PutUser upserts a directory entry.
func (s *Store) PutUser(ctx context.Context, user domain.User) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(user.ID) == "" {
		return fmt.Errorf("user id is required")
	}
	createdAt := user.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	isActive := 0
	if user.IsActive {
		isActive = 1
	}
	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO users (
		   id, email, role, first_name, last_name, phone, organization,
		   shelter_id, is_active, last_login, created_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   email = excluded.email,
		   role = excluded.role,
		   first_name = excluded.first_name,
		   last_name = excluded.last_name,
		   phone = excluded.phone,
		   organization = excluded.organization,
		   shelter_id = excluded.shelter_id,
		   is_active = excluded.is_active`,
		user.ID,
		user.Email,
		string(user.Role),
		user.Profile.FirstName,
		user.Profile.LastName,
		user.Profile.Phone,
		user.Profile.Organization,
		user.ShelterID,
		isActive,
		toNullMillis(user.LastLogin),
		toMillis(createdAt),
	)
	if err != nil {
		return fmt.Errorf("put user: %w", err)
	}
	return nil
}

// RecordLogin stamps the user's last login.
func (s *Store) RecordLogin(ctx context.Context, userID string, at time.Time) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	result, err := s.sqlDB.ExecContext(ctx, `UPDATE users SET last_login = ? WHERE id = ?`, toMillis(at), strings.TrimSpace(userID))
	if err != nil {
		return fmt.Errorf("record login: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("record login rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}
