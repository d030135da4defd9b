// Package postgres backs the engine's user directory with a pgx pool. The
// engine owns exactly two writes here: the password hash after a reset or
// upgrade, and the login address after a verified email change.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nightcap-social/nightcap"
)

// uniqueViolation is the postgres error code raised when an email change
// collides with an existing account.
const uniqueViolation = "23505"

// ErrEmailTaken reports an email-change collision.
var ErrEmailTaken = errors.New("email already in use")

type Directory struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Directory {
	return &Directory{pool: pool}
}

var _ nightcap.Directory = (*Directory)(nil)

func (d *Directory) GetUserByEmail(ctx context.Context, email string) (nightcap.UserRecord, error) {
	row := d.pool.QueryRow(ctx, `
		SELECT id, email, password_hash
		FROM users
		WHERE lower(email) = lower($1)
	`, email)

	return scanUser(row)
}

func (d *Directory) GetUserByID(ctx context.Context, userID string) (nightcap.UserRecord, error) {
	row := d.pool.QueryRow(ctx, `
		SELECT id, email, password_hash
		FROM users
		WHERE id = $1
	`, userID)

	return scanUser(row)
}

func (d *Directory) UpdatePasswordHash(ctx context.Context, userID, newHash string) error {
	tag, err := d.pool.Exec(ctx, `
		UPDATE users
		SET password_hash = $2, updated_at = now()
		WHERE id = $1
	`, userID, newHash)
	if err != nil {
		return fmt.Errorf("update password hash: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nightcap.ErrUserNotFound
	}
	return nil
}

func (d *Directory) UpdateEmail(ctx context.Context, userID, newEmail string) error {
	tag, err := d.pool.Exec(ctx, `
		UPDATE users
		SET email = lower($2), updated_at = now()
		WHERE id = $1
	`, userID, strings.TrimSpace(newEmail))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrEmailTaken
		}
		return fmt.Errorf("update email: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nightcap.ErrUserNotFound
	}
	return nil
}

func scanUser(row pgx.Row) (nightcap.UserRecord, error) {
	var user nightcap.UserRecord
	if err := row.Scan(&user.UserID, &user.Email, &user.PasswordHash); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nightcap.UserRecord{}, nightcap.ErrUserNotFound
		}
		return nightcap.UserRecord{}, fmt.Errorf("scan user: %w", err)
	}
	return user, nil
}
