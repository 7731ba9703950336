package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"signaldesk/db"
)

var (
	// ErrUserNotFound signals that the user does not exist.
	ErrUserNotFound = errors.New("auth: user not found")
	// ErrDuplicateEmail signals that the email is already registered.
	ErrDuplicateEmail = errors.New("auth: email already exists")
)

// Repository handles data access for identities.
type Repository interface {
	CreateUser(ctx context.Context, params CreateUserParams) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	GetUserByID(ctx context.Context, userID string) (User, error)
	UpsertAdmin(ctx context.Context, params CreateUserParams) (User, error)
	UpdatePasswordTx(ctx context.Context, tx pgx.Tx, userID, passwordHash string) error
}

// CreateUserParams contains write parameters for creating users.
type CreateUserParams struct {
	Name         string
	Surname      string
	Email        string
	PasswordHash string
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a PostgreSQL-backed auth repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const userColumns = `id, name, surname, email, password_hash, role, approved, active, plan, subscription_start, subscription_end, created_at, updated_at`

// CreateUser inserts a pending client identity.
func (r *PGRepository) CreateUser(ctx context.Context, params CreateUserParams) (User, error) {
	const insertSQL = `
		INSERT INTO users (name, surname, email, password_hash, role, approved)
		VALUES ($1, $2, $3, $4, 'client', false)
		RETURNING ` + userColumns

	user, err := scanUser(r.pool.QueryRow(ctx, insertSQL, params.Name, params.Surname, params.Email, params.PasswordHash))
	if err != nil {
		if db.IsUniqueViolation(err) {
			return User{}, ErrDuplicateEmail
		}
		return User{}, fmt.Errorf("auth: create user: %w", err)
	}

	return user, nil
}

// GetUserByEmail retrieves a user by email address, case-insensitively.
func (r *PGRepository) GetUserByEmail(ctx context.Context, email string) (User, error) {
	selectSQL := `SELECT ` + userColumns + ` FROM users WHERE lower(email) = lower($1)`

	user, err := scanUser(r.pool.QueryRow(ctx, selectSQL, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("auth: get user by email: %w", err)
	}

	return user, nil
}

// GetUserByID retrieves a user by ID.
func (r *PGRepository) GetUserByID(ctx context.Context, userID string) (User, error) {
	if _, err := uuid.Parse(userID); err != nil {
		return User{}, ErrUserNotFound
	}

	selectSQL := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user, err := scanUser(r.pool.QueryRow(ctx, selectSQL, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("auth: get user by id: %w", err)
	}

	return user, nil
}

// UpsertAdmin provisions an approved admin, promoting an existing identity with
// the same email. This is the only write path that changes a role.
func (r *PGRepository) UpsertAdmin(ctx context.Context, params CreateUserParams) (User, error) {
	const upsertSQL = `
		INSERT INTO users (name, surname, email, password_hash, role, approved)
		VALUES ($1, $2, $3, $4, 'admin', true)
		ON CONFLICT ((lower(email))) DO UPDATE
		SET role = 'admin',
		    approved = true,
		    password_hash = EXCLUDED.password_hash,
		    updated_at = now()
		RETURNING ` + userColumns

	user, err := scanUser(r.pool.QueryRow(ctx, upsertSQL, params.Name, params.Surname, params.Email, params.PasswordHash))
	if err != nil {
		return User{}, fmt.Errorf("auth: upsert admin: %w", err)
	}
	return user, nil
}

// UpdatePasswordTx replaces the password hash inside the caller's transaction.
func (r *PGRepository) UpdatePasswordTx(ctx context.Context, tx pgx.Tx, userID, passwordHash string) error {
	tag, err := tx.Exec(ctx, `UPDATE users SET password_hash = $2, updated_at = now() WHERE id = $1`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("auth: update password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func scanUser(row pgx.Row) (User, error) {
	var user User
	err := row.Scan(
		&user.ID,
		&user.Name,
		&user.Surname,
		&user.Email,
		&user.PasswordHash,
		&user.Role,
		&user.Account.Approved,
		&user.Account.Active,
		&user.Account.Plan,
		&user.Account.Start,
		&user.Account.End,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return User{}, err
	}

	user.Account.UserID = user.ID
	user.Account.Email = user.Email
	user.Account.Name = user.Name
	return user, nil
}
