package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/utopiachat/relay/internal/model"
)

// UserRepo defines the interface for user repository operations
type UserRepo interface {
	GetByID(ctx context.Context, id string) (model.User, error)
	GetOrCreateByPhone(ctx context.Context, countryCode, phoneNumber string) (model.User, error)
	GetByPhone(ctx context.Context, countryCode, phoneNumber string) (model.User, error)
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
}

type userRepo struct {
	db *sql.DB
}

// NewUserRepo creates a new UserRepo instance
func NewUserRepo(db *sql.DB) UserRepo {
	return &userRepo{db: db}
}

// GetByID retrieves a user by ID
func (r *userRepo) GetByID(ctx context.Context, id string) (model.User, error) {
	query := `
		SELECT id, country_code, phone_number, active, created_at
		FROM users
		WHERE id = $1
	`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

// GetOrCreateByPhone retrieves a user by phone parts or creates one if it doesn't exist
func (r *userRepo) GetOrCreateByPhone(ctx context.Context, countryCode, phoneNumber string) (model.User, error) {
	query := `
		INSERT INTO users (country_code, phone_number)
		VALUES ($1, $2)
		ON CONFLICT (country_code, phone_number) DO NOTHING
	`
	if _, err := r.db.ExecContext(ctx, query, countryCode, phoneNumber); err != nil {
		return model.User{}, fmt.Errorf("failed to insert user: %w", err)
	}
	return r.GetByPhone(ctx, countryCode, phoneNumber)
}

// GetByPhone retrieves a user by phone parts
func (r *userRepo) GetByPhone(ctx context.Context, countryCode, phoneNumber string) (model.User, error) {
	query := `
		SELECT id, country_code, phone_number, active, created_at
		FROM users
		WHERE country_code = $1 AND phone_number = $2
	`
	return r.scanOne(r.db.QueryRowContext(ctx, query, countryCode, phoneNumber))
}

// SetActive updates the verified flag for the user
func (r *userRepo) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE users SET active = $2 WHERE id = $1
	`, id, active)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("user not found")
	}
	return nil
}

func (r *userRepo) scanOne(row *sql.Row) (model.User, error) {
	var user model.User
	var idStr string
	err := row.Scan(
		&idStr,
		&user.CountryCode,
		&user.PhoneNumber,
		&user.Active,
		&user.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return model.User{}, fmt.Errorf("user not found: %w", err)
		}
		return model.User{}, fmt.Errorf("failed to query user: %w", err)
	}
	user.ID, err = uuid.Parse(idStr)
	if err != nil {
		return model.User{}, fmt.Errorf("failed to parse user ID: %w", err)
	}
	return user, nil
}
