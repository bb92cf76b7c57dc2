package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/omena/store-api/internal/domain/order"
)

const (
	getRoleSQL  = `SELECT COALESCE(role, '') FROM profiles WHERE id = $1`
	getEmailSQL = `SELECT COALESCE(email, '') FROM profiles WHERE id = $1`
)

var _ order.ProfileRepository = (*ProfileRepository)(nil)

// ProfileRepository reads user profile data backed by PostgreSQL.
type ProfileRepository struct {
	pool *pgxpool.Pool
}

// NewProfileRepository returns a ProfileRepository that uses the given pool.
func NewProfileRepository(pool *pgxpool.Pool) *ProfileRepository {
	return &ProfileRepository{pool: pool}
}

// GetRole returns the user's role, or an empty string for unknown users.
func (r *ProfileRepository) GetRole(ctx context.Context, userID string) (string, error) {
	var role string
	err := r.pool.QueryRow(ctx, getRoleSQL, userID).Scan(&role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("getting role of user %q: %w", userID, err)
	}
	return role, nil
}

// GetEmail returns the user's email, or an empty string for unknown users.
func (r *ProfileRepository) GetEmail(ctx context.Context, userID string) (string, error) {
	var email string
	err := r.pool.QueryRow(ctx, getEmailSQL, userID).Scan(&email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("getting email of user %q: %w", userID, err)
	}
	return email, nil
}
