package repositories

import (
	"context"

	"github.com/BradenHooton/bastion/internal/database"
	"github.com/BradenHooton/bastion/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

// CredentialRepository is the read-only view of the users table the login check needs
type CredentialRepository struct {
	pool *pgxpool.Pool
}

func NewCredentialRepository(db *database.DB) *CredentialRepository {
	return &CredentialRepository{pool: db.Pool}
}

// GetByEmail returns the password hash for an active account. Disabled accounts
// and accounts without a password report models.ErrNotFound, the same as a missing one.
func (r *CredentialRepository) GetByEmail(ctx context.Context, email string) (*models.Credential, error) {
	query := `
		SELECT id, email, password_hash
		FROM users
		WHERE LOWER(email) = LOWER($1) AND status = 'active' AND password_hash IS NOT NULL
	`

	var cred models.Credential
	err := r.pool.QueryRow(ctx, query, email).Scan(&cred.UserID, &cred.Email, &cred.PasswordHash)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &cred, nil
}
