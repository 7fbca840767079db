package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mmynk/closeout/internal/models"
)

// CreateOperator inserts a new operator account into the database.
func (s *SQLiteStore) CreateOperator(ctx context.Context, op *models.Operator) error {
	// Generate ID if not set
	if op.ID == "" {
		op.ID = uuid.New().String()
	}
	if op.CreatedAt == 0 {
		op.CreatedAt = time.Now().Unix()
	}
	if op.UpdatedAt == 0 {
		op.UpdatedAt = op.CreatedAt
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO operators (id, email, display_name, password_hash, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		op.ID, op.Email, op.DisplayName, op.PasswordHash, op.CreatedAt, op.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create operator: %w", err)
	}

	return nil
}

// GetOperatorByEmail retrieves an operator by their email address.
func (s *SQLiteStore) GetOperatorByEmail(ctx context.Context, email string) (*models.Operator, error) {
	op := &models.Operator{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, display_name, password_hash, created_at, updated_at
		 FROM operators WHERE email = ?`,
		email,
	).Scan(&op.ID, &op.Email, &op.DisplayName, &op.PasswordHash, &op.CreatedAt, &op.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil // Operator not found
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get operator by email: %w", err)
	}

	return op, nil
}
