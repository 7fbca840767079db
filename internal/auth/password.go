package auth

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/mmynk/closeout/internal/models"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
)

// OperatorStorage defines the interface for operator persistence.
// This allows the authenticator to be independent of the storage
// implementation.
type OperatorStorage interface {
	CreateOperator(ctx context.Context, op *models.Operator) error
	GetOperatorByEmail(ctx context.Context, email string) (*models.Operator, error)
}

// PasswordAuthenticator implements password-based operator
// authentication using bcrypt. There is no self-service registration:
// operator accounts are seeded at startup.
type PasswordAuthenticator struct {
	storage OperatorStorage
}

// NewPasswordAuthenticator creates a new password-based authenticator.
func NewPasswordAuthenticator(storage OperatorStorage) *PasswordAuthenticator {
	return &PasswordAuthenticator{
		storage: storage,
	}
}

// Seed ensures an operator with the given email exists, creating it
// with a hashed password when absent. Returns the existing account
// untouched when one is already registered.
func (a *PasswordAuthenticator) Seed(ctx context.Context, email, displayName, credential string) (*models.Operator, error) {
	existing, err := a.storage.GetOperatorByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to check operator: %w", err)
	}
	if existing != nil {
		return existing, nil
	}

	if len(credential) < 8 {
		return nil, ErrWeakPassword
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(credential), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	op := &models.Operator{
		Email:        email,
		DisplayName:  displayName,
		PasswordHash: string(hashedPassword),
	}
	if err := a.storage.CreateOperator(ctx, op); err != nil {
		return nil, fmt.Errorf("failed to create operator: %w", err)
	}

	return op, nil
}

// Authenticate verifies the email and password, returning the operator
// if valid.
func (a *PasswordAuthenticator) Authenticate(ctx context.Context, email, credential string) (*models.Operator, error) {
	op, err := a.storage.GetOperatorByEmail(ctx, email)
	if err != nil || op == nil {
		return nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(op.PasswordHash), []byte(credential)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return op, nil
}
