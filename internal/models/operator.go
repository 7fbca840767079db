package models

// Operator is a hub operator account permitted to use the admin
// endpoints (closure retry, ledger inspection). Operators are seeded at
// startup; there is no self-service registration.
type Operator struct {
	// ID is the unique identifier for the operator (UUID format).
	ID string

	// Email is the operator's login identifier (unique).
	Email string

	// DisplayName is shown in audit log lines.
	DisplayName string

	// PasswordHash is the bcrypt hash of the operator's password.
	PasswordHash string

	// CreatedAt and UpdatedAt are Unix timestamps.
	CreatedAt int64
	UpdatedAt int64
}
