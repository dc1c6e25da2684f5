// Package auth provides operator authentication for the RPC surface.
package auth

import (
	"context"
	"time"

	"ebbridge/internal/core/apperror"
	"ebbridge/internal/core/id"
)

// Role gates what an operator may do over the RPC surface.
type Role string

const (
	// RoleAdmin may manage operators and approve proposals.
	RoleAdmin Role = "admin"
	// RoleOperator may start runs and replays.
	RoleOperator Role = "operator"
	// RoleViewer may only read run history.
	RoleViewer Role = "viewer"
)

// CanWrite reports whether the role may start runs or approve proposals.
func (r Role) CanWrite() bool {
	return r == RoleAdmin || r == RoleOperator
}

// Operator is a human user of the RPC surface.
type Operator struct {
	ID           id.ID     `db:"id" json:"id"`
	Username     string    `db:"username" json:"username"`
	PasswordHash string    `db:"password_hash" json:"-"`
	Role         Role      `db:"role" json:"role"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
}

// Validate checks operator fields.
func (o *Operator) Validate(ctx context.Context) error {
	if o.Username == "" {
		return apperror.NewValidation("username is required").WithDetail("field", "username")
	}
	switch o.Role {
	case RoleAdmin, RoleOperator, RoleViewer:
	default:
		return apperror.NewValidation("unknown role").WithDetail("role", string(o.Role))
	}
	return nil
}

// Repository persists operators.
type Repository interface {
	// ByUsername returns the operator, or (nil, nil) when absent.
	ByUsername(ctx context.Context, username string) (*Operator, error)
	Create(ctx context.Context, op *Operator) error
}
