package postgres

import (
	"context"

	"github.com/Masterminds/squirrel"

	"ebbridge/internal/domain/auth"
)

// OperatorRepo is the PostgreSQL implementation of auth.Repository.
type OperatorRepo struct {
	txm *TxManager
}

var _ auth.Repository = (*OperatorRepo)(nil)

// NewOperatorRepo creates an OperatorRepo.
func NewOperatorRepo(txm *TxManager) *OperatorRepo {
	return &OperatorRepo{txm: txm}
}

func (r *OperatorRepo) builder() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
}

// ByUsername returns the operator, or (nil, nil) when absent.
func (r *OperatorRepo) ByUsername(ctx context.Context, username string) (*auth.Operator, error) {
	q := r.builder().
		Select("id", "username", "password_hash", "role", "created_at").
		From("operators").
		Where(squirrel.Eq{"username": username})
	return scanOne[auth.Operator](ctx, r.txm, q, "operator")
}

// Create inserts a new operator.
func (r *OperatorRepo) Create(ctx context.Context, op *auth.Operator) error {
	q := r.builder().
		Insert("operators").
		Columns("id", "username", "password_hash", "role", "created_at").
		Values(op.ID, op.Username, op.PasswordHash, op.Role, op.CreatedAt)
	return execInsert(ctx, r.txm, q, "operator")
}
