package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ebbridge/internal/core/apperror"
)

type fakeRepo struct {
	ops map[string]*Operator
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{ops: map[string]*Operator{}}
}

func (f *fakeRepo) ByUsername(ctx context.Context, username string) (*Operator, error) {
	return f.ops[username], nil
}

func (f *fakeRepo) Create(ctx context.Context, op *Operator) error {
	f.ops[op.Username] = op
	return nil
}

func newTestService(t *testing.T) (*Service, *JWTService) {
	t.Helper()
	jwtService := NewJWTService(DefaultJWTConfig("test-secret"))
	return NewService(newFakeRepo(), jwtService, DefaultServiceConfig()), jwtService
}

func TestLoginRoundTrip(t *testing.T) {
	svc, jwtService := newTestService(t)
	ctx := context.Background()

	op, err := svc.CreateOperator(ctx, "alice", "correct horse battery", RoleOperator)
	require.NoError(t, err)
	assert.NotEqual(t, "correct horse battery", op.PasswordHash)

	result, err := svc.Login(ctx, "alice", "correct horse battery")
	require.NoError(t, err)
	assert.Equal(t, RoleOperator, result.Role)
	assert.True(t, result.ExpiresAt.After(time.Now()))

	claims, err := jwtService.ValidateToken(result.Token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, RoleOperator, claims.Role)
	assert.Equal(t, op.ID.String(), claims.OperatorID)
}

func TestLoginInvalidCredentials(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateOperator(ctx, "alice", "correct horse battery", RoleAdmin)
	require.NoError(t, err)

	_, err = svc.Login(ctx, "alice", "wrong password")
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.CodeUnauthorized))

	_, err2 := svc.Login(ctx, "nobody", "whatever")
	require.Error(t, err2)
	// Unknown user and wrong password are indistinguishable.
	assert.Equal(t, err.Error(), err2.Error())
}

func TestCreateOperatorRejectsShortPassword(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.CreateOperator(context.Background(), "bob", "short", RoleViewer)
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.CodeValidation))
}

func TestCreateOperatorRejectsDuplicate(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateOperator(ctx, "alice", "correct horse battery", RoleAdmin)
	require.NoError(t, err)
	_, err = svc.CreateOperator(ctx, "alice", "another password!", RoleViewer)
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.CodeValidation))
}

func TestValidateTokenRejectsTampering(t *testing.T) {
	jwtService := NewJWTService(DefaultJWTConfig("test-secret"))
	other := NewJWTService(DefaultJWTConfig("other-secret"))

	token, _, err := jwtService.GenerateToken(&Operator{Username: "alice", Role: RoleAdmin})
	require.NoError(t, err)

	_, err = other.ValidateToken(token)
	assert.Error(t, err)

	_, err = jwtService.ValidateToken(token + "x")
	assert.Error(t, err)
}

func TestRoleCanWrite(t *testing.T) {
	assert.True(t, RoleAdmin.CanWrite())
	assert.True(t, RoleOperator.CanWrite())
	assert.False(t, RoleViewer.CanWrite())
}
