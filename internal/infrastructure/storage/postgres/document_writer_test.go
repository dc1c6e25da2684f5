package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"ebbridge/internal/core/apperror"
)

func TestWrapValidationKeepsAppErrors(t *testing.T) {
	orig := apperror.NewValidation("due date precedes posting date")
	wrapped := wrapValidation(fmt.Errorf("submit invoice: %w", orig))
	assert.True(t, apperror.Is(wrapped, apperror.CodeValidation))
	assert.False(t, apperror.Is(wrapped, apperror.CodeTargetValidation))
}

func TestWrapValidationTagsDatabaseErrors(t *testing.T) {
	wrapped := wrapValidation(errors.New("duplicate key value violates unique constraint"))
	assert.True(t, apperror.Is(wrapped, apperror.CodeTargetValidation))
}
