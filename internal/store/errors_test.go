package store_test

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/listenupapp/listenup-captions/internal/store"
)

func TestError_ErrorWithCause(t *testing.T) {
	cause := errors.New("disk full")
	err := store.ErrWriteFailed.WithCause(cause)

	assert.Contains(t, err.Error(), "transcript write failed")
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, cause, err.Unwrap())
	assert.Equal(t, http.StatusInternalServerError, err.HTTPCode())
}

func TestError_IsMatchesByCode(t *testing.T) {
	wrapped := store.ErrNotFound.WithMessage("book bk-1 not found")

	assert.ErrorIs(t, wrapped, store.ErrNotFound)
	assert.NotErrorIs(t, wrapped, store.ErrAlreadyExists)
	assert.ErrorIs(t, store.ErrWriteFailed.WithCause(errors.New("x")), store.ErrWriteFailed)
}
