package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainerrors "github.com/listenupapp/listenup-captions/internal/errors"
	"github.com/listenupapp/listenup-captions/internal/logger"
	"github.com/listenupapp/listenup-captions/internal/store"
)

func decode(t *testing.T, w *httptest.ResponseRecorder) Envelope {
	t.Helper()
	var env Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

func TestJSON_Success(t *testing.T) {
	w := httptest.NewRecorder()
	JSON(w, http.StatusOK, map[string]string{"status": "ok"}, logger.Discard())

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))

	env := decode(t, w)
	assert.Equal(t, Version, env.Version)
	assert.True(t, env.Success)
	assert.Equal(t, map[string]any{"status": "ok"}, env.Data)
}

func TestTooManyRequests(t *testing.T) {
	w := httptest.NewRecorder()
	TooManyRequests(w, "slow down", nil)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	env := decode(t, w)
	assert.False(t, env.Success)
	assert.Equal(t, "slow down", env.Error)
}

func TestHandleError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{"domain not found", domainerrors.NotFoundf("book %s not found", "bk-1"), http.StatusNotFound, "book bk-1 not found"},
		{"domain unavailable", domainerrors.Unavailable("transcription is disabled"), http.StatusServiceUnavailable, "transcription is disabled"},
		{"store conflict", store.ErrAlreadyExists, http.StatusConflict, "resource already exists"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			HandleError(w, tt.err, logger.Discard())

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.message, decode(t, w).Error)
		})
	}
}
