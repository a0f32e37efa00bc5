package models

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromStatus(t *testing.T) {
	tests := []struct {
		status   int
		message  string
		wantCode string
	}{
		{http.StatusOK, "", ""},
		{http.StatusBadRequest, "Title is required", CodeValidationRejected},
		{http.StatusConflict, "", CodeValidationRejected},
		{http.StatusUnauthorized, "", CodeUnauthorized},
		{http.StatusNotFound, "", CodeNotFound},
		{http.StatusInternalServerError, "boom", CodeServerFault},
		{http.StatusBadGateway, "", CodeServerFault},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			err := FromStatus(tt.status, tt.message)
			if tt.wantCode == "" {
				assert.Nil(t, err)
				return
			}
			require.NotNil(t, err)
			assert.Equal(t, tt.wantCode, err.Code)
			assert.Equal(t, tt.status, err.Status)
		})
	}
}

func TestFromStatus_KeepsServerMessage(t *testing.T) {
	err := FromStatus(http.StatusBadRequest, "Content is required")
	assert.Equal(t, "Content is required", err.Error())
}

func TestAppError_IsMatchesCodeThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("toggle like: %w", NewUnauthorizedError("token expired"))

	assert.True(t, errors.Is(wrapped, ErrUnauthorized))
	assert.True(t, IsUnauthorized(wrapped))
	assert.False(t, errors.Is(wrapped, ErrServerFault))
	assert.Equal(t, CodeUnauthorized, CodeOf(wrapped))
}

func TestNetworkError_Unwraps(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewNetworkError(cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, CodeNetworkUnavailable, CodeOf(err))
	assert.Equal(t, "", CodeOf(cause))
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, StatusOf(NewValidationError("bad")))
	assert.Equal(t, http.StatusNotFound, StatusOf(NewNotFoundError("post", 9)))
	assert.Equal(t, http.StatusUnauthorized, StatusOf(&AppError{Code: CodeUnauthorized}))
	assert.Equal(t, http.StatusInternalServerError, StatusOf(errors.New("plain")))
}
