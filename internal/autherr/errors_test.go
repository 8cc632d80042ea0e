package autherr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusErrorUnwrap(t *testing.T) {
	tests := []struct {
		status int
		kind   error
		name   string
	}{
		{401, ErrUnauthenticated, "unauthenticated"},
		{403, ErrUnauthenticated, "unauthenticated"},
		{500, ErrUnknownServerError, "unknown_server_error"},
		{404, ErrUnknownServerError, "unknown_server_error"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			err := fmt.Errorf("identity check: %w", &StatusError{Endpoint: "identity", StatusCode: tt.status})
			assert.ErrorIs(t, err, tt.kind)
			assert.Equal(t, tt.name, Kind(err))

			var se *StatusError
			assert.True(t, errors.As(err, &se))
			assert.Equal(t, tt.status, se.StatusCode)
		})
	}
}

func TestTransportKeepsCause(t *testing.T) {
	err := Transport("credential exchange", context.DeadlineExceeded)
	assert.ErrorIs(t, err, ErrTransportFailure)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, "transport_failure", Kind(err))
}

func TestRetryable(t *testing.T) {
	assert.False(t, Retryable(nil))
	assert.True(t, Retryable(Transport("x", errors.New("reset"))))
	assert.False(t, Retryable(ErrMalformedCredential))
	assert.False(t, Retryable(ErrNoSession))
	assert.False(t, Retryable(&StatusError{StatusCode: 401}))
	assert.True(t, Retryable(&StatusError{StatusCode: 503}))
	assert.False(t, Retryable(&StatusError{StatusCode: 404}))
	assert.False(t, Retryable(errors.New("other")))
}

func TestStatusErrorMessage(t *testing.T) {
	assert.Equal(t, "identity: status 500", (&StatusError{Endpoint: "identity", StatusCode: 500}).Error())
	assert.Equal(t, "exchange: status 502: bad gateway", (&StatusError{Endpoint: "exchange", StatusCode: 502, Body: "bad gateway"}).Error())
	assert.Equal(t, "internal", Kind(errors.New("x")))
	assert.Equal(t, "ok", Kind(nil))
}
