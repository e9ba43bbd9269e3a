package fetch

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestClassifyStatusCodes maps status codes into the failure taxonomy.
func TestClassifyStatusCodes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		err    error
		want   FailureKind
	}{
		{"unauthorized", 401, nil, FailureAuth},
		{"forbidden", 403, nil, FailureAuth},
		{"not found", 404, nil, FailureUpstream},
		{"server error", 503, nil, FailureUpstream},
		{"timeout", 0, context.DeadlineExceeded, FailureConnection},
		{"plain error", 0, errors.New("connection refused"), FailureConnection},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Classify("https://example.com/x", tt.status, tt.err)
			require.Equal(t, tt.want, got.Kind)
			require.Equal(t, tt.status, got.StatusCode)
			require.Equal(t, "https://example.com/x", got.URL)
		})
	}
}

// TestClassifySynthesizesStatusError fills Err when only a status is known.
func TestClassifySynthesizesStatusError(t *testing.T) {
	t.Parallel()

	got := Classify("https://example.com/x", 500, nil)
	require.ErrorContains(t, got, "status 500")
}

// TestErrorUnwrap preserves the wrapped cause.
func TestErrorUnwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("boom")
	wrapped := Classify("https://example.com/x", 0, cause)
	require.ErrorIs(t, wrapped, cause)
}
