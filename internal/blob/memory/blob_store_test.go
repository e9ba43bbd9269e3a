package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestBlobStorePutObject returns a memory URI and keeps an isolated copy of
// the data.
func TestBlobStorePutObject(t *testing.T) {
	t.Parallel()

	s := NewBlobStore()
	data := []byte{0x89, 0x50, 0x4e, 0x47}

	uri, err := s.PutObject(context.Background(), "shots/a.png", "image/png", data)
	require.NoError(t, err)
	require.Equal(t, "memory://shots/a.png", uri)

	data[0] = 0x00
	stored, ok := s.Object("shots/a.png")
	require.True(t, ok)
	require.Equal(t, byte(0x89), stored[0])

	_, ok = s.Object("missing")
	require.False(t, ok)
}
