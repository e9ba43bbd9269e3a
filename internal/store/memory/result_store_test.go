package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/crawlkit/crawlkit/internal/crawl"
)

func newResult(t *testing.T, requestID uuid.UUID, rawURL string) crawl.Result {
	t.Helper()
	id, err := uuid.NewV7()
	require.NoError(t, err)
	return crawl.Result{
		ID:        id,
		RequestID: requestID,
		URL:       rawURL,
		CreatedAt: time.Now().UTC(),
	}
}

// TestResultStoreCursorPagination advances the sequence cursor so each call
// only sees results committed after the previous one.
func TestResultStoreCursorPagination(t *testing.T) {
	t.Parallel()

	s := NewResultStore()
	ctx := context.Background()
	requestID := uuid.New()

	for i := 0; i < 3; i++ {
		_, err := s.CreateResult(ctx, newResult(t, requestID, fmt.Sprintf("https://example.com/%d", i)))
		require.NoError(t, err)
	}

	first, cursor, err := s.ListResults(ctx, requestID, 0)
	require.NoError(t, err)
	require.Len(t, first, 3)

	// Nothing new yet.
	second, cursor2, err := s.ListResults(ctx, requestID, cursor)
	require.NoError(t, err)
	require.Empty(t, second)
	require.Equal(t, cursor, cursor2)

	_, err = s.CreateResult(ctx, newResult(t, requestID, "https://example.com/late"))
	require.NoError(t, err)

	third, _, err := s.ListResults(ctx, requestID, cursor)
	require.NoError(t, err)
	require.Len(t, third, 1)
	require.Equal(t, "https://example.com/late", third[0].URL)
}

// TestResultStoreScopesByRequest keeps sequences global but listings per
// request.
func TestResultStoreScopesByRequest(t *testing.T) {
	t.Parallel()

	s := NewResultStore()
	ctx := context.Background()
	reqA := uuid.New()
	reqB := uuid.New()

	_, err := s.CreateResult(ctx, newResult(t, reqA, "https://a.example.com/"))
	require.NoError(t, err)
	_, err = s.CreateResult(ctx, newResult(t, reqB, "https://b.example.com/"))
	require.NoError(t, err)

	got, _, err := s.ListResults(ctx, reqA, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "https://a.example.com/", got[0].URL)
}

// TestResultStoreAttachmentUpsert replaces an attachment of the same kind and
// keeps distinct kinds side by side.
func TestResultStoreAttachmentUpsert(t *testing.T) {
	t.Parallel()

	s := NewResultStore()
	ctx := context.Background()
	resultID := uuid.New()

	require.NoError(t, s.CreateAttachment(ctx, crawl.Attachment{
		ResultID: resultID,
		Kind:     crawl.AttachmentScreenshot,
		BlobURI:  "memory://old.png",
	}))
	require.NoError(t, s.CreateAttachment(ctx, crawl.Attachment{
		ResultID: resultID,
		Kind:     crawl.AttachmentScreenshot,
		BlobURI:  "memory://new.png",
	}))
	require.NoError(t, s.CreateAttachment(ctx, crawl.Attachment{
		ResultID: resultID,
		Kind:     crawl.AttachmentPDF,
		BlobURI:  "memory://page.pdf",
	}))

	atts := s.Attachments(resultID)
	require.Len(t, atts, 2)
	require.Equal(t, "memory://new.png", atts[0].BlobURI)
	require.Equal(t, crawl.AttachmentPDF, atts[1].Kind)
}
