package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func pageResponse(next int, links ...string) map[string]any {
	items := make([]map[string]any, 0, len(links))
	for _, link := range links {
		items = append(items, map[string]any{
			"link":    link,
			"title":   "Result " + link,
			"snippet": "snippet for " + link,
		})
	}
	resp := map[string]any{"items": items}
	if next > 0 {
		resp["queries"] = map[string]any{
			"nextPage": []map[string]any{{"startIndex": next}},
		}
	}
	return resp
}

// TestClientRequiresCredentials refuses to build without an API key and
// engine ID.
func TestClientRequiresCredentials(t *testing.T) {
	t.Parallel()

	_, err := NewClient(Config{APIKey: "key"}, nil)
	require.Error(t, err)
	_, err = NewClient(Config{EngineID: "cx"}, nil)
	require.Error(t, err)
}

// TestSearchFollowsNextPageCursor paginates until the API stops returning a
// cursor or maxPages is reached.
func TestSearchFollowsNextPageCursor(t *testing.T) {
	t.Parallel()

	var starts []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "test-key", r.URL.Query().Get("key"))
		require.Equal(t, "test-cx", r.URL.Query().Get("cx"))
		require.Equal(t, "site:example.com widgets", r.URL.Query().Get("q"))
		starts = append(starts, r.URL.Query().Get("start"))

		var resp map[string]any
		switch r.URL.Query().Get("start") {
		case "":
			resp = pageResponse(11, "https://example.com/a", "https://example.com/b")
		case "11":
			resp = pageResponse(0, "https://example.com/c")
		default:
			t.Errorf("unexpected start %q", r.URL.Query().Get("start"))
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	c, err := NewClient(Config{APIKey: "test-key", EngineID: "test-cx", BaseURL: srv.URL}, nil)
	require.NoError(t, err)

	results, err := c.Search(context.Background(), "site:example.com widgets", 5)
	require.NoError(t, err)
	require.Len(t, results, 3)
	require.Equal(t, "https://example.com/a", results[0].URL)
	require.Equal(t, "https://example.com/c", results[2].URL)
	require.Equal(t, []string{"", "11"}, starts)
}

// TestSearchStopsAtMaxPages never follows a cursor past the page budget.
func TestSearchStopsAtMaxPages(t *testing.T) {
	t.Parallel()

	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		require.NoError(t, json.NewEncoder(w).Encode(pageResponse(calls*10+1, "https://example.com/page")))
	}))
	defer srv.Close()

	c, err := NewClient(Config{APIKey: "k", EngineID: "cx", BaseURL: srv.URL}, nil)
	require.NoError(t, err)

	results, err := c.Search(context.Background(), "anything", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, 2, calls)
}

// TestSearchPrefersOpenGraphMetadata lifts og:title and og:description from
// the first metatags entry.
func TestSearchPrefersOpenGraphMetadata(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		resp := map[string]any{
			"items": []map[string]any{{
				"link":    "https://example.com/a",
				"title":   "Index Title",
				"snippet": "index snippet",
				"pagemap": map[string]any{
					"metatags": []map[string]string{{
						"og:title":       "OG Title",
						"og:description": "OG description",
					}},
				},
			}},
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	c, err := NewClient(Config{APIKey: "k", EngineID: "cx", BaseURL: srv.URL}, nil)
	require.NoError(t, err)

	results, err := c.Search(context.Background(), "q", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "OG Title", results[0].Title)
	require.Equal(t, "OG description", results[0].Snippet)
}

// TestSearchSurfacesAPIErrors returns the upstream status and body text.
func TestSearchSurfacesAPIErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"quota exceeded"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c, err := NewClient(Config{APIKey: "k", EngineID: "cx", BaseURL: srv.URL}, nil)
	require.NoError(t, err)

	_, err = c.Search(context.Background(), "q", 1)
	require.Error(t, err)
	require.Contains(t, err.Error(), "429")
	require.Contains(t, err.Error(), "quota exceeded")
}

// TestSearchEmptyPageEndsPagination treats a page with no items as the end of
// results.
func TestSearchEmptyPageEndsPagination(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		require.NoError(t, json.NewEncoder(w).Encode(map[string]any{}))
	}))
	defer srv.Close()

	c, err := NewClient(Config{APIKey: "k", EngineID: "cx", BaseURL: srv.URL}, nil)
	require.NoError(t, err)

	results, err := c.Search(context.Background(), "q", 3)
	require.NoError(t, err)
	require.Empty(t, results)
}
