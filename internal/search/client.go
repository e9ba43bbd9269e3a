// Package search implements the paginated custom-search collaborator used by
// the search-crawl entry point and the sitemap engine's last-resort fallback.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/crawlkit/crawlkit/internal/crawl"
)

const defaultBaseURL = "https://www.googleapis.com/customsearch/v1"

// Config identifies the custom search engine and its credentials.
type Config struct {
	APIKey   string
	EngineID string
	// BaseURL overrides the API endpoint, mainly for tests.
	BaseURL string
	Timeout time.Duration
}

// Client queries the custom-search API, paginating via the nextPage cursor
// the API returns. It implements crawl.SearchClient.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient builds a search client.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" || cfg.EngineID == "" {
		return nil, fmt.Errorf("search api key and engine id are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}, nil
}

type apiResponse struct {
	Items []struct {
		Link    string `json:"link"`
		Title   string `json:"title"`
		Snippet string `json:"snippet"`
		Pagemap struct {
			Metatags []map[string]string `json:"metatags"`
		} `json:"pagemap"`
	} `json:"items"`
	Queries struct {
		NextPage []struct {
			StartIndex int `json:"startIndex"`
		} `json:"nextPage"`
	} `json:"queries"`
}

// Search runs the query and follows nextPage cursors up to maxPages pages.
// A page that returns no items ends pagination early.
func (c *Client) Search(ctx context.Context, query string, maxPages int) ([]crawl.SearchResult, error) {
	if maxPages <= 0 {
		maxPages = 1
	}
	var results []crawl.SearchResult
	start := 1
	for page := 0; page < maxPages; page++ {
		resp, err := c.fetchPage(ctx, query, start)
		if err != nil {
			return nil, err
		}
		if len(resp.Items) == 0 {
			break
		}
		for _, item := range resp.Items {
			result := crawl.SearchResult{
				URL:     item.Link,
				Title:   item.Title,
				Snippet: item.Snippet,
			}
			// The first metatags entry may carry better og: values than the
			// index's own title/snippet.
			if len(item.Pagemap.Metatags) > 0 {
				tags := item.Pagemap.Metatags[0]
				if t := tags["og:title"]; t != "" {
					result.Title = t
				}
				if d := tags["og:description"]; d != "" {
					result.Snippet = d
				}
			}
			results = append(results, result)
		}
		if len(resp.Queries.NextPage) == 0 {
			break
		}
		start = resp.Queries.NextPage[0].StartIndex
	}
	return results, nil
}

func (c *Client) fetchPage(ctx context.Context, query string, start int) (*apiResponse, error) {
	params := url.Values{}
	params.Set("key", c.cfg.APIKey)
	params.Set("cx", c.cfg.EngineID)
	params.Set("q", query)
	if start > 1 {
		params.Set("start", strconv.Itoa(start))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn("close search response body", zap.Error(closeErr))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("search api returned %d: %s", resp.StatusCode, string(body))
	}
	var parsed apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	return &parsed, nil
}
