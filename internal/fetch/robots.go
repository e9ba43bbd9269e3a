package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
)

// RobotsPolicy enforces robots.txt directives per host and exposes the
// Sitemap: directives the sitemap engine probes first. robots.txt fetches are
// made outside the crawl's page budget; they never count against page_limit.
type RobotsPolicy struct {
	client    *http.Client
	cache     sync.Map
	respect   bool
	userAgent string
	logger    *zap.Logger
}

// NewRobotsPolicy builds a policy. When respect is false, Allowed always
// returns true but Sitemaps still works for discovery.
func NewRobotsPolicy(respect bool, userAgent string, logger *zap.Logger) *RobotsPolicy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RobotsPolicy{
		client:    &http.Client{Timeout: 10 * time.Second},
		respect:   respect,
		userAgent: userAgent,
		logger:    logger,
	}
}

// Allowed reports whether the URL may be fetched under the host's robots.txt.
// Fetch failures fail open.
func (r *RobotsPolicy) Allowed(ctx context.Context, rawURL string) bool {
	if r == nil || !r.respect {
		return true
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	data, err := r.load(ctx, parsed)
	if err != nil {
		r.logger.Warn("robots fetch failed; allowing access", zap.String("host", parsed.Host), zap.Error(err))
		return true
	}
	group := data.FindGroup(r.userAgent)
	if group == nil {
		return true
	}
	return group.Test(parsed.Path)
}

// Sitemaps returns the Sitemap: directives declared by the host's robots.txt.
func (r *RobotsPolicy) Sitemaps(ctx context.Context, siteURL string) []string {
	if r == nil {
		return nil
	}
	parsed, err := url.Parse(siteURL)
	if err != nil {
		return nil
	}
	data, err := r.load(ctx, parsed)
	if err != nil {
		r.logger.Debug("robots sitemap probe failed", zap.String("host", parsed.Host), zap.Error(err))
		return nil
	}
	return data.Sitemaps
}

func (r *RobotsPolicy) load(ctx context.Context, parsed *url.URL) (*robotstxt.RobotsData, error) {
	hostKey := strings.ToLower(parsed.Host)
	if data, ok := r.cache.Load(hostKey); ok {
		cached, assertOK := data.(*robotstxt.RobotsData)
		if !assertOK {
			return nil, fmt.Errorf("robots cache type mismatch: %T", data)
		}
		return cached, nil
	}

	robotsURL := *parsed
	robotsURL.Path = path.Join("/", "robots.txt")
	robotsURL.RawQuery = ""
	robotsURL.Fragment = ""
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("new robots request: %w", err)
	}
	req.Header.Set("User-Agent", r.userAgent)
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			r.logger.Debug("close robots body failed", zap.Error(cerr))
		}
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read robots body: %w", err)
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil, fmt.Errorf("parse robots: %w", err)
	}
	r.cache.Store(hostKey, data)
	return data, nil
}
