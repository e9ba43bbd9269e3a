package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleRobots = `User-agent: *
Disallow: /private/

Sitemap: https://example.com/sitemap.xml
Sitemap: https://example.com/news-sitemap.xml
`

// TestRobotsPolicyAllowed enforces Disallow rules per path.
func TestRobotsPolicyAllowed(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/robots.txt", r.URL.Path)
		_, _ = w.Write([]byte(sampleRobots))
	}))
	defer srv.Close()

	p := NewRobotsPolicy(true, "crawlkit-spider/1.0", nil)
	ctx := context.Background()

	require.True(t, p.Allowed(ctx, srv.URL+"/public/page"))
	require.False(t, p.Allowed(ctx, srv.URL+"/private/page"))
}

// TestRobotsPolicyDisabled always allows but still surfaces sitemaps.
func TestRobotsPolicyDisabled(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(sampleRobots))
	}))
	defer srv.Close()

	p := NewRobotsPolicy(false, "crawlkit-spider/1.0", nil)
	ctx := context.Background()

	require.True(t, p.Allowed(ctx, srv.URL+"/private/page"))
	require.Equal(t, []string{
		"https://example.com/sitemap.xml",
		"https://example.com/news-sitemap.xml",
	}, p.Sitemaps(ctx, srv.URL))
}

// TestRobotsPolicyFailOpen allows fetching when robots.txt is unreachable.
func TestRobotsPolicyFailOpen(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	srv.Close()

	p := NewRobotsPolicy(true, "crawlkit-spider/1.0", nil)
	require.True(t, p.Allowed(context.Background(), srv.URL+"/anything"))
}

// TestRobotsPolicyCachesPerHost fetches robots.txt once per host.
func TestRobotsPolicyCachesPerHost(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(sampleRobots))
	}))
	defer srv.Close()

	p := NewRobotsPolicy(true, "crawlkit-spider/1.0", nil)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		p.Allowed(ctx, srv.URL+"/public/page")
	}
	require.Equal(t, int32(1), hits.Load())
}
