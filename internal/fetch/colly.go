package fetch

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/crawlkit/crawlkit/internal/crawl"
)

// CollyConfig tunes the plain HTTP fetcher.
type CollyConfig struct {
	UserAgent      string
	RequestTimeout time.Duration
	Concurrency    int
	DomainDelay    time.Duration
}

// CollyFetcher implements crawl.Fetcher using the colly collector.
type CollyFetcher struct {
	baseCollector *colly.Collector
	cfg           CollyConfig
	robots        *RobotsPolicy
	logger        *zap.Logger
}

// NewCollyFetcher constructs a configured colly-based fetcher. The robots
// policy may be nil when robots enforcement is disabled.
func NewCollyFetcher(cfg CollyConfig, robots *RobotsPolicy, logger *zap.Logger) (*CollyFetcher, error) {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	base := colly.NewCollector(
		colly.Async(true),
		colly.UserAgent(cfg.UserAgent),
	)
	base.AllowURLRevisit = true
	base.WithTransport(&http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          128,
		MaxIdleConnsPerHost:   32,
		MaxConnsPerHost:       cfg.Concurrency * 2,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.RequestTimeout,
		ForceAttemptHTTP2:     true,
	})
	base.SetRequestTimeout(cfg.RequestTimeout)

	if err := base.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: cfg.Concurrency,
		Delay:       cfg.DomainDelay,
	}); err != nil {
		return nil, err
	}

	return &CollyFetcher{
		baseCollector: base,
		cfg:           cfg,
		robots:        robots,
		logger:        logger,
	}, nil
}

// Fetch retrieves a page, optionally through the request's proxy. Failures
// come back classified; none of them are fatal to the crawl.
func (f *CollyFetcher) Fetch(ctx context.Context, rawURL string, proxy *crawl.ProxyServer) (crawl.Page, error) {
	if f.robots != nil && !f.robots.Allowed(ctx, rawURL) {
		return crawl.Page{}, &Error{Kind: FailureRobots, URL: rawURL, Err: errors.New("disallowed by robots.txt")}
	}

	collector := f.baseCollector.Clone()
	if proxy != nil {
		if err := collector.SetProxy(proxy.URL()); err != nil {
			return crawl.Page{}, Classify(rawURL, 0, err)
		}
	}

	resultCh := make(chan fetchResult, 1)
	var once sync.Once
	send := func(res fetchResult) {
		once.Do(func() { resultCh <- res })
	}

	start := time.Now()
	collector.OnResponse(func(r *colly.Response) {
		page := crawl.Page{
			URL:        rawURL,
			FinalURL:   r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Body:       append([]byte{}, r.Body...),
			Duration:   time.Since(start),
		}
		send(fetchResult{page: page})
	})
	collector.OnError(func(r *colly.Response, err error) {
		status := 0
		if r != nil {
			status = r.StatusCode
		}
		if err == nil {
			err = errors.New("unknown colly error")
		}
		send(fetchResult{err: Classify(rawURL, status, err)})
	})

	if err := collector.Visit(rawURL); err != nil {
		return crawl.Page{}, Classify(rawURL, 0, err)
	}
	collector.Wait()

	select {
	case res := <-resultCh:
		if err := ctx.Err(); err != nil {
			return crawl.Page{}, Classify(rawURL, 0, err)
		}
		if res.err != nil {
			return crawl.Page{}, res.err
		}
		if res.page.StatusCode >= 400 {
			return crawl.Page{}, Classify(rawURL, res.page.StatusCode, nil)
		}
		return res.page, nil
	default:
		return crawl.Page{}, Classify(rawURL, 0, errors.New("colly fetch produced no result"))
	}
}

type fetchResult struct {
	page crawl.Page
	err  error
}
