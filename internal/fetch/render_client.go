package fetch

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/crawlkit/crawlkit/internal/crawl"
)

// RenderClientConfig configures the remote rendering service client.
type RenderClientConfig struct {
	BaseURL               string
	Timeout               time.Duration
	UserAgent             string
	AcceptCookiesSelector string
	Locale                string
	BlockMedia            bool
	// ExtraHeaders is sent with every page load the service performs.
	ExtraHeaders map[string]string
}

// RenderClient delegates page fetches to an external headless-rendering
// service over HTTP. Request errors are page-level failures and never abort
// the crawl.
type RenderClient struct {
	cfg    RenderClientConfig
	client *http.Client
	logger *zap.Logger
}

// NewRenderClient constructs a client for the rendering service.
func NewRenderClient(cfg RenderClientConfig, logger *zap.Logger) *RenderClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RenderClient{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

type renderRequest struct {
	URL                   string            `json:"url"`
	BlockMedia            bool              `json:"block_media"`
	WaitAfterLoad         int               `json:"wait_after_load"`
	Timeout               int               `json:"timeout"`
	UserAgent             string            `json:"user_agent,omitempty"`
	AcceptCookiesSelector string            `json:"accept_cookies_selector,omitempty"`
	Locale                string            `json:"locale,omitempty"`
	ExtraHeaders          map[string]string `json:"extra_headers,omitempty"`
	Actions               []string          `json:"actions,omitempty"`
	Proxy                 string            `json:"proxy,omitempty"`
}

type renderResponse struct {
	HTML        string             `json:"html"`
	StatusCode  int                `json:"status_code"`
	Attachments []renderAttachment `json:"attachments"`
	ErrorText   string             `json:"error"`
}

type renderAttachment struct {
	Content string `json:"content"`
	Type    string `json:"type"`
}

// Render implements crawl.Renderer against the remote service: POST /html
// with the page options, returning final HTML plus decoded attachments.
func (c *RenderClient) Render(ctx context.Context, rawURL string, opts crawl.PageOptions, proxy *crawl.ProxyServer) (crawl.Page, error) {
	reqBody := renderRequest{
		URL:                   rawURL,
		BlockMedia:            c.cfg.BlockMedia,
		WaitAfterLoad:         opts.WaitTime,
		Timeout:               int(c.cfg.Timeout.Milliseconds()),
		UserAgent:             c.cfg.UserAgent,
		AcceptCookiesSelector: c.cfg.AcceptCookiesSelector,
		Locale:                c.cfg.Locale,
		ExtraHeaders:          c.cfg.ExtraHeaders,
	}
	if opts.Screenshot {
		reqBody.Actions = append(reqBody.Actions, "screenshot")
	}
	if proxy != nil {
		reqBody.Proxy = proxy.URL()
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return crawl.Page{}, &Error{Kind: FailureRender, URL: rawURL, Err: fmt.Errorf("marshal render request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/html", bytes.NewReader(payload))
	if err != nil {
		return crawl.Page{}, &Error{Kind: FailureRender, URL: rawURL, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return crawl.Page{}, &Error{Kind: FailureRender, URL: rawURL, Err: err}
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Debug("close render body failed", zap.Error(cerr))
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return crawl.Page{}, &Error{Kind: FailureRender, URL: rawURL, Err: fmt.Errorf("read render body: %w", err)}
	}

	var rendered renderResponse
	if resp.StatusCode != http.StatusOK {
		// A 500 with an {error} body carries the service's own diagnostic.
		if json.Unmarshal(body, &rendered) == nil && rendered.ErrorText != "" {
			return crawl.Page{}, &Error{
				Kind:       FailureRender,
				URL:        rawURL,
				StatusCode: resp.StatusCode,
				Err:        fmt.Errorf("rendering service: %s", rendered.ErrorText),
			}
		}
		return crawl.Page{}, &Error{
			Kind:       FailureRender,
			URL:        rawURL,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("rendering service returned %d", resp.StatusCode),
		}
	}
	if err := json.Unmarshal(body, &rendered); err != nil {
		return crawl.Page{}, &Error{Kind: FailureRender, URL: rawURL, Err: fmt.Errorf("decode render response: %w", err)}
	}
	if rendered.StatusCode == 401 || rendered.StatusCode == 403 {
		return crawl.Page{}, Classify(rawURL, rendered.StatusCode, nil)
	}
	if rendered.StatusCode >= 400 {
		return crawl.Page{}, Classify(rawURL, rendered.StatusCode, nil)
	}

	page := crawl.Page{
		URL:        rawURL,
		FinalURL:   rawURL,
		StatusCode: rendered.StatusCode,
		Body:       []byte(rendered.HTML),
		Rendered:   true,
		Duration:   time.Since(start),
	}
	for _, att := range rendered.Attachments {
		decoded, decErr := base64.StdEncoding.DecodeString(att.Content)
		if decErr != nil {
			c.logger.Warn("discarding undecodable attachment",
				zap.String("url", rawURL),
				zap.String("type", att.Type),
				zap.Error(decErr),
			)
			continue
		}
		page.Attachments = append(page.Attachments, crawl.Attachment{
			Kind:  crawl.AttachmentKind(att.Type),
			Bytes: decoded,
		})
	}
	return page, nil
}
