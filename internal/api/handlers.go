package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crawlkit/crawlkit/internal/crawl"
	"github.com/crawlkit/crawlkit/internal/spider"
	"github.com/crawlkit/crawlkit/internal/store"
)

type submitRequest struct {
	URL     string        `json:"url"`
	Options crawl.Options `json:"options"`
}

// validate returns a field-level error map; an empty map means the submission
// is acceptable.
func (req submitRequest) validate(kind crawl.Kind) map[string]string {
	fields := make(map[string]string)
	trimmed := strings.TrimSpace(req.URL)
	if trimmed == "" {
		if kind == crawl.KindSearch {
			fields["url"] = "search query is required"
		} else {
			fields["url"] = "url is required"
		}
		return fields
	}
	if kind != crawl.KindSearch {
		parsed, err := url.Parse(trimmed)
		if err != nil || parsed.Hostname() == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
			fields["url"] = "must be an absolute http(s) url"
		}
	}
	if req.Options.Page.WaitTime < 0 {
		fields["options.page_options.wait_time"] = "must be >= 0"
	}
	if req.Options.Spider.PageLimit < 0 {
		fields["options.spider_options.page_limit"] = "must be >= 0"
	}
	if req.Options.Spider.MaxDepth < 0 {
		fields["options.spider_options.max_depth"] = "must be >= 0"
	}
	if req.Options.Sitemap.MaxURLs < 0 {
		fields["options.sitemap_options.max_urls"] = "must be >= 0"
	}
	for i, p := range req.Options.Proxies {
		key := fmt.Sprintf("options.proxy_servers.%d", i)
		switch p.Type {
		case crawl.ProxyHTTP, crawl.ProxySOCKS4, crawl.ProxySOCKS5:
		default:
			fields[key+".proxy_type"] = "must be http, socks4, or socks5"
		}
		if p.Host == "" {
			fields[key+".host"] = "is required"
		}
		if p.Port <= 0 || p.Port > 65535 {
			fields[key+".port"] = "must be in 1-65535"
		}
	}
	return fields
}

// submitKind returns the submit handler for one request kind. The request row
// is created in status new before the task is queued, so a lost task is
// visible as a stuck-new request rather than a dangling ID.
func (s *Server) submitKind(kind crawl.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req submitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(s.logger, w, http.StatusBadRequest, "invalid JSON")
			return
		}
		if fields := req.validate(kind); len(fields) > 0 {
			writeValidationError(s.logger, w, fields)
			return
		}

		id, err := s.idGen.NewID()
		if err != nil {
			writeError(s.logger, w, http.StatusInternalServerError, "failed to allocate request id")
			return
		}
		record := crawl.Request{
			ID:        id,
			Kind:      kind,
			URL:       strings.TrimSpace(req.URL),
			Options:   req.Options,
			Status:    crawl.StatusNew,
			Submitted: s.clock.Now(),
		}
		if err := s.requests.CreateRequest(r.Context(), record); err != nil {
			s.logger.Error("create request failed", zap.Error(err))
			writeError(s.logger, w, http.StatusInternalServerError, "failed to create request")
			return
		}

		queueCtx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := s.queue.Enqueue(queueCtx, crawl.Task{Kind: kind, RequestID: id}); err != nil {
			s.logger.Error("enqueue task failed", zap.Error(err))
			writeError(s.logger, w, http.StatusServiceUnavailable, "failed to queue request")
			return
		}
		writeJSON(s.logger, w, http.StatusAccepted, map[string]string{
			"request_id": id.String(),
			"status":     string(crawl.StatusNew),
		})
	}
}

func (s *Server) getRequest(w http.ResponseWriter, r *http.Request) {
	id, err := parseRequestID(r)
	if err != nil {
		writeError(s.logger, w, http.StatusBadRequest, err.Error())
		return
	}
	req, err := s.requests.GetRequest(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(s.logger, w, http.StatusNotFound, "request not found")
			return
		}
		s.logger.Error("get request failed", zap.Error(err))
		writeError(s.logger, w, http.StatusInternalServerError, "failed to load request")
		return
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]any{"request": req})
}

func (s *Server) cancelRequest(w http.ResponseWriter, r *http.Request) {
	id, err := parseRequestID(r)
	if err != nil {
		writeError(s.logger, w, http.StatusBadRequest, err.Error())
		return
	}
	req, err := s.requests.GetRequest(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(s.logger, w, http.StatusNotFound, "request not found")
			return
		}
		s.logger.Error("get request failed", zap.Error(err))
		writeError(s.logger, w, http.StatusInternalServerError, "failed to load request")
		return
	}
	canceler, ok := s.cancelers[req.Kind]
	if !ok {
		writeError(s.logger, w, http.StatusConflict, "request kind cannot be canceled here")
		return
	}
	if err := canceler.Stop(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			writeError(s.logger, w, http.StatusConflict,
				fmt.Sprintf("request is %s and cannot be canceled", req.Status))
			return
		}
		s.logger.Error("cancel request failed", zap.Error(err))
		writeError(s.logger, w, http.StatusInternalServerError, "failed to cancel request")
		return
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]string{
		"request_id": id.String(),
		"status":     string(crawl.StatusCanceling),
	})
}

func (s *Server) getResults(w http.ResponseWriter, r *http.Request) {
	id, err := parseRequestID(r)
	if err != nil {
		writeError(s.logger, w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := s.requests.GetRequest(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(s.logger, w, http.StatusNotFound, "request not found")
			return
		}
		s.logger.Error("get request failed", zap.Error(err))
		writeError(s.logger, w, http.StatusInternalServerError, "failed to load request")
		return
	}

	results, _, err := s.results.ListResults(r.Context(), id, 0)
	if err != nil {
		s.logger.Error("list results failed", zap.Error(err))
		writeError(s.logger, w, http.StatusInternalServerError, "failed to load results")
		return
	}

	prefetched := r.URL.Query().Get("prefetched") == "true"
	format := strings.ToLower(r.URL.Query().Get("format"))
	if format == "" {
		format = "json"
	}
	if format != "json" && format != "markdown" {
		writeValidationError(s.logger, w, map[string]string{"format": "must be json or markdown"})
		return
	}

	if !prefetched {
		// Summaries plus a download URL the client can follow for the full
		// payloads.
		summaries := make([]map[string]any, 0, len(results))
		for _, res := range results {
			summaries = append(summaries, map[string]any{
				"id":         res.ID,
				"url":        res.URL,
				"created_at": res.CreatedAt,
			})
		}
		writeJSON(s.logger, w, http.StatusOK, map[string]any{
			"results":      summaries,
			"download_url": fmt.Sprintf("/v1/requests/%s/results?prefetched=true&format=%s", id, format),
		})
		return
	}

	if format == "markdown" {
		var b strings.Builder
		for i, res := range results {
			if i > 0 {
				b.WriteString("\n\n---\n\n")
			}
			b.WriteString(res.Payload.Markdown)
		}
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(b.String())); err != nil {
			s.logger.Error("write markdown failed", zap.Error(err))
		}
		return
	}

	writeJSON(s.logger, w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) getSites(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		writeError(s.logger, w, http.StatusServiceUnavailable, "stats repository unavailable")
		return
	}
	id, err := parseRequestID(r)
	if err != nil {
		writeError(s.logger, w, http.StatusBadRequest, err.Error())
		return
	}
	sites, err := s.stats.ListRequestSites(r.Context(), id, 100, 0)
	if err != nil {
		s.logger.Error("list sites failed", zap.Error(err))
		writeError(s.logger, w, http.StatusInternalServerError, "failed to load site stats")
		return
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]any{"sites": sites})
}

// streamRequest serves the SSE progress feed: `data: {type,data}\n\n`
// messages until the request reaches a terminal status.
func (s *Server) streamRequest(w http.ResponseWriter, r *http.Request) {
	id, err := parseRequestID(r)
	if err != nil {
		writeError(s.logger, w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := s.requests.GetRequest(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(s.logger, w, http.StatusNotFound, "request not found")
			return
		}
		s.logger.Error("get request failed", zap.Error(err))
		writeError(s.logger, w, http.StatusInternalServerError, "failed to load request")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(s.logger, w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events := spider.CheckStatus(r.Context(), s.requests, s.results, id, s.cfg.StreamInterval, s.logger)
	for evt := range events {
		data, err := json.Marshal(evt)
		if err != nil {
			s.logger.Error("marshal stream event failed", zap.Error(err))
			return
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return
		}
		flusher.Flush()
	}
}

func parseRequestID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "request_id")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("malformed request id %q", raw)
	}
	return id, nil
}
