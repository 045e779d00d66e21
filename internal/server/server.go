// Package server exposes the proxy over HTTP: search, mediated fetch of
// search results, direct web fetch, runtime list administration, health
// probes and metrics. Handlers translate between the JSON surface and the
// pipeline; they hold no policy of their own.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/clawrubber/internal/metrics"
	"github.com/hyperifyio/clawrubber/internal/pipeline"
	"github.com/hyperifyio/clawrubber/internal/policy"
	"github.com/hyperifyio/clawrubber/internal/queue"
	"github.com/hyperifyio/clawrubber/internal/search"
	"github.com/hyperifyio/clawrubber/internal/store"
)

const (
	// Request bodies are small JSON documents.
	maxBodyBytes = 1 << 20

	maxWebFetchChars = 5_000_000
)

// Server carries the wired dependencies behind the HTTP surface.
type Server struct {
	Search   *search.Service
	Pipeline *pipeline.Pipeline
	Store    *store.Store

	// RedactURLs hides result URLs from search responses.
	RedactURLs bool
	// ExposeSafeContentURLs includes url and final_url in fetch responses.
	ExposeSafeContentURLs bool
	// DashboardWriteAPI enables the runtime list admin endpoints.
	DashboardWriteAPI bool
}

// Handler returns the complete HTTP surface with logging, panic recovery
// and request metrics applied.
func (s *Server) Handler() http.Handler {
	return s.instrument(s.routes())
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/v1/search", s.handleSearch).Methods(http.MethodPost)
	r.HandleFunc("/v1/fetch", s.handleFetch).Methods(http.MethodPost)
	r.HandleFunc("/v1/web-fetch", s.handleWebFetch).Methods(http.MethodPost)
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.handleReadyz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	if s.DashboardWriteAPI {
		r.HandleFunc("/v1/admin/allowlist", s.handleListDomains(s.Store.ListAllowlistDomains)).Methods(http.MethodGet)
		r.HandleFunc("/v1/admin/allowlist", s.handleAddDomain(s.Store.AddAllowlistDomain)).Methods(http.MethodPost)
		r.HandleFunc("/v1/admin/blocklist", s.handleListDomains(s.Store.ListBlocklistDomains)).Methods(http.MethodGet)
		r.HandleFunc("/v1/admin/blocklist", s.handleAddDomain(s.Store.AddBlocklistDomain)).Methods(http.MethodPost)
	}
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "no such route", "")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "")
	})
	return r
}

func (s *Server) instrument(router *mux.Router) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		reqID := req.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		sw.Header().Set("X-Request-ID", reqID)
		defer func() {
			if rec := recover(); rec != nil {
				log.Error().Interface("panic", rec).Str("request_id", reqID).Str("path", req.URL.Path).Msg("handler panicked")
				if !sw.wrote {
					writeError(sw, http.StatusInternalServerError, "internal error", "")
				}
				sw.status = http.StatusInternalServerError
			}
			metrics.HTTPRequestsTotal.WithLabelValues(routeLabel(router, req), strconv.Itoa(sw.status)).Inc()
			log.Info().
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Str("request_id", reqID).
				Int("status", sw.status).
				Dur("elapsed", time.Since(start)).
				Msg("http request")
		}()
		router.ServeHTTP(sw, req)
	})
}

// routeLabel keeps the metric label bounded by using the route template of
// matched requests.
func routeLabel(router *mux.Router, req *http.Request) string {
	var m mux.RouteMatch
	if router.Match(req, &m) && m.Route != nil {
		if tmpl, err := m.Route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}

type statusWriter struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (w *statusWriter) WriteHeader(code int) {
	if w.wrote {
		return
	}
	w.wrote = true
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.wrote {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

type searchRequest struct {
	Query      string `json:"query"`
	Count      int    `json:"count"`
	Country    string `json:"country"`
	SearchLang string `json:"searchLang"`
	Safesearch string `json:"safesearch"`
	Freshness  string `json:"freshness"`
}

type searchResultEntry struct {
	ResultID     string `json:"result_id"`
	Title        string `json:"title"`
	Snippet      string `json:"snippet"`
	Source       string `json:"source"`
	Rank         int    `json:"rank,omitempty"`
	Availability string `json:"availability"`
	URL          string `json:"url,omitempty"`
	RiskHint     string `json:"risk_hint,omitempty"`
}

type searchMeta struct {
	TotalReturned int  `json:"total_returned"`
	URLsExposed   bool `json:"urls_exposed"`
}

type searchResponse struct {
	RequestID string              `json:"request_id"`
	Results   []searchResultEntry `json:"results"`
	Meta      searchMeta          `json:"meta"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.Search == nil {
		writeError(w, http.StatusServiceUnavailable, "search provider not configured", "")
		return
	}
	var req searchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "invalid request body", "query is required")
		return
	}
	if req.Count < 0 || req.Count > 20 {
		writeError(w, http.StatusBadRequest, "invalid request body", "count must be between 1 and 20")
		return
	}
	switch req.Safesearch {
	case "", "off", "moderate", "strict":
	default:
		writeError(w, http.StatusBadRequest, "invalid request body", "safesearch must be off, moderate or strict")
		return
	}

	resp, err := s.Search.Search(r.Context(), search.Query{
		Text:       req.Query,
		Count:      req.Count,
		Country:    req.Country,
		SearchLang: req.SearchLang,
		Safesearch: req.Safesearch,
		Freshness:  req.Freshness,
	})
	if err != nil {
		if errors.Is(err, queue.ErrOverflow) {
			writeError(w, http.StatusServiceUnavailable, "search queue is full", "")
			return
		}
		log.Warn().Err(err).Str("query", req.Query).Msg("search failed")
		writeError(w, http.StatusBadGateway, "upstream search failed", err.Error())
		return
	}

	out := searchResponse{
		RequestID: resp.RequestID,
		Results:   make([]searchResultEntry, 0, len(resp.Results)),
	}
	for _, rec := range resp.Results {
		e := searchResultEntry{
			ResultID:     rec.ResultID,
			Title:        rec.Title,
			Snippet:      rec.Snippet,
			Source:       rec.Source,
			Rank:         rec.Rank,
			Availability: rec.Availability,
		}
		if !s.RedactURLs {
			e.URL = rec.URL
		}
		if rec.Availability == store.AvailabilityBlocked {
			e.RiskHint = "high"
		}
		out.Results = append(out.Results, e)
	}
	out.Meta = searchMeta{TotalReturned: len(out.Results), URLsExposed: !s.RedactURLs}
	writeJSON(w, http.StatusOK, out)
}

type fetchRequest struct {
	ResultID string `json:"result_id"`
}

type fetchAllowResponse struct {
	ResultID       string          `json:"result_id"`
	URL            string          `json:"url,omitempty"`
	FinalURL       string          `json:"final_url,omitempty"`
	Content        string          `json:"content"`
	ContentSummary string          `json:"content_summary"`
	Safety         pipeline.Safety `json:"safety"`
	Source         pipeline.Source `json:"source"`
}

type fetchBlockResponse struct {
	ResultID string          `json:"result_id"`
	Safety   pipeline.Safety `json:"safety"`
	Source   pipeline.Source `json:"source"`
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	var req fetchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if _, err := uuid.Parse(req.ResultID); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "result_id must be a UUID")
		return
	}

	rec, err := s.Store.GetSearchResult(req.ResultID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "unknown or expired result_id", "")
		return
	}
	if err != nil {
		writeError(w, http.StatusBadGateway, "result lookup failed", err.Error())
		return
	}

	out, err := s.runPipeline(r.Context(), pipeline.Request{
		URL:       rec.URL,
		TraceKind: store.TraceSearchResultFetch,
		Search: &pipeline.SearchContext{
			ResultID:  rec.ResultID,
			RequestID: rec.RequestID,
			Query:     rec.Query,
			Rank:      rec.Rank,
		},
	})
	if err != nil {
		writeError(w, http.StatusBadGateway, "upstream fetch failed", err.Error())
		return
	}
	if !out.Allowed {
		writeJSON(w, http.StatusUnprocessableEntity, fetchBlockResponse{
			ResultID: rec.ResultID,
			Safety:   out.Safety,
			Source:   s.redactSource(out.Source),
		})
		return
	}

	resp := fetchAllowResponse{
		ResultID:       rec.ResultID,
		Content:        out.Content,
		ContentSummary: out.ContentSummary,
		Safety:         out.Safety,
		Source:         s.redactSource(out.Source),
	}
	if s.ExposeSafeContentURLs {
		resp.URL = rec.URL
		resp.FinalURL = out.Source.FinalURL
	}
	writeJSON(w, http.StatusOK, resp)
}

type webFetchRequest struct {
	URL         string `json:"url"`
	ExtractMode string `json:"extractMode"`
	MaxChars    int    `json:"maxChars"`
}

type webFetchAllowResponse struct {
	FetchID        uint64          `json:"fetch_id"`
	URL            string          `json:"url,omitempty"`
	FinalURL       string          `json:"final_url,omitempty"`
	ExtractMode    string          `json:"extract_mode"`
	Content        string          `json:"content"`
	ContentSummary string          `json:"content_summary"`
	Truncated      bool            `json:"truncated"`
	Safety         pipeline.Safety `json:"safety"`
	Source         pipeline.Source `json:"source"`
}

type webFetchBlockResponse struct {
	FetchID uint64          `json:"fetch_id"`
	Safety  pipeline.Safety `json:"safety"`
	Source  pipeline.Source `json:"source"`
}

func (s *Server) handleWebFetch(w http.ResponseWriter, r *http.Request) {
	var req webFetchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	target, err := url.Parse(req.URL)
	if err != nil || target.Scheme != "https" || target.Hostname() == "" {
		writeError(w, http.StatusBadRequest, "invalid request body", "url must be an absolute https URL")
		return
	}
	mode := req.ExtractMode
	switch mode {
	case "":
		mode = pipeline.ModeMarkdown
	case pipeline.ModeMarkdown, pipeline.ModeText:
	default:
		writeError(w, http.StatusBadRequest, "invalid request body", "extractMode must be markdown or text")
		return
	}
	if req.MaxChars < 0 || req.MaxChars > maxWebFetchChars {
		writeError(w, http.StatusBadRequest, "invalid request body", "maxChars must be between 1 and 5000000")
		return
	}

	out, err := s.runPipeline(r.Context(), pipeline.Request{
		URL:        req.URL,
		OutputMode: mode,
		MaxChars:   req.MaxChars,
		TraceKind:  store.TraceDirectWebFetch,
	})
	if err != nil {
		writeError(w, http.StatusBadGateway, "upstream fetch failed", err.Error())
		return
	}
	if !out.Allowed {
		writeJSON(w, http.StatusUnprocessableEntity, webFetchBlockResponse{
			FetchID: out.EventID,
			Safety:  out.Safety,
			Source:  s.redactSource(out.Source),
		})
		return
	}

	resp := webFetchAllowResponse{
		FetchID:        out.EventID,
		ExtractMode:    mode,
		Content:        out.Content,
		ContentSummary: out.ContentSummary,
		Truncated:      out.Truncated,
		Safety:         out.Safety,
		Source:         s.redactSource(out.Source),
	}
	if s.ExposeSafeContentURLs {
		resp.URL = req.URL
		resp.FinalURL = out.Source.FinalURL
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) runPipeline(ctx context.Context, req pipeline.Request) (*pipeline.Outcome, error) {
	start := time.Now()
	out, err := s.Pipeline.Run(ctx, req)
	metrics.FetchDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	metrics.IncFetchDecision(out.Safety.Decision, out.Safety.BlockedBy)
	return out, nil
}

// redactSource hides the final URL when safe-content URLs are not exposed.
func (s *Server) redactSource(src pipeline.Source) pipeline.Source {
	if !s.ExposeSafeContentURLs {
		src.FinalURL = ""
	}
	return src
}

type domainRequest struct {
	Domain string `json:"domain"`
	Note   string `json:"note"`
}

type domainEntryPayload struct {
	Domain  string    `json:"domain"`
	Note    string    `json:"note,omitempty"`
	AddedAt time.Time `json:"added_at"`
}

func (s *Server) handleListDomains(list func() ([]store.RuntimeDomainEntry, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		entries, err := list()
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, "store unavailable", err.Error())
			return
		}
		out := make([]domainEntryPayload, 0, len(entries))
		for _, e := range entries {
			out = append(out, domainEntryPayload{Domain: e.Domain, Note: e.Note, AddedAt: e.AddedAt})
		}
		writeJSON(w, http.StatusOK, map[string]any{"domains": out})
	}
}

func (s *Server) handleAddDomain(add func(domain, note string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req domainRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
			return
		}
		domain, err := policy.ValidateDomain(req.Domain)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
			return
		}
		if err := add(domain, req.Note); err != nil {
			writeError(w, http.StatusServiceUnavailable, "store unavailable", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"domain": domain, "status": "added"})
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	deps := map[string]bool{
		"store":           s.Store.IsHealthy(),
		"search_provider": s.Search != nil,
	}
	ready := true
	for _, ok := range deps {
		if !ok {
			ready = false
		}
	}
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{"ready": ready, "dependencies": deps})
}

type errorPayload struct {
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// writeError emits the error envelope shared by every failure response.
func writeError(w http.ResponseWriter, status int, message, details string) {
	writeJSON(w, status, map[string]errorPayload{"error": {Message: message, Details: details}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("encode response")
	}
}

// decodeJSON reads one JSON document from the request body with a size
// ceiling.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(v)
}
