// Package server exposes the HTTP surface: the webhook receiver plus small
// read-only endpoints for health, standalone estimation, and the pricing
// catalog of a repository.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/go-github/v39/github"

	"github.com/priceworks/bountybot/internal/config"
	"github.com/priceworks/bountybot/internal/estimate"
	"github.com/priceworks/bountybot/internal/events"
	"github.com/priceworks/bountybot/internal/gh"
	"github.com/priceworks/bountybot/internal/labels"
	"github.com/priceworks/bountybot/internal/pricing"
	"github.com/priceworks/bountybot/internal/reconcile"
)

// LabelLister reads a repository's label catalog. *gh.Client satisfies it.
type LabelLister interface {
	ListRepoLabels(ctx context.Context, owner, repo string) ([]gh.Label, error)
}

// Server wires the webhook dispatcher and the read-only endpoints.
type Server struct {
	Events  *events.Handler
	Est     reconcile.Estimator
	Labels  LabelLister
	Configs config.Fetcher
	Secret  []byte // webhook secret; empty disables signature checks
	Base    float64
	Log     *slog.Logger
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.handleHealth)
	r.Post("/webhook", s.handleWebhook)
	r.Post("/time", s.handleEstimate)
	r.Get("/priorities", s.handleCatalog)
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.Log.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleWebhook validates and dispatches one GitHub delivery. Handled
// outcomes return 200 so GitHub does not retry; only genuine processing
// failures return 500.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := s.readPayload(r)
	if err != nil {
		s.Log.Warn("rejecting webhook payload", "error", err)
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	eventType := github.WebHookType(r)
	if eventType == "" {
		http.Error(w, "missing event type", http.StatusBadRequest)
		return
	}
	s.Log.Info("delivery received", "type", eventType, "delivery", github.DeliveryID(r))

	if err := s.Events.Dispatch(r.Context(), eventType, payload); err != nil {
		s.Log.Error("processing delivery", "type", eventType, "error", err)
		http.Error(w, "processing failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) readPayload(r *http.Request) ([]byte, error) {
	if len(s.Secret) > 0 {
		return github.ValidatePayload(r, s.Secret)
	}
	return io.ReadAll(r.Body)
}

type estimateRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

type estimateResponse struct {
	Time     string `json:"time"`
	Priority string `json:"priority"`
	Price    string `json:"price"`
}

var priorityNumber = regexp.MustCompile(`\d+(?:\.\d+)?`)

// handleEstimate runs a standalone estimation outside any repository: given
// a title and description it returns the estimated time, priority, and the
// price those would produce at the server's base multiplier.
func (s *Server) handleEstimate(w http.ResponseWriter, r *http.Request) {
	if s.Est == nil {
		http.Error(w, "estimation not configured", http.StatusServiceUnavailable)
		return
	}
	var req estimateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		http.Error(w, "title is required", http.StatusBadRequest)
		return
	}

	est, err := s.Est.EstimatePriorityTime(r.Context(), req.Title, req.Description)
	if err != nil {
		s.Log.Error("standalone estimation", "error", err)
		status := http.StatusInternalServerError
		if errors.Is(err, estimate.ErrUpstream) {
			status = http.StatusBadGateway
		}
		http.Error(w, "estimation failed", status)
		return
	}

	resp := estimateResponse{Time: est.Time, Priority: est.Priority}
	if parsed := labels.ParseTimeInput(est.Time); parsed != nil {
		if raw := priorityNumber.FindString(est.Priority); raw != "" {
			value, _ := strconv.ParseFloat(raw, 64)
			price := pricing.Price(s.Base, labels.HoursEquivalent(*parsed), value)
			resp.Price = pricing.FormatLabel(price)
		}
	}
	s.writeJSON(w, resp)
}

type catalogEntry struct {
	Label string  `json:"label"`
	Value float64 `json:"value"`
}

type catalogResponse struct {
	Time     []catalogEntry `json:"time"`
	Priority []catalogEntry `json:"priority"`
}

// handleCatalog reports the pricing-relevant labels of a repository with
// their normalized values, ascending.
func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	owner, repo, ok := splitRepo(r.URL.Query().Get("repo"))
	if !ok {
		http.Error(w, "repo=owner/name is required", http.StatusBadRequest)
		return
	}

	cfg, err := s.Configs.Fetch(r.Context(), owner, repo, "")
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			http.Error(w, "repository has no pricing config", http.StatusNotFound)
			return
		}
		s.Log.Error("loading config", "repo", owner+"/"+repo, "error", err)
		http.Error(w, "loading config failed", http.StatusBadGateway)
		return
	}

	catalog, err := s.Labels.ListRepoLabels(r.Context(), owner, repo)
	if err != nil {
		s.Log.Error("listing labels", "repo", owner+"/"+repo, "error", err)
		http.Error(w, "listing labels failed", http.StatusBadGateway)
		return
	}

	var resp catalogResponse
	for _, label := range catalog {
		if parsed := labels.ParseTimeLabel(label.Name); parsed != nil {
			resp.Time = append(resp.Time, catalogEntry{Label: label.Name, Value: labels.HoursEquivalent(*parsed)})
			continue
		}
		if cfg.PriorityPattern != nil {
			if value, ok := cfg.PriorityPattern.Value(label.Name); ok {
				resp.Priority = append(resp.Priority, catalogEntry{Label: label.Name, Value: value})
			}
		}
	}
	sortEntries(resp.Time)
	sortEntries(resp.Priority)
	s.writeJSON(w, resp)
}

func sortEntries(entries []catalogEntry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Value < entries[j].Value })
}

func splitRepo(s string) (owner, repo string, ok bool) {
	owner, repo, found := strings.Cut(s, "/")
	if !found || owner == "" || repo == "" {
		return "", "", false
	}
	return owner, repo, true
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.Log.Error("encoding response", "error", err)
	}
}
