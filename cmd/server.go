package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/leadscrape/internal/model"
	"github.com/sells-group/leadscrape/internal/monitoring"
	"github.com/sells-group/leadscrape/internal/orchestrate"
	"github.com/sells-group/leadscrape/internal/scraper"
	"github.com/sells-group/leadscrape/internal/store"
)

// enricher runs orchestration requests.
type enricher interface {
	Run(ctx context.Context, req orchestrate.Request) (*model.Metrics, error)
	Registry() *scraper.Registry
}

// reader is the read side of the store used by the API.
type reader interface {
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter store.RunFilter) ([]model.Run, error)
	GetLead(ctx context.Context, id string) (*model.Lead, error)
	GetCompany(ctx context.Context, id string) (*model.Company, error)
	ListUsage(ctx context.Context, entityType model.EntityType, entityID string) ([]model.EntityScraperUsage, error)
}

type server struct {
	svc   enricher
	db    reader
	stats *monitoring.Collector
}

// newRouter builds the HTTP API.
func newRouter(svc enricher, db reader, allowedOrigins []string) http.Handler {
	s := &server{svc: svc, db: db, stats: monitoring.NewCollector(db)}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/scrapers", s.listScrapers)
		r.Post("/scrapers/{scraperID}/runs", s.startRun)
		r.Get("/runs", s.listRuns)
		r.Get("/runs/stats", s.runStats)
		r.Get("/runs/{runID}", s.getRun)
		r.Get("/leads/{leadID}", s.getLead)
	})
	return r
}

func (s *server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) listScrapers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"scrapers": s.svc.Registry().List()})
}

// startRun executes one enrichment request and answers with its metrics. The
// request context is detached so a client disconnect does not abandon a run
// the provider has already accepted.
func (s *server) startRun(w http.ResponseWriter, r *http.Request) {
	var req orchestrate.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	req.ScraperID = chi.URLParam(r, "scraperID")

	metrics, err := s.svc.Run(context.WithoutCancel(r.Context()), req)
	if err != nil {
		log := zap.L().With(
			zap.String("scraper_id", req.ScraperID),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
		category := model.Classify(err)
		if category == model.ErrorCategoryValidation {
			log.Debug("rejected enrichment request", zap.Error(err))
		} else {
			log.Error("enrichment request failed", zap.String("category", string(category)), zap.Error(err))
		}

		var rl *model.RateLimitError
		if category == model.ErrorCategoryRateLimit && errors.As(err, &rl) && rl.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(rl.RetryAfter.Round(time.Second).Seconds())))
		}
		writeError(w, statusFor(category), err.Error(), map[string]any{
			"category": category,
			"metrics":  metrics,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"metrics": metrics})
}

func (s *server) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.db.GetRun(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		zap.L().Error("get run", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load run", nil)
		return
	}
	if run == nil {
		writeError(w, http.StatusNotFound, "run not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *server) listRuns(w http.ResponseWriter, r *http.Request) {
	filter, err := runFilterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	runs, err := s.db.ListRuns(r.Context(), filter)
	if err != nil {
		zap.L().Error("list runs", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list runs", nil)
		return
	}
	if runs == nil {
		runs = []model.Run{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *server) runStats(w http.ResponseWriter, r *http.Request) {
	since := 24 * time.Hour
	if v := r.URL.Query().Get("since"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "since must be a positive duration", nil)
			return
		}
		since = d
	}
	stats, err := s.stats.Collect(r.Context(), since, store.RunFilter{
		ScraperID: r.URL.Query().Get("scraper_id"),
		UserID:    r.URL.Query().Get("user_id"),
	})
	if err != nil {
		zap.L().Error("run stats", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to collect stats", nil)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// leadView is a lead with its read-time scores and enrichment history.
type leadView struct {
	Lead         *model.Lead                `json:"lead"`
	LeadScore    int                        `json:"lead_score"`
	Company      *model.Company             `json:"company,omitempty"`
	CompanyScore int                        `json:"company_score,omitempty"`
	Usage        []model.EntityScraperUsage `json:"usage"`
}

func (s *server) getLead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	lead, err := s.db.GetLead(ctx, chi.URLParam(r, "leadID"))
	if err != nil {
		zap.L().Error("get lead", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load lead", nil)
		return
	}
	// Leads of other users are reported as missing.
	if lead == nil || lead.UserID != r.URL.Query().Get("user_id") {
		writeError(w, http.StatusNotFound, "lead not found", nil)
		return
	}

	view := leadView{Lead: lead, Usage: []model.EntityScraperUsage{}}
	if lead.CompanyID != "" {
		view.Company, err = s.db.GetCompany(ctx, lead.CompanyID)
		if err != nil {
			zap.L().Error("get lead company", zap.String("lead_id", lead.ID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to load company", nil)
			return
		}
		if view.Company != nil {
			view.CompanyScore = model.CompanyScore(view.Company)
		}
	}
	view.LeadScore = model.LeadScore(lead, view.Company)

	usage, err := s.db.ListUsage(ctx, model.EntityLead, lead.ID)
	if err != nil {
		zap.L().Error("list lead usage", zap.String("lead_id", lead.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load usage", nil)
		return
	}
	if usage != nil {
		view.Usage = usage
	}
	writeJSON(w, http.StatusOK, view)
}

func runFilterFromQuery(r *http.Request) (store.RunFilter, error) {
	q := r.URL.Query()
	f := store.RunFilter{
		ScraperID:    q.Get("scraper_id"),
		UserID:       q.Get("user_id"),
		CollectionID: q.Get("collection_id"),
		Status:       model.RunStatus(q.Get("status")),
	}
	for key, dst := range map[string]*int{"limit": &f.Limit, "offset": &f.Offset} {
		v := q.Get(key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, model.NewValidationError(key, "must be a non-negative integer")
		}
		*dst = n
	}
	return f, nil
}

// statusFor maps an error category to an HTTP status.
func statusFor(c model.ErrorCategory) int {
	switch c {
	case model.ErrorCategoryValidation:
		return http.StatusBadRequest
	case model.ErrorCategoryRateLimit:
		return http.StatusTooManyRequests
	case model.ErrorCategoryTimeout:
		return http.StatusGatewayTimeout
	case model.ErrorCategoryProvider:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string, extra map[string]any) {
	body := map[string]any{"error": msg}
	for k, v := range extra {
		body[k] = v
	}
	writeJSON(w, status, body)
}
