// Package httpapi exposes the audit trail over HTTP.
package httpapi

import (
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/yourorg/yourapp/apps/audit/internal/exportjob"
	"github.com/yourorg/yourapp/apps/audit/internal/trail"
)

const maxBodyBytes = 1 << 20

type Deps struct {
	Store   *trail.Store
	Jobs    *exportjob.JobQueue
	Limiter *exportjob.RateLimiter
	Metrics http.Handler
	Logger  *slog.Logger
}

type Server struct {
	store   *trail.Store
	jobs    *exportjob.JobQueue
	limiter *exportjob.RateLimiter
	metrics http.Handler
	logger  *slog.Logger
}

func New(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Server{
		store:   deps.Store,
		jobs:    deps.Jobs,
		limiter: deps.Limiter,
		metrics: deps.Metrics,
		logger:  deps.Logger,
	}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(correlation)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, corrIDFrom(r), map[string]string{"status": "ok"}, nil)
	})
	r.Get("/audit/metrics", s.auditMetrics)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	r.Route("/chains", func(r chi.Router) {
		r.Post("/", s.createChain)
		r.Get("/", s.listChains)
		r.Route("/{chainID}", func(r chi.Router) {
			r.Post("/events", s.appendEvent)
			r.Get("/events", s.queryEvents)
			r.Get("/events/{eventID}/proof", s.eventProof)
			r.Post("/verify", s.verifyChain)
			r.Get("/export", s.exportChain)
			r.Get("/report", s.complianceReport)
		})
	})
	r.Post("/log/{kind}", s.logEvent)

	if s.jobs != nil {
		r.Post("/exports", s.enqueueExport)
		r.Get("/exports/{jobID}", s.getExport)
	}
	return r
}

// correlation echoes X-Correlation-Id, falling back to the request id.
func correlation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Correlation-Id") == "" {
			r.Header.Set("X-Correlation-Id", middleware.GetReqID(r.Context()))
		}
		next.ServeHTTP(w, r)
	})
}

func corrIDFrom(r *http.Request) string {
	return r.Header.Get("X-Correlation-Id")
}

func (s *Server) log(r *http.Request, chainID string) *slog.Logger {
	return trail.CorrelationLogger(s.logger, chainID, corrIDFrom(r))
}

func decodeBody(body io.ReadCloser, v any) error {
	defer body.Close()
	dec := json.NewDecoder(io.LimitReader(body, maxBodyBytes))
	dec.UseNumber()
	return dec.Decode(v)
}

func (s *Server) badJSON(w http.ResponseWriter, r *http.Request, err error) {
	writeValidation(w, corrIDFrom(r), "BAD_JSON", []exportjob.ValidationErrorItem{{Code: "BAD_JSON", Path: "body", Message: err.Error()}})
}

// clientIP prefers proxy headers over the socket address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func requester(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Actor-Id"))
}
