package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/recoverly-app/recoveryservice/internal/account"
	"github.com/recoverly-app/recoveryservice/internal/domain"
	"github.com/recoverly-app/recoveryservice/internal/jobs"
)

// AdminServer exposes the operator surface: manual job triggers, run
// history, system health and feature access lookups.
type AdminServer struct {
	server    *http.Server
	runner    *jobs.Runner
	accounts  *account.Manager
	jwtSecret string
	logger    *zap.Logger
}

// NewAdminServer builds the admin HTTP server. An empty jwtSecret
// disables authentication; only do that in development.
func NewAdminServer(addr, jwtSecret string, runner *jobs.Runner, accounts *account.Manager, logger *zap.Logger) *AdminServer {
	s := &AdminServer{
		runner:    runner,
		accounts:  accounts,
		jwtSecret: jwtSecret,
		logger:    logger,
	}
	if jwtSecret == "" {
		logger.Warn("Admin API authentication is disabled, no JWT secret configured")
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Post("/jobs/{jobType}/trigger", s.handleTriggerJob)
		r.Get("/jobs/status", s.handleJobStatus)
		r.Get("/jobs/history", s.handleJobHistory)
		r.Get("/health/system", s.handleSystemHealth)
		r.Get("/customers/{customerID}/features/{feature}", s.handleFeatureAccess)
	})

	s.server = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Start serves until Shutdown is called or the listener fails.
func (s *AdminServer) Start() error {
	s.logger.Info("Starting admin server", zap.String("address", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *AdminServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *AdminServer) Handler() http.Handler {
	return s.server.Handler
}

// authenticate verifies a Bearer token signed with the shared secret.
func (s *AdminServer) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.jwtSecret == "" {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		tokenStr := strings.TrimPrefix(header, "Bearer ")

		token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(s.jwtSecret), nil
		})
		if err != nil || !token.Valid {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *AdminServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *AdminServer) handleTriggerJob(w http.ResponseWriter, r *http.Request) {
	jobType := domain.JobType(chi.URLParam(r, "jobType"))
	run, err := s.runner.TriggerJob(r.Context(), jobType)
	if err != nil {
		writeStatusError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *AdminServer) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	statuses, err := s.runner.GetStatus(r.Context())
	if err != nil {
		writeStatusError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statuses)
}

func (s *AdminServer) handleJobHistory(w http.ResponseWriter, r *http.Request) {
	jobType := domain.JobType(r.URL.Query().Get("job_type"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := s.runner.GetHistory(r.Context(), jobType, limit)
	if err != nil {
		writeStatusError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *AdminServer) handleSystemHealth(w http.ResponseWriter, r *http.Request) {
	health, err := s.runner.GetSystemHealth(r.Context())
	if err != nil {
		writeStatusError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, health)
}

func (s *AdminServer) handleFeatureAccess(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "customerID")
	feature := chi.URLParam(r, "feature")
	allowed := s.accounts.CheckFeatureAccess(r.Context(), customerID, feature)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"customer_id": customerID,
		"feature":     feature,
		"allowed":     allowed,
	})
}

func writeJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}

// writeStatusError maps internal gRPC status codes onto HTTP.
func writeStatusError(w http.ResponseWriter, err error) {
	st, ok := status.FromError(err)
	if !ok {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeError(w, httpStatusFor(st.Code()), st.Message())
}

func httpStatusFor(code codes.Code) int {
	switch code {
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.NotFound:
		return http.StatusNotFound
	case codes.FailedPrecondition:
		return http.StatusConflict
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
