package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.metricsMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.HTTP.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Route("/v1", func(v1 chi.Router) {
		v1.Use(s.authenticated)

		v1.Get("/branches", s.handleListBranches)
		v1.Get("/branches/nearby", s.handleListBranchesNearby)
		v1.Get("/branches/{branchID}", s.handleGetBranch)
		v1.Get("/branches/{branchID}/windows", s.handleListBranchWindows)
		v1.Get("/branches/{branchID}/availability", s.handleGetBranchAvailability)
		v1.Post("/branches/{branchID}/appointments", s.handleCreateAppointment)
		v1.Patch("/appointments/{appointmentID}/status", s.handleUpdateAppointmentStatus)

		v1.Get("/emergency/pricing", s.handleGetPricing)
		v1.Get("/emergency/pricing/history", s.handleListPricingHistory)
		v1.Post("/emergency/nearest", s.handleFindNearest)
		v1.Post("/emergency/quote", s.handleQuote)
		v1.Post("/emergency/requests", s.handleCreateEmergencyRequest)
		v1.Get("/emergency/requests", s.handleListEmergencyRequests)
		v1.Get("/emergency/requests/{requestID}", s.handleGetEmergencyRequest)
		v1.Patch("/emergency/requests/{requestID}/status", s.handleUpdateEmergencyStatus)

		// Manager-only writes
		v1.Group(func(mgr chi.Router) {
			mgr.Use(s.requireRole(RoleManager))

			mgr.Post("/branches", s.handleCreateBranch)
			mgr.Patch("/branches/{branchID}/status", s.handleUpdateBranchStatus)
			mgr.Patch("/branches/{branchID}/hours", s.handleUpdateBranchHours)
			mgr.Post("/emergency/pricing", s.handleCreatePricing)
		})
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		duration := time.Since(start)
		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("request_id", middleware.GetReqID(r.Context())).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", duration).
			Msg("http request")
	})
}
