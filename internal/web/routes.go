package web

import (
	"github.com/go-chi/chi/v5"
	"github.com/veritime/facegate/internal/web/handlers"
	"github.com/veritime/facegate/internal/web/middleware"
)

func (s *Server) setupRoutes() {
	// Create handlers
	verifyHandler := handlers.NewVerifyHandler(s.deps.Verifier)
	identitiesHandler := handlers.NewIdentitiesHandler(s.deps.Identities, s.deps.Templates)
	templatesHandler := handlers.NewTemplatesHandler(s.deps.Enroller, s.deps.Identities, s.deps.Templates)
	attendanceHandler := handlers.NewAttendanceHandler(s.deps.Attendance, s.deps.Tracker)
	auditHandler := handlers.NewAuditHandler(s.deps.Audit)
	statsHandler := handlers.NewStatsHandler(s.deps.Identities, s.deps.Templates, s.config.Embedding.ModelVersion)

	deviceLimiter := middleware.NewDeviceLimiter(s.config.Web.DeviceRate, s.config.Web.DeviceBurst)

	// Health check and metrics (no auth required)
	s.router.Get("/api/v1/health", handlers.HealthCheck)
	if s.deps.Metrics != nil {
		s.router.Handle("/metrics", s.deps.Metrics.Handler())
	}

	// API routes
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RequireAPIKey(s.config.Web.APIKey))

		// Verification endpoint for capture devices
		r.Group(func(r chi.Router) {
			r.Use(deviceLimiter.Limit)
			r.Post("/verify", verifyHandler.Verify)
		})

		// Identities
		r.Post("/identities", identitiesHandler.Create)
		r.Get("/identities", identitiesHandler.List)
		r.Get("/identities/{id}", identitiesHandler.Get)
		r.Delete("/identities/{id}", identitiesHandler.Delete)

		// Templates
		r.Post("/identities/{id}/templates", templatesHandler.Enroll)
		r.Get("/identities/{id}/templates", templatesHandler.List)
		r.Delete("/templates/{id}", templatesHandler.Retire)

		// Attendance
		r.Get("/identities/{id}/attendance", attendanceHandler.List)
		r.Get("/identities/{id}/attendance/stats", attendanceHandler.Stats)

		// Audit trail
		r.Get("/identities/{id}/audit", auditHandler.ListByIdentity)
		r.Get("/devices/{id}/audit", auditHandler.ListByDevice)

		// Stats
		r.Get("/stats", statsHandler.Get)
	})
}
