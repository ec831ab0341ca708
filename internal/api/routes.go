package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SetupRoutes wires every documented endpoint from spec.md §6 onto a
// fresh chi router, grouped under /documents/v1 with the same
// middleware stack (request logging, panic recovery, real-IP, request
// id, permissive CORS for the admin console) the teacher's server uses.
func SetupRoutes(h *Handlers) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", h.HealthCheck)

	r.Route("/documents/v1", func(r chi.Router) {
		r.Route("/uploads", func(r chi.Router) {
			r.Post("/direct", h.CreateDirectUpload)
			r.Post("/multipart", h.CreateMultipartUpload)
			r.Get("/{jobId}/parts/{partNumber}", h.PresignPart)
			r.Post("/{jobId}/complete", h.CompleteMultipartUpload)
		})

		r.Route("/jobs", func(r chi.Router) {
			r.Post("/{jobId}/trigger-processing", h.TriggerProcessing)
			r.Post("/retry", h.Retry)
			r.Post("/{jobId}/terminate", h.TerminateJob)
			r.Post("/terminate-all-active", h.TerminateAllActiveJobs)
		})

		r.Route("/views", func(r chi.Router) {
			r.Post("/list/{gxBucketId}", h.ListView)
			r.Post("/metrics", h.ViewMetrics)
		})

		r.Route("/downloads", func(r chi.Router) {
			r.Post("/presigned-url", h.PresignedDownloadURL)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeFailure(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeFailure(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	return r
}
