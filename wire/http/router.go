package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/amelia-dev/amelia/orchestrator"
)

// Options configures NewRouter.
type Options struct {
	// AllowedOrigins configures CORS; defaults to "*" if empty.
	AllowedOrigins []string
}

// NewRouter builds the chi router exposing spec.md §4.5's HTTP surface over
// svc. The router itself carries no process lifecycle concerns (those live
// in cmd/amelia-server, mirroring the teacher's example/cmd/assistant
// separation between request routing and server start/stop).
func NewRouter(svc *orchestrator.Service, opts Options) http.Handler {
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	h := &handlers{svc: svc, val: newValidator()}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST"},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Post("/workflows", h.createWorkflow)
	r.Get("/workflows", h.listWorkflows)
	r.Get("/workflows/active", h.listActiveWorkflows)
	r.Get("/workflows/{id}", h.getWorkflow)
	r.Get("/workflows/{id}/events", h.getWorkflowEvents)
	r.Post("/workflows/{id}/approve", h.approveWorkflow)
	r.Post("/workflows/{id}/reject", h.rejectWorkflow)
	r.Post("/workflows/{id}/cancel", h.cancelWorkflow)
	r.Post("/workflows/{id}/replan", h.replanWorkflow)
	r.Post("/workflows/{id}/set_plan", h.setPlan)

	return r
}
