package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ZetoOfficial/portal-cms/internal/auth"
	"github.com/ZetoOfficial/portal-cms/internal/billing"
	"github.com/ZetoOfficial/portal-cms/internal/content"
	"github.com/ZetoOfficial/portal-cms/internal/dashboard"
	"github.com/ZetoOfficial/portal-cms/internal/metrics"
	"github.com/ZetoOfficial/portal-cms/internal/models"
	"github.com/ZetoOfficial/portal-cms/internal/session"
	"github.com/ZetoOfficial/portal-cms/internal/settings"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps содержит всё, что нужно обработчикам.
type Deps struct {
	Auth       *auth.Service
	Sessions   *session.Manager
	Articles   *content.ArticleService
	Categories *content.CategoryService
	Comments   *content.CommentService
	Projects   *content.ProjectService
	Invoices   *billing.Service
	Settings   *settings.Service
	Dashboard  *dashboard.Service
	Metrics    *metrics.Registry
	// Pingers are checked by /healthz, keyed by component name.
	Pingers map[string]Pinger
	// LogFile is the file behind the admin log viewer; empty disables it.
	LogFile string

	// TrustProxy enables middleware.RealIP. Without it the forwarding
	// headers are ignored and throttling keys on the socket address.
	TrustProxy bool
}

type Server struct {
	Deps
}

func New(d Deps) *Server {
	return &Server{Deps: d}
}

// Router собирает таблицу маршрутов.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if s.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(s.measure)

	r.Get("/healthz", s.healthz)
	if s.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.Metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Use(s.loadSession)
		r.Use(s.checkCSRF)

		r.Get("/settings/public", s.publicSettings)
		r.Get("/session", s.currentSession)

		r.Get("/articles", s.listArticles)
		r.Get("/articles/{slug}", s.getArticle)
		r.Get("/articles/{slug}/comments", s.listComments)
		r.Post("/articles/{slug}/comments", s.postComment)
		r.Get("/categories", s.listCategories)
		r.Get("/projects", s.listProjects)
		r.Get("/projects/{slug}", s.getProject)

		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", s.register)
			r.Post("/login", s.login)
			r.Post("/logout", s.logout)
			r.Post("/verify", s.verifyEmail)
			r.Post("/resend", s.resendVerification)
			r.Post("/forgot", s.forgotPassword)
			r.Post("/reset", s.resetPassword)
			r.With(s.requireAuth).Post("/password", s.changePassword)
		})

		r.Route("/portal", func(r chi.Router) {
			r.Use(s.requireAuth)
			r.Use(requireRole(models.RoleClient))
			r.Get("/invoices", s.portalInvoices)
			r.Get("/invoices/{id}", s.portalInvoice)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(s.requireAuth)
			r.Use(requireRole(models.RoleAdmin, models.RoleEditor))
			s.adminRoutes(r)
			r.Group(func(r chi.Router) {
				r.Use(requireRole(models.RoleAdmin))
				s.adminOnlyRoutes(r)
			})
		})
	})
	return r
}

func (s *Server) adminRoutes(r chi.Router) {
	r.Get("/dashboard", s.dashboardStats)
	r.Get("/reports", s.listReports)
	r.Get("/reports/{name}", s.runReport)

	r.Get("/articles", s.adminListArticles)
	r.Post("/articles", s.createArticle)
	r.Get("/articles/{id}", s.adminGetArticle)
	r.Put("/articles/{id}", s.updateArticle)
	r.Delete("/articles/{id}", s.deleteArticle)
	r.Post("/articles/{id}/publish", s.publishArticle)
	r.Post("/articles/{id}/unpublish", s.unpublishArticle)
	r.Post("/articles/{id}/archive", s.archiveArticle)

	r.Get("/categories", s.listCategories)
	r.Post("/categories", s.createCategory)
	r.Put("/categories/{id}", s.updateCategory)
	r.Delete("/categories/{id}", s.deleteCategory)

	r.Get("/comments", s.commentQueue)
	r.Post("/comments/bulk", s.bulkModerate)
	r.Post("/comments/{id}/{action}", s.moderateComment)
	r.Delete("/comments/{id}", s.deleteComment)

	r.Get("/projects", s.adminListProjects)
	r.Post("/projects", s.createProject)
	r.Get("/projects/{id}", s.adminGetProject)
	r.Put("/projects/{id}", s.updateProject)
	r.Delete("/projects/{id}", s.deleteProject)
}

func (s *Server) adminOnlyRoutes(r chi.Router) {
	r.Get("/invoices", s.listInvoices)
	r.Post("/invoices", s.createInvoice)
	r.Get("/invoices/{id}", s.getInvoice)
	r.Put("/invoices/{id}", s.updateInvoice)
	r.Post("/invoices/{id}/send", s.sendInvoice)
	r.Post("/invoices/{id}/pay", s.payInvoice)
	r.Post("/invoices/{id}/cancel", s.cancelInvoice)

	r.Get("/settings", s.getSettings)
	r.Put("/settings", s.putSettings)

	r.Get("/users", s.listUsers)
	r.Patch("/users/{id}", s.updateUser)

	r.Get("/logs", s.viewLogs)
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{}
	code := http.StatusOK
	for name, p := range s.Pingers {
		if err := p.Ping(r.Context()); err != nil {
			status[name] = err.Error()
			code = http.StatusServiceUnavailable
			continue
		}
		status[name] = "ok"
	}
	writeJSON(w, code, map[string]any{"status": http.StatusText(code), "components": status})
}
