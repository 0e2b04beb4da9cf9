package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ZetoOfficial/portal-cms/internal/auth"
	"github.com/ZetoOfficial/portal-cms/internal/billing"
	"github.com/ZetoOfficial/portal-cms/internal/content"
	"github.com/ZetoOfficial/portal-cms/internal/logger"
	"github.com/ZetoOfficial/portal-cms/internal/models"
	"github.com/ZetoOfficial/portal-cms/internal/storage"
)

const (
	defaultLogLines = 200
	maxLogLines     = 1000
)

func (s *Server) dashboardStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.Dashboard.Stats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) listReports(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Dashboard.Reports())
}

func (s *Server) runReport(w http.ResponseWriter, r *http.Request) {
	rows, err := s.Dashboard.Report(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// статьи

func (s *Server) adminListArticles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res, err := s.Articles.ListAll(r.Context(), storage.ArticleFilter{
		Status:     models.ArticleStatus(q.Get("status")),
		CategoryID: q.Get("category_id"),
		AuthorID:   q.Get("author_id"),
		Query:      q.Get("q"),
		Page:       pageParam(r, models.DefaultPageSize),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) createArticle(w http.ResponseWriter, r *http.Request) {
	var in content.ArticleInput
	if err := decode(w, r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	a, err := s.Articles.Create(r.Context(), userFrom(r.Context()).ID, in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (s *Server) adminGetArticle(w http.ResponseWriter, r *http.Request) {
	a, err := s.Articles.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) updateArticle(w http.ResponseWriter, r *http.Request) {
	var in content.ArticleInput
	if err := decode(w, r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	a, err := s.Articles.Update(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) deleteArticle(w http.ResponseWriter, r *http.Request) {
	if err := s.Articles.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) publishArticle(w http.ResponseWriter, r *http.Request) {
	s.articleAction(w, r, s.Articles.Publish)
}

func (s *Server) unpublishArticle(w http.ResponseWriter, r *http.Request) {
	s.articleAction(w, r, s.Articles.Unpublish)
}

func (s *Server) archiveArticle(w http.ResponseWriter, r *http.Request) {
	s.articleAction(w, r, s.Articles.Archive)
}

func (s *Server) articleAction(w http.ResponseWriter, r *http.Request, action func(ctx context.Context, id string) (*models.Article, error)) {
	a, err := action(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// рубрики

func (s *Server) createCategory(w http.ResponseWriter, r *http.Request) {
	var in content.CategoryInput
	if err := decode(w, r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.Categories.Create(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) updateCategory(w http.ResponseWriter, r *http.Request) {
	var in content.CategoryInput
	if err := decode(w, r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.Categories.Update(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) deleteCategory(w http.ResponseWriter, r *http.Request) {
	if err := s.Categories.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// комментарии

func (s *Server) commentQueue(w http.ResponseWriter, r *http.Request) {
	status := models.CommentStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = models.CommentPending
	}
	res, err := s.Comments.ListByStatus(r.Context(), status, pageParam(r, models.DefaultPageSize))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) moderateComment(w http.ResponseWriter, r *http.Request) {
	c, err := s.Comments.Moderate(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "action"), userFrom(r.Context()).ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type bulkModerateRequest struct {
	IDs    []string `json:"ids"`
	Action string   `json:"action"`
}

func (s *Server) bulkModerate(w http.ResponseWriter, r *http.Request) {
	var in bulkModerateRequest
	if err := decode(w, r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	n, err := s.Comments.BulkModerate(r.Context(), in.IDs, in.Action, userFrom(r.Context()).ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"moderated": n})
}

func (s *Server) deleteComment(w http.ResponseWriter, r *http.Request) {
	if err := s.Comments.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// проекты

func (s *Server) adminListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.Projects.ListAll(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

func (s *Server) createProject(w http.ResponseWriter, r *http.Request) {
	var in content.ProjectInput
	if err := decode(w, r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.Projects.Create(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) adminGetProject(w http.ResponseWriter, r *http.Request) {
	p, err := s.Projects.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) updateProject(w http.ResponseWriter, r *http.Request) {
	var in content.ProjectInput
	if err := decode(w, r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.Projects.Update(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) deleteProject(w http.ResponseWriter, r *http.Request) {
	if err := s.Projects.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// счета

func (s *Server) listInvoices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res, err := s.Invoices.List(r.Context(), storage.InvoiceFilter{
		ClientID: q.Get("client_id"),
		Status:   models.InvoiceStatus(q.Get("status")),
		Page:     pageParam(r, models.DefaultPageSize),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) createInvoice(w http.ResponseWriter, r *http.Request) {
	var in billing.InvoiceInput
	if err := decode(w, r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	inv, err := s.Invoices.Create(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, invoiceView(inv))
}

func (s *Server) getInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := s.Invoices.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, invoiceView(inv))
}

func (s *Server) updateInvoice(w http.ResponseWriter, r *http.Request) {
	var in billing.InvoiceInput
	if err := decode(w, r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	inv, err := s.Invoices.Update(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, invoiceView(inv))
}

func (s *Server) sendInvoice(w http.ResponseWriter, r *http.Request) {
	s.invoiceAction(w, r, s.Invoices.Send)
}

func (s *Server) payInvoice(w http.ResponseWriter, r *http.Request) {
	s.invoiceAction(w, r, s.Invoices.MarkPaid)
}

func (s *Server) cancelInvoice(w http.ResponseWriter, r *http.Request) {
	s.invoiceAction(w, r, s.Invoices.Cancel)
}

func (s *Server) invoiceAction(w http.ResponseWriter, r *http.Request, action func(ctx context.Context, id string) (*models.Invoice, error)) {
	inv, err := action(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, invoiceView(inv))
}

// настройки и пользователи

func (s *Server) getSettings(w http.ResponseWriter, r *http.Request) {
	values, err := s.Settings.All(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, values)
}

func (s *Server) putSettings(w http.ResponseWriter, r *http.Request) {
	var in map[string]string
	if err := decode(w, r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.Settings.Update(r.Context(), in); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.getSettings(w, r)
}

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	res, err := s.Auth.ListUsers(r.Context(), pageParam(r, models.DefaultPageSize))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) updateUser(w http.ResponseWriter, r *http.Request) {
	var in auth.AccountUpdate
	if err := decode(w, r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	user, err := s.Auth.UpdateAccount(r.Context(), userFrom(r.Context()).ID, chi.URLParam(r, "id"), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// viewLogs serves the polling log viewer: without offset it returns the
// tail of the log, with offset the lines appended since.
func (s *Server) viewLogs(w http.ResponseWriter, r *http.Request) {
	if s.LogFile == "" {
		s.writeError(w, r, fmt.Errorf("log file is not configured: %w", storage.ErrNotFound))
		return
	}
	q := r.URL.Query()
	lines := defaultLogLines
	if n, err := strconv.Atoi(q.Get("lines")); err == nil && n > 0 {
		lines = min(n, maxLogLines)
	}

	var (
		chunk *logger.Chunk
		err   error
	)
	if raw := q.Get("offset"); raw != "" {
		offset, perr := strconv.ParseInt(raw, 10, 64)
		if perr != nil {
			verr := models.NewValidationError()
			verr.Add("offset", "must be an integer")
			s.writeError(w, r, verr)
			return
		}
		chunk, err = logger.ReadFrom(s.LogFile, offset, lines)
	} else {
		chunk, err = logger.Tail(s.LogFile, lines)
	}
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chunk)
}
