package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ZetoOfficial/portal-cms/internal/content"
	"github.com/ZetoOfficial/portal-cms/internal/models"
	"github.com/ZetoOfficial/portal-cms/internal/settings"
)

func (s *Server) publicSettings(w http.ResponseWriter, r *http.Request) {
	values, err := s.Settings.PublicValues(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, values)
}

type sessionResponse struct {
	CSRFToken string       `json:"csrf_token"`
	User      *models.User `json:"user"`
	Flash     []string     `json:"flash,omitempty"`
}

// currentSession persists a fresh session so that its CSRF token becomes
// usable, then reports who is logged in.
func (s *Server) currentSession(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())
	flash := s.Sessions.PopFlash(sess)
	if sess.Fresh() || len(flash) > 0 {
		if err := s.Sessions.Save(r.Context(), w, sess); err != nil {
			s.internalError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, sessionResponse{
		CSRFToken: sess.CSRFToken,
		User:      s.optionalUser(r),
		Flash:     flash,
	})
}

func (s *Server) listArticles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := pageParam(r, s.Settings.Int(r.Context(), settings.ArticlesPerPage))
	res, err := s.Articles.ListPublished(r.Context(), q.Get("category"), q.Get("q"), page)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) getArticle(w http.ResponseWriter, r *http.Request) {
	a, err := s.Articles.GetPublished(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) listComments(w http.ResponseWriter, r *http.Request) {
	comments, err := s.Comments.ListApproved(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, comments)
}

func (s *Server) postComment(w http.ResponseWriter, r *http.Request) {
	var in content.CommentInput
	if err := decode(w, r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.Comments.Submit(r.Context(), chi.URLParam(r, "slug"), s.optionalUser(r), in, clientIP(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status := http.StatusCreated
	if c.Status == models.CommentPending {
		status = http.StatusAccepted
	}
	writeJSON(w, status, c)
}

func (s *Server) listCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := s.Categories.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cats)
}

func (s *Server) listProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.Projects.ListPublished(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

func (s *Server) getProject(w http.ResponseWriter, r *http.Request) {
	p, err := s.Projects.GetPublished(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
