package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/ZetoOfficial/portal-cms/internal/auth"
	"github.com/ZetoOfficial/portal-cms/internal/models"
	"github.com/ZetoOfficial/portal-cms/internal/session"
	"github.com/ZetoOfficial/portal-cms/internal/storage"
)

const CSRFHeader = "X-CSRF-Token"

type ctxKey int

const (
	sessionKey ctxKey = iota
	userKey
)

func sessionFrom(ctx context.Context) *session.Session {
	s, _ := ctx.Value(sessionKey).(*session.Session)
	return s
}

func userFrom(ctx context.Context) *models.User {
	u, _ := ctx.Value(userKey).(*models.User)
	return u
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		entry := logrus.WithFields(logrus.Fields{
			"request_id": middleware.GetReqID(r.Context()),
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"bytes":      ww.BytesWritten(),
			"ip":         r.RemoteAddr,
			"duration":   time.Since(start).String(),
		})
		if ww.Status() >= http.StatusInternalServerError {
			entry.Warn("Запрос завершился ошибкой")
			return
		}
		entry.Debug("Запрос обработан")
	})
}

// measure records request counts and latency by route pattern, so that
// ids in the path do not explode label cardinality.
func (s *Server) measure(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Metrics == nil {
			next.ServeHTTP(w, r)
			return
		}
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.Metrics.HTTPRequests.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
		s.Metrics.HTTPDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// loadSession puts the visitor's session into the request context and
// slides its idle timeout.
func (s *Server) loadSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := s.Sessions.Load(r)
		if err != nil {
			s.internalError(w, r, err)
			return
		}
		if err := s.Sessions.Touch(r.Context(), w, sess); err != nil {
			logrus.WithFields(logrus.Fields{"session_id": sess.ID, "error": err}).Warn("Не удалось продлить сессию")
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey, sess)))
	})
}

func safeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

// checkCSRF requires unsafe requests to echo the session CSRF token. A fresh
// session has a token nobody has seen yet, so it can never pass.
func (s *Server) checkCSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if safeMethod(r.Method) {
			next.ServeHTTP(w, r)
			return
		}
		sess := sessionFrom(r.Context())
		got := r.Header.Get(CSRFHeader)
		if sess == nil || sess.Fresh() || got == "" ||
			subtle.ConstantTimeCompare([]byte(got), []byte(sess.CSRFToken)) != 1 {
			writeJSON(w, http.StatusForbidden, errorBody{Error: "invalid csrf token", Code: "csrf"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireAuth resolves the session user. Deleted or disabled accounts lose
// their session.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := sessionFrom(r.Context())
		if sess == nil || !sess.Authenticated() {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "authentication required", Code: "unauthenticated"})
			return
		}
		user, err := s.Auth.CurrentUser(r.Context(), sess.UserID)
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, auth.ErrAccountDisabled) {
			if derr := s.Sessions.Destroy(r.Context(), w, sess); derr != nil {
				logrus.WithField("error", derr).Warn("Не удалось удалить сессию")
			}
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "authentication required", Code: "unauthenticated"})
			return
		}
		if err != nil {
			s.internalError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, user)))
	})
}

func requireRole(roles ...models.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := userFrom(r.Context())
			if user == nil {
				writeJSON(w, http.StatusUnauthorized, errorBody{Error: "authentication required", Code: "unauthenticated"})
				return
			}
			for _, role := range roles {
				if user.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeJSON(w, http.StatusForbidden, errorBody{Error: "forbidden", Code: "forbidden"})
		})
	}
}

// optionalUser resolves the session user without requiring one.
func (s *Server) optionalUser(r *http.Request) *models.User {
	sess := sessionFrom(r.Context())
	if sess == nil || !sess.Authenticated() {
		return nil
	}
	user, err := s.Auth.CurrentUser(r.Context(), sess.UserID)
	if err != nil {
		return nil
	}
	return user
}

// clientIP reads RemoteAddr, which middleware.RealIP rewrites (without a
// port) only when the proxy is trusted.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
