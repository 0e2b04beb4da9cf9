package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/ZetoOfficial/portal-cms/internal/auth"
	"github.com/ZetoOfficial/portal-cms/internal/billing"
	"github.com/ZetoOfficial/portal-cms/internal/content"
	"github.com/ZetoOfficial/portal-cms/internal/models"
	"github.com/ZetoOfficial/portal-cms/internal/storage"
)

type errorBody struct {
	Error  string            `json:"error"`
	Code   string            `json:"code"`
	Fields map[string]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithField("error", err).Warn("Не удалось записать ответ")
	}
}

// decode reads a JSON body into v. Unknown fields are rejected.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		verr := models.NewValidationError()
		verr.Add("body", fmt.Sprintf("invalid JSON: %v", err))
		return verr
	}
	return nil
}

// statusFor maps domain errors onto HTTP statuses and stable error codes.
func statusFor(err error) (int, string) {
	var verr *models.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusUnprocessableEntity, "validation"
	case errors.Is(err, auth.ErrWeakPassword):
		return http.StatusUnprocessableEntity, "weak_password"
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid_credentials"
	case errors.Is(err, auth.ErrEmailNotVerified):
		return http.StatusForbidden, "email_not_verified"
	case errors.Is(err, auth.ErrAccountDisabled):
		return http.StatusForbidden, "account_disabled"
	case errors.Is(err, auth.ErrRegistrationClosed):
		return http.StatusForbidden, "registration_closed"
	case errors.Is(err, content.ErrCommentsClosed):
		return http.StatusForbidden, "comments_closed"
	case errors.Is(err, auth.ErrTooManyAttempts):
		return http.StatusTooManyRequests, "too_many_attempts"
	case errors.Is(err, auth.ErrTokenInvalid):
		return http.StatusBadRequest, "token_invalid"
	case errors.Is(err, auth.ErrTokenExpired):
		return http.StatusBadRequest, "token_expired"
	case errors.Is(err, auth.ErrTokenUsed):
		return http.StatusBadRequest, "token_used"
	case errors.Is(err, auth.ErrEmailTaken):
		return http.StatusConflict, "email_taken"
	case errors.Is(err, billing.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, storage.ErrConflict):
		return http.StatusConflict, "conflict"
	}
	return http.StatusInternalServerError, "internal"
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status == http.StatusInternalServerError {
		s.internalError(w, r, err)
		return
	}
	body := errorBody{Error: err.Error(), Code: code}
	var verr *models.ValidationError
	if errors.As(err, &verr) {
		body.Error = "validation failed"
		body.Fields = verr.Fields
	}
	writeJSON(w, status, body)
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	logrus.WithFields(logrus.Fields{
		"request_id": middleware.GetReqID(r.Context()),
		"method":     r.Method,
		"path":       r.URL.Path,
		"error":      err,
	}).Error("Внутренняя ошибка обработчика")
	writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal server error", Code: "internal"})
}

// pageParam reads ?page= and ?per_page=, falling back to defaults.
func pageParam(r *http.Request, defaultSize int) models.Page {
	q := r.URL.Query()
	p := models.Page{Number: 1, Size: defaultSize}
	if n, err := strconv.Atoi(q.Get("page")); err == nil {
		p.Number = n
	}
	if n, err := strconv.Atoi(q.Get("per_page")); err == nil {
		p.Size = n
	}
	return p.Normalize()
}
