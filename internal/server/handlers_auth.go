package server

import (
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/ZetoOfficial/portal-cms/internal/auth"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type tokenRequest struct {
	Token string `json:"token"`
}

type resetRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

type changePasswordRequest struct {
	Current  string `json:"current_password"`
	Password string `json:"password"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var in auth.RegisterInput
	if err := decode(w, r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	user, err := s.Auth.Register(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sess := sessionFrom(r.Context())
	s.Sessions.SetFlash(sess, "Check your inbox to confirm your email address.")
	if err := s.Sessions.Save(r.Context(), w, sess); err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

// login binds the user to the session under a new session ID.
func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var in loginRequest
	if err := decode(w, r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	user, err := s.Auth.Login(r.Context(), in.Email, in.Password, clientIP(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sess := sessionFrom(r.Context())
	if err := s.Sessions.Authenticate(r.Context(), w, sess, user); err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{CSRFToken: sess.CSRFToken, User: user})
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())
	if err := s.Sessions.Destroy(r.Context(), w, sess); err != nil {
		s.internalError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) verifyEmail(w http.ResponseWriter, r *http.Request) {
	var in tokenRequest
	if err := decode(w, r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	user, err := s.Auth.VerifyEmail(r.Context(), in.Token)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// resendVerification and forgotPassword answer the same way whether or not
// the address is registered.
func (s *Server) resendVerification(w http.ResponseWriter, r *http.Request) {
	var in emailRequest
	if err := decode(w, r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.Auth.ResendVerification(r.Context(), in.Email); err != nil {
		logrus.WithField("error", err).Error("Не удалось повторно отправить письмо подтверждения")
	}
	writeJSON(w, http.StatusAccepted, messageResponse{Message: "If the address needs confirming, a new link is on its way."})
}

func (s *Server) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var in emailRequest
	if err := decode(w, r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.Auth.RequestPasswordReset(r.Context(), in.Email); err != nil {
		logrus.WithField("error", err).Error("Не удалось отправить письмо для сброса пароля")
	}
	writeJSON(w, http.StatusAccepted, messageResponse{Message: "If the address is registered, a reset link is on its way."})
}

func (s *Server) resetPassword(w http.ResponseWriter, r *http.Request) {
	var in resetRequest
	if err := decode(w, r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.Auth.ResetPassword(r.Context(), in.Token, in.Password); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Password updated. Please log in."})
}

// changePassword logs the user out everywhere else and rotates the current
// session.
func (s *Server) changePassword(w http.ResponseWriter, r *http.Request) {
	var in changePasswordRequest
	if err := decode(w, r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	user := userFrom(r.Context())
	if err := s.Auth.ChangePassword(r.Context(), user.ID, in.Current, in.Password); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.Sessions.DestroyUser(r.Context(), user.ID); err != nil {
		s.internalError(w, r, err)
		return
	}
	sess := sessionFrom(r.Context())
	if err := s.Sessions.Authenticate(r.Context(), w, sess, user); err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{CSRFToken: sess.CSRFToken, User: user})
}
