package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ZetoOfficial/portal-cms/internal/models"
)

// touchInterval limits how often an unchanged session is rewritten just
// to slide its idle timeout.
const touchInterval = time.Minute

type Options struct {
	CookieName  string
	TTL         time.Duration
	IdleTimeout time.Duration
	Secure      bool
}

// Manager управляет жизненным циклом сессий и cookie.
type Manager struct {
	store Store
	opts  Options
	now   func() time.Time
}

func NewManager(store Store, opts Options) *Manager {
	if opts.CookieName == "" {
		opts.CookieName = "portal_session"
	}
	return &Manager{store: store, opts: opts, now: time.Now}
}

func (m *Manager) CookieName() string {
	return m.opts.CookieName
}

// New returns an anonymous session that is not persisted until saved.
func (m *Manager) New() (*Session, error) {
	id, err := randomID()
	if err != nil {
		return nil, err
	}
	csrf, err := randomID()
	if err != nil {
		return nil, err
	}
	now := m.now().UTC()
	return &Session{ID: id, CSRFToken: csrf, CreatedAt: now, LastSeenAt: now, fresh: true}, nil
}

// Load returns the session named by the request cookie. Missing, unknown
// and expired sessions are replaced by a fresh anonymous one.
func (m *Manager) Load(r *http.Request) (*Session, error) {
	cookie, err := r.Cookie(m.opts.CookieName)
	if err != nil || cookie.Value == "" {
		return m.New()
	}
	ctx := r.Context()
	s, err := m.store.Get(ctx, cookie.Value)
	if errors.Is(err, ErrNotFound) {
		return m.New()
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if m.expired(s) {
		if err := m.store.Delete(ctx, s.ID); err != nil {
			logrus.WithField("error", err).Warn("Не удалось удалить просроченную сессию")
		}
		return m.New()
	}
	return s, nil
}

func (m *Manager) expired(s *Session) bool {
	now := m.now()
	return now.Sub(s.CreatedAt) >= m.opts.TTL || now.Sub(s.LastSeenAt) >= m.opts.IdleTimeout
}

// Save touches the session, persists it and (re)writes the cookie.
func (m *Manager) Save(ctx context.Context, w http.ResponseWriter, s *Session) error {
	now := m.now().UTC()
	s.LastSeenAt = now
	remaining := m.opts.TTL - now.Sub(s.CreatedAt)
	if remaining <= 0 {
		return m.Destroy(ctx, w, s)
	}
	ttl := remaining
	if m.opts.IdleTimeout < ttl {
		ttl = m.opts.IdleTimeout
	}
	if err := m.store.Put(ctx, s, ttl); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	s.fresh = false
	m.writeCookie(w, s.ID, int(remaining/time.Second))
	return nil
}

// Touch saves a persisted session when it has been idle for a while so
// that active visitors are not logged out by the idle timeout.
func (m *Manager) Touch(ctx context.Context, w http.ResponseWriter, s *Session) error {
	if s.fresh || m.now().Sub(s.LastSeenAt) < touchInterval {
		return nil
	}
	return m.Save(ctx, w, s)
}

// Authenticate binds user to the session under a new ID and CSRF token,
// so an identifier known before login is useless afterwards.
func (m *Manager) Authenticate(ctx context.Context, w http.ResponseWriter, s *Session, user *models.User) error {
	if !s.fresh {
		if err := m.store.Delete(ctx, s.ID); err != nil {
			return fmt.Errorf("drop old session: %w", err)
		}
	}
	id, err := randomID()
	if err != nil {
		return err
	}
	csrf, err := randomID()
	if err != nil {
		return err
	}
	now := m.now().UTC()
	s.ID = id
	s.CSRFToken = csrf
	s.UserID = user.ID
	s.Role = user.Role
	s.CreatedAt = now
	s.fresh = true
	return m.Save(ctx, w, s)
}

// Destroy deletes the session and expires the cookie.
func (m *Manager) Destroy(ctx context.Context, w http.ResponseWriter, s *Session) error {
	if err := m.store.Delete(ctx, s.ID); err != nil {
		return fmt.Errorf("destroy session: %w", err)
	}
	m.writeCookie(w, "", -1)
	s.UserID = ""
	s.Role = ""
	s.fresh = true
	return nil
}

// DestroyUser logs the user out of every session.
func (m *Manager) DestroyUser(ctx context.Context, userID string) error {
	n, err := m.store.DeleteUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("destroy user sessions: %w", err)
	}
	logrus.WithFields(logrus.Fields{"user_id": userID, "sessions": n}).Info("Сессии пользователя удалены")
	return nil
}

func (m *Manager) SetFlash(s *Session, msg string) {
	s.Flash = append(s.Flash, msg)
}

// PopFlash returns and clears pending flash messages.
func (m *Manager) PopFlash(s *Session) []string {
	msgs := s.Flash
	s.Flash = nil
	return msgs
}

func (m *Manager) writeCookie(w http.ResponseWriter, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.opts.CookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   m.opts.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}
