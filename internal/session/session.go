package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/ZetoOfficial/portal-cms/internal/models"
)

var ErrNotFound = errors.New("session not found")

// Session представляет состояние посетителя между запросами.
type Session struct {
	ID         string      `json:"id"`
	UserID     string      `json:"user_id,omitempty"`
	Role       models.Role `json:"role,omitempty"`
	CSRFToken  string      `json:"csrf_token"`
	Flash      []string    `json:"flash,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	LastSeenAt time.Time   `json:"last_seen_at"`

	fresh bool
}

// Authenticated reports whether a user is bound to the session.
func (s *Session) Authenticated() bool {
	return s.UserID != ""
}

// Fresh is true until the session has been saved once.
func (s *Session) Fresh() bool {
	return s.fresh
}

type Store interface {
	Get(ctx context.Context, id string) (*Session, error)
	// Put stores the session for ttl and indexes it by user.
	Put(ctx context.Context, s *Session, ttl time.Duration) error
	Delete(ctx context.Context, id string) error
	DeleteUser(ctx context.Context, userID string) (int, error)
}

func randomID() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
