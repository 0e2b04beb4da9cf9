package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ZetoOfficial/portal-cms/internal/metrics"
	"github.com/ZetoOfficial/portal-cms/internal/models"
	"github.com/ZetoOfficial/portal-cms/internal/storage"
)

const tokenBytes = 32

type TokenStore interface {
	CreateToken(ctx context.Context, t *models.Token) error
	GetTokenByHash(ctx context.Context, hash string) (*models.Token, error)
	MarkTokenUsed(ctx context.Context, id string, at time.Time) error
	DeleteUserTokens(ctx context.Context, userID string, typ models.TokenType) (int, error)
	DeleteExpiredTokens(ctx context.Context, before time.Time) (int, error)
}

// TokenManager выдаёт одноразовые токены. В базе хранится только SHA-256
// от токена, сам токен уходит пользователю в письме.
type TokenManager struct {
	store   TokenStore
	ttl     map[models.TokenType]time.Duration
	metrics *metrics.Registry
	now     func() time.Time
}

func NewTokenManager(store TokenStore, verifyTTL, resetTTL time.Duration, m *metrics.Registry) *TokenManager {
	return &TokenManager{
		store: store,
		ttl: map[models.TokenType]time.Duration{
			models.TokenVerifyEmail:   verifyTTL,
			models.TokenResetPassword: resetTTL,
		},
		metrics: m,
		now:     time.Now,
	}
}

func (tm *TokenManager) TTL(typ models.TokenType) time.Duration {
	return tm.ttl[typ]
}

// HashToken returns the hex SHA-256 digest stored for a plaintext token.
func HashToken(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return hex.EncodeToString(sum[:])
}

func newPlainToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Issue revokes the user's outstanding tokens of the same type and stores a
// new one. The plaintext is returned once and never persisted.
func (tm *TokenManager) Issue(ctx context.Context, userID string, typ models.TokenType) (string, *models.Token, error) {
	ttl, ok := tm.ttl[typ]
	if !ok || ttl <= 0 {
		return "", nil, fmt.Errorf("unknown token type %q", typ)
	}
	if _, err := tm.store.DeleteUserTokens(ctx, userID, typ); err != nil {
		return "", nil, fmt.Errorf("revoke previous tokens: %w", err)
	}

	plain, err := newPlainToken()
	if err != nil {
		return "", nil, err
	}
	now := tm.now().UTC()
	token := &models.Token{
		ID:        uuid.NewString(),
		UserID:    userID,
		Type:      typ,
		Hash:      HashToken(plain),
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
	if err := tm.store.CreateToken(ctx, token); err != nil {
		return "", nil, fmt.Errorf("store token: %w", err)
	}
	if tm.metrics != nil {
		tm.metrics.TokensIssued.WithLabelValues(string(typ)).Inc()
	}
	logrus.WithFields(logrus.Fields{
		"user_id":    userID,
		"type":       typ,
		"expires_at": token.ExpiresAt,
	}).Debug("Выдан токен")
	return plain, token, nil
}

// Validate checks a plaintext token without consuming it.
func (tm *TokenManager) Validate(ctx context.Context, plain string, typ models.TokenType) (*models.Token, error) {
	if plain == "" {
		return nil, ErrTokenInvalid
	}
	token, err := tm.store.GetTokenByHash(ctx, HashToken(plain))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrTokenInvalid
	}
	if err != nil {
		return nil, fmt.Errorf("lookup token: %w", err)
	}
	if token.Type != typ {
		return nil, ErrTokenInvalid
	}
	if token.Used() {
		return nil, ErrTokenUsed
	}
	if token.Expired(tm.now()) {
		return nil, ErrTokenExpired
	}
	return token, nil
}

// Consume validates the token and marks it used. Of two concurrent
// consumers exactly one succeeds; the other gets ErrTokenUsed.
func (tm *TokenManager) Consume(ctx context.Context, plain string, typ models.TokenType) (*models.Token, error) {
	token, err := tm.consume(ctx, plain, typ)
	if tm.metrics != nil {
		tm.metrics.TokensConsumed.WithLabelValues(string(typ), consumeOutcome(err)).Inc()
	}
	return token, err
}

func (tm *TokenManager) consume(ctx context.Context, plain string, typ models.TokenType) (*models.Token, error) {
	token, err := tm.Validate(ctx, plain, typ)
	if err != nil {
		return nil, err
	}
	now := tm.now().UTC()
	if err := tm.store.MarkTokenUsed(ctx, token.ID, now); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, ErrTokenUsed
		}
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, fmt.Errorf("mark token used: %w", err)
	}
	token.UsedAt = &now
	return token, nil
}

func consumeOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrTokenInvalid):
		return "invalid"
	case errors.Is(err, ErrTokenExpired):
		return "expired"
	case errors.Is(err, ErrTokenUsed):
		return "used"
	}
	return "error"
}

// Revoke удаляет все неиспользованные токены пользователя данного типа.
func (tm *TokenManager) Revoke(ctx context.Context, userID string, typ models.TokenType) error {
	if _, err := tm.store.DeleteUserTokens(ctx, userID, typ); err != nil {
		return fmt.Errorf("revoke tokens: %w", err)
	}
	return nil
}

// PurgeExpired removes expired and already used tokens.
func (tm *TokenManager) PurgeExpired(ctx context.Context) (int, error) {
	n, err := tm.store.DeleteExpiredTokens(ctx, tm.now())
	if err != nil {
		return 0, fmt.Errorf("purge tokens: %w", err)
	}
	logrus.Infof("Удалено просроченных токенов: %d", n)
	return n, nil
}
