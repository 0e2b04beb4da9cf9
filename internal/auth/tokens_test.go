package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZetoOfficial/portal-cms/internal/metrics"
	"github.com/ZetoOfficial/portal-cms/internal/models"
	"github.com/ZetoOfficial/portal-cms/internal/storage/memstore"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestTokens(t *testing.T) (*TokenManager, *memstore.Store, *clock, *metrics.Registry) {
	t.Helper()
	store := memstore.New()
	for _, id := range []string{"u1", "u2", "u3", "u4"} {
		require.NoError(t, store.CreateUser(context.Background(), &models.User{ID: id, Email: id + "@example.com", Active: true}))
	}
	reg := metrics.New()
	tm := NewTokenManager(store, 48*time.Hour, time.Hour, reg)
	c := newClock()
	tm.now = c.Now
	return tm, store, c, reg
}

func TestIssueStoresOnlyDigest(t *testing.T) {
	tm, store, _, reg := newTestTokens(t)
	ctx := context.Background()

	plain, token, err := tm.Issue(ctx, "u1", models.TokenVerifyEmail)
	require.NoError(t, err)
	assert.Len(t, plain, 64)
	assert.NotEqual(t, plain, token.Hash)
	assert.Equal(t, HashToken(plain), token.Hash)
	assert.Equal(t, token.CreatedAt.Add(48*time.Hour), token.ExpiresAt)

	stored, err := store.GetTokenByHash(ctx, HashToken(plain))
	require.NoError(t, err)
	assert.Equal(t, token.ID, stored.ID)
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.TokensIssued.WithLabelValues("verify_email")))
}

func TestIssueRevokesPreviousTokensOfSameType(t *testing.T) {
	tm, _, _, _ := newTestTokens(t)
	ctx := context.Background()

	first, _, err := tm.Issue(ctx, "u1", models.TokenResetPassword)
	require.NoError(t, err)
	verify, _, err := tm.Issue(ctx, "u1", models.TokenVerifyEmail)
	require.NoError(t, err)
	second, _, err := tm.Issue(ctx, "u1", models.TokenResetPassword)
	require.NoError(t, err)

	_, err = tm.Validate(ctx, first, models.TokenResetPassword)
	assert.ErrorIs(t, err, ErrTokenInvalid)
	_, err = tm.Validate(ctx, second, models.TokenResetPassword)
	assert.NoError(t, err)
	_, err = tm.Validate(ctx, verify, models.TokenVerifyEmail)
	assert.NoError(t, err)
}

func TestValidateErrors(t *testing.T) {
	tm, _, c, _ := newTestTokens(t)
	ctx := context.Background()

	plain, _, err := tm.Issue(ctx, "u1", models.TokenResetPassword)
	require.NoError(t, err)

	_, err = tm.Validate(ctx, "", models.TokenResetPassword)
	assert.ErrorIs(t, err, ErrTokenInvalid)
	_, err = tm.Validate(ctx, "deadbeef", models.TokenResetPassword)
	assert.ErrorIs(t, err, ErrTokenInvalid)
	_, err = tm.Validate(ctx, plain, models.TokenVerifyEmail)
	assert.ErrorIs(t, err, ErrTokenInvalid)

	c.Advance(59 * time.Minute)
	_, err = tm.Validate(ctx, plain, models.TokenResetPassword)
	assert.NoError(t, err)

	c.Advance(time.Minute)
	_, err = tm.Validate(ctx, plain, models.TokenResetPassword)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestConsumeIsSingleUse(t *testing.T) {
	tm, _, _, reg := newTestTokens(t)
	ctx := context.Background()

	plain, _, err := tm.Issue(ctx, "u1", models.TokenVerifyEmail)
	require.NoError(t, err)

	token, err := tm.Consume(ctx, plain, models.TokenVerifyEmail)
	require.NoError(t, err)
	require.NotNil(t, token.UsedAt)

	_, err = tm.Consume(ctx, plain, models.TokenVerifyEmail)
	assert.ErrorIs(t, err, ErrTokenUsed)

	assert.Equal(t, 1.0, testutil.ToFloat64(reg.TokensConsumed.WithLabelValues("verify_email", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.TokensConsumed.WithLabelValues("verify_email", "used")))
}

func TestConcurrentConsumeHasOneWinner(t *testing.T) {
	tm, _, _, _ := newTestTokens(t)
	ctx := context.Background()

	plain, _, err := tm.Issue(ctx, "u1", models.TokenResetPassword)
	require.NoError(t, err)

	const workers = 16
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
		used int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := tm.Consume(ctx, plain, models.TokenResetPassword)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case assert.ErrorIs(t, err, ErrTokenUsed):
				used++
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
	assert.Equal(t, workers-1, used)
}

func TestRevokeAndPurge(t *testing.T) {
	tm, _, c, _ := newTestTokens(t)
	ctx := context.Background()

	reset, _, err := tm.Issue(ctx, "u1", models.TokenResetPassword)
	require.NoError(t, err)
	require.NoError(t, tm.Revoke(ctx, "u1", models.TokenResetPassword))
	_, err = tm.Validate(ctx, reset, models.TokenResetPassword)
	assert.ErrorIs(t, err, ErrTokenInvalid)

	used, _, err := tm.Issue(ctx, "u2", models.TokenVerifyEmail)
	require.NoError(t, err)
	_, err = tm.Consume(ctx, used, models.TokenVerifyEmail)
	require.NoError(t, err)
	_, _, err = tm.Issue(ctx, "u3", models.TokenResetPassword)
	require.NoError(t, err)
	live, _, err := tm.Issue(ctx, "u4", models.TokenVerifyEmail)
	require.NoError(t, err)

	c.Advance(2 * time.Hour)
	n, err := tm.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = tm.Validate(ctx, live, models.TokenVerifyEmail)
	assert.NoError(t, err)
}

func TestIssueUnknownType(t *testing.T) {
	tm, _, _, _ := newTestTokens(t)
	_, _, err := tm.Issue(context.Background(), "u1", models.TokenType("magic"))
	assert.Error(t, err)
}
