package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/ZetoOfficial/portal-cms/internal/models"
	"github.com/ZetoOfficial/portal-cms/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func seedUser(t *testing.T, s *Store, id, email string) {
	t.Helper()
	require.NoError(t, s.CreateUser(context.Background(), &models.User{
		ID: id, Email: email, Role: models.RoleClient, Active: true, CreatedAt: t0,
	}))
}

func TestUsersEmailIsCaseInsensitive(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedUser(t, s, "u1", "Ann@Example.org")

	u, err := s.GetUserByEmail(ctx, "ANN@example.ORG")
	require.NoError(t, err)
	assert.Equal(t, "ann@example.org", u.Email)

	err = s.CreateUser(ctx, &models.User{ID: "u2", Email: "ann@example.org"})
	assert.ErrorIs(t, err, storage.ErrConflict)

	_, err = s.GetUserByID(ctx, "nope")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestTokenUsedOnce(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedUser(t, s, "u1", "a@example.org")
	tok := &models.Token{ID: "t1", UserID: "u1", Type: models.TokenVerifyEmail, Hash: "h", ExpiresAt: t0.Add(time.Hour)}
	require.NoError(t, s.CreateToken(ctx, tok))

	require.NoError(t, s.MarkTokenUsed(ctx, "t1", t0))
	assert.ErrorIs(t, s.MarkTokenUsed(ctx, "t1", t0), storage.ErrConflict)

	got, err := s.GetTokenByHash(ctx, "h")
	require.NoError(t, err)
	assert.True(t, got.Used())

	// used tokens are not revoked, only purged
	n, err := s.DeleteUserTokens(ctx, "u1", models.TokenVerifyEmail)
	require.NoError(t, err)
	assert.Zero(t, n)
	n, err = s.DeleteExpiredTokens(ctx, t0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDeleteArticleCascadesComments(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.CreateArticle(ctx, &models.Article{ID: "a1", Slug: "a", CreatedAt: t0}))
	require.NoError(t, s.CreateComment(ctx, &models.Comment{ID: "c1", ArticleID: "a1", CreatedAt: t0}))
	assert.ErrorIs(t, s.CreateComment(ctx, &models.Comment{ID: "c2", ArticleID: "zzz"}), storage.ErrNotFound)

	require.NoError(t, s.DeleteArticle(ctx, "a1"))
	_, err := s.GetCommentByID(ctx, "c1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestArticleSlugConflict(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.CreateArticle(ctx, &models.Article{ID: "a1", Slug: "same"}))
	assert.ErrorIs(t, s.CreateArticle(ctx, &models.Article{ID: "a2", Slug: "same"}), storage.ErrConflict)
	// updating itself keeps its own slug
	assert.NoError(t, s.UpdateArticle(ctx, &models.Article{ID: "a1", Slug: "same", Title: "x"}))
}

func TestUpdateArticleKeepsViews(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.CreateArticle(ctx, &models.Article{ID: "a1", Slug: "a", Title: "old"}))
	stale, err := s.GetArticleByID(ctx, "a1")
	require.NoError(t, err)

	require.NoError(t, s.IncrementArticleViews(ctx, "a1"))
	require.NoError(t, s.IncrementArticleViews(ctx, "a1"))
	stale.Title = "new"
	require.NoError(t, s.UpdateArticle(ctx, stale))

	got, err := s.GetArticleByID(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "new", got.Title)
	assert.Equal(t, int64(2), got.Views)
}

func TestListArticlesOrderAndFilter(t *testing.T) {
	s := New()
	ctx := context.Background()
	p1, p2 := t0.Add(time.Hour), t0.Add(2*time.Hour)
	require.NoError(t, s.CreateArticle(ctx, &models.Article{ID: "old", Slug: "old", Title: "Old Go", Status: models.ArticlePublished, PublishedAt: &p1, CreatedAt: t0}))
	require.NoError(t, s.CreateArticle(ctx, &models.Article{ID: "new", Slug: "new", Title: "New Rust", Status: models.ArticlePublished, PublishedAt: &p2, CreatedAt: t0}))
	require.NoError(t, s.CreateArticle(ctx, &models.Article{ID: "draft", Slug: "draft", Title: "Draft", Status: models.ArticleDraft, CreatedAt: t0}))

	list, total, err := s.ListArticles(ctx, storage.ArticleFilter{Status: models.ArticlePublished})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, "new", list[0].ID)

	list, total, err = s.ListArticles(ctx, storage.ArticleFilter{Query: "go"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "old", list[0].ID)
}

func TestInvoicesSeqAndSummary(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedUser(t, s, "c1", "c@example.org")

	a, _ := s.NextInvoiceSeq(ctx, 2026)
	b, _ := s.NextInvoiceSeq(ctx, 2026)
	c, _ := s.NextInvoiceSeq(ctx, 2027)
	assert.Equal(t, []int{1, 2, 1}, []int{a, b, c})

	items := []models.InvoiceItem{{Quantity: 2, UnitPriceCents: 500}}
	require.NoError(t, s.CreateInvoice(ctx, &models.Invoice{ID: "i1", Number: "N1", ClientID: "c1", Status: models.InvoicePaid, Items: items}))
	require.NoError(t, s.CreateInvoice(ctx, &models.Invoice{ID: "i2", Number: "N2", ClientID: "c1", Status: models.InvoicePaid, Items: items}))
	assert.ErrorIs(t, s.CreateInvoice(ctx, &models.Invoice{ID: "i3", Number: "N2", ClientID: "c1"}), storage.ErrConflict)
	assert.ErrorIs(t, s.CreateInvoice(ctx, &models.Invoice{ID: "i4", Number: "N4", ClientID: "ghost"}), storage.ErrNotFound)

	sum, err := s.SummarizeInvoices(ctx)
	require.NoError(t, err)
	require.Len(t, sum, 1)
	assert.Equal(t, 2, sum[0].Count)
	assert.Equal(t, int64(2000), sum[0].TotalCents)

	rows, err := s.RunQuery(ctx, "top_clients")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(2000), rows[0]["paid_cents"])

	_, err = s.RunQuery(ctx, "unknown")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStoredValuesAreCopies(t *testing.T) {
	s := New()
	ctx := context.Background()
	tags := []string{"go"}
	require.NoError(t, s.CreateArticle(ctx, &models.Article{ID: "a1", Slug: "a", Tags: tags}))
	tags[0] = "mutated"

	a, err := s.GetArticleByID(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, []string{"go"}, a.Tags)
}
