package storage

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/ZetoOfficial/portal-cms/internal/models"
	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestStorage connects to the database named by NEO4J_TEST_URI and wipes it.
func newTestStorage(t *testing.T) *Neo4jStorage {
	t.Helper()
	uri := os.Getenv("NEO4J_TEST_URI")
	if uri == "" {
		t.Skip("NEO4J_TEST_URI is not set")
	}
	ctx := context.Background()
	s, err := NewNeo4jStorage(uri, os.Getenv("NEO4J_TEST_USER"), os.Getenv("NEO4J_TEST_PASSWORD"))
	require.NoError(t, err)
	require.NoError(t, s.Ping(ctx))
	require.NoError(t, s.Migrate(ctx))

	session := s.session(ctx, neo4j.AccessModeWrite)
	defer closeSession(ctx, session)
	_, err = session.Run(ctx, "MATCH (n) DETACH DELETE n", nil)
	require.NoError(t, err)

	t.Cleanup(func() { _ = s.Close(ctx) })
	return s
}

func testUser(email string) *models.User {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &models.User{
		ID: uuid.NewString(), Email: email, Name: "Test", Role: models.RoleClient,
		Active: true, CreatedAt: now, UpdatedAt: now,
	}
}

func TestNeo4jUsersAndTokens(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	u := testUser("neo@example.org")
	require.NoError(t, s.CreateUser(ctx, u))
	assert.ErrorIs(t, s.CreateUser(ctx, testUser("neo@example.org")), ErrConflict)

	got, err := s.GetUserByEmail(ctx, "NEO@example.org")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	tok := &models.Token{
		ID: uuid.NewString(), UserID: u.ID, Type: models.TokenResetPassword, Hash: "abc",
		ExpiresAt: time.Now().Add(time.Hour), CreatedAt: time.Now(),
	}
	require.NoError(t, s.CreateToken(ctx, tok))

	var wg sync.WaitGroup
	results := make([]error, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = s.MarkTokenUsed(ctx, tok.ID, time.Now())
		}(i)
	}
	wg.Wait()
	ok := 0
	for _, err := range results {
		if err == nil {
			ok++
		} else {
			assert.True(t, errors.Is(err, ErrConflict), err)
		}
	}
	assert.Equal(t, 1, ok)

	n, err := s.DeleteExpiredTokens(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNeo4jArticlesAndComments(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	author := testUser("author@example.org")
	require.NoError(t, s.CreateUser(ctx, author))
	cat := &models.Category{ID: uuid.NewString(), Name: "Go", Slug: "go", CreatedAt: now}
	require.NoError(t, s.CreateCategory(ctx, cat))

	a := &models.Article{
		ID: uuid.NewString(), Title: "Hello", Slug: "hello", Body: "# hi",
		Status: models.ArticlePublished, AuthorID: author.ID, CategoryID: cat.ID,
		Tags: []string{"go"}, PublishedAt: &now, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, s.CreateArticle(ctx, a))

	list, total, err := s.ListArticles(ctx, ArticleFilter{Status: models.ArticlePublished, CategoryID: cat.ID, Query: "HELL"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, list, 1)
	assert.Equal(t, author.ID, list[0].AuthorID)

	c := &models.Comment{
		ID: uuid.NewString(), ArticleID: a.ID, AuthorName: "Bob", AuthorEmail: "bob@example.org",
		Body: "nice", Status: models.CommentPending, CreatedAt: now,
	}
	require.NoError(t, s.CreateComment(ctx, c))
	require.NoError(t, s.UpdateCommentStatus(ctx, c.ID, models.CommentApproved, author.ID, now))
	approved, err := s.ListArticleComments(ctx, a.ID, models.CommentApproved)
	require.NoError(t, err)
	assert.Len(t, approved, 1)

	count, err := s.CountArticlesInCategory(ctx, cat.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, s.DeleteArticle(ctx, a.ID))
	_, err = s.GetCommentByID(ctx, c.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNeo4jInvoices(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	client := testUser("client@example.org")
	require.NoError(t, s.CreateUser(ctx, client))

	seq, err := s.NextInvoiceSeq(ctx, 2026)
	require.NoError(t, err)
	assert.Equal(t, 1, seq)

	inv := &models.Invoice{
		ID: uuid.NewString(), Number: models.InvoiceNumber(2026, seq), ClientID: client.ID,
		Status: models.InvoiceSent, Currency: "EUR", IssuedAt: now, DueAt: now.Add(-time.Hour),
		CreatedAt: now, UpdatedAt: now,
		Items: []models.InvoiceItem{{Description: "a", Quantity: 1, UnitPriceCents: 100}, {Description: "b", Quantity: 2, UnitPriceCents: 50}},
	}
	require.NoError(t, s.CreateInvoice(ctx, inv))

	got, err := s.GetInvoiceByID(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, inv.Items, got.Items)
	assert.Equal(t, client.ID, got.ClientID)

	due, err := s.ListInvoicesDueBefore(ctx, models.InvoiceSent, now)
	require.NoError(t, err)
	assert.Len(t, due, 1)

	summary, err := s.SummarizeInvoices(ctx)
	require.NoError(t, err)
	require.Len(t, summary, 1)
	assert.Equal(t, int64(200), summary[0].TotalCents)

	rows, err := s.RunQuery(ctx, "invoice_totals_by_status")
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}
