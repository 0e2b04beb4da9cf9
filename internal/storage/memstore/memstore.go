// Package memstore keeps every entity in process memory. It backs
// STORAGE_DRIVER=memory and the service tests.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ZetoOfficial/portal-cms/internal/models"
	"github.com/ZetoOfficial/portal-cms/internal/storage"
)

type Store struct {
	mu         sync.RWMutex
	users      map[string]models.User
	tokens     map[string]models.Token
	categories map[string]models.Category
	articles   map[string]models.Article
	comments   map[string]models.Comment
	projects   map[string]models.Project
	invoices   map[string]models.Invoice
	settings   map[string]string
	counters   map[string]int
}

func New() *Store {
	return &Store{
		users:      map[string]models.User{},
		tokens:     map[string]models.Token{},
		categories: map[string]models.Category{},
		articles:   map[string]models.Article{},
		comments:   map[string]models.Comment{},
		projects:   map[string]models.Project{},
		invoices:   map[string]models.Invoice{},
		settings:   map[string]string{},
		counters:   map[string]int{},
	}
}

func (s *Store) Ping(context.Context) error    { return nil }
func (s *Store) Close(context.Context) error   { return nil }
func (s *Store) Migrate(context.Context) error { return nil }

func notFound(kind, key string) error {
	return fmt.Errorf("%s %s: %w", kind, key, storage.ErrNotFound)
}

func conflict(kind, field, value string) error {
	return fmt.Errorf("%s %s %q: %w", kind, field, value, storage.ErrConflict)
}

func cloneStrings(in []string) []string {
	return append([]string{}, in...)
}

func cloneItems(in []models.InvoiceItem) []models.InvoiceItem {
	return append([]models.InvoiceItem{}, in...)
}

// users

func (s *Store) CreateUser(_ context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	email := strings.ToLower(u.Email)
	for _, existing := range s.users {
		if existing.Email == email {
			return conflict("user", "email", email)
		}
	}
	if _, ok := s.users[u.ID]; ok {
		return conflict("user", "id", u.ID)
	}
	stored := *u
	stored.Email = email
	s.users[u.ID] = stored
	return nil
}

func (s *Store) GetUserByID(_ context.Context, id string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, notFound("user", id)
	}
	return &u, nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	email = strings.ToLower(email)
	for _, u := range s.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, notFound("user", email)
}

func (s *Store) UpdateUser(_ context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; !ok {
		return notFound("user", u.ID)
	}
	s.users[u.ID] = *u
	return nil
}

func (s *Store) ListUsers(_ context.Context, page models.Page) ([]models.User, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := make([]models.User, 0, len(s.users))
	for _, u := range s.users {
		all = append(all, u)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	return models.Paginate(all, page), len(all), nil
}

func (s *Store) CountUsers(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users), nil
}

// tokens

func (s *Store) CreateToken(_ context.Context, t *models.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[t.UserID]; !ok {
		return notFound("user", t.UserID)
	}
	for _, existing := range s.tokens {
		if existing.Hash == t.Hash {
			return conflict("token", "hash", "")
		}
	}
	s.tokens[t.ID] = *t
	return nil
}

func (s *Store) GetTokenByHash(_ context.Context, hash string) (*models.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tokens {
		if t.Hash == hash {
			return &t, nil
		}
	}
	return nil, notFound("token", "")
}

func (s *Store) MarkTokenUsed(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[id]
	if !ok {
		return notFound("token", id)
	}
	if t.UsedAt != nil {
		return fmt.Errorf("token %s already used: %w", id, storage.ErrConflict)
	}
	t.UsedAt = &at
	s.tokens[id] = t
	return nil
}

func (s *Store) DeleteUserTokens(_ context.Context, userID string, typ models.TokenType) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, t := range s.tokens {
		if t.UserID == userID && t.Type == typ && t.UsedAt == nil {
			delete(s.tokens, id)
			n++
		}
	}
	return n, nil
}

func (s *Store) DeleteExpiredTokens(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, t := range s.tokens {
		if t.ExpiresAt.Before(before) || t.UsedAt != nil {
			delete(s.tokens, id)
			n++
		}
	}
	return n, nil
}

// categories

func (s *Store) CreateCategory(_ context.Context, c *models.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.categorySlugFree(c.Slug, ""); err != nil {
		return err
	}
	stored := *c
	stored.ArticleCount = 0
	s.categories[c.ID] = stored
	return nil
}

func (s *Store) UpdateCategory(_ context.Context, c *models.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.categories[c.ID]
	if !ok {
		return notFound("category", c.ID)
	}
	if err := s.categorySlugFree(c.Slug, c.ID); err != nil {
		return err
	}
	existing.Name, existing.Slug, existing.Description = c.Name, c.Slug, c.Description
	s.categories[c.ID] = existing
	return nil
}

func (s *Store) categorySlugFree(slug, selfID string) error {
	for id, c := range s.categories {
		if c.Slug == slug && id != selfID {
			return conflict("category", "slug", slug)
		}
	}
	return nil
}

func (s *Store) DeleteCategory(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.categories[id]; !ok {
		return notFound("category", id)
	}
	delete(s.categories, id)
	for aid, a := range s.articles {
		if a.CategoryID == id {
			a.CategoryID = ""
			s.articles[aid] = a
		}
	}
	return nil
}

func (s *Store) GetCategoryByID(_ context.Context, id string) (*models.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.categories[id]
	if !ok {
		return nil, notFound("category", id)
	}
	c.ArticleCount = s.countInCategory(id)
	return &c, nil
}

func (s *Store) GetCategoryBySlug(_ context.Context, slug string) (*models.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.categories {
		if c.Slug == slug {
			c.ArticleCount = s.countInCategory(c.ID)
			return &c, nil
		}
	}
	return nil, notFound("category", slug)
}

func (s *Store) ListCategories(context.Context) ([]models.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Category, 0, len(s.categories))
	for _, c := range s.categories {
		c.ArticleCount = s.countInCategory(c.ID)
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) CountArticlesInCategory(_ context.Context, categoryID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countInCategory(categoryID), nil
}

func (s *Store) countInCategory(id string) int {
	n := 0
	for _, a := range s.articles {
		if a.CategoryID == id {
			n++
		}
	}
	return n
}

// articles

func (s *Store) CreateArticle(_ context.Context, a *models.Article) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.articleSlugFree(a.Slug, ""); err != nil {
		return err
	}
	s.articles[a.ID] = s.linkedArticle(*a)
	return nil
}

func (s *Store) UpdateArticle(_ context.Context, a *models.Article) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.articles[a.ID]
	if !ok {
		return notFound("article", a.ID)
	}
	if err := s.articleSlugFree(a.Slug, a.ID); err != nil {
		return err
	}
	updated := s.linkedArticle(*a)
	updated.Views = current.Views
	s.articles[a.ID] = updated
	return nil
}

// linkedArticle drops references to missing nodes, as relationships would.
func (s *Store) linkedArticle(a models.Article) models.Article {
	if _, ok := s.categories[a.CategoryID]; !ok {
		a.CategoryID = ""
	}
	if _, ok := s.users[a.AuthorID]; !ok {
		a.AuthorID = ""
	}
	a.Tags = cloneStrings(a.Tags)
	a.BodyHTML = ""
	return a
}

func (s *Store) articleSlugFree(slug, selfID string) error {
	for id, a := range s.articles {
		if a.Slug == slug && id != selfID {
			return conflict("article", "slug", slug)
		}
	}
	return nil
}

func (s *Store) DeleteArticle(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.articles[id]; !ok {
		return notFound("article", id)
	}
	delete(s.articles, id)
	for cid, c := range s.comments {
		if c.ArticleID == id {
			delete(s.comments, cid)
		}
	}
	return nil
}

func (s *Store) GetArticleByID(_ context.Context, id string) (*models.Article, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.articles[id]
	if !ok {
		return nil, notFound("article", id)
	}
	a.Tags = cloneStrings(a.Tags)
	return &a, nil
}

func (s *Store) GetArticleBySlug(_ context.Context, slug string) (*models.Article, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.articles {
		if a.Slug == slug {
			a.Tags = cloneStrings(a.Tags)
			return &a, nil
		}
	}
	return nil, notFound("article", slug)
}

func (s *Store) ListArticles(_ context.Context, f storage.ArticleFilter) ([]models.Article, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	query := strings.ToLower(strings.TrimSpace(f.Query))
	var all []models.Article
	for _, a := range s.articles {
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		if f.CategoryID != "" && a.CategoryID != f.CategoryID {
			continue
		}
		if f.AuthorID != "" && a.AuthorID != f.AuthorID {
			continue
		}
		if query != "" && !strings.Contains(strings.ToLower(a.Title), query) &&
			!strings.Contains(strings.ToLower(a.Summary), query) {
			continue
		}
		a.Tags = cloneStrings(a.Tags)
		all = append(all, a)
	}
	sort.Slice(all, func(i, j int) bool {
		ki, kj := articleSortKey(all[i]), articleSortKey(all[j])
		if !ki.Equal(kj) {
			return ki.After(kj)
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	return models.Paginate(all, f.Page), len(all), nil
}

func articleSortKey(a models.Article) time.Time {
	if a.PublishedAt != nil {
		return *a.PublishedAt
	}
	return a.CreatedAt
}

func (s *Store) IncrementArticleViews(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.articles[id]
	if !ok {
		return notFound("article", id)
	}
	a.Views++
	s.articles[id] = a
	return nil
}

func (s *Store) CountArticlesByStatus(context.Context) (map[models.ArticleStatus]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := map[models.ArticleStatus]int{}
	for _, a := range s.articles {
		out[a.Status]++
	}
	return out, nil
}

// comments

func (s *Store) CreateComment(_ context.Context, c *models.Comment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.articles[c.ArticleID]; !ok {
		return notFound("article", c.ArticleID)
	}
	stored := *c
	if _, ok := s.users[stored.UserID]; !ok {
		stored.UserID = ""
	}
	s.comments[c.ID] = stored
	return nil
}

func (s *Store) GetCommentByID(_ context.Context, id string) (*models.Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.comments[id]
	if !ok {
		return nil, notFound("comment", id)
	}
	return &c, nil
}

func (s *Store) UpdateCommentStatus(_ context.Context, id string, status models.CommentStatus, moderatorID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.comments[id]
	if !ok {
		return notFound("comment", id)
	}
	c.Status, c.ModeratedBy, c.ModeratedAt = status, moderatorID, &at
	s.comments[id] = c
	return nil
}

func (s *Store) DeleteComment(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.comments[id]; !ok {
		return notFound("comment", id)
	}
	delete(s.comments, id)
	return nil
}

func (s *Store) ListArticleComments(_ context.Context, articleID string, status models.CommentStatus) ([]models.Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.Comment{}
	for _, c := range s.comments {
		if c.ArticleID == articleID && (status == "" || c.Status == status) {
			out = append(out, c)
		}
	}
	sortComments(out)
	return out, nil
}

func (s *Store) ListCommentsByStatus(_ context.Context, status models.CommentStatus, page models.Page) ([]models.Comment, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var all []models.Comment
	for _, c := range s.comments {
		if status == "" || c.Status == status {
			all = append(all, c)
		}
	}
	sortComments(all)
	return models.Paginate(all, page), len(all), nil
}

func sortComments(cs []models.Comment) {
	sort.Slice(cs, func(i, j int) bool {
		if !cs[i].CreatedAt.Equal(cs[j].CreatedAt) {
			return cs[i].CreatedAt.Before(cs[j].CreatedAt)
		}
		return cs[i].ID < cs[j].ID
	})
}

func (s *Store) CountCommentsByStatus(context.Context) (map[models.CommentStatus]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := map[models.CommentStatus]int{}
	for _, c := range s.comments {
		out[c.Status]++
	}
	return out, nil
}

// projects

func (s *Store) CreateProject(_ context.Context, p *models.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.projectSlugFree(p.Slug, ""); err != nil {
		return err
	}
	stored := *p
	stored.Technologies = cloneStrings(p.Technologies)
	s.projects[p.ID] = stored
	return nil
}

func (s *Store) UpdateProject(_ context.Context, p *models.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[p.ID]; !ok {
		return notFound("project", p.ID)
	}
	if err := s.projectSlugFree(p.Slug, p.ID); err != nil {
		return err
	}
	stored := *p
	stored.Technologies = cloneStrings(p.Technologies)
	s.projects[p.ID] = stored
	return nil
}

func (s *Store) projectSlugFree(slug, selfID string) error {
	for id, p := range s.projects {
		if p.Slug == slug && id != selfID {
			return conflict("project", "slug", slug)
		}
	}
	return nil
}

func (s *Store) DeleteProject(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[id]; !ok {
		return notFound("project", id)
	}
	delete(s.projects, id)
	return nil
}

func (s *Store) GetProjectByID(_ context.Context, id string) (*models.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, notFound("project", id)
	}
	p.Technologies = cloneStrings(p.Technologies)
	return &p, nil
}

func (s *Store) GetProjectBySlug(_ context.Context, slug string) (*models.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.projects {
		if p.Slug == slug {
			p.Technologies = cloneStrings(p.Technologies)
			return &p, nil
		}
	}
	return nil, notFound("project", slug)
}

func (s *Store) ListProjects(_ context.Context, publishedOnly bool) ([]models.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.Project{}
	for _, p := range s.projects {
		if publishedOnly && !p.Published {
			continue
		}
		p.Technologies = cloneStrings(p.Technologies)
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Featured != b.Featured {
			return a.Featured
		}
		if a.SortOrder != b.SortOrder {
			return a.SortOrder < b.SortOrder
		}
		return a.CreatedAt.After(b.CreatedAt)
	})
	return out, nil
}

// invoices

func (s *Store) CreateInvoice(_ context.Context, inv *models.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[inv.ClientID]; !ok {
		return notFound("client", inv.ClientID)
	}
	for _, existing := range s.invoices {
		if existing.Number == inv.Number {
			return conflict("invoice", "number", inv.Number)
		}
	}
	stored := *inv
	stored.Items = cloneItems(inv.Items)
	s.invoices[inv.ID] = stored
	return nil
}

func (s *Store) UpdateInvoice(_ context.Context, inv *models.Invoice, from models.InvoiceStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.invoices[inv.ID]
	if !ok {
		return notFound("invoice", inv.ID)
	}
	if current.Status != from {
		return fmt.Errorf("invoice %s is no longer %s: %w", inv.ID, from, storage.ErrConflict)
	}
	stored := *inv
	stored.Items = cloneItems(inv.Items)
	s.invoices[inv.ID] = stored
	return nil
}

func (s *Store) GetInvoiceByID(_ context.Context, id string) (*models.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inv, ok := s.invoices[id]
	if !ok {
		return nil, notFound("invoice", id)
	}
	inv.Items = cloneItems(inv.Items)
	return &inv, nil
}

func (s *Store) ListInvoices(_ context.Context, f storage.InvoiceFilter) ([]models.Invoice, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var all []models.Invoice
	for _, inv := range s.invoices {
		if f.ClientID != "" && inv.ClientID != f.ClientID {
			continue
		}
		if f.Status != "" && inv.Status != f.Status {
			continue
		}
		if f.ExcludeDraft && inv.Status == models.InvoiceDraft {
			continue
		}
		inv.Items = cloneItems(inv.Items)
		all = append(all, inv)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].IssuedAt.Equal(all[j].IssuedAt) {
			return all[i].IssuedAt.After(all[j].IssuedAt)
		}
		return all[i].Number > all[j].Number
	})
	return models.Paginate(all, f.Page), len(all), nil
}

func (s *Store) ListInvoicesDueBefore(_ context.Context, status models.InvoiceStatus, t time.Time) ([]models.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.Invoice{}
	for _, inv := range s.invoices {
		if inv.Status == status && inv.DueAt.Before(t) {
			inv.Items = cloneItems(inv.Items)
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueAt.Before(out[j].DueAt) })
	return out, nil
}

func (s *Store) NextInvoiceSeq(_ context.Context, year int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := fmt.Sprintf("invoice-%d", year)
	s.counters[key]++
	return s.counters[key], nil
}

func (s *Store) SummarizeInvoices(context.Context) ([]storage.InvoiceSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byStatus := map[models.InvoiceStatus]*storage.InvoiceSummary{}
	for _, inv := range s.invoices {
		sum, ok := byStatus[inv.Status]
		if !ok {
			sum = &storage.InvoiceSummary{Status: inv.Status}
			byStatus[inv.Status] = sum
		}
		sum.Count++
		sum.TotalCents += inv.TotalCents()
	}
	var out []storage.InvoiceSummary
	for _, sum := range byStatus {
		out = append(out, *sum)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Status < out[j].Status })
	return out, nil
}

// settings

func (s *Store) GetSettings(context.Context) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.settings))
	for k, v := range s.settings {
		out[k] = v
	}
	return out, nil
}

func (s *Store) SaveSettings(_ context.Context, values map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range values {
		s.settings[k] = v
	}
	return nil
}
