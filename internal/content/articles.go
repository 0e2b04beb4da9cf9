package content

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ZetoOfficial/portal-cms/internal/models"
	"github.com/ZetoOfficial/portal-cms/internal/storage"
)

const (
	maxTags       = 10
	maxTagLength  = 30
	maxSlugTries  = 50
	maxTitleRunes = 200
)

type ArticleStore interface {
	CreateArticle(ctx context.Context, a *models.Article) error
	UpdateArticle(ctx context.Context, a *models.Article) error
	DeleteArticle(ctx context.Context, id string) error
	GetArticleByID(ctx context.Context, id string) (*models.Article, error)
	GetArticleBySlug(ctx context.Context, slug string) (*models.Article, error)
	ListArticles(ctx context.Context, f storage.ArticleFilter) ([]models.Article, int, error)
	IncrementArticleViews(ctx context.Context, id string) error
	GetCategoryByID(ctx context.Context, id string) (*models.Category, error)
	GetCategoryBySlug(ctx context.Context, slug string) (*models.Category, error)
}

type ArticleInput struct {
	Title      string   `json:"title"`
	Slug       string   `json:"slug"`
	Summary    string   `json:"summary"`
	Body       string   `json:"body"`
	CategoryID string   `json:"category_id"`
	Tags       []string `json:"tags"`
}

// ArticleService ведёт статьи блога от черновика до архива.
type ArticleService struct {
	store ArticleStore
	now   func() time.Time
}

func NewArticleService(store ArticleStore) *ArticleService {
	return &ArticleService{store: store, now: time.Now}
}

func (s *ArticleService) validate(ctx context.Context, in *ArticleInput) error {
	in.Title = strings.TrimSpace(in.Title)
	in.Summary = strings.TrimSpace(in.Summary)
	in.CategoryID = strings.TrimSpace(in.CategoryID)
	in.Tags = normalizeTags(in.Tags)

	verr := models.NewValidationError()
	if in.Title == "" {
		verr.Add("title", "is required")
	} else if utf8.RuneCountInString(in.Title) > maxTitleRunes {
		verr.Add("title", fmt.Sprintf("must be at most %d characters", maxTitleRunes))
	}
	if strings.TrimSpace(in.Body) == "" {
		verr.Add("body", "is required")
	}
	if utf8.RuneCountInString(in.Summary) > 500 {
		verr.Add("summary", "must be at most 500 characters")
	}
	if len(in.Tags) > maxTags {
		verr.Add("tags", fmt.Sprintf("at most %d tags", maxTags))
	}
	for _, tag := range in.Tags {
		if utf8.RuneCountInString(tag) > maxTagLength {
			verr.Add("tags", fmt.Sprintf("each tag must be at most %d characters", maxTagLength))
		}
	}
	if in.CategoryID != "" {
		if _, err := s.store.GetCategoryByID(ctx, in.CategoryID); errors.Is(err, storage.ErrNotFound) {
			verr.Add("category_id", "does not exist")
		} else if err != nil {
			return err
		}
	}
	return verr.Err()
}

func normalizeTags(tags []string) []string {
	out := []string{}
	seen := map[string]bool{}
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
	}
	return out
}

// uniqueSlug returns base, or base-2, base-3... whichever is not taken by
// another article.
func (s *ArticleService) uniqueSlug(ctx context.Context, base, selfID string) (string, error) {
	for i := 1; i <= maxSlugTries; i++ {
		candidate := base
		if i > 1 {
			suffix := "-" + strconv.Itoa(i)
			candidate = strings.TrimRight(truncate(base, 80-len(suffix)), "-") + suffix
		}
		existing, err := s.store.GetArticleBySlug(ctx, candidate)
		if errors.Is(err, storage.ErrNotFound) {
			return candidate, nil
		}
		if err != nil {
			return "", err
		}
		if existing.ID == selfID {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: no free slug for %q", storage.ErrConflict, base)
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func slugBase(in ArticleInput) string {
	if strings.TrimSpace(in.Slug) != "" {
		return models.Slugify(in.Slug)
	}
	return models.Slugify(in.Title)
}

// Create stores a new draft.
func (s *ArticleService) Create(ctx context.Context, authorID string, in ArticleInput) (*models.Article, error) {
	if err := s.validate(ctx, &in); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	a := &models.Article{
		ID:         uuid.NewString(),
		Title:      in.Title,
		Summary:    in.Summary,
		Body:       in.Body,
		Status:     models.ArticleDraft,
		AuthorID:   authorID,
		CategoryID: in.CategoryID,
		Tags:       in.Tags,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	base := slugBase(in)
	// another editor may grab the same slug between lookup and insert
	for attempt := 0; ; attempt++ {
		slug, err := s.uniqueSlug(ctx, base, a.ID)
		if err != nil {
			return nil, err
		}
		a.Slug = slug
		err = s.store.CreateArticle(ctx, a)
		if err == nil {
			break
		}
		if !errors.Is(err, storage.ErrConflict) || attempt >= 2 {
			return nil, err
		}
	}
	logrus.WithFields(logrus.Fields{"id": a.ID, "slug": a.Slug, "author_id": authorID}).Info("Создана статья")
	return a, nil
}

func (s *ArticleService) Update(ctx context.Context, id string, in ArticleInput) (*models.Article, error) {
	a, err := s.store.GetArticleByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.validate(ctx, &in); err != nil {
		return nil, err
	}
	base := slugBase(in)
	if base != a.Slug {
		slug, err := s.uniqueSlug(ctx, base, a.ID)
		if err != nil {
			return nil, err
		}
		a.Slug = slug
	}
	a.Title, a.Summary, a.Body = in.Title, in.Summary, in.Body
	a.CategoryID, a.Tags = in.CategoryID, in.Tags
	a.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateArticle(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *ArticleService) setStatus(ctx context.Context, id string, status models.ArticleStatus) (*models.Article, error) {
	a, err := s.store.GetArticleByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status == status {
		return a, nil
	}
	now := s.now().UTC()
	a.Status = status
	a.UpdatedAt = now
	if status == models.ArticlePublished && a.PublishedAt == nil {
		a.PublishedAt = &now
	}
	if err := s.store.UpdateArticle(ctx, a); err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{"id": a.ID, "status": status}).Info("Статус статьи изменён")
	return a, nil
}

// Publish makes the article public. The first publication date is kept
// across unpublish and republish.
func (s *ArticleService) Publish(ctx context.Context, id string) (*models.Article, error) {
	return s.setStatus(ctx, id, models.ArticlePublished)
}

func (s *ArticleService) Unpublish(ctx context.Context, id string) (*models.Article, error) {
	return s.setStatus(ctx, id, models.ArticleDraft)
}

func (s *ArticleService) Archive(ctx context.Context, id string) (*models.Article, error) {
	return s.setStatus(ctx, id, models.ArticleArchived)
}

// Delete removes the article together with its comments.
func (s *ArticleService) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteArticle(ctx, id); err != nil {
		return err
	}
	logrus.WithField("id", id).Info("Статья удалена")
	return nil
}

// Get returns any article with its rendered body, for editors.
func (s *ArticleService) Get(ctx context.Context, id string) (*models.Article, error) {
	a, err := s.store.GetArticleByID(ctx, id)
	if err != nil {
		return nil, err
	}
	a.BodyHTML = RenderMarkdown(a.Body)
	return a, nil
}

// GetPublished returns a published article by slug and counts the view.
// Anything else is reported as not found.
func (s *ArticleService) GetPublished(ctx context.Context, slug string) (*models.Article, error) {
	a, err := s.store.GetArticleBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if a.Status != models.ArticlePublished {
		return nil, fmt.Errorf("article %s: %w", slug, storage.ErrNotFound)
	}
	if err := s.store.IncrementArticleViews(ctx, a.ID); err != nil {
		logrus.WithFields(logrus.Fields{"id": a.ID, "error": err}).Warn("Не удалось учесть просмотр")
	} else {
		a.Views++
	}
	a.BodyHTML = RenderMarkdown(a.Body)
	return a, nil
}

// ListPublished lists public articles, optionally limited to a category
// slug and a text query.
func (s *ArticleService) ListPublished(ctx context.Context, categorySlug, query string, page models.Page) (models.PageResult[models.Article], error) {
	f := storage.ArticleFilter{Status: models.ArticlePublished, Query: query, Page: page}
	if categorySlug != "" {
		c, err := s.store.GetCategoryBySlug(ctx, categorySlug)
		if err != nil {
			return models.PageResult[models.Article]{}, err
		}
		f.CategoryID = c.ID
	}
	return s.list(ctx, f)
}

func (s *ArticleService) ListAll(ctx context.Context, f storage.ArticleFilter) (models.PageResult[models.Article], error) {
	if f.Status != "" {
		switch f.Status {
		case models.ArticleDraft, models.ArticlePublished, models.ArticleArchived:
		default:
			verr := models.NewValidationError()
			verr.Add("status", "is not a valid status")
			return models.PageResult[models.Article]{}, verr
		}
	}
	return s.list(ctx, f)
}

func (s *ArticleService) list(ctx context.Context, f storage.ArticleFilter) (models.PageResult[models.Article], error) {
	items, total, err := s.store.ListArticles(ctx, f)
	if err != nil {
		return models.PageResult[models.Article]{}, fmt.Errorf("list articles: %w", err)
	}
	return models.NewPageResult(items, total, f.Page), nil
}
