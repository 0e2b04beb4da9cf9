package content

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ZetoOfficial/portal-cms/internal/models"
	"github.com/ZetoOfficial/portal-cms/internal/storage"
)

type CategoryStore interface {
	CreateCategory(ctx context.Context, c *models.Category) error
	UpdateCategory(ctx context.Context, c *models.Category) error
	DeleteCategory(ctx context.Context, id string) error
	GetCategoryByID(ctx context.Context, id string) (*models.Category, error)
	GetCategoryBySlug(ctx context.Context, slug string) (*models.Category, error)
	ListCategories(ctx context.Context) ([]models.Category, error)
	CountArticlesInCategory(ctx context.Context, categoryID string) (int, error)
}

type CategoryInput struct {
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Description string `json:"description"`
}

func (in *CategoryInput) normalize() error {
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	verr := models.NewValidationError()
	if in.Name == "" {
		verr.Add("name", "is required")
	} else if utf8.RuneCountInString(in.Name) > 100 {
		verr.Add("name", "must be at most 100 characters")
	}
	if utf8.RuneCountInString(in.Description) > 1000 {
		verr.Add("description", "must be at most 1000 characters")
	}
	if strings.TrimSpace(in.Slug) == "" {
		in.Slug = models.Slugify(in.Name)
	} else {
		in.Slug = models.Slugify(in.Slug)
	}
	return verr.Err()
}

// CategoryService управляет рубриками.
type CategoryService struct {
	store CategoryStore
	now   func() time.Time
}

func NewCategoryService(store CategoryStore) *CategoryService {
	return &CategoryService{store: store, now: time.Now}
}

func (s *CategoryService) Create(ctx context.Context, in CategoryInput) (*models.Category, error) {
	if err := in.normalize(); err != nil {
		return nil, err
	}
	c := &models.Category{
		ID:          uuid.NewString(),
		Name:        in.Name,
		Slug:        in.Slug,
		Description: in.Description,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.store.CreateCategory(ctx, c); err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{"id": c.ID, "slug": c.Slug}).Info("Создана рубрика")
	return c, nil
}

func (s *CategoryService) Update(ctx context.Context, id string, in CategoryInput) (*models.Category, error) {
	c, err := s.store.GetCategoryByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := in.normalize(); err != nil {
		return nil, err
	}
	c.Name, c.Slug, c.Description = in.Name, in.Slug, in.Description
	if err := s.store.UpdateCategory(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Delete refuses to remove a category that still has articles.
func (s *CategoryService) Delete(ctx context.Context, id string) error {
	n, err := s.store.CountArticlesInCategory(ctx, id)
	if err != nil {
		return err
	}
	if n > 0 {
		return fmt.Errorf("%w: category has %d articles", storage.ErrConflict, n)
	}
	if err := s.store.DeleteCategory(ctx, id); err != nil {
		return err
	}
	logrus.WithField("id", id).Info("Рубрика удалена")
	return nil
}

func (s *CategoryService) List(ctx context.Context) ([]models.Category, error) {
	return s.store.ListCategories(ctx)
}

func (s *CategoryService) GetBySlug(ctx context.Context, slug string) (*models.Category, error) {
	return s.store.GetCategoryBySlug(ctx, slug)
}
