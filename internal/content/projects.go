package content

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ZetoOfficial/portal-cms/internal/models"
	"github.com/ZetoOfficial/portal-cms/internal/storage"
)

type ProjectStore interface {
	CreateProject(ctx context.Context, p *models.Project) error
	UpdateProject(ctx context.Context, p *models.Project) error
	DeleteProject(ctx context.Context, id string) error
	GetProjectByID(ctx context.Context, id string) (*models.Project, error)
	GetProjectBySlug(ctx context.Context, slug string) (*models.Project, error)
	ListProjects(ctx context.Context, publishedOnly bool) ([]models.Project, error)
}

type ProjectInput struct {
	Title        string     `json:"title"`
	Slug         string     `json:"slug"`
	Summary      string     `json:"summary"`
	Description  string     `json:"description"`
	ClientName   string     `json:"client_name"`
	URL          string     `json:"url"`
	Technologies []string   `json:"technologies"`
	Featured     bool       `json:"featured"`
	Published    bool       `json:"published"`
	SortOrder    int        `json:"sort_order"`
	CompletedAt  *time.Time `json:"completed_at"`
}

func (in *ProjectInput) normalize() error {
	in.Title = strings.TrimSpace(in.Title)
	in.Summary = strings.TrimSpace(in.Summary)
	in.ClientName = strings.TrimSpace(in.ClientName)
	in.URL = strings.TrimSpace(in.URL)
	in.Technologies = normalizeTags(in.Technologies)
	if strings.TrimSpace(in.Slug) == "" {
		in.Slug = models.Slugify(in.Title)
	} else {
		in.Slug = models.Slugify(in.Slug)
	}

	verr := models.NewValidationError()
	if in.Title == "" {
		verr.Add("title", "is required")
	} else if utf8.RuneCountInString(in.Title) > maxTitleRunes {
		verr.Add("title", fmt.Sprintf("must be at most %d characters", maxTitleRunes))
	}
	if utf8.RuneCountInString(in.Summary) > 500 {
		verr.Add("summary", "must be at most 500 characters")
	}
	if in.URL != "" {
		u, err := url.Parse(in.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			verr.Add("url", "must be an http or https address")
		}
	}
	if len(in.Technologies) > 20 {
		verr.Add("technologies", "at most 20 entries")
	}
	return verr.Err()
}

// ProjectService ведёт портфолио.
type ProjectService struct {
	store ProjectStore
	now   func() time.Time
}

func NewProjectService(store ProjectStore) *ProjectService {
	return &ProjectService{store: store, now: time.Now}
}

func (s *ProjectService) apply(p *models.Project, in ProjectInput) {
	p.Title, p.Slug, p.Summary, p.Description = in.Title, in.Slug, in.Summary, in.Description
	p.ClientName, p.URL, p.Technologies = in.ClientName, in.URL, in.Technologies
	p.Featured, p.Published, p.SortOrder = in.Featured, in.Published, in.SortOrder
	p.CompletedAt = in.CompletedAt
}

func (s *ProjectService) Create(ctx context.Context, in ProjectInput) (*models.Project, error) {
	if err := in.normalize(); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	p := &models.Project{ID: uuid.NewString(), CreatedAt: now, UpdatedAt: now}
	s.apply(p, in)
	if err := s.store.CreateProject(ctx, p); err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{"id": p.ID, "slug": p.Slug}).Info("Добавлен проект")
	return p, nil
}

func (s *ProjectService) Update(ctx context.Context, id string, in ProjectInput) (*models.Project, error) {
	p, err := s.store.GetProjectByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := in.normalize(); err != nil {
		return nil, err
	}
	s.apply(p, in)
	p.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateProject(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *ProjectService) Delete(ctx context.Context, id string) error {
	return s.store.DeleteProject(ctx, id)
}

func (s *ProjectService) Get(ctx context.Context, id string) (*models.Project, error) {
	return s.store.GetProjectByID(ctx, id)
}

// GetPublished hides unpublished projects behind not found.
func (s *ProjectService) GetPublished(ctx context.Context, slug string) (*models.Project, error) {
	p, err := s.store.GetProjectBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if !p.Published {
		return nil, fmt.Errorf("project %s: %w", slug, storage.ErrNotFound)
	}
	return p, nil
}

// ListPublished orders featured projects first, then by sort order, then newest.
func (s *ProjectService) ListPublished(ctx context.Context) ([]models.Project, error) {
	return s.store.ListProjects(ctx, true)
}

func (s *ProjectService) ListAll(ctx context.Context) ([]models.Project, error) {
	return s.store.ListProjects(ctx, false)
}
