package dashboard

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ZetoOfficial/portal-cms/internal/models"
	"github.com/ZetoOfficial/portal-cms/internal/storage"
)

const recentArticles = 5

type Store interface {
	CountUsers(ctx context.Context) (int, error)
	CountArticlesByStatus(ctx context.Context) (map[models.ArticleStatus]int, error)
	CountCommentsByStatus(ctx context.Context) (map[models.CommentStatus]int, error)
	ListProjects(ctx context.Context, publishedOnly bool) ([]models.Project, error)
	SummarizeInvoices(ctx context.Context) ([]storage.InvoiceSummary, error)
	ListArticles(ctx context.Context, f storage.ArticleFilter) ([]models.Article, int, error)
	RunQuery(ctx context.Context, queryName string) ([]map[string]any, error)
}

// Service собирает сводку для админки.
type Service struct {
	store Store
	now   func() time.Time
}

func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

// Stats runs the independent counters concurrently; the first error
// cancels the rest.
func (s *Service) Stats(ctx context.Context) (*models.DashboardStats, error) {
	stats := &models.DashboardStats{GeneratedAt: s.now().UTC()}
	var invoices []storage.InvoiceSummary

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := s.store.CountUsers(ctx)
		stats.Users = n
		return wrap("count users", err)
	})
	g.Go(func() error {
		m, err := s.store.CountArticlesByStatus(ctx)
		stats.ArticlesByStatus = m
		return wrap("count articles", err)
	})
	g.Go(func() error {
		m, err := s.store.CountCommentsByStatus(ctx)
		stats.CommentsByStatus = m
		return wrap("count comments", err)
	})
	g.Go(func() error {
		projects, err := s.store.ListProjects(ctx, false)
		stats.Projects = len(projects)
		return wrap("count projects", err)
	})
	g.Go(func() error {
		sums, err := s.store.SummarizeInvoices(ctx)
		invoices = sums
		return wrap("summarize invoices", err)
	})
	g.Go(func() error {
		items, _, err := s.store.ListArticles(ctx, storage.ArticleFilter{Page: models.Page{Number: 1, Size: recentArticles}})
		stats.RecentArticles = items
		return wrap("recent articles", err)
	})
	if err := g.Wait(); err != nil {
		logrus.WithField("error", err).Error("Не удалось собрать статистику")
		return nil, err
	}

	stats.InvoicesByStatus = map[models.InvoiceStatus]int{}
	for _, sum := range invoices {
		stats.InvoicesByStatus[sum.Status] = sum.Count
		switch {
		case sum.Status.Outstanding():
			stats.OutstandingCents += sum.TotalCents
		case sum.Status == models.InvoicePaid:
			stats.PaidCents += sum.TotalCents
		}
	}
	if stats.RecentArticles == nil {
		stats.RecentArticles = []models.Article{}
	}
	return stats, nil
}

func wrap(what string, err error) error {
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	return nil
}

// Reports lists the available report names.
func (s *Service) Reports() []string {
	return append([]string(nil), storage.ReportNames...)
}

// Report runs a named report query.
func (s *Service) Report(ctx context.Context, name string) ([]map[string]any, error) {
	if !storage.ValidReport(name) {
		return nil, fmt.Errorf("report %s: %w", name, storage.ErrNotFound)
	}
	logrus.Infof("Run query: %s", name)
	rows, err := s.store.RunQuery(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("run query %s: %w", name, err)
	}
	return rows, nil
}
