package content

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ZetoOfficial/portal-cms/internal/auth"
	"github.com/ZetoOfficial/portal-cms/internal/metrics"
	"github.com/ZetoOfficial/portal-cms/internal/models"
	"github.com/ZetoOfficial/portal-cms/internal/settings"
	"github.com/ZetoOfficial/portal-cms/internal/storage"
)

const (
	minCommentRunes = 2
	maxCommentRunes = 5000
)

type CommentStore interface {
	CreateComment(ctx context.Context, c *models.Comment) error
	GetCommentByID(ctx context.Context, id string) (*models.Comment, error)
	UpdateCommentStatus(ctx context.Context, id string, status models.CommentStatus, moderatorID string, at time.Time) error
	DeleteComment(ctx context.Context, id string) error
	ListArticleComments(ctx context.Context, articleID string, status models.CommentStatus) ([]models.Comment, error)
	ListCommentsByStatus(ctx context.Context, status models.CommentStatus, page models.Page) ([]models.Comment, int, error)
	GetArticleBySlug(ctx context.Context, slug string) (*models.Article, error)
}

type CommentNotifier interface {
	NotifyPendingComment(ctx context.Context, to string, a *models.Article, c *models.Comment, link string) error
}

type Settings interface {
	Bool(ctx context.Context, key string) bool
	String(ctx context.Context, key string) string
}

type CommentOptions struct {
	AdminEmail string
	BaseURL    string
	// PerMinute and Burst throttle submissions per client IP.
	PerMinute int
	Burst     int
}

type CommentInput struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Body  string `json:"body"`
}

// CommentService принимает и модерирует комментарии.
type CommentService struct {
	store    CommentStore
	notifier CommentNotifier
	settings Settings
	limiter  *auth.Limiter
	metrics  *metrics.Registry
	opts     CommentOptions
	now      func() time.Time
}

func NewCommentService(store CommentStore, notifier CommentNotifier, st Settings, m *metrics.Registry, opts CommentOptions) *CommentService {
	if opts.PerMinute <= 0 {
		opts.PerMinute = 3
	}
	if opts.Burst <= 0 {
		opts.Burst = 5
	}
	return &CommentService{
		store:    store,
		notifier: notifier,
		settings: st,
		limiter:  auth.NewLimiter(opts.PerMinute, opts.Burst),
		metrics:  m,
		opts:     opts,
		now:      time.Now,
	}
}

// Submit adds a comment to a published article. author is nil for
// anonymous visitors, who must give a name and an email.
func (s *CommentService) Submit(ctx context.Context, articleSlug string, author *models.User, in CommentInput, clientIP string) (*models.Comment, error) {
	if !s.settings.Bool(ctx, settings.CommentsEnabled) {
		return nil, ErrCommentsClosed
	}
	article, err := s.publishedArticle(ctx, articleSlug)
	if err != nil {
		return nil, err
	}

	c := &models.Comment{
		ID:        uuid.NewString(),
		ArticleID: article.ID,
		Body:      PlainText(in.Body),
		IP:        clientIP,
		CreatedAt: s.now().UTC(),
	}
	verr := models.NewValidationError()
	if author != nil {
		c.UserID, c.AuthorName, c.AuthorEmail = author.ID, author.Name, author.Email
	} else {
		c.AuthorName = PlainText(in.Name)
		c.AuthorEmail = strings.ToLower(strings.TrimSpace(in.Email))
		if c.AuthorName == "" {
			verr.Add("name", "is required")
		} else if utf8.RuneCountInString(c.AuthorName) > 100 {
			verr.Add("name", "must be at most 100 characters")
		}
		if c.AuthorEmail == "" {
			verr.Add("email", "is required")
		} else if addr, err := mail.ParseAddress(c.AuthorEmail); err != nil || addr.Address != c.AuthorEmail {
			verr.Add("email", "is not a valid address")
		}
	}
	if n := utf8.RuneCountInString(c.Body); n < minCommentRunes || n > maxCommentRunes {
		verr.Add("body", fmt.Sprintf("must be between %d and %d characters", minCommentRunes, maxCommentRunes))
	}
	if err := verr.Err(); err != nil {
		return nil, err
	}

	if author == nil || !author.Role.IsStaff() {
		if !s.limiter.Allow(clientIP) {
			return nil, auth.ErrTooManyAttempts
		}
	}

	c.Status = models.CommentPending
	switch {
	case author != nil && author.Role.IsStaff():
		c.Status = models.CommentApproved
	case author != nil && author.EmailVerified && s.settings.Bool(ctx, settings.CommentsAutoApproveVerified):
		c.Status = models.CommentApproved
	}

	if err := s.store.CreateComment(ctx, c); err != nil {
		return nil, fmt.Errorf("create comment: %w", err)
	}
	if s.metrics != nil {
		s.metrics.CommentsPosted.WithLabelValues(string(c.Status)).Inc()
	}
	logrus.WithFields(logrus.Fields{
		"id":         c.ID,
		"article_id": article.ID,
		"status":     c.Status,
		"ip":         clientIP,
	}).Info("Новый комментарий")

	if c.Status == models.CommentPending {
		s.notifyAdmin(ctx, article, c)
	}
	return c, nil
}

func (s *CommentService) notifyAdmin(ctx context.Context, a *models.Article, c *models.Comment) {
	to := s.opts.AdminEmail
	if to == "" {
		to = s.settings.String(ctx, settings.ContactEmail)
	}
	if to == "" || s.notifier == nil {
		return
	}
	link := strings.TrimRight(s.opts.BaseURL, "/") + "/admin/comments"
	if err := s.notifier.NotifyPendingComment(ctx, to, a, c, link); err != nil {
		logrus.WithFields(logrus.Fields{"comment_id": c.ID, "error": err}).Error("Не удалось уведомить о комментарии")
	}
}

func (s *CommentService) publishedArticle(ctx context.Context, slug string) (*models.Article, error) {
	a, err := s.store.GetArticleBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if a.Status != models.ArticlePublished {
		return nil, fmt.Errorf("article %s: %w", slug, storage.ErrNotFound)
	}
	return a, nil
}

// ListApproved returns the visible comments of a published article,
// oldest first.
func (s *CommentService) ListApproved(ctx context.Context, articleSlug string) ([]models.Comment, error) {
	a, err := s.publishedArticle(ctx, articleSlug)
	if err != nil {
		return nil, err
	}
	return s.store.ListArticleComments(ctx, a.ID, models.CommentApproved)
}

func (s *CommentService) PendingQueue(ctx context.Context, page models.Page) (models.PageResult[models.Comment], error) {
	return s.ListByStatus(ctx, models.CommentPending, page)
}

func (s *CommentService) ListByStatus(ctx context.Context, status models.CommentStatus, page models.Page) (models.PageResult[models.Comment], error) {
	if !status.Valid() {
		verr := models.NewValidationError()
		verr.Add("status", "is not a valid status")
		return models.PageResult[models.Comment]{}, verr
	}
	items, total, err := s.store.ListCommentsByStatus(ctx, status, page)
	if err != nil {
		return models.PageResult[models.Comment]{}, fmt.Errorf("list comments: %w", err)
	}
	return models.NewPageResult(items, total, page), nil
}

// ModerationStatus maps a moderation action to the resulting status.
func ModerationStatus(action string) (models.CommentStatus, error) {
	switch action {
	case "approve":
		return models.CommentApproved, nil
	case "reject":
		return models.CommentRejected, nil
	case "spam":
		return models.CommentSpam, nil
	}
	verr := models.NewValidationError()
	verr.Add("action", "must be approve, reject or spam")
	return "", verr
}

func (s *CommentService) Moderate(ctx context.Context, id, action, moderatorID string) (*models.Comment, error) {
	status, err := ModerationStatus(action)
	if err != nil {
		return nil, err
	}
	if err := s.store.UpdateCommentStatus(ctx, id, status, moderatorID, s.now().UTC()); err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{"id": id, "status": status, "moderator": moderatorID}).Info("Комментарий отмодерирован")
	return s.store.GetCommentByID(ctx, id)
}

// BulkModerate applies one action to many comments and returns how many
// were changed. Comments deleted in the meantime are skipped.
func (s *CommentService) BulkModerate(ctx context.Context, ids []string, action, moderatorID string) (int, error) {
	status, err := ModerationStatus(action)
	if err != nil {
		return 0, err
	}
	now := s.now().UTC()
	n := 0
	for _, id := range ids {
		err := s.store.UpdateCommentStatus(ctx, id, status, moderatorID, now)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return n, err
		}
		n++
	}
	logrus.WithFields(logrus.Fields{"count": n, "status": status, "moderator": moderatorID}).Info("Комментарии отмодерированы")
	return n, nil
}

func (s *CommentService) Delete(ctx context.Context, id string) error {
	return s.store.DeleteComment(ctx, id)
}
