package models

import "time"

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleEditor Role = "editor"
	RoleClient Role = "client"
)

// IsStaff сообщает, может ли роль работать с админкой.
func (r Role) IsStaff() bool {
	return r == RoleAdmin || r == RoleEditor
}

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleEditor, RoleClient:
		return true
	}
	return false
}

// User представляет зарегистрированного пользователя.
type User struct {
	ID            string     `json:"id"`
	Email         string     `json:"email"`
	Name          string     `json:"name"`
	PasswordHash  string     `json:"-"`
	Role          Role       `json:"role"`
	EmailVerified bool       `json:"email_verified"`
	VerifiedAt    *time.Time `json:"verified_at,omitempty"`
	Active        bool       `json:"active"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	LastLoginAt   *time.Time `json:"last_login_at,omitempty"`
}

type TokenType string

const (
	TokenVerifyEmail   TokenType = "verify_email"
	TokenResetPassword TokenType = "reset_password"
)

// Token хранит только хеш выданного токена.
type Token struct {
	ID        string
	UserID    string
	Type      TokenType
	Hash      string
	ExpiresAt time.Time
	CreatedAt time.Time
	UsedAt    *time.Time
}

func (t *Token) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

func (t *Token) Used() bool {
	return t.UsedAt != nil
}

// Category представляет рубрику статей.
type Category struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Slug         string    `json:"slug"`
	Description  string    `json:"description"`
	ArticleCount int       `json:"article_count"`
	CreatedAt    time.Time `json:"created_at"`
}

type ArticleStatus string

const (
	ArticleDraft     ArticleStatus = "draft"
	ArticlePublished ArticleStatus = "published"
	ArticleArchived  ArticleStatus = "archived"
)

// Article представляет статью блога.
type Article struct {
	ID          string        `json:"id"`
	Title       string        `json:"title"`
	Slug        string        `json:"slug"`
	Summary     string        `json:"summary"`
	Body        string        `json:"body"`
	BodyHTML    string        `json:"body_html,omitempty"`
	Status      ArticleStatus `json:"status"`
	AuthorID    string        `json:"author_id"`
	CategoryID  string        `json:"category_id,omitempty"`
	Tags        []string      `json:"tags"`
	Views       int64         `json:"views"`
	PublishedAt *time.Time    `json:"published_at,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

type CommentStatus string

const (
	CommentPending  CommentStatus = "pending"
	CommentApproved CommentStatus = "approved"
	CommentRejected CommentStatus = "rejected"
	CommentSpam     CommentStatus = "spam"
)

func (s CommentStatus) Valid() bool {
	switch s {
	case CommentPending, CommentApproved, CommentRejected, CommentSpam:
		return true
	}
	return false
}

// Comment представляет комментарий к статье.
type Comment struct {
	ID          string        `json:"id"`
	ArticleID   string        `json:"article_id"`
	UserID      string        `json:"user_id,omitempty"`
	AuthorName  string        `json:"author_name"`
	AuthorEmail string        `json:"-"`
	Body        string        `json:"body"`
	Status      CommentStatus `json:"status"`
	IP          string        `json:"-"`
	CreatedAt   time.Time     `json:"created_at"`
	ModeratedAt *time.Time    `json:"moderated_at,omitempty"`
	ModeratedBy string        `json:"moderated_by,omitempty"`
}

// Project представляет работу из портфолио.
type Project struct {
	ID           string     `json:"id"`
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
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Setting представляет пару ключ/значение настроек сайта.
type Setting struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// DashboardStats сводка для главной страницы админки.
type DashboardStats struct {
	Users            int                   `json:"users"`
	ArticlesByStatus map[ArticleStatus]int `json:"articles_by_status"`
	CommentsByStatus map[CommentStatus]int `json:"comments_by_status"`
	Projects         int                   `json:"projects"`
	InvoicesByStatus map[InvoiceStatus]int `json:"invoices_by_status"`
	OutstandingCents int64                 `json:"outstanding_cents"`
	PaidCents        int64                 `json:"paid_cents"`
	RecentArticles   []Article             `json:"recent_articles"`
	GeneratedAt      time.Time             `json:"generated_at"`
}

// Page задаёт номер страницы (с единицы) и её размер.
type Page struct {
	Number int
	Size   int
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Normalize clamps the page into sane bounds.
func (p Page) Normalize() Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Size <= 0 {
		p.Size = DefaultPageSize
	}
	if p.Size > MaxPageSize {
		p.Size = MaxPageSize
	}
	return p
}

func (p Page) Offset() int {
	p = p.Normalize()
	return (p.Number - 1) * p.Size
}

type PageResult[T any] struct {
	Items   []T `json:"items"`
	Total   int `json:"total"`
	Page    int `json:"page"`
	PerPage int `json:"per_page"`
}

func NewPageResult[T any](items []T, total int, p Page) PageResult[T] {
	p = p.Normalize()
	if items == nil {
		items = []T{}
	}
	return PageResult[T]{Items: items, Total: total, Page: p.Number, PerPage: p.Size}
}

// Paginate cuts a page out of an already filtered slice.
func Paginate[T any](items []T, p Page) []T {
	off := p.Offset()
	if off >= len(items) {
		return nil
	}
	end := off + p.Normalize().Size
	if end > len(items) {
		end = len(items)
	}
	return items[off:end]
}
