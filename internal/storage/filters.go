package storage

import "github.com/ZetoOfficial/portal-cms/internal/models"

// ArticleFilter отбирает статьи для списков. Пустые поля не фильтруют.
type ArticleFilter struct {
	Status     models.ArticleStatus
	CategoryID string
	AuthorID   string
	Query      string
	Page       models.Page
}

type InvoiceFilter struct {
	ClientID     string
	Status       models.InvoiceStatus
	ExcludeDraft bool
	Page         models.Page
}

// InvoiceSummary агрегат счетов по статусу.
type InvoiceSummary struct {
	Status     models.InvoiceStatus
	Count      int
	TotalCents int64
}
