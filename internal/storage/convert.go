package storage

import (
	"time"

	"github.com/ZetoOfficial/portal-cms/internal/models"
)

// Values coming back from the driver are loosely typed: integers are
// int64, lists are []any, datetimes are time.Time and absent properties
// are missing keys.

func str(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func i64(m map[string]any, key string) int64 {
	switch v := m[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

func boolean(m map[string]any, key string) bool {
	b, _ := m[key].(bool)
	return b
}

func timeVal(m map[string]any, key string) time.Time {
	t, _ := m[key].(time.Time)
	return t
}

func timePtr(m map[string]any, key string) *time.Time {
	t, ok := m[key].(time.Time)
	if !ok {
		return nil
	}
	return &t
}

func strs(m map[string]any, key string) []string {
	switch v := m[key].(type) {
	case []string:
		return append([]string{}, v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return []string{}
}

// optTime converts a nullable time into a query parameter; nil removes the property.
func optTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func userFromMap(m map[string]any) *models.User {
	return &models.User{
		ID:            str(m, "id"),
		Email:         str(m, "email"),
		Name:          str(m, "name"),
		PasswordHash:  str(m, "password_hash"),
		Role:          models.Role(str(m, "role")),
		EmailVerified: boolean(m, "email_verified"),
		VerifiedAt:    timePtr(m, "verified_at"),
		Active:        boolean(m, "active"),
		CreatedAt:     timeVal(m, "created_at"),
		UpdatedAt:     timeVal(m, "updated_at"),
		LastLoginAt:   timePtr(m, "last_login_at"),
	}
}

func userParams(u *models.User) map[string]any {
	return map[string]any{
		"id":             u.ID,
		"email":          u.Email,
		"name":           u.Name,
		"password_hash":  u.PasswordHash,
		"role":           string(u.Role),
		"email_verified": u.EmailVerified,
		"verified_at":    optTime(u.VerifiedAt),
		"active":         u.Active,
		"created_at":     u.CreatedAt,
		"updated_at":     u.UpdatedAt,
		"last_login_at":  optTime(u.LastLoginAt),
	}
}

func tokenFromMap(m map[string]any) *models.Token {
	return &models.Token{
		ID:        str(m, "id"),
		UserID:    str(m, "user_id"),
		Type:      models.TokenType(str(m, "type")),
		Hash:      str(m, "hash"),
		ExpiresAt: timeVal(m, "expires_at"),
		CreatedAt: timeVal(m, "created_at"),
		UsedAt:    timePtr(m, "used_at"),
	}
}

func categoryFromMap(m map[string]any) *models.Category {
	return &models.Category{
		ID:           str(m, "id"),
		Name:         str(m, "name"),
		Slug:         str(m, "slug"),
		Description:  str(m, "description"),
		ArticleCount: int(i64(m, "article_count")),
		CreatedAt:    timeVal(m, "created_at"),
	}
}

func articleFromMap(m map[string]any) *models.Article {
	return &models.Article{
		ID:          str(m, "id"),
		Title:       str(m, "title"),
		Slug:        str(m, "slug"),
		Summary:     str(m, "summary"),
		Body:        str(m, "body"),
		Status:      models.ArticleStatus(str(m, "status")),
		AuthorID:    str(m, "author_id"),
		CategoryID:  str(m, "category_id"),
		Tags:        strs(m, "tags"),
		Views:       i64(m, "views"),
		PublishedAt: timePtr(m, "published_at"),
		CreatedAt:   timeVal(m, "created_at"),
		UpdatedAt:   timeVal(m, "updated_at"),
	}
}

func articleParams(a *models.Article) map[string]any {
	return map[string]any{
		"id":           a.ID,
		"title":        a.Title,
		"slug":         a.Slug,
		"summary":      a.Summary,
		"body":         a.Body,
		"status":       string(a.Status),
		"author_id":    a.AuthorID,
		"category_id":  a.CategoryID,
		"tags":         nonNil(a.Tags),
		"views":        a.Views,
		"published_at": optTime(a.PublishedAt),
		"created_at":   a.CreatedAt,
		"updated_at":   a.UpdatedAt,
	}
}

func commentFromMap(m map[string]any) *models.Comment {
	return &models.Comment{
		ID:          str(m, "id"),
		ArticleID:   str(m, "article_id"),
		UserID:      str(m, "user_id"),
		AuthorName:  str(m, "author_name"),
		AuthorEmail: str(m, "author_email"),
		Body:        str(m, "body"),
		Status:      models.CommentStatus(str(m, "status")),
		IP:          str(m, "ip"),
		CreatedAt:   timeVal(m, "created_at"),
		ModeratedAt: timePtr(m, "moderated_at"),
		ModeratedBy: str(m, "moderated_by"),
	}
}

func projectFromMap(m map[string]any) *models.Project {
	return &models.Project{
		ID:           str(m, "id"),
		Title:        str(m, "title"),
		Slug:         str(m, "slug"),
		Summary:      str(m, "summary"),
		Description:  str(m, "description"),
		ClientName:   str(m, "client_name"),
		URL:          str(m, "url"),
		Technologies: strs(m, "technologies"),
		Featured:     boolean(m, "featured"),
		Published:    boolean(m, "published"),
		SortOrder:    int(i64(m, "sort_order")),
		CompletedAt:  timePtr(m, "completed_at"),
		CreatedAt:    timeVal(m, "created_at"),
		UpdatedAt:    timeVal(m, "updated_at"),
	}
}

func projectParams(p *models.Project) map[string]any {
	return map[string]any{
		"id":           p.ID,
		"title":        p.Title,
		"slug":         p.Slug,
		"summary":      p.Summary,
		"description":  p.Description,
		"client_name":  p.ClientName,
		"url":          p.URL,
		"technologies": nonNil(p.Technologies),
		"featured":     p.Featured,
		"published":    p.Published,
		"sort_order":   p.SortOrder,
		"completed_at": optTime(p.CompletedAt),
		"created_at":   p.CreatedAt,
		"updated_at":   p.UpdatedAt,
	}
}

func invoiceFromMap(m map[string]any) *models.Invoice {
	inv := &models.Invoice{
		ID:        str(m, "id"),
		Number:    str(m, "number"),
		ClientID:  str(m, "client_id"),
		Status:    models.InvoiceStatus(str(m, "status")),
		Currency:  str(m, "currency"),
		TaxRateBP: int(i64(m, "tax_rate_bp")),
		Notes:     str(m, "notes"),
		IssuedAt:  timeVal(m, "issued_at"),
		DueAt:     timeVal(m, "due_at"),
		SentAt:    timePtr(m, "sent_at"),
		PaidAt:    timePtr(m, "paid_at"),
		CreatedAt: timeVal(m, "created_at"),
		UpdatedAt: timeVal(m, "updated_at"),
		Items:     []models.InvoiceItem{},
	}
	if items, ok := m["items"].([]any); ok {
		for _, raw := range items {
			im, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			inv.Items = append(inv.Items, models.InvoiceItem{
				Description:    str(im, "description"),
				Quantity:       int(i64(im, "quantity")),
				UnitPriceCents: i64(im, "unit_price_cents"),
			})
		}
	}
	return inv
}

func invoiceParams(inv *models.Invoice) map[string]any {
	items := make([]map[string]any, 0, len(inv.Items))
	for i, item := range inv.Items {
		items = append(items, map[string]any{
			"position":         i,
			"description":      item.Description,
			"quantity":         item.Quantity,
			"unit_price_cents": item.UnitPriceCents,
		})
	}
	return map[string]any{
		"id":          inv.ID,
		"number":      inv.Number,
		"client_id":   inv.ClientID,
		"status":      string(inv.Status),
		"currency":    inv.Currency,
		"tax_rate_bp": inv.TaxRateBP,
		"notes":       inv.Notes,
		"issued_at":   inv.IssuedAt,
		"due_at":      inv.DueAt,
		"sent_at":     optTime(inv.SentAt),
		"paid_at":     optTime(inv.PaidAt),
		"created_at":  inv.CreatedAt,
		"updated_at":  inv.UpdatedAt,
		"total_cents": inv.TotalCents(),
		"items":       items,
	}
}
