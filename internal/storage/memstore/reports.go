package memstore

import (
	"context"
	"fmt"
	"sort"

	"github.com/ZetoOfficial/portal-cms/internal/models"
	"github.com/ZetoOfficial/portal-cms/internal/storage"
)

// RunQuery evaluates the same named reports as the Neo4j queries.
func (s *Store) RunQuery(ctx context.Context, queryName string) ([]map[string]any, error) {
	if !storage.ValidReport(queryName) {
		return nil, fmt.Errorf("query %s: %w", queryName, storage.ErrNotFound)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	switch queryName {
	case "total_users":
		counts := map[models.Role]int64{}
		for _, u := range s.users {
			counts[u.Role]++
		}
		rows := make([]map[string]any, 0, len(counts))
		for role, n := range counts {
			rows = append(rows, map[string]any{"role": string(role), "total_users": n})
		}
		sortRows(rows, "role", false)
		return rows, nil
	case "top_categories":
		counts := map[string]int64{}
		for _, a := range s.articles {
			if c, ok := s.categories[a.CategoryID]; ok && a.Status == models.ArticlePublished {
				counts[c.Name]++
			}
		}
		rows := countRows(counts, "category", "articles")
		return limit(rows, 5), nil
	case "top_commented_articles":
		counts := map[string]int64{}
		for _, c := range s.comments {
			if c.Status == models.CommentApproved {
				counts[c.ArticleID]++
			}
		}
		var rows []map[string]any
		for id, n := range counts {
			a := s.articles[id]
			rows = append(rows, map[string]any{"title": a.Title, "slug": a.Slug, "comments": n})
		}
		sortByCount(rows, "comments", "title")
		return limit(rows, 5), nil
	case "top_viewed_articles":
		var rows []map[string]any
		for _, a := range s.articles {
			if a.Status == models.ArticlePublished {
				rows = append(rows, map[string]any{"title": a.Title, "slug": a.Slug, "views": a.Views})
			}
		}
		sortByCount(rows, "views", "title")
		return limit(rows, 5), nil
	case "invoice_totals_by_status":
		rows := []map[string]any{}
		for _, inv := range s.invoices {
			found := false
			for _, row := range rows {
				if row["status"] == string(inv.Status) {
					row["invoices"] = row["invoices"].(int64) + 1
					row["total_cents"] = row["total_cents"].(int64) + inv.TotalCents()
					found = true
					break
				}
			}
			if !found {
				rows = append(rows, map[string]any{"status": string(inv.Status), "invoices": int64(1), "total_cents": inv.TotalCents()})
			}
		}
		sortRows(rows, "status", false)
		return rows, nil
	case "top_clients":
		paid := map[string]int64{}
		for _, inv := range s.invoices {
			if inv.Status == models.InvoicePaid {
				paid[inv.ClientID] += inv.TotalCents()
			}
		}
		var rows []map[string]any
		for id, cents := range paid {
			u := s.users[id]
			rows = append(rows, map[string]any{"email": u.Email, "name": u.Name, "paid_cents": cents})
		}
		sortByCount(rows, "paid_cents", "email")
		return limit(rows, 5), nil
	case "newest_users":
		users := make([]models.User, 0, len(s.users))
		for _, u := range s.users {
			users = append(users, u)
		}
		sort.Slice(users, func(i, j int) bool { return users[i].CreatedAt.After(users[j].CreatedAt) })
		var rows []map[string]any
		for _, u := range users {
			rows = append(rows, map[string]any{"email": u.Email, "name": u.Name, "role": string(u.Role), "created_at": u.CreatedAt})
		}
		return limit(rows, 10), nil
	}
	return nil, fmt.Errorf("query %s: %w", queryName, storage.ErrNotFound)
}

func countRows(counts map[string]int64, key, countKey string) []map[string]any {
	rows := make([]map[string]any, 0, len(counts))
	for k, n := range counts {
		rows = append(rows, map[string]any{key: k, countKey: n})
	}
	sortByCount(rows, countKey, key)
	return rows
}

// sortByCount orders rows by countKey descending, ties by tieKey ascending.
func sortByCount(rows []map[string]any, countKey, tieKey string) {
	sort.Slice(rows, func(i, j int) bool {
		ci, cj := rows[i][countKey].(int64), rows[j][countKey].(int64)
		if ci != cj {
			return ci > cj
		}
		return rows[i][tieKey].(string) < rows[j][tieKey].(string)
	})
}

func sortRows(rows []map[string]any, key string, desc bool) {
	sort.Slice(rows, func(i, j int) bool {
		if desc {
			return rows[i][key].(string) > rows[j][key].(string)
		}
		return rows[i][key].(string) < rows[j][key].(string)
	})
}

func limit(rows []map[string]any, n int) []map[string]any {
	if rows == nil {
		return []map[string]any{}
	}
	if len(rows) > n {
		return rows[:n]
	}
	return rows
}
