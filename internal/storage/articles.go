package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/ZetoOfficial/portal-cms/internal/models"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

const articleProjection = `
	OPTIONAL MATCH (a)-[:IN_CATEGORY]->(c:Category)
	OPTIONAL MATCH (a)-[:WRITTEN_BY]->(u:User)
	RETURN a {.*, category_id: c.id, author_id: u.id} AS a`

const articleFilterWhere = `
	MATCH (a:Article)
	OPTIONAL MATCH (a)-[:IN_CATEGORY]->(fc:Category)
	OPTIONAL MATCH (a)-[:WRITTEN_BY]->(fu:User)
	WITH a, fc, fu
	WHERE ($status = '' OR a.status = $status)
	  AND ($category_id = '' OR fc.id = $category_id)
	  AND ($author_id = '' OR fu.id = $author_id)
	  AND ($query = '' OR toLower(a.title) CONTAINS $query OR toLower(a.summary) CONTAINS $query)
	WITH a`

const articleOrder = `
	ORDER BY coalesce(a.published_at, a.created_at) DESC, a.created_at DESC`

// linkArticle rewires category and author relationships of an article.
const linkArticle = `
	MATCH (a:Article {id: $id})
	OPTIONAL MATCH (a)-[r:IN_CATEGORY|WRITTEN_BY]->()
	DELETE r
	WITH DISTINCT a
	OPTIONAL MATCH (c:Category {id: $category_id})
	OPTIONAL MATCH (u:User {id: $author_id})
	FOREACH (_ IN CASE WHEN c IS NULL THEN [] ELSE [1] END | MERGE (a)-[:IN_CATEGORY]->(c))
	FOREACH (_ IN CASE WHEN u IS NULL THEN [] ELSE [1] END | MERGE (a)-[:WRITTEN_BY]->(u))`

func articleProps(a *models.Article) map[string]any {
	props := articleParams(a)
	delete(props, "category_id")
	delete(props, "author_id")
	return props
}

// articleUpdateProps leaves views out; only IncrementArticleViews writes it.
func articleUpdateProps(a *models.Article) map[string]any {
	props := articleProps(a)
	delete(props, "views")
	return props
}

func (s *Neo4jStorage) CreateArticle(ctx context.Context, a *models.Article) error {
	_, err := s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if err := ensureFree(ctx, tx, "Article", "slug", a.Slug, ""); err != nil {
			return nil, err
		}
		if _, err := exec(ctx, tx, `CREATE (a:Article) SET a = $props`,
			map[string]any{"props": articleProps(a)}); err != nil {
			return nil, err
		}
		_, err := exec(ctx, tx, linkArticle,
			map[string]any{"id": a.ID, "category_id": a.CategoryID, "author_id": a.AuthorID})
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("create article %s: %w", a.Slug, err)
	}
	return nil
}

func (s *Neo4jStorage) UpdateArticle(ctx context.Context, a *models.Article) error {
	_, err := s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if err := ensureFree(ctx, tx, "Article", "slug", a.Slug, a.ID); err != nil {
			return nil, err
		}
		if _, err := first(ctx, tx, `
			MATCH (a:Article {id: $id})
			SET a += $props
			RETURN a {.id} AS a
			`, map[string]any{"id": a.ID, "props": articleUpdateProps(a)}, "a"); err != nil {
			return nil, err
		}
		_, err := exec(ctx, tx, linkArticle,
			map[string]any{"id": a.ID, "category_id": a.CategoryID, "author_id": a.AuthorID})
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("update article %s: %w", a.ID, err)
	}
	return nil
}

// DeleteArticle удаляет статью вместе с комментариями.
func (s *Neo4jStorage) DeleteArticle(ctx context.Context, id string) error {
	_, err := s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		deleted, err := exec(ctx, tx, `
			MATCH (a:Article {id: $id})
			OPTIONAL MATCH (c:Comment)-[:ON]->(a)
			DETACH DELETE c, a
			`, map[string]any{"id": id})
		if err != nil {
			return nil, err
		}
		if deleted == 0 {
			return nil, ErrNotFound
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("delete article %s: %w", id, err)
	}
	return nil
}

func (s *Neo4jStorage) GetArticleByID(ctx context.Context, id string) (*models.Article, error) {
	return s.getArticle(ctx, `MATCH (a:Article {id: $value})`, id)
}

func (s *Neo4jStorage) GetArticleBySlug(ctx context.Context, slug string) (*models.Article, error) {
	return s.getArticle(ctx, `MATCH (a:Article {slug: $value})`, slug)
}

func (s *Neo4jStorage) getArticle(ctx context.Context, match, value string) (*models.Article, error) {
	res, err := s.read(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return first(ctx, tx, match+articleProjection, map[string]any{"value": value}, "a")
	})
	if err != nil {
		return nil, fmt.Errorf("get article %s: %w", value, err)
	}
	return articleFromMap(res.(map[string]any)), nil
}

func (s *Neo4jStorage) ListArticles(ctx context.Context, f ArticleFilter) ([]models.Article, int, error) {
	page := f.Page.Normalize()
	params := map[string]any{
		"status":      string(f.Status),
		"category_id": f.CategoryID,
		"author_id":   f.AuthorID,
		"query":       strings.ToLower(strings.TrimSpace(f.Query)),
		"skip":        page.Offset(),
		"limit":       page.Size,
	}
	var total int64
	res, err := s.read(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		var err error
		total, err = scalar(ctx, tx, articleFilterWhere+` RETURN COUNT(a) AS n`, params, "n")
		if err != nil {
			return nil, err
		}
		return collect(ctx, tx, articleFilterWhere+articleOrder+`
			SKIP $skip LIMIT $limit`+articleProjection+articleOrder, params, "a")
	})
	if err != nil {
		return nil, 0, fmt.Errorf("list articles: %w", err)
	}
	rows := res.([]map[string]any)
	out := make([]models.Article, 0, len(rows))
	for _, row := range rows {
		out = append(out, *articleFromMap(row))
	}
	return out, int(total), nil
}

func (s *Neo4jStorage) IncrementArticleViews(ctx context.Context, id string) error {
	_, err := s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return first(ctx, tx, `
			MATCH (a:Article {id: $id})
			SET a.views = coalesce(a.views, 0) + 1
			RETURN a {.id} AS a
			`, map[string]any{"id": id}, "a")
	})
	if err != nil {
		return fmt.Errorf("increment views %s: %w", id, err)
	}
	return nil
}

func (s *Neo4jStorage) CountArticlesByStatus(ctx context.Context) (map[models.ArticleStatus]int, error) {
	res, err := s.read(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return collect(ctx, tx, `
			MATCH (a:Article)
			WITH a.status AS status, COUNT(a) AS n
			RETURN {status: status, n: n} AS row
			`, nil, "row")
	})
	if err != nil {
		return nil, fmt.Errorf("count articles: %w", err)
	}
	out := map[models.ArticleStatus]int{}
	for _, row := range res.([]map[string]any) {
		out[models.ArticleStatus(str(row, "status"))] = int(i64(row, "n"))
	}
	return out, nil
}

func (s *Neo4jStorage) CountArticlesInCategory(ctx context.Context, categoryID string) (int, error) {
	res, err := s.read(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return scalar(ctx, tx, `
			MATCH (a:Article)-[:IN_CATEGORY]->(:Category {id: $id})
			RETURN COUNT(a) AS n
			`, map[string]any{"id": categoryID}, "n")
	})
	if err != nil {
		return 0, fmt.Errorf("count category articles %s: %w", categoryID, err)
	}
	return int(res.(int64)), nil
}
