package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/ZetoOfficial/portal-cms/internal/models"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

const commentProjection = `
	OPTIONAL MATCH (c)-[:POSTED_BY]->(u:User)
	RETURN c {.*, article_id: a.id, user_id: u.id} AS c`

func (s *Neo4jStorage) CreateComment(ctx context.Context, c *models.Comment) error {
	_, err := s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := first(ctx, tx, `
			MATCH (a:Article {id: $article_id})
			CREATE (c:Comment {
				id: $id, author_name: $author_name, author_email: $author_email, body: $body,
				status: $status, ip: $ip, created_at: $created_at
			})-[:ON]->(a)
			WITH c
			OPTIONAL MATCH (u:User {id: $user_id})
			FOREACH (_ IN CASE WHEN u IS NULL THEN [] ELSE [1] END | CREATE (c)-[:POSTED_BY]->(u))
			RETURN c {.id} AS c
			`, map[string]any{
			"id":           c.ID,
			"article_id":   c.ArticleID,
			"user_id":      c.UserID,
			"author_name":  c.AuthorName,
			"author_email": c.AuthorEmail,
			"body":         c.Body,
			"status":       string(c.Status),
			"ip":           c.IP,
			"created_at":   c.CreatedAt,
		}, "c")
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("create comment on %s: %w", c.ArticleID, err)
	}
	return nil
}

func (s *Neo4jStorage) GetCommentByID(ctx context.Context, id string) (*models.Comment, error) {
	res, err := s.read(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return first(ctx, tx, `MATCH (c:Comment {id: $id})-[:ON]->(a:Article)`+commentProjection,
			map[string]any{"id": id}, "c")
	})
	if err != nil {
		return nil, fmt.Errorf("get comment %s: %w", id, err)
	}
	return commentFromMap(res.(map[string]any)), nil
}

func (s *Neo4jStorage) UpdateCommentStatus(ctx context.Context, id string, status models.CommentStatus, moderatorID string, at time.Time) error {
	_, err := s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return first(ctx, tx, `
			MATCH (c:Comment {id: $id})
			SET c.status = $status, c.moderated_by = $moderated_by, c.moderated_at = $at
			RETURN c {.id} AS c
			`, map[string]any{"id": id, "status": string(status), "moderated_by": moderatorID, "at": at}, "c")
	})
	if err != nil {
		return fmt.Errorf("update comment %s: %w", id, err)
	}
	return nil
}

func (s *Neo4jStorage) DeleteComment(ctx context.Context, id string) error {
	_, err := s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		deleted, err := exec(ctx, tx, `MATCH (c:Comment {id: $id}) DETACH DELETE c`, map[string]any{"id": id})
		if err != nil {
			return nil, err
		}
		if deleted == 0 {
			return nil, ErrNotFound
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("delete comment %s: %w", id, err)
	}
	return nil
}

// ListArticleComments возвращает комментарии статьи в хронологическом порядке.
func (s *Neo4jStorage) ListArticleComments(ctx context.Context, articleID string, status models.CommentStatus) ([]models.Comment, error) {
	res, err := s.read(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return collect(ctx, tx, `
			MATCH (c:Comment)-[:ON]->(a:Article {id: $article_id})
			WHERE $status = '' OR c.status = $status`+commentProjection+`
			ORDER BY c.created_at
			`, map[string]any{"article_id": articleID, "status": string(status)}, "c")
	})
	if err != nil {
		return nil, fmt.Errorf("list comments of %s: %w", articleID, err)
	}
	return commentsFromRows(res.([]map[string]any)), nil
}

func (s *Neo4jStorage) ListCommentsByStatus(ctx context.Context, status models.CommentStatus, page models.Page) ([]models.Comment, int, error) {
	page = page.Normalize()
	params := map[string]any{"status": string(status), "skip": page.Offset(), "limit": page.Size}
	var total int64
	res, err := s.read(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		var err error
		total, err = scalar(ctx, tx, `
			MATCH (c:Comment) WHERE $status = '' OR c.status = $status
			RETURN COUNT(c) AS n
			`, params, "n")
		if err != nil {
			return nil, err
		}
		return collect(ctx, tx, `
			MATCH (c:Comment)-[:ON]->(a:Article)
			WHERE $status = '' OR c.status = $status
			WITH c, a ORDER BY c.created_at SKIP $skip LIMIT $limit`+commentProjection+`
			ORDER BY c.created_at
			`, params, "c")
	})
	if err != nil {
		return nil, 0, fmt.Errorf("list %s comments: %w", status, err)
	}
	return commentsFromRows(res.([]map[string]any)), int(total), nil
}

func (s *Neo4jStorage) CountCommentsByStatus(ctx context.Context) (map[models.CommentStatus]int, error) {
	res, err := s.read(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return collect(ctx, tx, `
			MATCH (c:Comment)
			WITH c.status AS status, COUNT(c) AS n
			RETURN {status: status, n: n} AS row
			`, nil, "row")
	})
	if err != nil {
		return nil, fmt.Errorf("count comments: %w", err)
	}
	out := map[models.CommentStatus]int{}
	for _, row := range res.([]map[string]any) {
		out[models.CommentStatus(str(row, "status"))] = int(i64(row, "n"))
	}
	return out, nil
}

func commentsFromRows(rows []map[string]any) []models.Comment {
	out := make([]models.Comment, 0, len(rows))
	for _, row := range rows {
		out = append(out, *commentFromMap(row))
	}
	return out
}
