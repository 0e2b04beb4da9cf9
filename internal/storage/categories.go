package storage

import (
	"context"
	"fmt"

	"github.com/ZetoOfficial/portal-cms/internal/models"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

const categoryProjection = `
	OPTIONAL MATCH (a:Article)-[:IN_CATEGORY]->(c)
	WITH c, COUNT(a) AS article_count
	RETURN c {.*, article_count: article_count} AS c`

func (s *Neo4jStorage) CreateCategory(ctx context.Context, c *models.Category) error {
	_, err := s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if err := ensureFree(ctx, tx, "Category", "slug", c.Slug, ""); err != nil {
			return nil, err
		}
		_, err := exec(ctx, tx, `
			CREATE (c:Category {id: $id, name: $name, slug: $slug, description: $description, created_at: $created_at})
			`, map[string]any{
			"id":          c.ID,
			"name":        c.Name,
			"slug":        c.Slug,
			"description": c.Description,
			"created_at":  c.CreatedAt,
		})
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("create category %s: %w", c.Slug, err)
	}
	return nil
}

func (s *Neo4jStorage) UpdateCategory(ctx context.Context, c *models.Category) error {
	_, err := s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if err := ensureFree(ctx, tx, "Category", "slug", c.Slug, c.ID); err != nil {
			return nil, err
		}
		return first(ctx, tx, `
			MATCH (c:Category {id: $id})
			SET c.name = $name, c.slug = $slug, c.description = $description
			RETURN c {.id} AS c
			`, map[string]any{"id": c.ID, "name": c.Name, "slug": c.Slug, "description": c.Description}, "c")
	})
	if err != nil {
		return fmt.Errorf("update category %s: %w", c.ID, err)
	}
	return nil
}

func (s *Neo4jStorage) DeleteCategory(ctx context.Context, id string) error {
	_, err := s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		deleted, err := exec(ctx, tx, `MATCH (c:Category {id: $id}) DETACH DELETE c`, map[string]any{"id": id})
		if err != nil {
			return nil, err
		}
		if deleted == 0 {
			return nil, ErrNotFound
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("delete category %s: %w", id, err)
	}
	return nil
}

func (s *Neo4jStorage) GetCategoryByID(ctx context.Context, id string) (*models.Category, error) {
	return s.getCategory(ctx, `MATCH (c:Category {id: $value})`, id)
}

func (s *Neo4jStorage) GetCategoryBySlug(ctx context.Context, slug string) (*models.Category, error) {
	return s.getCategory(ctx, `MATCH (c:Category {slug: $value})`, slug)
}

func (s *Neo4jStorage) getCategory(ctx context.Context, match, value string) (*models.Category, error) {
	res, err := s.read(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return first(ctx, tx, match+categoryProjection, map[string]any{"value": value}, "c")
	})
	if err != nil {
		return nil, fmt.Errorf("get category %s: %w", value, err)
	}
	return categoryFromMap(res.(map[string]any)), nil
}

func (s *Neo4jStorage) ListCategories(ctx context.Context) ([]models.Category, error) {
	res, err := s.read(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return collect(ctx, tx, `MATCH (c:Category)`+categoryProjection+` ORDER BY c.name`, nil, "c")
	})
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	rows := res.([]map[string]any)
	out := make([]models.Category, 0, len(rows))
	for _, row := range rows {
		out = append(out, *categoryFromMap(row))
	}
	return out, nil
}

// ensureFree fails with ErrConflict when another node with the label already holds value.
func ensureFree(ctx context.Context, tx neo4j.ManagedTransaction, label, prop, value, selfID string) error {
	n, err := scalar(ctx, tx,
		fmt.Sprintf(`MATCH (n:%s {%s: $value}) WHERE n.id <> $self RETURN COUNT(n) AS n`, label, prop),
		map[string]any{"value": value, "self": selfID}, "n")
	if err != nil {
		return err
	}
	if n > 0 {
		return fmt.Errorf("%s %s %q: %w", label, prop, value, ErrConflict)
	}
	return nil
}
