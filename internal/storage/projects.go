package storage

import (
	"context"
	"fmt"

	"github.com/ZetoOfficial/portal-cms/internal/models"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

func (s *Neo4jStorage) CreateProject(ctx context.Context, p *models.Project) error {
	_, err := s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if err := ensureFree(ctx, tx, "Project", "slug", p.Slug, ""); err != nil {
			return nil, err
		}
		_, err := exec(ctx, tx, `CREATE (p:Project) SET p = $props`, map[string]any{"props": projectParams(p)})
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("create project %s: %w", p.Slug, err)
	}
	return nil
}

func (s *Neo4jStorage) UpdateProject(ctx context.Context, p *models.Project) error {
	_, err := s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if err := ensureFree(ctx, tx, "Project", "slug", p.Slug, p.ID); err != nil {
			return nil, err
		}
		return first(ctx, tx, `
			MATCH (p:Project {id: $id})
			SET p = $props
			RETURN p {.id} AS p
			`, map[string]any{"id": p.ID, "props": projectParams(p)}, "p")
	})
	if err != nil {
		return fmt.Errorf("update project %s: %w", p.ID, err)
	}
	return nil
}

func (s *Neo4jStorage) DeleteProject(ctx context.Context, id string) error {
	_, err := s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		deleted, err := exec(ctx, tx, `MATCH (p:Project {id: $id}) DETACH DELETE p`, map[string]any{"id": id})
		if err != nil {
			return nil, err
		}
		if deleted == 0 {
			return nil, ErrNotFound
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("delete project %s: %w", id, err)
	}
	return nil
}

func (s *Neo4jStorage) GetProjectByID(ctx context.Context, id string) (*models.Project, error) {
	return s.getProject(ctx, `MATCH (p:Project {id: $value}) RETURN p {.*} AS p`, id)
}

func (s *Neo4jStorage) GetProjectBySlug(ctx context.Context, slug string) (*models.Project, error) {
	return s.getProject(ctx, `MATCH (p:Project {slug: $value}) RETURN p {.*} AS p`, slug)
}

func (s *Neo4jStorage) getProject(ctx context.Context, query, value string) (*models.Project, error) {
	res, err := s.read(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return first(ctx, tx, query, map[string]any{"value": value}, "p")
	})
	if err != nil {
		return nil, fmt.Errorf("get project %s: %w", value, err)
	}
	return projectFromMap(res.(map[string]any)), nil
}

// ListProjects: избранные сначала, затем по sort_order и дате создания.
func (s *Neo4jStorage) ListProjects(ctx context.Context, publishedOnly bool) ([]models.Project, error) {
	res, err := s.read(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return collect(ctx, tx, `
			MATCH (p:Project)
			WHERE NOT $published_only OR p.published = true
			RETURN p {.*} AS p
			ORDER BY p.featured DESC, p.sort_order, p.created_at DESC
			`, map[string]any{"published_only": publishedOnly}, "p")
	})
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	rows := res.([]map[string]any)
	out := make([]models.Project, 0, len(rows))
	for _, row := range rows {
		out = append(out, *projectFromMap(row))
	}
	return out, nil
}
