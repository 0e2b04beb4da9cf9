package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/ZetoOfficial/portal-cms/internal/models"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

func (s *Neo4jStorage) CreateUser(ctx context.Context, u *models.User) error {
	_, err := s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		taken, err := scalar(ctx, tx, `MATCH (u:User {email: $email}) RETURN COUNT(u) AS n`,
			map[string]any{"email": u.Email}, "n")
		if err != nil {
			return nil, err
		}
		if taken > 0 {
			return nil, fmt.Errorf("email %s: %w", u.Email, ErrConflict)
		}
		_, err = exec(ctx, tx, `CREATE (u:User) SET u = $props`, map[string]any{"props": userParams(u)})
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("create user %s: %w", u.Email, err)
	}
	return nil
}

func (s *Neo4jStorage) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	return s.getUser(ctx, `MATCH (u:User {id: $value}) RETURN u {.*} AS u`, id)
}

func (s *Neo4jStorage) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.getUser(ctx, `MATCH (u:User {email: $value}) RETURN u {.*} AS u`, strings.ToLower(email))
}

func (s *Neo4jStorage) getUser(ctx context.Context, query, value string) (*models.User, error) {
	res, err := s.read(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return first(ctx, tx, query, map[string]any{"value": value}, "u")
	})
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", value, err)
	}
	return userFromMap(res.(map[string]any)), nil
}

func (s *Neo4jStorage) UpdateUser(ctx context.Context, u *models.User) error {
	_, err := s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return first(ctx, tx, `
			MATCH (u:User {id: $id})
			SET u += $props
			RETURN u {.id} AS u
			`, map[string]any{"id": u.ID, "props": userParams(u)}, "u")
	})
	if err != nil {
		return fmt.Errorf("update user %s: %w", u.ID, err)
	}
	return nil
}

func (s *Neo4jStorage) ListUsers(ctx context.Context, page models.Page) ([]models.User, int, error) {
	page = page.Normalize()
	var total int64
	res, err := s.read(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		var err error
		total, err = scalar(ctx, tx, `MATCH (u:User) RETURN COUNT(u) AS n`, nil, "n")
		if err != nil {
			return nil, err
		}
		return collect(ctx, tx, `
			MATCH (u:User)
			RETURN u {.*} AS u
			ORDER BY u.created_at DESC
			SKIP $skip LIMIT $limit
			`, map[string]any{"skip": page.Offset(), "limit": page.Size}, "u")
	})
	if err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	rows := res.([]map[string]any)
	users := make([]models.User, 0, len(rows))
	for _, row := range rows {
		users = append(users, *userFromMap(row))
	}
	return users, int(total), nil
}

func (s *Neo4jStorage) CountUsers(ctx context.Context) (int, error) {
	res, err := s.read(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return scalar(ctx, tx, `MATCH (u:User) RETURN COUNT(u) AS n`, nil, "n")
	})
	if err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return int(res.(int64)), nil
}
