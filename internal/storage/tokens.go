package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/ZetoOfficial/portal-cms/internal/models"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

const tokenProjection = `t {.*, user_id: u.id} AS t`

func (s *Neo4jStorage) CreateToken(ctx context.Context, t *models.Token) error {
	_, err := s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return first(ctx, tx, `
			MATCH (u:User {id: $user_id})
			CREATE (t:Token {id: $id, type: $type, hash: $hash, expires_at: $expires_at, created_at: $created_at})
			CREATE (t)-[:ISSUED_TO]->(u)
			RETURN t {.id} AS t
			`, map[string]any{
			"id":         t.ID,
			"user_id":    t.UserID,
			"type":       string(t.Type),
			"hash":       t.Hash,
			"expires_at": t.ExpiresAt,
			"created_at": t.CreatedAt,
		}, "t")
	})
	if err != nil {
		return fmt.Errorf("create token for user %s: %w", t.UserID, err)
	}
	return nil
}

func (s *Neo4jStorage) GetTokenByHash(ctx context.Context, hash string) (*models.Token, error) {
	res, err := s.read(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return first(ctx, tx, `
			MATCH (t:Token {hash: $hash})-[:ISSUED_TO]->(u:User)
			RETURN `+tokenProjection, map[string]any{"hash": hash}, "t")
	})
	if err != nil {
		return nil, fmt.Errorf("get token: %w", err)
	}
	return tokenFromMap(res.(map[string]any)), nil
}

// MarkTokenUsed помечает токен использованным ровно один раз.
// The dummy SET takes the node write lock before used_at is checked.
func (s *Neo4jStorage) MarkTokenUsed(ctx context.Context, id string, at time.Time) error {
	_, err := s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		row, err := first(ctx, tx, `
			MATCH (t:Token {id: $id})
			SET t._lock = true
			WITH t
			REMOVE t._lock
			WITH t, t.used_at IS NULL AS fresh
			FOREACH (_ IN CASE WHEN fresh THEN [1] ELSE [] END | SET t.used_at = $at)
			RETURN {fresh: fresh} AS t
			`, map[string]any{"id": id, "at": at}, "t")
		if err != nil {
			return nil, err
		}
		if !boolean(row, "fresh") {
			return nil, ErrConflict
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("mark token %s used: %w", id, err)
	}
	return nil
}

func (s *Neo4jStorage) DeleteUserTokens(ctx context.Context, userID string, typ models.TokenType) (int, error) {
	res, err := s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		deleted, err := exec(ctx, tx, `
			MATCH (t:Token {type: $type})-[:ISSUED_TO]->(:User {id: $user_id})
			WHERE t.used_at IS NULL
			DETACH DELETE t
			`, map[string]any{"type": string(typ), "user_id": userID})
		return deleted, err
	})
	if err != nil {
		return 0, fmt.Errorf("delete %s tokens of %s: %w", typ, userID, err)
	}
	return res.(int), nil
}

func (s *Neo4jStorage) DeleteExpiredTokens(ctx context.Context, before time.Time) (int, error) {
	res, err := s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		deleted, err := exec(ctx, tx, `
			MATCH (t:Token)
			WHERE t.expires_at < $before OR t.used_at IS NOT NULL
			DETACH DELETE t
			`, map[string]any{"before": before})
		return deleted, err
	})
	if err != nil {
		return 0, fmt.Errorf("delete expired tokens: %w", err)
	}
	return res.(int), nil
}
