package storage

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

func (s *Neo4jStorage) GetSettings(ctx context.Context) (map[string]string, error) {
	res, err := s.read(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return collect(ctx, tx, `MATCH (s:Setting) RETURN s {.key, .value} AS s`, nil, "s")
	})
	if err != nil {
		return nil, fmt.Errorf("get settings: %w", err)
	}
	out := map[string]string{}
	for _, row := range res.([]map[string]any) {
		out[str(row, "key")] = str(row, "value")
	}
	return out, nil
}

func (s *Neo4jStorage) SaveSettings(ctx context.Context, values map[string]string) error {
	rows := make([]map[string]any, 0, len(values))
	for k, v := range values {
		rows = append(rows, map[string]any{"key": k, "value": v})
	}
	_, err := s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := exec(ctx, tx, `
			UNWIND $rows AS row
			MERGE (s:Setting {key: row.key})
			SET s.value = row.value
			`, map[string]any{"rows": rows})
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}
