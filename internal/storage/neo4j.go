package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/sirupsen/logrus"
)

const constraintViolation = "Neo.ClientError.Schema.ConstraintValidationFailed"

type Neo4jStorage struct {
	Driver neo4j.DriverWithContext
}

func NewNeo4jStorage(uri, username, password string) (*Neo4jStorage, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("connect to driver: %w", err)
	}
	return &Neo4jStorage{Driver: driver}, nil
}

func (s *Neo4jStorage) Close(ctx context.Context) error {
	return s.Driver.Close(ctx)
}

func (s *Neo4jStorage) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return s.Driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: mode})
}

func closeSession(ctx context.Context, session neo4j.SessionWithContext) {
	if err := session.Close(ctx); err != nil {
		logrus.Warnf("close session: %v", err)
	}
}

// write выполняет fn в управляемой транзакции на запись.
func (s *Neo4jStorage) write(ctx context.Context, fn neo4j.ManagedTransactionWork) (any, error) {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer closeSession(ctx, session)
	res, err := session.ExecuteWrite(ctx, fn)
	return res, translate(err)
}

// read выполняет fn в управляемой транзакции на чтение.
func (s *Neo4jStorage) read(ctx context.Context, fn neo4j.ManagedTransactionWork) (any, error) {
	session := s.session(ctx, neo4j.AccessModeRead)
	defer closeSession(ctx, session)
	res, err := session.ExecuteRead(ctx, fn)
	return res, translate(err)
}

// translate maps constraint violations to ErrConflict and keeps sentinels intact.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) {
		return err
	}
	var neoErr *neo4j.Neo4jError
	if errors.As(err, &neoErr) && neoErr.Code == constraintViolation {
		return fmt.Errorf("%w: %s", ErrConflict, neoErr.Msg)
	}
	return err
}

// collect runs a query and returns the map bound to key in every record.
func collect(ctx context.Context, tx neo4j.ManagedTransaction, query string, params map[string]any, key string) ([]map[string]any, error) {
	result, err := tx.Run(ctx, query, params)
	if err != nil {
		return nil, err
	}
	records, err := result.Collect(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(records))
	for _, record := range records {
		value, ok := record.Get(key)
		if !ok {
			return nil, fmt.Errorf("record has no key %q", key)
		}
		m, ok := value.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("key %q is %T, not a map", key, value)
		}
		out = append(out, m)
	}
	return out, nil
}

// first returns the single map bound to key or ErrNotFound.
func first(ctx context.Context, tx neo4j.ManagedTransaction, query string, params map[string]any, key string) (map[string]any, error) {
	rows, err := collect(ctx, tx, query, params, key)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return rows[0], nil
}

// scalar reads a single integer column, zero when there are no rows.
func scalar(ctx context.Context, tx neo4j.ManagedTransaction, query string, params map[string]any, key string) (int64, error) {
	result, err := tx.Run(ctx, query, params)
	if err != nil {
		return 0, err
	}
	records, err := result.Collect(ctx)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}
	value, _ := records[0].Get(key)
	n, _ := value.(int64)
	return n, nil
}

// exec runs a write query and returns how many nodes it deleted.
func exec(ctx context.Context, tx neo4j.ManagedTransaction, query string, params map[string]any) (int, error) {
	result, err := tx.Run(ctx, query, params)
	if err != nil {
		return 0, err
	}
	summary, err := result.Consume(ctx)
	if err != nil {
		return 0, err
	}
	return summary.Counters().NodesDeleted(), nil
}

func (s *Neo4jStorage) Ping(ctx context.Context) error {
	session := s.session(ctx, neo4j.AccessModeRead)
	defer closeSession(ctx, session)

	result, err := session.Run(ctx, "RETURN 1", nil)
	if err != nil {
		return fmt.Errorf("ping query failed: %w", err)
	}

	if result.Next(ctx) {
		return nil
	}
	if err = result.Err(); err != nil {
		return fmt.Errorf("ping query error: %w", err)
	}
	return fmt.Errorf("ping query did not return any results")
}

// Migrate создаёт ограничения уникальности и индексы.
func (s *Neo4jStorage) Migrate(ctx context.Context) error {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer closeSession(ctx, session)

	for _, stmt := range schemaStatements {
		result, err := session.Run(ctx, stmt, nil)
		if err != nil {
			return fmt.Errorf("apply schema %q: %w", stmt, err)
		}
		if _, err := result.Consume(ctx); err != nil {
			return fmt.Errorf("apply schema %q: %w", stmt, err)
		}
		logrus.Debugf("schema applied: %s", stmt)
	}
	return nil
}

func (s *Neo4jStorage) RunQuery(ctx context.Context, queryName string) ([]map[string]any, error) {
	query, exists := reportQueries[queryName]
	if !exists {
		return nil, fmt.Errorf("query %s: %w", queryName, ErrNotFound)
	}

	session := s.session(ctx, neo4j.AccessModeRead)
	defer closeSession(ctx, session)

	result, err := session.Run(ctx, query, nil)
	if err != nil {
		return nil, err
	}

	results := []map[string]any{}
	for result.Next(ctx) {
		record := result.Record()
		recordMap := make(map[string]any)
		for _, key := range record.Keys {
			value, _ := record.Get(key)
			recordMap[key] = value
		}
		results = append(results, recordMap)
	}

	if err = result.Err(); err != nil {
		return nil, err
	}

	return results, nil
}
