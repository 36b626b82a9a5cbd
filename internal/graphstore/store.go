// Package graphstore runs read-only Cypher against Neo4j through an explicitly opened
// and closed driver.
package graphstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"

	"kgqa_agent/pkg/logger"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Runner executes a Cypher query and returns rows keyed by RETURN column.
type Runner interface {
	Run(ctx context.Context, query string, params map[string]any) ([]map[string]any, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, query string, params map[string]any) ([]map[string]any, error)

func (f RunnerFunc) Run(ctx context.Context, query string, params map[string]any) ([]map[string]any, error) {
	return f(ctx, query, params)
}

var (
	ErrNotOpen   = errors.New("graphstore: not open")
	ErrWriteCall = errors.New("graphstore: write clauses are not allowed")
)

type Config struct {
	URI      string
	User     string
	Password string
	Database string
}

// Store owns one Neo4j driver. Open before use and Close when done; a Store may be
// reopened after Close.
type Store struct {
	cfg    Config
	mu     sync.RWMutex
	driver neo4j.DriverWithContext
}

func New(cfg Config) *Store {
	return &Store{cfg: cfg}
}

// Open creates the driver and verifies connectivity. Opening an open store is a no-op.
func (s *Store) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.driver != nil {
		return nil
	}
	if s.cfg.URI == "" {
		return errors.New("graphstore: empty uri")
	}
	driver, err := neo4j.NewDriverWithContext(s.cfg.URI, neo4j.BasicAuth(s.cfg.User, s.cfg.Password, ""))
	if err != nil {
		return fmt.Errorf("create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return fmt.Errorf("verify neo4j connectivity: %w", err)
	}
	s.driver = driver
	logger.Infof("[GraphStore] connected to %s", s.cfg.URI)
	return nil
}

// Close releases the driver. Closing a closed store is a no-op.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.driver == nil {
		return nil
	}
	err := s.driver.Close(ctx)
	s.driver = nil
	if err != nil {
		return fmt.Errorf("close neo4j driver: %w", err)
	}
	return nil
}

// Run executes a read-only query with reader routing.
func (s *Store) Run(ctx context.Context, query string, params map[string]any) ([]map[string]any, error) {
	if err := CheckReadOnly(query); err != nil {
		return nil, err
	}
	s.mu.RLock()
	driver := s.driver
	s.mu.RUnlock()
	if driver == nil {
		return nil, ErrNotOpen
	}

	opts := []neo4j.ExecuteQueryConfigurationOption{neo4j.ExecuteQueryWithReadersRouting()}
	if s.cfg.Database != "" {
		opts = append(opts, neo4j.ExecuteQueryWithDatabase(s.cfg.Database))
	}
	timer := logger.NewTimer()
	res, err := neo4j.ExecuteQuery(ctx, driver, query, params, neo4j.EagerResultTransformer, opts...)
	if err != nil {
		return nil, fmt.Errorf("execute cypher: %w", err)
	}
	rows := make([]map[string]any, 0, len(res.Records))
	for _, rec := range res.Records {
		row := rec.AsMap()
		for k, v := range row {
			row[k] = plain(v)
		}
		rows = append(rows, row)
	}
	logger.Infof("[GraphStore] %d rows in %dms", len(rows), timer.ElapsedMs())
	return rows, nil
}

var (
	writeClause = regexp.MustCompile(`(?i)\b(CREATE|MERGE|DELETE|DETACH|SET|REMOVE|DROP|LOAD\s+CSV)\b`)
	// string literals and backquoted names, with backslash escapes
	quoted = regexp.MustCompile("'(?:[^'\\\\]|\\\\.)*'|\"(?:[^\"\\\\]|\\\\.)*\"|`[^`]*`")
)

// CheckReadOnly rejects queries containing write clauses. Keywords inside quoted
// literals or backquoted names are ignored.
func CheckReadOnly(query string) error {
	if m := writeClause.FindString(quoted.ReplaceAllString(query, "''")); m != "" {
		return fmt.Errorf("%w: %s", ErrWriteCall, m)
	}
	return nil
}

// plain converts driver graph types into JSON-friendly maps.
func plain(v any) any {
	switch t := v.(type) {
	case neo4j.Node:
		out := make(map[string]any, len(t.Props)+1)
		for k, pv := range t.Props {
			out[k] = plain(pv)
		}
		out["_labels"] = t.Labels
		return out
	case neo4j.Relationship:
		out := make(map[string]any, len(t.Props)+1)
		for k, pv := range t.Props {
			out[k] = plain(pv)
		}
		out["_type"] = t.Type
		return out
	case []any:
		for i := range t {
			t[i] = plain(t[i])
		}
		return t
	case map[string]any:
		for k := range t {
			t[k] = plain(t[k])
		}
		return t
	default:
		return v
	}
}
