package neo4j

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/ndmitriev/recollect/internal/core/domain"
)

// Store keeps the memory graph: one Memory node per record and undirected
// SIMILAR_TO edges between memories of the same owner. Related-memory reads
// filter by owner_id in Cypher and the use case re-checks the anchor against
// the record store, so a stale node cannot leak across owners.
type Store struct {
	driver neo4j.DriverWithContext
}

func New(ctx context.Context, uri, username, password string) (*Store, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("verify neo4j connectivity: %w", err)
	}

	store := &Store{driver: driver}
	if err := store.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

func (s *Store) ensureSchema(ctx context.Context) error {
	statements := []string{
		"CREATE CONSTRAINT memory_id IF NOT EXISTS FOR (m:Memory) REQUIRE m.id IS UNIQUE",
		"CREATE INDEX memory_owner_id IF NOT EXISTS FOR (m:Memory) ON (m.owner_id)",
		"CREATE INDEX memory_created_at IF NOT EXISTS FOR (m:Memory) ON (m.created_at)",
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	for _, stmt := range statements {
		if _, err := session.Run(ctx, stmt, nil); err != nil {
			return fmt.Errorf("ensure graph schema: %w", err)
		}
	}
	return nil
}

func (s *Store) UpsertMemoryNode(ctx context.Context, mem *domain.Memory) error {
	query := `
MERGE (m:Memory {id: $id})
SET m.owner_id = $owner_id,
    m.kind = $kind,
    m.text = $text,
    m.created_at = datetime($created_at)
RETURN m`

	params := map[string]any{
		"id":         mem.ID,
		"owner_id":   mem.OwnerID,
		"kind":       string(mem.Kind),
		"text":       mem.DisplayText(),
		"created_at": mem.CreatedAt.UTC().Format(time.RFC3339Nano),
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		return result.Consume(ctx)
	})
	if err != nil {
		return fmt.Errorf("upsert memory node: %w", err)
	}
	return nil
}

func (s *Store) LinkSimilar(ctx context.Context, memoryID, otherID string, similarity float64) error {
	// Undirected merge keeps one edge per pair regardless of link order.
	query := `
MATCH (m1:Memory {id: $memory_id})
MATCH (m2:Memory {id: $other_id})
WHERE m1.owner_id = m2.owner_id
MERGE (m1)-[r:SIMILAR_TO]-(m2)
SET r.score = $score
RETURN r`

	params := map[string]any{
		"memory_id": memoryID,
		"other_id":  otherID,
		"score":     similarity,
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		return result.Consume(ctx)
	})
	if err != nil {
		return fmt.Errorf("link similar memories: %w", err)
	}
	return nil
}

func (s *Store) RelatedMemories(ctx context.Context, ownerID, memoryID string, limit int) ([]domain.RelatedMemory, error) {
	query := `
MATCH (m1:Memory {id: $memory_id, owner_id: $owner_id})-[r:SIMILAR_TO]-(m2:Memory)
WHERE m2.owner_id = $owner_id
RETURN m2.id AS id, m2.kind AS kind, m2.text AS text, m2.created_at AS created_at, r.score AS score
ORDER BY r.score DESC, m2.created_at DESC
LIMIT $limit`

	params := map[string]any{
		"memory_id": memoryID,
		"owner_id":  ownerID,
		"limit":     limit,
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	records, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		return result.Collect(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("query related memories: %w", err)
	}

	rows, ok := records.([]*neo4j.Record)
	if !ok {
		return nil, fmt.Errorf("unexpected related memories result type %T", records)
	}

	out := make([]domain.RelatedMemory, 0, len(rows))
	for _, record := range rows {
		related := domain.RelatedMemory{
			MemoryID: stringValue(record, "id"),
			Kind:     domain.MemoryKind(stringValue(record, "kind")),
			Text:     stringValue(record, "text"),
		}
		if score, ok := record.Get("score"); ok {
			if f, ok := score.(float64); ok {
				related.Similarity = f
			}
		}
		if created, ok := record.Get("created_at"); ok {
			if ts, ok := created.(time.Time); ok {
				related.CreatedAt = ts
			}
		}
		out = append(out, related)
	}
	return out, nil
}

func stringValue(record *neo4j.Record, key string) string {
	v, ok := record.Get(key)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}
