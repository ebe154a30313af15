// Package graph mirrors semantic facts into Neo4j as
// (Entity)-[:FACT {predicate}]->(Entity) edges so fact neighbourhoods can be
// explored with Cypher.
package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/nidhogg/nuka-mind/internal/cognition"
)

// Store handles Neo4j operations for the fact graph.
type Store struct {
	driver neo4j.DriverWithContext
	logger *zap.Logger
}

var _ cognition.FactGraph = (*Store)(nil)

// NewStore creates a Neo4j fact graph. Empty credentials disable auth.
func NewStore(uri, user, password string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	auth := neo4j.NoAuth()
	if user != "" {
		auth = neo4j.BasicAuth(user, password, "")
	}
	driver, err := neo4j.NewDriverWithContext(uri, auth)
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	return &Store{driver: driver, logger: logger}, nil
}

// Close shuts down the Neo4j driver.
func (s *Store) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// Ping verifies the Neo4j connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.driver.VerifyConnectivity(ctx)
}

// EnsureSchema creates the entity uniqueness constraint and fact index.
func (s *Store) EnsureSchema(ctx context.Context) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	for _, stmt := range []string{
		`CREATE CONSTRAINT entity_key IF NOT EXISTS
		 FOR (e:Entity) REQUIRE (e.tenant_id, e.agent_id, e.name) IS UNIQUE`,
		`CREATE INDEX fact_id IF NOT EXISTS FOR ()-[r:FACT]-() ON (r.fact_id)`,
	} {
		if _, err := session.Run(ctx, stmt, nil); err != nil {
			return fmt.Errorf("ensure graph schema: %w", err)
		}
	}
	s.logger.Info("Neo4j fact graph schema ready")
	return nil
}

// LinkFact writes f as an edge from its subject to its object, replacing the
// edge a previous version of f produced.
func (s *Store) LinkFact(ctx context.Context, scope cognition.Scope, f *cognition.Fact) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx,
			`MATCH ()-[r:FACT {fact_id: $factId}]->() DELETE r`,
			map[string]any{"factId": f.ID}); err != nil {
			return nil, err
		}
		_, err := tx.Run(ctx,
			`MERGE (s:Entity {tenant_id: $tenantId, agent_id: $agentId, name: $subject})
			 MERGE (o:Entity {tenant_id: $tenantId, agent_id: $agentId, name: $object})
			 CREATE (s)-[:FACT {
				fact_id: $factId, predicate: $predicate,
				fact_type: $factType, confidence: $confidence
			 }]->(o)`,
			map[string]any{
				"tenantId":   scope.TenantID,
				"agentId":    scope.AgentID,
				"subject":    f.Subject,
				"object":     f.Object,
				"factId":     f.ID,
				"predicate":  f.Predicate,
				"factType":   string(f.Type),
				"confidence": f.Confidence,
			})
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("link fact %s: %w", f.ID, err)
	}
	return nil
}

// UnlinkFact removes the edge for f and any entity left without edges.
func (s *Store) UnlinkFact(ctx context.Context, scope cognition.Scope, f *cognition.Fact) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := session.Run(ctx,
		`MATCH (s:Entity {tenant_id: $tenantId, agent_id: $agentId})-[r:FACT {fact_id: $factId}]->(o:Entity)
		 DELETE r
		 WITH [s, o] AS ends
		 UNWIND ends AS e
		 WITH DISTINCT e
		 WHERE NOT EXISTS { (e)--() }
		 DELETE e`,
		map[string]any{"tenantId": scope.TenantID, "agentId": scope.AgentID, "factId": f.ID})
	if err != nil {
		return fmt.Errorf("unlink fact %s: %w", f.ID, err)
	}
	return nil
}

const defaultNeighborhoodLimit = 100

// Edge is one fact edge read back from the graph.
type Edge struct {
	FactID    string
	Subject   string
	Predicate string
	Object    string
	Depth     int
}

// Neighborhood returns fact edges reachable from entity within maxDepth
// hops, following edge direction, nearest first.
func (s *Store) Neighborhood(ctx context.Context, scope cognition.Scope, entity string, maxDepth, limit int) ([]Edge, error) {
	if maxDepth < 1 {
		maxDepth = 1
	}
	if limit <= 0 {
		limit = defaultNeighborhoodLimit
	}
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`MATCH p = (start:Entity {tenant_id: $tenantId, agent_id: $agentId, name: $entity})-[:FACT*1..`+itoa(maxDepth)+`]->()
		 WITH last(relationships(p)) AS r, length(p) AS depth
		 WITH r, min(depth) AS depth
		 RETURN r.fact_id AS factId, startNode(r).name AS subject, r.predicate AS predicate,
		        endNode(r).name AS object, depth
		 ORDER BY depth, predicate
		 LIMIT $limit`,
		map[string]any{"tenantId": scope.TenantID, "agentId": scope.AgentID, "entity": entity, "limit": limit})
	if err != nil {
		return nil, fmt.Errorf("fact neighborhood %s: %w", entity, err)
	}

	var edges []Edge
	for result.Next(ctx) {
		rec := result.Record()
		factID, _ := rec.Get("factId")
		subject, _ := rec.Get("subject")
		predicate, _ := rec.Get("predicate")
		object, _ := rec.Get("object")
		depth, _ := rec.Get("depth")
		edges = append(edges, Edge{
			FactID:    factID.(string),
			Subject:   subject.(string),
			Predicate: predicate.(string),
			Object:    object.(string),
			Depth:     int(depth.(int64)),
		})
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("read fact neighborhood: %w", err)
	}
	return edges, nil
}

func itoa(n int) string {
	return fmt.Sprintf("%d", n)
}
