package memory

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"epsilon-voice/backend/pkg/errors"
	"go.uber.org/zap"
)

// maxGraphNodes caps the subgraph payload so a dense graph cannot
// overwhelm the visualization client.
const maxGraphNodes = 100

// QueryGraph returns the user's subgraph up to depth hops from the user node,
// optionally filtered to the given entity and relation types, shaped for
// visualization. Depth is clamped to [1, depthLimit] because variable-length
// bounds cannot be parameterized.
func (s *Service) QueryGraph(ctx context.Context, userID string, depth int, entityTypes, relationTypes []string) (*GraphData, error) {
	if !s.Initialized() {
		return nil, errors.ErrMemoryNotInitialized
	}

	if depth < 1 {
		depth = 1
	}
	if depth > s.depthLimit {
		depth = s.depthLimit
	}

	var entityTypesParam interface{}
	if len(entityTypes) > 0 {
		entityTypesParam = entityTypes
	}
	var relationTypesParam interface{}
	if len(relationTypes) > 0 {
		relationTypesParam = relationTypes
	}

	session := s.newSession(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	records, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, fmt.Sprintf(`
			MATCH (u:User {id: $userID})
			MATCH path = (u)-[*1..%d]->(e)
			WHERE e.id IS NOT NULL
			  AND ($entityTypes IS NULL OR e.type IN $entityTypes)
			WITH DISTINCT e
			LIMIT $nodeLimit
			OPTIONAL MATCH (e)-[r]->(n)
			WHERE n.id IS NOT NULL
			  AND ($relationTypes IS NULL OR coalesce(r.type, type(r)) IN $relationTypes)
			RETURN
				e.id AS id,
				e.name AS name,
				coalesce(e.type, labels(e)[0], 'Entity') AS type,
				properties(e) AS props,
				collect({target: n.id, type: coalesce(r.type, type(r))}) AS links
		`, depth), map[string]interface{}{
			"userID":        userID,
			"nodeLimit":     maxGraphNodes,
			"entityTypes":   entityTypesParam,
			"relationTypes": relationTypesParam,
		})
		if err != nil {
			return nil, err
		}
		return result.Collect(ctx)
	})
	if err != nil {
		s.logger.Error("Graph query failed",
			zap.Error(err),
			zap.String("user_id", userID),
		)
		return nil, errors.NewBaseError(errors.ErrorTypeGraph, "graph query failed", err)
	}

	data := &GraphData{
		Nodes: []GraphNode{},
		Links: []GraphLink{},
	}
	nodeIDs := make(map[string]struct{})
	type pendingLink struct {
		source, target, typ string
	}
	var pending []pendingLink

	for _, record := range records.([]*neo4j.Record) {
		id := getStringFromRecord(record, "id")
		if id == "" {
			continue
		}
		nodeIDs[id] = struct{}{}

		props := getMapFromRecord(record, "props")
		delete(props, "embedding")

		data.Nodes = append(data.Nodes, GraphNode{
			ID:         id,
			Label:      getStringFromRecord(record, "name"),
			Type:       getStringFromRecord(record, "type"),
			Properties: props,
		})

		linksVal, _ := record.Get("links")
		if linkList, ok := linksVal.([]interface{}); ok {
			for _, l := range linkList {
				if linkMap, ok := l.(map[string]interface{}); ok {
					target := getStringFromMap(linkMap, "target", "")
					if target == "" {
						continue
					}
					pending = append(pending, pendingLink{
						source: id,
						target: target,
						typ:    getStringFromMap(linkMap, "type", ""),
					})
				}
			}
		}
	}

	// Only keep edges whose both endpoints made it into the node set, so
	// the payload never references a node the client cannot render.
	for _, link := range pending {
		if _, ok := nodeIDs[link.target]; !ok {
			continue
		}
		data.Links = append(data.Links, GraphLink{
			Source: link.source,
			Target: link.target,
			Type:   link.typ,
		})
	}

	return data, nil
}

// Stats aggregates node and relation counts for the user's subgraph, grouped
// by semantic type. Traversal is bounded by the configured depth limit.
func (s *Service) Stats(ctx context.Context, userID string) (*GraphStats, error) {
	if !s.Initialized() {
		return nil, errors.ErrMemoryNotInitialized
	}

	session := s.newSession(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	stats := &GraphStats{
		NodeTypes:     map[string]int64{},
		RelationTypes: map[string]int64{},
	}

	nodeRecords, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, fmt.Sprintf(`
			MATCH (:User {id: $userID})-[*1..%d]->(e)
			WHERE e.id IS NOT NULL
			WITH DISTINCT e
			RETURN coalesce(e.type, labels(e)[0], 'Entity') AS type, count(e) AS count
		`, s.depthLimit), map[string]interface{}{"userID": userID})
		if err != nil {
			return nil, err
		}
		return result.Collect(ctx)
	})
	if err != nil {
		return nil, errors.NewBaseError(errors.ErrorTypeGraph, "stats query failed", err)
	}
	for _, record := range nodeRecords.([]*neo4j.Record) {
		typ := getStringFromRecord(record, "type")
		count := getInt64FromRecord(record, "count")
		stats.NodeTypes[typ] = count
		stats.TotalNodes += count
	}

	relRecords, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, fmt.Sprintf(`
			MATCH (:User {id: $userID})-[*1..%d]->(e)
			WHERE e.id IS NOT NULL
			WITH DISTINCT e
			MATCH (e)-[r]->(n)
			WHERE n.id IS NOT NULL
			WITH DISTINCT r
			RETURN coalesce(r.type, type(r)) AS type, count(r) AS count
		`, s.depthLimit), map[string]interface{}{"userID": userID})
		if err != nil {
			return nil, err
		}
		return result.Collect(ctx)
	})
	if err != nil {
		return nil, errors.NewBaseError(errors.ErrorTypeGraph, "stats query failed", err)
	}
	for _, record := range relRecords.([]*neo4j.Record) {
		typ := getStringFromRecord(record, "type")
		count := getInt64FromRecord(record, "count")
		stats.RelationTypes[typ] = count
		stats.TotalRelations += count
	}

	return stats, nil
}

// NodeDetails returns one node's properties together with its incoming and
// outgoing relations. Returns ErrNodeNotFound when no node carries the id.
func (s *Service) NodeDetails(ctx context.Context, nodeID string) (*NodeDetails, error) {
	if !s.Initialized() {
		return nil, errors.ErrMemoryNotInitialized
	}

	session := s.newSession(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	record, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH (e {id: $id})
			OPTIONAL MATCH (src)-[rin]->(e)
			WHERE src.id IS NOT NULL
			OPTIONAL MATCH (e)-[rout]->(dst)
			WHERE dst.id IS NOT NULL
			RETURN
				e.id AS id,
				e.name AS name,
				coalesce(e.type, labels(e)[0], 'Entity') AS type,
				properties(e) AS props,
				collect(DISTINCT {
					source: src.id,
					source_name: src.name,
					type: coalesce(rin.type, type(rin))
				}) AS incoming,
				collect(DISTINCT {
					target: dst.id,
					target_name: dst.name,
					type: coalesce(rout.type, type(rout))
				}) AS outgoing
		`, map[string]interface{}{"id": nodeID})
		if err != nil {
			return nil, err
		}
		if !result.Next(ctx) {
			if err := result.Err(); err != nil {
				return nil, err
			}
			return nil, nil
		}
		return result.Record(), nil
	})
	if err != nil {
		return nil, errors.NewBaseError(errors.ErrorTypeGraph, "node lookup failed", err)
	}
	if record == nil {
		return nil, errors.NewNodeNotFound(nodeID)
	}

	rec := record.(*neo4j.Record)
	props := getMapFromRecord(rec, "props")
	delete(props, "embedding")

	details := &NodeDetails{
		ID:                getStringFromRecord(rec, "id"),
		Name:              getStringFromRecord(rec, "name"),
		Type:              getStringFromRecord(rec, "type"),
		Properties:        props,
		IncomingRelations: []map[string]interface{}{},
		OutgoingRelations: []map[string]interface{}{},
	}

	details.IncomingRelations = collectRelationMaps(rec, "incoming", "source")
	details.OutgoingRelations = collectRelationMaps(rec, "outgoing", "target")

	return details, nil
}

// collectRelationMaps extracts relation entries from a collected list,
// dropping placeholders produced by unmatched OPTIONAL MATCH rows.
func collectRelationMaps(record *neo4j.Record, key, endpointKey string) []map[string]interface{} {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return []map[string]interface{}{}
	}
	list, ok := val.([]interface{})
	if !ok {
		return []map[string]interface{}{}
	}

	relations := make([]map[string]interface{}, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		if getStringFromMap(m, endpointKey, "") == "" {
			continue
		}
		relations = append(relations, m)
	}
	return relations
}
