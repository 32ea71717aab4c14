package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
)

// minCandidates is the vector recall size below which the keyword pass runs
const minCandidates = 3

type candidate struct {
	id    string
	name  string
	typ   string
	score float64
}

// QueryRelatedContext retrieves graph context relevant to the query text and
// renders it as prompt-injectable lines. Retrieval is best effort: every
// failure is logged and degrades the result, and an empty string means no
// usable context.
func (s *Service) QueryRelatedContext(ctx context.Context, userID, query string, limit int) string {
	if !s.Initialized() {
		return ""
	}
	if limit <= 0 {
		limit = 10
	}

	candidates := s.vectorCandidates(ctx, userID, query)
	if len(candidates) < minCandidates {
		candidates = mergeCandidates(candidates, s.keywordCandidates(ctx, userID, query, limit))
	}
	if len(candidates) == 0 {
		return ""
	}

	lines := s.expandCandidates(ctx, userID, candidates, limit)
	if len(lines) == 0 {
		return ""
	}

	s.logger.Debug("Retrieved graph context",
		zap.String("user_id", userID),
		zap.Int("candidates", len(candidates)),
		zap.Int("lines", len(lines)),
	)
	return strings.Join(lines, "\n")
}

// vectorCandidates embeds the query and runs nearest-neighbour search over
// the entity embedding index, keeping hits above the similarity threshold.
func (s *Service) vectorCandidates(ctx context.Context, userID, query string) []candidate {
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		s.logger.Warn("Query embedding failed", zap.Error(err))
		return nil
	}
	if len(vec) == 0 {
		return nil
	}

	embedding := make([]float64, len(vec))
	for i, v := range vec {
		embedding[i] = float64(v)
	}

	session := s.newSession(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	records, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, fmt.Sprintf(`
			CALL db.index.vector.queryNodes('%s', $k, $embedding)
			YIELD node, score
			WHERE score > $threshold
			  AND EXISTS { MATCH (:User {id: $userID})-[:KNOWS_ABOUT]->(node) }
			RETURN node.id AS id, node.name AS name, node.type AS type, score
		`, vectorIndexName), map[string]interface{}{
			"k":         s.vectorSearchK,
			"embedding": embedding,
			"threshold": s.similarityThreshold,
			"userID":    userID,
		})
		if err != nil {
			return nil, err
		}
		return result.Collect(ctx)
	})
	if err != nil {
		s.logger.Warn("Vector search failed", zap.Error(err))
		return nil
	}

	return recordsToCandidates(records.([]*neo4j.Record))
}

// keywordCandidates matches entity names and types against keyword tokens
// from the query. It is the fallback when vector recall is sparse or
// unavailable.
func (s *Service) keywordCandidates(ctx context.Context, userID, query string, limit int) []candidate {
	keywords := extractKeywords(query)
	if len(keywords) == 0 {
		return nil
	}

	session := s.newSession(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	records, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH (:User {id: $userID})-[:KNOWS_ABOUT]->(e:Entity)
			WHERE any(kw IN $keywords WHERE toLower(e.name) CONTAINS kw OR toLower(e.type) CONTAINS kw)
			   OR toLower(e.name) IN $keywords
			RETURN e.id AS id, e.name AS name, e.type AS type, 0.0 AS score
			LIMIT $limit
		`, map[string]interface{}{
			"userID":   userID,
			"keywords": keywords,
			"limit":    limit,
		})
		if err != nil {
			return nil, err
		}
		return result.Collect(ctx)
	})
	if err != nil {
		s.logger.Warn("Keyword search failed", zap.Error(err))
		return nil
	}

	return recordsToCandidates(records.([]*neo4j.Record))
}

func recordsToCandidates(records []*neo4j.Record) []candidate {
	candidates := make([]candidate, 0, len(records))
	for _, record := range records {
		id := getStringFromRecord(record, "id")
		if id == "" {
			continue
		}
		candidates = append(candidates, candidate{
			id:    id,
			name:  getStringFromRecord(record, "name"),
			typ:   getStringFromRecord(record, "type"),
			score: getFloat64FromRecord(record, "score"),
		})
	}
	return candidates
}

// mergeCandidates appends extras not already present by id
func mergeCandidates(base, extra []candidate) []candidate {
	seen := make(map[string]struct{}, len(base))
	for _, c := range base {
		seen[c.id] = struct{}{}
	}
	for _, c := range extra {
		if _, ok := seen[c.id]; ok {
			continue
		}
		seen[c.id] = struct{}{}
		base = append(base, c)
	}
	return base
}

// expandCandidates walks one hop out from each candidate and renders the
// user's relation to the candidate plus the candidate's own relations as
// natural-language lines, capped at limit.
func (s *Service) expandCandidates(ctx context.Context, userID string, candidates []candidate, limit int) []string {
	session := s.newSession(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	lines := make([]string, 0, limit)
	seen := make(map[string]struct{})

	for _, cand := range candidates {
		if len(lines) >= limit {
			break
		}

		records, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			result, err := tx.Run(ctx, `
				MATCH (e {id: $id})
				OPTIONAL MATCH (:User {id: $userID})-[r1]->(e)
				OPTIONAL MATCH (e)-[r2]->(n)
				WHERE n.id IS NOT NULL AND NOT n:User
				RETURN
					coalesce(r1.type, type(r1)) AS user_relation,
					coalesce(r2.type, type(r2)) AS relation,
					n.name AS neighbor_name,
					n.type AS neighbor_type
			`, map[string]interface{}{
				"id":     cand.id,
				"userID": userID,
			})
			if err != nil {
				return nil, err
			}
			return result.Collect(ctx)
		})
		if err != nil {
			s.logger.Warn("Candidate expansion failed",
				zap.Error(err),
				zap.String("entity_id", cand.id),
			)
			continue
		}

		for _, record := range records.([]*neo4j.Record) {
			if userRel := getStringFromRecord(record, "user_relation"); userRel != "" && userRel != "KNOWS_ABOUT" {
				line := fmt.Sprintf("User's relation to %s '%s': %s", cand.typ, cand.name, userRel)
				if _, ok := seen[line]; !ok {
					seen[line] = struct{}{}
					lines = append(lines, line)
					if len(lines) >= limit {
						break
					}
				}
			}

			relation := getStringFromRecord(record, "relation")
			neighborName := getStringFromRecord(record, "neighbor_name")
			if relation == "" || neighborName == "" {
				continue
			}
			line := fmt.Sprintf("%s '%s' %s %s", cand.typ, cand.name, relation, neighborName)
			if _, ok := seen[line]; !ok {
				seen[line] = struct{}{}
				lines = append(lines, line)
				if len(lines) >= limit {
					break
				}
			}
		}
	}

	return lines
}
