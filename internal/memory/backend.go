package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/agenthub/agent-hub/internal/memory/embeddings"
	"github.com/agenthub/agent-hub/pkg/models"
)

// GraphBackend is the boundary this package owns entirely: every
// interface the rest of the memory package declares (DuplicateFinder,
// EpisodeWriter, MandateSource, contentLookup, PrefixResolver,
// GraphCounterUpdater, TierCandidateSource, SimilaritySearcher,
// SourceDescriptionUpdater) is satisfied by Neo4jBackend below, plus the
// four raw boundary operations: AddEpisode, Search, RetrieveEpisodes,
// ExecuteQuery. The backend does not own the graph database itself —
// it is a thin client over a Neo4j instance the operator runs separately,
// with semantic search backed
// by an embeddings.Provider rather than a vendored vector index.
type GraphBackend struct {
	driver    neo4j.DriverWithContext
	database  string
	embedder  embeddings.Provider
}

// NewGraphBackend wraps an already-connected Neo4j driver. embedder may
// be nil, in which case SemanticSimilarity always reports 0 and only
// exact/structural queries (prefix resolution, tier changes, counter
// flush) function — useful for tests that never exercise search.
func NewGraphBackend(driver neo4j.DriverWithContext, database string, embedder embeddings.Provider) *GraphBackend {
	if database == "" {
		database = "neo4j"
	}
	return &GraphBackend{driver: driver, database: database, embedder: embedder}
}

func (b *GraphBackend) session(ctx context.Context) neo4j.SessionWithContext {
	return b.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: b.database})
}

// AddEpisode is the boundary write op. It is only ever called via
// EpisodeCreator.Create — no other package holds a reference to a
// GraphBackend with write intent.
func (b *GraphBackend) AddEpisode(ctx context.Context, ep models.Episode) (models.Episode, error) {
	if ep.UUID == "" {
		ep.UUID = uuid.NewString()
	}
	var embedding []float32
	if b.embedder != nil && ep.Content != "" {
		vec, err := b.embedder.Embed(ctx, ep.Content)
		if err == nil {
			embedding = vec
		}
	}

	session := b.session(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, `
			CREATE (e:Episodic {
				uuid: $uuid, name: $name, content: $content, group_id: $group_id,
				source_description: $source_description, injection_tier: $injection_tier,
				summary: $summary, pinned: $pinned, auto_inject: $auto_inject,
				display_order: $display_order, trigger_task_types: $trigger_task_types,
				vector_indexed: $vector_indexed, embedding: $embedding,
				loaded_count: 0, referenced_count: 0, helpful_count: 0, harmful_count: 0,
				success_count: 0, utility_score: 0.0, synonyms: [], ref_count: 0,
				has_correction: false, is_correction: false,
				created_at: $created_at, valid_at: $valid_at
			})`,
			map[string]any{
				"uuid": ep.UUID, "name": ep.Name, "content": ep.Content, "group_id": ep.GroupID,
				"source_description": ep.SourceDescription, "injection_tier": string(ep.InjectionTier),
				"summary": ep.Summary, "pinned": ep.Pinned, "auto_inject": ep.AutoInject,
				"display_order": ep.DisplayOrder, "trigger_task_types": ep.TriggerTaskTypes,
				"vector_indexed": ep.VectorIndexed, "embedding": toFloat64Slice(embedding),
				"created_at": ep.CreatedAt, "valid_at": ep.ValidAt,
			})
		return nil, err
	})
	if err != nil {
		return models.Episode{}, fmt.Errorf("add_episode: %w", err)
	}
	return ep, nil
}

// RemoveEpisode deletes an episode and its edges by UUID.
func (b *GraphBackend) RemoveEpisode(ctx context.Context, uuid string) error {
	session := b.session(ctx)
	defer session.Close(ctx)
	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, `MATCH (e:Episodic {uuid: $uuid}) DETACH DELETE e`, map[string]any{"uuid": uuid})
		return nil, err
	})
	return err
}

// ExecuteQuery runs a raw Cypher query, the escape hatch for
// maintenance queries that don't warrant their own typed method. Reads
// are retried on transient driver errors (e.g. a dropped connection
// during a routing-table refresh); writes never go through this path.
func (b *GraphBackend) ExecuteQuery(ctx context.Context, cypher string, params map[string]any) ([]*neo4j.Record, error) {
	return backoff.Retry(ctx, func() ([]*neo4j.Record, error) {
		session := b.session(ctx)
		defer session.Close(ctx)
		result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			res, err := tx.Run(ctx, cypher, params)
			if err != nil {
				return nil, err
			}
			return res.Collect(ctx)
		})
		if err != nil {
			return nil, err
		}
		return result.([]*neo4j.Record), nil
	}, backoff.WithMaxTries(3))
}

// RetrieveEpisodes returns the last_n episodes visible at reference_time
// within the given group_ids, newest first.
func (b *GraphBackend) RetrieveEpisodes(ctx context.Context, referenceTime time.Time, lastN int, groupIDs []string) ([]models.Episode, error) {
	records, err := b.ExecuteQuery(ctx, `
		MATCH (e:Episodic)
		WHERE e.group_id IN $group_ids AND e.valid_at <= $reference_time
		RETURN e ORDER BY e.valid_at DESC LIMIT $limit`,
		map[string]any{"group_ids": groupIDs, "reference_time": referenceTime, "limit": int64(lastN)})
	if err != nil {
		return nil, fmt.Errorf("retrieve_episodes: %w", err)
	}
	out := make([]models.Episode, 0, len(records))
	for _, r := range records {
		if node, ok := r.Get("e"); ok {
			out = append(out, episodeFromNode(node.(neo4j.Node)))
		}
	}
	return out, nil
}

// Search runs semantic search over entity edges, returning the top
// numResults scored by cosine similarity against the query embedding.
// Edges from episodes with vector_indexed=false are excluded. This is the
// generic entity-relationship search used by promotion/clustering callers
// that want facts, not tier-scoped episode candidates — see SearchByTier
// for the injection-tier-scoped path InjectContext uses.
func (b *GraphBackend) Search(ctx context.Context, query string, groupIDs []string, numResults int) ([]models.EntityEdge, error) {
	var queryVec []float32
	if b.embedder != nil {
		vec, err := b.embedder.Embed(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("embed query: %w", err)
		}
		queryVec = vec
	}

	records, err := b.ExecuteQuery(ctx, `
		MATCH (e:Episodic)-[:MENTIONS]->(n1)-[rel]->(n2)<-[:MENTIONS]-(e2:Episodic)
		WHERE e.group_id IN $group_ids AND e.vector_indexed = true
		RETURN DISTINCT rel, n1.name AS source_name, n2.name AS target_name,
			e.group_id AS group_id, e.source_description AS source_description,
			e.embedding AS embedding, e.uuid AS episode_uuid, e.created_at AS created_at
		LIMIT $limit`,
		map[string]any{"group_ids": groupIDs, "limit": int64(numResults * 5)})
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	edges := make([]models.EntityEdge, 0, len(records))
	for _, r := range records {
		rel, ok := r.Get("rel")
		if !ok {
			continue
		}
		relationship := rel.(neo4j.Relationship)
		fact, _ := relationship.Props["fact"].(string)
		edgeUUID, _ := relationship.Props["uuid"].(string)

		score := 1.0
		if queryVec != nil {
			if embVal, ok := r.Get("embedding"); ok && embVal != nil {
				score = cosineSimilarity(queryVec, fromInterfaceSlice(embVal))
			}
		}

		groupID, _ := r.Get("group_id")
		srcDesc, _ := r.Get("source_description")
		srcName, _ := r.Get("source_name")
		tgtName, _ := r.Get("target_name")
		episodeUUID, _ := r.Get("episode_uuid")
		createdAt, _ := r.Get("created_at")

		edge := models.EntityEdge{
			UUID:              edgeUUID,
			Fact:              fact,
			Episodes:          []string{fmt.Sprint(episodeUUID)},
			GroupID:           fmt.Sprint(groupID),
			Score:             score,
			SourceDescription: fmt.Sprint(srcDesc),
			SourceNodeName:    fmt.Sprint(srcName),
			TargetNodeName:    fmt.Sprint(tgtName),
		}
		if t, ok := createdAt.(time.Time); ok {
			edge.CreatedAt = t
		}
		edges = append(edges, edge)
	}

	sort.SliceStable(edges, func(i, j int) bool { return edges[i].Score > edges[j].Score })
	if len(edges) > numResults {
		edges = edges[:numResults]
	}
	return edges, nil
}

// SearchByTier runs semantic search directly against Episodic nodes
// filtered to one injection_tier, mirroring fetch_episodes_filtered's
// database-level category_filter rather than bucketing one generic search
// by tag after the fact. Real loaded_count/referenced_count/last_used_at
// are returned so scoring's usage and recency components see live data
// instead of falling back to their neutral defaults.
func (b *GraphBackend) SearchByTier(ctx context.Context, query string, groupIDs []string, tier models.InjectionTier, numResults int) ([]Candidate, error) {
	var queryVec []float32
	if b.embedder != nil {
		vec, err := b.embedder.Embed(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("embed query: %w", err)
		}
		queryVec = vec
	}

	records, err := b.ExecuteQuery(ctx, `
		MATCH (e:Episodic)
		WHERE e.group_id IN $group_ids AND e.vector_indexed = true AND e.injection_tier = $tier
		RETURN e.uuid AS uuid, e.source_description AS source_description, e.embedding AS embedding,
			e.created_at AS created_at, e.last_used_at AS last_used_at,
			coalesce(e.loaded_count, 0) AS loaded_count, coalesce(e.referenced_count, 0) AS referenced_count
		LIMIT $limit`,
		map[string]any{"group_ids": groupIDs, "tier": string(tier), "limit": int64(numResults * 5)})
	if err != nil {
		return nil, fmt.Errorf("search by tier: %w", err)
	}

	out := make([]Candidate, 0, len(records))
	for _, r := range records {
		u, _ := r.Get("uuid")
		srcDesc, _ := r.Get("source_description")
		createdAt, _ := r.Get("created_at")
		lastUsedAt, _ := r.Get("last_used_at")
		loaded, _ := r.Get("loaded_count")
		referenced, _ := r.Get("referenced_count")

		score := 1.0
		if queryVec != nil {
			if embVal, ok := r.Get("embedding"); ok && embVal != nil {
				score = cosineSimilarity(queryVec, fromInterfaceSlice(embVal))
			}
		}

		tag := ParseSourceDescription(fmt.Sprint(srcDesc))
		c := Candidate{
			UUID: fmt.Sprint(u), Tier: tier, SemanticSimilarity: score, Confidence: tag.Confidence,
			LoadedCount: toInt(loaded), ReferencedCount: toInt(referenced),
		}
		if t, ok := createdAt.(time.Time); ok {
			c.CreatedAt = t
		}
		if t, ok := lastUsedAt.(time.Time); ok {
			c.LastUsedAt = t
		}
		out = append(out, c)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].SemanticSimilarity > out[j].SemanticSimilarity })
	if len(out) > numResults {
		out = out[:numResults]
	}
	return out, nil
}

// FindDuplicateByHash implements DuplicateFinder. No content_hash property
// is ever persisted on an Episodic node — recomputing the hash per
// candidate is the actual strategy, matching find_exact_duplicate's
// recompute-and-compare loop over recent results rather than an indexed
// lookup on a stored hash.
func (b *GraphBackend) FindDuplicateByHash(ctx context.Context, groupID, contentHash string, since time.Time) (string, bool, error) {
	params := map[string]any{"group_id": groupID}
	cypher := `MATCH (e:Episodic {group_id: $group_id}) `
	if !since.IsZero() {
		cypher += `WHERE e.created_at >= $since `
		params["since"] = since
	}
	cypher += `RETURN e.uuid AS uuid, e.content AS content, e.created_at AS created_at ORDER BY e.created_at DESC LIMIT 50`

	records, err := b.ExecuteQuery(ctx, cypher, params)
	if err != nil {
		return "", false, err
	}
	for _, r := range records {
		content, _ := r.Get("content")
		if ContentHash(fmt.Sprint(content)) == contentHash {
			u, _ := r.Get("uuid")
			return fmt.Sprint(u), true, nil
		}
	}
	return "", false, nil
}

// GlobalMandates implements MandateSource for the adaptive index.
func (b *GraphBackend) GlobalMandates(ctx context.Context) ([]GoldenStandard, error) {
	records, err := b.ExecuteQuery(ctx, `
		MATCH (e:Episodic {group_id: "global", injection_tier: "mandate"})
		RETURN e.uuid AS uuid, e.content AS content, e.loaded_count AS loaded_count, e.referenced_count AS referenced_count`,
		nil)
	if err != nil {
		return nil, err
	}
	out := make([]GoldenStandard, 0, len(records))
	for _, r := range records {
		uuidVal, _ := r.Get("uuid")
		content, _ := r.Get("content")
		loaded, _ := r.Get("loaded_count")
		referenced, _ := r.Get("referenced_count")
		out = append(out, GoldenStandard{
			UUID: fmt.Sprint(uuidVal), Content: fmt.Sprint(content),
			LoadedCount: toInt(loaded), ReferencedCount: toInt(referenced),
		})
	}
	return out, nil
}

// EpisodeContent implements contentLookup for the context injector.
func (b *GraphBackend) EpisodeContent(ctx context.Context, episodeUUID string) (string, bool, []string, error) {
	records, err := b.ExecuteQuery(ctx, `
		MATCH (e:Episodic {uuid: $uuid}) RETURN e.content AS content, e.pinned AS pinned, e.trigger_task_types AS trigger_task_types`,
		map[string]any{"uuid": episodeUUID})
	if err != nil {
		return "", false, nil, err
	}
	if len(records) == 0 {
		return "", false, nil, fmt.Errorf("episode not found: %s", episodeUUID)
	}
	content, _ := records[0].Get("content")
	pinned, _ := records[0].Get("pinned")
	triggers, _ := records[0].Get("trigger_task_types")
	return fmt.Sprint(content), toBool(pinned), toStringSlice(triggers), nil
}

// ResolvePrefixes implements PrefixResolver: exact 8-char prefix match
// within one group_id, returning every match so the caller can detect
// ambiguity rather than this layer picking one.
func (b *GraphBackend) ResolvePrefixes(ctx context.Context, prefixes []string, groupID string) (map[string][]string, error) {
	out := make(map[string][]string, len(prefixes))
	for _, prefix := range prefixes {
		records, err := b.ExecuteQuery(ctx, `
			MATCH (e:Episodic {group_id: $group_id})
			WHERE e.uuid STARTS WITH $prefix
			RETURN e.uuid AS uuid`,
			map[string]any{"group_id": groupID, "prefix": prefix})
		if err != nil {
			return nil, err
		}
		matches := make([]string, 0, len(records))
		for _, r := range records {
			u, _ := r.Get("uuid")
			matches = append(matches, fmt.Sprint(u))
		}
		out[prefix] = matches
	}
	return out, nil
}

// FlushUsageCounters implements GraphCounterUpdater with a single batched
// upsert: a UUID returned by search can name a direct Episodic node, an
// Entity mentioned by one, or a RELATES_TO edge between two entities
// mentioned by an episode — the three OPTIONAL MATCH arms resolve whichever
// shape applies and COALESCE picks the one that actually matched, so a row
// only counts as updated when one of the three really did.
func (b *GraphBackend) FlushUsageCounters(ctx context.Context, updates map[string]UsageDelta, now time.Time) (int, error) {
	if len(updates) == 0 {
		return 0, nil
	}
	rows := make([]map[string]any, 0, len(updates))
	for episodeUUID, d := range updates {
		rows = append(rows, map[string]any{
			"uuid": episodeUUID, "loaded": int64(d.Loaded), "referenced": int64(d.Referenced),
			"success": int64(d.Success), "helpful": int64(d.Helpful), "harmful": int64(d.Harmful),
		})
	}

	records, err := b.ExecuteQuery(ctx, `
		UNWIND $updates AS update
		OPTIONAL MATCH (episodic:Episodic {uuid: update.uuid})
		OPTIONAL MATCH (source1:Episodic)-[:MENTIONS]->(entity:Entity {uuid: update.uuid})
		OPTIONAL MATCH (e1:Entity)-[edge:RELATES_TO {uuid: update.uuid}]->(e2:Entity)
		OPTIONAL MATCH (source2:Episodic)-[:MENTIONS]->(e1)
		WITH update, COALESCE(episodic, source1, source2) AS e
		WHERE e IS NOT NULL
		SET e.loaded_count = coalesce(e.loaded_count, 0) + update.loaded,
			e.referenced_count = coalesce(e.referenced_count, 0) + update.referenced,
			e.success_count = coalesce(e.success_count, 0) + update.success,
			e.helpful_count = coalesce(e.helpful_count, 0) + update.helpful,
			e.harmful_count = coalesce(e.harmful_count, 0) + update.harmful,
			e.last_used_at = $now
		WITH e
		SET e.utility_score = CASE WHEN coalesce(e.referenced_count, 0) > 0
			THEN toFloat(coalesce(e.success_count, 0)) / e.referenced_count
			ELSE 0.0 END
		RETURN count(e) AS updated`,
		map[string]any{"updates": rows, "now": now})
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}
	n, _ := records[0].Get("updated")
	return toInt(n), nil
}

// DemotionCandidates implements TierCandidateSource: pinned=false episodes
// in mandate/guardrail tier old enough to clear the grace period, with at
// least minLoads loads or any harmful ratings at all — the harmful
// criterion has no load-count precondition, so harmful-rated episodes
// must surface regardless of how rarely they were loaded. The exact
// harmful threshold is applied by FindDemotionCandidates.
func (b *GraphBackend) DemotionCandidates(ctx context.Context, minLoads int, minAge time.Duration) ([]TierCandidate, error) {
	cutoff := time.Now().Add(-minAge)
	records, err := b.ExecuteQuery(ctx, `
		MATCH (e:Episodic)
		WHERE e.pinned = false AND e.injection_tier IN ["mandate", "guardrail"]
			AND e.created_at <= $cutoff
			AND (e.loaded_count >= $min_loads OR coalesce(e.harmful_count, 0) > 0)
		RETURN e.uuid AS uuid, e.name AS name, e.injection_tier AS tier,
			e.loaded_count AS loaded_count, e.referenced_count AS referenced_count,
			e.created_at AS created_at, coalesce(e.harmful_count, 0) AS harmful_count`,
		map[string]any{"cutoff": cutoff, "min_loads": int64(minLoads)})
	if err != nil {
		return nil, err
	}
	return tierCandidatesFromRecords(records), nil
}

// PromotionCandidates implements TierCandidateSource for guardrail/reference
// episodes old enough and referenced enough to be considered.
func (b *GraphBackend) PromotionCandidates(ctx context.Context, minRefs int, minAge time.Duration) ([]TierCandidate, error) {
	cutoff := time.Now().Add(-minAge)
	records, err := b.ExecuteQuery(ctx, `
		MATCH (e:Episodic)
		WHERE e.injection_tier IN ["guardrail", "reference"]
			AND e.created_at <= $cutoff AND e.referenced_count >= $min_refs
		RETURN e.uuid AS uuid, e.name AS name, e.injection_tier AS tier,
			e.loaded_count AS loaded_count, e.referenced_count AS referenced_count,
			e.created_at AS created_at, e.harmful_count AS harmful_count`,
		map[string]any{"cutoff": cutoff, "min_refs": int64(minRefs)})
	if err != nil {
		return nil, err
	}
	return tierCandidatesFromRecords(records), nil
}

// SetEpisodeTier implements TierCandidateSource's write side: move to a
// new tier, flip vector_indexed off on demotion, stamp the appropriate
// timestamp/reason pair.
func (b *GraphBackend) SetEpisodeTier(ctx context.Context, uuid string, newTier models.InjectionTier, reason string, demoted bool, now time.Time) error {
	cypher := `MATCH (e:Episodic {uuid: $uuid}) SET e.injection_tier = $tier`
	params := map[string]any{"uuid": uuid, "tier": string(newTier)}
	if demoted {
		cypher += `, e.vector_indexed = false, e.demoted_at = $now, e.demotion_reason = $reason`
	} else {
		cypher += `, e.promoted_at = $now, e.promotion_reason = $reason`
	}
	params["now"] = now
	params["reason"] = reason
	_, err := b.ExecuteQuery(ctx, cypher, params)
	return err
}

// ApplyHarmfulCorrection implements the harmful-correction write:
// create a correction Episodic node, REPLACES-link it to the original,
// and mark the original unindexed with has_correction set.
func (b *GraphBackend) ApplyHarmfulCorrection(ctx context.Context, originalUUID, correctionContent, groupID string, now time.Time) (string, error) {
	correctionUUID := uuid.NewString()
	session := b.session(ctx)
	defer session.Close(ctx)
	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, `
			MATCH (orig:Episodic {uuid: $original_uuid})
			CREATE (correction:Episodic {
				uuid: $correction_uuid, content: $content, group_id: $group_id,
				injection_tier: orig.injection_tier, is_correction: true, corrects_uuid: $original_uuid,
				vector_indexed: true, auto_inject: true, pinned: false,
				loaded_count: 0, referenced_count: 0, helpful_count: 0, harmful_count: 0,
				success_count: 0, utility_score: 0.0, synonyms: [], ref_count: 0,
				has_correction: false, created_at: $now, valid_at: $now
			})
			CREATE (correction)-[:REPLACES {created_at: $now}]->(orig)
			SET orig.vector_indexed = false, orig.has_correction = true, orig.correction_uuid = $correction_uuid`,
			map[string]any{
				"original_uuid": originalUUID, "correction_uuid": correctionUUID,
				"content": correctionContent, "group_id": groupID, "now": now,
			})
		return nil, err
	})
	if err != nil {
		return "", fmt.Errorf("apply harmful correction: %w", err)
	}
	return correctionUUID, nil
}

// SearchBySimilarity implements SimilaritySearcher for promotion.go's
// reinforcement check and canonical-clustering's golden-standard dedup.
func (b *GraphBackend) SearchBySimilarity(ctx context.Context, query, groupID string, numResults int) ([]SimilarityMatch, error) {
	var queryVec []float32
	if b.embedder != nil {
		vec, err := b.embedder.Embed(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("embed query: %w", err)
		}
		queryVec = vec
	}

	records, err := b.ExecuteQuery(ctx, `
		MATCH (e:Episodic {group_id: $group_id})
		WHERE e.vector_indexed = true
		RETURN e.uuid AS uuid, e.content AS content, e.source_description AS source_description, e.embedding AS embedding`,
		map[string]any{"group_id": groupID})
	if err != nil {
		return nil, err
	}

	matches := make([]SimilarityMatch, 0, len(records))
	for _, r := range records {
		u, _ := r.Get("uuid")
		content, _ := r.Get("content")
		srcDesc, _ := r.Get("source_description")
		score := 1.0
		if queryVec != nil {
			if embVal, ok := r.Get("embedding"); ok && embVal != nil {
				score = cosineSimilarity(queryVec, fromInterfaceSlice(embVal))
			}
		}
		matches = append(matches, SimilarityMatch{
			UUID: fmt.Sprint(u), Score: score, SourceDescription: fmt.Sprint(srcDesc), Fact: fmt.Sprint(content),
		})
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > numResults {
		matches = matches[:numResults]
	}
	return matches, nil
}

// NearestGoldenStandard implements CanonicalSource: the most similar
// existing golden standard (mandate tier, source:golden_standard tag) in
// the given group_id.
func (b *GraphBackend) NearestGoldenStandard(ctx context.Context, content, groupID string) (CanonicalCandidate, bool, error) {
	matches, err := b.SearchBySimilarity(ctx, content, groupID, 20)
	if err != nil {
		return CanonicalCandidate{}, false, err
	}
	for _, m := range matches {
		if strings.Contains(m.SourceDescription, "source:golden_standard") {
			return CanonicalCandidate{
				UUID: m.UUID, Content: m.Fact, SourceDescription: m.SourceDescription, Similarity: m.Score,
			}, true, nil
		}
	}
	return CanonicalCandidate{}, false, nil
}

// UpdateSourceDescription and GetSourceDescription implement
// SourceDescriptionUpdater for promotion.go.
func (b *GraphBackend) UpdateSourceDescription(ctx context.Context, uuid, newSourceDescription string) error {
	_, err := b.ExecuteQuery(ctx, `MATCH (e:Episodic {uuid: $uuid}) SET e.source_description = $desc`,
		map[string]any{"uuid": uuid, "desc": newSourceDescription})
	return err
}

func (b *GraphBackend) GetSourceDescription(ctx context.Context, uuid string) (string, bool, error) {
	records, err := b.ExecuteQuery(ctx, `MATCH (e:Episodic {uuid: $uuid}) RETURN e.source_description AS desc`,
		map[string]any{"uuid": uuid})
	if err != nil {
		return "", false, err
	}
	if len(records) == 0 {
		return "", false, nil
	}
	d, _ := records[0].Get("desc")
	return fmt.Sprint(d), true, nil
}

// AppendSynonym implements the canonical-clustering write path: append new
// content to an episode's synonyms list (truncated to 500 chars) and bump
// its ref_count, without creating a new episode.
func (b *GraphBackend) AppendSynonym(ctx context.Context, uuid, newContent string, maxLen int) error {
	if len(newContent) > maxLen {
		newContent = newContent[:maxLen]
	}
	_, err := b.ExecuteQuery(ctx, `
		MATCH (e:Episodic {uuid: $uuid})
		SET e.synonyms = coalesce(e.synonyms, []) + [$content], e.ref_count = coalesce(e.ref_count, 0) + 1`,
		map[string]any{"uuid": uuid, "content": newContent})
	return err
}

// CreateRefinesEdge implements canonical-clustering's "variation" write
// path: link a new episode to the canonical one it refines.
func (b *GraphBackend) CreateRefinesEdge(ctx context.Context, newUUID, canonicalUUID string, now time.Time) error {
	_, err := b.ExecuteQuery(ctx, `
		MATCH (n:Episodic {uuid: $new_uuid}), (c:Episodic {uuid: $canonical_uuid})
		CREATE (n)-[:REFINES {created_at: $now}]->(c)`,
		map[string]any{"new_uuid": newUUID, "canonical_uuid": canonicalUUID, "now": now})
	return err
}

func tierCandidatesFromRecords(records []*neo4j.Record) []TierCandidate {
	out := make([]TierCandidate, 0, len(records))
	for _, r := range records {
		u, _ := r.Get("uuid")
		name, _ := r.Get("name")
		tier, _ := r.Get("tier")
		loaded, _ := r.Get("loaded_count")
		referenced, _ := r.Get("referenced_count")
		createdAt, _ := r.Get("created_at")
		harmful, _ := r.Get("harmful_count")

		age := time.Duration(0)
		if t, ok := createdAt.(time.Time); ok {
			age = time.Since(t)
		}

		out = append(out, TierCandidate{
			UUID: fmt.Sprint(u), Name: fmt.Sprint(name),
			CurrentTier: models.InjectionTier(fmt.Sprint(tier)),
			LoadedCount: toInt(loaded), ReferencedCount: toInt(referenced),
			HarmfulCount: toInt(harmful),
			Age:          age,
		})
	}
	return out
}

func episodeFromNode(node neo4j.Node) models.Episode {
	props := node.Props
	ep := models.Episode{
		UUID:              fmt.Sprint(props["uuid"]),
		Name:              fmt.Sprint(props["name"]),
		Content:           fmt.Sprint(props["content"]),
		GroupID:           fmt.Sprint(props["group_id"]),
		SourceDescription: fmt.Sprint(props["source_description"]),
		InjectionTier:     models.InjectionTier(fmt.Sprint(props["injection_tier"])),
		Summary:           fmt.Sprint(props["summary"]),
		Pinned:            toBool(props["pinned"]),
		VectorIndexed:     toBool(props["vector_indexed"]),
	}
	return ep
}

func toInt(v any) int {
	switch n := v.(type) {
	case int64:
		return int(n)
	case int:
		return n
	case float64:
		return int(n)
	}
	return 0
}

func toBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func toStringSlice(v any) []string {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		out = append(out, fmt.Sprint(r))
	}
	return out
}

func toFloat64Slice(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}

func fromInterfaceSlice(v any) []float32 {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]float32, 0, len(raw))
	for _, r := range raw {
		if f, ok := r.(float64); ok {
			out = append(out, float32(f))
		}
	}
	return out
}

// cosineSimilarity compares two embedding vectors; a length mismatch or
// empty vector returns 0 rather than panicking, since a missing embedding
// (not yet backfilled, embedder unset at write time) is common in
// practice, not a bug.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// SanitizeGroupIDFilter builds the group_ids slice for a scope query,
// optionally folding in "global" the "cross-scope reads are
// explicit" rule.
func SanitizeGroupIDFilter(scope models.Scope, includeGlobal bool) []string {
	groupIDs := []string{scope.GroupID()}
	if includeGlobal && scope.Kind == models.ScopeProject {
		groupIDs = append(groupIDs, "global")
	}
	return groupIDs
}
