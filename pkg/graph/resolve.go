package graph

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/OFFIS-RIT/forge/pkg/ai"
	"github.com/OFFIS-RIT/forge/pkg/common"
	"github.com/OFFIS-RIT/forge/pkg/logger"

	"github.com/agnivade/levenshtein"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/pkoukk/tiktoken-go"
)

// Resolver maps raw mentions onto canonical graph entities. Matching is
// exact on normalized name and type first, then fuzzy (normalized edit
// similarity above the threshold, same type). Unmatched mentions create new
// entities. The resolver is the single writer of its Store.
type Resolver struct {
	store     *Store
	client    ai.CompletionClient
	threshold float64

	descriptionBudget int
	encoder           *tiktoken.Tiktoken
}

// NewResolverParams configures a Resolver. SimilarityThreshold is the
// minimum normalized edit similarity for a fuzzy name match (default 0.90).
// DescriptionTokenBudget bounds accumulated entity descriptions before they
// are condensed through the completion client (default 512); condensation
// is skipped when Client is nil.
type NewResolverParams struct {
	Store                  *Store
	Client                 ai.CompletionClient
	SimilarityThreshold    float64
	DescriptionTokenBudget int
}

// NewResolver creates a Resolver over the given store.
func NewResolver(params NewResolverParams) (*Resolver, error) {
	threshold := params.SimilarityThreshold
	if threshold <= 0 {
		threshold = 0.90
	}
	budget := params.DescriptionTokenBudget
	if budget <= 0 {
		budget = 512
	}

	encoder, err := tiktoken.GetEncoding("o200k_base")
	if err != nil {
		return nil, fmt.Errorf("failed to load token encoder: %w", err)
	}

	return &Resolver{
		store:             params.Store,
		client:            params.Client,
		threshold:         threshold,
		descriptionBudget: budget,
		encoder:           encoder,
	}, nil
}

// BatchStats reports the outcome of resolving one batch of mentions.
type BatchStats struct {
	EntitiesCreated  int
	EntitiesMerged   int
	RelationsApplied int
	RelationsDropped int
}

// ResolveBatch merges a batch of mentions into the graph. Entity mentions
// are resolved first so relationship endpoints can refer to entities
// introduced anywhere in the same batch. Relations whose endpoints still
// cannot be resolved after that pass are dropped and counted, never applied
// partially. The result is independent of mention order within the batch.
func (r *Resolver) ResolveBatch(ctx context.Context, mentions []common.EntityMention, relations []common.RelationshipMention) (BatchStats, error) {
	var stats BatchStats

	// Sort for order independence: identical batches resolve identically
	// regardless of extraction completion order.
	sorted := make([]common.EntityMention, len(mentions))
	copy(sorted, mentions)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Name != sorted[j].Name {
			return sorted[i].Name < sorted[j].Name
		}
		if sorted[i].Type != sorted[j].Type {
			return sorted[i].Type < sorted[j].Type
		}
		return sorted[i].ChunkID < sorted[j].ChunkID
	})

	for _, m := range sorted {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		created, err := r.resolveMention(ctx, m)
		if err != nil {
			return stats, err
		}
		if created {
			stats.EntitiesCreated++
		} else {
			stats.EntitiesMerged++
		}
	}

	sortedRels := make([]common.RelationshipMention, len(relations))
	copy(sortedRels, relations)
	sort.Slice(sortedRels, func(i, j int) bool {
		if sortedRels[i].Source != sortedRels[j].Source {
			return sortedRels[i].Source < sortedRels[j].Source
		}
		if sortedRels[i].Target != sortedRels[j].Target {
			return sortedRels[i].Target < sortedRels[j].Target
		}
		return sortedRels[i].RelType < sortedRels[j].RelType
	})

	for _, rel := range sortedRels {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		if err := r.resolveRelation(rel); err != nil {
			stats.RelationsDropped++
			logger.Warn("Dropped relation", "source", rel.Source, "target", rel.Target, "rel_type", rel.RelType, "err", err)
			continue
		}
		stats.RelationsApplied++
	}

	return stats, nil
}

// resolveMention folds one entity mention into the graph and reports whether
// a new entity was created.
func (r *Resolver) resolveMention(ctx context.Context, m common.EntityMention) (bool, error) {
	existing, ok := r.match(m.Name, m.Type)
	if !ok {
		id, err := gonanoid.New()
		if err != nil {
			return false, fmt.Errorf("failed to generate entity id: %w", err)
		}
		e := common.Entity{
			ID:          id,
			Name:        strings.ToUpper(strings.TrimSpace(m.Name)),
			Type:        strings.ToUpper(strings.TrimSpace(m.Type)),
			Description: m.Description,
			Chunks:      []string{m.ChunkID},
		}
		return true, r.store.UpsertEntity(e)
	}

	if !containsChunk(existing.Chunks, m.ChunkID) {
		existing.Chunks = append(existing.Chunks, m.ChunkID)
	}
	if alias := strings.ToUpper(strings.TrimSpace(m.Name)); NormalizeName(alias) != NormalizeName(existing.Name) {
		found := false
		for _, a := range existing.Aliases {
			if NormalizeName(a) == NormalizeName(alias) {
				found = true
				break
			}
		}
		if !found {
			existing.Aliases = append(existing.Aliases, alias)
		}
	}
	if m.Description != "" && !strings.Contains(existing.Description, m.Description) {
		if existing.Description != "" {
			existing.Description += "\n"
		}
		existing.Description += m.Description
	}

	condensed, err := r.maybeCondense(ctx, existing)
	if err != nil {
		return false, err
	}
	existing.Description = condensed

	return false, r.store.UpsertEntity(existing)
}

// resolveRelation maps both endpoints of a relationship mention and applies
// it to the store. Unresolvable endpoints yield ErrResolutionConflict.
func (r *Resolver) resolveRelation(rel common.RelationshipMention) error {
	source, ok := r.match(rel.Source, "")
	if !ok {
		return fmt.Errorf("%w: source %q", ErrResolutionConflict, rel.Source)
	}
	target, ok := r.match(rel.Target, "")
	if !ok {
		return fmt.Errorf("%w: target %q", ErrResolutionConflict, rel.Target)
	}
	if source.ID == target.ID {
		return fmt.Errorf("%w: %q and %q resolve to the same entity", ErrResolutionConflict, rel.Source, rel.Target)
	}

	return r.store.UpsertRelationship(common.Relationship{
		SourceID:    source.ID,
		TargetID:    target.ID,
		RelType:     rel.RelType,
		Description: rel.Description,
		Weight:      rel.Strength,
		Chunks:      []string{rel.ChunkID},
	})
}

// match finds the canonical entity for a surface name. With a type the match
// is exact-then-fuzzy within that type; without a type (relationship
// endpoints carry none) names and aliases across all types are considered.
func (r *Resolver) match(name, typ string) (common.Entity, bool) {
	normalized := NormalizeName(name)
	if normalized == "" {
		return common.Entity{}, false
	}

	if typ != "" {
		if e, ok := r.store.LookupByName(name, typ); ok {
			return e, true
		}
	}

	var best common.Entity
	bestScore := 0.0
	for _, e := range r.store.Entities() {
		if typ != "" && NormalizeName(e.Type) != NormalizeName(typ) {
			continue
		}
		score := bestNameSimilarity(normalized, e)
		if score > bestScore || (score == bestScore && score > 0 && e.ID < best.ID) {
			best = e
			bestScore = score
		}
	}

	if bestScore >= r.threshold || bestScore == 1.0 {
		return best, true
	}
	return common.Entity{}, false
}

// bestNameSimilarity scores a normalized surface name against an entity's
// canonical name and all aliases, returning the highest similarity.
// Abbreviated forms ("M. CURIE" for "MARIE CURIE") count as exact.
func bestNameSimilarity(normalized string, e common.Entity) float64 {
	score := nameSimilarity(normalized, NormalizeName(e.Name))
	for _, alias := range e.Aliases {
		if s := nameSimilarity(normalized, NormalizeName(alias)); s > score {
			score = s
		}
	}
	return score
}

func nameSimilarity(a, b string) float64 {
	if abbreviationMatch(a, b) {
		return 1
	}
	return similarity(a, b)
}

// abbreviationMatch reports whether one name abbreviates the other: same
// token count, identical final token, and each leading token of one a
// prefix of its counterpart ("M." against "MARIE").
func abbreviationMatch(a, b string) bool {
	at := strings.Fields(a)
	bt := strings.Fields(b)
	if len(at) < 2 || len(at) != len(bt) {
		return false
	}
	if at[len(at)-1] != bt[len(bt)-1] {
		return false
	}
	for i := 0; i < len(at)-1; i++ {
		x := strings.TrimSuffix(at[i], ".")
		y := strings.TrimSuffix(bt[i], ".")
		if x == "" || y == "" {
			return false
		}
		if !strings.HasPrefix(x, y) && !strings.HasPrefix(y, x) {
			return false
		}
	}
	return true
}

// similarity is the normalized edit similarity of two strings in [0,1].
func similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	longest := max(len([]rune(a)), len([]rune(b)))
	if longest == 0 {
		return 0
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1 - float64(dist)/float64(longest)
}

// maybeCondense rewrites an entity description through the completion client
// once it exceeds the token budget. Without a client the description is kept
// as accumulated.
func (r *Resolver) maybeCondense(ctx context.Context, e common.Entity) (string, error) {
	if r.client == nil || len(r.encoder.Encode(e.Description, nil, nil)) <= r.descriptionBudget {
		return e.Description, nil
	}

	prompt := fmt.Sprintf(ai.CondenseDescriptionPrompt, e.Name, e.Type, e.Description)
	condensed, err := r.client.GenerateCompletion(ctx, prompt, ai.WithMaxTokens(r.descriptionBudget))
	if err != nil {
		return "", fmt.Errorf("failed to condense description of %s: %w", e.Name, err)
	}
	return strings.TrimSpace(condensed), nil
}

// MergeDuplicates sweeps the whole graph for cross-batch duplicates: pairs
// of same-type entities whose names or aliases exceed the similarity
// threshold. The lexically smaller id survives each merge so sweeps are
// deterministic.
func (r *Resolver) MergeDuplicates(ctx context.Context) (int, error) {
	merged := 0
	for {
		if ctx.Err() != nil {
			return merged, ctx.Err()
		}

		entities := r.store.Entities()
		loser, survivor, found := r.findDuplicate(entities)
		if !found {
			return merged, nil
		}

		if err := r.store.MergeEntities(loser, survivor); err != nil {
			return merged, err
		}
		merged++
	}
}

func (r *Resolver) findDuplicate(entities []common.Entity) (loser, survivor string, found bool) {
	for i := 0; i < len(entities); i++ {
		for j := i + 1; j < len(entities); j++ {
			a, b := entities[i], entities[j]
			if NormalizeName(a.Type) != NormalizeName(b.Type) {
				continue
			}
			score := bestNameSimilarity(NormalizeName(a.Name), b)
			if s := bestNameSimilarity(NormalizeName(b.Name), a); s > score {
				score = s
			}
			if score >= r.threshold {
				// Entities are sorted by id, so a survives.
				return b.ID, a.ID, true
			}
		}
	}
	return "", "", false
}

func containsChunk(chunks []string, id string) bool {
	for _, c := range chunks {
		if c == id {
			return true
		}
	}
	return false
}
