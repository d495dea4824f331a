package query

import (
	"fmt"
	"sort"
	"strings"

	"github.com/OFFIS-RIT/forge/pkg/common"
)

// localEvidence seeds on the entities the question names, expands the
// subgraph around them, and quotes their source passages. Quarantined
// chunks never appear as evidence.
func (e *Engine) localEvidence(question string) []string {
	terms := queryTerms(question)
	seeds := e.seedEntities(terms)
	if len(seeds) == 0 {
		return nil
	}

	seedIDs := make([]string, 0, len(seeds))
	for _, s := range seeds {
		seedIDs = append(seedIDs, s.ID)
	}
	entities, relationships := e.store.Subgraph(seedIDs, e.hops)

	entityByID := make(map[string]common.Entity, len(entities))
	for _, ent := range entities {
		entityByID[ent.ID] = ent
	}

	var evidence []string

	var entityLines []string
	for _, ent := range entities {
		line := fmt.Sprintf("- %s (%s): %s", ent.Name, ent.Type, strings.ReplaceAll(ent.Description, "\n", " "))
		entityLines = append(entityLines, line)
	}
	evidence = append(evidence, "## Entities\n"+strings.Join(entityLines, "\n"))

	if len(relationships) > 0 {
		var relationLines []string
		for _, rel := range relationships {
			relationLines = append(relationLines, fmt.Sprintf("- %s %s %s (weight %.2f)",
				entityByID[rel.SourceID].Name, rel.RelType, entityByID[rel.TargetID].Name, rel.Weight))
		}
		evidence = append(evidence, "## Relationships\n"+strings.Join(relationLines, "\n"))
	}

	for _, c := range e.relevantChunks(terms, entities) {
		evidence = append(evidence, fmt.Sprintf("[chunk:%s] %s", c.ID, c.Text))
	}

	return evidence
}

// seedEntities scores every entity against the query terms and returns the
// top matches. Ties resolve to the lower entity id.
func (e *Engine) seedEntities(terms []string) []common.Entity {
	type scored struct {
		entity common.Entity
		score  float64
	}

	var candidates []scored
	for _, ent := range e.store.Entities() {
		haystack := ent.Name + " " + strings.Join(ent.Aliases, " ") + " " + ent.Description
		score := scoreText(terms, haystack)
		if scoreText(terms, ent.Name) > 0 {
			score += 2
		}
		if score > 0 {
			candidates = append(candidates, scored{entity: ent, score: score})
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].entity.ID < candidates[j].entity.ID
	})

	if len(candidates) > e.maxSeeds {
		candidates = candidates[:e.maxSeeds]
	}

	out := make([]common.Entity, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, c.entity)
	}
	return out
}

// relevantChunks collects the source passages behind the subgraph entities,
// ranked by term overlap.
func (e *Engine) relevantChunks(terms []string, entities []common.Entity) []common.Chunk {
	seen := make(map[string]struct{})
	type scored struct {
		chunk common.Chunk
		score float64
	}
	var candidates []scored

	for _, ent := range entities {
		for _, id := range ent.Chunks {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			c, ok := e.chunks[id]
			if !ok || c.Quarantined {
				continue
			}
			candidates = append(candidates, scored{chunk: c, score: scoreText(terms, c.Text)})
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].chunk.ID < candidates[j].chunk.ID
	})

	if len(candidates) > e.maxChunks {
		candidates = candidates[:e.maxChunks]
	}

	out := make([]common.Chunk, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, c.chunk)
	}
	return out
}
