package graph

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/OFFIS-RIT/forge/pkg/common"
)

// edgeKey identifies a canonical edge. Endpoints are stored in sorted order
// because edge weights are undirected.
type edgeKey struct {
	a, b    string
	relType string
}

func newEdgeKey(sourceID, targetID, relType string) edgeKey {
	if sourceID > targetID {
		sourceID, targetID = targetID, sourceID
	}
	return edgeKey{a: sourceID, b: targetID, relType: relType}
}

// Store is the in-memory canonical graph: entities, relationships and the
// secondary indices used for lookup by name and by chunk provenance.
//
// All mutation flows through a single writer (the Resolver); the store
// itself enforces structural invariants and keeps indices consistent.
// Readers always observe fully-committed state. A generation counter
// increments on every committed mutation so queries and snapshots can record
// the graph version they saw.
type Store struct {
	mu sync.RWMutex

	entities      map[string]*common.Entity
	relationships map[edgeKey]*common.Relationship

	// remap records merged-away entity ids: old id -> surviving id.
	// Chains are collapsed on write so lookups resolve in one step.
	remap   map[string]string
	byName  map[string]string
	byChunk map[string]map[string]struct{}

	generation uint64
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		entities:      make(map[string]*common.Entity),
		relationships: make(map[edgeKey]*common.Relationship),
		remap:         make(map[string]string),
		byName:        make(map[string]string),
		byChunk:       make(map[string]map[string]struct{}),
	}
}

// NormalizeName standardizes entity names for index lookups and dedupe
// comparisons: whitespace collapsed, upper-cased.
func NormalizeName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.Join(strings.Fields(name), " ")
	return strings.ToUpper(name)
}

func nameKey(name, typ string) string {
	return NormalizeName(name) + "|" + NormalizeName(typ)
}

// resolveID follows the merge remap table to the surviving entity id.
func (s *Store) resolveID(id string) string {
	if surviving, ok := s.remap[id]; ok {
		return surviving
	}
	return id
}

// Generation returns the current graph generation. It increments on every
// committed mutation.
func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// SetGeneration overrides the generation counter. Used when a store is
// rebuilt from a persisted snapshot, so queries keep reporting the
// generation the snapshot captured rather than the rebuild's upsert count.
func (s *Store) SetGeneration(generation uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation = generation
}

// UpsertEntity inserts a new entity or replaces the stored entity with the
// same id, keeping the name and chunk indices consistent.
func (s *Store) UpsertEntity(e common.Entity) error {
	if e.ID == "" {
		return &InvariantViolation{Op: "upsert_entity", Detail: "entity has no id"}
	}
	if strings.TrimSpace(e.Name) == "" {
		return &InvariantViolation{Op: "upsert_entity", Detail: "entity has no name"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.resolveID(e.ID)
	if prev, ok := s.entities[id]; ok {
		delete(s.byName, nameKey(prev.Name, prev.Type))
		for _, c := range prev.Chunks {
			delete(s.byChunk[c], id)
		}
	}

	stored := e
	stored.ID = id
	s.entities[id] = &stored
	s.byName[nameKey(stored.Name, stored.Type)] = id
	for _, c := range stored.Chunks {
		s.indexChunk(c, id)
	}

	s.generation++
	return nil
}

// UpsertRelationship inserts an edge or, when an edge for the same
// (source, target, rel type) already exists, folds the new mention into it:
// weight is incremented, chunk provenance unioned, description extended.
// Self-loops and edges with missing endpoints are rejected.
func (s *Store) UpsertRelationship(r common.Relationship) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sourceID := s.resolveID(r.SourceID)
	targetID := s.resolveID(r.TargetID)

	if sourceID == targetID {
		return &InvariantViolation{Op: "upsert_relationship", Detail: fmt.Sprintf("self-loop on entity %s", sourceID)}
	}
	if _, ok := s.entities[sourceID]; !ok {
		return &InvariantViolation{Op: "upsert_relationship", Detail: fmt.Sprintf("missing source entity %s", r.SourceID)}
	}
	if _, ok := s.entities[targetID]; !ok {
		return &InvariantViolation{Op: "upsert_relationship", Detail: fmt.Sprintf("missing target entity %s", r.TargetID)}
	}

	key := newEdgeKey(sourceID, targetID, r.RelType)
	if existing, ok := s.relationships[key]; ok {
		existing.Weight += r.Weight
		for _, c := range r.Chunks {
			if !slices.Contains(existing.Chunks, c) {
				existing.Chunks = append(existing.Chunks, c)
			}
		}
		if r.Description != "" && !strings.Contains(existing.Description, r.Description) {
			if existing.Description != "" {
				existing.Description += "\n"
			}
			existing.Description += r.Description
		}
	} else {
		stored := r
		stored.SourceID = sourceID
		stored.TargetID = targetID
		s.relationships[key] = &stored
		s.entities[sourceID].Degree++
		s.entities[targetID].Degree++
	}

	s.generation++
	return nil
}

// LookupByName finds an entity by exact normalized name and type match.
func (s *Store) LookupByName(name, typ string) (common.Entity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byName[nameKey(name, typ)]
	if !ok {
		return common.Entity{}, false
	}
	return *s.entities[id], true
}

// Entity returns the entity for id, following merge remapping.
func (s *Store) Entity(id string) (common.Entity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entities[s.resolveID(id)]
	if !ok {
		return common.Entity{}, false
	}
	return *e, true
}

// EntitiesByChunk returns the entities whose provenance includes the chunk.
func (s *Store) EntitiesByChunk(chunkID string) []common.Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.byChunk[chunkID]))
	for id := range s.byChunk[chunkID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]common.Entity, 0, len(ids))
	for _, id := range ids {
		if e, ok := s.entities[id]; ok {
			out = append(out, *e)
		}
	}
	return out
}

// Neighbors returns the entities adjacent to id, sorted by id.
func (s *Store) Neighbors(id string) []common.Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id = s.resolveID(id)
	seen := make(map[string]struct{})
	for key := range s.relationships {
		if key.a == id {
			seen[key.b] = struct{}{}
		} else if key.b == id {
			seen[key.a] = struct{}{}
		}
	}

	ids := make([]string, 0, len(seen))
	for nid := range seen {
		ids = append(ids, nid)
	}
	sort.Strings(ids)

	out := make([]common.Entity, 0, len(ids))
	for _, nid := range ids {
		out = append(out, *s.entities[nid])
	}
	return out
}

// Subgraph performs a bounded breadth-first expansion up to hops from the
// seed set and returns the covered entities plus every relationship whose
// endpoints both lie inside the expansion.
func (s *Store) Subgraph(seedIDs []string, hops int) ([]common.Entity, []common.Relationship) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	frontier := make([]string, 0, len(seedIDs))
	visited := make(map[string]struct{})
	for _, id := range seedIDs {
		id = s.resolveID(id)
		if _, ok := s.entities[id]; !ok {
			continue
		}
		if _, ok := visited[id]; ok {
			continue
		}
		visited[id] = struct{}{}
		frontier = append(frontier, id)
	}

	for hop := 0; hop < hops && len(frontier) > 0; hop++ {
		var next []string
		for _, id := range frontier {
			for key := range s.relationships {
				var other string
				switch id {
				case key.a:
					other = key.b
				case key.b:
					other = key.a
				default:
					continue
				}
				if _, ok := visited[other]; !ok {
					visited[other] = struct{}{}
					next = append(next, other)
				}
			}
		}
		frontier = next
	}

	ids := make([]string, 0, len(visited))
	for id := range visited {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	entities := make([]common.Entity, 0, len(ids))
	for _, id := range ids {
		entities = append(entities, *s.entities[id])
	}

	var relationships []common.Relationship
	for key, rel := range s.relationships {
		if _, ok := visited[key.a]; !ok {
			continue
		}
		if _, ok := visited[key.b]; !ok {
			continue
		}
		relationships = append(relationships, *rel)
	}
	sort.Slice(relationships, func(i, j int) bool {
		if relationships[i].SourceID != relationships[j].SourceID {
			return relationships[i].SourceID < relationships[j].SourceID
		}
		if relationships[i].TargetID != relationships[j].TargetID {
			return relationships[i].TargetID < relationships[j].TargetID
		}
		return relationships[i].RelType < relationships[j].RelType
	})

	return entities, relationships
}

// MergeEntities folds loserID into survivorID: aliases, chunk provenance and
// descriptions are unioned on the survivor, edges are rewired (edges that
// would become self-loops are dropped), and the loser id is recorded in the
// remap table so stale references keep resolving. The merge commits
// atomically under the writer lock.
func (s *Store) MergeEntities(loserID, survivorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	loserID = s.resolveID(loserID)
	survivorID = s.resolveID(survivorID)
	if loserID == survivorID {
		return nil
	}

	loser, ok := s.entities[loserID]
	if !ok {
		return &InvariantViolation{Op: "merge_entities", Detail: fmt.Sprintf("missing entity %s", loserID)}
	}
	survivor, ok := s.entities[survivorID]
	if !ok {
		return &InvariantViolation{Op: "merge_entities", Detail: fmt.Sprintf("missing entity %s", survivorID)}
	}

	// Union aliases: the loser's canonical name becomes an alias.
	for _, alias := range append([]string{loser.Name}, loser.Aliases...) {
		if NormalizeName(alias) == NormalizeName(survivor.Name) {
			continue
		}
		found := false
		for _, existing := range survivor.Aliases {
			if NormalizeName(existing) == NormalizeName(alias) {
				found = true
				break
			}
		}
		if !found {
			survivor.Aliases = append(survivor.Aliases, alias)
		}
	}

	for _, c := range loser.Chunks {
		if !slices.Contains(survivor.Chunks, c) {
			survivor.Chunks = append(survivor.Chunks, c)
		}
		delete(s.byChunk[c], loserID)
		s.indexChunk(c, survivorID)
	}

	if loser.Description != "" && !strings.Contains(survivor.Description, loser.Description) {
		if survivor.Description != "" {
			survivor.Description += "\n"
		}
		survivor.Description += loser.Description
	}

	// Rewire edges incident to the loser.
	for key, rel := range s.relationships {
		if key.a != loserID && key.b != loserID {
			continue
		}
		delete(s.relationships, key)
		if rel.SourceID == loserID {
			rel.SourceID = survivorID
		}
		if rel.TargetID == loserID {
			rel.TargetID = survivorID
		}
		if rel.SourceID == rel.TargetID {
			// Merge collapsed this edge into a self-loop; drop it.
			continue
		}
		newKey := newEdgeKey(rel.SourceID, rel.TargetID, rel.RelType)
		if existing, ok := s.relationships[newKey]; ok {
			existing.Weight += rel.Weight
			for _, c := range rel.Chunks {
				if !slices.Contains(existing.Chunks, c) {
					existing.Chunks = append(existing.Chunks, c)
				}
			}
			if rel.Description != "" && !strings.Contains(existing.Description, rel.Description) {
				if existing.Description != "" {
					existing.Description += "\n"
				}
				existing.Description += rel.Description
			}
		} else {
			s.relationships[newKey] = rel
		}
	}

	delete(s.entities, loserID)
	delete(s.byName, nameKey(loser.Name, loser.Type))

	// Collapse remap chains so old ids resolve in one hop.
	s.remap[loserID] = survivorID
	for old, surviving := range s.remap {
		if surviving == loserID {
			s.remap[old] = survivorID
		}
	}

	s.recomputeDegrees()
	s.generation++
	return nil
}

// Entities returns a snapshot of all entities, sorted by id.
func (s *Store) Entities() []common.Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]common.Entity, 0, len(s.entities))
	for _, e := range s.entities {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Relationships returns a snapshot of all relationships, sorted by
// endpoints and relation type.
func (s *Store) Relationships() []common.Relationship {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]common.Relationship, 0, len(s.relationships))
	for _, rel := range s.relationships {
		out = append(out, *rel)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SourceID != out[j].SourceID {
			return out[i].SourceID < out[j].SourceID
		}
		if out[i].TargetID != out[j].TargetID {
			return out[i].TargetID < out[j].TargetID
		}
		return out[i].RelType < out[j].RelType
	})
	return out
}

// Snapshot returns a point-in-time copy of the whole graph and the
// generation it corresponds to. Community detection reads the graph through
// Snapshot so mutation never interleaves with a detection run.
func (s *Store) Snapshot() ([]common.Entity, []common.Relationship, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entities := make([]common.Entity, 0, len(s.entities))
	for _, e := range s.entities {
		entities = append(entities, *e)
	}
	sort.Slice(entities, func(i, j int) bool { return entities[i].ID < entities[j].ID })

	relationships := make([]common.Relationship, 0, len(s.relationships))
	for _, rel := range s.relationships {
		relationships = append(relationships, *rel)
	}
	sort.Slice(relationships, func(i, j int) bool {
		if relationships[i].SourceID != relationships[j].SourceID {
			return relationships[i].SourceID < relationships[j].SourceID
		}
		if relationships[i].TargetID != relationships[j].TargetID {
			return relationships[i].TargetID < relationships[j].TargetID
		}
		return relationships[i].RelType < relationships[j].RelType
	})

	return entities, relationships, s.generation
}

func (s *Store) indexChunk(chunkID, entityID string) {
	if s.byChunk[chunkID] == nil {
		s.byChunk[chunkID] = make(map[string]struct{})
	}
	s.byChunk[chunkID][entityID] = struct{}{}
}

func (s *Store) recomputeDegrees() {
	for _, e := range s.entities {
		e.Degree = 0
	}
	for key := range s.relationships {
		s.entities[key.a].Degree++
		s.entities[key.b].Degree++
	}
}
