package graph

import (
	"context"
	"sort"
	"testing"

	"github.com/OFFIS-RIT/forge/pkg/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestResolver(t *testing.T) (*Resolver, *Store) {
	t.Helper()
	store := NewStore()
	r, err := NewResolver(NewResolverParams{Store: store})
	require.NoError(t, err)
	return r, store
}

func TestResolveBatch_MergesFuzzyDuplicates(t *testing.T) {
	r, store := newTestResolver(t)

	mentions := []common.EntityMention{
		{ChunkID: "c1", Name: "MARIE CURIE", Type: "PERSON", Description: "Pioneer of radioactivity research."},
		{ChunkID: "c2", Name: "MARIE CURRIE", Type: "PERSON", Description: "Won two Nobel prizes."},
		{ChunkID: "c1", Name: "SORBONNE", Type: "ORGANIZATION", Description: "University in Paris."},
	}

	stats, err := r.ResolveBatch(context.Background(), mentions, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.EntitiesCreated)
	assert.Equal(t, 1, stats.EntitiesMerged)

	entities := store.Entities()
	require.Len(t, entities, 2)

	curie, ok := store.LookupByName("MARIE CURIE", "PERSON")
	require.True(t, ok)
	assert.Contains(t, curie.Aliases, "MARIE CURRIE")
	assert.ElementsMatch(t, []string{"c1", "c2"}, curie.Chunks)
	assert.Contains(t, curie.Description, "radioactivity")
	assert.Contains(t, curie.Description, "Nobel")
}

func TestResolveBatch_MergesAbbreviatedNames(t *testing.T) {
	r, store := newTestResolver(t)

	mentions := []common.EntityMention{
		{ChunkID: "c1", Name: "MARIE CURIE", Type: "PERSON", Description: "Physicist who researched radioactivity."},
		{ChunkID: "c2", Name: "M. CURIE", Type: "PERSON", Description: "Physicist who researched radioactivity."},
	}

	_, err := r.ResolveBatch(context.Background(), mentions, nil)
	require.NoError(t, err)

	entities := store.Entities()
	require.Len(t, entities, 1)
	forms := append([]string{entities[0].Name}, entities[0].Aliases...)
	assert.ElementsMatch(t, []string{"MARIE CURIE", "M. CURIE"}, forms)
	assert.ElementsMatch(t, []string{"c1", "c2"}, entities[0].Chunks)
}

func TestResolveBatch_DropsUnresolvableRelations(t *testing.T) {
	r, store := newTestResolver(t)

	mentions := []common.EntityMention{
		{ChunkID: "c1", Name: "MARIE CURIE", Type: "PERSON"},
		{ChunkID: "c1", Name: "SORBONNE", Type: "ORGANIZATION"},
	}
	relations := []common.RelationshipMention{
		{ChunkID: "c1", Source: "MARIE CURIE", Target: "SORBONNE", RelType: "TAUGHT_AT", Strength: 0.9},
		{ChunkID: "c1", Source: "MARIE CURIE", Target: "NIKOLA TESLA", RelType: "KNOWS", Strength: 0.5},
	}

	stats, err := r.ResolveBatch(context.Background(), mentions, relations)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.RelationsApplied)
	assert.Equal(t, 1, stats.RelationsDropped)

	rels := store.Relationships()
	require.Len(t, rels, 1)
	assert.Equal(t, "TAUGHT_AT", rels[0].RelType)
	assert.InDelta(t, 0.9, rels[0].Weight, 1e-9)
}

func TestResolveBatch_RelationEndpointsResolveThroughAliases(t *testing.T) {
	r, store := newTestResolver(t)

	mentions := []common.EntityMention{
		{ChunkID: "c1", Name: "MARIE CURIE", Type: "PERSON"},
		{ChunkID: "c2", Name: "MARIE CURRIE", Type: "PERSON"},
		{ChunkID: "c2", Name: "SORBONNE", Type: "ORGANIZATION"},
	}
	relations := []common.RelationshipMention{
		// Endpoint uses the alias surface form, not the canonical name.
		{ChunkID: "c2", Source: "MARIE CURRIE", Target: "SORBONNE", RelType: "TAUGHT_AT", Strength: 1},
	}

	stats, err := r.ResolveBatch(context.Background(), mentions, relations)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.RelationsApplied)
	assert.Zero(t, stats.RelationsDropped)
	require.Len(t, store.Relationships(), 1)
}

func TestResolveBatch_OrderIndependent(t *testing.T) {
	mentions := []common.EntityMention{
		{ChunkID: "c1", Name: "ALPHA CORP", Type: "ORGANIZATION", Description: "d1"},
		{ChunkID: "c2", Name: "BETA LABS", Type: "ORGANIZATION", Description: "d2"},
		{ChunkID: "c3", Name: "ALPHA CORP", Type: "ORGANIZATION", Description: "d3"},
	}
	reversed := []common.EntityMention{mentions[2], mentions[1], mentions[0]}

	run := func(batch []common.EntityMention) []common.Entity {
		r, store := newTestResolver(t)
		_, err := r.ResolveBatch(context.Background(), batch, nil)
		require.NoError(t, err)
		return store.Entities()
	}

	first := run(mentions)
	second := run(reversed)
	require.Len(t, first, 2)
	require.Len(t, second, 2)

	summary := func(entities []common.Entity) []string {
		var out []string
		for _, e := range entities {
			chunks := append([]string(nil), e.Chunks...)
			sort.Strings(chunks)
			out = append(out, e.Name+"|"+e.Description+"|"+joinSorted(chunks))
		}
		sort.Strings(out)
		return out
	}
	assert.Equal(t, summary(first), summary(second))
}

func joinSorted(parts []string) string {
	out := ""
	for _, p := range parts {
		out += p + ","
	}
	return out
}

func TestMergeDuplicates_SweepsCrossBatchPairs(t *testing.T) {
	r, store := newTestResolver(t)

	require.NoError(t, store.UpsertEntity(common.Entity{ID: "id-a", Name: "JOHNATHAN SMITH", Type: "PERSON", Chunks: []string{"c1"}}))
	require.NoError(t, store.UpsertEntity(common.Entity{ID: "id-b", Name: "JONATHAN SMITH", Type: "PERSON", Chunks: []string{"c2"}}))
	require.NoError(t, store.UpsertEntity(common.Entity{ID: "id-c", Name: "JOHNATHAN SMITH", Type: "ORGANIZATION"}))

	merged, err := r.MergeDuplicates(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, merged, "different types must not merge")

	entities := store.Entities()
	require.Len(t, entities, 2)

	survivor, ok := store.Entity("id-a")
	require.True(t, ok)
	assert.Contains(t, survivor.Aliases, "JONATHAN SMITH")
	assert.ElementsMatch(t, []string{"c1", "c2"}, survivor.Chunks)
}

func TestSimilarity(t *testing.T) {
	tests := []struct {
		a, b string
		min  float64
		max  float64
	}{
		{"MARIE CURIE", "MARIE CURIE", 1, 1},
		{"MARIE CURIE", "MARIE CURRIE", 0.90, 0.95},
		{"MARIE CURIE", "NIKOLA TESLA", 0, 0.4},
		{"", "", 1, 1},
	}
	for _, tt := range tests {
		got := similarity(tt.a, tt.b)
		if got < tt.min || got > tt.max {
			t.Errorf("similarity(%q, %q) = %v, want within [%v, %v]", tt.a, tt.b, got, tt.min, tt.max)
		}
	}
}
