package index

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/OFFIS-RIT/forge/pkg/common"
	"github.com/OFFIS-RIT/forge/pkg/community"
	"github.com/OFFIS-RIT/forge/pkg/graph"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildSnapshot(t *testing.T) *Snapshot {
	t.Helper()

	store := graph.NewStore()
	require.NoError(t, store.UpsertEntity(common.Entity{ID: "e1", Name: "MARIE CURIE", Type: "PERSON", Chunks: []string{"doc:0"}}))
	require.NoError(t, store.UpsertEntity(common.Entity{ID: "e2", Name: "SORBONNE", Type: "ORGANIZATION"}))
	require.NoError(t, store.UpsertRelationship(common.Relationship{
		SourceID: "e1", TargetID: "e2", RelType: "TAUGHT_AT", Weight: 1.5, Chunks: []string{"doc:0"},
	}))
	// Extra update so the generation differs from the row count.
	require.NoError(t, store.UpsertEntity(common.Entity{ID: "e2", Name: "SORBONNE", Type: "ORGANIZATION", Description: "University in Paris.", Degree: 1}))

	chunks := []common.Chunk{
		{ID: "doc:0", DocumentID: "doc", Text: "Marie Curie taught at the Sorbonne.", End: 1},
		{ID: "doc:1", DocumentID: "doc", Text: "garbled", Start: 1, End: 2, Sequence: 1, Quarantined: true},
	}
	hierarchy := &community.Hierarchy{
		Levels: [][]common.Community{{
			{ID: "c0-0", Level: 0, Members: []string{"e1", "e2"}, Summary: "A scientist and her university."},
		}},
	}

	return Capture(store, chunks, hierarchy)
}

func TestSnapshot_RoundTrip(t *testing.T) {
	snapshot := buildSnapshot(t)
	path := filepath.Join(t.TempDir(), "nested", "index.json")

	require.NoError(t, snapshot.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, SnapshotVersion, loaded.Version)
	assert.Equal(t, snapshot.Generation, loaded.Generation)
	assert.Equal(t, snapshot.Chunks, loaded.Chunks)
	assert.Equal(t, snapshot.Entities, loaded.Entities)
	assert.Equal(t, snapshot.Relationships, loaded.Relationships)
	assert.Equal(t, snapshot.Communities, loaded.Communities)
}

func TestSnapshot_RestoreRebuildsStore(t *testing.T) {
	snapshot := buildSnapshot(t)

	store, err := snapshot.Restore()
	require.NoError(t, err)

	// Restoring must not reset the generation to the rebuild's upsert count.
	assert.Equal(t, snapshot.Generation, store.Generation())

	entities := store.Entities()
	require.Len(t, entities, 2)
	assert.Equal(t, 1, entities[0].Degree)

	rels := store.Relationships()
	require.Len(t, rels, 1)
	assert.InDelta(t, 1.5, rels[0].Weight, 1e-9)

	hierarchy := snapshot.Hierarchy()
	require.NotNil(t, hierarchy)
	c, ok := hierarchy.Community("c0-0")
	require.True(t, ok)
	assert.Equal(t, "A scientist and her university.", c.Summary)
}

func TestLoad_RejectsUnknownVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.json")
	data, err := json.Marshal(map[string]any{"version": 99})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err = Load(path)
	assert.ErrorContains(t, err, "version 99")
}

func TestExport_Formats(t *testing.T) {
	snapshot := buildSnapshot(t)

	var graphml bytes.Buffer
	require.NoError(t, snapshot.ExportGraphML(&graphml))
	out := graphml.String()
	assert.Contains(t, out, `<node id="e1">`)
	assert.Contains(t, out, `<data key="rel_type">TAUGHT_AT</data>`)
	assert.Contains(t, out, `edgedefault="undirected"`)

	var jsonOut bytes.Buffer
	require.NoError(t, snapshot.ExportJSON(&jsonOut))
	var doc struct {
		Nodes []map[string]any `json:"nodes"`
		Edges []map[string]any `json:"edges"`
	}
	require.NoError(t, json.Unmarshal(jsonOut.Bytes(), &doc))
	assert.Len(t, doc.Nodes, 2)
	assert.Len(t, doc.Edges, 1)
}
