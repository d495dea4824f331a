package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/OFFIS-RIT/forge/pkg/ai"
	"github.com/OFFIS-RIT/forge/pkg/chunk"
	"github.com/OFFIS-RIT/forge/pkg/common"
	"github.com/OFFIS-RIT/forge/pkg/extract"
	"github.com/OFFIS-RIT/forge/pkg/graph"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sliceSource yields a fixed set of chunks.
type sliceSource struct {
	chunks []common.Chunk
}

func (s *sliceSource) Chunks(ctx context.Context, fn func(common.Chunk) error) error {
	for _, c := range s.chunks {
		if err := fn(c); err != nil {
			return err
		}
	}
	return nil
}

var _ chunk.Source = (*sliceSource)(nil)

// extractionClient maps chunk text prefixes to canned structured responses.
// Texts without a response fail extraction permanently.
type extractionClient struct {
	byText map[string]string
}

func (c *extractionClient) GenerateCompletion(ctx context.Context, prompt string, opts ...ai.GenerateOption) (string, error) {
	return "", errors.New("not used")
}

func (c *extractionClient) GenerateCompletionWithFormat(ctx context.Context, name, description, prompt string, out any, opts ...ai.GenerateOption) error {
	for text, response := range c.byText {
		if strings.HasPrefix(prompt, text) {
			return json.Unmarshal([]byte(response), out)
		}
	}
	return errors.New("model produced no valid output")
}

func (c *extractionClient) ResetMetrics() {}

func (c *extractionClient) GetMetrics() ai.ModelMetrics { return ai.ModelMetrics{} }

func TestRun_BuildsGraphAndQuarantines(t *testing.T) {
	source := &sliceSource{chunks: []common.Chunk{
		{ID: "doc:0", DocumentID: "doc", Text: "curie at sorbonne"},
		{ID: "doc:1", DocumentID: "doc", Text: "curie discovered polonium"},
		{ID: "doc:2", DocumentID: "doc", Text: "garbled passage"},
	}}

	client := &extractionClient{byText: map[string]string{
		"curie at sorbonne": `{
			"entities": [
				{"name": "MARIE CURIE", "type": "PERSON", "description": "Physicist.", "confidence": 1},
				{"name": "SORBONNE", "type": "ORGANIZATION", "description": "University.", "confidence": 1}
			],
			"relationships": [
				{"source": "MARIE CURIE", "target": "SORBONNE", "rel_type": "TAUGHT_AT", "description": "", "strength": 0.9}
			]
		}`,
		"curie discovered polonium": `{
			"entities": [
				{"name": "MARIE CURIE", "type": "PERSON", "description": "Discovered polonium.", "confidence": 1},
				{"name": "POLONIUM", "type": "CONCEPT", "description": "Chemical element.", "confidence": 1}
			],
			"relationships": [
				{"source": "MARIE CURIE", "target": "POLONIUM", "rel_type": "DISCOVERED", "description": "", "strength": 1},
				{"source": "MARIE CURIE", "target": "RADIUM", "rel_type": "DISCOVERED", "description": "", "strength": 1}
			]
		}`,
	}}

	store := graph.NewStore()
	resolver, err := graph.NewResolver(graph.NewResolverParams{Store: store})
	require.NoError(t, err)

	pipeline := NewPipeline(NewPipelineParams{
		Source:    source,
		Extractor: extract.NewExtractor(extract.NewExtractorParams{Client: client}),
		Resolver:  resolver,
		Workers:   2,
	})

	stats, err := pipeline.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, stats.ChunksProcessed)
	assert.Equal(t, 1, stats.ChunksQuarantined)
	assert.Equal(t, 2, stats.RelationsApplied)
	assert.Equal(t, 1, stats.RelationsDropped, "relation to unseen RADIUM must be dropped")

	entities := store.Entities()
	require.Len(t, entities, 3)

	curie, ok := store.LookupByName("MARIE CURIE", "PERSON")
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"doc:0", "doc:1"}, curie.Chunks)

	chunks := pipeline.Chunks()
	require.Len(t, chunks, 3)
	for _, c := range chunks {
		if c.ID == "doc:2" {
			assert.True(t, c.Quarantined)
		} else {
			assert.False(t, c.Quarantined)
		}
	}
}

func TestRun_BackendFailureAborts(t *testing.T) {
	source := &sliceSource{chunks: []common.Chunk{
		{ID: "doc:0", DocumentID: "doc", Text: "anything"},
	}}

	client := &failingClient{err: ai.ErrModelUnavailable}
	store := graph.NewStore()
	resolver, err := graph.NewResolver(graph.NewResolverParams{Store: store})
	require.NoError(t, err)

	pipeline := NewPipeline(NewPipelineParams{
		Source:    source,
		Extractor: extract.NewExtractor(extract.NewExtractorParams{Client: client}),
		Resolver:  resolver,
	})

	_, err = pipeline.Run(context.Background())
	assert.ErrorIs(t, err, ai.ErrModelUnavailable)
}

type failingClient struct {
	err error
}

func (f *failingClient) GenerateCompletion(ctx context.Context, prompt string, opts ...ai.GenerateOption) (string, error) {
	return "", f.err
}

func (f *failingClient) GenerateCompletionWithFormat(ctx context.Context, name, description, prompt string, out any, opts ...ai.GenerateOption) error {
	return f.err
}

func (f *failingClient) ResetMetrics() {}

func (f *failingClient) GetMetrics() ai.ModelMetrics { return ai.ModelMetrics{} }
