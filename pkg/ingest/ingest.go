package ingest

import (
	"context"
	"errors"
	"runtime"
	"sort"
	"sync"

	"github.com/OFFIS-RIT/forge/pkg/chunk"
	"github.com/OFFIS-RIT/forge/pkg/common"
	"github.com/OFFIS-RIT/forge/pkg/extract"
	"github.com/OFFIS-RIT/forge/pkg/graph"
	"github.com/OFFIS-RIT/forge/pkg/logger"

	"golang.org/x/sync/errgroup"
)

// Stats reports the outcome of one ingestion run.
type Stats struct {
	ChunksProcessed   int
	ChunksQuarantined int
	EntitiesCreated   int
	EntitiesMerged    int
	RelationsApplied  int
	RelationsDropped  int
	DuplicatesMerged  int
}

// Pipeline drives the corpus through extraction into the graph. Extraction
// runs on a bounded worker pool; all graph mutation happens on a single
// merger goroutine, so the resolver stays the only writer of the store.
type Pipeline struct {
	source    chunk.Source
	extractor *extract.Extractor
	resolver  *graph.Resolver
	workers   int

	chunkMu sync.Mutex
	chunks  []common.Chunk
}

// NewPipelineParams configures a Pipeline. Workers bounds the number of
// concurrent extractions (default runtime.NumCPU()).
type NewPipelineParams struct {
	Source    chunk.Source
	Extractor *extract.Extractor
	Resolver  *graph.Resolver
	Workers   int
}

// NewPipeline creates a Pipeline.
func NewPipeline(params NewPipelineParams) *Pipeline {
	workers := params.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Pipeline{
		source:    params.Source,
		extractor: params.Extractor,
		resolver:  params.Resolver,
		workers:   workers,
	}
}

func (p *Pipeline) recordChunk(c common.Chunk) {
	p.chunkMu.Lock()
	p.chunks = append(p.chunks, c)
	p.chunkMu.Unlock()
}

// Chunks returns every chunk seen during the last run, quarantined ones
// included, sorted by id.
func (p *Pipeline) Chunks() []common.Chunk {
	p.chunkMu.Lock()
	defer p.chunkMu.Unlock()

	out := make([]common.Chunk, len(p.chunks))
	copy(out, p.chunks)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// extraction carries one chunk's extraction output to the merger.
type extraction struct {
	chunk     common.Chunk
	mentions  []common.EntityMention
	relations []common.RelationshipMention
}

// Run processes the whole source. Chunks whose extraction output never
// parses are quarantined and skipped; backend failures abort the run. A
// rerun over the same source yields the same chunk ids, so interrupted runs
// can be repeated safely. After the last chunk a duplicate sweep merges
// cross-batch duplicates.
func (p *Pipeline) Run(ctx context.Context) (Stats, error) {
	var stats Stats
	var statsMu sync.Mutex

	p.chunkMu.Lock()
	p.chunks = nil
	p.chunkMu.Unlock()

	chunks := make(chan common.Chunk)
	results := make(chan extraction)

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		defer close(chunks)
		return p.source.Chunks(ctx, func(c common.Chunk) error {
			select {
			case chunks <- c:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	})

	var workerGroup errgroup.Group
	workerGroup.SetLimit(p.workers)
	workersDone := make(chan struct{})

	group.Go(func() error {
		for c := range chunks {
			c := c
			workerGroup.Go(func() error {
				mentions, relations, err := p.extractor.Extract(ctx, c)
				if err != nil {
					var parseErr *extract.ParseError
					if errors.As(err, &parseErr) {
						c.Quarantined = true
						logger.Warn("Quarantined chunk", "chunk", c.ID, "err", parseErr)
						p.recordChunk(c)
						statsMu.Lock()
						stats.ChunksQuarantined++
						statsMu.Unlock()
						return nil
					}
					return err
				}
				p.recordChunk(c)

				select {
				case results <- extraction{chunk: c, mentions: mentions, relations: relations}:
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			})
		}
		err := workerGroup.Wait()
		close(workersDone)
		return err
	})

	group.Go(func() error {
		for {
			select {
			case res := <-results:
				batch, err := p.resolver.ResolveBatch(ctx, res.mentions, res.relations)
				if err != nil {
					return err
				}
				statsMu.Lock()
				stats.ChunksProcessed++
				stats.EntitiesCreated += batch.EntitiesCreated
				stats.EntitiesMerged += batch.EntitiesMerged
				stats.RelationsApplied += batch.RelationsApplied
				stats.RelationsDropped += batch.RelationsDropped
				statsMu.Unlock()
			case <-workersDone:
				// Drain anything still buffered between the last worker
				// finishing and the done signal.
				for {
					select {
					case res := <-results:
						batch, err := p.resolver.ResolveBatch(ctx, res.mentions, res.relations)
						if err != nil {
							return err
						}
						statsMu.Lock()
						stats.ChunksProcessed++
						stats.EntitiesCreated += batch.EntitiesCreated
						stats.EntitiesMerged += batch.EntitiesMerged
						stats.RelationsApplied += batch.RelationsApplied
						stats.RelationsDropped += batch.RelationsDropped
						statsMu.Unlock()
					default:
						return nil
					}
				}
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})

	if err := group.Wait(); err != nil {
		return stats, err
	}

	merged, err := p.resolver.MergeDuplicates(ctx)
	if err != nil {
		return stats, err
	}
	stats.DuplicatesMerged = merged

	logger.Info(
		"Ingestion complete",
		"chunks", stats.ChunksProcessed,
		"quarantined", stats.ChunksQuarantined,
		"entities_created", stats.EntitiesCreated,
		"duplicates_merged", stats.DuplicatesMerged,
	)
	return stats, nil
}
