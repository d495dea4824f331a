package community

import (
	"context"
	"fmt"
	"sync"

	"github.com/OFFIS-RIT/forge/pkg/common"
	"github.com/OFFIS-RIT/forge/pkg/graph"
	"github.com/OFFIS-RIT/forge/pkg/logger"
)

// DetectionError reports a failed detection or summarization run. The
// previous hierarchy stays in place when a run fails.
type DetectionError struct {
	Stage string
	Err   error
}

func (e *DetectionError) Error() string {
	return fmt.Sprintf("community detection failed during %s: %v", e.Stage, e.Err)
}

func (e *DetectionError) Unwrap() error { return e.Err }

// Hierarchy is the community structure of one graph generation. Levels[0]
// is the finest partition and covers every entity exactly once; deeper
// levels group the communities below them through Parent pointers.
type Hierarchy struct {
	Levels     [][]common.Community
	Generation uint64
}

// Communities returns every community across all levels.
func (h *Hierarchy) Communities() []common.Community {
	var out []common.Community
	for _, level := range h.Levels {
		out = append(out, level...)
	}
	return out
}

// Community returns the community with the given id.
func (h *Hierarchy) Community(id string) (common.Community, bool) {
	for _, level := range h.Levels {
		for _, c := range level {
			if c.ID == id {
				return c, true
			}
		}
	}
	return common.Community{}, false
}

// Engine runs community detection over a graph store and keeps the last
// successful hierarchy. Detection reads a point-in-time snapshot, so it
// never observes a half-applied batch, and the stored hierarchy is only
// replaced after detection and summarization both succeed.
type Engine struct {
	store      *graph.Store
	summarizer *Summarizer
	maxLevels  int

	mu      sync.RWMutex
	current *Hierarchy
}

// NewEngineParams configures an Engine. MaxLevels bounds the hierarchy
// depth (default 4). Summarizer may be nil, in which case communities are
// detected but carry no summaries.
type NewEngineParams struct {
	Store      *graph.Store
	Summarizer *Summarizer
	MaxLevels  int
}

// NewEngine creates an Engine over the given store.
func NewEngine(params NewEngineParams) *Engine {
	maxLevels := params.MaxLevels
	if maxLevels <= 0 {
		maxLevels = 4
	}
	return &Engine{
		store:      params.Store,
		summarizer: params.Summarizer,
		maxLevels:  maxLevels,
	}
}

// Current returns the last successfully built hierarchy, or nil when no run
// has succeeded yet.
func (e *Engine) Current() *Hierarchy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.current
}

// Restore installs a previously built hierarchy, e.g. one loaded from an
// index snapshot.
func (e *Engine) Restore(h *Hierarchy) {
	e.mu.Lock()
	e.current = h
	e.mu.Unlock()
}

// Detect builds a fresh hierarchy from the current graph and replaces the
// stored one on success. On failure the previous hierarchy is kept and a
// *DetectionError is returned.
func (e *Engine) Detect(ctx context.Context) (*Hierarchy, error) {
	entities, relationships, generation := e.store.Snapshot()

	levels := detectLevels(entities, relationships, e.maxLevels)
	hierarchy := buildHierarchy(levels, generation)

	if err := validateCoverage(hierarchy, entities); err != nil {
		return nil, &DetectionError{Stage: "partition", Err: err}
	}

	if e.summarizer != nil && len(hierarchy.Levels) > 0 {
		if err := e.summarizer.Summarize(ctx, hierarchy, entities, relationships); err != nil {
			return nil, &DetectionError{Stage: "summarization", Err: err}
		}
	}

	e.mu.Lock()
	e.current = hierarchy
	e.mu.Unlock()

	logger.Info("Community detection complete", "levels", len(hierarchy.Levels), "generation", generation)
	return hierarchy, nil
}

// buildHierarchy turns raw member groupings into Community values with
// stable ids and Parent pointers. A level-L community's parent is the
// level-L+1 community that contains its members.
func buildHierarchy(levels [][][]string, generation uint64) *Hierarchy {
	h := &Hierarchy{Generation: generation}
	if len(levels) == 0 {
		return h
	}

	// memberOf[level] maps an entity id to the community holding it.
	memberOf := make([]map[string]string, len(levels))

	for level, groups := range levels {
		memberOf[level] = make(map[string]string)
		communities := make([]common.Community, 0, len(groups))
		for i, members := range groups {
			c := common.Community{
				ID:      fmt.Sprintf("c%d-%d", level, i),
				Level:   level,
				Members: members,
			}
			for _, m := range members {
				memberOf[level][m] = c.ID
			}
			communities = append(communities, c)
		}
		h.Levels = append(h.Levels, communities)
	}

	for level := 0; level < len(h.Levels)-1; level++ {
		for i := range h.Levels[level] {
			c := &h.Levels[level][i]
			c.Parent = memberOf[level+1][c.Members[0]]
		}
	}

	return h
}

// validateCoverage checks the level-0 invariant: every entity belongs to
// exactly one finest-level community.
func validateCoverage(h *Hierarchy, entities []common.Entity) error {
	if len(entities) == 0 {
		return nil
	}
	if len(h.Levels) == 0 {
		return fmt.Errorf("no partition produced for %d entities", len(entities))
	}

	seen := make(map[string]int)
	for _, c := range h.Levels[0] {
		for _, m := range c.Members {
			seen[m]++
		}
	}
	for _, e := range entities {
		switch seen[e.ID] {
		case 0:
			return fmt.Errorf("entity %s not covered by the finest partition", e.ID)
		case 1:
		default:
			return fmt.Errorf("entity %s appears in %d finest-level communities", e.ID, seen[e.ID])
		}
	}
	return nil
}
