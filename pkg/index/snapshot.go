package index

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/OFFIS-RIT/forge/pkg/common"
	"github.com/OFFIS-RIT/forge/pkg/community"
	"github.com/OFFIS-RIT/forge/pkg/graph"
)

// SnapshotVersion is the current on-disk snapshot format version. Load
// rejects snapshots written by an incompatible version.
const SnapshotVersion = 1

// Snapshot is the persisted form of a built index: the chunks, the
// canonical graph and the community hierarchy of one graph generation.
type Snapshot struct {
	Version       int                   `json:"version"`
	CreatedAt     time.Time             `json:"created_at"`
	Generation    uint64                `json:"generation"`
	Chunks        []common.Chunk        `json:"chunks"`
	Entities      []common.Entity       `json:"entities"`
	Relationships []common.Relationship `json:"relationships"`
	Communities   []common.Community    `json:"communities,omitempty"`
}

// Capture assembles a snapshot from the live store, chunks and hierarchy.
// The hierarchy may be nil.
func Capture(store *graph.Store, chunks []common.Chunk, hierarchy *community.Hierarchy) *Snapshot {
	entities, relationships, generation := store.Snapshot()

	s := &Snapshot{
		Version:       SnapshotVersion,
		CreatedAt:     time.Now().UTC(),
		Generation:    generation,
		Chunks:        chunks,
		Entities:      entities,
		Relationships: relationships,
	}
	if hierarchy != nil {
		s.Communities = hierarchy.Communities()
	}
	return s
}

// Save writes the snapshot as JSON. The write goes through a temp file and
// rename so a crash never leaves a truncated snapshot behind.
func (s *Snapshot) Save(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to finalize snapshot: %w", err)
	}
	return nil
}

// Load reads and validates a snapshot from disk.
func Load(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	if s.Version != SnapshotVersion {
		return nil, fmt.Errorf("snapshot version %d is not supported (want %d)", s.Version, SnapshotVersion)
	}
	return &s, nil
}

// Restore rebuilds a graph store from the snapshot. Entities load before
// relationships so edge endpoint checks hold.
func (s *Snapshot) Restore() (*graph.Store, error) {
	store := graph.NewStore()
	for _, e := range s.Entities {
		// Degree is rebuilt as relationships load.
		e.Degree = 0
		if err := store.UpsertEntity(e); err != nil {
			return nil, fmt.Errorf("failed to restore entity %s: %w", e.ID, err)
		}
	}
	for _, rel := range s.Relationships {
		if err := store.UpsertRelationship(rel); err != nil {
			return nil, fmt.Errorf("failed to restore relationship %s->%s: %w", rel.SourceID, rel.TargetID, err)
		}
	}
	store.SetGeneration(s.Generation)
	return store, nil
}

// Hierarchy reconstructs the community hierarchy stored in the snapshot, or
// nil when the snapshot carries no communities.
func (s *Snapshot) Hierarchy() *community.Hierarchy {
	if len(s.Communities) == 0 {
		return nil
	}

	maxLevel := 0
	for _, c := range s.Communities {
		if c.Level > maxLevel {
			maxLevel = c.Level
		}
	}

	h := &community.Hierarchy{
		Levels:     make([][]common.Community, maxLevel+1),
		Generation: s.Generation,
	}
	for _, c := range s.Communities {
		h.Levels[c.Level] = append(h.Levels[c.Level], c)
	}
	return h
}
