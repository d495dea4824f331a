package common

// Chunk is a contiguous passage of source text with stable identity.
// Chunks are the smallest building blocks of the corpus and serve as the
// provenance for entities and relationships. A chunk is immutable once
// created; the Quarantined flag is the only field that changes after
// creation, set when extraction repeatedly fails to parse for this chunk.
type Chunk struct {
	ID          string `json:"id"`
	DocumentID  string `json:"document_id"`
	Text        string `json:"text"`
	Start       int    `json:"start"`
	End         int    `json:"end"`
	Sequence    int    `json:"sequence"`
	Quarantined bool   `json:"quarantined,omitempty"`
}

// EntityMention is a raw, unresolved entity extracted from a single chunk.
// Mentions are transient: they are produced by the extractor and consumed
// by the resolver, never persisted standalone.
type EntityMention struct {
	ChunkID     string  `json:"chunk_id"`
	Name        string  `json:"name"`
	Type        string  `json:"type"`
	Description string  `json:"description"`
	Confidence  float64 `json:"confidence"`
}

// RelationshipMention is a raw, unresolved relationship between two entity
// surface forms, extracted from a single chunk. Strength is normalized to
// the [0,1] range by the extractor.
type RelationshipMention struct {
	ChunkID     string  `json:"chunk_id"`
	Source      string  `json:"source"`
	Target      string  `json:"target"`
	RelType     string  `json:"rel_type"`
	Description string  `json:"description"`
	Strength    float64 `json:"strength"`
}

// Entity is a canonical node in the graph. An entity can be an organization,
// person, location, or any other relevant concept. It accumulates aliases
// and chunk provenance as mentions are merged into it.
//
// An entity is created on the first unmatched mention and never deleted
// during a session, only merged into another entity.
type Entity struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Aliases     []string `json:"aliases,omitempty"`
	Description string   `json:"description"`
	Chunks      []string `json:"chunks,omitempty"`
	Degree      int      `json:"degree"`
}

// Relationship is a canonical edge between two entities. Edges carry
// undirected-weight semantics: Weight aggregates the strength of every
// mention between the same (source, target, rel type) triple, and parallel
// mentions increment the weight instead of creating duplicate edges.
type Relationship struct {
	SourceID    string   `json:"source_id"`
	TargetID    string   `json:"target_id"`
	RelType     string   `json:"rel_type"`
	Description string   `json:"description"`
	Weight      float64  `json:"weight"`
	Chunks      []string `json:"chunks,omitempty"`
}

// Community is a cluster of entities at a given hierarchy level. Level 0
// covers every entity exactly once; a community at level L+1 groups the
// level-L communities whose Parent points at it.
type Community struct {
	ID      string   `json:"id"`
	Level   int      `json:"level"`
	Members []string `json:"members"`
	Parent  string   `json:"parent,omitempty"`
	Summary string   `json:"summary,omitempty"`
}
