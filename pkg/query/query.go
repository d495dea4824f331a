package query

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/OFFIS-RIT/forge/pkg/ai"
	"github.com/OFFIS-RIT/forge/pkg/common"
	"github.com/OFFIS-RIT/forge/pkg/community"
	"github.com/OFFIS-RIT/forge/pkg/graph"
	"github.com/OFFIS-RIT/forge/pkg/logger"
)

// Mode selects the retrieval strategy for a question.
type Mode string

const (
	// ModeLocal retrieves a subgraph around the entities the question
	// names and answers from their descriptions and source passages.
	ModeLocal Mode = "local"
	// ModeGlobal answers from community reports, suited to questions about
	// corpus-wide themes.
	ModeGlobal Mode = "global"
	// ModeHybrid combines local and global evidence.
	ModeHybrid Mode = "hybrid"
)

// ParseMode validates a mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeLocal:
		return ModeLocal, nil
	case ModeGlobal:
		return ModeGlobal, nil
	case ModeHybrid:
		return ModeHybrid, nil
	default:
		return "", fmt.Errorf("unknown query mode %q (want local, global or hybrid)", s)
	}
}

// Citation points at a piece of evidence the answer used: a source chunk or
// a community report.
type Citation struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

// Result is a cited answer. Generation records the graph version the
// evidence was read from.
type Result struct {
	Question   string     `json:"question"`
	Mode       Mode       `json:"mode"`
	Answer     string     `json:"answer"`
	Citations  []Citation `json:"citations,omitempty"`
	Generation uint64     `json:"generation"`
}

// Engine answers questions over the graph. Evidence retrieval is
// deterministic for a fixed graph generation; only the completion step is
// model-dependent.
type Engine struct {
	store     *graph.Store
	community *community.Engine
	chunks    map[string]common.Chunk
	client    ai.CompletionClient

	hops           int
	maxSeeds       int
	maxChunks      int
	topCommunities int
}

// NewEngineParams configures a query Engine. Hops bounds local subgraph
// expansion (default 2), MaxSeeds the number of seed entities (default 5),
// MaxChunks the source passages quoted as evidence (default 12),
// TopCommunities the community reports used in global mode (default 8).
type NewEngineParams struct {
	Store     *graph.Store
	Community *community.Engine
	Chunks    []common.Chunk
	Client    ai.CompletionClient

	Hops           int
	MaxSeeds       int
	MaxChunks      int
	TopCommunities int
}

// NewEngine creates a query Engine.
func NewEngine(params NewEngineParams) *Engine {
	chunkByID := make(map[string]common.Chunk, len(params.Chunks))
	for _, c := range params.Chunks {
		chunkByID[c.ID] = c
	}

	hops := params.Hops
	if hops <= 0 {
		hops = 2
	}
	maxSeeds := params.MaxSeeds
	if maxSeeds <= 0 {
		maxSeeds = 5
	}
	maxChunks := params.MaxChunks
	if maxChunks <= 0 {
		maxChunks = 12
	}
	topCommunities := params.TopCommunities
	if topCommunities <= 0 {
		topCommunities = 8
	}

	return &Engine{
		store:          params.Store,
		community:      params.Community,
		chunks:         chunkByID,
		client:         params.Client,
		hops:           hops,
		maxSeeds:       maxSeeds,
		maxChunks:      maxChunks,
		topCommunities: topCommunities,
	}
}

// Answer retrieves evidence for the question in the given mode and generates
// a cited answer. When the completion backend times out the engine retries
// once with half the evidence; a second timeout surfaces ai.ErrTimeout.
func (e *Engine) Answer(ctx context.Context, question string, mode Mode) (Result, error) {
	generation := e.store.Generation()

	var evidence []string
	switch mode {
	case ModeLocal:
		evidence = e.localEvidence(question)
	case ModeGlobal:
		evidence = e.globalEvidence(question)
	case ModeHybrid:
		evidence = e.hybridEvidence(question)
	default:
		return Result{}, fmt.Errorf("unknown query mode %q", mode)
	}

	answer, err := e.complete(ctx, question, evidence)
	if err != nil {
		return Result{}, err
	}

	return Result{
		Question:   question,
		Mode:       mode,
		Answer:     answer,
		Citations:  extractCitations(answer),
		Generation: generation,
	}, nil
}

func (e *Engine) complete(ctx context.Context, question string, evidence []string) (string, error) {
	if len(evidence) == 0 {
		logger.Debug("No evidence retrieved", "question", question)
		return e.client.GenerateCompletion(ctx, fmt.Sprintf(ai.NoDataPrompt, question))
	}

	answer, err := e.generate(ctx, question, evidence)
	if err == nil {
		return answer, nil
	}
	if !errors.Is(err, ai.ErrTimeout) {
		return "", err
	}

	// One retry with half the evidence before giving up.
	halved := evidence[:(len(evidence)+1)/2]
	logger.Warn("Completion timed out, retrying with reduced context", "kept", len(halved), "dropped", len(evidence)-len(halved))
	answer, err = e.generate(ctx, question, halved)
	if err != nil {
		return "", fmt.Errorf("retrieval timed out after reduced-context retry: %w", err)
	}
	return answer, nil
}

func (e *Engine) generate(ctx context.Context, question string, evidence []string) (string, error) {
	system := fmt.Sprintf(ai.QueryPrompt, strings.Join(evidence, "\n\n"))
	answer, err := e.client.GenerateCompletion(ctx, question, ai.WithSystemPrompts(system))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(answer), nil
}

var citationRe = regexp.MustCompile(`\[(chunk|community):([^\]\s]+)\]`)

// extractCitations pulls the evidence markers the model repeated in its
// answer, deduplicated in order of first appearance.
func extractCitations(answer string) []Citation {
	var citations []Citation
	seen := make(map[Citation]struct{})
	for _, m := range citationRe.FindAllStringSubmatch(answer, -1) {
		c := Citation{Kind: m[1], ID: m[2]}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		citations = append(citations, c)
	}
	return citations
}

// queryTerms tokenizes a question into lowercase scoring terms.
func queryTerms(question string) []string {
	fields := strings.FieldsFunc(strings.ToLower(question), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})

	var terms []string
	for _, f := range fields {
		if len(f) < 3 || stopwords[f] {
			continue
		}
		terms = append(terms, f)
	}
	return terms
}

// scoreText counts how many query terms occur in the text.
func scoreText(terms []string, text string) float64 {
	lower := strings.ToLower(text)
	score := 0.0
	for _, t := range terms {
		if strings.Contains(lower, t) {
			score++
		}
	}
	return score
}

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "was": true,
	"what": true, "which": true, "who": true, "whom": true, "how": true,
	"why": true, "when": true, "where": true, "does": true, "did": true,
	"has": true, "have": true, "had": true, "about": true,
	"with": true, "from": true, "that": true, "this": true, "these": true,
	"those": true, "their": true, "there": true, "between": true,
}
