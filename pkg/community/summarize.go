package community

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/OFFIS-RIT/forge/pkg/ai"
	"github.com/OFFIS-RIT/forge/pkg/common"
)

// Summarizer writes community reports bottom-up: finest-level communities
// are summarized from their member entities and relationships, every level
// above from the reports of its children. Parent reports therefore never see
// raw source text, only child reports.
type Summarizer struct {
	client   ai.CompletionClient
	maxWords int
}

// NewSummarizerParams configures a Summarizer. MaxWords bounds the length
// of a single report (default 300).
type NewSummarizerParams struct {
	Client   ai.CompletionClient
	MaxWords int
}

// NewSummarizer creates a Summarizer.
func NewSummarizer(params NewSummarizerParams) *Summarizer {
	maxWords := params.MaxWords
	if maxWords <= 0 {
		maxWords = 300
	}
	return &Summarizer{client: params.Client, maxWords: maxWords}
}

// Summarize fills in the Summary of every community in the hierarchy,
// bottom-up. Levels are processed strictly in order since parent reports
// depend on child reports.
func (s *Summarizer) Summarize(ctx context.Context, h *Hierarchy, entities []common.Entity, relationships []common.Relationship) error {
	entityByID := make(map[string]common.Entity, len(entities))
	for _, e := range entities {
		entityByID[e.ID] = e
	}

	for level := range h.Levels {
		for i := range h.Levels[level] {
			c := &h.Levels[level][i]

			var summary string
			var err error
			if level == 0 {
				summary, err = s.summarizeLeaf(ctx, c, entityByID, relationships)
			} else {
				summary, err = s.summarizeParent(ctx, c, h.Levels[level-1])
			}
			if err != nil {
				return fmt.Errorf("failed to summarize community %s: %w", c.ID, err)
			}
			c.Summary = summary
		}
	}

	return nil
}

func (s *Summarizer) summarizeLeaf(ctx context.Context, c *common.Community, entityByID map[string]common.Entity, relationships []common.Relationship) (string, error) {
	members := make(map[string]struct{}, len(c.Members))
	var entityLines []string
	for _, id := range c.Members {
		members[id] = struct{}{}
		e, ok := entityByID[id]
		if !ok {
			continue
		}
		entityLines = append(entityLines, fmt.Sprintf("- %s (%s): %s", e.Name, e.Type, firstLine(e.Description)))
	}

	// Internal edges only, heaviest first.
	var internal []common.Relationship
	for _, rel := range relationships {
		if _, ok := members[rel.SourceID]; !ok {
			continue
		}
		if _, ok := members[rel.TargetID]; !ok {
			continue
		}
		internal = append(internal, rel)
	}
	sort.Slice(internal, func(i, j int) bool {
		if internal[i].Weight != internal[j].Weight {
			return internal[i].Weight > internal[j].Weight
		}
		if internal[i].SourceID != internal[j].SourceID {
			return internal[i].SourceID < internal[j].SourceID
		}
		return internal[i].TargetID < internal[j].TargetID
	})

	var relationLines []string
	for _, rel := range internal {
		source := entityByID[rel.SourceID]
		target := entityByID[rel.TargetID]
		relationLines = append(relationLines, fmt.Sprintf("- %s %s %s (weight %.2f): %s",
			source.Name, rel.RelType, target.Name, rel.Weight, firstLine(rel.Description)))
	}
	if len(relationLines) == 0 {
		relationLines = []string{"(none)"}
	}

	prompt := fmt.Sprintf(ai.CommunityLeafPrompt, strings.Join(entityLines, "\n"), strings.Join(relationLines, "\n"), s.maxWords)
	summary, err := s.client.GenerateCompletion(ctx, prompt)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(summary), nil
}

func (s *Summarizer) summarizeParent(ctx context.Context, c *common.Community, children []common.Community) (string, error) {
	var reports []string
	for _, child := range children {
		if child.Parent != c.ID {
			continue
		}
		reports = append(reports, fmt.Sprintf("## Report of %s\n%s", child.ID, child.Summary))
	}
	if len(reports) == 0 {
		return "", fmt.Errorf("community %s has no children with reports", c.ID)
	}

	prompt := fmt.Sprintf(ai.CommunityParentPrompt, strings.Join(reports, "\n\n"), s.maxWords)
	summary, err := s.client.GenerateCompletion(ctx, prompt)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(summary), nil
}

func firstLine(text string) string {
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		return text[:i]
	}
	return text
}
