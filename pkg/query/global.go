package query

import (
	"fmt"
	"sort"

	"github.com/OFFIS-RIT/forge/pkg/common"
)

// globalEvidence answers corpus-level questions from community reports. All
// hierarchy levels compete on term overlap; higher levels win ties because
// their reports cover broader themes.
func (e *Engine) globalEvidence(question string) []string {
	if e.community == nil {
		return nil
	}
	hierarchy := e.community.Current()
	if hierarchy == nil {
		return nil
	}

	terms := queryTerms(question)

	type scored struct {
		community common.Community
		score     float64
	}
	var candidates []scored
	for _, c := range hierarchy.Communities() {
		if c.Summary == "" {
			continue
		}
		score := scoreText(terms, c.Summary)
		if score > 0 {
			candidates = append(candidates, scored{community: c, score: score})
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		if candidates[i].community.Level != candidates[j].community.Level {
			return candidates[i].community.Level > candidates[j].community.Level
		}
		return candidates[i].community.ID < candidates[j].community.ID
	})

	if len(candidates) > e.topCommunities {
		candidates = candidates[:e.topCommunities]
	}

	evidence := make([]string, 0, len(candidates))
	for _, c := range candidates {
		evidence = append(evidence, fmt.Sprintf("[community:%s] %s", c.community.ID, c.community.Summary))
	}
	return evidence
}
