package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/forge/pkg/ai"
	"github.com/OFFIS-RIT/forge/pkg/common"
)

// DefaultEntityTypes is the entity type vocabulary offered to the model when
// the caller does not supply its own.
var DefaultEntityTypes = []string{
	"ORGANIZATION", "PERSON", "LOCATION", "CONCEPT", "CREATIVE_WORK", "DATE", "PRODUCT", "EVENT",
}

// ParseError reports that the model output for a chunk could not be parsed
// against the extraction schema, after the configured number of repair
// attempts. Callers quarantine the chunk instead of aborting the run.
type ParseError struct {
	ChunkID  string
	Attempts int
	Err      error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("extraction output unparseable for chunk %s after %d attempts: %v", e.ChunkID, e.Attempts, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

type extractEntity struct {
	Name        string  `json:"name" jsonschema_description:"Name of the entity, all letters capitalized"`
	Type        string  `json:"type" jsonschema_description:"One of the provided entity types"`
	Description string  `json:"description" jsonschema_description:"Comprehensive description of the entity's attributes, activities and information provided by the source."`
	Confidence  float64 `json:"confidence" jsonschema_description:"Certainty that this is a distinct real-world entity, between 0 and 1"`
}

type extractRelationship struct {
	Source      string  `json:"source" jsonschema_description:"Name of the source entity, as identified above"`
	Target      string  `json:"target" jsonschema_description:"Name of the target entity, as identified above"`
	RelType     string  `json:"rel_type" jsonschema_description:"Short UPPER_SNAKE_CASE label for the relation"`
	Description string  `json:"description" jsonschema_description:"Explanation as to why the source and target entity are related"`
	Strength    float64 `json:"strength" jsonschema_description:"Numeric score between 0 and 1 indicating strength of the relationship"`
}

type extractResponse struct {
	Entities      []extractEntity       `json:"entities" jsonschema_description:"Entities identified in the text passage"`
	Relationships []extractRelationship `json:"relationships" jsonschema_description:"Relationships identified in the text passage"`
}

// Extractor turns chunks into candidate entity and relationship mentions by
// structured prompting against the completion service.
type Extractor struct {
	client         ai.CompletionClient
	entityTypes    []string
	repairAttempts int
}

// NewExtractorParams configures an Extractor. RepairAttempts is the number
// of re-prompts (with the parse error appended) after a failed parse;
// default 2.
type NewExtractorParams struct {
	Client         ai.CompletionClient
	EntityTypes    []string
	RepairAttempts int
}

// NewExtractor creates an Extractor.
func NewExtractor(params NewExtractorParams) *Extractor {
	types := params.EntityTypes
	if len(types) == 0 {
		types = DefaultEntityTypes
	}
	attempts := params.RepairAttempts
	if attempts <= 0 {
		attempts = 2
	}
	return &Extractor{
		client:         params.Client,
		entityTypes:    types,
		repairAttempts: attempts,
	}
}

// Extract produces entity and relationship mentions for one chunk. A
// *ParseError means the model output never satisfied the schema; backend
// errors (ai.ErrModelUnavailable, ai.ErrTimeout, cancellation) pass through
// unchanged. Extraction is idempotent given identical chunk text and
// identical completion output.
func (e *Extractor) Extract(ctx context.Context, c common.Chunk) ([]common.EntityMention, []common.RelationshipMention, error) {
	typeList := strings.Join(e.entityTypes, ",")
	systemPrompt := fmt.Sprintf(ai.ExtractPrompt, typeList, c.DocumentID, typeList)

	prompt := c.Text
	var lastErr error
	for attempt := 0; attempt <= e.repairAttempts; attempt++ {
		var res extractResponse
		err := e.client.GenerateCompletionWithFormat(
			ctx,
			"extract_entities_and_relationships",
			"Extract entities and relationships from a provided text passage.",
			prompt,
			&res,
			ai.WithSystemPrompts(systemPrompt),
		)
		if err != nil {
			if errors.Is(err, ai.ErrModelUnavailable) || errors.Is(err, ai.ErrTimeout) || errors.Is(err, context.Canceled) {
				return nil, nil, err
			}
			lastErr = err
		} else if err = validateResponse(&res); err != nil {
			lastErr = err
		} else {
			mentions, relations := toMentions(&res, c.ID)
			return mentions, relations, nil
		}

		prompt = c.Text + fmt.Sprintf(ai.RepairSuffix, lastErr.Error())
	}

	return nil, nil, &ParseError{ChunkID: c.ID, Attempts: e.repairAttempts + 1, Err: lastErr}
}

// validateResponse enforces the parts of the schema that JSON decoding alone
// does not: mentions with missing names or types are rejected rather than
// silently coerced.
func validateResponse(res *extractResponse) error {
	for i, ent := range res.Entities {
		if strings.TrimSpace(ent.Name) == "" {
			return fmt.Errorf("entity %d has an empty name", i)
		}
		if strings.TrimSpace(ent.Type) == "" {
			return fmt.Errorf("entity %q has an empty type", ent.Name)
		}
	}
	for i, rel := range res.Relationships {
		if strings.TrimSpace(rel.Source) == "" || strings.TrimSpace(rel.Target) == "" {
			return fmt.Errorf("relationship %d is missing an endpoint", i)
		}
	}
	return nil
}

func toMentions(res *extractResponse, chunkID string) ([]common.EntityMention, []common.RelationshipMention) {
	mentions := make([]common.EntityMention, 0, len(res.Entities))
	for _, ent := range res.Entities {
		mentions = append(mentions, common.EntityMention{
			ChunkID:     chunkID,
			Name:        strings.TrimSpace(ent.Name),
			Type:        strings.TrimSpace(ent.Type),
			Description: strings.TrimSpace(ent.Description),
			Confidence:  clamp01(ent.Confidence),
		})
	}

	relations := make([]common.RelationshipMention, 0, len(res.Relationships))
	for _, rel := range res.Relationships {
		relType := strings.TrimSpace(rel.RelType)
		if relType == "" {
			relType = "RELATED_TO"
		}
		relations = append(relations, common.RelationshipMention{
			ChunkID:     chunkID,
			Source:      strings.TrimSpace(rel.Source),
			Target:      strings.TrimSpace(rel.Target),
			RelType:     relType,
			Description: strings.TrimSpace(rel.Description),
			Strength:    clamp01(rel.Strength),
		})
	}

	return mentions, relations
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
