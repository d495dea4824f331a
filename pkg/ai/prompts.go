package ai

const ExtractPrompt = `
# Task Context
You are tasked with extracting **structured entity and relationship information** from the provided text passage. The process must capture **all details explicitly present in the text**, without omission.

# Background Data
- **Entity_types:** [%s]
- **Document_name:** [%s]

The document name may contain hints about the primary entity. Use it only if the text itself does not clearly specify an entity.

# Detailed Task Description & Rules

## Entity Extraction
1. Identify all entities of the specified types [%s].
2. For each entity, extract:
   - **name:** The name of the entity, written in **ALL CAPITAL LETTERS**.
   - **type:** One of the provided types.
   - **description:** A comprehensive description of all attributes, roles, activities, events, timelines, or other explicit details in the text. Do **not** omit any explicit information.
   - **confidence:** How certain you are that this is a distinct real-world entity, between 0 and 1.

## Relationship Extraction
1. Identify every pair of extracted entities that are explicitly related in the text.
2. For each relationship, extract:
   - **source:** Name of the source entity, exactly as extracted above.
   - **target:** Name of the target entity, exactly as extracted above.
   - **rel_type:** A short UPPER_SNAKE_CASE label for the relation (e.g. WORKS_AT, LOCATED_IN, DISCOVERED).
   - **description:** Why the source and target are related, grounded in the text.
   - **strength:** A numeric score between 0 and 1 indicating how strongly the text supports the relationship.

# Output Formatting
Return a single JSON object with "entities" and "relationships" arrays matching the provided schema. Output must be valid JSON only (no commentary, no extra text).
`

const RepairSuffix = `

# Previous Attempt Failed
Your previous output could not be parsed against the expected schema:
%s
Return ONLY a corrected JSON object that satisfies the schema.
`

const CondenseDescriptionPrompt = `
# Task Context
You maintain the canonical description of a single knowledge-graph entity. Descriptions accumulate text from many source passages and must stay concise.

# Background Data
Entity: %s (%s)
Accumulated description:
%s

# Immediate Task Description or Request
Rewrite the accumulated description as one coherent description. Preserve every distinct fact; remove repetition and contradictions (keep the better-supported statement). Do not invent information. Answer with the description text only.
`

const CommunityLeafPrompt = `
# Task Context
You write the report for one community of a knowledge graph: a cluster of entities that are densely connected to each other.

# Background Data
## Entities
%s
## Key Relationships
%s

# Immediate Task Description or Request
Write a focused summary of this community: what ties these entities together, the most important entities and their roles, and notable relationships. Base the summary strictly on the data above. Answer with the summary text only, at most %d words.
`

const CommunityParentPrompt = `
# Task Context
You write the report for a higher-level community of a knowledge graph. Its content is described entirely by the reports of its child communities below; you never see the raw source text.

# Background Data
%s

# Immediate Task Description or Request
Write a summary that synthesizes the child reports into one coherent description of the broader theme. Base the summary strictly on the reports above. Answer with the summary text only, at most %d words.
`

const QueryPrompt = `
# Task Context
You answer questions over a knowledge graph built from a document corpus. You are given retrieved evidence and must answer strictly from it.

# Background Data
%s

# Detailed Task Description & Rules
- Answer using ONLY the evidence above. If the evidence does not contain the answer, say so.
- Cite evidence: repeat the [chunk:...] and [community:...] markers of the pieces of evidence you actually used, inline after the statements they support.
- If two pieces of evidence conflict on a cited fact, state the discrepancy explicitly instead of silently picking one.
`

const NoDataPrompt = `
# Task Context
A user asked a question against a knowledge graph, but retrieval found no relevant evidence.

# Background Data
Question: %s

# Immediate Task Description or Request
Tell the user briefly that the indexed corpus contains no information relevant to their question. Do not attempt to answer from general knowledge.
`
