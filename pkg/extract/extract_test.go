package extract

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/OFFIS-RIT/forge/pkg/ai"
	"github.com/OFFIS-RIT/forge/pkg/common"
)

// fakeClient replays queued structured responses and records the prompts it
// was called with.
type fakeClient struct {
	responses []string
	errs      []error
	prompts   []string
	calls     int
}

func (f *fakeClient) GenerateCompletion(ctx context.Context, prompt string, opts ...ai.GenerateOption) (string, error) {
	return "", errors.New("not used")
}

func (f *fakeClient) GenerateCompletionWithFormat(ctx context.Context, name, description, prompt string, out any, opts ...ai.GenerateOption) error {
	i := f.calls
	f.calls++
	f.prompts = append(f.prompts, prompt)

	if i < len(f.errs) && f.errs[i] != nil {
		return f.errs[i]
	}
	if i >= len(f.responses) {
		return errors.New("no response queued")
	}
	return json.Unmarshal([]byte(f.responses[i]), out)
}

func (f *fakeClient) ResetMetrics() {}

func (f *fakeClient) GetMetrics() ai.ModelMetrics { return ai.ModelMetrics{} }

const validResponse = `{
	"entities": [
		{"name": "MARIE CURIE", "type": "PERSON", "description": "Physicist and chemist.", "confidence": 0.95},
		{"name": "SORBONNE", "type": "ORGANIZATION", "description": "University in Paris.", "confidence": 1.4}
	],
	"relationships": [
		{"source": "MARIE CURIE", "target": "SORBONNE", "rel_type": "", "description": "Taught there.", "strength": -0.2}
	]
}`

func TestExtract_FirstAttempt(t *testing.T) {
	client := &fakeClient{responses: []string{validResponse}}
	e := NewExtractor(NewExtractorParams{Client: client})

	mentions, relations, err := e.Extract(context.Background(), common.Chunk{ID: "doc:0", Text: "some text"})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if client.calls != 1 {
		t.Fatalf("expected 1 call, got %d", client.calls)
	}
	if len(mentions) != 2 || len(relations) != 1 {
		t.Fatalf("got %d mentions, %d relations", len(mentions), len(relations))
	}

	if mentions[0].ChunkID != "doc:0" {
		t.Errorf("mention carries chunk id %q", mentions[0].ChunkID)
	}
	if mentions[1].Confidence != 1 {
		t.Errorf("confidence not clamped to 1: %v", mentions[1].Confidence)
	}
	if relations[0].Strength != 0 {
		t.Errorf("strength not clamped to 0: %v", relations[0].Strength)
	}
	if relations[0].RelType != "RELATED_TO" {
		t.Errorf("empty rel_type not defaulted: %q", relations[0].RelType)
	}
}

func TestExtract_RepairThenSuccess(t *testing.T) {
	client := &fakeClient{
		responses: []string{`{"entities": [{"name": "", "type": "PERSON"}], "relationships": []}`, validResponse},
	}
	e := NewExtractor(NewExtractorParams{Client: client})

	mentions, _, err := e.Extract(context.Background(), common.Chunk{ID: "doc:1", Text: "some text"})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if client.calls != 2 {
		t.Fatalf("expected 2 calls, got %d", client.calls)
	}
	if len(mentions) != 2 {
		t.Fatalf("got %d mentions", len(mentions))
	}
	if !strings.Contains(client.prompts[1], "Previous Attempt Failed") {
		t.Error("repair prompt does not carry the failure section")
	}
	if !strings.Contains(client.prompts[1], "empty name") {
		t.Error("repair prompt does not carry the parse error")
	}
}

func TestExtract_QuarantineAfterRepairs(t *testing.T) {
	bad := `{"entities": [{"name": "X"}], "relationships": [{"source": "", "target": "Y"}]}`
	client := &fakeClient{responses: []string{bad, bad, bad}}
	e := NewExtractor(NewExtractorParams{Client: client})

	_, _, err := e.Extract(context.Background(), common.Chunk{ID: "doc:2", Text: "some text"})
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected *ParseError, got %v", err)
	}
	if client.calls != 3 {
		t.Fatalf("expected 3 calls (1 + 2 repairs), got %d", client.calls)
	}
	if parseErr.ChunkID != "doc:2" {
		t.Errorf("parse error names chunk %q", parseErr.ChunkID)
	}
	if parseErr.Attempts != 3 {
		t.Errorf("parse error reports %d attempts", parseErr.Attempts)
	}
}

func TestExtract_BackendErrorsPassThrough(t *testing.T) {
	for _, sentinel := range []error{ai.ErrModelUnavailable, ai.ErrTimeout, context.Canceled} {
		client := &fakeClient{errs: []error{sentinel}}
		e := NewExtractor(NewExtractorParams{Client: client})

		_, _, err := e.Extract(context.Background(), common.Chunk{ID: "doc:3", Text: "some text"})
		if !errors.Is(err, sentinel) {
			t.Errorf("expected %v to pass through, got %v", sentinel, err)
		}
		if client.calls != 1 {
			t.Errorf("expected no repair attempt for %v, got %d calls", sentinel, client.calls)
		}
	}
}
