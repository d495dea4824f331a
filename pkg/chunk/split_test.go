package chunk

import (
	"reflect"
	"strings"
	"testing"
)

func TestSplitIntoSentences(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "empty input",
			text: "",
			want: []string(nil),
		},
		{
			name: "single sentence",
			text: "Hello world.",
			want: []string{"Hello world."},
		},
		{
			name: "multiple sentences",
			text: "Hello world. This is a test! How are you?",
			want: []string{
				"Hello world.",
				"This is a test!",
				"How are you?",
			},
		},
		{
			name: "sentences with empty lines",
			text: "First sentence.\n\nSecond sentence.\n\nThird sentence.",
			want: []string{
				"First sentence.",
				"Second sentence.",
				"Third sentence.",
			},
		},
		{
			name: "multi-line sentence",
			text: "This is a long\nsentence that spans\nmultiple lines.",
			want: []string{"This is a long sentence that spans multiple lines."},
		},
		{
			name: "markdown table as single sentence",
			text: "Header1 | Header2\n------- | -------\nValue1  | Value2\nValue3  | Value4",
			want: []string{
				"Header1 | Header2\n------- | -------\nValue1  | Value2\nValue3  | Value4",
			},
		},
		{
			name: "text with table",
			text: "Introduction text.\nHeader1 | Header2\n------- | -------\nValue1  | Value2\nConclusion text.",
			want: []string{
				"Introduction text.",
				"Header1 | Header2\n------- | -------\nValue1  | Value2",
				"Conclusion text.",
			},
		},
		{
			name: "table without delimiter",
			text: "Header1 | Header2\nValue1  | Value2",
			want: []string{
				"Header1 | Header2",
				"Value1  | Value2",
			},
		},
		{
			name: "text with no punctuation",
			text: "Just some text without punctuation\nMore text here",
			want: []string{"Just some text without punctuation More text here"},
		},
		{
			name: "numeric listing should stay in same sentence",
			text: "Today we discuss three points. 1. First item 2. Second item 3. Third item. Done!",
			want: []string{
				"Today we discuss three points.",
				"1. First item 2. Second item 3. Third item.",
				"Done!",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SplitIntoSentences(tt.text)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("SplitIntoSentences() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestSplit_DeterministicIDs(t *testing.T) {
	text := "First sentence about a topic. Second sentence about another topic. Third one closes the paragraph."

	first, err := Split(text, "docs/a.md", "o200k_base", 12)
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	second, err := Split(text, "docs/a.md", "o200k_base", 12)
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}

	if len(first) == 0 {
		t.Fatal("expected at least one chunk")
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("repeated Split() produced different chunks: %#v vs %#v", first, second)
	}
	for i, c := range first {
		if c.Sequence != i {
			t.Errorf("chunk %d has sequence %d", i, c.Sequence)
		}
		if want := "docs/a.md:" + string(rune('0'+i)); c.ID != want {
			t.Errorf("chunk %d has id %q, want %q", i, c.ID, want)
		}
		if c.DocumentID != "docs/a.md" {
			t.Errorf("chunk %d has document id %q", i, c.DocumentID)
		}
	}
}

func TestSplit_RespectsTokenBound(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 40; i++ {
		b.WriteString("This is sentence number one of the synthetic corpus. ")
	}

	chunks, err := Split(b.String(), "doc", "o200k_base", 64)
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i := 1; i < len(chunks); i++ {
		if chunks[i].Start != chunks[i-1].End {
			t.Errorf("chunk %d starts at %d, previous ended at %d", i, chunks[i].Start, chunks[i-1].End)
		}
	}
}

func TestSplit_EmptyText(t *testing.T) {
	chunks, err := Split("   \n  ", "doc", "o200k_base", 64)
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	if len(chunks) != 0 {
		t.Errorf("expected no chunks for blank input, got %d", len(chunks))
	}
}
