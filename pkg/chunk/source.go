package chunk

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/OFFIS-RIT/forge/pkg/common"
)

// Source produces a lazy, finite, restartable sequence of chunks. Calling
// Chunks again restarts the sequence from the beginning and yields chunks
// with identical ids, so a source can be re-read after a failed run.
type Source interface {
	Chunks(ctx context.Context, fn func(common.Chunk) error) error
}

// FileSource reads plain-text and markdown documents from a directory tree
// and splits them into token-bounded chunks. Chunk ids are deterministic
// (document id + sequence), which keeps the sequence restartable.
type FileSource struct {
	root      string
	encoder   string
	maxTokens int
}

// NewFileSourceParams configures a FileSource. Encoder names a tiktoken
// encoding ("o200k_base" by default); MaxTokens bounds the token count per
// chunk (default 512).
type NewFileSourceParams struct {
	Root      string
	Encoder   string
	MaxTokens int
}

var textExtensions = []string{".txt", ".text", ".md", ".markdown"}

// NewFileSource creates a FileSource rooted at params.Root.
func NewFileSource(params NewFileSourceParams) *FileSource {
	encoder := params.Encoder
	if encoder == "" {
		encoder = "o200k_base"
	}
	maxTokens := params.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 512
	}
	return &FileSource{
		root:      params.Root,
		encoder:   encoder,
		maxTokens: maxTokens,
	}
}

// Chunks walks the directory tree in lexical order and yields the chunks of
// every supported document. The walk stops early when fn or ctx reports an
// error.
func (s *FileSource) Chunks(ctx context.Context, fn func(common.Chunk) error) error {
	return filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if !slices.Contains(textExtensions, ext) {
			return nil
		}

		text, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}

		docID, err := filepath.Rel(s.root, path)
		if err != nil {
			docID = path
		}
		docID = filepath.ToSlash(docID)

		chunks, err := Split(string(text), docID, s.encoder, s.maxTokens)
		if err != nil {
			return fmt.Errorf("failed to chunk %s: %w", path, err)
		}
		for _, c := range chunks {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err := fn(c); err != nil {
				return err
			}
		}
		return nil
	})
}
