package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ContentProvider hands the pipeline a file's bytes by id. The pipeline
// never touches the filesystem directly, so tests and the CLI can feed it
// from wherever the content actually lives.
type ContentProvider interface {
	Read(ctx context.Context, id string) ([]byte, error)
}

// FSProvider reads content from a directory tree. Ids are slash-separated
// paths relative to the root; anything escaping the root is rejected.
type FSProvider struct {
	root string
}

// NewFSProvider creates a provider rooted at dir.
func NewFSProvider(dir string) *FSProvider {
	return &FSProvider{root: dir}
}

func (p *FSProvider) Read(ctx context.Context, id string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	clean := filepath.Clean(filepath.FromSlash(id))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || filepath.IsAbs(clean) {
		return nil, fmt.Errorf("invalid file id %q: escapes provider root", id)
	}

	data, err := os.ReadFile(filepath.Join(p.root, clean))
	if err != nil {
		return nil, fmt.Errorf("failed to read %q: %w", id, err)
	}
	return data, nil
}

// MapProvider serves content from memory. Used by tests and by callers that
// already hold the bytes.
type MapProvider map[string][]byte

func (p MapProvider) Read(ctx context.Context, id string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, ok := p[id]
	if !ok {
		return nil, fmt.Errorf("no content for file id %q", id)
	}
	return data, nil
}
