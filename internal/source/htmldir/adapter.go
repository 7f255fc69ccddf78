package htmldir

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/timmy/slidefix/internal/domain"
	"github.com/timmy/slidefix/internal/source"
)

const (
	SourceID   = "htmldir"
	SourceName = "HTML directory"
)

// Adapter reads every .html and .htm file under a directory as one
// document. The document id is the slash-separated path relative to the root.
type Adapter struct {
	root   string
	outDir string
	docs   []domain.Document
	loaded bool
}

// NewAdapter creates an adapter over root. Repaired documents are written
// under outDir with the same relative paths; an empty outDir overwrites the
// originals.
func NewAdapter(root, outDir string) *Adapter {
	if outDir == "" {
		outDir = root
	}
	return &Adapter{root: root, outDir: outDir}
}

// GetSourceID returns the unique identifier for this source
func (a *Adapter) GetSourceID() string {
	return SourceID
}

// GetDisplayName returns a human-readable name for this source
func (a *Adapter) GetDisplayName() string {
	return fmt.Sprintf("%s (%s)", SourceName, a.root)
}

// FetchBatch fetches a batch of documents
func (a *Adapter) FetchBatch(ctx context.Context, cursor string, limit int) ([]domain.Document, string, error) {
	if !a.loaded {
		if err := a.load(ctx); err != nil {
			return nil, "", fmt.Errorf("failed to load documents: %w", err)
		}
		a.loaded = true
	}
	return source.Page(a.docs, cursor, limit)
}

func (a *Adapter) load(ctx context.Context) error {
	if _, err := os.Stat(a.root); err != nil {
		return fmt.Errorf("document directory %s: %w", a.root, err)
	}

	a.docs = []domain.Document{}
	err := filepath.WalkDir(a.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if path != a.root && strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") {
			return nil
		}
		switch strings.ToLower(filepath.Ext(name)) {
		case ".html", ".htm":
		default:
			return nil
		}

		raw, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(a.root, path)
		if err != nil {
			return err
		}
		a.docs = append(a.docs, domain.Document{ID: filepath.ToSlash(rel), HTML: string(raw)})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to walk %s: %w", a.root, err)
	}

	sort.Slice(a.docs, func(i, j int) bool {
		return a.docs[i].ID < a.docs[j].ID
	})
	return nil
}

// WriteDocuments writes each document to its relative path under the
// output directory.
func (a *Adapter) WriteDocuments(ctx context.Context, docs []domain.Document) error {
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return err
		}
		rel := filepath.FromSlash(doc.ID)
		if !filepath.IsLocal(rel) {
			return fmt.Errorf("document id %q escapes the output directory", doc.ID)
		}
		dst := filepath.Join(a.outDir, rel)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", filepath.Dir(dst), err)
		}
		if err := os.WriteFile(dst, []byte(doc.HTML), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", dst, err)
		}
	}
	return nil
}

// GetTotalCount returns the number of documents found.
func (a *Adapter) GetTotalCount(ctx context.Context) (int, error) {
	if !a.loaded {
		if err := a.load(ctx); err != nil {
			return 0, err
		}
		a.loaded = true
	}
	return len(a.docs), nil
}
