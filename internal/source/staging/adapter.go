package staging

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/timmy/slidefix/internal/domain"
	"github.com/timmy/slidefix/internal/source"
)

const (
	// ManifestFileName is the JSONL manifest file name in staging sources.
	ManifestFileName = "manifest.jsonl"
	// OutputFileName receives the repaired documents, one JSON object per line.
	OutputFileName = "processed.jsonl"
	// SlidesDir holds HTML files referenced by manifest entries without inline html.
	SlidesDir = "slides"
)

// ManifestItem is one line of manifest.jsonl.
type ManifestItem struct {
	ID       string `json:"id"`
	Title    string `json:"title,omitempty"`
	HTML     string `json:"html,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// Adapter implements the Source interface for a staging directory laid out
// as <basePath>/<sourceID>/manifest.jsonl.
type Adapter struct {
	basePath string
	sourceID string
	docs     []domain.Document
	loaded   bool
}

// NewAdapter creates a new staging adapter.
// Parameters:
//   - basePath: base path to the staging directory.
//   - sourceID: identifier for the staging source.
// Returns:
//   - *Adapter: initialized staging adapter.
func NewAdapter(basePath, sourceID string) *Adapter {
	return &Adapter{
		basePath: basePath,
		sourceID: sourceID,
	}
}

// GetSourceID returns the source identifier with a "staging:" prefix.
func (a *Adapter) GetSourceID() string {
	return "staging:" + a.sourceID
}

// GetDisplayName returns a human-readable name for this source.
func (a *Adapter) GetDisplayName() string {
	return fmt.Sprintf("Staging (%s)", a.sourceID)
}

// FetchBatch fetches a batch of documents from the manifest.
// Parameters:
//   - ctx: context for cancellation (unused for local reads).
//   - cursor: pagination cursor as an index string.
//   - limit: maximum number of documents to fetch.
// Returns:
//   - []domain.Document: batch of documents.
//   - string: next cursor or empty if no more documents.
//   - error: non-nil if loading fails or the cursor is invalid.
func (a *Adapter) FetchBatch(ctx context.Context, cursor string, limit int) ([]domain.Document, string, error) {
	if !a.loaded {
		if err := a.load(); err != nil {
			return nil, "", fmt.Errorf("failed to load staging documents: %w", err)
		}
		a.loaded = true
	}
	return source.Page(a.docs, cursor, limit)
}

func (a *Adapter) dir() string {
	return filepath.Join(a.basePath, a.sourceID)
}

// load reads the manifest. Malformed lines, lines without an id and entries
// whose file is missing are skipped.
func (a *Adapter) load() error {
	manifestPath := filepath.Join(a.dir(), ManifestFileName)
	file, err := os.Open(manifestPath)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("manifest file not found: %s", manifestPath)
	}
	if err != nil {
		return fmt.Errorf("failed to open manifest: %w", err)
	}
	defer file.Close()

	a.docs = []domain.Document{}
	seen := make(map[string]struct{})

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var item ManifestItem
		if err := json.Unmarshal([]byte(line), &item); err != nil || item.ID == "" {
			continue
		}
		if _, dup := seen[item.ID]; dup {
			continue
		}

		html := item.HTML
		if html == "" && item.Filename != "" {
			raw, err := os.ReadFile(filepath.Join(a.dir(), SlidesDir, filepath.Base(item.Filename)))
			if err != nil {
				continue
			}
			html = string(raw)
		}
		seen[item.ID] = struct{}{}
		a.docs = append(a.docs, domain.Document{ID: item.ID, HTML: html})
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading manifest: %w", err)
	}

	sort.Slice(a.docs, func(i, j int) bool {
		return a.docs[i].ID < a.docs[j].ID
	})
	return nil
}

// WriteDocuments writes docs to processed.jsonl next to the manifest,
// replacing any previous output.
func (a *Adapter) WriteDocuments(ctx context.Context, docs []domain.Document) error {
	outPath := filepath.Join(a.dir(), OutputFileName)
	tmp := outPath + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create output: %w", err)
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for _, doc := range docs {
		if err := enc.Encode(ManifestItem{ID: doc.ID, HTML: doc.HTML}); err != nil {
			f.Close()
			return fmt.Errorf("failed to encode %s: %w", doc.ID, err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("failed to write output: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return os.Rename(tmp, outPath)
}

// ListStagingSources lists all available staging sources.
// Parameters:
//   - basePath: base path to the staging directory.
// Returns:
//   - []string: list of staging source IDs.
//   - error: non-nil if reading the directory fails.
func ListStagingSources(basePath string) ([]string, error) {
	entries, err := os.ReadDir(basePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, err
	}

	var sources []string
	for _, entry := range entries {
		if entry.IsDir() {
			manifestPath := filepath.Join(basePath, entry.Name(), ManifestFileName)
			if _, err := os.Stat(manifestPath); err == nil {
				sources = append(sources, entry.Name())
			}
		}
	}

	return sources, nil
}
