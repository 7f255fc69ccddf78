package source

import (
	"context"
	"fmt"
	"strconv"

	"github.com/timmy/slidefix/internal/domain"
)

// Source defines the interface for document sources.
type Source interface {
	// GetSourceID returns the unique identifier for this source.
	// Parameters: none.
	// Returns:
	//   - string: stable source identifier.
	GetSourceID() string

	// GetDisplayName returns a human-readable name for this source.
	GetDisplayName() string

	// FetchBatch fetches a batch of documents starting from the given cursor.
	// Parameters:
	//   - ctx: context for cancellation and deadlines.
	//   - cursor: pagination cursor or empty for first page.
	//   - limit: maximum number of documents to fetch.
	// Returns:
	//   - docs: batch of documents.
	//   - nextCursor: cursor for the next batch or empty if done.
	//   - err: non-nil if fetching fails.
	FetchBatch(ctx context.Context, cursor string, limit int) (docs []domain.Document, nextCursor string, err error)
}

// Sink accepts repaired documents.
type Sink interface {
	WriteDocuments(ctx context.Context, docs []domain.Document) error
}

// Page slices items at an index cursor, the pagination every local source uses.
func Page(items []domain.Document, cursor string, limit int) ([]domain.Document, string, error) {
	start := 0
	if cursor != "" {
		var err error
		start, err = strconv.Atoi(cursor)
		if err != nil || start < 0 {
			return nil, "", fmt.Errorf("invalid cursor %q", cursor)
		}
	}
	if start >= len(items) {
		return []domain.Document{}, "", nil
	}
	if limit <= 0 {
		limit = len(items)
	}

	end := min(start+limit, len(items))
	next := ""
	if end < len(items) {
		next = strconv.Itoa(end)
	}
	return items[start:end], next, nil
}

// FetchAll drains src, batchSize documents at a time, stopping after max
// documents when max is positive.
func FetchAll(ctx context.Context, src Source, batchSize, max int) ([]domain.Document, error) {
	var all []domain.Document
	cursor := ""
	for {
		if err := ctx.Err(); err != nil {
			return all, err
		}
		limit := batchSize
		if max > 0 && max-len(all) < limit {
			limit = max - len(all)
		}
		docs, next, err := src.FetchBatch(ctx, cursor, limit)
		if err != nil {
			return all, fmt.Errorf("fetch from %s: %w", src.GetSourceID(), err)
		}
		all = append(all, docs...)
		if next == "" || len(docs) == 0 || (max > 0 && len(all) >= max) {
			return all, nil
		}
		cursor = next
	}
}
