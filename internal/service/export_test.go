package service

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/slidefix/internal/domain"
	"github.com/timmy/slidefix/internal/storage"
)

type memObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	err     error
}

func (m *memObjects) Put(ctx context.Context, key string, body []byte, contentType string) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.objects == nil {
		m.objects = make(map[string][]byte)
		m.types = make(map[string]string)
	}
	m.objects[key] = append([]byte(nil), body...)
	m.types[key] = contentType
	return nil
}

func (m *memObjects) List(ctx context.Context, prefix string) ([]storage.Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.Object
	for k, b := range m.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, storage.Object{Key: k, Size: int64(len(b))})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *memObjects) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *memObjects) URL(key string) string { return "mem://" + key }

type fixedSnapshot struct {
	snap *domain.CacheSnapshot
	err  error
}

func (f fixedSnapshot) Snapshot(ctx context.Context) (*domain.CacheSnapshot, error) {
	return f.snap, f.err
}

type archiveKeys map[string]string

func (a archiveKeys) SetArchiveKey(ctx context.Context, id, key string) error {
	a[id] = key
	return nil
}

func TestExportCache(t *testing.T) {
	snap := &domain.CacheSnapshot{
		ExportedAt: time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC),
		Topics:     []domain.TopicMapping{{TopicHash: "abc", NormalizedText: "solar farm"}},
		Entries:    []domain.CacheEntry{{TopicHash: "abc", ImageID: "img-1", Valid: true}},
	}
	objects := &memObjects{}
	e := NewExporter(objects, fixedSnapshot{snap: snap}, nil, "exports", nil)

	key, err := e.ExportCache(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "exports/cache/20260304T050607Z.json", key)
	assert.Equal(t, "application/json", objects.types[key])

	var got domain.CacheSnapshot
	require.NoError(t, json.Unmarshal(objects.objects[key], &got))
	assert.Equal(t, "solar farm", got.Topics[0].NormalizedText)
	assert.Equal(t, "img-1", got.Entries[0].ImageID)
}

func TestExportCache_Errors(t *testing.T) {
	_, err := NewExporter(nil, fixedSnapshot{}, nil, "", nil).ExportCache(context.Background())
	assert.ErrorIs(t, err, ErrNoObjectStorage)

	_, err = NewExporter(&memObjects{}, fixedSnapshot{err: domain.ErrStorageUnavailable}, nil, "", nil).ExportCache(context.Background())
	assert.ErrorIs(t, err, domain.ErrStorageUnavailable)

	boom := errors.New("bucket gone")
	_, err = NewExporter(&memObjects{err: boom}, fixedSnapshot{snap: &domain.CacheSnapshot{}}, nil, "", nil).ExportCache(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestArchiveReport(t *testing.T) {
	objects := &memObjects{}
	keys := archiveKeys{}
	e := NewExporter(objects, nil, keys, "slidefix", nil)
	e.now = func() time.Time { return time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC) }

	report := &domain.Report{RunID: "run-1", TotalDocuments: 2, Replaced: 3}
	key, err := e.ArchiveReport(context.Background(), report.RunID, report)
	require.NoError(t, err)

	assert.Equal(t, "slidefix/reports/2026/10/17/run-1.json", key)
	assert.Equal(t, key, keys["run-1"])
	var got domain.Report
	require.NoError(t, json.Unmarshal(objects.objects[key], &got))
	assert.Equal(t, 3, got.Replaced)
}

func TestPruneExports(t *testing.T) {
	objects := &memObjects{}
	for _, k := range []string{
		"exports/cache/20260101T000000Z.json",
		"exports/cache/20260201T000000Z.json",
		"exports/cache/20260301T000000Z.json",
		"exports/reports/2026/03/01/run-1.json",
	} {
		require.NoError(t, objects.Put(context.Background(), k, []byte("{}"), "application/json"))
	}
	e := NewExporter(objects, nil, nil, "exports", nil)

	listed, err := e.ListExports(context.Background())
	require.NoError(t, err)
	require.Len(t, listed, 3)
	assert.Equal(t, "exports/cache/20260101T000000Z.json", listed[0].Key)

	deleted, err := e.PruneExports(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	left, err := e.ListExports(context.Background())
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "exports/cache/20260301T000000Z.json", left[0].Key)
	assert.Contains(t, objects.objects, "exports/reports/2026/03/01/run-1.json")

	deleted, err = e.PruneExports(context.Background(), 5)
	require.NoError(t, err)
	assert.Zero(t, deleted)
	assert.Equal(t, "mem://exports/cache/20260301T000000Z.json", e.URL(left[0].Key))
}
