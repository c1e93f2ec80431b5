package bm25

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSource struct {
	chunks map[uint][]Chunk
	calls  int
}

func (s *stubSource) ActiveChunks(ctx context.Context, kbID uint) ([]Chunk, error) {
	s.calls++
	return s.chunks[kbID], nil
}

func TestManager_GetOrBuildFromSourceWhenNoDiskFile(t *testing.T) {
	dir := t.TempDir()
	source := &stubSource{chunks: map[uint][]Chunk{
		1: {{ChunkID: 1, Content: "hello from the repository"}},
	}}
	m := NewManager(dir, time.Hour, source)

	idx, err := m.GetOrBuild(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, idx.N())
	assert.Equal(t, 1, source.calls)
}

func TestManager_UpsertSearchDelete(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir, time.Hour, nil)
	ctx := context.Background()

	require.NoError(t, m.Upsert(ctx, 1, []Chunk{
		{ChunkID: 1, Content: "quarterly revenue report"},
	}))

	results, err := m.Search(ctx, 1, "quarterly revenue", 5)
	require.NoError(t, err)
	assert.Len(t, results, 1)

	require.NoError(t, m.Delete(ctx, 1, []uint{1}))
	results, err = m.Search(ctx, 1, "quarterly revenue", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestManager_FlushPersistsAndClearsDirty(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir, time.Hour, nil)
	ctx := context.Background()

	require.NoError(t, m.Upsert(ctx, 5, []Chunk{{ChunkID: 1, Content: "flush me"}}))
	require.NoError(t, m.Flush(5))

	_, err := Load(filepath.Join(dir, "5.idx"))
	require.NoError(t, err)

	idx, err := m.GetOrBuild(ctx, 5)
	require.NoError(t, err)
	assert.False(t, idx.Dirty())
}

func TestManager_RebuildAllLoadsEveryKB(t *testing.T) {
	dir := t.TempDir()
	source := &stubSource{chunks: map[uint][]Chunk{
		1: {{ChunkID: 1, Content: "a"}},
		2: {{ChunkID: 2, Content: "b"}},
	}}
	m := NewManager(dir, time.Hour, source)

	require.NoError(t, m.RebuildAll(context.Background(), []uint{1, 2}))
	assert.Equal(t, 2, source.calls)
}
