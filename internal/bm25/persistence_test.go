package bm25

import (
	"bufio"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveLoad_RoundTrip(t *testing.T) {
	idx := NewIndex()
	idx.Upsert([]Chunk{
		{ChunkID: 7, Content: "specific-rare-token appears only here"},
		{ChunkID: 8, Content: "completely unrelated content"},
	})

	path := filepath.Join(t.TempDir(), "kb.idx")
	require.NoError(t, Save(idx, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, idx.N(), loaded.N())
	assert.False(t, loaded.Dirty())

	results := loaded.Search("specific-rare-token", 10)
	require.Len(t, results, 1)
	assert.Equal(t, uint(7), results[0].ChunkID)
	assert.Greater(t, results[0].Score, 0.0)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.idx"))
	assert.Error(t, err)
}

func TestLoad_VersionMismatchForcesRebuildSignal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stale.idx")

	f, err := os.Create(path)
	require.NoError(t, err)
	w := bufio.NewWriter(f)
	require.NoError(t, writeHeader(w, header{
		Magic:            fileMagic,
		FormatVersion:    formatVersion,
		TokenizerVersion: uint32(TokenizerVersion) + 1,
		N:                0,
		TotalLen:         0,
	}))
	require.NoError(t, writeUint32(w, 0))
	require.NoError(t, writeUint32(w, 0))
	require.NoError(t, w.Flush())
	require.NoError(t, f.Close())

	_, err = Load(path)
	assert.ErrorIs(t, err, ErrVersionMismatch)
}
