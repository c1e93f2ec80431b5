package bm25

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ChunkSource lets the manager rebuild a KB's index from the repository
// when no usable persisted file exists. Kept as a small interface here
// instead of importing the repository package, so bm25 has no dependency
// on GORM/Postgres - only the Service Registry wires the two together.
type ChunkSource interface {
	ActiveChunks(ctx context.Context, kbID uint) ([]Chunk, error)
}

// kbIndex pairs one KB's index with the RWMutex that guards it, per §4.2
// "a per-KB read-write lock guards the index".
type kbIndex struct {
	mu  sync.RWMutex
	idx *Index
}

// Manager owns one Index per active knowledge base, persists them to disk,
// and flushes dirty indexes periodically. It implements the same shape as
// internal/knowledge.FulltextIndexer's methods (IndexChunk/RemoveDocument/
// Search/Ready) via the adapter in fulltext_adapter.go, so the hybrid
// retrieval engine can use either a BM25 manager or any other fulltext
// backend interchangeably.
type Manager struct {
	persistDir     string
	flushInterval  time.Duration
	source         ChunkSource

	mu   sync.RWMutex
	kbs  map[uint]*kbIndex

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewManager creates a manager backed by persistDir, flushing dirty
// indexes every flushInterval (default 60s per §4.2).
func NewManager(persistDir string, flushInterval time.Duration, source ChunkSource) *Manager {
	if flushInterval <= 0 {
		flushInterval = 60 * time.Second
	}
	return &Manager{
		persistDir:    persistDir,
		flushInterval: flushInterval,
		source:        source,
		kbs:           make(map[uint]*kbIndex),
		stopCh:        make(chan struct{}),
	}
}

func (m *Manager) path(kbID uint) string {
	return filepath.Join(m.persistDir, fmt.Sprintf("%d.idx", kbID))
}

// GetOrBuild returns the KB's index, building it from disk or, failing
// that, from the repository via ChunkSource (§4.2 "get_or_build").
func (m *Manager) GetOrBuild(ctx context.Context, kbID uint) (*Index, error) {
	m.mu.RLock()
	entry, ok := m.kbs[kbID]
	m.mu.RUnlock()
	if ok {
		entry.mu.RLock()
		idx := entry.idx
		entry.mu.RUnlock()
		return idx, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.kbs[kbID]; ok {
		entry.mu.RLock()
		idx := entry.idx
		entry.mu.RUnlock()
		return idx, nil
	}

	idx, err := m.loadOrBuild(ctx, kbID)
	if err != nil {
		return nil, err
	}
	m.kbs[kbID] = &kbIndex{idx: idx}
	return idx, nil
}

func (m *Manager) loadOrBuild(ctx context.Context, kbID uint) (*Index, error) {
	// A missing, version-mismatched or unreadable file all fall back to a
	// rebuild from the repository.
	idx, err := Load(m.path(kbID))
	if err == nil {
		return idx, nil
	}
	return m.buildFromSource(ctx, kbID)
}

func (m *Manager) buildFromSource(ctx context.Context, kbID uint) (*Index, error) {
	idx := NewIndex()
	if m.source == nil {
		return idx, nil
	}
	chunks, err := m.source.ActiveChunks(ctx, kbID)
	if err != nil {
		return nil, fmt.Errorf("bm25: rebuild kb %d: %w", kbID, err)
	}
	idx.Upsert(chunks)
	return idx, nil
}

// entryFor returns the per-KB lock+index pair. On the first reference to
// kbID it goes through GetOrBuild, so the index is loaded from disk or
// built from the repository before it is returned.
func (m *Manager) entryFor(ctx context.Context, kbID uint) (*kbIndex, error) {
	m.mu.RLock()
	entry, ok := m.kbs[kbID]
	m.mu.RUnlock()
	if ok {
		return entry, nil
	}

	if _, err := m.GetOrBuild(ctx, kbID); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.kbs[kbID], nil
}

// Upsert adds or replaces postings for chunks in kb_id, batched atomically.
func (m *Manager) Upsert(ctx context.Context, kbID uint, chunks []Chunk) error {
	entry, err := m.entryFor(ctx, kbID)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.idx.Upsert(chunks)
	return nil
}

// Delete removes chunkIDs from kb_id's index.
func (m *Manager) Delete(ctx context.Context, kbID uint, chunkIDs []uint) error {
	entry, err := m.entryFor(ctx, kbID)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.idx.Delete(chunkIDs)
	return nil
}

// ChunkIDs returns every chunk id currently indexed for kb_id, for
// reconciliation against the repository's own chunk set.
func (m *Manager) ChunkIDs(ctx context.Context, kbID uint) ([]uint, error) {
	entry, err := m.entryFor(ctx, kbID)
	if err != nil {
		return nil, err
	}
	entry.mu.RLock()
	defer entry.mu.RUnlock()
	return entry.idx.ChunkIDs(), nil
}

// Search scores query against kb_id's index and returns the top k hits.
func (m *Manager) Search(ctx context.Context, kbID uint, query string, k int) ([]Result, error) {
	entry, err := m.entryFor(ctx, kbID)
	if err != nil {
		return nil, err
	}
	entry.mu.RLock()
	defer entry.mu.RUnlock()
	return entry.idx.Search(query, k), nil
}

// Flush persists kb_id's index to disk if dirty, clearing the dirty flag
// on success.
func (m *Manager) Flush(kbID uint) error {
	m.mu.RLock()
	entry, ok := m.kbs[kbID]
	m.mu.RUnlock()
	if !ok {
		return nil
	}

	entry.mu.RLock()
	idx := entry.idx
	entry.mu.RUnlock()

	if !idx.Dirty() {
		return nil
	}
	if err := os.MkdirAll(m.persistDir, 0o755); err != nil {
		return err
	}
	if err := Save(idx, m.path(kbID)); err != nil {
		return err
	}
	idx.markClean()
	return nil
}

// FlushAll flushes every dirty index currently loaded.
func (m *Manager) FlushAll() error {
	m.mu.RLock()
	ids := make([]uint, 0, len(m.kbs))
	for id := range m.kbs {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	var firstErr error
	for _, id := range ids {
		if err := m.Flush(id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// RebuildAll walks kbIDs (every active KB) and loads each from disk if the
// persisted file's version matches the current tokenizer version, else
// rebuilds from the repository (§4.2 "rebuild_all", called at startup).
func (m *Manager) RebuildAll(ctx context.Context, kbIDs []uint) error {
	for _, id := range kbIDs {
		if _, err := m.GetOrBuild(ctx, id); err != nil {
			return fmt.Errorf("bm25: rebuild_all kb %d: %w", id, err)
		}
	}
	return nil
}

// StartFlushLoop runs the periodic dirty-index flush until ctx is done or
// Stop is called (§4.2 "On shutdown and every T=60s, dirty indexes are
// flushed").
func (m *Manager) StartFlushLoop(ctx context.Context) {
	ticker := time.NewTicker(m.flushInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				_ = m.FlushAll()
				return
			case <-m.stopCh:
				_ = m.FlushAll()
				return
			case <-ticker.C:
				_ = m.FlushAll()
			}
		}
	}()
}

// Stop signals StartFlushLoop's goroutine to do a final flush and exit.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}
