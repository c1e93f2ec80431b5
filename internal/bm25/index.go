package bm25

import (
	"math"
	"sort"
	"sync"
)

const (
	bm25K1 = 1.5
	bm25B  = 0.75
)

// posting is one (chunk, term-frequency) pair in a term's posting list.
type posting struct {
	chunkID uint
	tf      int
}

// docEntry tracks the token length of each indexed chunk, needed both for
// avgdl maintenance and the BM25 length-normalization term, plus the
// owning document id so a whole document's chunks can be found for delete.
type docEntry struct {
	length     int
	documentID uint
}

// Index is one knowledge base's Okapi BM25 sparse index: term -> posting
// list, corpus doc count, average document length, and per-document length.
// All mutation goes through Upsert/Delete so N/avgdl/df stay consistent;
// Search only reads. Index guards its own fields with an internal RWMutex;
// Manager additionally wraps each KB's index in a per-KB RWMutex.
type Index struct {
	mu       sync.RWMutex
	postings map[string][]posting
	docs     map[uint]docEntry
	totalLen int
	dirty    bool
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{
		postings: make(map[string][]posting),
		docs:     make(map[uint]docEntry),
	}
}

// N is the number of indexed chunks (documents, in BM25 terms).
func (idx *Index) N() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.docs)
}

func (idx *Index) avgdl() float64 {
	if len(idx.docs) == 0 {
		return 0
	}
	return float64(idx.totalLen) / float64(len(idx.docs))
}

// Dirty reports whether the index has unflushed mutations.
func (idx *Index) Dirty() bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.dirty
}

func (idx *Index) markClean() {
	idx.mu.Lock()
	idx.dirty = false
	idx.mu.Unlock()
}

// Chunk is the unit Upsert indexes: an id, its owning document, and the
// text to tokenize.
type Chunk struct {
	ChunkID    uint
	DocumentID uint
	Content    string
}

// ChunksOfDocument returns every currently-indexed chunk id belonging to
// documentID, for document-level removal.
func (idx *Index) ChunksOfDocument(documentID uint) []uint {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	var ids []uint
	for chunkID, entry := range idx.docs {
		if entry.documentID == documentID {
			ids = append(ids, chunkID)
		}
	}
	return ids
}

// ChunkIDs returns every chunk id currently indexed, for reconciliation
// against the repository's own chunk set.
func (idx *Index) ChunkIDs() []uint {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	ids := make([]uint, 0, len(idx.docs))
	for chunkID := range idx.docs {
		ids = append(ids, chunkID)
	}
	return ids
}

// Upsert adds or replaces postings for the given chunks as one atomic
// batch under the write lock (§4.2 "commits must be atomic at the
// chunks-list granularity").
func (idx *Index) Upsert(chunks []Chunk) {
	if len(chunks) == 0 {
		return
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()

	for _, c := range chunks {
		idx.removeLocked(c.ChunkID)
		terms := Tokenize(c.Content)
		idx.docs[c.ChunkID] = docEntry{length: len(terms), documentID: c.DocumentID}
		idx.totalLen += len(terms)

		tf := make(map[string]int, len(terms))
		for _, t := range terms {
			tf[t]++
		}
		for term, freq := range tf {
			idx.postings[term] = append(idx.postings[term], posting{chunkID: c.ChunkID, tf: freq})
		}
	}
	idx.dirty = true
}

// Delete removes chunkIDs from the index as one atomic batch.
func (idx *Index) Delete(chunkIDs []uint) {
	if len(chunkIDs) == 0 {
		return
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, id := range chunkIDs {
		idx.removeLocked(id)
	}
	idx.dirty = true
}

// removeLocked removes a single chunk's postings and doc entry. Caller
// holds idx.mu for writing.
func (idx *Index) removeLocked(chunkID uint) {
	entry, ok := idx.docs[chunkID]
	if !ok {
		return
	}
	idx.totalLen -= entry.length
	delete(idx.docs, chunkID)

	for term, list := range idx.postings {
		filtered := list[:0]
		for _, p := range list {
			if p.chunkID != chunkID {
				filtered = append(filtered, p)
			}
		}
		if len(filtered) == 0 {
			delete(idx.postings, term)
		} else {
			idx.postings[term] = filtered
		}
	}
}

// Result is one scored hit from Search.
type Result struct {
	ChunkID uint
	Score   float64
}

// Search scores every document containing at least one query term with
// Okapi BM25 (k1=1.5, b=0.75) and returns the top k by score, ties broken
// by chunk id for determinism.
func (idx *Index) Search(query string, k int) []Result {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if len(idx.docs) == 0 {
		return nil
	}
	terms := Tokenize(query)
	if len(terms) == 0 {
		return nil
	}

	n := float64(len(idx.docs))
	avgdl := idx.avgdl()
	scores := make(map[uint]float64)

	seen := make(map[string]bool, len(terms))
	for _, term := range terms {
		if seen[term] {
			continue
		}
		seen[term] = true

		list := idx.postings[term]
		if len(list) == 0 {
			continue
		}
		df := float64(len(list))
		idf := idfOf(n, df)

		for _, p := range list {
			doc := idx.docs[p.chunkID]
			tf := float64(p.tf)
			denom := tf + bm25K1*(1-bm25B+bm25B*float64(doc.length)/avgdlOrOne(avgdl))
			scores[p.chunkID] += idf * (tf * (bm25K1 + 1) / denom)
		}
	}

	results := make([]Result, 0, len(scores))
	for id, score := range scores {
		results = append(results, Result{ChunkID: id, Score: score})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score == results[j].Score {
			return results[i].ChunkID < results[j].ChunkID
		}
		return results[i].Score > results[j].Score
	})
	if k > 0 && len(results) > k {
		results = results[:k]
	}
	return results
}

func avgdlOrOne(avgdl float64) float64 {
	if avgdl == 0 {
		return 1
	}
	return avgdl
}

// idfOf is the standard Okapi BM25 inverse document frequency term.
func idfOf(n, df float64) float64 {
	v := (n-df+0.5)/(df+0.5) + 1
	if v <= 0 {
		return 0
	}
	return math.Log(v)
}
