package retrieval

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/aihub/knowledge-retrieval/internal/knowledge"
	"github.com/aihub/knowledge-retrieval/internal/resilience"
	"golang.org/x/sync/errgroup"
)

// EngineConfig holds the tunables §6's configuration table assigns to the
// retrieval engine. Zero values fall back to the spec's stated defaults.
type EngineConfig struct {
	DefaultAlpha               float64
	DefaultTopK                int
	RerankBatchCap             int
	MaxConcurrentRequests      int
	MaxConcurrentUpstreamCalls int
}

func (c EngineConfig) withDefaults() EngineConfig {
	if c.DefaultAlpha <= 0 {
		c.DefaultAlpha = 0.5
	}
	if c.DefaultTopK <= 0 {
		c.DefaultTopK = 10
	}
	if c.RerankBatchCap <= 0 {
		c.RerankBatchCap = 50
	}
	if c.MaxConcurrentRequests <= 0 {
		c.MaxConcurrentRequests = 64
	}
	if c.MaxConcurrentUpstreamCalls <= 0 {
		c.MaxConcurrentUpstreamCalls = 8
	}
	return c
}

// Engine is the hybrid retrieval engine (§4.1). It owns no long-lived
// state of its own - the embedder, vector store, sparse index, and
// reranker are all supplied by the Service Registry, which is also what
// owns the circuit breakers keyed "embedding"/"vector_store"/"rerank".
type Engine struct {
	embedder    knowledge.Embedder
	vectorStore knowledge.VectorStore
	sparseIndex knowledge.FulltextIndexer
	reranker    knowledge.Reranker
	validator   KBValidator
	rewriter    QueryRewriter
	breakers    *resilience.BreakerRegistry
	retryOpts   resilience.RetryOptions
	cfg         EngineConfig

	// requestSem bounds in-flight Search calls to cfg.MaxConcurrentRequests
	// (§5); upstreamSem bounds concurrent embedder/vector-store calls a
	// single Search makes to cfg.MaxConcurrentUpstreamCalls. Both are
	// buffered-channel semaphores, acquired with a blocking send and
	// released with a receive.
	requestSem  chan struct{}
	upstreamSem chan struct{}
}

// New builds a retrieval engine. rewriter may be nil, in which case every
// request behaves as if it had no conversation history.
func New(embedder knowledge.Embedder, vectorStore knowledge.VectorStore, sparseIndex knowledge.FulltextIndexer, reranker knowledge.Reranker, validator KBValidator, rewriter QueryRewriter, breakers *resilience.BreakerRegistry, retryOpts resilience.RetryOptions, cfg EngineConfig) *Engine {
	if rewriter == nil {
		rewriter = PassthroughRewriter{}
	}
	cfg = cfg.withDefaults()
	return &Engine{
		embedder:    embedder,
		vectorStore: vectorStore,
		sparseIndex: sparseIndex,
		reranker:    reranker,
		validator:   validator,
		rewriter:    rewriter,
		breakers:    breakers,
		retryOpts:   retryOpts,
		cfg:         cfg,
		requestSem:  make(chan struct{}, cfg.MaxConcurrentRequests),
		upstreamSem: make(chan struct{}, cfg.MaxConcurrentUpstreamCalls),
	}
}

// acquire blocks until a semaphore slot is free or ctx is cancelled.
func acquire(ctx context.Context, sem chan struct{}) error {
	select {
	case sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func release(sem chan struct{}) {
	<-sem
}

// Search implements the full §4.1 algorithm: rewrite, sparse pass, dense
// pass, normalize, fuse, rerank, cross-KB dedup, return top_k.
func (e *Engine) Search(ctx context.Context, req Request) (Response, error) {
	if err := acquire(ctx, e.requestSem); err != nil {
		return Response{}, err
	}
	defer release(e.requestSem)

	if err := e.validateRequest(ctx, req); err != nil {
		return Response{}, err
	}
	topK := req.TopK

	queries := []string{req.Query}
	if req.Options.UseQueryRewrite && req.Options.ConversationID != "" {
		rewritten, err := e.rewriter.Rewrite(ctx, req.Options.ConversationID, req.Query)
		if err == nil && rewritten.Main != "" {
			queries = append([]string{rewritten.Main}, rewritten.Variants...)
		}
	}

	mode, alpha := e.resolveModeAndAlpha(req)

	var sparseHits map[uint]knowledge.SearchMatch
	var sparseErr error
	var denseHits map[uint]knowledge.SearchMatch
	var denseErr error

	var g errgroup.Group
	if mode == ModeSparse || mode == ModeHybrid {
		g.Go(func() error {
			sparseHits, sparseErr = e.sparsePass(ctx, req.KBIDs, queries, topK)
			return nil
		})
	}
	if mode == ModeDense || mode == ModeHybrid {
		g.Go(func() error {
			denseHits, denseErr = e.densePass(ctx, req.KBIDs, queries, topK)
			return nil
		})
	}
	_ = g.Wait()

	degraded := false
	var status string

	denseUnavailable := denseErr != nil
	sparseUnavailable := sparseErr != nil

	switch {
	case mode == ModeHybrid && denseUnavailable && !sparseUnavailable:
		alpha = 0
		degraded = true
		status = "dense unavailable, served sparse-only"
	case mode == ModeHybrid && sparseUnavailable && !denseUnavailable:
		alpha = 1
		degraded = true
		status = "sparse unavailable, served dense-only"
	case mode == ModeDense && denseUnavailable:
		return Response{}, fmt.Errorf("%w: %v", ErrServiceUnavailable, denseErr)
	case mode == ModeSparse && sparseUnavailable:
		return Response{}, fmt.Errorf("%w: %v", ErrServiceUnavailable, sparseErr)
	case mode == ModeHybrid && denseUnavailable && sparseUnavailable:
		return Response{}, fmt.Errorf("%w: dense=%v sparse=%v", ErrServiceUnavailable, denseErr, sparseErr)
	}

	fused := fuse(sparseHits, denseHits, alpha)
	if len(fused) == 0 {
		return Response{Hits: nil, Degraded: degraded, Status: status}, nil
	}

	hits := e.buildHits(sparseHits, denseHits, fused)

	if req.Options.UseRerank && e.reranker != nil && e.reranker.Ready() && !e.breakerOpen("rerank") {
		hits = e.applyRerank(ctx, req.Query, hits, topK)
	}

	hits = dedupCrossKB(hits)
	sortHits(hits)
	if len(hits) > topK {
		hits = hits[:topK]
	}

	return Response{Hits: hits, Degraded: degraded, Status: status}, nil
}

func (e *Engine) validateRequest(ctx context.Context, req Request) error {
	if len(req.KBIDs) == 0 {
		return ErrKBNotFound
	}
	for _, id := range req.KBIDs {
		active, err := e.validator.Active(ctx, id)
		if err != nil || !active {
			return ErrKBNotFound
		}
	}
	qlen := len([]rune(req.Query))
	if qlen < 1 || qlen > 1000 {
		return ErrInvalidQuery
	}
	if req.TopK < 1 || req.TopK > 200 {
		return ErrInvalidTopK
	}
	return nil
}

var (
	quotedPhrase   = regexp.MustCompile(`"[^"]+"`)
	identifierLike = regexp.MustCompile(`\b[A-Za-z0-9]+[-_][A-Za-z0-9]+\b`)
	numericToken   = regexp.MustCompile(`\b\d{3,}\b`)
)

// resolveModeAndAlpha implements the §4.1 "Query-type routing" ambient
// note: when mode is unset, classify the query by exact-match-heavy
// surface features (quoted phrases, identifier-like tokens, long numeric
// tokens) rather than any one language's character classes, and bias
// alpha toward sparse for that request only.
func (e *Engine) resolveModeAndAlpha(req Request) (Mode, float64) {
	mode := req.Options.Mode
	if mode == ModeAuto {
		mode = ModeHybrid
	}

	alpha := req.Options.Alpha
	if alpha <= 0 {
		alpha = e.cfg.DefaultAlpha
		if req.Options.Mode == ModeAuto && looksSparseFavoring(req.Query) {
			alpha = 0.2
		}
	}
	if alpha > 1 {
		alpha = 1
	}
	return mode, alpha
}

func looksSparseFavoring(query string) bool {
	return quotedPhrase.MatchString(query) || identifierLike.MatchString(query) || numericToken.MatchString(query)
}

func (e *Engine) breakerOpen(key string) bool {
	return e.breakers.Get(key).State() == resilience.StateOpen
}

func (e *Engine) sparsePass(ctx context.Context, kbIDs []uint, queries []string, topK int) (map[uint]knowledge.SearchMatch, error) {
	if e.sparseIndex == nil || !e.sparseIndex.Ready() {
		return nil, fmt.Errorf("sparse index not ready")
	}

	var mu sync.Mutex
	out := make(map[uint]knowledge.SearchMatch)
	var g errgroup.Group
	for _, kbID := range kbIDs {
		for _, q := range queries {
			kbID, q := kbID, q
			g.Go(func() error {
				if err := acquire(ctx, e.upstreamSem); err != nil {
					return nil
				}
				defer release(e.upstreamSem)

				matches, err := e.sparseIndex.Search(ctx, knowledge.FulltextSearchRequest{
					KnowledgeBaseID: kbID,
					Query:           q,
					Limit:           topK * 2,
				})
				if err != nil {
					return nil
				}
				mu.Lock()
				for _, m := range matches {
					m.KnowledgeBaseID = kbID
					if existing, ok := out[m.ChunkID]; !ok || m.Score > existing.Score {
						out[m.ChunkID] = m
					}
				}
				mu.Unlock()
				return nil
			})
		}
	}
	_ = g.Wait()
	return out, nil
}

func (e *Engine) densePass(ctx context.Context, kbIDs []uint, queries []string, topK int) (map[uint]knowledge.SearchMatch, error) {
	if e.embedder == nil || !e.embedder.Ready() {
		return nil, fmt.Errorf("embedder not ready")
	}

	if err := acquire(ctx, e.upstreamSem); err != nil {
		return nil, err
	}
	embeddings := make([][]float32, len(queries))
	err := e.breakers.Call("embedding", func() error {
		return resilience.Retry(ctx, e.retryOpts, func() error {
			for i, q := range queries {
				emb, err := e.embedder.Embed(ctx, q)
				if err != nil {
					return err
				}
				embeddings[i] = emb
			}
			return nil
		})
	})
	release(e.upstreamSem)
	if err != nil {
		return nil, err
	}

	if e.vectorStore == nil || !e.vectorStore.Ready() {
		return nil, fmt.Errorf("vector store not ready")
	}

	var mu sync.Mutex
	out := make(map[uint]knowledge.SearchMatch)
	var g errgroup.Group
	for _, emb := range embeddings {
		for _, kbID := range kbIDs {
			emb, kbID := emb, kbID
			g.Go(func() error {
				if err := acquire(ctx, e.upstreamSem); err != nil {
					return nil
				}
				defer release(e.upstreamSem)

				var matches []knowledge.SearchMatch
				callErr := e.breakers.Call("vector_store", func() error {
					return resilience.Retry(ctx, e.retryOpts, func() error {
						m, err := e.vectorStore.Search(ctx, knowledge.VectorSearchRequest{
							KnowledgeBaseID: kbID,
							QueryEmbedding:  emb,
							Limit:           topK * 2,
							CandidateLimit:  topK * 20,
						})
						if err != nil {
							return err
						}
						matches = m
						return nil
					})
				})
				if callErr != nil {
					return nil
				}
				mu.Lock()
				for _, m := range matches {
					m.KnowledgeBaseID = kbID
					if existing, ok := out[m.ChunkID]; !ok || m.Score > existing.Score {
						out[m.ChunkID] = m
					}
				}
				mu.Unlock()
				return nil
			})
		}
	}
	_ = g.Wait()
	return out, nil
}

// fuse normalizes each modality's scores via min-max over its own result
// union, then combines them as fused = alpha*dense_norm + (1-alpha)*sparse_norm.
func fuse(sparse, dense map[uint]knowledge.SearchMatch, alpha float64) map[uint]float64 {
	sparseNorm := minMaxNormalize(sparse)
	denseNorm := minMaxNormalize(dense)

	fused := make(map[uint]float64, len(sparseNorm)+len(denseNorm))
	for id, s := range sparseNorm {
		fused[id] = (1 - alpha) * s
	}
	for id, d := range denseNorm {
		fused[id] += alpha * d
	}
	return fused
}

func minMaxNormalize(matches map[uint]knowledge.SearchMatch) map[uint]float64 {
	if len(matches) == 0 {
		return nil
	}
	min, max := matches[firstKey(matches)].Score, matches[firstKey(matches)].Score
	for _, m := range matches {
		if m.Score < min {
			min = m.Score
		}
		if m.Score > max {
			max = m.Score
		}
	}
	out := make(map[uint]float64, len(matches))
	if max == min {
		for id := range matches {
			out[id] = 1
		}
		return out
	}
	for id, m := range matches {
		out[id] = (m.Score - min) / (max - min)
	}
	return out
}

func firstKey(m map[uint]knowledge.SearchMatch) uint {
	for k := range m {
		return k
	}
	return 0
}

// applyRerank takes the top min(RerankBatchCap, 4*topK) fused candidates,
// feeds them to the cross-encoder in one batch, and replaces their fused
// score with the rerank score (§4.1 step 6). Hits outside the batch cap
// keep their fused score unchanged.
func (e *Engine) applyRerank(ctx context.Context, query string, hits []Hit, topK int) []Hit {
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })

	n := 4 * topK
	if n > e.cfg.RerankBatchCap {
		n = e.cfg.RerankBatchCap
	}
	if n > len(hits) {
		n = len(hits)
	}
	if n < 2 {
		return hits
	}
	candidates := hits[:n]

	docs := make([]knowledge.RerankDocument, len(candidates))
	for i, h := range candidates {
		docs[i] = knowledge.RerankDocument{ID: h.ChunkID, Content: h.Content, Score: h.Score}
	}

	var results []knowledge.RerankResult
	err := e.breakers.Call("rerank", func() error {
		return resilience.Retry(ctx, e.retryOpts, func() error {
			r, err := e.reranker.Rerank(ctx, query, docs)
			if err != nil {
				return err
			}
			results = r
			return nil
		})
	})
	if err != nil || len(results) == 0 {
		return hits
	}
	scoreByID := make(map[uint]float64, len(results))
	for _, r := range results {
		scoreByID[r.Document.ID] = r.Score
	}
	for i := range candidates {
		if s, ok := scoreByID[candidates[i].ChunkID]; ok {
			candidates[i].Score = s
		}
	}
	return hits
}

func (e *Engine) buildHits(sparse, dense map[uint]knowledge.SearchMatch, fused map[uint]float64) []Hit {
	hits := make([]Hit, 0, len(fused))
	for id, score := range fused {
		var src knowledge.SearchMatch
		if d, ok := dense[id]; ok {
			src = d
		} else if s, ok := sparse[id]; ok {
			src = s
		}
		hits = append(hits, Hit{
			ChunkID:         id,
			DocumentID:      src.DocumentID,
			KnowledgeBaseID: src.KnowledgeBaseID,
			ChunkIndex:      src.ChunkIndex,
			Content:         src.Content,
			Score:           score,
		})
	}
	return hits
}

// dedupCrossKB keeps the highest-scoring hit per (doc_id, chunk_index)
// when that's known, falling back to chunk_id alone when a modality
// didn't populate ChunkIndex (§4.1 step 7).
func dedupCrossKB(hits []Hit) []Hit {
	type key struct {
		doc   uint
		index int
	}
	best := make(map[key]Hit)
	order := make([]key, 0, len(hits))
	for _, h := range hits {
		k := key{doc: h.DocumentID, index: h.ChunkIndex}
		if h.ChunkIndex == 0 {
			k = key{doc: 0, index: int(h.ChunkID) * -1}
		}
		if existing, ok := best[k]; !ok || h.Score > existing.Score {
			if !ok {
				order = append(order, k)
			}
			best[k] = h
		}
	}
	out := make([]Hit, 0, len(best))
	for _, k := range order {
		out = append(out, best[k])
	}
	return out
}

func sortHits(hits []Hit) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if hits[i].DocumentID != hits[j].DocumentID {
			return hits[i].DocumentID < hits[j].DocumentID
		}
		return hits[i].ChunkIndex < hits[j].ChunkIndex
	})
}
