package attribution

import (
	"context"
	"sort"

	"github.com/aihub/knowledge-retrieval/internal/bm25"
	"github.com/aihub/knowledge-retrieval/internal/knowledge"
	"github.com/aihub/knowledge-retrieval/internal/resilience"
	"github.com/aihub/knowledge-retrieval/internal/retrieval"
)

const relevanceThreshold = 0.4

// Attributor implements §4.4's attribution step: given a query, a
// candidate answer, and retrieval hits, it assigns each hit a relevance
// score and a short citation, then an overall confidence.
type Attributor struct {
	embedder  knowledge.Embedder
	breakers  *resilience.BreakerRegistry
	retryOpts resilience.RetryOptions
}

func NewAttributor(embedder knowledge.Embedder, breakers *resilience.BreakerRegistry, retryOpts resilience.RetryOptions) *Attributor {
	return &Attributor{embedder: embedder, breakers: breakers, retryOpts: retryOpts}
}

// Attribute scores each hit. If the embedding service is unavailable
// (not ready, or its breaker is open), it degrades to relevance=hit.Score
// and confidence=0, per §4.4's required degradation behavior - citation
// extraction itself is purely lexical and keeps working regardless.
func (a *Attributor) Attribute(ctx context.Context, query, answer string, hits []retrieval.Hit) Result {
	sentences := splitSentences(answer)
	if len(sentences) == 0 && answer != "" {
		sentences = []string{answer}
	}

	refs := make([]SourceReference, len(hits))
	for i, h := range hits {
		refs[i] = SourceReference{
			ChunkID:         h.ChunkID,
			DocumentID:      h.DocumentID,
			KnowledgeBaseID: h.KnowledgeBaseID,
			ChunkIndex:      h.ChunkIndex,
			Citation:        bestCitation(answer, h.Content),
		}
	}

	if a.embedder == nil || !a.embedder.Ready() || a.breakerOpen() || len(sentences) == 0 {
		for i, h := range hits {
			refs[i].Relevance = h.Score
		}
		return Result{References: refs, Confidence: 0, Degraded: true}
	}

	texts := make([]string, 0, len(sentences)+len(hits))
	texts = append(texts, sentences...)
	for _, h := range hits {
		texts = append(texts, h.Content)
	}

	embeddings := make([][]float32, len(texts))
	err := a.breakers.Call("embedding", func() error {
		return resilience.Retry(ctx, a.retryOpts, func() error {
			for i, t := range texts {
				emb, err := a.embedder.Embed(ctx, t)
				if err != nil {
					return err
				}
				embeddings[i] = emb
			}
			return nil
		})
	})
	if err != nil {
		for i, h := range hits {
			refs[i].Relevance = h.Score
		}
		return Result{References: refs, Confidence: 0, Degraded: true}
	}

	sentenceEmbeddings := embeddings[:len(sentences)]
	contentEmbeddings := embeddings[len(sentences):]

	var relevanceSum float64
	var scored int
	for i := range hits {
		best := 0.0
		for _, se := range sentenceEmbeddings {
			if sim := cosineSimilarity(se, contentEmbeddings[i]); sim > best {
				best = sim
			}
		}
		refs[i].Relevance = best
		if best > relevanceThreshold {
			relevanceSum += best
			scored++
		}
	}

	confidence := 0.0
	if scored > 0 {
		confidence = relevanceSum / float64(scored)
	}
	return Result{References: refs, Confidence: confidence}
}

func (a *Attributor) breakerOpen() bool {
	return a.breakers.Get("embedding").State() == resilience.StateOpen
}

// bestCitation finds the sentence within content whose token overlap
// with answer is highest, using the same tokenizer the sparse index
// uses - word/bigram overlap, not embeddings, so citation extraction
// works even when the embedding service is down.
func bestCitation(answer, content string) string {
	sentences := splitSentences(content)
	if len(sentences) == 0 {
		return truncateRunes(content, 200)
	}
	answerTokens := tokenSet(answer)
	if len(answerTokens) == 0 {
		return sentences[0]
	}

	type scored struct {
		sentence string
		overlap  int
	}
	candidates := make([]scored, len(sentences))
	for i, s := range sentences {
		overlap := 0
		for t := range tokenSet(s) {
			if _, ok := answerTokens[t]; ok {
				overlap++
			}
		}
		candidates[i] = scored{sentence: s, overlap: overlap}
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].overlap > candidates[j].overlap })
	if candidates[0].overlap == 0 {
		return truncateRunes(sentences[0], 200)
	}
	return candidates[0].sentence
}

func tokenSet(text string) map[string]struct{} {
	tokens := bm25.Tokenize(text)
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
