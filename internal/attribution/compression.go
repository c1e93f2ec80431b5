package attribution

import (
	"context"
	"sort"
	"strings"

	"github.com/aihub/knowledge-retrieval/internal/knowledge"
	"github.com/aihub/knowledge-retrieval/internal/resilience"
	"github.com/aihub/knowledge-retrieval/internal/retrieval"
)

const sentenceRelevanceThreshold = 0.35

// Compressor implements §4.4's compression step: extractive sentence
// selection under a per-request token budget.
type Compressor struct {
	embedder  knowledge.Embedder
	breakers  *resilience.BreakerRegistry
	retryOpts resilience.RetryOptions
	tokens    TokenCounter
}

func NewCompressor(embedder knowledge.Embedder, breakers *resilience.BreakerRegistry, retryOpts resilience.RetryOptions, tokens TokenCounter) *Compressor {
	if tokens == nil {
		tokens = LocalTokenCounter{}
	}
	return &Compressor{embedder: embedder, breakers: breakers, retryOpts: retryOpts, tokens: tokens}
}

// Compress greedily takes hits in descending score order, extracting per
// hit the sentences most similar to query up to maxTokens/k each, and
// stops once the next hit would exceed the overall budget.
func (c *Compressor) Compress(ctx context.Context, query string, hits []retrieval.Hit, maxTokens int) CompressionResult {
	if len(hits) == 0 || maxTokens <= 0 {
		return CompressionResult{}
	}
	ordered := make([]retrieval.Hit, len(hits))
	copy(ordered, hits)
	sortHitsByScoreDesc(ordered)

	perHitCap := maxTokens / len(ordered)
	if perHitCap < 1 {
		perHitCap = 1
	}

	degraded := c.embedder == nil || !c.embedder.Ready() || c.breakerOpen()

	var queryEmbedding []float32
	if !degraded {
		err := c.breakers.Call("embedding", func() error {
			return resilience.Retry(ctx, c.retryOpts, func() error {
				emb, err := c.embedder.Embed(ctx, query)
				if err != nil {
					return err
				}
				queryEmbedding = emb
				return nil
			})
		})
		if err != nil {
			degraded = true
		}
	}

	var excerpts []Excerpt
	var originalTotal, compressedTotal int

	for _, h := range ordered {
		originalTokens, _ := c.tokens.CountTokens(ctx, h.Content)
		originalTotal += originalTokens

		var text string
		if degraded {
			text = truncateToTokenBudget(h.Content, perHitCap, c.tokens, ctx)
		} else {
			text = c.extractSentences(ctx, queryEmbedding, h.Content, perHitCap)
		}
		compressedTokens, _ := c.tokens.CountTokens(ctx, text)

		if compressedTotal+compressedTokens > maxTokens && len(excerpts) > 0 {
			break
		}

		excerpts = append(excerpts, Excerpt{
			ChunkID:          h.ChunkID,
			DocumentID:       h.DocumentID,
			ChunkIndex:       h.ChunkIndex,
			Text:             text,
			OriginalTokens:   originalTokens,
			CompressedTokens: compressedTokens,
		})
		compressedTotal += compressedTokens
	}

	return CompressionResult{
		Excerpts:         excerpts,
		OriginalTokens:   originalTotal,
		CompressedTokens: compressedTotal,
		Degraded:         degraded,
	}
}

func (c *Compressor) extractSentences(ctx context.Context, queryEmbedding []float32, content string, tokenCap int) string {
	sentences := splitSentences(content)
	if len(sentences) == 0 {
		return truncateToTokenBudget(content, tokenCap, c.tokens, ctx)
	}

	var kept []string
	used := 0
	for _, s := range sentences {
		emb, err := c.embedder.Embed(ctx, s)
		if err != nil {
			continue
		}
		if cosineSimilarity(queryEmbedding, emb) <= sentenceRelevanceThreshold {
			continue
		}
		n, _ := c.tokens.CountTokens(ctx, s)
		if used+n > tokenCap && len(kept) > 0 {
			break
		}
		kept = append(kept, s)
		used += n
	}
	if len(kept) == 0 {
		return truncateToTokenBudget(content, tokenCap, c.tokens, ctx)
	}
	return strings.Join(kept, " ")
}

func (c *Compressor) breakerOpen() bool {
	return c.breakers.Get("embedding").State() == resilience.StateOpen
}

// truncateToTokenBudget is the fallback path, grounded on
// services/context_assembler.go's smartTruncate: trim to an estimated
// rune length for the token budget, then back off to the nearest
// preceding sentence/word boundary rather than cutting mid-word.
func truncateToTokenBudget(content string, tokenCap int, counter TokenCounter, ctx context.Context) string {
	total, _ := counter.CountTokens(ctx, content)
	if total <= tokenCap || total == 0 {
		return content
	}
	runes := []rune(content)
	targetLen := int(float64(len(runes)) * float64(tokenCap) / float64(total))
	if targetLen >= len(runes) {
		return content
	}
	if targetLen <= 0 {
		targetLen = 1
	}
	for i := targetLen; i > 0 && i > targetLen-20; i-- {
		r := runes[i-1]
		if r == ' ' || r == '\n' || r == '。' || r == '，' || r == '.' || r == ',' {
			return string(runes[:i])
		}
	}
	return string(runes[:targetLen])
}

func sortHitsByScoreDesc(hits []retrieval.Hit) {
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
}
