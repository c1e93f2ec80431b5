package rewrite

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aihub/knowledge-retrieval/internal/llm"
	"github.com/aihub/knowledge-retrieval/internal/logger"
	"github.com/aihub/knowledge-retrieval/internal/resilience"
	"github.com/aihub/knowledge-retrieval/internal/retrieval"
	"go.uber.org/zap"
)

// ChatCompleter is the slice of internal/llm.Manager the rewriter needs.
// Kept as a small interface so tests don't have to stand up real
// providers and breakers.
type ChatCompleter interface {
	ChatCompletion(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, resilience.DegradedResponse, error)
}

// Rewriter implements retrieval.QueryRewriter (§4.3): with conversation
// history present, it asks an LLM to resolve pronouns/references in the
// latest query and propose a few alternative phrasings; without history,
// or on any failure, it degrades silently to the original query.
type Rewriter struct {
	store           SessionStore
	chat            ChatCompleter
	model           string
	maxVariations   int
	enableExpansion bool
	// minConfidence below which a rewrite is discarded in favor of the
	// original query, even though the LLM call itself succeeded.
	minConfidence float64
}

// NewRewriter builds a Rewriter. chat may be nil, in which case every
// call degrades to passthrough (equivalent to EnableExpansion=false).
func NewRewriter(store SessionStore, chat ChatCompleter, model string, maxVariations int, enableExpansion bool) *Rewriter {
	if maxVariations <= 0 {
		maxVariations = 2
	}
	return &Rewriter{
		store:           store,
		chat:            chat,
		model:           model,
		maxVariations:   maxVariations,
		enableExpansion: enableExpansion,
		minConfidence:   0.3,
	}
}

func (r *Rewriter) Rewrite(ctx context.Context, conversationID, query string) (retrieval.RewriteResult, error) {
	passthrough := retrieval.RewriteResult{Main: query}

	history, err := r.store.History(ctx, conversationID)
	r.appendTurn(ctx, conversationID, query)

	if err != nil || len(history) == 0 || !r.enableExpansion || r.chat == nil {
		return passthrough, nil
	}

	result, err := r.rewriteWithLLM(ctx, history, query)
	if err != nil {
		logger.Warn("query rewrite degraded to passthrough", zap.String("conversation_id", conversationID), zap.Error(err))
		return passthrough, nil
	}
	return result, nil
}

func (r *Rewriter) appendTurn(ctx context.Context, conversationID, query string) {
	if err := r.store.Append(ctx, conversationID, Turn{Content: query, At: time.Now()}); err != nil {
		logger.Warn("failed to append rewrite session turn", zap.String("conversation_id", conversationID), zap.Error(err))
	}
}

type rewriteJSON struct {
	Rewritten  string   `json:"rewritten"`
	Variants   []string `json:"variants"`
	Confidence float64  `json:"confidence"`
}

func (r *Rewriter) rewriteWithLLM(ctx context.Context, history []Turn, query string) (retrieval.RewriteResult, error) {
	prompt := buildRewritePrompt(history, query, r.maxVariations)

	resp, _, err := r.chat.ChatCompletion(ctx, llm.ChatRequest{
		Model: r.model,
		Messages: []llm.ChatMessage{
			{Role: "system", Content: "You rewrite search queries using conversation context. Respond with strict JSON only."},
			{Role: "user", Content: prompt},
		},
		MaxTokens:   300,
		Temperature: 0,
		JSONMode:    true,
	})
	if err != nil {
		return retrieval.RewriteResult{}, fmt.Errorf("chat completion: %w", err)
	}

	var parsed rewriteJSON
	if err := json.Unmarshal([]byte(resp.Content), &parsed); err != nil {
		return retrieval.RewriteResult{}, fmt.Errorf("parse rewrite response: %w", err)
	}
	if parsed.Rewritten == "" || parsed.Confidence < r.minConfidence {
		return retrieval.RewriteResult{Main: query}, nil
	}

	rewritten := parsed.Rewritten
	if len([]rune(rewritten)) > 512 {
		rewritten = string([]rune(rewritten)[:512])
	}

	variants := dedupVariants(rewritten, parsed.Variants)
	if len(variants) > r.maxVariations {
		variants = variants[:r.maxVariations]
	}
	return retrieval.RewriteResult{Main: rewritten, Variants: variants}, nil
}

// dedupVariants drops any variant identical to rewritten or near-identical
// to it (normalized edit-distance similarity >= 0.95), per §4.3's
// enforcement step.
func dedupVariants(rewritten string, variants []string) []string {
	out := make([]string, 0, len(variants))
	seen := map[string]struct{}{rewritten: {}}
	for _, v := range variants {
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		if normalizedSimilarity(rewritten, v) >= 0.95 {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// normalizedSimilarity returns 1 - (levenshtein distance / max rune length),
// so 1.0 means identical and 0.0 means maximally different.
func normalizedSimilarity(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	maxLen := len(ra)
	if len(rb) > maxLen {
		maxLen = len(rb)
	}
	if maxLen == 0 {
		return 1
	}
	dist := levenshtein(ra, rb)
	return 1 - float64(dist)/float64(maxLen)
}

func levenshtein(a, b []rune) int {
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := curr[j-1] + 1
			sub := prev[j-1] + cost
			min := del
			if ins < min {
				min = ins
			}
			if sub < min {
				min = sub
			}
			curr[j] = min
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func buildRewritePrompt(history []Turn, query string, maxVariations int) string {
	var b strings.Builder
	b.WriteString("Conversation history (oldest first):\n")
	for _, t := range history {
		b.WriteString("- ")
		b.WriteString(t.Content)
		b.WriteString("\n")
	}
	b.WriteString("\nLatest query: ")
	b.WriteString(query)
	b.WriteString(fmt.Sprintf(
		"\n\nResolve any pronouns or implicit references in the latest query using the history, "+
			"so it can stand alone. Then propose up to %d alternative phrasings that preserve the "+
			"same meaning. Respond with exactly this JSON shape: "+
			`{"rewritten": "...", "variants": ["...", "..."], "confidence": 0.0}`+
			" where confidence is your certainty the rewrite is correct, from 0 to 1.", maxVariations))
	return b.String()
}
