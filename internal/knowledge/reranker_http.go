package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

// HTTPReranker calls an OpenAI-compatible rerank endpoint
// (POST {base_url}/rerank, {"model","query","documents"} ->
// {"results":[{"index","relevance_score"}]}), the shape shared by every
// hosted reranker in this family of APIs.
type HTTPReranker struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
	limiter sync.Mutex
}

// NewHTTPReranker builds a reranker against baseURL. An empty apiKey or
// baseURL yields a NoopReranker instead, the same not-ready-instead-of-
// erroring rule NewOpenAIEmbedder and NewOpenAIProvider follow.
func NewHTTPReranker(baseURL, apiKey, model string) Reranker {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	apiKey = strings.TrimSpace(apiKey)
	if baseURL == "" || apiKey == "" {
		return &NoopReranker{}
	}
	if model == "" {
		model = "rerank-v1"
	}
	return &HTTPReranker{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{Timeout: 20 * time.Second},
	}
}

type rerankHTTPRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type rerankHTTPResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

func (r *HTTPReranker) Rerank(ctx context.Context, query string, documents []RerankDocument) ([]RerankResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("query cannot be empty")
	}
	if len(documents) == 0 {
		return nil, errors.New("documents cannot be empty")
	}

	contents := make([]string, len(documents))
	for i, d := range documents {
		contents[i] = d.Content
	}

	body, err := json.Marshal(rerankHTTPRequest{Model: r.model, Query: query, Documents: contents})
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.apiKey)

	r.limiter.Lock()
	resp, err := r.client.Do(req)
	r.limiter.Unlock()
	if err != nil {
		return nil, fmt.Errorf("rerank request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read rerank response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rerank endpoint returned HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed rerankHTTPResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("parse rerank response: %w", err)
	}
	if len(parsed.Results) == 0 {
		return nil, errors.New("rerank response empty")
	}

	scores := make(map[int]float64, len(parsed.Results))
	for _, res := range parsed.Results {
		scores[res.Index] = res.RelevanceScore
	}

	results := make([]RerankResult, len(documents))
	for i, doc := range documents {
		results[i] = RerankResult{Document: doc, Score: scores[i]}
	}
	sortRerankResultsDesc(results)
	for i := range results {
		results[i].Rank = i + 1
	}
	return results, nil
}

func (r *HTTPReranker) Ready() bool {
	return r != nil && r.client != nil && r.apiKey != ""
}

func sortRerankResultsDesc(results []RerankResult) {
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
}
