package llm

import (
	"context"
	"errors"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider wraps the OpenAI chat completion API behind the Provider
// interface, mirroring the client construction in
// internal/knowledge.OpenAIEmbedder (same api-key-empty-means-not-ready rule).
type OpenAIProvider struct {
	client       *openai.Client
	defaultModel string
}

// NewOpenAIProvider builds a provider. An empty apiKey yields a provider
// that reports Ready()==false rather than erroring at construction time -
// the failover manager is expected to skip it.
func NewOpenAIProvider(apiKey, baseURL, defaultModel string) *OpenAIProvider {
	apiKey = strings.TrimSpace(apiKey)
	if defaultModel == "" {
		defaultModel = "gpt-4o-mini"
	}
	if apiKey == "" {
		return &OpenAIProvider{defaultModel: defaultModel}
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIProvider{
		client:       openai.NewClientWithConfig(cfg),
		defaultModel: defaultModel,
	}
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) Ready() bool { return p.client != nil }

func (p *OpenAIProvider) ChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if p.client == nil {
		return nil, errors.New("openai client not configured")
	}

	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	apiReq := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: float32(req.Temperature),
	}
	if req.JSONMode {
		apiReq.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}

	resp, err := p.client.CreateChatCompletion(ctx, apiReq)
	if err != nil {
		if isRetryableOpenAIError(err) {
			return nil, &RetryableError{Provider: p.Name(), Err: err}
		}
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, &RetryableError{Provider: p.Name(), Err: errors.New("empty choices")}
	}

	return &ChatResponse{
		Content:           resp.Choices[0].Message.Content,
		Provider:           p.Name(),
		Model:              resp.Model,
		PromptTokens:       resp.Usage.PromptTokens,
		CompletionTokens:   resp.Usage.CompletionTokens,
	}, nil
}

// isRetryableOpenAIError treats rate limits, timeouts, and 5xx as
// transient; anything else (bad request, invalid model, auth failure) is
// permanent and should fail the request rather than burn a retry budget.
func isRetryableOpenAIError(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusTooManyRequests, http.StatusInternalServerError,
			http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		return false
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode >= 500
	}
	return errors.Is(err, context.DeadlineExceeded)
}
