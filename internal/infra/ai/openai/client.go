package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/bryanwahyu/fin-analyzer/internal/domain/ai"
	"github.com/bryanwahyu/fin-analyzer/internal/infra/ai/prompt"
)

const defaultMaxTokens = 2048

type Options struct {
	APIKey            string
	BaseURL           string
	Model             string
	MaxTokens         int
	RequestsPerMinute float64
	Burst             int
	MaxDocumentChars  int
}

// Client runs analyses through the chat completions API, paced by a token bucket.
type Client struct {
	*openai.Client
	Model            string
	MaxTokens        int
	MaxDocumentChars int

	limiter *rate.Limiter
}

func NewClient(opts Options) *Client {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}

	var limiter *rate.Limiter
	if opts.RequestsPerMinute > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerMinute/60), burst)
	}

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &Client{
		Client:           openai.NewClientWithConfig(cfg),
		Model:            opts.Model,
		MaxTokens:        maxTokens,
		MaxDocumentChars: opts.MaxDocumentChars,
		limiter:          limiter,
	}
}

func (c *Client) Analyze(ctx context.Context, in ai.Request) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limiter: %w", err)
		}
	}

	model := c.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	req := openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt.System(in)},
			{Role: openai.ChatMessageRoleUser, Content: prompt.User(in, c.MaxDocumentChars)},
		},
	}
	// For reasoning models (o1/o3/o4/gpt-5*) use MaxCompletionTokens instead of MaxTokens
	if isReasoningModel(model) {
		req.MaxCompletionTokens = c.MaxTokens
	} else {
		req.MaxTokens = c.MaxTokens
	}

	resp, err := c.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", ai.ErrEmptyCompletion
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", ai.ErrEmptyCompletion
	}
	return text, nil
}

func isReasoningModel(model string) bool {
	for _, p := range []string{"o1", "o3", "o4", "gpt-5"} {
		if strings.HasPrefix(model, p) {
			return true
		}
	}
	return false
}

// classify maps provider quota errors onto ai.ErrQuotaExceeded.
func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.Code == "insufficient_quota" {
			return fmt.Errorf("%w: %s", ai.ErrQuotaExceeded, apiErr.Message)
		}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %v", ai.ErrQuotaExceeded, reqErr.Err)
	}
	return fmt.Errorf("failed to create chat completion: %w", err)
}
