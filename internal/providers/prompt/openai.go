package prompt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"archivision/internal/domain"
)

const (
	openAIProviderName   = "openai"
	openAIDefaultTimeout = 60 * time.Second
	defaultOpenAIModel   = openai.GPT4
)

// Generator turns a system + user instruction pair into a design prompt.
type Generator interface {
	GenerateDesignPrompt(ctx context.Context, systemInstruction, userInstruction string) (string, error)
}

type OpenAIOptions struct {
	APIKey       string
	Model        string
	BaseURL      string
	Organization string
	HTTPClient   *http.Client
	Logger       *zerolog.Logger
}

// OpenAIGenerator calls the chat-completions endpoint exactly once per
// GenerateDesignPrompt call. It never retries and never falls back.
type OpenAIGenerator struct {
	client *openai.Client
	model  string
	logger zerolog.Logger
}

func NewOpenAIGenerator(opts OpenAIOptions) (*OpenAIGenerator, error) {
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		return nil, domain.NewFailure(domain.KindConfiguration, openAIProviderName, "missing_api_key", errors.New("openai api key is required"))
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"); baseURL != "" {
		cfg.BaseURL = baseURL
	}
	cfg.OrgID = strings.TrimSpace(opts.Organization)
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: openAIDefaultTimeout}
	}
	cfg.HTTPClient = client

	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = defaultOpenAIModel
	}
	logger := zerolog.New(io.Discard)
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &OpenAIGenerator{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		logger: logger,
	}, nil
}

// Model returns the configured chat model.
func (o *OpenAIGenerator) Model() string {
	return o.model
}

func (o *OpenAIGenerator) GenerateDesignPrompt(ctx context.Context, systemInstruction, userInstruction string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemInstruction},
			{Role: openai.ChatMessageRoleUser, Content: userInstruction},
		},
	}
	start := time.Now()
	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		reason := classifyOpenAIError(err)
		o.logger.Warn().Err(err).Str("model", o.model).Str("reason", reason).Msg("openai: chat completion failed")
		return "", domain.NewFailure(domain.KindGeneration, openAIProviderName, reason, err)
	}
	if len(resp.Choices) == 0 {
		return "", o.emptyCompletion(resp.ID, "empty_choices", errors.New("no choices"))
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", o.emptyCompletion(resp.ID, "empty_response", errors.New("empty response"))
	}
	o.logger.Debug().
		Str("model", o.model).
		Str("completion_id", resp.ID).
		Int("total_tokens", resp.Usage.TotalTokens).
		Dur("elapsed", time.Since(start)).
		Msg("openai: design prompt generated")
	return text, nil
}

func (o *OpenAIGenerator) emptyCompletion(id, reason string, err error) error {
	o.logger.Warn().Err(err).Str("model", o.model).Str("completion_id", id).Str("reason", reason).Msg("openai: chat completion failed")
	return domain.NewFailure(domain.KindGeneration, openAIProviderName, reason, err)
}

var _ Generator = (*OpenAIGenerator)(nil)

func classifyOpenAIError(err error) string {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return fmt.Sprintf("http_%d", apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return fmt.Sprintf("http_%d", reqErr.HTTPStatusCode)
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	}
	return "http_request"
}
